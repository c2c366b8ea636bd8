package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/stridesync/internal/testutil"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSink(t *testing.T) *Sink {
	t.Helper()
	s := New(testutil.NewTestLogger(t))
	require.NoError(t, s.Connect(context.Background(), sink.Config{Type: "sqlite", DSN: ":memory:"}))
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		params Params
		want   string
	}{
		{"memory skips journal mode", ":memory:", Params{BusyTimeoutMS: 100, JournalMode: "wal"}, ":memory:?_pragma=busy_timeout(100)"},
		{"file", "data/transit.db", Params{BusyTimeoutMS: 5000, JournalMode: "wal"}, "data/transit.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{"no pragmas", "x.db", Params{}, "x.db"},
		{"existing query", "x.db?cache=shared", Params{BusyTimeoutMS: 1}, "x.db?cache=shared&_pragma=busy_timeout(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildDSN(tt.path, tt.params))
		})
	}
}

func TestSink_UpsertIsIdempotent(t *testing.T) {
	s := setupTestSink(t)
	ctx := context.Background()
	synced := time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)

	stops := []core.Row{
		core.Stop{ID: 1, Code: 100, Name: "תחנה מרכזית חדרה", City: "חדרה", Lat: 32.4, Lon: 34.9}.Row("2025-03-01", synced),
		core.Stop{ID: 2, Code: 101, Name: "אתא הצעירה", City: "קרית אתא", Lat: 32.8, Lon: 35.1}.Row("2025-03-01", synced),
	}

	require.NoError(t, s.Upsert(ctx, core.TableStops, stops, core.StopConflictKey))
	first, err := s.Count(ctx, core.TableStops)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, core.TableStops, stops, core.StopConflictKey))
	second, err := s.Count(ctx, core.TableStops)
	require.NoError(t, err)

	assert.Equal(t, int64(2), first)
	assert.Equal(t, first, second, "re-applying a batch must not add rows")

	renamed := core.Stop{ID: 1, Code: 100, Name: "חדרה מרכז", City: "חדרה"}.Row("2025-03-01", synced)
	require.NoError(t, s.Upsert(ctx, core.TableStops, []core.Row{renamed}, core.StopConflictKey))

	rows, err := s.Select(ctx, core.TableStops, []string{"name"}, sink.Eq("code", int64(100)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "חדרה מרכז", rows[0]["name"])
}

func TestSink_DeleteBeforeCutoff(t *testing.T) {
	s := setupTestSink(t)
	ctx := context.Background()
	synced := time.Now()

	var rows []core.Row
	for i, date := range []core.Partition{"2025-02-21", "2025-02-22", "2025-02-23"} {
		rows = append(rows, core.Route{ID: int64(i + 1), RouteShortName: "1"}.Row(date, synced))
	}
	require.NoError(t, s.Upsert(ctx, core.TableRoutes, rows, core.RouteConflictKey))

	n, err := s.Delete(ctx, core.TableRoutes, sink.Lt("date", "2025-02-22"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.Count(ctx, core.TableRoutes)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)
}

func TestSink_ConnectCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "transit.db")

	s := New(nil)
	require.NoError(t, s.Connect(context.Background(), sink.Config{Type: "sqlite", DSN: path}))
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))

	assert.FileExists(t, path)
	assert.Equal(t, "sqlite", s.Name())
}

func TestSink_RejectsUnknownParams(t *testing.T) {
	s := New(nil)
	err := s.Connect(context.Background(), sink.Config{DSN: ":memory:", Params: map[string]any{"journal": "wal"}})
	assert.ErrorContains(t, err, "invalid sink params")
}
