// Package relevance builds the city to stop relevance index.
//
// The index links every city seen in the day's stops to the stops that are
// either in that city or carry a variant of its name. A build replaces the
// whole partition: the old rows are deleted before the new ones are inserted.
package relevance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bluele/gcache"

	"github.com/leapstack-labs/stridesync/internal/writer"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// DefaultProgressEvery is how many cities pass between progress lines.
const DefaultProgressEvery = 50

// Builder rebuilds one relevance partition.
type Builder struct {
	sink   sink.Sink
	writer *writer.Writer
	logger *slog.Logger

	ProgressEvery int
	// CacheSize bounds the normalized stop-name memo.
	CacheSize int
}

// NewBuilder creates a Builder that writes through w.
func NewBuilder(s sink.Sink, w *writer.Writer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		sink:          s,
		writer:        w,
		logger:        logger,
		ProgressEvery: DefaultProgressEvery,
		CacheSize:     50000,
	}
}

// Relation is one row of the relevance index.
type Relation struct {
	City   string
	StopID int64
	Match  Match
}

// Row converts the relation to its persisted form.
func (r Relation) Row(p core.Partition) core.Row {
	var matched any
	if r.Match.MatchedText != "" {
		matched = r.Match.MatchedText
	}
	return core.Row{
		"city":           r.City,
		"stop_id":        r.StopID,
		"relevance_type": r.Match.Kind.String(),
		"confidence":     r.Match.Confidence(),
		"matched_text":   matched,
		"date":           string(p),
	}
}

// Build loads the partition's stops, classifies every (stop, city) pair and
// replaces the partition in the relevance table.
func (b *Builder) Build(ctx context.Context, p core.Partition) core.StageResult {
	start := time.Now()
	logger := b.logger.With(slog.String("date", p.String()))

	stops, err := b.LoadStops(ctx, p)
	if err != nil {
		logger.Error("failed to load stops", slog.String("error", err.Error()))
		return core.Partial(0, fmt.Sprintf("stop set unavailable: %v", err))
	}
	if len(stops) == 0 {
		logger.Warn("no stops persisted for partition, relevance index left untouched")
		return core.Partial(0, "no stops persisted for partition")
	}

	cities := Cities(stops)
	logger.Info("building relevance index",
		slog.Int("cities", len(cities)),
		slog.Int("stops", len(stops)))

	relations := b.Relations(stops, cities)
	logger.Info("relations computed", slog.Int("relations", len(relations)))

	deleted, err := b.sink.Delete(ctx, core.TableRelevance, sink.Eq("date", p.String()))
	if err != nil {
		logger.Error("failed to delete old relevance partition", slog.String("error", err.Error()))
		return core.Fatal(0, fmt.Errorf("failed to delete old relevance partition: %w", err))
	}
	logger.Debug("deleted old relations", slog.Int64("rows", deleted))

	rows := make([]core.Row, len(relations))
	for i, r := range relations {
		rows[i] = r.Row(p)
	}
	res, err := b.writer.Write(ctx, core.TableRelevance, rows, nil, writer.Continue)
	if err != nil {
		return core.Fatal(res.Written, err)
	}

	logger.Info("relevance index rebuilt",
		slog.Int("written", res.Written),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", time.Since(start)))

	if len(res.FailedChunks) > 0 {
		return core.Partial(res.Written, fmt.Sprintf("%d of %d chunks failed (%d rows lost): chunks %v",
			len(res.FailedChunks), res.Chunks, res.Failed, res.FailedChunks))
	}
	return core.Success(res.Written)
}

// LoadStops reads the id, name and city of every stop in the partition.
func (b *Builder) LoadStops(ctx context.Context, p core.Partition) ([]core.Stop, error) {
	rows, err := b.sink.Select(ctx, core.TableStops, []string{"id", "name", "city"}, sink.Eq("date", p.String()))
	if err != nil {
		return nil, err
	}
	stops := make([]core.Stop, 0, len(rows))
	for _, row := range rows {
		id, err := toInt64(row["id"])
		if err != nil {
			return nil, fmt.Errorf("invalid stop id: %w", err)
		}
		stops = append(stops, core.Stop{
			ID:   id,
			Name: toString(row["name"]),
			City: toString(row["city"]),
		})
	}
	return stops, nil
}

// Relations classifies every stop against every city.
func (b *Builder) Relations(stops []core.Stop, cities []string) []Relation {
	size := b.CacheSize
	if size <= 0 {
		size = len(stops) + 1
	}
	memo := gcache.New(size).LRU().Build()
	normName := func(name string) string {
		if v, err := memo.Get(name); err == nil {
			return v.(string)
		}
		n := Normalize(name)
		_ = memo.Set(name, n)
		return n
	}

	every := b.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	var out []Relation
	for i, city := range cities {
		if (i+1)%every == 0 {
			b.logger.Info("relevance progress",
				slog.String("progress", fmt.Sprintf("%d/%d", i+1, len(cities))))
		}
		variants := normalizedVariants(city)
		for _, stop := range stops {
			m := classify(stop.City, normName(stop.Name), city, variants)
			if m.Relevant() {
				out = append(out, Relation{City: city, StopID: stop.ID, Match: m})
			}
		}
	}
	return out
}

// Cities returns the distinct non-empty cities in first-seen order.
func Cities(stops []core.Stop) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range stops {
		if s.City == "" {
			continue
		}
		if _, ok := seen[s.City]; ok {
			continue
		}
		seen[s.City] = struct{}{}
		out = append(out, s.City)
	}
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
