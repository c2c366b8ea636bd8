package mysql

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	c, err := ParseDSN("sync:secret@tcp(db:3306)/transit")
	require.NoError(t, err)
	assert.Equal(t, "db:3306", c.Addr)
	assert.Equal(t, "transit", c.DBName)
	assert.True(t, c.ParseTime)
	assert.True(t, c.MultiStatements)

	_, err = ParseDSN("not a dsn")
	assert.Error(t, err)
}

func TestConnect_RequiresDSN(t *testing.T) {
	err := New(nil).Connect(context.Background(), sink.Config{Type: "mysql"})
	assert.ErrorContains(t, err, "requires a dsn")
}

func TestSink_InsertRelevanceRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(nil)
	s.DB = db

	rows := []core.Row{
		{"city": "חדרה", "stop_id": int64(1), "relevance_type": "exact", "confidence": 1.0, "matched_text": nil, "date": "2025-03-01"},
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `city_relevant_stops` (`city`, `confidence`, `date`, `matched_text`, `relevance_type`, `stop_id`) VALUES (?, ?, ?, ?, ?, ?)")).
		WithArgs("חדרה", 1.0, "2025-03-01", nil, "exact", int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Insert(context.Background(), core.TableRelevance, rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}
