package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec(regexp.QuoteMeta(schemaSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert one audit row", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		createdAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		rec := &MatchRecord{
			ID:         "audit-1",
			Site:       "1688.com",
			URL:        "https://1688.com/feed",
			CacheKey:   "deadbeef",
			CacheHit:   true,
			Matched:    true,
			Containers: 4,
			Duration:   1250 * time.Millisecond,
			CreatedAt:  createdAt,
		}

		mockPool.ExpectExec(regexp.QuoteMeta(insertSQL)).
			WithArgs("audit-1", "1688.com", "https://1688.com/feed", "deadbeef",
				true, true, 4, int64(1250), createdAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Record(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should default created_at when unset", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta(insertSQL)).
			WithArgs("audit-2", "1688.com", "https://1688.com/feed", "deadbeef",
				false, false, 0, int64(0), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		rec := &MatchRecord{
			ID:       "audit-2",
			Site:     "1688.com",
			URL:      "https://1688.com/feed",
			CacheKey: "deadbeef",
		}
		require.NoError(t, s.Record(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap insert errors", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(regexp.QuoteMeta(insertSQL)).
			WithArgs("audit-3", "1688.com", "", "", false, false, 0, int64(0), pgxmock.AnyArg()).
			WillReturnError(dbErr)

		err := s.Record(ctx, &MatchRecord{ID: "audit-3", Site: "1688.com"})
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
	})
}

func TestRecentMatches(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newMockedStore(t)

	createdAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "site", "url", "cache_key", "cache_hit", "matched", "containers", "duration_ms", "created_at",
	}).AddRow(
		"audit-1", "1688.com", "https://1688.com/feed", "deadbeef",
		true, true, 4, int64(900), createdAt,
	)

	mockPool.ExpectQuery(regexp.QuoteMeta(recentSQL)).
		WithArgs("1688.com", 5).
		WillReturnRows(rows)

	records, err := s.RecentMatches(ctx, "1688.com", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "audit-1", records[0].ID)
	assert.Equal(t, 900*time.Millisecond, records[0].Duration)
	assert.Equal(t, createdAt, records[0].CreatedAt)
	assert.True(t, records[0].CacheHit)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
