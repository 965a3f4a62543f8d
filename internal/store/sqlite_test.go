package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailbot/internal/store"
)

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeStrategy(id string) store.Strategy {
	return store.Strategy{
		ID:                 id,
		Account:            "0xabc",
		Name:               "btc-5m-" + id,
		SlugTemplate:       "bitcoin-up-or-down",
		IntervalSeconds:    300,
		WindowStartSeconds: 0,
		WindowEndSeconds:   300,
		MinPrice:           0,
		MaxPrice:           1,
		AmountMode:         store.AmountRatio,
		AmountValue:        0.1,
		SpreadMode:         store.SpreadNone,
		Enabled:            true,
	}
}

func makeTrigger(id, strategyID string, periodStart int64) *store.Trigger {
	return &store.Trigger{
		ID:           id,
		StrategyID:   strategyID,
		PeriodStart:  periodStart,
		MarketTitle:  "Bitcoin Up or Down",
		OutcomeIndex: 0,
		Price:        0.99,
		AmountUSDC:   10,
		OrderID:      "order-" + id,
		Status:       store.TriggerSuccess,
	}
}

func TestReplaceAndListStrategies(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	disabled := makeStrategy("s2")
	disabled.Enabled = false
	err := s.ReplaceStrategies(ctx, []store.Strategy{makeStrategy("s1"), disabled})
	require.NoError(t, err)

	got, err := s.EnabledStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, int64(300), got[0].IntervalSeconds)
	assert.Equal(t, store.AmountRatio, got[0].AmountMode)

	// Replace drops rows no longer present.
	err = s.ReplaceStrategies(ctx, []store.Strategy{makeStrategy("s3")})
	require.NoError(t, err)
	got, err = s.EnabledStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s3", got[0].ID)
}

func TestInsertTriggerDuplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := makeTrigger("t1", "s1", 1700000100)
	require.NoError(t, s.InsertTrigger(ctx, first))

	dup := makeTrigger("t2", "s1", 1700000100)
	err := s.InsertTrigger(ctx, dup)
	assert.ErrorIs(t, err, store.ErrDuplicateTrigger)

	// Same strategy, different cycle is fine.
	require.NoError(t, s.InsertTrigger(ctx, makeTrigger("t3", "s1", 1700000400)))

	exists, err := s.TriggerExists(ctx, "s1", 1700000100)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.TriggerExists(ctx, "s1", 1699999800)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUnresolvedTriggersSkipsFailedAndResolved(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTrigger(ctx, makeTrigger("t1", "s1", 1700000100)))

	failed := makeTrigger("t2", "s1", 1700000400)
	failed.Status = store.TriggerFail
	failed.FailReason = "insufficient amount"
	failed.OrderID = ""
	require.NoError(t, s.InsertTrigger(ctx, failed))

	require.NoError(t, s.InsertTrigger(ctx, makeTrigger("t3", "s2", 1700000100)))
	ok, err := s.ResolveTrigger(ctx, "t3", 0, 1.5, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	unresolved, err := s.UnresolvedTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "t1", unresolved[0].ID)
}

func TestResolveTriggerOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTrigger(ctx, makeTrigger("t1", "s1", 1700000100)))

	ok, err := s.ResolveTrigger(ctx, "t1", 1, -9.0, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second resolution is a no-op and must not overwrite the P&L.
	ok, err = s.ResolveTrigger(ctx, "t1", 0, 123.0, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	unresolved, err := s.UnresolvedTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestSetConditionIDOnlyOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTrigger(ctx, makeTrigger("t1", "s1", 1700000100)))
	require.NoError(t, s.SetConditionID(ctx, "t1", "0xcond"))
	// A second write does not clobber the cached value.
	require.NoError(t, s.SetConditionID(ctx, "t1", "0xother"))

	unresolved, err := s.UnresolvedTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "0xcond", unresolved[0].ConditionID)
}
