package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func TestCommitBatchAndQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := s.Stores()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.Batches.CommitBatch(ctx, domain.Batch{
		OpID:    "op-1",
		Markets: []domain.Market{{ID: "m1", CreatedAt: t0}},
		Orders: []domain.Order{
			{ID: "o1", MarketID: "m1", UserID: "u1", Quantity: 10, Status: domain.OrderStatusOpen, Seq: 2, CreatedAt: t0},
			{ID: "o2", MarketID: "m1", UserID: "u1", Quantity: 10, Filled: 10, Status: domain.OrderStatusFilled, Seq: 1, CreatedAt: t0.Add(time.Second)},
		},
		Fills:    []domain.Fill{{ID: "f1", MarketID: "m1", CreatedAt: t0}},
		Balances: []domain.Balance{{Account: "u1", Available: 5}},
		Entries:  []domain.LedgerEntry{{Seq: 7, OpID: "op-1", Account: "u1", MarketID: "m1"}},
		Audit:    []domain.AuditEntry{{Event: "market_created"}},
	}))

	m, err := st.Markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	_, err = st.Markets.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active, err := st.Orders.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "o1", active[0].ID)

	mine, err := st.Orders.ListByUser(ctx, "u1", "", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "o2", mine[0].ID)

	ids, err := st.Ledger.ListOpIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"op-1"}, ids)
	seq, err := st.Ledger.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	audit, err := st.Audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, 1, s.Batches())
}

func TestStaleBalancesAreIgnored(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CommitBatch(ctx, domain.Batch{Balances: []domain.Balance{{Account: "u1", Available: 9, Version: 5}}}))
	require.NoError(t, s.CommitBatch(ctx, domain.Batch{Balances: []domain.Balance{{Account: "u1", Available: 1, Version: 4}}}))

	got, err := s.Stores().Ledger.ListBalances(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].Available)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4}
	assert.Equal(t, []int{2, 3}, page(items, domain.ListOpts{Offset: 1, Limit: 2}))
	assert.Nil(t, page(items, domain.ListOpts{Offset: 9}))
	assert.Equal(t, items, page(items, domain.ListOpts{}))
}
