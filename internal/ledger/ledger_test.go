package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const unit = domain.MicrosPerUnit

func deposit(t *testing.T, l *Ledger, account string, amount int64) {
	t.Helper()
	_, err := l.Commit("deposit:"+account, func(tx *Tx) error { return tx.Deposit(account, amount) })
	require.NoError(t, err)
}

func TestTransferMovesAvailable(t *testing.T) {
	l := New()
	deposit(t, l, "alice", 10*unit)

	res, err := l.Commit("op-1", func(tx *Tx) error {
		return tx.Transfer("alice", "bob", 4*unit, "m1", domain.ReasonTrade)
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, int64(-4*unit), res.Entries[0].CurrencyDelta)
	assert.Equal(t, int64(4*unit), res.Entries[1].CurrencyDelta)
	assert.Equal(t, "op-1", res.Entries[0].OpID)
	assert.Less(t, res.Entries[0].Seq, res.Entries[1].Seq)

	assert.Equal(t, int64(6*unit), l.Balance("alice").Available)
	assert.Equal(t, int64(4*unit), l.Balance("bob").Available)
}

func TestFailedBatchLeavesStateUntouched(t *testing.T) {
	l := New()
	deposit(t, l, "alice", 5*unit)

	_, err := l.Commit("op-1", func(tx *Tx) error {
		if err := tx.Transfer("alice", "bob", 3*unit, "m1", domain.ReasonTrade); err != nil {
			return err
		}
		return tx.Transfer("alice", "carol", 3*unit, "m1", domain.ReasonTrade)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, int64(5*unit), l.Balance("alice").Available)
	assert.Zero(t, l.Balance("bob").Available)
	assert.False(t, l.Applied("op-1"))
}

func TestCommitIsIdempotentPerOpID(t *testing.T) {
	l := New()
	first, err := l.Commit("dep", func(tx *Tx) error { return tx.Deposit("alice", unit) })
	require.NoError(t, err)

	again, err := l.Commit("dep", func(tx *Tx) error { return tx.Deposit("alice", unit) })
	require.True(t, errors.Is(err, domain.ErrDuplicate))
	assert.Equal(t, first, again)
	assert.Equal(t, unit, l.Balance("alice").Available)
}

func TestOverdraftOnlyForConfiguredAccounts(t *testing.T) {
	l := New(WithOverdraft(domain.PlatformAccount))
	_, err := l.Commit("subsidy", func(tx *Tx) error {
		return tx.Transfer(domain.PlatformAccount, "market:m1", 69*unit, "m1", domain.ReasonSubsidy)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-69*unit), l.Balance(domain.PlatformAccount).Available)
	assert.Zero(t, l.Supply())

	_, err = l.Commit("overdraw", func(tx *Tx) error {
		return tx.Transfer("market:m1", "alice", 70*unit, "m1", domain.ReasonPayout)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestHoldAndRelease(t *testing.T) {
	l := New()
	deposit(t, l, "alice", 10*unit)

	_, err := l.Commit("hold", func(tx *Tx) error { return tx.Hold("alice", 7*unit) })
	require.NoError(t, err)
	b := l.Balance("alice")
	assert.Equal(t, int64(3*unit), b.Available)
	assert.Equal(t, int64(7*unit), b.Held)

	_, err = l.Commit("pay", func(tx *Tx) error {
		if err := tx.TransferHeld("alice", "market:m1", 5*unit, "m1", domain.ReasonMint); err != nil {
			return err
		}
		return tx.Release("alice", 2*unit)
	})
	require.NoError(t, err)
	b = l.Balance("alice")
	assert.Equal(t, int64(5*unit), b.Available)
	assert.Zero(t, b.Held)
	assert.Equal(t, int64(10*unit), l.Supply())
}

func TestDebitSharesReducesBasisProportionally(t *testing.T) {
	l := New()
	_, err := l.Commit("buy", func(tx *Tx) error {
		return tx.CreditShares("alice", "m1", domain.OutcomeYes, 10*unit, 6*unit, domain.ReasonTrade)
	})
	require.NoError(t, err)

	var removed int64
	_, err = l.Commit("sell", func(tx *Tx) error {
		var err error
		removed, err = tx.DebitShares("alice", "m1", domain.OutcomeYes, 4*unit, false, domain.ReasonTrade)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2_400_000), removed)

	p := l.Position("alice", "m1", domain.OutcomeYes)
	assert.Equal(t, int64(6*unit), p.Shares)
	assert.Equal(t, int64(3_600_000), p.CostBasis)

	_, err = l.Commit("oversell", func(tx *Tx) error {
		_, err := tx.DebitShares("alice", "m1", domain.OutcomeYes, 7*unit, false, domain.ReasonTrade)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestHeldSharesCannotBeSoldTwice(t *testing.T) {
	l := New()
	_, err := l.Commit("seed", func(tx *Tx) error {
		if err := tx.CreditShares("alice", "m1", domain.OutcomeNo, 5*unit, 0, domain.ReasonTrade); err != nil {
			return err
		}
		return tx.HoldShares("alice", "m1", domain.OutcomeNo, 4*unit)
	})
	require.NoError(t, err)

	_, err = l.Commit("sell-free", func(tx *Tx) error {
		_, err := tx.DebitShares("alice", "m1", domain.OutcomeNo, 2*unit, false, domain.ReasonTrade)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestMintAndBurnPair(t *testing.T) {
	l := New()
	_, err := l.Commit("mint", func(tx *Tx) error {
		return tx.MintPair("m1", "alice", "bob", 10*unit, 6*unit, 4*unit)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10*unit), l.SharesOutstanding("m1", domain.OutcomeYes))
	assert.Equal(t, int64(10*unit), l.SharesOutstanding("m1", domain.OutcomeNo))

	_, err = l.Commit("burn", func(tx *Tx) error {
		if err := tx.HoldShares("alice", "m1", domain.OutcomeYes, 3*unit); err != nil {
			return err
		}
		if err := tx.HoldShares("bob", "m1", domain.OutcomeNo, 3*unit); err != nil {
			return err
		}
		return tx.BurnPair("m1", "alice", "bob", 3*unit)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7*unit), l.SharesOutstanding("m1", domain.OutcomeYes))
	assert.Equal(t, int64(7*unit), l.SharesOutstanding("m1", domain.OutcomeNo))
}

func TestRestoreMarksOpsApplied(t *testing.T) {
	l := New()
	l.Restore(
		[]domain.Balance{{Account: "alice", Available: 3 * unit}},
		[]domain.Position{{Account: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Shares: unit}},
		[]string{"buy:alice:k1"},
		42,
	)
	assert.Equal(t, int64(3*unit), l.Balance("alice").Available)
	assert.Len(t, l.AccountPositions("alice"), 1)

	_, err := l.Commit("buy:alice:k1", func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	res, err := l.Commit("next", func(tx *Tx) error { return tx.Deposit("alice", 1) })
	require.NoError(t, err)
	assert.Equal(t, int64(43), res.Entries[0].Seq)
}

func TestCommitsStampIncreasingVersions(t *testing.T) {
	l := New()
	first, err := l.Commit("op-1", func(tx *Tx) error { return tx.Deposit("alice", unit) })
	require.NoError(t, err)
	second, err := l.Commit("op-2", func(tx *Tx) error { return tx.Deposit("bob", unit) })
	require.NoError(t, err)

	assert.Less(t, first.Version, second.Version)
	assert.Equal(t, first.Version, l.Balance("alice").Version)
	assert.Equal(t, second.Version, second.Balances[0].Version)

	restored := New()
	restored.Restore(
		[]domain.Balance{l.Balance("alice"), l.Balance("bob")},
		nil, nil, 0,
	)
	next, err := restored.Commit("op-3", func(tx *Tx) error { return tx.Deposit("alice", unit) })
	require.NoError(t, err)
	assert.Greater(t, next.Version, second.Version)
}

func TestSupplyOnlyChangesThroughDeposits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(WithOverdraft(domain.PlatformAccount))
		accounts := []string{"a", "b", "c", domain.PlatformAccount}
		var supply int64
		n := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < n; i++ {
			from := rapid.SampledFrom(accounts).Draw(t, "from")
			to := rapid.SampledFrom(accounts).Draw(t, "to")
			amount := rapid.Int64Range(1, 50).Draw(t, "amount")
			kind := rapid.IntRange(0, 3).Draw(t, "kind")
			op := rapid.StringMatching(`op-[0-9]{1,3}`).Draw(t, "op")

			_, err := l.Commit(op, func(tx *Tx) error {
				switch kind {
				case 0:
					return tx.Deposit(to, amount)
				case 1:
					return tx.Transfer(from, to, amount, "m", domain.ReasonTrade)
				case 2:
					if err := tx.Hold(from, amount); err != nil {
						return err
					}
					return tx.TransferHeld(from, to, amount/2, "m", domain.ReasonTrade)
				default:
					return tx.Withdraw(from, amount)
				}
			})
			if err == nil {
				switch kind {
				case 0:
					supply += amount
				case 3:
					supply -= amount
				}
			}
			if got := l.Supply(); got != supply {
				t.Fatalf("supply %d, want %d after op %d", got, supply, i)
			}
			for _, a := range accounts[:3] {
				if b := l.Balance(a); b.Available < 0 || b.Held < 0 {
					t.Fatalf("account %s went negative: %+v", a, b)
				}
			}
		}
	})
}
