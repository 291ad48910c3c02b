package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/clock"
	eventsmem "github.com/sheikh-saqib/rebase-ledger-system/internal/events/memory"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models/events"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vault = "vault"
	admin = "admin"
)

var rate5e10 = uint256.NewInt(50_000_000_000)

type stubGate map[string][]models.Capability

func (g stubGate) IsAuthorized(caller string, capability models.Capability) bool {
	for _, c := range g[caller] {
		if c == capability {
			return true
		}
	}
	return false
}

type testLedger struct {
	*Ledger
	store  *memory.MemoryAccountStore
	clock  *clock.Manual
	events *eventsmem.Publisher
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()

	tl := &testLedger{
		store:  memory.NewMemoryAccountStore(),
		clock:  clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		events: eventsmem.NewPublisher(nil),
	}
	gate := stubGate{
		vault: {models.CapabilityIssueRedeem},
		admin: {models.CapabilityRateAdmin},
	}

	l, err := New(context.Background(), Config{ID: "source", InitialRate: rate5e10}, tl.store, gate,
		WithClock(tl.clock), WithPublisher(tl.events))
	require.NoError(t, err)
	tl.Ledger = l
	return tl
}

func (tl *testLedger) balance(t *testing.T, holder string) *uint256.Int {
	t.Helper()
	b, err := tl.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return b
}

func (tl *testLedger) rate(t *testing.T, holder string) *uint256.Int {
	t.Helper()
	r, err := tl.UserRate(context.Background(), holder)
	require.NoError(t, err)
	return r
}

func withinOne(t *testing.T, expected, actual *uint256.Int) {
	t.Helper()
	diff := new(uint256.Int)
	if expected.Gt(actual) {
		diff.Sub(expected, actual)
	} else {
		diff.Sub(actual, expected)
	}
	assert.Truef(t, diff.Cmp(uint256.NewInt(1)) <= 0, "expected %s, got %s", expected.Dec(), actual.Dec())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("initializes global state once", func(t *testing.T) {
		store := memory.NewMemoryAccountStore()
		l, err := New(ctx, Config{ID: "l1"}, store, stubGate{})
		require.NoError(t, err)

		rate, err := l.GlobalRate(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultInitialRate(), rate)
		assert.Equal(t, DefaultPrecisionFactor(), l.PrecisionFactor())

		reopened, err := New(ctx, Config{ID: "l1", InitialRate: uint256.NewInt(1)}, store, stubGate{})
		require.NoError(t, err)
		rate, err = reopened.GlobalRate(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultInitialRate(), rate, "persisted rate wins over config")
	})

	t.Run("rejects missing id and zero precision", func(t *testing.T) {
		_, err := New(ctx, Config{}, memory.NewMemoryAccountStore(), stubGate{})
		assert.Error(t, err)

		_, err = New(ctx, Config{ID: "l1", PrecisionFactor: new(uint256.Int)}, memory.NewMemoryAccountStore(), stubGate{})
		assert.Error(t, err)
	})
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("balance equals amount right after issue to a dormant holder", func(t *testing.T) {
		tl := newTestLedger(t)
		amounts := []*uint256.Int{
			uint256.NewInt(1),
			uint256.NewInt(100_000),
			uint256.MustFromDecimal("1000000000000000000000000"),
		}
		for i, amount := range amounts {
			holder := []string{"a", "b", "c"}[i]
			require.NoError(t, tl.Issue(ctx, vault, holder, amount))
			assert.Equal(t, amount, tl.balance(t, holder))
			assert.Equal(t, rate5e10, tl.rate(t, holder))
		}
	})

	t.Run("unauthorized issue changes nothing", func(t *testing.T) {
		tl := newTestLedger(t)
		err := tl.Issue(ctx, "mallory", "mallory", uint256.NewInt(100))
		assert.ErrorIs(t, err, ErrUnauthorized)

		assert.True(t, tl.balance(t, "mallory").IsZero())
		entries, err := tl.Entries(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Empty(t, tl.events.Events())
	})

	t.Run("full sentinel and empty holder are rejected", func(t *testing.T) {
		tl := newTestLedger(t)
		assert.ErrorIs(t, tl.Issue(ctx, vault, "alice", Full()), ErrInvalidAmount)
		assert.ErrorIs(t, tl.Issue(ctx, vault, " ", uint256.NewInt(1)), ErrInvalidHolder)
	})

	t.Run("issue on an active holder keeps its rate and materializes interest", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
		require.NoError(t, tl.SetGlobalRate(ctx, admin, uint256.NewInt(10_000_000_000)))

		tl.clock.Advance(time.Hour)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(1_000)))

		assert.Equal(t, rate5e10, tl.rate(t, "alice"))
		principal, err := tl.PrincipalBalanceOf(ctx, "alice")
		require.NoError(t, err)
		// 100000 * 5e10 * 3600 / 1e18 = 18 of interest
		assert.Equal(t, uint64(101_018), principal.Uint64())
		assert.Len(t, tl.events.ByTopic(events.TopicInterestAccrued), 1)
	})

	t.Run("forced rate overrides the global rate", func(t *testing.T) {
		tl := newTestLedger(t)
		forced := uint256.NewInt(70_000_000_000)
		require.NoError(t, tl.IssueWithRate(ctx, vault, "alice", uint256.NewInt(500), forced))
		assert.Equal(t, forced, tl.rate(t, "alice"))
		assert.ErrorIs(t, tl.IssueWithRate(ctx, vault, "alice", uint256.NewInt(500), nil), ErrInvalidAmount)
	})
}

func TestBalanceGrowsLinearly(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.MustFromDecimal("1000000000000000000000")))

	tl.clock.Advance(1000 * time.Second)
	b1 := tl.balance(t, "alice")
	tl.clock.Advance(1000 * time.Second)
	b2 := tl.balance(t, "alice")
	tl.clock.Advance(1000 * time.Second)
	b3 := tl.balance(t, "alice")

	first := new(uint256.Int).Sub(b2, b1)
	second := new(uint256.Int).Sub(b3, b2)
	withinOne(t, first, second)
	assert.Equal(t, "50000000000000000", first.Dec())

	principal, err := tl.PrincipalBalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", principal.Dec(), "reads never materialize interest")
}

func TestClockStepBackIsNotNegativeInterest(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	start := tl.clock.Now()

	require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
	tl.clock.Set(start.Add(-time.Hour))
	assert.Equal(t, uint64(100_000), tl.balance(t, "alice").Uint64())
}

func TestSetGlobalRate(t *testing.T) {
	ctx := context.Background()

	t.Run("increase is rejected with both values and leaves the rate unchanged", func(t *testing.T) {
		tl := newTestLedger(t)
		err := tl.SetGlobalRate(ctx, admin, uint256.NewInt(50_000_000_001))
		require.ErrorIs(t, err, ErrRateIncreaseRejected)

		var rejected *RateIncreaseRejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Equal(t, "50000000000", rejected.Current.Dec())
		assert.Equal(t, "50000000001", rejected.Attempted.Dec())

		rate, err := tl.GlobalRate(ctx)
		require.NoError(t, err)
		assert.Equal(t, rate5e10, rate)
		assert.Empty(t, tl.events.ByTopic(events.TopicGlobalRateUpdated))
	})

	t.Run("equal or lower rate is accepted and published", func(t *testing.T) {
		tl := newTestLedger(t)
		for _, r := range []uint64{50_000_000_000, 40_000_000_000, 0} {
			require.NoError(t, tl.SetGlobalRate(ctx, admin, uint256.NewInt(r)))
			rate, err := tl.GlobalRate(ctx)
			require.NoError(t, err)
			assert.Equal(t, r, rate.Uint64())
		}

		published := tl.events.ByTopic(events.TopicGlobalRateUpdated)
		require.Len(t, published, 3)
		last := published[2].(events.GlobalRateUpdated)
		assert.Equal(t, "40000000000", last.Previous)
		assert.Equal(t, "0", last.Current)
	})

	t.Run("requires rate admin", func(t *testing.T) {
		tl := newTestLedger(t)
		assert.ErrorIs(t, tl.SetGlobalRate(ctx, vault, uint256.NewInt(1)), ErrUnauthorized)
	})

	t.Run("existing holders keep their rate", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(10)))
		require.NoError(t, tl.SetGlobalRate(ctx, admin, uint256.NewInt(1)))
		assert.Equal(t, rate5e10, tl.rate(t, "alice"))
	})
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	lower := uint256.NewInt(40_000_000_000)

	t.Run("full transfer to a dormant holder", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
		require.NoError(t, tl.SetGlobalRate(ctx, admin, lower))
		tl.clock.Advance(time.Hour)

		before := tl.balance(t, "alice")
		moved, err := tl.Transfer(ctx, "alice", "alice", "bob", Full())
		require.NoError(t, err)

		assert.Equal(t, before, moved)
		assert.True(t, tl.balance(t, "alice").IsZero())
		withinOne(t, before, tl.balance(t, "bob"))
		assert.Equal(t, rate5e10, tl.rate(t, "alice"))
		assert.Equal(t, lower, tl.rate(t, "bob"))
	})

	t.Run("receiver with a balance keeps its rate", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "carol", uint256.NewInt(10)))
		require.NoError(t, tl.SetGlobalRate(ctx, admin, lower))
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))

		_, err := tl.Transfer(ctx, "alice", "alice", "carol", uint256.NewInt(40))
		require.NoError(t, err)

		assert.Equal(t, rate5e10, tl.rate(t, "carol"))
		assert.Equal(t, lower, tl.rate(t, "alice"))
		assert.Equal(t, uint64(50), tl.balance(t, "carol").Uint64())
		assert.Equal(t, uint64(60), tl.balance(t, "alice").Uint64())
	})

	t.Run("sender keeps interest earned before the transfer", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
		tl.clock.Advance(time.Hour)

		_, err := tl.Transfer(ctx, "alice", "alice", "bob", uint256.NewInt(100_000))
		require.NoError(t, err)
		assert.Equal(t, uint64(18), tl.balance(t, "alice").Uint64())
	})

	t.Run("only the sender may transfer", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		_, err := tl.Transfer(ctx, "bob", "alice", "bob", uint256.NewInt(100))
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, uint64(100), tl.balance(t, "alice").Uint64())
	})

	t.Run("overdraft fails without side effects", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		tl.clock.Advance(time.Hour)

		_, err := tl.Transfer(ctx, "alice", "alice", "bob", uint256.NewInt(1_000))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		acct, err := tl.Account(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, tl.clock.Now().Add(-time.Hour), acct.LastAccrualAt, "accrual rolled back too")
		bob, err := tl.Account(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, bob.Rate.IsZero())
	})

	t.Run("self transfer moves nothing", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		moved, err := tl.Transfer(ctx, "alice", "alice", "alice", Full())
		require.NoError(t, err)
		assert.Equal(t, uint64(100), moved.Uint64())
		assert.Equal(t, uint64(100), tl.balance(t, "alice").Uint64())
	})
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()

	t.Run("full redeem zeroes the balance and next issue takes the new global rate", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
		tl.clock.Advance(24 * time.Hour)

		redeemed, err := tl.Redeem(ctx, vault, "alice", Full())
		require.NoError(t, err)
		assert.True(t, tl.balance(t, "alice").IsZero())
		assert.Equal(t, uint64(100_432), redeemed.Uint64())
		assert.Equal(t, rate5e10, tl.rate(t, "alice"), "rate is stale, not cleared")

		lower := uint256.NewInt(20_000_000_000)
		require.NoError(t, tl.SetGlobalRate(ctx, admin, lower))
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(5)))
		assert.Equal(t, lower, tl.rate(t, "alice"))
	})

	t.Run("partial redeem keeps the rate", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		require.NoError(t, tl.SetGlobalRate(ctx, admin, uint256.NewInt(1)))
		_, err := tl.Redeem(ctx, vault, "alice", uint256.NewInt(40))
		require.NoError(t, err)
		assert.Equal(t, uint64(60), tl.balance(t, "alice").Uint64())
		assert.Equal(t, rate5e10, tl.rate(t, "alice"))
	})

	t.Run("redeeming more than the balance fails", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		_, err := tl.Redeem(ctx, vault, "alice", uint256.NewInt(101))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, uint64(100), tl.balance(t, "alice").Uint64())
	})

	t.Run("requires issue-redeem capability", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		_, err := tl.Redeem(ctx, "alice", "alice", Full())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestEndToEndDepositGrowRedeem(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	elapsed := uint64(7 * 24 * 3600)

	require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
	tl.clock.Advance(time.Duration(elapsed) * time.Second)

	// 100000 * (P + R*T) / P
	growth := new(uint256.Int).Mul(rate5e10, uint256.NewInt(elapsed))
	growth.Add(growth, DefaultPrecisionFactor())
	expected := new(uint256.Int).Mul(uint256.NewInt(100_000), growth)
	expected.Div(expected, DefaultPrecisionFactor())

	assert.Equal(t, expected, tl.balance(t, "alice"))

	redeemed, err := tl.Redeem(ctx, vault, "alice", Full())
	require.NoError(t, err)
	assert.Equal(t, expected, redeemed)
	assert.True(t, tl.balance(t, "alice").IsZero())
}

// flakyStore fails every Commit while failCommit is set.
type flakyStore struct {
	*memory.MemoryAccountStore
	failCommit bool
}

var errStoreDown = errors.New("db down")

func (s *flakyStore) Commit(ctx context.Context, batch models.Batch) error {
	if s.failCommit {
		return errStoreDown
	}
	return s.MemoryAccountStore.Commit(ctx, batch)
}

func newFlakyLedger(t *testing.T) (*testLedger, *flakyStore) {
	t.Helper()

	store := &flakyStore{MemoryAccountStore: memory.NewMemoryAccountStore()}
	tl := &testLedger{
		store:  store.MemoryAccountStore,
		clock:  clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		events: eventsmem.NewPublisher(nil),
	}
	gate := stubGate{vault: {models.CapabilityIssueRedeem}}

	l, err := New(context.Background(), Config{ID: "source", InitialRate: rate5e10}, store, gate,
		WithClock(tl.clock), WithPublisher(tl.events))
	require.NoError(t, err)
	tl.Ledger = l
	return tl, store
}

func TestUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()

	t.Run("failing callback discards staged changes", func(t *testing.T) {
		tl := newTestLedger(t)
		boom := errors.New("payout failed")

		err := tl.Update(ctx, func(tx *Tx) error {
			if err := tx.Issue(vault, "alice", uint256.NewInt(100)); err != nil {
				return err
			}
			staged, err := tx.BalanceOf("alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(100), staged.Uint64())
			return boom
		})
		assert.ErrorIs(t, err, boom)

		assert.True(t, tl.balance(t, "alice").IsZero())
		entries, err := tl.Entries(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Empty(t, tl.events.Events())
	})

	t.Run("failing commit skips effects and events", func(t *testing.T) {
		tl, store := newFlakyLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		published := len(tl.events.Events())
		store.failCommit = true

		ran := false
		err := tl.Update(ctx, func(tx *Tx) error {
			if _, err := tx.Redeem(vault, "alice", uint256.NewInt(40)); err != nil {
				return err
			}
			tx.OnCommit(Effect{Run: func(context.Context) error {
				ran = true
				return nil
			}})
			return nil
		})
		require.ErrorIs(t, err, errStoreDown)

		assert.False(t, ran)
		assert.Equal(t, uint64(100), tl.balance(t, "alice").Uint64())
		assert.Len(t, tl.events.Events(), published)
	})
}

func TestEffects(t *testing.T) {
	ctx := context.Background()

	t.Run("effect runs after the commit", func(t *testing.T) {
		tl := newTestLedger(t)
		var seen *uint256.Int

		err := tl.Update(ctx, func(tx *Tx) error {
			if err := tx.Issue(vault, "alice", uint256.NewInt(100)); err != nil {
				return err
			}
			tx.OnCommit(Effect{Run: func(ctx context.Context) error {
				acct, err := tl.store.GetAccount(ctx, "alice")
				if err != nil {
					return err
				}
				seen = new(uint256.Int).Set(&acct.Principal)
				return nil
			}})
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, uint64(100), seen.Uint64())
	})

	t.Run("failed effect commits its undo", func(t *testing.T) {
		tl := newTestLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		rejected := errors.New("rejected")

		err := tl.Update(ctx, func(tx *Tx) error {
			redeemed, err := tx.Redeem(vault, "alice", Full())
			if err != nil {
				return err
			}
			tx.OnCommit(Effect{
				Run: func(context.Context) error { return rejected },
				Undo: func(tx *Tx) error {
					return tx.IssueWithRate(vault, "alice", redeemed, rate5e10)
				},
			})
			return nil
		})
		require.ErrorIs(t, err, rejected)

		assert.Equal(t, uint64(100), tl.balance(t, "alice").Uint64())
		assert.Equal(t, rate5e10, tl.rate(t, "alice"))

		entries, err := tl.EntriesByHolder(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, models.EntryRedeem, entries[1].Kind)
		assert.Equal(t, models.EntryIssue, entries[2].Kind)
	})

	t.Run("failed undo is reported with the effect error", func(t *testing.T) {
		tl, store := newFlakyLedger(t)
		require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100)))
		rejected := errors.New("rejected")

		err := tl.Update(ctx, func(tx *Tx) error {
			if _, err := tx.Redeem(vault, "alice", uint256.NewInt(60)); err != nil {
				return err
			}
			tx.OnCommit(Effect{
				Run: func(context.Context) error {
					store.failCommit = true
					return rejected
				},
				Undo: func(tx *Tx) error {
					return tx.Issue(vault, "alice", uint256.NewInt(60))
				},
			})
			return nil
		})
		assert.ErrorIs(t, err, rejected)
		assert.ErrorIs(t, err, errStoreDown)
		assert.Equal(t, uint64(40), tl.balance(t, "alice").Uint64())
	})
}

func TestJournalMatchesPrincipal(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, tl.Issue(ctx, vault, "alice", uint256.NewInt(100_000)))
	tl.clock.Advance(time.Hour)
	_, err := tl.Transfer(ctx, "alice", "alice", "bob", uint256.NewInt(30_000))
	require.NoError(t, err)
	tl.clock.Advance(time.Hour)
	_, err = tl.Redeem(ctx, vault, "bob", Full())
	require.NoError(t, err)
	require.NoError(t, tl.SetGlobalRate(ctx, admin, uint256.NewInt(1)))

	for _, holder := range []string{"alice", "bob"} {
		entries, err := tl.EntriesByHolder(ctx, holder)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.Delta())
		}
		principal, err := tl.PrincipalBalanceOf(ctx, holder)
		require.NoError(t, err)
		assert.Equal(t, principal.Dec(), sum.String(), holder)
	}

	total, err := tl.TotalPrincipal(ctx)
	require.NoError(t, err)
	alice, err := tl.PrincipalBalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, total)
}
