package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDebitNeverUnderflows(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	mustAccount(t, store, "u1", 100)

	balance, err := store.Debit(ctx, "u1", CurrencyCash, 150)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance mutated on rejected debit: %d", balance)
	}

	if _, err := store.Debit(ctx, "u1", CurrencyCash, 100); err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	acct, err := store.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Cash != 0 {
		t.Fatalf("want 0 cash, got %d", acct.Cash)
	}
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	mustAccount(t, store, "u1", 1000)

	const workers = 50
	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Debit(ctx, "u1", CurrencyCash, 100); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 10 {
		t.Fatalf("want exactly 10 successful debits, got %d", successes)
	}
	acct, _ := store.GetAccount(ctx, "u1")
	if acct.Cash != 0 {
		t.Fatalf("want 0 remaining, got %d", acct.Cash)
	}
}

func TestPay(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	mustAccount(t, store, "alice", 500)
	mustAccount(t, store, "bob", 0)

	t.Run("rejects self transfer", func(t *testing.T) {
		if _, err := ledger.Pay(ctx, "alice", "alice", 100); !errors.Is(err, ErrInvalidOperand) {
			t.Fatalf("want ErrInvalidOperand, got %v", err)
		}
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		if _, err := ledger.Pay(ctx, "alice", "bob", 0); !errors.Is(err, ErrInvalidOperand) {
			t.Fatalf("want ErrInvalidOperand, got %v", err)
		}
		if _, err := ledger.Pay(ctx, "alice", "bob", -5); !errors.Is(err, ErrInvalidOperand) {
			t.Fatalf("want ErrInvalidOperand, got %v", err)
		}
	})

	t.Run("moves funds atomically", func(t *testing.T) {
		remaining, err := ledger.Pay(ctx, "alice", "bob", 300)
		if err != nil {
			t.Fatal(err)
		}
		if remaining != 200 {
			t.Fatalf("want 200 remaining, got %d", remaining)
		}
		bob, _ := store.GetAccount(ctx, "bob")
		if bob.Cash != 300 {
			t.Fatalf("want bob at 300, got %d", bob.Cash)
		}
	})

	t.Run("rejects overspend without partial credit", func(t *testing.T) {
		if _, err := ledger.Pay(ctx, "alice", "bob", 9999); !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("want ErrInsufficientFunds, got %v", err)
		}
		bob, _ := store.GetAccount(ctx, "bob")
		if bob.Cash != 300 {
			t.Fatalf("bob credited on failed transfer: %d", bob.Cash)
		}
	})
}

func TestDailyBonus(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	mustAccount(t, store, "u1", 0)

	now := time.Now().UTC()
	store.now = func() time.Time { return now }

	res, err := ledger.DailyBonus(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reward != dailyReward || res.Streak != 1 {
		t.Fatalf("first daily: reward=%d streak=%d", res.Reward, res.Streak)
	}

	t.Run("second claim inside window is refused", func(t *testing.T) {
		_, err := ledger.DailyBonus(ctx, "u1")
		var cd *CooldownError
		if !errors.As(err, &cd) {
			t.Fatalf("want CooldownError, got %v", err)
		}
		if cd.RemainingSeconds <= 0 {
			t.Fatalf("want positive remaining, got %d", cd.RemainingSeconds)
		}
	})

	t.Run("next day continues the streak", func(t *testing.T) {
		now = now.Add(25 * time.Hour)
		res, err := ledger.DailyBonus(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if res.Streak != 2 {
			t.Fatalf("want streak 2, got %d", res.Streak)
		}
	})

	acct, _ := store.GetAccount(ctx, "u1")
	if acct.Cash != 2*dailyReward {
		t.Fatalf("want %d cash, got %d", 2*dailyReward, acct.Cash)
	}
}

func TestFirstClaimPaysOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	mustAccount(t, store, "u1", 0)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.FirstClaim(ctx, "u1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("want exactly one payout, got %d", successes)
	}
	acct, _ := store.GetAccount(ctx, "u1")
	if acct.Cash != firstClaimReward {
		t.Fatalf("want %d cash, got %d", firstClaimReward, acct.Cash)
	}
}

func TestExplore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	ledger.roll = func(n int64) int64 { return 0 }
	mustAccount(t, store, "u1", 0)

	found, err := ledger.Explore(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if found != exploreMin {
		t.Fatalf("want %d, got %d", exploreMin, found)
	}

	if _, err := ledger.Explore(ctx, "u1"); err == nil {
		t.Fatal("second explore inside cooldown should be refused")
	}
}

func TestRedeemRace(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)

	if err := ledger.MintCashCode(ctx, "op", "GOLD-1", 500, 1); err != nil {
		t.Fatal(err)
	}

	const workers = 20
	accounts := make([]string, workers)
	for i := range accounts {
		accounts[i] = "u" + string(rune('a'+i))
		mustAccount(t, store, accounts[i], 0)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	for _, id := range accounts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := ledger.Redeem(ctx, id, "GOLD-1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("want exactly one redemption of a single-use code, got %d", successes)
	}

	var credited int64
	for _, id := range accounts {
		acct, _ := store.GetAccount(ctx, id)
		credited += acct.Cash
	}
	if credited != 500 {
		t.Fatalf("want 500 total credited, got %d", credited)
	}

	if _, err := ledger.Redeem(ctx, accounts[0], "GOLD-1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
}

func TestRedeemCollectibleCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	mustAccount(t, store, "u1", 0)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)

	if err := ledger.MintCollectibleCode(ctx, "op", "DROP-1", "c1", 2); err != nil {
		t.Fatal(err)
	}

	res, err := ledger.Redeem(ctx, "u1", "DROP-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted == nil || res.Granted.CollectibleID != "c1" {
		t.Fatalf("want c1 granted, got %+v", res.Granted)
	}
	if res.Remaining != 1 {
		t.Fatalf("want 1 use left, got %d", res.Remaining)
	}

	owned, _ := store.OwnedCount(ctx, "u1")
	if owned != 1 {
		t.Fatalf("want 1 ownership, got %d", owned)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(NewMemStore())
	if _, err := ledger.Redeem(ctx, "u1", "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDailyStreakResetsAfterLapse(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	mustAccount(t, store, "u1", 0)

	now := time.Now().UTC()
	store.now = func() time.Time { return now }
	ledger.now = func() time.Time { return now }

	for day := 0; day < 3; day++ {
		res, err := ledger.DailyBonus(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if want := int64(day + 1); res.Streak != want {
			t.Fatalf("day %d: want streak %d, got %d", day, want, res.Streak)
		}
		now = now.Add(25 * time.Hour)
	}

	// Two missed days break the streak.
	now = now.Add(50 * time.Hour)
	res, err := ledger.DailyBonus(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Streak != 1 {
		t.Fatalf("lapsed streak should restart at 1, got %d", res.Streak)
	}
}

func TestBuy(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	c := mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityLegendary)
	mustAccount(t, store, "u1", c.Price+500)

	t.Run("charges the tier price and grants a copy", func(t *testing.T) {
		bought, remaining, err := ledger.Buy(ctx, "u1", "c1")
		if err != nil {
			t.Fatal(err)
		}
		if bought.CollectibleID != "c1" || remaining != 500 {
			t.Fatalf("unexpected purchase: %+v remaining=%d", bought, remaining)
		}
		owned, _ := store.OwnedCount(ctx, "u1")
		if owned != 1 {
			t.Fatalf("want 1 owned, got %d", owned)
		}
	})

	t.Run("insufficient cash is refused", func(t *testing.T) {
		if _, _, err := ledger.Buy(ctx, "u1", "c1"); !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("want ErrInsufficientFunds, got %v", err)
		}
		acct, _ := store.GetAccount(ctx, "u1")
		if acct.Cash != 500 {
			t.Fatalf("rejected buy must not charge, cash=%d", acct.Cash)
		}
	})

	t.Run("locked entries are not for sale", func(t *testing.T) {
		mustCollectible(t, store, "c2", "Vault Piece", RarityCommon)
		if err := store.SetCollectibleLocked(ctx, "c2", true); err != nil {
			t.Fatal(err)
		}
		if _, _, err := ledger.Buy(ctx, "u1", "c2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, _, err := ledger.Buy(ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestCollectionListing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store)
	mustAccount(t, store, "u1", 0)
	mustAccount(t, store, "u2", 0)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	mustCollectible(t, store, "c2", "Monkey D. Luffy", RarityMythical)

	for _, id := range []string{"c1", "c1", "c2"} {
		if _, err := store.GrantOwnership(ctx, "u1", id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.GrantOwnership(ctx, "u2", "c1"); err != nil {
		t.Fatal(err)
	}

	items, err := ledger.Collection(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 lines, got %d", len(items))
	}
	if items[0].CollectibleID != "c2" || items[0].Count != 1 {
		t.Fatalf("rarest first: %+v", items[0])
	}
	if items[1].CollectibleID != "c1" || items[1].Count != 2 {
		t.Fatalf("duplicates collapse to a count: %+v", items[1])
	}

	empty, err := ledger.Collection(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("want empty collection, got %+v", empty)
	}
}
