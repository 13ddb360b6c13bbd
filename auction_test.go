package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func farFuture() time.Time {
	return time.Now().UTC().Add(24 * time.Hour)
}

func newAuctionFixture(t *testing.T) (*MemStore, *fakeSender, *AuctionCoordinator) {
	t.Helper()
	store := NewMemStore()
	sender := newFakeSender()
	auctions := NewAuctionCoordinator(store, sender, NewLeaderboard(store, nil))
	return store, sender, auctions
}

func TestBidOrdering(t *testing.T) {
	ctx := context.Background()
	store, _, auctions := newAuctionFixture(t)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	for _, id := range []string{"a", "b", "c"} {
		mustAccount(t, store, id, 1000)
	}
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}

	if _, err := auctions.Bid(ctx, "room-1", "a", 100); err != nil {
		t.Fatalf("bid 100: %v", err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "b", 250); err != nil {
		t.Fatalf("bid 250: %v", err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "c", 180); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("bid 180 should be rejected, got %v", err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "c", 300); err != nil {
		t.Fatalf("bid 300: %v", err)
	}

	res, err := auctions.settle(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Winner != "c" || res.Charged != 300 {
		t.Fatalf("unexpected settlement: %+v", res)
	}

	winner, _ := store.GetAccount(ctx, "c")
	if winner.Cash != 700 {
		t.Fatalf("winner should be charged exactly 300, cash=%d", winner.Cash)
	}
	loser, _ := store.GetAccount(ctx, "b")
	if loser.Cash != 1000 {
		t.Fatalf("losing bidder must not be charged, cash=%d", loser.Cash)
	}
	owned, _ := store.OwnedCount(ctx, "c")
	if owned != 1 {
		t.Fatalf("want 1 ownership for winner, got %d", owned)
	}
}

func TestBidRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store, _, auctions := newAuctionFixture(t)
	mustAccount(t, store, "poor", 50)
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}

	if _, err := auctions.Bid(ctx, "room-1", "poor", 100); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "poor", 0); !errors.Is(err, ErrInvalidOperand) {
		t.Fatalf("want ErrInvalidOperand, got %v", err)
	}
}

func TestSettleOnce(t *testing.T) {
	ctx := context.Background()
	store, _, auctions := newAuctionFixture(t)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	mustAccount(t, store, "a", 1000)
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "a", 400); err != nil {
		t.Fatal(err)
	}

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := auctions.Settle(ctx, "room-1"); err != nil {
				t.Errorf("settle: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, _ := store.GetAccount(ctx, "a")
	if acct.Cash != 600 {
		t.Fatalf("winner must be charged exactly once, cash=%d", acct.Cash)
	}
	owned, _ := store.OwnedCount(ctx, "a")
	if owned != 1 {
		t.Fatalf("want 1 ownership, got %d", owned)
	}
	if _, err := store.GetAuction(ctx, "room-1"); !errors.Is(err, ErrNoAuction) {
		t.Fatal("auction should be gone after settlement")
	}
}

func TestSettleWithBrokeWinner(t *testing.T) {
	ctx := context.Background()
	store, sender, auctions := newAuctionFixture(t)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	mustAccount(t, store, "a", 500)
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "a", 400); err != nil {
		t.Fatal(err)
	}

	// The bid is not escrowed; spend the cash out from under it.
	if _, err := store.Debit(ctx, "a", CurrencyCash, 300); err != nil {
		t.Fatal(err)
	}

	res, err := auctions.settle(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Winner != "" {
		t.Fatalf("broke bidder must forfeit, got winner %q", res.Winner)
	}
	owned, _ := store.OwnedCount(ctx, "a")
	if owned != 0 {
		t.Fatalf("no grant expected, got %d", owned)
	}
	acct, _ := store.GetAccount(ctx, "a")
	if acct.Cash != 200 {
		t.Fatalf("no charge expected, cash=%d", acct.Cash)
	}

	var noWinner bool
	for _, m := range sender.messages() {
		if strings.Contains(m.Payload.Text, "no winner") {
			noWinner = true
		}
	}
	if !noWinner {
		t.Fatal("no-winner announcement expected")
	}
}

func TestSettleWithoutBids(t *testing.T) {
	ctx := context.Background()
	store, _, auctions := newAuctionFixture(t)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}

	res, err := auctions.settle(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Winner != "" {
		t.Fatalf("want no winner, got %q", res.Winner)
	}

	// The collectible stays eligible for future spawns.
	if _, err := store.RandomEligible(ctx, RarityMin, RarityMax); err != nil {
		t.Fatalf("collectible should remain eligible: %v", err)
	}
}

func TestDeadlineSweep(t *testing.T) {
	ctx := context.Background()
	store, _, auctions := newAuctionFixture(t)
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	mustAccount(t, store, "a", 1000)
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().UTC().Add(time.Minute)
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", deadline); err != nil {
		t.Fatal(err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "a", 200); err != nil {
		t.Fatal(err)
	}

	auctions.now = func() time.Time { return deadline.Add(time.Second) }
	if err := auctions.SweepExpired(ctx); err != nil {
		t.Fatal(err)
	}

	acct, _ := store.GetAccount(ctx, "a")
	if acct.Cash != 800 {
		t.Fatalf("sweep should settle the expired auction, cash=%d", acct.Cash)
	}
	if _, err := store.GetAuction(ctx, "room-1"); !errors.Is(err, ErrNoAuction) {
		t.Fatal("auction should be gone after the sweep")
	}
}

func TestAuctionWindowClosesOnMessages(t *testing.T) {
	ctx := context.Background()
	store, _, auctions := newAuctionFixture(t)
	auctions.window = 3
	mustCollectible(t, store, "c1", "Naruto Uzumaki", RarityRare)
	mustAccount(t, store, "a", 1000)
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "a", 150); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := auctions.NoteMessage(ctx, "room-1"); err != nil {
			t.Fatal(err)
		}
	}

	acct, _ := store.GetAccount(ctx, "a")
	if acct.Cash != 850 {
		t.Fatalf("window close should settle, cash=%d", acct.Cash)
	}
}

func TestSettleRetriesAfterFailedDelete(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	store := &faultStore{Store: mem, deleteFails: 1}
	sender := newFakeSender()
	auctions := NewAuctionCoordinator(store, sender, NewLeaderboard(mem, nil))

	mustCollectible(t, mem, "c1", "Naruto Uzumaki", RarityRare)
	mustAccount(t, mem, "bidder", 1000)
	if err := mem.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := mem.OpenAuction(ctx, "room-1", "c1", "Naruto Uzumaki", farFuture()); err != nil {
		t.Fatal(err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "bidder", 400); err != nil {
		t.Fatal(err)
	}

	if err := auctions.Settle(ctx, "room-1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("first settle should surface the storage error, got %v", err)
	}

	// The failed attempt must not wedge the auction: it stays biddable
	// and a later settle wins it normally.
	if _, err := auctions.Bid(ctx, "room-1", "bidder", 500); err != nil {
		t.Fatalf("bid after failed settle: %v", err)
	}
	res, err := auctions.settle(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Winner != "bidder" || res.Charged != 500 {
		t.Fatalf("unexpected settlement: %+v", res)
	}
	if _, err := mem.GetAuction(ctx, "room-1"); !errors.Is(err, ErrNoAuction) {
		t.Fatalf("auction should be gone, got %v", err)
	}
}

func TestSettleChargeFailureClosesWithoutWinner(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	store := &faultStore{Store: mem, debitFails: 1}
	sender := newFakeSender()
	auctions := NewAuctionCoordinator(store, sender, NewLeaderboard(mem, nil))

	mustCollectible(t, mem, "c1", "Monkey D. Luffy", RarityRare)
	mustAccount(t, mem, "bidder", 1000)
	if err := mem.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := mem.OpenAuction(ctx, "room-1", "c1", "Monkey D. Luffy", farFuture()); err != nil {
		t.Fatal(err)
	}
	if _, err := auctions.Bid(ctx, "room-1", "bidder", 300); err != nil {
		t.Fatal(err)
	}

	res, err := auctions.settle(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Winner != "" {
		t.Fatalf("charge failure should close without a winner: %+v", res)
	}

	if _, err := mem.GetAuction(ctx, "room-1"); !errors.Is(err, ErrNoAuction) {
		t.Fatalf("auction row must be consumed, got %v", err)
	}
	acct, _ := mem.GetAccount(ctx, "bidder")
	if acct.Cash != 1000 {
		t.Fatalf("bidder must not be charged, cash=%d", acct.Cash)
	}
	owned, _ := mem.OwnedCount(ctx, "bidder")
	if owned != 0 {
		t.Fatalf("nothing should be granted, owned=%d", owned)
	}
	// The collectible stays in the eligible pool for the next spawn.
	if _, err := mem.RandomEligible(ctx, RarityMin, RarityMax); err != nil {
		t.Fatalf("collectible should remain eligible: %v", err)
	}
	msgs := sender.messages()
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1].Payload.Text, "no winner") {
		t.Fatalf("expected a no-winner close announcement, got %+v", msgs)
	}
}
