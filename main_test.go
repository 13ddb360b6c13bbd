package main

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/google/logger"
)

func TestMain(m *testing.M) {
	defer logger.Init("test", false, false, io.Discard).Close()
	os.Exit(m.Run())
}

type sentMessage struct {
	Target  string
	Payload Payload
}

// fakeSender records every send and can be armed with per-target failures.
// A queued error is consumed one attempt at a time; the sticky flag repeats
// the last error forever.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	queued map[string][]error
	sticky map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		queued: make(map[string][]error),
		sticky: make(map[string]error),
	}
}

func (f *fakeSender) Send(ctx context.Context, target string, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.queued[target]; len(errs) > 0 {
		err := errs[0]
		f.queued[target] = errs[1:]
		return err
	}
	if err := f.sticky[target]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{Target: target, Payload: p})
	return nil
}

func (f *fakeSender) failNext(target string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[target] = append(f.queued[target], errs...)
}

func (f *fakeSender) failAlways(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky[target] = err
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) countTo(target string) int {
	var n int
	for _, m := range f.messages() {
		if m.Target == target {
			n++
		}
	}
	return n
}

// faultStore wraps a Store and fails selected operations a set number of
// times before passing through.
type faultStore struct {
	Store
	mu          sync.Mutex
	debitFails  int
	grantFails  int
	deleteFails int
}

func (f *faultStore) Debit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error) {
	f.mu.Lock()
	fail := f.debitFails > 0
	if fail {
		f.debitFails--
	}
	f.mu.Unlock()
	if fail {
		return 0, ErrStorageUnavailable
	}
	return f.Store.Debit(ctx, accountID, cur, amount)
}

func (f *faultStore) GrantOwnership(ctx context.Context, accountID, collectibleID string) (*Ownership, error) {
	f.mu.Lock()
	fail := f.grantFails > 0
	if fail {
		f.grantFails--
	}
	f.mu.Unlock()
	if fail {
		return nil, ErrStorageUnavailable
	}
	return f.Store.GrantOwnership(ctx, accountID, collectibleID)
}

func (f *faultStore) DeleteAuction(ctx context.Context, roomID string) error {
	f.mu.Lock()
	fail := f.deleteFails > 0
	if fail {
		f.deleteFails--
	}
	f.mu.Unlock()
	if fail {
		return ErrStorageUnavailable
	}
	return f.Store.DeleteAuction(ctx, roomID)
}

func mustAccount(t *testing.T, store Store, id string, cash int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnsureAccount(ctx, id, id, id); err != nil {
		t.Fatalf("ensure account %s: %v", id, err)
	}
	if cash > 0 {
		if _, err := store.Credit(ctx, id, CurrencyCash, cash); err != nil {
			t.Fatalf("credit %s: %v", id, err)
		}
	}
}

func mustCollectible(t *testing.T, store Store, id, name string, rarity Rarity) *Collectible {
	t.Helper()
	c := &Collectible{
		CollectibleID: id,
		Name:          name,
		Rarity:        rarity,
		Price:         rarity.Price(),
	}
	if err := store.CreateCollectible(context.Background(), c); err != nil {
		t.Fatalf("create collectible %s: %v", id, err)
	}
	return c
}
