package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/logger"
)

const (
	defaultAuctionWindow   int64 = 50
	defaultAuctionDeadline       = 10 * time.Minute
	auctionSweepInterval         = 30 * time.Second
)

// AuctionCoordinator runs the timed auction state machine: at most one
// auction per room, strictly-increasing bids with no escrow, and a
// settle-once reservation so the message window and the wall-clock sweep
// can both fire expiry without double-settling.
type AuctionCoordinator struct {
	store       Store
	sender      Sender
	leaderboard *Leaderboard

	window   int64
	deadline time.Duration

	now func() time.Time
}

func NewAuctionCoordinator(store Store, sender Sender, leaderboard *Leaderboard) *AuctionCoordinator {
	return &AuctionCoordinator{
		store:       store,
		sender:      sender,
		leaderboard: leaderboard,
		window:      defaultAuctionWindow,
		deadline:    defaultAuctionDeadline,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// OpenFromSpawn escalates a lingering spawn into an auction. The spawn
// clear is atomic, so a concurrent /grab and an escalation cannot both
// take the collectible.
func (a *AuctionCoordinator) OpenFromSpawn(ctx context.Context, roomID string) error {
	id, name, ok, err := a.store.ClearSpawnIfActive(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	deadline := a.now().Add(a.deadline)
	if err := a.store.OpenAuction(ctx, roomID, id, name, deadline); err != nil {
		if errors.Is(err, ErrAuctionActive) {
			return nil
		}
		return err
	}
	logger.Infof("auction opened: room=%s collectible=%s deadline=%s", roomID, id, deadline.Format(time.RFC3339))

	return a.sender.Send(ctx, roomID, Payload{
		Text: fmt.Sprintf("Nobody grabbed %s! It goes to auction. Place /bid <amount> before time runs out.", name),
	})
}

// NoteMessage counts one room message against the open auction's window,
// settling when the window or the deadline has run out. ErrNoAuction means
// the room has no auction and the caller should treat the message as plain
// activity.
func (a *AuctionCoordinator) NoteMessage(ctx context.Context, roomID string) error {
	count, err := a.store.IncrementAuctionWindow(ctx, roomID)
	if err != nil {
		return err
	}
	if count >= a.window {
		return a.Settle(ctx, roomID)
	}

	auction, err := a.store.GetAuction(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNoAuction) {
			return nil
		}
		return err
	}
	if !a.now().Before(auction.Deadline) {
		return a.Settle(ctx, roomID)
	}
	return nil
}

// Bid applies a strictly-higher bid. The bidder's balance is checked but
// not escrowed; settlement re-checks before charging.
func (a *AuctionCoordinator) Bid(ctx context.Context, roomID, accountID string, amount int64) (*Auction, error) {
	if amount <= 0 {
		return nil, ErrInvalidOperand
	}

	acct, err := a.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Cash < amount {
		return nil, ErrInsufficientFunds
	}

	if err := a.store.ApplyBid(ctx, roomID, accountID, amount); err != nil {
		return nil, err
	}
	return a.store.GetAuction(ctx, roomID)
}

type SettleResult struct {
	Auction *Auction
	// Winner is empty when the auction closed without a valid high bidder.
	Winner  string
	Charged int64
}

// Settle closes the room's auction. Exactly one caller wins the settlement
// reservation; everyone else returns with a nil result.
func (a *AuctionCoordinator) Settle(ctx context.Context, roomID string) error {
	_, err := a.settle(ctx, roomID)
	return err
}

func (a *AuctionCoordinator) settle(ctx context.Context, roomID string) (*SettleResult, error) {
	auction, ok, err := a.store.ClaimSettlement(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	// Consume the auction row before any balance movement. If the delete
	// itself fails the reservation is released so a later settle can
	// retry; after it succeeds every failure degrades to a no-winner
	// close and the collectible stays in the eligible pool.
	if err := a.store.DeleteAuction(ctx, roomID); err != nil {
		if relErr := a.store.ReleaseSettlement(ctx, roomID); relErr != nil {
			logger.Errorf("settlement release failed: room=%s err=%v", roomID, relErr)
		}
		return nil, err
	}

	result := &SettleResult{Auction: auction}
	if auction.HighBidder != "" {
		// The bid was never escrowed; the winner may have spent the cash
		// since. A failed debit forfeits the win.
		_, err := a.store.Debit(ctx, auction.HighBidder, CurrencyCash, auction.HighBid)
		if err == nil {
			result.Winner = auction.HighBidder
			result.Charged = auction.HighBid
		} else if !errors.Is(err, ErrInsufficientFunds) {
			logger.Errorf("settlement charge failed, closing without winner: room=%s bidder=%s err=%v", roomID, auction.HighBidder, err)
		}
	}

	if result.Winner != "" {
		if _, err := a.store.GrantOwnership(ctx, result.Winner, auction.CollectibleID); err != nil {
			logger.Errorf("settlement grant failed, refunding: room=%s winner=%s collectible=%s err=%v", roomID, result.Winner, auction.CollectibleID, err)
			if _, refundErr := a.store.Credit(ctx, result.Winner, CurrencyCash, result.Charged); refundErr != nil {
				logger.Errorf("settlement refund failed: room=%s winner=%s amount=%d err=%v", roomID, result.Winner, result.Charged, refundErr)
			}
			result.Winner = ""
			result.Charged = 0
		} else {
			a.leaderboard.RecordGrant(ctx, result.Winner)
		}
	}

	if result.Winner != "" {
		logger.Infof("auction settled: room=%s winner=%s charge=%d", roomID, result.Winner, result.Charged)
		return result, a.sender.Send(ctx, roomID, Payload{
			Text: fmt.Sprintf("Auction over! %s takes %s for %d cash.", winnerLabel(ctx, a.store, result.Winner), auction.CollectibleName, result.Charged),
		})
	}

	logger.Infof("auction settled without winner: room=%s collectible=%s", roomID, auction.CollectibleID)
	return result, a.sender.Send(ctx, roomID, Payload{
		Text: fmt.Sprintf("Auction for %s closed with no winner.", auction.CollectibleName),
	})
}

func winnerLabel(ctx context.Context, store Store, accountID string) string {
	if a, err := store.GetAccount(ctx, accountID); err == nil && a.FirstName != "" {
		return a.FirstName
	}
	return accountID
}

// SweepExpired settles every auction whose wall-clock deadline has passed,
// covering rooms that went silent before the message window closed.
func (a *AuctionCoordinator) SweepExpired(ctx context.Context) error {
	rooms, err := a.store.ExpiredAuctionRooms(ctx, a.now())
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if err := a.Settle(ctx, roomID); err != nil {
			logger.Errorf("deadline settle failed: room=%s err=%v", roomID, err)
		}
	}
	return nil
}

// Run drives the deadline sweep until ctx is cancelled.
func (a *AuctionCoordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(auctionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SweepExpired(ctx); err != nil {
				logger.Errorf("auction sweep: %v", err)
			}
		}
	}
}
