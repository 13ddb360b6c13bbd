package main

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/logger"
)

const (
	dailyReward       int64 = 50000
	dailyWindow             = 24 * time.Hour
	dailyStreakBreak        = 48 * time.Hour
	weeklyReward      int64 = 3000000
	weeklyWindow            = 7 * 24 * time.Hour
	weeklyStreakBreak       = 14 * 24 * time.Hour
	firstClaimReward  int64 = 5000000
	exploreWindow           = 60 * time.Second
	exploreMin        int64 = 2000
	exploreMax        int64 = 7000
)

// firstClaimWindow is effectively forever; the cooldown mark doubles as the
// "already claimed" flag.
const firstClaimWindow = 100 * 365 * 24 * time.Hour

// Ledger owns every balance-mutating path. All races funnel into the
// Store's atomic conditionals, so concurrent callers can never double-grant
// or underflow.
type Ledger struct {
	store Store
	// leaderboard is told about purchases; nil-safe for callers that do
	// not keep one.
	leaderboard *Leaderboard

	// roll returns a value in [0, n); swapped out in tests.
	roll func(n int64) int64
	now  func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		roll:  rand.Int63n,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Bootstrap(ctx context.Context, accountID, username, firstName string) (*Account, error) {
	return l.store.EnsureAccount(ctx, accountID, username, firstName)
}

func (l *Ledger) Balance(ctx context.Context, accountID string) (*Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

type BonusResult struct {
	Reward int64
	Streak int64
}

func (l *Ledger) DailyBonus(ctx context.Context, accountID string) (*BonusResult, error) {
	return l.timedBonus(ctx, accountID, "daily", dailyWindow, dailyStreakBreak, dailyReward)
}

func (l *Ledger) WeeklyBonus(ctx context.Context, accountID string) (*BonusResult, error) {
	return l.timedBonus(ctx, accountID, "weekly", weeklyWindow, weeklyStreakBreak, weeklyReward)
}

func (l *Ledger) timedBonus(ctx context.Context, accountID, key string, window, streakBreak time.Duration, reward int64) (*BonusResult, error) {
	remaining, last, err := l.store.CheckAndMarkCooldown(ctx, accountID, key, window)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, &CooldownError{RemainingSeconds: remaining}
	}

	// last came back from the same atomic mark, so the streak decision
	// cannot race a concurrent claim.
	reset := !last.IsZero() && l.now().Sub(last) >= streakBreak
	streak, err := l.store.AdvanceStreak(ctx, accountID, key, reset)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.Credit(ctx, accountID, CurrencyCash, reward); err != nil {
		return nil, err
	}
	logger.Infof("%s bonus: account=%s reward=%d streak=%d", key, accountID, reward, streak)
	return &BonusResult{Reward: reward, Streak: streak}, nil
}

// FirstClaim pays the one-time starter grant. The cooldown mark is the
// claimed flag, so concurrent retries collapse to a single payout.
func (l *Ledger) FirstClaim(ctx context.Context, accountID string) (int64, error) {
	remaining, _, err := l.store.CheckAndMarkCooldown(ctx, accountID, "first_claim", firstClaimWindow)
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		return 0, ErrExhausted
	}
	if _, err := l.store.Credit(ctx, accountID, CurrencyCash, firstClaimReward); err != nil {
		return 0, err
	}
	return firstClaimReward, nil
}

func (l *Ledger) Explore(ctx context.Context, accountID string) (int64, error) {
	remaining, _, err := l.store.CheckAndMarkCooldown(ctx, accountID, "explore", exploreWindow)
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		return 0, &CooldownError{RemainingSeconds: remaining}
	}

	found := exploreMin + l.roll(exploreMax-exploreMin+1)
	if _, err := l.store.Credit(ctx, accountID, CurrencyCash, found); err != nil {
		return 0, err
	}
	return found, nil
}

func (l *Ledger) Pay(ctx context.Context, from, to string, amount int64) (int64, error) {
	if amount <= 0 || from == to {
		return 0, ErrInvalidOperand
	}
	remaining, err := l.store.Transfer(ctx, from, to, CurrencyCash, amount)
	if err != nil {
		return remaining, err
	}
	logger.Infof("pay: %s -> %s amount=%d", from, to, amount)
	return remaining, nil
}

// Buy purchases a catalog collectible outright at its tier price. Locked
// entries are out of circulation and behave as absent.
func (l *Ledger) Buy(ctx context.Context, accountID, collectibleID string) (*Collectible, int64, error) {
	c, err := l.store.GetCollectible(ctx, collectibleID)
	if err != nil {
		return nil, 0, err
	}
	if c.Locked {
		return nil, 0, ErrNotFound
	}
	remaining, err := l.store.Debit(ctx, accountID, CurrencyCash, c.Price)
	if err != nil {
		return nil, remaining, err
	}
	if _, err := l.store.GrantOwnership(ctx, accountID, c.CollectibleID); err != nil {
		logger.Errorf("buy grant failed, refunding: account=%s collectible=%s err=%v", accountID, c.CollectibleID, err)
		if _, refundErr := l.store.Credit(ctx, accountID, CurrencyCash, c.Price); refundErr != nil {
			logger.Errorf("buy refund failed: account=%s amount=%d err=%v", accountID, c.Price, refundErr)
		}
		return nil, 0, err
	}
	l.leaderboard.RecordGrant(ctx, accountID)
	logger.Infof("buy: account=%s collectible=%s price=%d", accountID, c.CollectibleID, c.Price)
	return c, remaining, nil
}

// Collection lists what an account owns, one line per collectible with a
// copy count, rarest first.
func (l *Ledger) Collection(ctx context.Context, accountID string) ([]OwnedItem, error) {
	return l.store.ListOwned(ctx, accountID)
}

func (l *Ledger) SetFavorite(ctx context.Context, accountID, collectibleID string) (*Collectible, error) {
	c, err := l.store.GetCollectible(ctx, collectibleID)
	if err != nil {
		return nil, err
	}
	if err := l.store.SetFavorite(ctx, accountID, collectibleID); err != nil {
		return nil, err
	}
	return c, nil
}

type RedeemResult struct {
	Code      *RedeemCode
	Remaining int
	// Granted is set when the code pays a collectible.
	Granted *Collectible
}

func (l *Ledger) Redeem(ctx context.Context, accountID, code string) (*RedeemResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidOperand
	}

	row, remaining, err := l.store.RedeemIfAvailable(ctx, code)
	if err != nil {
		return nil, err
	}

	result := &RedeemResult{Code: row, Remaining: remaining}
	switch row.CodeType {
	case CodeTypeCash:
		if _, err := l.store.Credit(ctx, accountID, CurrencyCash, row.Amount); err != nil {
			return nil, err
		}
	case CodeTypeCollectible:
		c, err := l.store.GetCollectible(ctx, row.CollectibleID)
		if err != nil {
			return nil, err
		}
		if _, err := l.store.GrantOwnership(ctx, accountID, c.CollectibleID); err != nil {
			return nil, err
		}
		result.Granted = c
	default:
		return nil, ErrInvalidOperand
	}
	logger.Infof("redeem: account=%s code=%s remaining=%d", accountID, code, remaining)
	return result, nil
}

func (l *Ledger) MintCashCode(ctx context.Context, creator, code string, amount int64, maxUses int) error {
	if strings.TrimSpace(code) == "" || amount <= 0 || maxUses <= 0 {
		return ErrInvalidOperand
	}
	return l.store.CreateRedeemCode(ctx, &RedeemCode{
		Code:      strings.TrimSpace(code),
		CodeType:  CodeTypeCash,
		Amount:    amount,
		MaxUses:   maxUses,
		CreatedBy: creator,
	})
}

func (l *Ledger) MintCollectibleCode(ctx context.Context, creator, code, collectibleID string, maxUses int) error {
	if strings.TrimSpace(code) == "" || maxUses <= 0 {
		return ErrInvalidOperand
	}
	if _, err := l.store.GetCollectible(ctx, collectibleID); err != nil {
		return err
	}
	return l.store.CreateRedeemCode(ctx, &RedeemCode{
		Code:          strings.TrimSpace(code),
		CodeType:      CodeTypeCollectible,
		CollectibleID: collectibleID,
		MaxUses:       maxUses,
		CreatedBy:     creator,
	})
}

func (l *Ledger) DeleteCode(ctx context.Context, code string) error {
	return l.store.DeleteRedeemCode(ctx, strings.TrimSpace(code))
}
