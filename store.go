package main

import (
	"context"
	"time"
)

// Currency names one of the independent account balances.
type Currency string

const (
	CurrencyCash    Currency = "cash"
	CurrencyCrimson Currency = "crimson"
	CurrencyGems    Currency = "gems"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyCash, CurrencyCrimson, CurrencyGems:
		return true
	}
	return false
}

type Account struct {
	AccountID    string
	Username     string
	FirstName    string
	Cash         int64
	Crimson      int64
	Gems         int64
	FavoriteID   string
	DailyStreak  int64
	WeeklyStreak int64
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

func (a *Account) Balance(cur Currency) int64 {
	switch cur {
	case CurrencyCash:
		return a.Cash
	case CurrencyCrimson:
		return a.Crimson
	case CurrencyGems:
		return a.Gems
	}
	return 0
}

type Collectible struct {
	CollectibleID string
	Name          string
	Series        string
	Rarity        Rarity
	MediaRef      string
	Price         int64
	Locked        bool
	UploadedBy    string
	CreatedAt     time.Time
}

type Ownership struct {
	OwnershipID   string
	AccountID     string
	CollectibleID string
	AcquiredAt    time.Time
}

// RoomState tracks per-room activity. ActiveCollectibleID is empty when no
// spawn is pending; while a reservation holds the slot it carries a
// placeholder the store implementation chooses.
type RoomState struct {
	RoomID              string
	MessageCount        int64
	ActiveCollectibleID string
	ActiveName          string
}

func (s *RoomState) SpawnActive() bool {
	return s.ActiveCollectibleID != ""
}

type Auction struct {
	RoomID          string
	CollectibleID   string
	CollectibleName string
	HighBid         int64
	HighBidder      string
	WindowCount     int64
	Deadline        time.Time
	CreatedAt       time.Time
}

const (
	CodeTypeCash        = "cash"
	CodeTypeCollectible = "collectible"
)

type RedeemCode struct {
	Code          string
	CodeType      string
	Amount        int64
	CollectibleID string
	MaxUses       int
	Uses          int
	CreatedBy     string
	CreatedAt     time.Time
}

type CollectorEntry struct {
	AccountID string
	FirstName string
	Owned     int64
}

// OwnedItem is one line of an account's collection: a collectible and how
// many copies the account holds.
type OwnedItem struct {
	CollectibleID string
	Name          string
	Rarity        Rarity
	Count         int64
}

// Store is the persistence boundary. Every mutation that more than one
// caller can race on is a single atomic conditional operation: the
// implementation must never expose a read-then-write gap for these.
type Store interface {
	// Accounts and balances.
	EnsureAccount(ctx context.Context, accountID, username, firstName string) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	Credit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error)
	// Debit fails with ErrInsufficientFunds without mutating when the
	// balance is short.
	Debit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error)
	// Transfer debits from and credits to as one unit; a failed credit
	// rolls the debit back.
	Transfer(ctx context.Context, from, to string, cur Currency, amount int64) (int64, error)
	SetFavorite(ctx context.Context, accountID, collectibleID string) error
	AdvanceStreak(ctx context.Context, accountID, key string, reset bool) (int64, error)
	ListAccountIDs(ctx context.Context) ([]string, error)

	// Cooldowns. CheckAndMarkCooldown returns 0 and records now when the
	// previous mark is absent or outside the window; otherwise it returns
	// the remaining seconds and leaves the mark untouched. The previous
	// mark (zero when absent) comes back from the same atomic operation so
	// callers can make streak decisions without a second read.
	CheckAndMarkCooldown(ctx context.Context, accountID, actionKey string, window time.Duration) (int64, time.Time, error)

	// Catalog.
	CreateCollectible(ctx context.Context, c *Collectible) error
	GetCollectible(ctx context.Context, collectibleID string) (*Collectible, error)
	UpdateCollectible(ctx context.Context, c *Collectible) error
	SetCollectibleLocked(ctx context.Context, collectibleID string, locked bool) error
	// PurgeCollectible removes the catalog entry and every ownership row
	// that references it.
	PurgeCollectible(ctx context.Context, collectibleID string) error
	// RandomEligible picks uniformly among unlocked collectibles in the
	// inclusive tier range; ErrNotFound when the pool is empty.
	RandomEligible(ctx context.Context, minRarity, maxRarity Rarity) (*Collectible, error)

	// Ownership. Duplicates are kept and counted.
	GrantOwnership(ctx context.Context, accountID, collectibleID string) (*Ownership, error)
	OwnedCount(ctx context.Context, accountID string) (int64, error)
	// ListOwned aggregates an account's collection per collectible,
	// rarest first.
	ListOwned(ctx context.Context, accountID string) ([]OwnedItem, error)
	TopCollectors(ctx context.Context, limit int) ([]CollectorEntry, error)

	// Room activity and spawns.
	EnsureRoom(ctx context.Context, roomID string) error
	IncrementActivity(ctx context.Context, roomID string) (*RoomState, error)
	// ReserveSpawn atomically claims the spawn slot: it succeeds for
	// exactly one caller when no spawn is active and the counter has
	// reached the threshold, and resets the counter as part of the same
	// operation.
	ReserveSpawn(ctx context.Context, roomID string, threshold int64) (bool, error)
	PublishSpawn(ctx context.Context, roomID, collectibleID, name string) error
	ReleaseSpawn(ctx context.Context, roomID string) error
	ActiveSpawn(ctx context.Context, roomID string) (*RoomState, error)
	// ClearSpawnIfActive atomically clears the active spawn and resets the
	// counter; ok is true for exactly one caller per spawn.
	ClearSpawnIfActive(ctx context.Context, roomID string) (collectibleID, name string, ok bool, err error)
	ListRoomIDs(ctx context.Context) ([]string, error)

	// Auctions, at most one per room.
	OpenAuction(ctx context.Context, roomID, collectibleID, name string, deadline time.Time) error
	GetAuction(ctx context.Context, roomID string) (*Auction, error)
	// ApplyBid atomically replaces the high bid when amount is strictly
	// greater; ErrBidTooLow otherwise, ErrNoAuction when nothing is listed.
	ApplyBid(ctx context.Context, roomID, bidder string, amount int64) error
	IncrementAuctionWindow(ctx context.Context, roomID string) (int64, error)
	// ClaimSettlement atomically marks the auction as settling; ok is true
	// for exactly one caller.
	ClaimSettlement(ctx context.Context, roomID string) (*Auction, bool, error)
	// ReleaseSettlement undoes a claimed settlement whose work could not
	// start, making the auction expirable again.
	ReleaseSettlement(ctx context.Context, roomID string) error
	DeleteAuction(ctx context.Context, roomID string) error
	ExpiredAuctionRooms(ctx context.Context, now time.Time) ([]string, error)

	// Redeemable grants.
	CreateRedeemCode(ctx context.Context, code *RedeemCode) error
	DeleteRedeemCode(ctx context.Context, code string) error
	// RedeemIfAvailable atomically increments the use count if and only if
	// uses < max_uses, returning the code row and the remaining uses.
	// ErrNotFound when absent, ErrExhausted when at cap.
	RedeemIfAvailable(ctx context.Context, code string) (*RedeemCode, int, error)
}
