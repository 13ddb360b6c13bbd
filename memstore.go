package main

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// spawnReservedID marks a spawn slot that has been won but not yet
// published with a real collectible.
const spawnReservedID = "__reserved__"

// MemStore is the in-process Store used by DEV_MODE runs and the test
// suite. One mutex serializes everything; the atomic conditional contracts
// of the Store interface fall out of holding it across each operation.
type MemStore struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	cooldowns map[string]time.Time // accountID|actionKey
	catalog   map[string]*Collectible
	owned     []*Ownership
	rooms     map[string]*RoomState
	auctions  map[string]*memAuction
	codes     map[string]*RedeemCode

	now func() time.Time
}

type memAuction struct {
	Auction
	settling bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts:  make(map[string]*Account),
		cooldowns: make(map[string]time.Time),
		catalog:   make(map[string]*Collectible),
		rooms:     make(map[string]*RoomState),
		auctions:  make(map[string]*memAuction),
		codes:     make(map[string]*RedeemCode),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemStore) EnsureAccount(ctx context.Context, accountID, username, firstName string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[accountID]; ok {
		if username != "" {
			a.Username = username
		}
		if firstName != "" {
			a.FirstName = firstName
		}
		a.LastSeenAt = s.now()
		copy := *a
		return &copy, nil
	}

	a := &Account{
		AccountID:  accountID,
		Username:   username,
		FirstName:  firstName,
		CreatedAt:  s.now(),
		LastSeenAt: s.now(),
	}
	s.accounts[accountID] = a
	copy := *a
	return &copy, nil
}

func (s *MemStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemStore) balancePtr(a *Account, cur Currency) *int64 {
	switch cur {
	case CurrencyCash:
		return &a.Cash
	case CurrencyCrimson:
		return &a.Crimson
	case CurrencyGems:
		return &a.Gems
	}
	return nil
}

func (s *MemStore) Credit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	bal := s.balancePtr(a, cur)
	if bal == nil {
		return 0, ErrInvalidOperand
	}
	*bal += amount
	return *bal, nil
}

func (s *MemStore) Debit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.debitLocked(accountID, cur, amount)
}

func (s *MemStore) debitLocked(accountID string, cur Currency, amount int64) (int64, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	bal := s.balancePtr(a, cur)
	if bal == nil {
		return 0, ErrInvalidOperand
	}
	if *bal < amount {
		return *bal, ErrInsufficientFunds
	}
	*bal -= amount
	return *bal, nil
}

func (s *MemStore) Transfer(ctx context.Context, from, to string, cur Currency, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[to]; !ok {
		return 0, ErrNotFound
	}
	remaining, err := s.debitLocked(from, cur, amount)
	if err != nil {
		return remaining, err
	}
	dst := s.balancePtr(s.accounts[to], cur)
	*dst += amount
	return remaining, nil
}

func (s *MemStore) SetFavorite(ctx context.Context, accountID, collectibleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.FavoriteID = collectibleID
	return nil
}

func (s *MemStore) AdvanceStreak(ctx context.Context, accountID, key string, reset bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	var streak *int64
	switch key {
	case "daily":
		streak = &a.DailyStreak
	case "weekly":
		streak = &a.WeeklyStreak
	default:
		return 0, ErrInvalidOperand
	}
	if reset {
		*streak = 1
	} else {
		*streak++
	}
	return *streak, nil
}

func (s *MemStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) CheckAndMarkCooldown(ctx context.Context, accountID, actionKey string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountID + "|" + actionKey
	now := s.now()
	last := s.cooldowns[key]
	if !last.IsZero() {
		next := last.Add(window)
		if now.Before(next) {
			remaining := int64(next.Sub(now).Seconds())
			if remaining < 1 {
				remaining = 1
			}
			return remaining, last, nil
		}
	}
	s.cooldowns[key] = now
	return 0, last, nil
}

func (s *MemStore) CreateCollectible(ctx context.Context, c *Collectible) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	s.catalog[c.CollectibleID] = &copy
	return nil
}

func (s *MemStore) GetCollectible(ctx context.Context, collectibleID string) (*Collectible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.catalog[collectibleID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *c
	return &copy, nil
}

func (s *MemStore) UpdateCollectible(ctx context.Context, c *Collectible) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[c.CollectibleID]; !ok {
		return ErrNotFound
	}
	copy := *c
	s.catalog[c.CollectibleID] = &copy
	return nil
}

func (s *MemStore) SetCollectibleLocked(ctx context.Context, collectibleID string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.catalog[collectibleID]
	if !ok {
		return ErrNotFound
	}
	c.Locked = locked
	return nil
}

func (s *MemStore) PurgeCollectible(ctx context.Context, collectibleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[collectibleID]; !ok {
		return ErrNotFound
	}
	delete(s.catalog, collectibleID)

	kept := s.owned[:0]
	for _, o := range s.owned {
		if o.CollectibleID != collectibleID {
			kept = append(kept, o)
		}
	}
	s.owned = kept
	return nil
}

func (s *MemStore) RandomEligible(ctx context.Context, minRarity, maxRarity Rarity) (*Collectible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pool []*Collectible
	for _, c := range s.catalog {
		if c.Locked {
			continue
		}
		if c.Rarity < minRarity || c.Rarity > maxRarity {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) == 0 {
		return nil, ErrNotFound
	}
	copy := *pool[rand.Intn(len(pool))]
	return &copy, nil
}

func (s *MemStore) GrantOwnership(ctx context.Context, accountID, collectibleID string) (*Ownership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &Ownership{
		OwnershipID:   uuid.NewString(),
		AccountID:     accountID,
		CollectibleID: collectibleID,
		AcquiredAt:    s.now(),
	}
	s.owned = append(s.owned, o)
	copy := *o
	return &copy, nil
}

func (s *MemStore) OwnedCount(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, o := range s.owned {
		if o.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) ListOwned(ctx context.Context, accountID string) ([]OwnedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, o := range s.owned {
		if o.AccountID == accountID {
			counts[o.CollectibleID]++
		}
	}
	items := make([]OwnedItem, 0, len(counts))
	for id, n := range counts {
		item := OwnedItem{CollectibleID: id, Count: n}
		if c, ok := s.catalog[id]; ok {
			item.Name = c.Name
			item.Rarity = c.Rarity
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Rarity != items[j].Rarity {
			return items[i].Rarity > items[j].Rarity
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (s *MemStore) TopCollectors(ctx context.Context, limit int) ([]CollectorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, o := range s.owned {
		counts[o.AccountID]++
	}
	entries := make([]CollectorEntry, 0, len(counts))
	for id, owned := range counts {
		entry := CollectorEntry{AccountID: id, Owned: owned}
		if a, ok := s.accounts[id]; ok {
			entry.FirstName = a.FirstName
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Owned != entries[j].Owned {
			return entries[i].Owned > entries[j].Owned
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemStore) EnsureRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = &RoomState{RoomID: roomID}
	}
	return nil
}

func (s *MemStore) IncrementActivity(ctx context.Context, roomID string) (*RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = &RoomState{RoomID: roomID}
		s.rooms[roomID] = room
	}
	room.MessageCount++
	copy := *room
	return &copy, nil
}

func (s *MemStore) ReserveSpawn(ctx context.Context, roomID string, threshold int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	if room.ActiveCollectibleID != "" || room.MessageCount < threshold {
		return false, nil
	}
	room.ActiveCollectibleID = spawnReservedID
	room.ActiveName = ""
	room.MessageCount = 0
	return true, nil
}

func (s *MemStore) PublishSpawn(ctx context.Context, roomID, collectibleID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok || room.ActiveCollectibleID != spawnReservedID {
		return ErrNotFound
	}
	room.ActiveCollectibleID = collectibleID
	room.ActiveName = name
	return nil
}

func (s *MemStore) ReleaseSpawn(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.ActiveCollectibleID = ""
	room.ActiveName = ""
	room.MessageCount = 0
	return nil
}

func (s *MemStore) ActiveSpawn(ctx context.Context, roomID string) (*RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *room
	return &copy, nil
}

func (s *MemStore) ClearSpawnIfActive(ctx context.Context, roomID string) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return "", "", false, nil
	}
	if room.ActiveCollectibleID == "" || room.ActiveCollectibleID == spawnReservedID {
		return "", "", false, nil
	}
	id, name := room.ActiveCollectibleID, room.ActiveName
	room.ActiveCollectibleID = ""
	room.ActiveName = ""
	room.MessageCount = 0
	return id, name, true, nil
}

func (s *MemStore) ListRoomIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) OpenAuction(ctx context.Context, roomID, collectibleID, name string, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[roomID]; ok {
		return ErrAuctionActive
	}
	s.auctions[roomID] = &memAuction{Auction: Auction{
		RoomID:          roomID,
		CollectibleID:   collectibleID,
		CollectibleName: name,
		Deadline:        deadline,
		CreatedAt:       s.now(),
	}}
	return nil
}

func (s *MemStore) GetAuction(ctx context.Context, roomID string) (*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[roomID]
	if !ok {
		return nil, ErrNoAuction
	}
	copy := a.Auction
	return &copy, nil
}

func (s *MemStore) ApplyBid(ctx context.Context, roomID, bidder string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[roomID]
	if !ok || a.settling {
		return ErrNoAuction
	}
	if amount <= a.HighBid {
		return ErrBidTooLow
	}
	a.HighBid = amount
	a.HighBidder = bidder
	return nil
}

func (s *MemStore) IncrementAuctionWindow(ctx context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[roomID]
	if !ok {
		return 0, ErrNoAuction
	}
	a.WindowCount++
	return a.WindowCount, nil
}

func (s *MemStore) ClaimSettlement(ctx context.Context, roomID string) (*Auction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[roomID]
	if !ok || a.settling {
		return nil, false, nil
	}
	a.settling = true
	copy := a.Auction
	return &copy, true, nil
}

func (s *MemStore) ReleaseSettlement(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.auctions[roomID]; ok {
		a.settling = false
	}
	return nil
}

func (s *MemStore) DeleteAuction(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.auctions, roomID)
	return nil
}

func (s *MemStore) ExpiredAuctionRooms(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, a := range s.auctions {
		if !a.settling && !a.Deadline.IsZero() && !now.Before(a.Deadline) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) CreateRedeemCode(ctx context.Context, code *RedeemCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *code
	s.codes[code.Code] = &copy
	return nil
}

func (s *MemStore) DeleteRedeemCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; !ok {
		return ErrNotFound
	}
	delete(s.codes, code)
	return nil
}

func (s *MemStore) RedeemIfAvailable(ctx context.Context, code string) (*RedeemCode, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, 0, ErrNotFound
	}
	if c.Uses >= c.MaxUses {
		return nil, 0, ErrExhausted
	}
	c.Uses++
	copy := *c
	return &copy, c.MaxUses - c.Uses, nil
}
