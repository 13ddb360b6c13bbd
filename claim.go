package main

import (
	"context"
	"errors"
	"strings"

	"github.com/google/logger"
)

const claimReward int64 = 100

// ClaimResolver settles /grab attempts against the room's active spawn.
// Matching is lenient; winning is not: whatever the guess, only the caller
// whose ClearSpawnIfActive lands first takes the collectible.
type ClaimResolver struct {
	store       Store
	leaderboard *Leaderboard
}

func NewClaimResolver(store Store, leaderboard *Leaderboard) *ClaimResolver {
	return &ClaimResolver{store: store, leaderboard: leaderboard}
}

type ClaimResult struct {
	CollectibleID string
	Name          string
	Reward        int64
}

func (r *ClaimResolver) Grab(ctx context.Context, roomID, accountID, guess string) (*ClaimResult, error) {
	if _, err := r.store.GetAuction(ctx, roomID); err == nil {
		return nil, ErrAuctionActive
	} else if !errors.Is(err, ErrNoAuction) {
		return nil, err
	}

	room, err := r.store.ActiveSpawn(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoActiveSpawn
		}
		return nil, err
	}
	if !room.SpawnActive() || room.ActiveName == "" {
		return nil, ErrNoActiveSpawn
	}
	if !guessMatches(guess, room.ActiveName) {
		return nil, ErrWrongGuess
	}

	id, name, won, err := r.store.ClearSpawnIfActive(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNoActiveSpawn
	}

	if _, err := r.store.Credit(ctx, accountID, CurrencyCrimson, claimReward); err != nil {
		r.restoreSpawn(ctx, roomID, accountID, id, name, err)
		return nil, err
	}
	if _, err := r.store.GrantOwnership(ctx, accountID, id); err != nil {
		r.restoreSpawn(ctx, roomID, accountID, id, name, err)
		return nil, err
	}
	r.leaderboard.RecordGrant(ctx, accountID)

	logger.Infof("claim: room=%s account=%s collectible=%s", roomID, accountID, id)
	return &ClaimResult{CollectibleID: id, Name: name, Reward: claimReward}, nil
}

// restoreSpawn puts the collectible back up after a grant that failed past
// the winning clear, so it is not silently lost. A zero threshold makes
// the reservation unconditional; if another spawn raced in meanwhile the
// orphan is logged for operator repair instead.
func (r *ClaimResolver) restoreSpawn(ctx context.Context, roomID, accountID, id, name string, cause error) {
	logger.Errorf("claim grant failed: room=%s account=%s collectible=%s err=%v", roomID, accountID, id, cause)
	ok, err := r.store.ReserveSpawn(ctx, roomID, 0)
	if err == nil && ok {
		err = r.store.PublishSpawn(ctx, roomID, id, name)
	}
	if err != nil || !ok {
		logger.Errorf("collectible orphaned, manual repair needed: room=%s collectible=%s err=%v", roomID, id, err)
	}
}

// guessMatches accepts the full name, any whitespace token of it, or a
// prefix of a token when the guess is at least three characters long.
func guessMatches(guess, name string) bool {
	guess = strings.ToLower(strings.Join(strings.Fields(guess), " "))
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	if guess == "" || name == "" {
		return false
	}
	if guess == name {
		return true
	}
	for _, token := range strings.Fields(name) {
		if guess == token {
			return true
		}
		if len(guess) >= 3 && strings.HasPrefix(token, guess) {
			return true
		}
	}
	return false
}
