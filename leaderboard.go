package main

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/google/logger"
)

const leaderboardKey = "lb:collectors"

// Leaderboard keeps a live collectors ranking in a redis sorted set so the
// hot read path never touches Postgres. When redis is not configured every
// read falls through to the store's aggregate query.
type Leaderboard struct {
	store Store
	rdb   *redis.Client
}

func NewLeaderboard(store Store, rdb *redis.Client) *Leaderboard {
	return &Leaderboard{store: store, rdb: rdb}
}

// RecordGrant bumps the account's score. Failures only cost cache
// freshness, so they are logged and swallowed.
func (l *Leaderboard) RecordGrant(ctx context.Context, accountID string) {
	if l == nil || l.rdb == nil {
		return
	}
	if err := l.rdb.ZIncrBy(ctx, leaderboardKey, 1, accountID).Err(); err != nil {
		logger.Warningf("leaderboard incr failed: %v", err)
	}
}

// Rebuild replaces the cached ranking with the store's aggregate, used at
// startup and after a catalog purge invalidates cached counts.
func (l *Leaderboard) Rebuild(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	entries, err := l.store.TopCollectors(ctx, 0)
	if err != nil {
		return err
	}
	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, leaderboardKey)
	for _, e := range entries {
		pipe.ZIncrBy(ctx, leaderboardKey, float64(e.Owned), e.AccountID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (l *Leaderboard) Top(ctx context.Context, limit int) ([]CollectorEntry, error) {
	if l == nil || l.rdb == nil {
		return l.fallback(ctx, limit)
	}

	scores, err := l.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil || len(scores) == 0 {
		if err != nil {
			logger.Warningf("leaderboard read failed, using store: %v", err)
		}
		return l.fallback(ctx, limit)
	}

	entries := make([]CollectorEntry, 0, len(scores))
	for _, z := range scores {
		id, _ := z.Member.(string)
		e := CollectorEntry{AccountID: id, Owned: int64(z.Score)}
		if a, err := l.store.GetAccount(ctx, id); err == nil {
			e.FirstName = a.FirstName
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *Leaderboard) fallback(ctx context.Context, limit int) ([]CollectorEntry, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.TopCollectors(ctx, limit)
}
