package main

import (
	"context"
	"errors"

	"github.com/google/logger"
)

const (
	defaultSpawnThreshold int64 = 100
	defaultAuctionAfter   int64 = 50

	// Ordinary spawns draw from tiers 1..13; the top tiers only enter
	// circulation through redeem codes and operator grants.
	defaultSpawnRarityMin = Rarity(1)
	defaultSpawnRarityMax = Rarity(13)
)

// SpawnCoordinator turns room chatter into spawns. Every ordinary message
// funnels through HandleActivity; the Store's reservation makes the
// threshold trigger fire for exactly one message even when a burst lands
// concurrently.
type SpawnCoordinator struct {
	store    Store
	sender   Sender
	auctions *AuctionCoordinator

	threshold    int64
	auctionAfter int64
	rarityMin    Rarity
	rarityMax    Rarity
}

func NewSpawnCoordinator(store Store, sender Sender, auctions *AuctionCoordinator) *SpawnCoordinator {
	return &SpawnCoordinator{
		store:        store,
		sender:       sender,
		auctions:     auctions,
		threshold:    defaultSpawnThreshold,
		auctionAfter: defaultAuctionAfter,
		rarityMin:    defaultSpawnRarityMin,
		rarityMax:    defaultSpawnRarityMax,
	}
}

// HandleActivity records one message and advances whatever phase the room
// is in: counting toward a spawn, waiting out an unclaimed spawn, or
// counting an auction window down.
func (s *SpawnCoordinator) HandleActivity(ctx context.Context, roomID string) error {
	err := s.auctions.NoteMessage(ctx, roomID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNoAuction) {
		return err
	}

	room, err := s.store.IncrementActivity(ctx, roomID)
	if err != nil {
		return err
	}

	if room.SpawnActive() {
		if room.MessageCount >= s.auctionAfter {
			return s.auctions.OpenFromSpawn(ctx, roomID)
		}
		return nil
	}

	reserved, err := s.store.ReserveSpawn(ctx, roomID, s.threshold)
	if err != nil || !reserved {
		return err
	}
	return s.publish(ctx, roomID)
}

func (s *SpawnCoordinator) publish(ctx context.Context, roomID string) error {
	col, err := s.store.RandomEligible(ctx, s.rarityMin, s.rarityMax)
	if err != nil {
		// Empty catalog: give the slot back so the room keeps counting.
		if relErr := s.store.ReleaseSpawn(ctx, roomID); relErr != nil {
			return relErr
		}
		if errors.Is(err, ErrNotFound) {
			logger.Warningf("spawn skipped: room=%s no eligible collectibles", roomID)
			return nil
		}
		return err
	}

	if err := s.store.PublishSpawn(ctx, roomID, col.CollectibleID, col.Name); err != nil {
		return err
	}
	logger.Infof("spawn published: room=%s collectible=%s", roomID, col.CollectibleID)

	return s.sender.Send(ctx, roomID, Payload{
		MediaRef: col.MediaRef,
		Caption:  "A wild collectible appeared! Type /grab <name> to claim it.",
		Spoiler:  true,
	})
}
