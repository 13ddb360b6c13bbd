package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
)

// Catalog manages the collectible roster. All entry points are privileged;
// the caller gates on operator identity before reaching here.
type Catalog struct {
	store Store
}

func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

type UploadInput struct {
	Name     string
	Series   string
	Rarity   Rarity
	MediaRef string
	Uploader string
}

func (c *Catalog) Upload(ctx context.Context, in UploadInput) (*Collectible, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || !in.Rarity.Valid() {
		return nil, ErrInvalidOperand
	}

	col := &Collectible{
		CollectibleID: uuid.NewString(),
		Name:          name,
		Series:        strings.TrimSpace(in.Series),
		Rarity:        in.Rarity,
		MediaRef:      in.MediaRef,
		Price:         in.Rarity.Price(),
		UploadedBy:    in.Uploader,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateCollectible(ctx, col); err != nil {
		return nil, err
	}
	logger.Infof("catalog upload: id=%s name=%q rarity=%s", col.CollectibleID, col.Name, col.Rarity.Name())
	return col, nil
}

type EditInput struct {
	Name     string
	Series   string
	Rarity   Rarity
	MediaRef string
}

// Edit rewrites the mutable fields. Empty strings and zero rarity leave the
// current value in place; a rarity change re-derives the price.
func (c *Catalog) Edit(ctx context.Context, collectibleID string, in EditInput) (*Collectible, error) {
	col, err := c.store.GetCollectible(ctx, collectibleID)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		col.Name = name
	}
	if series := strings.TrimSpace(in.Series); series != "" {
		col.Series = series
	}
	if in.Rarity != 0 {
		if !in.Rarity.Valid() {
			return nil, ErrInvalidOperand
		}
		col.Rarity = in.Rarity
		col.Price = in.Rarity.Price()
	}
	if in.MediaRef != "" {
		col.MediaRef = in.MediaRef
	}

	if err := c.store.UpdateCollectible(ctx, col); err != nil {
		return nil, err
	}
	return col, nil
}

// SetLocked toggles spawn eligibility without touching ownerships.
func (c *Catalog) SetLocked(ctx context.Context, collectibleID string, locked bool) error {
	return c.store.SetCollectibleLocked(ctx, collectibleID, locked)
}

// Purge removes the collectible and every ownership row pointing at it.
func (c *Catalog) Purge(ctx context.Context, collectibleID string) error {
	if err := c.store.PurgeCollectible(ctx, collectibleID); err != nil {
		return err
	}
	logger.Infof("catalog purge: id=%s", collectibleID)
	return nil
}

func (c *Catalog) Get(ctx context.Context, collectibleID string) (*Collectible, error) {
	return c.store.GetCollectible(ctx, collectibleID)
}
