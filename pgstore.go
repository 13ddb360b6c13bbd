package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/google/logger"
)

// PgStore is the production Store backed by Postgres. Every racy mutation
// is a single guarded statement or a FOR UPDATE transaction, so the
// database is the only serialization point.
type PgStore struct {
	db *sql.DB
}

func OpenPgStore(dsn string) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &PgStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

func (s *PgStore) Close() error {
	return s.db.Close()
}

func (s *PgStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			cash BIGINT NOT NULL DEFAULT 0,
			crimson BIGINT NOT NULL DEFAULT 0,
			gems BIGINT NOT NULL DEFAULT 0,
			favorite_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		ALTER TABLE accounts
			ADD COLUMN IF NOT EXISTS daily_streak BIGINT NOT NULL DEFAULT 0;
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		ALTER TABLE accounts
			ADD COLUMN IF NOT EXISTS weekly_streak BIGINT NOT NULL DEFAULT 0;
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cooldowns (
			account_id TEXT NOT NULL,
			action_key TEXT NOT NULL,
			marked_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, action_key)
		);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS collectibles (
			collectible_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			series TEXT NOT NULL DEFAULT '',
			rarity INT NOT NULL,
			media_ref TEXT NOT NULL DEFAULT '',
			price BIGINT NOT NULL,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			uploaded_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ownerships (
			ownership_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			collectible_id TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS ownerships_account_idx
			ON ownerships (account_id);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			message_count BIGINT NOT NULL DEFAULT 0,
			active_collectible_id TEXT NOT NULL DEFAULT '',
			active_name TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS auctions (
			room_id TEXT PRIMARY KEY,
			collectible_id TEXT NOT NULL,
			collectible_name TEXT NOT NULL,
			high_bid BIGINT NOT NULL DEFAULT 0,
			high_bidder TEXT NOT NULL DEFAULT '',
			window_count BIGINT NOT NULL DEFAULT 0,
			deadline TIMESTAMPTZ NOT NULL,
			settling BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS redeem_codes (
			code TEXT PRIMARY KEY,
			code_type TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			collectible_id TEXT NOT NULL DEFAULT '',
			max_uses INT NOT NULL,
			uses INT NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func currencyColumn(cur Currency) string {
	switch cur {
	case CurrencyCash:
		return "cash"
	case CurrencyCrimson:
		return "crimson"
	case CurrencyGems:
		return "gems"
	}
	return ""
}

func streakColumn(key string) string {
	switch key {
	case "daily":
		return "daily_streak"
	case "weekly":
		return "weekly_streak"
	}
	return ""
}

func (s *PgStore) EnsureAccount(ctx context.Context, accountID, username, firstName string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (account_id, username, first_name, created_at, last_seen_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE accounts.username END,
			first_name = CASE WHEN EXCLUDED.first_name <> '' THEN EXCLUDED.first_name ELSE accounts.first_name END,
			last_seen_at = NOW()
		RETURNING account_id, username, first_name, cash, crimson, gems,
			favorite_id, daily_streak, weekly_streak, created_at, last_seen_at
	`, accountID, username, firstName)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.AccountID,
		&a.Username,
		&a.FirstName,
		&a.Cash,
		&a.Crimson,
		&a.Gems,
		&a.FavoriteID,
		&a.DailyStreak,
		&a.WeeklyStreak,
		&a.CreatedAt,
		&a.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &a, nil
}

func (s *PgStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, username, first_name, cash, crimson, gems,
			favorite_id, daily_streak, weekly_streak, created_at, last_seen_at
		FROM accounts
		WHERE account_id = $1
	`, accountID)
	return scanAccount(row)
}

func (s *PgStore) Credit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error) {
	col := currencyColumn(cur)
	if col == "" {
		return 0, ErrInvalidOperand
	}
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET `+col+` = `+col+` + $2
		WHERE account_id = $1
		RETURNING `+col+`
	`, accountID, amount).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return balance, nil
}

func (s *PgStore) Debit(ctx context.Context, accountID string, cur Currency, amount int64) (int64, error) {
	col := currencyColumn(cur)
	if col == "" {
		return 0, ErrInvalidOperand
	}
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET `+col+` = `+col+` - $2
		WHERE account_id = $1 AND `+col+` >= $2
		RETURNING `+col+`
	`, accountID, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if err != sql.ErrNoRows {
		return 0, storageErr(err)
	}

	// Nothing matched: either the account is gone or the balance is short.
	err = s.db.QueryRowContext(ctx, `
		SELECT `+col+` FROM accounts WHERE account_id = $1
	`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return balance, ErrInsufficientFunds
}

func (s *PgStore) Transfer(ctx context.Context, from, to string, cur Currency, amount int64) (int64, error) {
	col := currencyColumn(cur)
	if col == "" {
		return 0, ErrInvalidOperand
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr(err)
	}
	defer tx.Rollback()

	var senderBalance int64
	err = tx.QueryRowContext(ctx, `
		SELECT `+col+`
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE
	`, from).Scan(&senderBalance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr(err)
	}
	if senderBalance < amount {
		return senderBalance, ErrInsufficientFunds
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET `+col+` = `+col+` + $2
		WHERE account_id = $1
	`, to, amount)
	if err != nil {
		return 0, storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	if n == 0 {
		return senderBalance, ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET `+col+` = `+col+` - $2
		WHERE account_id = $1
	`, from, amount)
	if err != nil {
		return 0, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr(err)
	}
	return senderBalance - amount, nil
}

func (s *PgStore) SetFavorite(ctx context.Context, accountID, collectibleID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET favorite_id = $2
		WHERE account_id = $1
	`, accountID, collectibleID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) AdvanceStreak(ctx context.Context, accountID, key string, reset bool) (int64, error) {
	col := streakColumn(key)
	if col == "" {
		return 0, ErrInvalidOperand
	}
	expr := col + " + 1"
	if reset {
		expr = "1"
	}
	var streak int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET `+col+` = `+expr+`
		WHERE account_id = $1
		RETURNING `+col+`
	`, accountID).Scan(&streak)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return streak, nil
}

func (s *PgStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id FROM accounts ORDER BY account_id
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr(rows.Err())
}

func (s *PgStore) CheckAndMarkCooldown(ctx context.Context, accountID, actionKey string, window time.Duration) (int64, time.Time, error) {
	now := time.Now().UTC()

	// One statement: the mark is taken if and only if the previous one is
	// absent or outside the window, so concurrent callers cannot both pass.
	// The subquery in RETURNING reads the statement snapshot, which does
	// not see this statement's own write, so it yields the previous mark.
	var prev sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cooldowns (account_id, action_key, marked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, action_key)
		DO UPDATE SET marked_at = EXCLUDED.marked_at
		WHERE cooldowns.marked_at <= $4
		RETURNING (
			SELECT c.marked_at FROM cooldowns c
			WHERE c.account_id = $1 AND c.action_key = $2
		)
	`, accountID, actionKey, now, now.Add(-window)).Scan(&prev)
	if err == nil {
		return 0, prev.Time, nil
	}
	if err != sql.ErrNoRows {
		return 0, time.Time{}, storageErr(err)
	}

	// Still cooling down; report the remaining wait.
	var markedAt time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT marked_at
		FROM cooldowns
		WHERE account_id = $1 AND action_key = $2
	`, accountID, actionKey).Scan(&markedAt)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, storageErr(err)
	}
	remaining := int64(markedAt.Add(window).Sub(now).Seconds())
	if remaining < 1 {
		remaining = 1
	}
	return remaining, markedAt, nil
}

func (s *PgStore) CreateCollectible(ctx context.Context, c *Collectible) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collectibles (
			collectible_id, name, series, rarity, media_ref,
			price, locked, uploaded_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (collectible_id)
		DO UPDATE SET
			name = EXCLUDED.name,
			series = EXCLUDED.series,
			rarity = EXCLUDED.rarity,
			media_ref = EXCLUDED.media_ref,
			price = EXCLUDED.price
	`, c.CollectibleID, c.Name, c.Series, int(c.Rarity), c.MediaRef,
		c.Price, c.Locked, c.UploadedBy, c.CreatedAt)
	return storageErr(err)
}

func scanCollectible(row *sql.Row) (*Collectible, error) {
	var c Collectible
	var rarity int
	err := row.Scan(
		&c.CollectibleID,
		&c.Name,
		&c.Series,
		&rarity,
		&c.MediaRef,
		&c.Price,
		&c.Locked,
		&c.UploadedBy,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	c.Rarity = Rarity(rarity)
	return &c, nil
}

func (s *PgStore) GetCollectible(ctx context.Context, collectibleID string) (*Collectible, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collectible_id, name, series, rarity, media_ref,
			price, locked, uploaded_by, created_at
		FROM collectibles
		WHERE collectible_id = $1
	`, collectibleID)
	return scanCollectible(row)
}

func (s *PgStore) UpdateCollectible(ctx context.Context, c *Collectible) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collectibles
		SET name = $2, series = $3, rarity = $4, media_ref = $5, price = $6
		WHERE collectible_id = $1
	`, c.CollectibleID, c.Name, c.Series, int(c.Rarity), c.MediaRef, c.Price)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) SetCollectibleLocked(ctx context.Context, collectibleID string, locked bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collectibles
		SET locked = $2
		WHERE collectible_id = $1
	`, collectibleID, locked)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) PurgeCollectible(ctx context.Context, collectibleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM collectibles WHERE collectible_id = $1
	`, collectibleID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM ownerships WHERE collectible_id = $1
	`, collectibleID)
	if err != nil {
		return storageErr(err)
	}
	return storageErr(tx.Commit())
}

func (s *PgStore) RandomEligible(ctx context.Context, minRarity, maxRarity Rarity) (*Collectible, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collectible_id, name, series, rarity, media_ref,
			price, locked, uploaded_by, created_at
		FROM collectibles
		WHERE locked = FALSE AND rarity BETWEEN $1 AND $2
		ORDER BY RANDOM()
		LIMIT 1
	`, int(minRarity), int(maxRarity))
	return scanCollectible(row)
}

func (s *PgStore) GrantOwnership(ctx context.Context, accountID, collectibleID string) (*Ownership, error) {
	o := &Ownership{
		OwnershipID:   uuid.NewString(),
		AccountID:     accountID,
		CollectibleID: collectibleID,
		AcquiredAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ownerships (ownership_id, account_id, collectible_id, acquired_at)
		VALUES ($1, $2, $3, $4)
	`, o.OwnershipID, o.AccountID, o.CollectibleID, o.AcquiredAt)
	if err != nil {
		return nil, storageErr(err)
	}
	return o, nil
}

func (s *PgStore) OwnedCount(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ownerships WHERE account_id = $1
	`, accountID).Scan(&count)
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}

func (s *PgStore) ListOwned(ctx context.Context, accountID string) ([]OwnedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.collectible_id, COALESCE(c.name, ''), COALESCE(c.rarity, 0), COUNT(*)
		FROM ownerships o
		LEFT JOIN collectibles c ON c.collectible_id = o.collectible_id
		WHERE o.account_id = $1
		GROUP BY o.collectible_id, c.name, c.rarity
		ORDER BY COALESCE(c.rarity, 0) DESC, c.name
	`, accountID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var items []OwnedItem
	for rows.Next() {
		var it OwnedItem
		if err := rows.Scan(&it.CollectibleID, &it.Name, &it.Rarity, &it.Count); err != nil {
			return nil, storageErr(err)
		}
		items = append(items, it)
	}
	return items, storageErr(rows.Err())
}

func (s *PgStore) TopCollectors(ctx context.Context, limit int) ([]CollectorEntry, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.account_id, COALESCE(a.first_name, ''), COUNT(*) AS owned
		FROM ownerships o
		LEFT JOIN accounts a ON a.account_id = o.account_id
		GROUP BY o.account_id, a.first_name
		ORDER BY owned DESC, o.account_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var entries []CollectorEntry
	for rows.Next() {
		var e CollectorEntry
		if err := rows.Scan(&e.AccountID, &e.FirstName, &e.Owned); err != nil {
			return nil, storageErr(err)
		}
		entries = append(entries, e)
	}
	return entries, storageErr(rows.Err())
}

func (s *PgStore) EnsureRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id)
		VALUES ($1)
		ON CONFLICT (room_id) DO NOTHING
	`, roomID)
	return storageErr(err)
}

func (s *PgStore) IncrementActivity(ctx context.Context, roomID string) (*RoomState, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (room_id, message_count)
		VALUES ($1, 1)
		ON CONFLICT (room_id)
		DO UPDATE SET message_count = rooms.message_count + 1
		RETURNING room_id, message_count, active_collectible_id, active_name
	`, roomID)

	var r RoomState
	err := row.Scan(&r.RoomID, &r.MessageCount, &r.ActiveCollectibleID, &r.ActiveName)
	if err != nil {
		return nil, storageErr(err)
	}
	return &r, nil
}

func (s *PgStore) ReserveSpawn(ctx context.Context, roomID string, threshold int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET active_collectible_id = $2,
		    active_name = '',
		    message_count = 0
		WHERE room_id = $1
		  AND active_collectible_id = ''
		  AND message_count >= $3
	`, roomID, spawnReservedID, threshold)
	if err != nil {
		return false, storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(err)
	}
	return n == 1, nil
}

func (s *PgStore) PublishSpawn(ctx context.Context, roomID, collectibleID, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET active_collectible_id = $2, active_name = $3
		WHERE room_id = $1 AND active_collectible_id = $4
	`, roomID, collectibleID, name, spawnReservedID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ReleaseSpawn(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET active_collectible_id = '', active_name = '', message_count = 0
		WHERE room_id = $1
	`, roomID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ActiveSpawn(ctx context.Context, roomID string) (*RoomState, error) {
	var r RoomState
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, message_count, active_collectible_id, active_name
		FROM rooms
		WHERE room_id = $1
	`, roomID).Scan(&r.RoomID, &r.MessageCount, &r.ActiveCollectibleID, &r.ActiveName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &r, nil
}

func (s *PgStore) ClearSpawnIfActive(ctx context.Context, roomID string) (string, string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", false, storageErr(err)
	}
	defer tx.Rollback()

	var id, name string
	err = tx.QueryRowContext(ctx, `
		SELECT active_collectible_id, active_name
		FROM rooms
		WHERE room_id = $1
		FOR UPDATE
	`, roomID).Scan(&id, &name)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, storageErr(err)
	}
	if id == "" || id == spawnReservedID {
		return "", "", false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rooms
		SET active_collectible_id = '', active_name = '', message_count = 0
		WHERE room_id = $1
	`, roomID)
	if err != nil {
		return "", "", false, storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", false, storageErr(err)
	}
	return id, name, true, nil
}

func (s *PgStore) ListRoomIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM rooms ORDER BY room_id
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr(rows.Err())
}

func (s *PgStore) OpenAuction(ctx context.Context, roomID, collectibleID, name string, deadline time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions (room_id, collectible_id, collectible_name, deadline, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (room_id) DO NOTHING
	`, roomID, collectibleID, name, deadline)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrAuctionActive
	}
	return nil
}

func scanAuction(row *sql.Row) (*Auction, error) {
	var a Auction
	err := row.Scan(
		&a.RoomID,
		&a.CollectibleID,
		&a.CollectibleName,
		&a.HighBid,
		&a.HighBidder,
		&a.WindowCount,
		&a.Deadline,
		&a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoAuction
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &a, nil
}

func (s *PgStore) GetAuction(ctx context.Context, roomID string) (*Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT room_id, collectible_id, collectible_name, high_bid,
			high_bidder, window_count, deadline, created_at
		FROM auctions
		WHERE room_id = $1
	`, roomID)
	return scanAuction(row)
}

func (s *PgStore) ApplyBid(ctx context.Context, roomID, bidder string, amount int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET high_bid = $3, high_bidder = $2
		WHERE room_id = $1 AND settling = FALSE AND high_bid < $3
	`, roomID, bidder, amount)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 1 {
		return nil
	}

	var settling bool
	err = s.db.QueryRowContext(ctx, `
		SELECT settling FROM auctions WHERE room_id = $1
	`, roomID).Scan(&settling)
	if err == sql.ErrNoRows || settling {
		return ErrNoAuction
	}
	if err != nil {
		return storageErr(err)
	}
	return ErrBidTooLow
}

func (s *PgStore) IncrementAuctionWindow(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE auctions
		SET window_count = window_count + 1
		WHERE room_id = $1
		RETURNING window_count
	`, roomID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNoAuction
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}

func (s *PgStore) ClaimSettlement(ctx context.Context, roomID string) (*Auction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE auctions
		SET settling = TRUE
		WHERE room_id = $1 AND settling = FALSE
		RETURNING room_id, collectible_id, collectible_name, high_bid,
			high_bidder, window_count, deadline, created_at
	`, roomID)
	a, err := scanAuction(row)
	if err == ErrNoAuction {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (s *PgStore) ReleaseSettlement(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET settling = FALSE WHERE room_id = $1
	`, roomID)
	return storageErr(err)
}

func (s *PgStore) DeleteAuction(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auctions WHERE room_id = $1
	`, roomID)
	return storageErr(err)
}

func (s *PgStore) ExpiredAuctionRooms(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id
		FROM auctions
		WHERE settling = FALSE AND deadline <= $1
		ORDER BY room_id
	`, now)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr(rows.Err())
}

func (s *PgStore) CreateRedeemCode(ctx context.Context, code *RedeemCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO redeem_codes (
			code, code_type, amount, collectible_id, max_uses, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (code)
		DO UPDATE SET
			code_type = EXCLUDED.code_type,
			amount = EXCLUDED.amount,
			collectible_id = EXCLUDED.collectible_id,
			max_uses = EXCLUDED.max_uses
	`, code.Code, code.CodeType, code.Amount, code.CollectibleID, code.MaxUses, code.CreatedBy)
	return storageErr(err)
}

func (s *PgStore) DeleteRedeemCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM redeem_codes WHERE code = $1
	`, code)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) RedeemIfAvailable(ctx context.Context, code string) (*RedeemCode, int, error) {
	var c RedeemCode
	err := s.db.QueryRowContext(ctx, `
		UPDATE redeem_codes
		SET uses = uses + 1
		WHERE code = $1 AND uses < max_uses
		RETURNING code, code_type, amount, collectible_id, max_uses, uses, created_by, created_at
	`, code).Scan(
		&c.Code,
		&c.CodeType,
		&c.Amount,
		&c.CollectibleID,
		&c.MaxUses,
		&c.Uses,
		&c.CreatedBy,
		&c.CreatedAt,
	)
	if err == nil {
		return &c, c.MaxUses - c.Uses, nil
	}
	if err != sql.ErrNoRows {
		return nil, 0, storageErr(err)
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT TRUE FROM redeem_codes WHERE code = $1
	`, code).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, storageErr(err)
	}
	return nil, 0, ErrExhausted
}
