package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/logger"
)

// Router maps inbound chat events to core operations and formats the
// replies. It stays thin: parsing and wording live here, rules live in the
// components.
type Router struct {
	ledger      *Ledger
	catalog     *Catalog
	spawns      *SpawnCoordinator
	claims      *ClaimResolver
	auctions    *AuctionCoordinator
	dispatcher  *Dispatcher
	leaderboard *Leaderboard

	operators map[string]bool
}

func NewRouter(ledger *Ledger, catalog *Catalog, spawns *SpawnCoordinator, claims *ClaimResolver,
	auctions *AuctionCoordinator, dispatcher *Dispatcher, leaderboard *Leaderboard, operatorIDs []string) *Router {

	ops := make(map[string]bool, len(operatorIDs))
	for _, id := range operatorIDs {
		ops[id] = true
	}
	return &Router{
		ledger:      ledger,
		catalog:     catalog,
		spawns:      spawns,
		claims:      claims,
		auctions:    auctions,
		dispatcher:  dispatcher,
		leaderboard: leaderboard,
		operators:   ops,
	}
}

// HandleEvent processes one inbound message and returns the reply text,
// empty when no reply is warranted.
func (r *Router) HandleEvent(ctx context.Context, ev Event) string {
	if _, err := r.ledger.Bootstrap(ctx, ev.AccountID, ev.Username, ev.FirstName); err != nil {
		logger.Errorf("account bootstrap failed: account=%s err=%v", ev.AccountID, err)
		return "Something went wrong, try again."
	}

	text := strings.TrimSpace(ev.Text)
	if !strings.HasPrefix(text, "/") {
		if !ev.Direct && ev.RoomID != "" {
			if err := r.spawns.HandleActivity(ctx, ev.RoomID); err != nil {
				logger.Errorf("activity failed: room=%s err=%v", ev.RoomID, err)
			}
		}
		return ""
	}

	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch cmd {
	case "bal":
		return r.balance(ctx, ev)
	case "daily":
		return r.daily(ctx, ev)
	case "weekly":
		return r.weekly(ctx, ev)
	case "claim":
		return r.firstClaim(ctx, ev)
	case "explore":
		return r.explore(ctx, ev)
	case "pay":
		return r.pay(ctx, ev, args)
	case "fav":
		return r.fav(ctx, ev, args)
	case "harem":
		return r.harem(ctx, ev)
	case "buy":
		return r.buy(ctx, ev, args)
	case "grab":
		return r.grab(ctx, ev, args)
	case "bid":
		return r.bid(ctx, ev, args)
	case "redeem":
		return r.redeem(ctx, ev, args)
	case "top":
		return r.top(ctx)
	case "gen":
		return r.operatorOnly(ev, func() string { return r.genCode(ctx, ev, args) })
	case "dgen":
		return r.operatorOnly(ev, func() string { return r.genCollectibleCode(ctx, ev, args) })
	case "delcode":
		return r.operatorOnly(ev, func() string { return r.delCode(ctx, args) })
	case "upload":
		return r.operatorOnly(ev, func() string { return r.upload(ctx, ev, args) })
	case "lock":
		return r.operatorOnly(ev, func() string { return r.lock(ctx, args) })
	case "send":
		return r.operatorOnly(ev, func() string { return r.send(ctx, text) })
	}
	return ""
}

func (r *Router) operatorOnly(ev Event, fn func() string) string {
	if !r.operators[ev.AccountID] {
		return "You are not allowed to do that."
	}
	return fn()
}

func (r *Router) balance(ctx context.Context, ev Event) string {
	acct, err := r.ledger.Balance(ctx, ev.AccountID)
	if err != nil {
		return errText(err)
	}
	return fmt.Sprintf("Your balance:\ncash: %d\ncrimson: %d\ngems: %d", acct.Cash, acct.Crimson, acct.Gems)
}

func (r *Router) daily(ctx context.Context, ev Event) string {
	res, err := r.ledger.DailyBonus(ctx, ev.AccountID)
	if err != nil {
		var cd *CooldownError
		if errors.As(err, &cd) {
			return fmt.Sprintf("Daily bonus already claimed! Available in %s.", formatWait(cd.RemainingSeconds))
		}
		return errText(err)
	}
	return fmt.Sprintf("Daily bonus claimed! Reward: %d cash. Streak: %d.", res.Reward, res.Streak)
}

func (r *Router) weekly(ctx context.Context, ev Event) string {
	res, err := r.ledger.WeeklyBonus(ctx, ev.AccountID)
	if err != nil {
		var cd *CooldownError
		if errors.As(err, &cd) {
			return fmt.Sprintf("Weekly bonus already claimed! Available in %s.", formatWait(cd.RemainingSeconds))
		}
		return errText(err)
	}
	return fmt.Sprintf("Weekly bonus claimed! Reward: %d cash. Streak: %d.", res.Reward, res.Streak)
}

func (r *Router) firstClaim(ctx context.Context, ev Event) string {
	reward, err := r.ledger.FirstClaim(ctx, ev.AccountID)
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			return "You have already claimed your first-time reward!"
		}
		return errText(err)
	}
	return fmt.Sprintf("First-time claim successful! You received %d cash.", reward)
}

func (r *Router) explore(ctx context.Context, ev Event) string {
	found, err := r.ledger.Explore(ctx, ev.AccountID)
	if err != nil {
		var cd *CooldownError
		if errors.As(err, &cd) {
			return fmt.Sprintf("You must wait %d seconds before exploring again.", cd.RemainingSeconds)
		}
		return errText(err)
	}
	return fmt.Sprintf("You explore a dungeon and find %d cash.", found)
}

func (r *Router) pay(ctx context.Context, ev Event, args []string) string {
	if ev.ReplyToAccountID == "" {
		return "Reply to the user you want to pay."
	}
	if len(args) == 0 {
		return "You need to provide an amount."
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || amount <= 0 {
		return "You need to provide an amount."
	}
	if ev.ReplyToAccountID == ev.AccountID {
		return "Cannot send cash to yourself."
	}
	if _, err := r.ledger.Bootstrap(ctx, ev.ReplyToAccountID, "", ev.ReplyToFirstName); err != nil {
		return errText(err)
	}
	if _, err := r.ledger.Pay(ctx, ev.AccountID, ev.ReplyToAccountID, amount); err != nil {
		return errText(err)
	}
	name := ev.ReplyToFirstName
	if name == "" {
		name = ev.ReplyToAccountID
	}
	return fmt.Sprintf("Sent %d cash to %s.", amount, name)
}

func (r *Router) fav(ctx context.Context, ev Event, args []string) string {
	if len(args) == 0 {
		return "Usage: /fav <collectible id>"
	}
	c, err := r.ledger.SetFavorite(ctx, ev.AccountID, args[0])
	if err != nil {
		return errText(err)
	}
	return fmt.Sprintf("Favorite set to %s.", c.Name)
}

func (r *Router) harem(ctx context.Context, ev Event) string {
	items, err := r.ledger.Collection(ctx, ev.AccountID)
	if err != nil {
		return errText(err)
	}
	if len(items) == 0 {
		return "Your collection is empty. Grab something first!"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s's collection:\n", ev.FirstName)
	for _, it := range items {
		fmt.Fprintf(&b, "%s [%s] x%d\n", it.Name, it.Rarity.Name(), it.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) buy(ctx context.Context, ev Event, args []string) string {
	if len(args) == 0 {
		return "Usage: /buy <collectible id>"
	}
	c, remaining, err := r.ledger.Buy(ctx, ev.AccountID, args[0])
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return "Unknown collectible."
		case errors.Is(err, ErrInsufficientFunds):
			return "Insufficient cash."
		}
		return errText(err)
	}
	return fmt.Sprintf("You bought %s for %d cash. Remaining: %d.", c.Name, c.Price, remaining)
}

func (r *Router) grab(ctx context.Context, ev Event, args []string) string {
	if ev.Direct || ev.RoomID == "" {
		return "Grabs only work in a group."
	}
	if len(args) == 0 {
		return "Usage: /grab <name>"
	}
	res, err := r.claims.Grab(ctx, ev.RoomID, ev.AccountID, strings.Join(args, " "))
	if err != nil {
		switch {
		case errors.Is(err, ErrAuctionActive):
			return "This one is up for auction. Use /bid <amount>."
		case errors.Is(err, ErrNoActiveSpawn):
			return "There is nothing to grab right now."
		case errors.Is(err, ErrWrongGuess):
			return "Wrong guess!"
		}
		return errText(err)
	}
	return fmt.Sprintf("Correct! %s grabbed %s and earned %d crimson.", ev.FirstName, res.Name, res.Reward)
}

func (r *Router) bid(ctx context.Context, ev Event, args []string) string {
	if ev.Direct || ev.RoomID == "" {
		return "Bids only work in a group."
	}
	if len(args) == 0 {
		return "Usage: /bid <amount>"
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || amount <= 0 {
		return "Usage: /bid <amount>"
	}
	auction, err := r.auctions.Bid(ctx, ev.RoomID, ev.AccountID, amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoAuction):
			return "No auction is running here."
		case errors.Is(err, ErrBidTooLow):
			return "Bid too low, it must beat the current high bid."
		case errors.Is(err, ErrInsufficientFunds):
			return "Insufficient cash."
		}
		return errText(err)
	}
	return fmt.Sprintf("%s leads the auction for %s at %d cash.", ev.FirstName, auction.CollectibleName, auction.HighBid)
}

func (r *Router) redeem(ctx context.Context, ev Event, args []string) string {
	if len(args) == 0 {
		return "Usage: /redeem <code>"
	}
	res, err := r.ledger.Redeem(ctx, ev.AccountID, args[0])
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return "Invalid code."
		case errors.Is(err, ErrExhausted):
			return "This code has been fully redeemed."
		}
		return errText(err)
	}
	if res.Granted != nil {
		return fmt.Sprintf("Code redeemed! You received %s. Uses left: %d.", res.Granted.Name, res.Remaining)
	}
	return fmt.Sprintf("Code redeemed! You received %d cash. Uses left: %d.", res.Code.Amount, res.Remaining)
}

func (r *Router) top(ctx context.Context) string {
	entries, err := r.leaderboard.Top(ctx, 10)
	if err != nil {
		return errText(err)
	}
	if len(entries) == 0 {
		return "Nobody owns anything yet."
	}
	var b strings.Builder
	b.WriteString("Top collectors:\n")
	for i, e := range entries {
		name := e.FirstName
		if name == "" {
			name = e.AccountID
		}
		fmt.Fprintf(&b, "%d. %s: %d\n", i+1, name, e.Owned)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) genCode(ctx context.Context, ev Event, args []string) string {
	if len(args) < 2 {
		return "Usage: /gen <code> <amount> [uses]"
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return "Usage: /gen <code> <amount> [uses]"
	}
	uses := 1
	if len(args) >= 3 {
		if uses, err = strconv.Atoi(args[2]); err != nil || uses <= 0 {
			return "Usage: /gen <code> <amount> [uses]"
		}
	}
	if err := r.ledger.MintCashCode(ctx, ev.AccountID, args[0], amount, uses); err != nil {
		return errText(err)
	}
	return fmt.Sprintf("Code %s created: %d cash, %d uses.", args[0], amount, uses)
}

func (r *Router) genCollectibleCode(ctx context.Context, ev Event, args []string) string {
	if len(args) < 2 {
		return "Usage: /dgen <code> <collectible id> [uses]"
	}
	uses := 1
	if len(args) >= 3 {
		var err error
		if uses, err = strconv.Atoi(args[2]); err != nil || uses <= 0 {
			return "Usage: /dgen <code> <collectible id> [uses]"
		}
	}
	if err := r.ledger.MintCollectibleCode(ctx, ev.AccountID, args[0], args[1], uses); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "Unknown collectible."
		}
		return errText(err)
	}
	return fmt.Sprintf("Code %s created for collectible %s, %d uses.", args[0], args[1], uses)
}

func (r *Router) delCode(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /delcode <code>"
	}
	if err := r.ledger.DeleteCode(ctx, args[0]); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "Invalid code."
		}
		return errText(err)
	}
	return "Code deleted."
}

// upload format: /upload <name>|<series>|<rarity>|<media ref>
func (r *Router) upload(ctx context.Context, ev Event, args []string) string {
	parts := strings.Split(strings.Join(args, " "), "|")
	if len(parts) < 3 {
		return "Usage: /upload <name>|<series>|<rarity>|[media ref]"
	}
	tier, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || !Rarity(tier).Valid() {
		return fmt.Sprintf("Rarity must be %d..%d.", RarityMin, RarityMax)
	}
	in := UploadInput{
		Name:     parts[0],
		Series:   parts[1],
		Rarity:   Rarity(tier),
		Uploader: ev.AccountID,
	}
	if len(parts) >= 4 {
		in.MediaRef = strings.TrimSpace(parts[3])
	}
	c, err := r.catalog.Upload(ctx, in)
	if err != nil {
		return errText(err)
	}
	return fmt.Sprintf("Uploaded %s (%s) as %s, price %d.", c.Name, c.Series, c.Rarity.Name(), c.Price)
}

func (r *Router) lock(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /lock <collectible id>"
	}
	c, err := r.catalog.Get(ctx, args[0])
	if err != nil {
		return errText(err)
	}
	if err := r.catalog.SetLocked(ctx, args[0], !c.Locked); err != nil {
		return errText(err)
	}
	if c.Locked {
		return fmt.Sprintf("%s unlocked for spawning.", c.Name)
	}
	return fmt.Sprintf("%s locked out of spawning.", c.Name)
}

func (r *Router) send(ctx context.Context, text string) string {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "/send"))
	if body == "" {
		return "Usage: /send <message>"
	}
	jobID, err := r.dispatcher.Start(ctx, Payload{Text: body})
	if err != nil {
		return errText(err)
	}
	return fmt.Sprintf("Broadcast started, job %s.", jobID)
}

func errText(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient cash."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrInvalidOperand):
		return "Invalid request."
	case errors.Is(err, ErrStorageUnavailable):
		return "Something went wrong, try again."
	}
	logger.Errorf("unhandled error: %v", err)
	return "Something went wrong, try again."
}

func formatWait(seconds int64) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%dh", (seconds+3599)/3600)
	}
	if seconds >= 60 {
		return fmt.Sprintf("%dm", (seconds+59)/60)
	}
	return fmt.Sprintf("%ds", seconds)
}
