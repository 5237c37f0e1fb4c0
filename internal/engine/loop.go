package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hakimelghazi/clob-core/internal/critbit"
	"github.com/hakimelghazi/clob-core/internal/market"
)

// Journal persists resting positions so the book survives a restart.
// LastSequence returns the highest sequence ever passed to PutPosition, so
// identifiers of filled or cancelled orders are not handed out again.
type Journal interface {
	PutPosition(side Side, id OrderID, pos Position) error
	DeletePosition(side Side, id OrderID) error
	Positions(fn func(side Side, id OrderID, pos Position) error) error
	LastSequence() (uint64, error)
}

// FillSink receives the fills of every match after the book has changed.
type FillSink interface {
	RecordFills(ctx context.Context, market string, fills []Fill) error
}

type Config struct {
	Market market.Market
	Buffer int
	// Ledger settles fills and backs the collateral checks. Optional; without
	// it nothing is reserved or settled.
	Ledger  Ledger
	Journal Journal
	Sinks   []FillSink
	Logger  *zap.Logger
	// BookOptions apply to both sides' indexes.
	BookOptions []critbit.Option
}

type TopOfBook struct {
	Market    string      `json:"market"`
	Bid       *PriceLevel `json:"bid,omitempty"`
	Ask       *PriceLevel `json:"ask,omitempty"`
	BidOrders uint64      `json:"bid_orders"`
	AskOrders uint64      `json:"ask_orders"`
}

type Depth struct {
	Market string       `json:"market"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// Engine owns one market's order book. All access goes through Run's
// goroutine, which processes one command at a time.
type Engine struct {
	market  market.Market
	book    *OrderBook
	matcher *Matcher
	ledger  Ledger
	journal Journal
	sinks   []FillSink
	log     *zap.Logger
	holds   holds

	cmds chan Command
	done chan struct{}
}

// NewEngine builds the engine and replays the journal, if any, into the book.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Market.Validate(); err != nil {
		return nil, err
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	book := NewOrderBook(cfg.Market, cfg.BookOptions...)
	e := &Engine{
		market:  cfg.Market,
		book:    book,
		matcher: NewMatcher(book, cfg.Ledger),
		ledger:  cfg.Ledger,
		journal: cfg.Journal,
		sinks:   cfg.Sinks,
		log:     cfg.Logger.With(zap.String("market", cfg.Market.Name)),
		holds:   make(holds),
		cmds:    make(chan Command, cfg.Buffer),
		done:    make(chan struct{}),
	}

	if e.journal != nil {
		restored := 0
		err := e.journal.Positions(func(side Side, id OrderID, pos Position) error {
			restored++
			if err := book.Restore(side, id, pos); err != nil {
				return err
			}
			if e.ledger == nil {
				return nil
			}
			return e.hold(side, id, pos)
		})
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		seq, err := e.journal.LastSequence()
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		book.AdvanceSequence(seq)
		e.log.Info("journal replayed",
			zap.Int("positions", restored),
			zap.Uint64("sequence", book.Sequence()),
			zap.Uint64("bids", book.PositionCount(SideBuy)),
			zap.Uint64("asks", book.PositionCount(SideSell)),
		)
	}
	return e, nil
}

func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdPlace:
		id, err := e.place(ctx, cmd.Limit)
		cmd.Resp <- reply[OrderID]{id, err}

	case CmdMarket:
		res, err := e.marketOrder(ctx, cmd.Market)
		cmd.Resp <- reply[*FillResult]{res, err}

	case CmdCancel:
		pos, err := e.cancel(cmd.Side, cmd.ID)
		cmd.Resp <- reply[Position]{pos, err}

	case CmdTop:
		cmd.Resp <- reply[TopOfBook]{Value: e.top()}

	case CmdDepth:
		cmd.Resp <- reply[Depth]{Value: Depth{
			Market: e.market.Name,
			Bids:   e.book.Depth(SideBuy, cmd.Levels),
			Asks:   e.book.Depth(SideSell, cmd.Levels),
		}}

	default:
		cmd.Resp <- reply[struct{}]{Err: fmt.Errorf("engine: unknown command %d", cmd.Type)}
	}
}

func (e *Engine) place(ctx context.Context, o LimitOrder) (OrderID, error) {
	if !o.Side.valid() {
		return OrderID{}, fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
	}
	if o.Price == 0 {
		return OrderID{}, ErrInvalidPrice
	}
	if o.Quantity == 0 {
		return OrderID{}, ErrInvalidQuantity
	}
	asset, need, err := e.commitment(o.Side, o.Price, o.Quantity)
	if err != nil {
		return OrderID{}, err
	}
	if e.ledger != nil {
		if err := e.requireBalance(ctx, o.Owner, asset, need); err != nil {
			return OrderID{}, err
		}
	}

	id, err := e.book.InsertRestingOrder(o.Side, o.Price, o.Quantity, o.Owner)
	if err != nil {
		return OrderID{}, err
	}
	if e.ledger != nil {
		e.holds.add(o.Owner, asset, need)
	}
	e.journalPut(o.Side, id, Position{Quantity: o.Quantity, Owner: o.Owner})
	e.log.Debug("order rested",
		zap.Stringer("id", id),
		zap.String("side", string(o.Side)),
		zap.Uint64("quantity", o.Quantity),
		zap.String("owner", o.Owner),
	)
	return id, nil
}

func (e *Engine) marketOrder(ctx context.Context, o MarketOrder) (*FillResult, error) {
	if !o.Side.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
	}
	if o.Quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if e.ledger != nil {
		switch {
		case o.Side == SideSell:
			_, need, err := e.commitment(SideSell, 0, o.Quantity)
			if err != nil {
				return nil, err
			}
			if err := e.requireBalance(ctx, o.Taker, e.market.Base, need); err != nil {
				return nil, err
			}
		case o.Budget != nil:
			if err := e.requireBalance(ctx, o.Taker, e.market.Quote, *o.Budget); err != nil {
				return nil, err
			}
		default:
			// Without an explicit budget a buy may spend what is not
			// committed to its own bids.
			free, err := e.free(ctx, o.Taker, e.market.Quote)
			if err != nil {
				return nil, err
			}
			o.Budget = &free
		}
	}

	res, err := e.matcher.Submit(ctx, o)
	if res != nil {
		e.applyResult(ctx, o.Side.Opposite(), res)
	}
	if err != nil {
		e.log.Error("match aborted", zap.String("taker", o.Taker), zap.Error(err))
		return res, err
	}
	e.log.Info("market order matched",
		zap.String("taker", o.Taker),
		zap.String("side", string(o.Side)),
		zap.Uint64("requested", o.Quantity),
		zap.Int("fills", len(res.Fills)),
		zap.Uint64("base_filled", res.BaseFilled),
		zap.Uint64("quote_filled", res.QuoteFilled),
		zap.Uint64("unfilled", res.Unfilled),
		zap.Bool("insufficient_budget", res.InsufficientBudget),
	)
	return res, nil
}

func (e *Engine) cancel(side Side, id OrderID) (Position, error) {
	pos, err := e.book.Cancel(side, id)
	if err != nil {
		return Position{}, err
	}
	e.releaseHold(side, id, pos.Owner, pos.Quantity)
	e.journalDelete(side, id)
	e.log.Debug("order cancelled", zap.Stringer("id", id), zap.String("side", string(side)))
	return pos, nil
}

func (e *Engine) top() TopOfBook {
	t := TopOfBook{
		Market:    e.market.Name,
		BidOrders: e.book.PositionCount(SideBuy),
		AskOrders: e.book.PositionCount(SideSell),
	}
	if lv := e.book.Depth(SideBuy, 1); len(lv) == 1 {
		t.Bid = &lv[0]
	}
	if lv := e.book.Depth(SideSell, 1); len(lv) == 1 {
		t.Ask = &lv[0]
	}
	return t
}

// free is the balance not committed to the owner's resting orders.
func (e *Engine) free(ctx context.Context, owner, asset string) (uint64, error) {
	have, err := e.ledger.AvailableBalance(ctx, owner, asset)
	if err != nil {
		return 0, err
	}
	held := e.holds.held(owner, asset)
	if held >= have {
		return 0, nil
	}
	return have - held, nil
}

func (e *Engine) requireBalance(ctx context.Context, owner, asset string, need uint64) error {
	free, err := e.free(ctx, owner, asset)
	if err != nil {
		return err
	}
	if free < need {
		return fmt.Errorf("%w: %s has %d %s free, needs %d", ErrInsufficientCollateral, owner, free, asset, need)
	}
	return nil
}

// applyResult releases the makers' holds, journals their new state and hands
// the fills to every sink. Failures are logged: the book has already moved.
func (e *Engine) applyResult(ctx context.Context, maker Side, res *FillResult) {
	for _, ev := range res.Evicted {
		e.releaseHold(maker, ev.OrderID, ev.Owner, ev.Remaining)
		e.journalDelete(maker, ev.OrderID)
		e.log.Warn("unfunded order evicted",
			zap.Stringer("id", ev.OrderID),
			zap.String("side", string(maker)),
			zap.String("owner", ev.Owner),
			zap.Uint64("remaining", ev.Remaining),
		)
	}
	if len(res.Fills) == 0 {
		return
	}
	for _, f := range res.Fills {
		e.releaseHold(maker, f.MakerOrderID, f.Maker, f.Quantity)
		if f.MakerRemaining == 0 {
			e.journalDelete(maker, f.MakerOrderID)
		} else {
			e.journalPut(maker, f.MakerOrderID, Position{Quantity: f.MakerRemaining, Owner: f.Maker})
		}
	}
	for _, s := range e.sinks {
		if err := s.RecordFills(ctx, e.market.Name, res.Fills); err != nil {
			e.log.Error("record fills failed", zap.Int("fills", len(res.Fills)), zap.Error(err))
		}
	}
}

func (e *Engine) journalPut(side Side, id OrderID, pos Position) {
	if e.journal == nil {
		return
	}
	if err := e.journal.PutPosition(side, id, pos); err != nil {
		e.log.Error("journal put failed", zap.Stringer("id", id), zap.Error(err))
	}
}

func (e *Engine) journalDelete(side Side, id OrderID) {
	if e.journal == nil {
		return
	}
	if err := e.journal.DeletePosition(side, id); err != nil {
		e.log.Error("journal delete failed", zap.Stringer("id", id), zap.Error(err))
	}
}

// Place rests a limit order on the book.
func (e *Engine) Place(ctx context.Context, o LimitOrder) (OrderID, error) {
	return call[OrderID](ctx, e, Command{Type: CmdPlace, Limit: o})
}

// Market matches a market order against the book.
func (e *Engine) Market(ctx context.Context, o MarketOrder) (*FillResult, error) {
	return call[*FillResult](ctx, e, Command{Type: CmdMarket, Market: o})
}

// Cancel removes a resting order and returns what was left of it.
func (e *Engine) Cancel(ctx context.Context, side Side, id OrderID) (Position, error) {
	return call[Position](ctx, e, Command{Type: CmdCancel, Side: side, ID: id})
}

func (e *Engine) Depth(ctx context.Context, levels int) (Depth, error) {
	return call[Depth](ctx, e, Command{Type: CmdDepth, Levels: levels})
}

// TopOfBook returns the best level of each side of the named market.
func (e *Engine) TopOfBook(ctx context.Context, market string) (TopOfBook, error) {
	if market != e.market.Name {
		return TopOfBook{}, fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	return call[TopOfBook](ctx, e, Command{Type: CmdTop})
}

// call sends cmd to the loop and waits for its reply. Once the loop has
// accepted a command it runs to completion even if ctx is cancelled.
func call[T any](ctx context.Context, e *Engine, cmd Command) (T, error) {
	var zero T
	cmd.Resp = make(chan any, 1)

	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrEngineStopped
	}

	select {
	case resp := <-cmd.Resp:
		return unwrap[T](resp)
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		// the loop may have answered just before exiting
		select {
		case resp := <-cmd.Resp:
			return unwrap[T](resp)
		default:
			return zero, ErrEngineStopped
		}
	}
}

func unwrap[T any](resp any) (T, error) {
	r, ok := resp.(reply[T])
	if !ok {
		if bad, isErr := resp.(reply[struct{}]); isErr && bad.Err != nil {
			var zero T
			return zero, bad.Err
		}
		var zero T
		return zero, fmt.Errorf("engine: unexpected reply %T", resp)
	}
	return r.Value, r.Err
}
