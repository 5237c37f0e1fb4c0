package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hakimelghazi/clob-core/internal/engine"
	"github.com/hakimelghazi/clob-core/internal/ledger"
	"github.com/hakimelghazi/clob-core/internal/market"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	m := market.Market{Name: "BTC-USD", Base: "BTC", Quote: "USD", ScaleFactor: 1000}

	funds := ledger.NewMemory()
	for owner, lots := range map[string]uint64{"maker-a": 9, "maker-b": 8, "maker-c": 7} {
		if err := funds.Deposit(owner, m.Base, lots*m.ScaleFactor); err != nil {
			return err
		}
	}
	if err := funds.Deposit("taker", m.Quote, 1_000); err != nil {
		return err
	}

	book := engine.NewOrderBook(m)
	matcher := engine.NewMatcher(book, funds)

	// Makers: a ladder of asks, 9@10, 8@11, 7@12
	for _, o := range []struct {
		owner       string
		price, lots uint64
	}{{"maker-a", 10, 9}, {"maker-b", 11, 8}, {"maker-c", 12, 7}} {
		if _, err := book.InsertRestingOrder(engine.SideSell, o.price, o.lots, o.owner); err != nil {
			return err
		}
	}
	printBook(book)

	// Taker: buy 17 lots, sweeping the first two levels
	res, err := matcher.Submit(ctx, engine.MarketOrder{Taker: "taker", Side: engine.SideBuy, Quantity: 17})
	if err != nil {
		return err
	}
	for _, f := range res.Fills {
		fmt.Printf("fill: %s %d@%d from %s (%s, %d left)\n",
			f.MakerOrderID, f.Quantity, f.Price, f.Maker, f.Kind, f.MakerRemaining)
	}
	fmt.Printf("filled %d %s for %d %s, %d lots unfilled\n",
		res.BaseFilled, m.Base, res.QuoteFilled, m.Quote, res.Unfilled)

	// A budget too small for one lot of the best ask fills nothing.
	budget := uint64(8)
	res, err = matcher.Submit(ctx, engine.MarketOrder{Taker: "taker", Side: engine.SideBuy, Quantity: 20, Budget: &budget})
	if err != nil {
		return err
	}
	fmt.Printf("budget %d: %d fills, insufficient budget: %t\n", budget, len(res.Fills), res.InsufficientBudget)

	printBook(book)
	for _, owner := range []string{"taker", "maker-a", "maker-b"} {
		base, _ := funds.AvailableBalance(ctx, owner, m.Base)
		quote, _ := funds.AvailableBalance(ctx, owner, m.Quote)
		fmt.Printf("%-8s %6d %s %6d %s\n", owner, base, m.Base, quote, m.Quote)
	}
	return nil
}

func printBook(book *engine.OrderBook) {
	fmt.Println("asks:")
	book.Walk(engine.SideSell, func(id engine.OrderID, pos engine.Position) bool {
		fmt.Printf("  %-6s %-8s %d\n", id, pos.Owner, pos.Quantity)
		return true
	})
	for _, lv := range book.Depth(engine.SideSell, 3) {
		fmt.Printf("  level %d: %d lots in %d orders\n", lv.Price, lv.Quantity, lv.Orders)
	}
}
