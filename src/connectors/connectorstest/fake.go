// Package connectorstest provides an in-memory Gateway for tests of code built on connectors.
package connectorstest

import (
	"context"
	"sync"

	"positionengine/src/connectors"
	"positionengine/src/model"

	"github.com/shopspring/decimal"
)

// Call records one gateway invocation.
type Call struct {
	Method  string
	OrderID uint
	Symbol  string
	Side    string
	Size    decimal.Decimal
}

// Gateway is a programmable connectors.Gateway. Nil hooks answer with success.
type Gateway struct {
	GatewayName string

	EntryFunc      func(ctx context.Context, order *model.Order) model.ExchangeOrderResult
	TakeProfitFunc func(ctx context.Context, order *model.Order) (string, error)
	StoplossFunc   func(ctx context.Context, order *model.Order) (string, error)
	PriceFunc      func(ctx context.Context, symbol string) (*decimal.Decimal, error)
	BalanceFunc    func(ctx context.Context) (decimal.Decimal, error)
	StateFunc      func(ctx context.Context, order *model.Order) (connectors.OrderState, error)

	mu    sync.Mutex
	calls []Call
}

var _ connectors.Gateway = (*Gateway)(nil)

// Calls returns a copy of the recorded invocations.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount counts invocations of method.
func (g *Gateway) CallCount(method string) int {
	n := 0
	for _, c := range g.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (g *Gateway) record(method string, order *model.Order, symbol string) {
	c := Call{Method: method, Symbol: symbol}
	if order != nil {
		c.OrderID = order.ID
		c.Symbol = order.Symbol
		c.Side = order.Side
		c.Size = order.Size
	}
	g.mu.Lock()
	g.calls = append(g.calls, c)
	g.mu.Unlock()
}

func (g *Gateway) Name() string {
	if g.GatewayName == "" {
		return "fake"
	}
	return g.GatewayName
}

func (g *Gateway) SendEntryOrder(ctx context.Context, order *model.Order, _ connectors.Credentials) model.ExchangeOrderResult {
	g.record("SendEntryOrder", order, "")
	if g.EntryFunc != nil {
		return g.EntryFunc(ctx, order)
	}
	return model.ExchangeOrderResult{Success: true, Response: `{"status":"ok"}`, ExchangeOrderID: "fake-entry"}
}

func (g *Gateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, _ connectors.Credentials) (string, error) {
	g.record("SendTakeProfitOrder", order, "")
	if g.TakeProfitFunc != nil {
		return g.TakeProfitFunc(ctx, order)
	}
	order.ExchangeOrderID = "fake-tp"
	return `{"status":"ok"}`, nil
}

func (g *Gateway) SendStoplossOrder(ctx context.Context, order *model.Order, _ connectors.Credentials) (string, error) {
	g.record("SendStoplossOrder", order, "")
	if g.StoplossFunc != nil {
		return g.StoplossFunc(ctx, order)
	}
	order.ExchangeOrderID = "fake-sl"
	return `{"status":"ok"}`, nil
}

func (g *Gateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	g.record("FetchAssetPrice", nil, symbol)
	if g.PriceFunc != nil {
		return g.PriceFunc(ctx, symbol)
	}
	return nil, nil
}

func (g *Gateway) GetBalance(ctx context.Context, _ connectors.Credentials) (decimal.Decimal, error) {
	g.record("GetBalance", nil, "")
	if g.BalanceFunc != nil {
		return g.BalanceFunc(ctx)
	}
	return decimal.Zero, nil
}

func (g *Gateway) FetchOrderState(ctx context.Context, order *model.Order, _ connectors.Credentials) (connectors.OrderState, error) {
	g.record("FetchOrderState", order, "")
	if g.StateFunc != nil {
		return g.StateFunc(ctx, order)
	}
	return connectors.OrderState{}, nil
}

// Price returns a PriceFunc answering p for every symbol.
func Price(p string) func(context.Context, string) (*decimal.Decimal, error) {
	d := decimal.RequireFromString(p)
	return func(context.Context, string) (*decimal.Decimal, error) {
		out := d
		return &out, nil
	}
}

// Registry returns a registry backed by the embedded catalog with gw installed for id.
func Registry(id uint, gw connectors.Gateway) *connectors.Registry {
	catalog, err := connectors.LoadCatalog("")
	if err != nil {
		panic(err)
	}
	reg := connectors.NewRegistry(catalog)
	reg.Register(id, gw)
	return reg
}
