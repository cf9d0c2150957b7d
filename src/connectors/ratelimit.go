package connectors

import (
	"context"
	"fmt"

	"positionengine/src/model"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// RateLimitedGateway waits on a token bucket before every outbound call.
type RateLimitedGateway struct {
	inner   Gateway
	limiter *rate.Limiter
}

var _ Gateway = (*RateLimitedGateway)(nil)

func NewRateLimitedGateway(inner Gateway, limit rate.Limit, burst int) *RateLimitedGateway {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGateway{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (g *RateLimitedGateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s rate limit: %w", g.inner.Name(), err)
	}
	return nil
}

func (g *RateLimitedGateway) Name() string {
	return g.inner.Name()
}

func (g *RateLimitedGateway) SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult {
	if err := g.wait(ctx); err != nil {
		res := FailedResultFromError(err)
		if res.ErrorCode == ErrorCodeRequestFailed {
			res.ErrorCode = ErrorCodeRateLimited
		}
		return res
	}
	return g.inner.SendEntryOrder(ctx, order, creds)
}

func (g *RateLimitedGateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.SendTakeProfitOrder(ctx, order, creds)
}

func (g *RateLimitedGateway) SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.SendStoplossOrder(ctx, order, creds)
}

func (g *RateLimitedGateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.inner.FetchAssetPrice(ctx, symbol)
}

func (g *RateLimitedGateway) GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error) {
	if err := g.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return g.inner.GetBalance(ctx, creds)
}

func (g *RateLimitedGateway) FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	if err := g.wait(ctx); err != nil {
		return OrderState{}, err
	}
	return g.inner.FetchOrderState(ctx, order, creds)
}
