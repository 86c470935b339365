package payments

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Method        Method
	Card          *CardDetails
}

// Result is the gateway's verdict. Errors are reserved for transport faults
// and context expiry.
type Result struct {
	Approved bool
	Message  string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Refund(ctx context.Context, p Payment) (Result, error)
}

// SimulatedGateway approves with a fixed probability after a random delay.
// Outcome and Delay can be replaced for deterministic runs.
type SimulatedGateway struct {
	ChargeRate float64
	RefundRate float64

	ChargeDelay [2]time.Duration // [min, max)
	RefundDelay [2]time.Duration

	Outcome func(rate float64) bool
	Delay   func(lo, hi time.Duration) time.Duration
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		ChargeRate:  0.85,
		RefundRate:  0.90,
		ChargeDelay: [2]time.Duration{1000 * time.Millisecond, 3000 * time.Millisecond},
		RefundDelay: [2]time.Duration{1500 * time.Millisecond, 4000 * time.Millisecond},
		Outcome:     RandomOutcome,
		Delay:       UniformDelay,
	}
}

func RandomOutcome(rate float64) bool { return rand.Float64() < rate }

func UniformDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := g.wait(ctx, g.ChargeDelay); err != nil {
		return Result{}, err
	}
	if g.Outcome(g.ChargeRate) {
		return Result{Approved: true, Message: "Payment processed successfully"}, nil
	}
	return Result{Message: "Payment declined by gateway"}, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, p Payment) (Result, error) {
	if err := g.wait(ctx, g.RefundDelay); err != nil {
		return Result{}, err
	}
	if g.Outcome(g.RefundRate) {
		return Result{Approved: true, Message: "Refund processed successfully"}, nil
	}
	return Result{Message: "Refund declined by gateway"}, nil
}

func (g *SimulatedGateway) wait(ctx context.Context, r [2]time.Duration) error {
	d := g.Delay(r[0], r[1])
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
