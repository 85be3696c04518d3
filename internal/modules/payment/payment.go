// README: Payment collaborator boundary; charges gate confirmation, refunds follow cancellation.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"dishpatch/internal/types"
)

var ErrDeclined = errors.New("payment declined")

// Gateway is the narrow surface of the external payment provider this core
// consumes. Implementations live outside the core; LocalGateway stands in
// for development and tests.
type Gateway interface {
	Charge(ctx context.Context, orderID types.ID, amount float64) error
	Refund(ctx context.Context, orderID types.ID, amount float64, reason string) error
}

// LocalGateway approves everything and remembers what it was asked, so
// flows can be exercised without a provider.
type LocalGateway struct {
	mu      sync.Mutex
	charges map[types.ID]float64
	refunds map[types.ID]float64
}

func NewLocalGateway() *LocalGateway {
	return &LocalGateway{
		charges: make(map[types.ID]float64),
		refunds: make(map[types.ID]float64),
	}
}

func (g *LocalGateway) Charge(ctx context.Context, orderID types.ID, amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[orderID] = amount
	slog.Info("payment charged", "order_id", orderID, "amount", amount)
	return nil
}

func (g *LocalGateway) Refund(ctx context.Context, orderID types.ID, amount float64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds[orderID] = amount
	slog.Info("payment refunded", "order_id", orderID, "amount", amount, "reason", reason)
	return nil
}

// Charged reports the amount charged for an order, if any.
func (g *LocalGateway) Charged(orderID types.ID) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.charges[orderID]
	return v, ok
}

// Refunded reports the amount refunded for an order, if any.
func (g *LocalGateway) Refunded(orderID types.ID) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.refunds[orderID]
	return v, ok
}
