package exchange

import (
	"context"

	"trade_ledger/internal/models"
)

// Adapter единый контракт биржи. Подпись, пагинация и нормализация
// полей целиком внутри реализации.
type Adapter interface {
	Name() string
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	// FetchClosedPosition returns nil, nil while the exchange has not yet
	// published the close record.
	FetchClosedPosition(ctx context.Context, ref models.PositionRef) (*models.ClosedPosition, error)
	FetchFills(ctx context.Context, q models.FillQuery) ([]models.Fill, error)
	FetchPendingStopOrders(ctx context.Context, ref models.PositionRef) ([]models.Order, error)
}

// Registry ordered set of enabled adapters.
type Registry struct {
	adapters []Adapter
	byName   map[string]Adapter
}

// NewRegistry skips nil adapters (disabled exchanges) and keeps the first
// adapter registered under a name.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byName: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, ok := r.byName[a.Name()]; ok {
			continue
		}
		r.byName[a.Name()] = a
		r.adapters = append(r.adapters, a)
	}
	return r
}

func (r *Registry) All() []Adapter {
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	return names
}

func (r *Registry) Len() int { return len(r.adapters) }
