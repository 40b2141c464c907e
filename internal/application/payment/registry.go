package payment

import (
	"fmt"
	"sort"
	"sync"

	dompayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
)

// Registry resolves gateway adapters by method name.
type Registry struct {
	mu       sync.RWMutex
	gateways map[dompayment.Method]dompayment.Gateway
}

func NewRegistry(gateways ...dompayment.Gateway) *Registry {
	r := &Registry{gateways: make(map[dompayment.Method]dompayment.Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces the adapter for g.Method().
func (r *Registry) Register(g dompayment.Gateway) {
	if g == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Method()] = g
}

// Resolve returns the adapter for m or ErrUnknownGateway.
func (r *Registry) Resolve(m dompayment.Method) (dompayment.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[m]
	if !ok {
		return nil, fmt.Errorf("%q: %w", m, dompayment.ErrUnknownGateway)
	}
	return g, nil
}

// Methods lists the registered gateways in name order.
func (r *Registry) Methods() []dompayment.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dompayment.Method, 0, len(r.gateways))
	for m := range r.gateways {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
