package shipper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry manages registered shipping carriers.
type Registry struct {
	shippers map[string]Shipper
	mu       sync.RWMutex
}

// NewRegistry creates a new shipper registry.
func NewRegistry() *Registry {
	return &Registry{
		shippers: make(map[string]Shipper),
	}
}

// Register adds a shipper to the registry.
func (r *Registry) Register(s Shipper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shippers[s.Name()] = s
}

// Get returns a shipper by name.
func (r *Registry) Get(name string) (Shipper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shippers[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCarrierNotFound, name)
}

// All returns all registered shippers.
func (r *Registry) All() []Shipper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Shipper, 0, len(r.shippers))
	for _, s := range r.shippers {
		result = append(result, s)
	}
	return result
}

// Names returns the sorted names of all registered shippers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.shippers))
	for name := range r.shippers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered shippers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shippers)
}

// CarrierRates pairs a quote set with the carrier that produced it.
type CarrierRates struct {
	Carrier string        `json:"carrier"`
	Rates   *RateQuoteSet `json:"rates"`
}

// GetAllRates fetches rates from all registered carriers in parallel.
// Errors from individual carriers don't fail the entire request.
func (r *Registry) GetAllRates(ctx context.Context, req *RateRequest, useCache bool) ([]CarrierRates, []error) {
	shippers := r.All()
	if len(shippers) == 0 {
		return nil, []error{ErrCarrierNotFound}
	}

	results := make([]CarrierRates, 0, len(shippers))
	errs := make([]error, 0)
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)

	for _, s := range shippers {
		g.Go(func() error {
			set, err := s.GetRates(ctx, req, useCache)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				return nil
			}
			results = append(results, CarrierRates{Carrier: s.Name(), Rates: set})
			return nil
		})
	}

	_ = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Carrier < results[j].Carrier })
	return results, errs
}
