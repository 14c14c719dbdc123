package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/threadcart/api/internal/platform/firestore"
	"github.com/threadcart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repository implementations behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	products    *ProductRepository
	collections *CollectionRepository
	coupons     *CouponRepository
	orders      *OrderRepository
	users       *UserRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository overrides the health repository, typically to add
// dependency probes beyond Firestore.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		if health != nil {
			r.health = health
		}
	}
}

// NewRegistry wires all Firestore repositories over a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	collections, err := NewCollectionRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider:    provider,
		products:    products,
		collections: collections,
		coupons:     coupons,
		orders:      orders,
		users:       users,
		counters:    counters,
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.health == nil {
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{
				Name: "firestore",
				Check: func(ctx context.Context) error {
					_, err := provider.Client(ctx)
					return err
				},
			},
		})
		if err != nil {
			return nil, err
		}
		reg.health = health
	}
	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository       { return r.products }
func (r *Registry) Collections() repositories.CollectionRepository { return r.collections }
func (r *Registry) Coupons() repositories.CouponRepository         { return r.coupons }
func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Users() repositories.UserRepository             { return r.users }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }
