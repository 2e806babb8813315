package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepository is an in-memory Repository for handler and cache tests.
type memRepository struct {
	mu        sync.Mutex
	products  []Product
	listCalls int
	createErr error
	listErr   error
	pingErr   error
}

var _ Repository = (*memRepository)(nil)

func (r *memRepository) Create(_ context.Context, in CreateProductInput) (*Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	for _, p := range r.products {
		if p.URL == in.URL {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateURL, in.URL)
		}
	}
	now := time.Now().UTC()
	p := Product{ID: uuid.New(), Name: in.Name, URL: in.URL, TargetPrice: in.TargetPrice, CreatedAt: now, UpdatedAt: now}
	r.products = append(r.products, p)
	return &p, nil
}

func (r *memRepository) List(context.Context) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]Product{}, r.products...), nil
}

func (r *memRepository) UpdatePrice(_ context.Context, id uuid.UUID, price decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.products {
		if r.products[i].ID == id {
			r.products[i].CurrentPrice = decimal.NewNullDecimal(price)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *memRepository) Ping(context.Context) error {
	return r.pingErr
}

func (r *memRepository) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

type fixedFetcher struct {
	price decimal.Decimal
	err   error
}

func (f fixedFetcher) Fetch(context.Context, uuid.UUID) (decimal.Decimal, error) {
	return f.price, f.err
}
