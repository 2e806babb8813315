package tracker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const trackerInstrumentationName = "github.com/startswithzed/observability/internal/tracker"

// ErrFetchFailed is returned by the simulated fetcher on an injected failure.
var ErrFetchFailed = errors.New("price fetch failed")

var (
	minFetchedPrice = decimal.RequireFromString("40.99")
	maxFetchedPrice = decimal.RequireFromString("89.99")
)

// PriceFetcher looks up the current price of a product.
type PriceFetcher interface {
	Fetch(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
}

// SimulatedFetcher stands in for scraping the product page. It returns a
// uniform price between 40.99 and 89.99 and fails at the configured rate.
type SimulatedFetcher struct {
	failureRate float64
	tracer      trace.Tracer

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedFetcher creates a fetcher failing with probability
// failureRate, clamped to [0, 1]. A zero seed uses the clock.
func NewSimulatedFetcher(failureRate float64, seed uint64) *SimulatedFetcher {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SimulatedFetcher{
		failureRate: min(max(failureRate, 0), 1),
		tracer:      otel.Tracer(trackerInstrumentationName),
		rng:         rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Fetch returns a simulated price rounded to cents.
func (f *SimulatedFetcher) Fetch(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	_, span := f.tracer.Start(ctx, "price.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("pricewatch.product.id", id.String())),
	)
	defer span.End()

	f.mu.Lock()
	fail := f.rng.Float64() < f.failureRate
	r := f.rng.Float64()
	f.mu.Unlock()

	if fail {
		span.SetStatus(codes.Error, ErrFetchFailed.Error())
		return decimal.Decimal{}, ErrFetchFailed
	}

	spread := maxFetchedPrice.Sub(minFetchedPrice)
	price := minFetchedPrice.Add(spread.Mul(decimal.NewFromFloat(r))).Round(priceScale)
	span.SetAttributes(attribute.String("pricewatch.product.price", price.StringFixed(priceScale)))
	return price, nil
}
