package tracker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/queue"
	"go.uber.org/zap"
)

// UpdateProductPriceActor names the price update task.
const UpdateProductPriceActor = "update_product_price"

// UpdateProductPriceArgs are the arguments of the price update task.
type UpdateProductPriceArgs struct {
	ProductID string `json:"product_id"`
}

// PriceUpdater runs the price update task.
type PriceUpdater struct {
	repo    Repository
	fetcher PriceFetcher
	logger  *logging.Logger
}

// NewPriceUpdater creates the task handler. logger may be nil.
func NewPriceUpdater(repo Repository, fetcher PriceFetcher, logger *logging.Logger) *PriceUpdater {
	return &PriceUpdater{repo: repo, fetcher: fetcher, logger: logger}
}

// Register registers the handler on w.
func (u *PriceUpdater) Register(w *queue.Worker) {
	w.Register(UpdateProductPriceActor, u.Handle)
}

// Handle fetches the current price of the product named in the task and
// stores it. product_id is bound to the task's log scope first so every
// later log line of the task carries it.
func (u *PriceUpdater) Handle(ctx context.Context, task *queue.Task) error {
	var args UpdateProductPriceArgs
	if err := task.Decode(&args); err != nil {
		return fmt.Errorf("decode %s args: %w", UpdateProductPriceActor, err)
	}
	logging.Bind(ctx, "product_id", args.ProductID)

	id, err := uuid.Parse(args.ProductID)
	if err != nil {
		return fmt.Errorf("invalid product id %q: %w", args.ProductID, err)
	}

	price, err := u.fetcher.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	if err := u.repo.UpdatePrice(ctx, id, price); err != nil {
		return err
	}

	u.log(ctx).Info(ctx, "product_price_updated",
		zap.String("new_price", price.StringFixed(priceScale)),
	)
	return nil
}

func (u *PriceUpdater) log(ctx context.Context) *logging.Logger {
	if u.logger != nil {
		return u.logger
	}
	return logging.FromContext(ctx)
}
