package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/queue"
	"go.uber.org/zap"
)

// Dispatcher hands tasks to the queue. *queue.Client implements it.
type Dispatcher interface {
	Send(ctx context.Context, actor string, args any) (*queue.Task, error)
}

// API serves the product routes.
type API struct {
	repo       Repository
	dispatcher Dispatcher
	logger     *logging.Logger
}

// NewAPI creates the product API. logger may be nil.
func NewAPI(repo Repository, dispatcher Dispatcher, logger *logging.Logger) *API {
	return &API{repo: repo, dispatcher: dispatcher, logger: logger}
}

// Register mounts the routes under /api/v1.
func (a *API) Register(e *echo.Echo) {
	v1 := e.Group("/api/v1")
	v1.POST("/products", a.handleCreate)
	v1.GET("/products", a.handleList)
}

// ProductResponse is the JSON form of a product. Prices are JSON numbers
// with two decimals.
type ProductResponse struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	TargetPrice  json.Number  `json:"target_price"`
	CurrentPrice *json.Number `json:"current_price"`
	CreatedAt    time.Time    `json:"created_at"`
}

func newProductResponse(p Product) ProductResponse {
	resp := ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		URL:         p.URL,
		TargetPrice: json.Number(p.TargetPrice.StringFixed(priceScale)),
		CreatedAt:   p.CreatedAt,
	}
	if p.CurrentPrice.Valid {
		n := json.Number(p.CurrentPrice.Decimal.StringFixed(priceScale))
		resp.CurrentPrice = &n
	}
	return resp
}

// handleCreate validates and stores a product, then dispatches its first
// price update. A dispatch failure is logged; the product stays created.
func (a *API) handleCreate(c echo.Context) error {
	ctx := c.Request().Context()

	var in CreateProductInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	p, err := a.repo.Create(ctx, in)
	if errors.Is(err, ErrDuplicateURL) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}

	logging.Bind(ctx, "product_id", p.ID.String())
	a.log(ctx).Info(ctx, "product_created",
		zap.String("product_url", p.URL),
	)

	if a.dispatcher != nil {
		task, err := a.dispatcher.Send(ctx, UpdateProductPriceActor, UpdateProductPriceArgs{ProductID: p.ID.String()})
		if err != nil {
			a.log(ctx).Error(ctx, "task_dispatch_failed",
				zap.String("actor", UpdateProductPriceActor),
				zap.Error(err),
			)
		} else {
			a.log(ctx).Debug(ctx, "task_dispatched", zap.String("task_id", task.ID))
		}
	}

	return c.JSON(http.StatusCreated, newProductResponse(*p))
}

func (a *API) handleList(c echo.Context) error {
	products, err := a.repo.List(c.Request().Context())
	if err != nil {
		return err
	}
	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, newProductResponse(p))
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *API) log(ctx context.Context) *logging.Logger {
	if a.logger != nil {
		return a.logger
	}
	return logging.FromContext(ctx)
}
