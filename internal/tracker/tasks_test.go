package tracker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func priceTask(t *testing.T, productID string) *queue.Task {
	t.Helper()
	args, err := json.Marshal(UpdateProductPriceArgs{ProductID: productID})
	require.NoError(t, err)
	return &queue.Task{ID: uuid.NewString(), Actor: UpdateProductPriceActor, Args: args}
}

func TestPriceUpdater_Handle(t *testing.T) {
	repo := &memRepository{}
	p := seed(t, repo, "https://shop.example.com/lamp")
	logs := logging.NewTestLogger()
	u := NewPriceUpdater(repo, fixedFetcher{price: decimal.RequireFromString("45.5")}, logs.Logger)

	ctx := logging.NewScope(context.Background())
	require.NoError(t, u.Handle(ctx, priceTask(t, p.ID.String())))

	products, err := repo.List(context.Background())
	require.NoError(t, err)
	require.True(t, products[0].CurrentPrice.Valid)
	assert.Equal(t, "45.50", products[0].CurrentPrice.Decimal.StringFixed(2))

	assert.Equal(t, p.ID.String(), logging.Fields(ctx)["product_id"])
	logs.AssertLogged(t, zapcore.InfoLevel, "product_price_updated")
	logs.AssertField(t, "product_price_updated", "product_id", p.ID.String())
	logs.AssertField(t, "product_price_updated", "new_price", "45.50")
}

func TestPriceUpdater_Failures(t *testing.T) {
	repo := &memRepository{}
	p := seed(t, repo, "https://shop.example.com/lamp")

	tests := []struct {
		name    string
		task    *queue.Task
		fetcher PriceFetcher
		target  error
		wantErr string
	}{
		{
			name:    "malformed args",
			task:    &queue.Task{Actor: UpdateProductPriceActor, Args: json.RawMessage(`[1,2]`)},
			fetcher: fixedFetcher{},
			wantErr: "decode update_product_price args",
		},
		{
			name:    "invalid product id",
			task:    priceTask(t, "not-a-uuid"),
			fetcher: fixedFetcher{},
			wantErr: `invalid product id "not-a-uuid"`,
		},
		{
			name:    "fetch failure",
			task:    priceTask(t, p.ID.String()),
			fetcher: fixedFetcher{err: ErrFetchFailed},
			target:  ErrFetchFailed,
		},
		{
			name:    "unknown product",
			task:    priceTask(t, uuid.NewString()),
			fetcher: fixedFetcher{price: decimal.NewFromInt(50)},
			target:  ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := logging.NewTestLogger()
			u := NewPriceUpdater(repo, tt.fetcher, logs.Logger)

			err := u.Handle(logging.NewScope(context.Background()), tt.task)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			logs.AssertNotLogged(t, "product_price_updated")
		})
	}
}
