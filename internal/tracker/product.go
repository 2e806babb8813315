// Package tracker implements the pricewatch product domain: the product
// store, its read-through cache, the price update task and the HTTP routes
// that create and list products.
package tracker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxNameLength = 255

	// Prices are stored as numeric(10,2).
	priceScale = 2
)

var maxPrice = decimal.RequireFromString("99999999.99")

var (
	// ErrInvalidProduct wraps every validation failure.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrNotFound is returned when no active product has the given id.
	ErrNotFound = errors.New("product not found")

	// ErrDuplicateURL is returned when an active product already tracks the URL.
	ErrDuplicateURL = errors.New("product url already tracked")
)

// Product is a tracked product. CurrentPrice is null until the first price
// update task has run.
type Product struct {
	ID           uuid.UUID           `json:"id"`
	Name         string              `json:"name"`
	URL          string              `json:"url"`
	TargetPrice  decimal.Decimal     `json:"target_price"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// CreateProductInput is the body of POST /api/v1/products.
type CreateProductInput struct {
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	TargetPrice decimal.Decimal `json:"target_price"`
}

// Normalize trims the name and URL and rounds the target price to cents.
func (in *CreateProductInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	in.TargetPrice = in.TargetPrice.Round(priceScale)
}

// Validate reports every problem with the input at once. The returned error
// wraps ErrInvalidProduct.
func (in *CreateProductInput) Validate() error {
	var problems []string

	switch {
	case in.Name == "":
		problems = append(problems, "name is required")
	case len(in.Name) > maxNameLength:
		problems = append(problems, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}

	if in.URL == "" {
		problems = append(problems, "url is required")
	} else if u, err := url.Parse(in.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, "url must be an absolute http or https URL")
	}

	if !in.TargetPrice.IsPositive() {
		problems = append(problems, "target_price must be greater than zero")
	} else if in.TargetPrice.GreaterThan(maxPrice) {
		problems = append(problems, "target_price must be at most "+maxPrice.StringFixed(priceScale))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProduct, strings.Join(problems, "; "))
	}
	return nil
}
