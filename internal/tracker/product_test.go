package tracker

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProductInput_Validate(t *testing.T) {
	valid := func() CreateProductInput {
		return CreateProductInput{
			Name:        "Mechanical keyboard",
			URL:         "https://shop.example.com/keyboard",
			TargetPrice: decimal.RequireFromString("59.99"),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateProductInput)
		wantErr string
	}{
		{"valid", func(*CreateProductInput) {}, ""},
		{"empty name", func(in *CreateProductInput) { in.Name = "" }, "name is required"},
		{"long name", func(in *CreateProductInput) { in.Name = strings.Repeat("x", 256) }, "at most 255"},
		{"missing url", func(in *CreateProductInput) { in.URL = "" }, "url is required"},
		{"relative url", func(in *CreateProductInput) { in.URL = "/keyboard" }, "absolute http or https"},
		{"ftp url", func(in *CreateProductInput) { in.URL = "ftp://shop.example.com/k" }, "absolute http or https"},
		{"zero price", func(in *CreateProductInput) { in.TargetPrice = decimal.Zero }, "greater than zero"},
		{"negative price", func(in *CreateProductInput) { in.TargetPrice = decimal.NewFromInt(-5) }, "greater than zero"},
		{"price overflow", func(in *CreateProductInput) { in.TargetPrice = decimal.RequireFromString("100000000") }, "at most 99999999.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			err := in.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidProduct)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateProductInput_ValidateReportsAllProblems(t *testing.T) {
	in := CreateProductInput{}
	err := in.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "url is required")
	assert.Contains(t, err.Error(), "target_price")
}

func TestCreateProductInput_Normalize(t *testing.T) {
	in := CreateProductInput{
		Name:        "  Desk lamp ",
		URL:         " https://shop.example.com/lamp\n",
		TargetPrice: decimal.RequireFromString("19.999"),
	}
	in.Normalize()

	assert.Equal(t, "Desk lamp", in.Name)
	assert.Equal(t, "https://shop.example.com/lamp", in.URL)
	assert.Equal(t, "20.00", in.TargetPrice.StringFixed(2))
}
