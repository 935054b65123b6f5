package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Amount   decimal.Decimal  `json:"amount" validate:"money"`
	Optional *decimal.Decimal `json:"optional" validate:"omitempty,money"`
	Currency string           `json:"currency" validate:"omitempty,iso4217"`
	Token    string           `json:"token" validate:"required,max=5"`
}

func TestValidate_Money(t *testing.T) {
	v := New()
	tests := []struct {
		name   string
		amount string
		valid  bool
	}{
		{"whole", "100", true},
		{"cents", "10.55", true},
		{"zero", "0", false},
		{"negative", "-1", false},
		{"three_decimals", "1.001", false},
		{"trailing_zero", "1.100", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(sample{Amount: decimal.RequireFromString(tt.amount), Token: "t"})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Contains(t, Messages(err), "amount")
			}
		})
	}
}

func TestValidate_OptionalAndCurrency(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(sample{Amount: decimal.NewFromInt(1), Token: "t"}))

	bad := decimal.RequireFromString("-5")
	msgs := Messages(v.Struct(sample{Amount: decimal.NewFromInt(1), Optional: &bad, Currency: "XXZ", Token: "toolong"}))
	require.Len(t, msgs, 3)
	assert.Equal(t, "must be a positive amount with at most two decimals", msgs["optional"])
	assert.Equal(t, "must be an ISO 4217 currency code", msgs["currency"])
	assert.Equal(t, "must be at most 5 characters", msgs["token"])
}

func TestMessages_NonValidationError(t *testing.T) {
	assert.Nil(t, Messages(assert.AnError))
	assert.Equal(t, "is required", Messages(New().Struct(sample{Amount: decimal.NewFromInt(1)}))["token"])
}
