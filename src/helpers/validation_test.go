package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Symbol string  `validate:"required"`
	Price  float64 `validate:"gt=0"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(sample{Symbol: "AAPL", Price: 1}))

	err := ValidateStruct(sample{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "sample.Symbol(required)")
	assert.Contains(t, err.Error(), "sample.Price(gt)")
}
