package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	type input struct {
		FormID string `validate:"required"`
		Limit  int    `validate:"min=1,max=500"`
	}

	t.Run("should accept a valid struct", func(t *testing.T) {
		_, err := Validate(input{FormID: "orderForm", Limit: 10})
		assert.NoError(t, err)
	})

	t.Run("should list every failed rule", func(t *testing.T) {
		_, err := Validate(input{Limit: 0})
		assert.EqualError(t, err, "field 'FormID' failed rule 'required'; field 'Limit' failed rule 'min=1'")
	})
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue("a@b.pl", "email"))
	assert.Error(t, ValidateValue("nope", "email"))
}

func TestFirstString(t *testing.T) {
	data := map[string]any{
		"company":      "",
		"company_name": "ACME",
		"cargo_type":   json.Number("3"),
		"nested":       map[string]any{"a": 1},
	}

	t.Run("should skip empty values", func(t *testing.T) {
		value, ok := FirstString(data, "company", "company_name", "companyName")
		assert.True(t, ok)
		assert.Equal(t, "ACME", value)
	})

	t.Run("should render numbers", func(t *testing.T) {
		value, ok := FirstString(data, "cargo_type")
		assert.True(t, ok)
		assert.Equal(t, "3", value)
	})

	t.Run("should reject objects", func(t *testing.T) {
		_, ok := FirstString(data, "nested", "missing")
		assert.False(t, ok)
	})
}
