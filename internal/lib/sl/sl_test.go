package sl_test

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
)

func TestErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain", errors.New("boom"), "boom"},
		{"wrapped", fmt.Errorf("storage.CreatePayment: %w", errors.New("conflict")), "storage.CreatePayment: conflict"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := sl.Err(tt.err)
			assert.Equal(t, "error", attr.Key)
			assert.Equal(t, slog.StringValue(tt.want), attr.Value)
		})
	}
}

func TestOp(t *testing.T) {
	attr := sl.Op("billing.Apply")
	assert.Equal(t, "op", attr.Key)
	assert.Equal(t, "billing.Apply", attr.Value.String())
}
