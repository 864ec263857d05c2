package paymentlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Payments(ctx context.Context, id string) ([]*models.Payment, error) {
	args := m.Called(ctx, id)
	payments, _ := args.Get(0).([]*models.Payment)
	return payments, args.Error(1)
}

func TestListHandler(t *testing.T) {
	tests := []struct {
		name       string
		payments   []*models.Payment
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success",
			payments:   []*models.Payment{{ID: 2, UserID: "u-1"}, {ID: 1, UserID: "u-1"}},
			wantStatus: http.StatusOK,
			wantBody:   `"count":2`,
		},
		{
			name:       "empty history",
			payments:   []*models.Payment{},
			wantStatus: http.StatusOK,
			wantBody:   `"count":0`,
		},
		{
			name:       "unknown user",
			err:        fmt.Errorf("account.Payments: %w", storage.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   `user not found`,
		},
		{
			name:       "storage failure",
			err:        errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `internal error`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			svc.On("Payments", mock.Anything, "u-1").Return(tt.payments, tt.err).Once()

			router := chi.NewRouter()
			router.Get("/users/{id}/payments", New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/u-1/payments", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			svc.AssertExpectations(t)
		})
	}
}
