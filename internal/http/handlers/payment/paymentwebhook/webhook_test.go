package paymentwebhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	webhookservice "github.com/magabrotheeeer/subscription-billing/internal/services/webhook"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Process(ctx context.Context, payload []byte, signature string) (billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	return args.Get(0).(billing.Event), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestWebhookHandler(t *testing.T) {
	ev := billing.Event{ID: "evt_1", Kind: billing.KindCheckoutCompleted}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"processed", nil, http.StatusOK, `{"received":true}`},
		{"invalid signature", fmt.Errorf("webhook.Process: %w", webhookservice.ErrInvalidSignature), http.StatusBadRequest, `invalid signature`},
		{"user not resolved", nil, http.StatusOK, `{"received":true}`},
		{"persistence failure is acknowledged", fmt.Errorf("billing.Apply: %w", billing.ErrPersistence), http.StatusOK, `{"received":true}`},
		{"conflict is acknowledged", fmt.Errorf("billing.Apply: %w", billing.ErrConflict), http.StatusOK, `{"received":true}`},
		{"malformed payload is acknowledged", fmt.Errorf("billing.Normalize: %w", billing.ErrMalformedEvent), http.StatusOK, `{"received":true}`},
		{"unexpected failure is acknowledged", errors.New("boom"), http.StatusOK, `{"received":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"id":"evt_1"}`)
			svc := new(ServiceMock)
			svc.On("Process", mock.Anything, body, "t=1,v1=abc").Return(ev, tt.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
			req.Header.Set(SignatureHeader, "t=1,v1=abc")
			rec := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			svc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	svc := new(ServiceMock)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(make([]byte, maxBodyBytes+1)))
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	svc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_LargeEventWithinLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 200<<10)
	svc := new(ServiceMock)
	svc.On("Process", mock.Anything, payload, "t=1,v1=abc").
		Return(billing.Event{ID: "evt_big", Kind: billing.KindInvoicePaid}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, "t=1,v1=abc")
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWebhookHandler_BodyReadError(t *testing.T) {
	svc := new(ServiceMock)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", failingReader{})
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}
