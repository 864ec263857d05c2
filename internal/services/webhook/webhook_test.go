package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

const testSecret = "whsec_test_secret"

type ApplierMock struct{ mock.Mock }

func (m *ApplierMock) Apply(ctx context.Context, ev billing.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func sign(payload string, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

const checkoutPayload = `{
	"id": "evt_checkout",
	"object": "event",
	"type": "checkout.session.completed",
	"data": {"object": {
		"id": "cs_1",
		"object": "checkout.session",
		"mode": "payment",
		"customer": "cus_1",
		"customer_details": {"email": "Ann@Example.com"},
		"amount_total": 9900,
		"currency": "usd",
		"metadata": {"userId": "u-1"}
	}}
}`

func TestWebhookService_Process(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		signature func(payload string) string
		secret    string
		setup     func(a *ApplierMock)
		wantSig   bool
		wantErr   error
		wantKind  billing.EventKind
	}{
		{
			name:      "valid checkout",
			payload:   checkoutPayload,
			signature: func(p string) string { return sign(p, testSecret) },
			secret:    testSecret,
			setup: func(a *ApplierMock) {
				a.On("Apply", mock.Anything, mock.MatchedBy(func(ev billing.Event) bool {
					return ev.ID == "evt_checkout" && ev.Kind == billing.KindCheckoutCompleted &&
						ev.UserID == "u-1" && ev.Mode == billing.ModeOneTime && ev.Amount == 9900
				})).Return(nil).Once()
			},
			wantKind: billing.KindCheckoutCompleted,
		},
		{
			name:      "wrong secret",
			payload:   checkoutPayload,
			signature: func(p string) string { return sign(p, "whsec_other") },
			secret:    testSecret,
			setup:     func(_ *ApplierMock) {},
			wantSig:   true,
		},
		{
			name:      "missing signature",
			payload:   checkoutPayload,
			signature: func(_ string) string { return "" },
			secret:    testSecret,
			setup:     func(_ *ApplierMock) {},
			wantSig:   true,
		},
		{
			name:      "secret not configured",
			payload:   checkoutPayload,
			signature: func(p string) string { return sign(p, testSecret) },
			setup:     func(_ *ApplierMock) {},
			wantSig:   true,
		},
		{
			name:      "unhandled type is applied as ignored",
			payload:   `{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{}}}`,
			signature: func(p string) string { return sign(p, testSecret) },
			secret:    testSecret,
			setup: func(a *ApplierMock) {
				a.On("Apply", mock.Anything, mock.MatchedBy(func(ev billing.Event) bool {
					return ev.Kind == billing.KindIgnored && ev.Type == "customer.created"
				})).Return(nil).Once()
			},
			wantKind: billing.KindIgnored,
		},
		{
			name:      "malformed object",
			payload:   `{"id":"evt_bad","object":"event","type":"invoice.paid","data":{"object":{"amount_paid":"lots"}}}`,
			signature: func(p string) string { return sign(p, testSecret) },
			secret:    testSecret,
			setup:     func(_ *ApplierMock) {},
			wantErr:   billing.ErrMalformedEvent,
			wantKind:  billing.KindInvoicePaid,
		},
		{
			name:      "apply failure is returned",
			payload:   checkoutPayload,
			signature: func(p string) string { return sign(p, testSecret) },
			secret:    testSecret,
			setup: func(a *ApplierMock) {
				a.On("Apply", mock.Anything, mock.Anything).Return(billing.ErrConflict).Once()
			},
			wantErr:  billing.ErrConflict,
			wantKind: billing.KindCheckoutCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := new(ApplierMock)
			tt.setup(applier)
			svc := NewWebhookService(tt.secret, applier, newNoopLogger())

			ev, err := svc.Process(context.Background(), []byte(tt.payload), tt.signature(tt.payload))
			switch {
			case tt.wantSig:
				assert.ErrorIs(t, err, ErrInvalidSignature)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, errors.Is(err, ErrInvalidSignature))
				assert.Equal(t, tt.wantKind, ev.Kind)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantKind, ev.Kind)
			}
			applier.AssertExpectations(t)
		})
	}
}

func TestWebhookService_ProcessNormalizesEmail(t *testing.T) {
	applier := new(ApplierMock)
	applier.On("Apply", mock.Anything, mock.Anything).Return(nil).Once()
	svc := NewWebhookService(testSecret, applier, newNoopLogger())

	ev, err := svc.Process(context.Background(), []byte(checkoutPayload), sign(checkoutPayload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, models.NormalizeEmail("Ann@Example.com"), models.NormalizeEmail(ev.CustomerEmail))
	assert.Equal(t, "cus_1", ev.CustomerID)
}
