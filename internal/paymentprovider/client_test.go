package paymentprovider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewClient("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestSubscriptionInterval(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    string
		wantErr bool
	}{
		{
			name:   "yearly",
			body:   `{"id":"sub_1","object":"subscription","items":{"object":"list","data":[{"id":"si_1","price":{"id":"price_1","recurring":{"interval":"year"}}}]}}`,
			status: http.StatusOK,
			want:   "year",
		},
		{
			name:    "no items",
			body:    `{"id":"sub_1","object":"subscription","items":{"object":"list","data":[]}}`,
			status:  http.StatusOK,
			wantErr: true,
		},
		{
			name:    "not found",
			body:    `{"error":{"type":"invalid_request_error","message":"No such subscription"}}`,
			status:  http.StatusNotFound,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := c.SubscriptionInterval(context.Background(), "sub_1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCancelSubscription(t *testing.T) {
	var called bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_2", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_2","object":"subscription","status":"canceled"}`))
	})

	require.NoError(t, c.CancelSubscription(context.Background(), "sub_2"))
	assert.True(t, called)
}

func TestCreateCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/customers", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		assert.Equal(t, "ann@example.com", form.Get("email"))
		assert.Equal(t, "Ann", form.Get("name"))
		assert.Equal(t, "u-1", form.Get("metadata[userId]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_new","object":"customer"}`))
	})

	id, err := c.CreateCustomer(context.Background(), Customer{UserID: "u-1", Email: "ann@example.com", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestCreateCheckoutSession(t *testing.T) {
	tests := []struct {
		name      string
		recurring bool
		wantMode  string
	}{
		{name: "one-time purchase", recurring: false, wantMode: "payment"},
		{name: "subscription", recurring: true, wantMode: "subscription"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				form, err := url.ParseQuery(string(body))
				require.NoError(t, err)
				assert.Equal(t, tt.wantMode, form.Get("mode"))
				assert.Equal(t, "cus_1", form.Get("customer"))
				assert.Equal(t, "price_1", form.Get("line_items[0][price]"))
				assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
				assert.Equal(t, "u-1", form.Get("metadata[userId]"))
				assert.Equal(t, "lifetime", form.Get("metadata[plan]"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_1"}`))
			})

			got, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{
				CustomerID: "cus_1",
				PriceID:    "price_1",
				Recurring:  tt.recurring,
				SuccessURL: "https://app.example.com/success",
				CancelURL:  "https://app.example.com/cancel",
				Metadata:   map[string]string{"userId": "u-1", "plan": "lifetime"},
			})
			require.NoError(t, err)
			assert.Equal(t, "cs_1", got.ID)
			assert.Equal(t, "https://checkout.stripe.com/c/cs_1", got.URL)
		})
	}
}

func TestGetCheckoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","payment_status":"paid","mode":"payment",
			"customer":"cus_1","metadata":{"userId":"u-1","plan":"lifetime"}}`))
	})

	s, err := c.GetCheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, stripe.CheckoutSessionPaymentStatusPaid, s.PaymentStatus)
	assert.Equal(t, "cus_1", s.Customer.ID)
	assert.Equal(t, "u-1", s.Metadata["userId"])
}
