// Package paymentprovider — клиент API Stripe для операций, которые сервис
// выполняет сам: создание клиента и сессии оформления заказа, чтение сессии,
// чтение интервала подписки и отмена подписки.
package paymentprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrNoPrice возвращается, если у подписки нет позиции с рекуррентной ценой.
var ErrNoPrice = errors.New("subscription has no recurring price")

// Client оборачивает клиент Stripe.
type Client struct {
	api *client.API
}

// NewClient создаёт клиент Stripe с секретным ключом. backends == nil означает
// стандартные адреса API.
func NewClient(secretKey string, backends *stripe.Backends) *Client {
	return &Client{api: client.New(secretKey, backends)}
}

// SubscriptionInterval возвращает интервал списания первой позиции подписки (month, year).
func (c *Client) SubscriptionInterval(ctx context.Context, subscriptionID string) (string, error) {
	const op = "paymentprovider.SubscriptionInterval"

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 ||
		sub.Items.Data[0].Price == nil || sub.Items.Data[0].Price.Recurring == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNoPrice)
	}
	return string(sub.Items.Data[0].Price.Recurring.Interval), nil
}

// CancelSubscription немедленно отменяет подписку у провайдера. Локальное
// состояние меняется по событию customer.subscription.deleted.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	const op = "paymentprovider.CancelSubscription"

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Customer описывает покупателя при создании клиента Stripe.
type Customer struct {
	UserID string
	Email  string
	Name   string
}

// CreateCustomer создаёт клиента Stripe и возвращает его ID. ID пользователя
// сохраняется в metadata клиента.
func (c *Client) CreateCustomer(ctx context.Context, cust Customer) (string, error) {
	const op = "paymentprovider.CreateCustomer"

	params := &stripe.CustomerParams{
		Email: stripe.String(cust.Email),
		Name:  stripe.String(cust.Name),
	}
	params.Context = ctx
	params.AddMetadata("userId", cust.UserID)
	created, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return created.ID, nil
}

// CheckoutRequest описывает сессию оформления заказа на одну позицию.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	// Recurring выбирает режим subscription, иначе payment.
	Recurring  bool
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession — созданная сессия оформления заказа.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CreateCheckoutSession открывает сессию оформления заказа Stripe.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	const op = "paymentprovider.CreateCheckoutSession"

	mode := stripe.CheckoutSessionModePayment
	if req.Recurring {
		mode = stripe.CheckoutSessionModeSubscription
	}
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		Mode:               stripe.String(string(mode)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
	}
	params.Context = ctx
	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// GetCheckoutSession возвращает сессию оформления заказа по ID.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	const op = "paymentprovider.GetCheckoutSession"

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}
