package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

// memStore — хранилище в памяти с теми же ограничениями уникальности, что и PostgreSQL.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	payments []*models.Payment
	logs     []*models.EventLog

	updateErr  error
	paymentErr error
	logErr     error
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{users: map[string]*models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) clone(u *models.User) *models.User {
	c := *u
	return &c
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return s.clone(u), nil
	}
	return nil, fmt.Errorf("mem.GetUserByID: %w", storage.ErrNotFound)
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == models.NormalizeEmail(email) {
			return s.clone(u), nil
		}
	}
	return nil, fmt.Errorf("mem.GetUserByEmail: %w", storage.ErrNotFound)
}

func (s *memStore) GetUserByStripeCustomerID(_ context.Context, customerID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if customerID != "" && u.StripeCustomerID == customerID {
			return s.clone(u), nil
		}
	}
	return nil, fmt.Errorf("mem.GetUserByStripeCustomerID: %w", storage.ErrNotFound)
}

func (s *memStore) UpdateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.users[u.ID] = s.clone(u)
	return nil
}

func (s *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paymentErr != nil {
		return s.paymentErr
	}
	for _, existing := range s.payments {
		switch {
		case p.StripeEventID != "" && existing.StripeEventID == p.StripeEventID,
			p.StripeInvoiceID != "" && existing.StripeInvoiceID == p.StripeInvoiceID,
			p.StripePaymentIntentID != "" && existing.StripePaymentIntentID == p.StripePaymentIntentID,
			p.StripeSessionID != "" && existing.StripeSessionID == p.StripeSessionID,
			p.RegistrationKey != "" && existing.RegistrationKey == p.RegistrationKey:
			return fmt.Errorf("mem.CreatePayment: %w", storage.ErrConflict)
		}
	}
	c := *p
	c.ID = int64(len(s.payments) + 1)
	p.ID = c.ID
	s.payments = append(s.payments, &c)
	return nil
}

func (s *memStore) AppendEventLog(_ context.Context, e *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logErr != nil {
		return s.logErr
	}
	c := *e
	c.ID = int64(len(s.logs) + 1)
	s.logs = append(s.logs, &c)
	return nil
}

func (s *memStore) user(id string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.users[id])
}
