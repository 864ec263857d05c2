package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

func TestStorageIntegration(t *testing.T) {
	s, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()
	f := NewTestDataFactory(s)

	t.Run("email lookup is case-insensitive", func(t *testing.T) {
		u := f.CreateUser(t, "alice", "Alice@Example.com")
		got, err := s.GetUserByEmail(ctx, "ALICE@example.COM")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, models.StatusFreeTrial, got.SubscriptionStatus)
		assert.Equal(t, models.DefaultQueriesLimit, got.QueriesLimit)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		f.CreateUser(t, "bob", "bob@example.com")
		err := s.CreateUser(ctx, models.NewUser("bob2", "BOB@example.com", "x"))
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("increment stops at the limit", func(t *testing.T) {
		u := f.CreateUser(t, "carol", "carol@example.com")
		for i := 1; i <= models.DefaultQueriesLimit; i++ {
			used, ok, err := s.IncrementQueriesUsed(ctx, u.ID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, i, used)
		}
		_, ok, err := s.IncrementQueriesUsed(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate stripe event id is rejected", func(t *testing.T) {
		u := f.CreatePaidUser(t, "dave@example.com", "cus_dave", models.PlanLifetime)
		p := &models.Payment{
			UserID: u.ID, UserEmail: u.Email, StripeEventID: "evt_dup", Amount: 9900, Currency: "usd",
			Status: models.PaymentSucceeded, PaymentType: models.PaymentTypeOneTime,
			SubscriptionPlan: models.PlanLifetime, RegistrationKey: "LT-00000000-11111111",
		}
		require.NoError(t, s.CreatePayment(ctx, p))

		dup := *p
		dup.RegistrationKey = "LT-22222222-33333333"
		require.ErrorIs(t, s.CreatePayment(ctx, &dup), ErrConflict)
		VerifyPaymentsCount(t, s, u.ID, 1)

		sent, err := s.MarkKeySent(ctx, p.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, sent.RegistrationKeySent)
		_, err = s.MarkKeySent(ctx, p.ID, time.Now())
		require.ErrorIs(t, err, ErrKeyAlreadySent)

		byCustomer, err := s.GetUserByStripeCustomerID(ctx, "cus_dave")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byCustomer.ID)
	})

	t.Run("one payment per checkout session", func(t *testing.T) {
		u := f.CreatePaidUser(t, "frank@example.com", "cus_frank", models.PlanMonthly)
		p := &models.Payment{
			UserID: u.ID, UserEmail: u.Email, StripeEventID: "evt_cs_1", StripeSessionID: "cs_frank",
			Amount: 999, Currency: "usd", Status: models.PaymentSucceeded,
			PaymentType: models.PaymentTypeSubscription, SubscriptionPlan: models.PlanMonthly,
		}
		require.NoError(t, s.CreatePayment(ctx, p))

		again := *p
		again.StripeEventID = ""
		require.ErrorIs(t, s.CreatePayment(ctx, &again), ErrConflict)

		got, err := s.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "cs_frank", got.StripeSessionID)
		VerifyPaymentsCount(t, s, u.ID, 1)
	})

	t.Run("deleting a user removes its payments", func(t *testing.T) {
		u := f.CreatePaidUser(t, "erin@example.com", "cus_erin", models.PlanMonthly)
		require.NoError(t, s.CreatePayment(ctx, &models.Payment{
			UserID: u.ID, UserEmail: u.Email, StripeInvoiceID: "in_erin", Amount: 999, Currency: "usd",
			Status: models.PaymentSucceeded, PaymentType: models.PaymentTypeSubscription,
		}))
		require.NoError(t, s.DeleteUser(ctx, u.ID))
		VerifyPaymentsCount(t, s, u.ID, 0)
		require.ErrorIs(t, s.DeleteUser(ctx, u.ID), ErrNotFound)
	})

	t.Run("event log round trip", func(t *testing.T) {
		require.NoError(t, s.AppendEventLog(ctx, &models.EventLog{
			EventType: "invoice.paid", Source: models.SourceStripeWebhook, Status: models.EventSuccess,
			StripeEventID: "evt_log", Action: "update_subscription", Result: "ok",
			EventData: map[string]any{"invoice": "in_1"},
		}))
		logs, err := s.ListEventLogs(ctx, models.EventLogFilter{EventType: "invoice.paid"})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "in_1", logs[0].EventData["invoice"])
	})
}
