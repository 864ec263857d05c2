package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/entitlement"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) UpdateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *RepoMock) IncrementQueriesUsed(ctx context.Context, id string) (int, bool, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *RepoMock) ListPaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func (m *RepoMock) AppendEventLog(ctx context.Context, e *models.EventLog) error {
	return m.Called(ctx, e).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	return m.Called(key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

type CancelerMock struct{ mock.Mock }

func (m *CancelerMock) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

type ApplierMock struct{ mock.Mock }

func (m *ApplierMock) Apply(ctx context.Context, ev billing.Event) error {
	return m.Called(ctx, ev).Error(0)
}

type RecorderMock struct{ mock.Mock }

func (m *RecorderMock) ObserveMetered(outcome string) {
	m.Called(outcome)
}

const (
	userID   = "8d3f1b2a-54c6-4e0b-9f51-3c2a7e9d0b11"
	cacheKey = "user:" + userID
	cacheTTL = 10 * time.Minute
)

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fixture struct {
	repo     *RepoMock
	cache    *CacheMock
	canceler *CancelerMock
	applier  *ApplierMock
	metrics  *RecorderMock
	svc      *AccountService
}

func newFixture() *fixture {
	f := &fixture{
		repo:     new(RepoMock),
		cache:    new(CacheMock),
		canceler: new(CancelerMock),
		applier:  new(ApplierMock),
		metrics:  new(RecorderMock),
	}
	f.svc = NewAccountService(f.repo, f.cache, f.canceler, f.applier, f.metrics, newNoopLogger(), cacheTTL)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.repo.AssertExpectations(t)
	f.cache.AssertExpectations(t)
	f.canceler.AssertExpectations(t)
	f.applier.AssertExpectations(t)
	f.metrics.AssertExpectations(t)
}

func trialUser(used int) *models.User {
	u := models.NewUser("Ann", "ann@example.com", "hash")
	u.ID = userID
	u.QueriesUsed = used
	return u
}

func TestAccountService_ResolveUser(t *testing.T) {
	t.Run("cache hit", func(t *testing.T) {
		f := newFixture()
		f.cache.On("Get", cacheKey, mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(1).(*models.User) = *trialUser(2)
		}).Return(true, nil).Once()

		u, err := f.svc.ResolveUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 2, u.QueriesUsed)
		f.assertExpectations(t)
	})

	t.Run("cache miss fills cache", func(t *testing.T) {
		f := newFixture()
		u := trialUser(1)
		f.cache.On("Get", cacheKey, mock.Anything).Return(false, nil).Once()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
		f.cache.On("Set", cacheKey, u, cacheTTL).Return(nil).Once()

		got, err := f.svc.ResolveUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Same(t, u, got)
		f.assertExpectations(t)
	})

	t.Run("cache failure falls back to storage", func(t *testing.T) {
		f := newFixture()
		u := trialUser(1)
		f.cache.On("Get", cacheKey, mock.Anything).Return(false, errors.New("redis down")).Once()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
		f.cache.On("Set", cacheKey, u, cacheTTL).Return(errors.New("redis down")).Once()

		got, err := f.svc.ResolveUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Same(t, u, got)
		f.assertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture()
		f.cache.On("Get", cacheKey, mock.Anything).Return(false, nil).Once()
		f.repo.On("GetUserByID", mock.Anything, userID).
			Return(nil, fmt.Errorf("storage.GetUserByID: %w", storage.ErrNotFound)).Once()

		_, err := f.svc.ResolveUser(context.Background(), userID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		f.assertExpectations(t)
	})
}

func TestAccountService_Check(t *testing.T) {
	tests := []struct {
		name      string
		user      *models.User
		wantCan   bool
		remaining entitlement.Allowance
		outcome   string
	}{
		{
			name:      "trial with quota",
			user:      trialUser(2),
			wantCan:   true,
			remaining: entitlement.Allowance{Count: 3},
			outcome:   OutcomeAllowed,
		},
		{
			name:      "trial exhausted",
			user:      trialUser(5),
			wantCan:   false,
			remaining: entitlement.Allowance{Count: 0},
			outcome:   OutcomeDenied,
		},
		{
			name: "paid ignores counters",
			user: func() *models.User {
				u := trialUser(50)
				u.SubscriptionStatus = models.StatusYearly
				return u
			}(),
			wantCan:   true,
			remaining: entitlement.Allowance{Unlimited: true},
			outcome:   OutcomeAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cache.On("Get", cacheKey, mock.Anything).Return(false, nil).Once()
			f.repo.On("GetUserByID", mock.Anything, userID).Return(tt.user, nil).Once()
			f.cache.On("Set", cacheKey, tt.user, cacheTTL).Return(nil).Once()
			f.metrics.On("ObserveMetered", tt.outcome).Once()

			snap, err := f.svc.Check(context.Background(), userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCan, snap.CanQuery)
			assert.Equal(t, tt.remaining, snap.Remaining)
			f.assertExpectations(t)
		})
	}
}

func TestAccountService_Record(t *testing.T) {
	t.Run("trial increments", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(trialUser(4), nil).Once()
		f.repo.On("IncrementQueriesUsed", mock.Anything, userID).Return(5, true, nil).Once()
		f.cache.On("Invalidate", cacheKey).Return(nil).Once()
		f.metrics.On("ObserveMetered", OutcomeRecorded).Once()

		snap, err := f.svc.Record(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 5, snap.QueriesUsed)
		assert.False(t, snap.CanQuery)
		f.assertExpectations(t)
	})

	t.Run("exhausted trial is denied", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(trialUser(5), nil).Once()
		f.metrics.On("ObserveMetered", OutcomeDenied).Once()

		snap, err := f.svc.Record(context.Background(), userID)
		assert.ErrorIs(t, err, ErrNotAllowed)
		assert.Equal(t, entitlement.Allowance{Count: 0}, snap.Remaining)
		f.assertExpectations(t)
	})

	t.Run("locked out trial is denied", func(t *testing.T) {
		f := newFixture()
		u := trialUser(0)
		lock := fixedNow.Add(time.Hour)
		u.LockoutUntil = &lock
		f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
		f.metrics.On("ObserveMetered", OutcomeDenied).Once()

		_, err := f.svc.Record(context.Background(), userID)
		assert.ErrorIs(t, err, ErrNotAllowed)
		f.assertExpectations(t)
	})

	t.Run("concurrent exhaustion is denied", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(trialUser(4), nil).Once()
		f.repo.On("IncrementQueriesUsed", mock.Anything, userID).Return(0, false, nil).Once()
		f.metrics.On("ObserveMetered", OutcomeDenied).Once()

		snap, err := f.svc.Record(context.Background(), userID)
		assert.ErrorIs(t, err, ErrNotAllowed)
		assert.False(t, snap.CanQuery)
		f.assertExpectations(t)
	})

	t.Run("paid user is not metered", func(t *testing.T) {
		f := newFixture()
		u := trialUser(0)
		u.SubscriptionStatus = models.StatusLifetime
		f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
		f.metrics.On("ObserveMetered", OutcomeRecorded).Once()

		snap, err := f.svc.Record(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.QueriesUsed)
		assert.True(t, snap.Remaining.Unlimited)
		f.assertExpectations(t)
	})

	t.Run("canceled user is not metered", func(t *testing.T) {
		f := newFixture()
		u := trialUser(1)
		u.SubscriptionStatus = models.StatusCanceled
		f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
		f.metrics.On("ObserveMetered", OutcomeRecorded).Once()

		snap, err := f.svc.Record(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.QueriesUsed)
		f.assertExpectations(t)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(trialUser(0), nil).Once()
		f.repo.On("IncrementQueriesUsed", mock.Anything, userID).Return(0, false, errors.New("db down")).Once()

		_, err := f.svc.Record(context.Background(), userID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotAllowed)
		f.assertExpectations(t)
	})
}

func TestAccountService_Decline(t *testing.T) {
	tests := []struct {
		name      string
		prior     int
		wantCount int
		wantLock  time.Duration
	}{
		{"first", 0, 1, 24 * time.Hour},
		{"second", 1, 2, 48 * time.Hour},
		{"third", 2, 3, 168 * time.Hour},
		{"fourth stays capped", 3, 4, 168 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			u := trialUser(0)
			u.DeclineCount = tt.prior
			f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
			f.repo.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
				return u.DeclineCount == tt.wantCount && u.LockoutUntil != nil &&
					u.LockoutUntil.Equal(fixedNow.Add(tt.wantLock))
			})).Return(nil).Once()
			f.cache.On("Invalidate", cacheKey).Return(nil).Once()
			f.metrics.On("ObserveMetered", OutcomeDeclined).Once()
			f.repo.On("AppendEventLog", mock.Anything, mock.MatchedBy(func(e *models.EventLog) bool {
				return e.Source == models.SourceAPI && e.Action == "apply_decline" && e.UserID == userID
			})).Return(nil).Once()

			snap, err := f.svc.Decline(context.Background(), userID)
			require.NoError(t, err)
			assert.False(t, snap.CanQuery)
			require.NotNil(t, snap.LockoutUntil)
			assert.Equal(t, fixedNow.Add(tt.wantLock), *snap.LockoutUntil)
			f.assertExpectations(t)
		})
	}

	t.Run("update failure", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(trialUser(0), nil).Once()
		f.repo.On("UpdateUser", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		_, err := f.svc.Decline(context.Background(), userID)
		assert.Error(t, err)
		f.assertExpectations(t)
	})

	t.Run("audit failure is not returned", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByID", mock.Anything, userID).Return(trialUser(0), nil).Once()
		f.repo.On("UpdateUser", mock.Anything, mock.Anything).Return(nil).Once()
		f.cache.On("Invalidate", cacheKey).Return(errors.New("redis down")).Once()
		f.metrics.On("ObserveMetered", OutcomeDeclined).Once()
		f.repo.On("AppendEventLog", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		_, err := f.svc.Decline(context.Background(), userID)
		assert.NoError(t, err)
		f.assertExpectations(t)
	})
}

func TestAccountService_Payments(t *testing.T) {
	f := newFixture()
	u := trialUser(0)
	payments := []*models.Payment{{ID: 2}, {ID: 1}}
	f.cache.On("Get", cacheKey, mock.Anything).Return(false, nil).Once()
	f.repo.On("GetUserByID", mock.Anything, userID).Return(u, nil).Once()
	f.cache.On("Set", cacheKey, u, cacheTTL).Return(nil).Once()
	f.repo.On("ListPaymentsByUser", mock.Anything, userID).Return(payments, nil).Once()

	got, err := f.svc.Payments(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, payments, got)
	f.assertExpectations(t)
}

func TestAccountService_CancelSubscription(t *testing.T) {
	subscribed := func() *models.User {
		u := trialUser(0)
		u.SubscriptionStatus = models.StatusMonthly
		u.SubscriptionPlan = models.PlanMonthly
		u.StripeCustomerID = "cus_1"
		u.StripeSubscriptionID = "sub_1"
		return u
	}

	tests := []struct {
		name       string
		user       *models.User
		setupMocks func(f *fixture)
		wantErr    error
	}{
		{
			name: "success",
			user: subscribed(),
			setupMocks: func(f *fixture) {
				f.canceler.On("CancelSubscription", mock.Anything, "sub_1").Return(nil).Once()
				f.applier.On("Apply", mock.Anything, mock.MatchedBy(func(ev billing.Event) bool {
					return ev.Kind == billing.KindSubscriptionDeleted && ev.Source == models.SourceAPI &&
						ev.UserID == userID && ev.SubscriptionID == "sub_1"
				})).Return(nil).Once()
			},
		},
		{
			name:       "no subscription",
			user:       trialUser(0),
			setupMocks: func(_ *fixture) {},
			wantErr:    ErrNoSubscription,
		},
		{
			name: "provider failure",
			user: subscribed(),
			setupMocks: func(f *fixture) {
				f.canceler.On("CancelSubscription", mock.Anything, "sub_1").Return(errors.New("stripe down")).Once()
			},
			wantErr: errors.New("stripe down"),
		},
		{
			name: "local apply failure",
			user: subscribed(),
			setupMocks: func(f *fixture) {
				f.canceler.On("CancelSubscription", mock.Anything, "sub_1").Return(nil).Once()
				f.applier.On("Apply", mock.Anything, mock.Anything).Return(billing.ErrPersistence).Once()
			},
			wantErr: billing.ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.repo.On("GetUserByID", mock.Anything, userID).Return(tt.user, nil).Once()
			tt.setupMocks(f)

			err := f.svc.CancelSubscription(context.Background(), userID)
			switch {
			case tt.wantErr == nil:
				assert.NoError(t, err)
			case errors.Is(tt.wantErr, ErrNoSubscription), errors.Is(tt.wantErr, billing.ErrPersistence):
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
			}
			f.assertExpectations(t)
		})
	}
}
