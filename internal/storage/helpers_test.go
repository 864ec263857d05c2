package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/subscription-billing/internal/migrations"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// TestDataFactory создает тестовые данные напрямую через хранилище
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создает пользователя в пробном периоде
func (f *TestDataFactory) CreateUser(t *testing.T, name, email string) *models.User {
	u := models.NewUser(name, email, "hashedpassword")
	require.NoError(t, f.storage.CreateUser(context.Background(), u))
	return u
}

// CreatePaidUser создает пользователя с активной подпиской и ссылкой на клиента Stripe
func (f *TestDataFactory) CreatePaidUser(t *testing.T, email, customerID string, plan models.Plan) *models.User {
	u := f.CreateUser(t, "paid", email)
	start := time.Now().UTC().Truncate(time.Second)
	u.SubscriptionStatus = plan.Status()
	u.SubscriptionPlan = plan
	u.SubscriptionStartDate = &start
	u.StripeCustomerID = customerID
	require.NoError(t, f.storage.UpdateUser(context.Background(), u))
	return u
}

// VerifyPaymentsCount проверяет количество записей журнала пользователя
func VerifyPaymentsCount(t *testing.T, s *Storage, userID string, expected int) {
	var count int
	err := s.DB.QueryRow("SELECT COUNT(*) FROM payments WHERE user_id = $1", userID).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, expected, count)
}

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var storage *Storage
	for range 10 {
		storage, err = New(dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))

	cleanup := func() {
		_ = storage.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return storage, cleanup
}
