package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

const userColumns = `id, name, email, password_hash, role, subscription_status, subscription_plan,
	subscription_start_date, subscription_end_date, stripe_customer_id, stripe_subscription_id,
	queries_used, queries_limit, lockout_until, decline_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                      models.User
		plan, customer, subRef sql.NullString
		start, end, lockout    sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.SubscriptionStatus, &plan,
		&start, &end, &customer, &subRef,
		&u.QueriesUsed, &u.QueriesLimit, &lockout, &u.DeclineCount, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.SubscriptionPlan = models.Plan(plan.String)
	u.StripeCustomerID = customer.String
	u.StripeSubscriptionID = subRef.String
	u.SubscriptionStartDate = timePtr(start)
	u.SubscriptionEndDate = timePtr(end)
	u.LockoutUntil = timePtr(lockout)
	return &u, nil
}

// CreateUser сохраняет нового пользователя и заполняет ID и даты создания.
func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO users (name, email, password_hash, role, subscription_status, subscription_plan, queries_limit)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id, created_at, updated_at`
	err := s.DB.QueryRowContext(ctx, query,
		u.Name, models.NormalizeEmail(u.Email), u.PasswordHash, u.Role, u.SubscriptionStatus,
		nullString(string(u.SubscriptionPlan)), u.QueriesLimit,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// GetUserByID возвращает пользователя по ID. Некорректный ID трактуется как отсутствие записи.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.GetUserByID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrap(op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, models.NormalizeEmail(email)))
	if err != nil {
		return nil, wrap(op, err)
	}
	return u, nil
}

// GetUserByStripeCustomerID возвращает пользователя по ссылке на клиента Stripe.
func (s *Storage) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	const op = "storage.GetUserByStripeCustomerID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, wrap(op, err)
	}
	return u, nil
}

// UpdateUser сохраняет поля подписки и квоты пользователя.
func (s *Storage) UpdateUser(ctx context.Context, u *models.User) error {
	const op = "storage.UpdateUser"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE users
			  SET name = $2,
			      role = $3,
			      subscription_status = $4,
			      subscription_plan = $5,
			      subscription_start_date = $6,
			      subscription_end_date = $7,
			      stripe_customer_id = $8,
			      stripe_subscription_id = $9,
			      queries_used = $10,
			      queries_limit = $11,
			      lockout_until = $12,
			      decline_count = $13,
			      updated_at = NOW()
			  WHERE id = $1
			  RETURNING updated_at`
	err := s.DB.QueryRowContext(ctx, query,
		u.ID, u.Name, u.Role, u.SubscriptionStatus, nullString(string(u.SubscriptionPlan)),
		nullTime(u.SubscriptionStartDate), nullTime(u.SubscriptionEndDate),
		nullString(u.StripeCustomerID), nullString(u.StripeSubscriptionID),
		u.QueriesUsed, u.QueriesLimit, nullTime(u.LockoutUntil), u.DeclineCount,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// IncrementQueriesUsed атомарно увеличивает счётчик запросов пользователя в пробном периоде,
// пока он не превысил лимит. Возвращает новое значение и признак изменения.
func (s *Storage) IncrementQueriesUsed(ctx context.Context, id string) (int, bool, error) {
	const op = "storage.IncrementQueriesUsed"
	if err := checkCtx(ctx, op); err != nil {
		return 0, false, err
	}

	query := `UPDATE users
			  SET queries_used = queries_used + 1, updated_at = NOW()
			  WHERE id = $1 AND subscription_status = $2 AND queries_used < queries_limit
			  RETURNING queries_used`
	var used int
	err := s.DB.QueryRowContext(ctx, query, id, models.StatusFreeTrial).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap(op, err)
	}
	return used, true, nil
}

// DeleteUser удаляет пользователя; платежи удаляются каскадно.
func (s *Storage) DeleteUser(ctx context.Context, id string) error {
	const op = "storage.DeleteUser"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ListUsers возвращает пользователей по фильтру, новые первыми.
func (s *Storage) ListUsers(ctx context.Context, f models.UserFilter) ([]*models.User, error) {
	const op = "storage.ListUsers"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("subscription_status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("(email LIKE $%d OR LOWER(name) LIKE $%d)", len(args), len(args)))
	}
	query := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, pageLimit(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}
