package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

const paymentColumns = `id, user_id, user_email, stripe_event_id, stripe_payment_intent_id, stripe_invoice_id,
	stripe_session_id, amount, currency, status, payment_type, subscription_plan, registration_key,
	registration_key_sent, registration_key_sent_at, purchase_date, metadata, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                                 models.Payment
		eventID, intentID, invoiceID, key sql.NullString
		sessionID, plan                   sql.NullString
		sentAt                            sql.NullTime
		metadata                          []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.UserEmail, &eventID, &intentID, &invoiceID, &sessionID,
		&p.Amount, &p.Currency, &p.Status, &p.PaymentType, &plan, &key,
		&p.RegistrationKeySent, &sentAt, &p.PurchaseDate, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.StripeEventID = eventID.String
	p.StripePaymentIntentID = intentID.String
	p.StripeInvoiceID = invoiceID.String
	p.StripeSessionID = sessionID.String
	p.SubscriptionPlan = models.Plan(plan.String)
	p.RegistrationKey = key.String
	p.RegistrationKeySentAt = timePtr(sentAt)
	md, err := unmarshalJSON(metadata)
	if err != nil {
		return nil, err
	}
	p.Metadata = md
	return &p, nil
}

// CreatePayment добавляет запись в платёжный журнал. Регистрационный ключ должен быть
// выпущен до вызова. Нарушение уникальности (событие, платёж, счёт, сессия оформления,
// ключ) возвращается как ErrConflict.
func (s *Storage) CreatePayment(ctx context.Context, p *models.Payment) error {
	const op = "storage.CreatePayment"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if p.PurchaseDate.IsZero() {
		p.PurchaseDate = time.Now().UTC()
	}

	query := `INSERT INTO payments (user_id, user_email, stripe_event_id, stripe_payment_intent_id,
			      stripe_invoice_id, stripe_session_id, amount, currency, status, payment_type,
			      subscription_plan, registration_key, purchase_date, metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			  RETURNING id, created_at, updated_at`
	err = s.DB.QueryRowContext(ctx, query,
		p.UserID, models.NormalizeEmail(p.UserEmail), nullString(p.StripeEventID),
		nullString(p.StripePaymentIntentID), nullString(p.StripeInvoiceID), nullString(p.StripeSessionID),
		p.Amount, strings.ToLower(p.Currency), p.Status, p.PaymentType,
		nullString(string(p.SubscriptionPlan)), nullString(p.RegistrationKey),
		p.PurchaseDate, metadata,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// GetPayment возвращает запись журнала по ID.
func (s *Storage) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	const op = "storage.GetPayment"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrap(op, err)
	}
	return p, nil
}

// GetPaymentBySessionID возвращает запись журнала, созданную по сессии оформления заказа.
func (s *Storage) GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	const op = "storage.GetPaymentBySessionID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE stripe_session_id = $1`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return nil, wrap(op, err)
	}
	return p, nil
}

// MarkKeySent отмечает регистрационный ключ платежа отправленным. Отметка ставится
// ровно один раз; повторный вызов возвращает ErrKeyAlreadySent.
func (s *Storage) MarkKeySent(ctx context.Context, id int64, at time.Time) (*models.Payment, error) {
	const op = "storage.MarkKeySent"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE payments
			  SET registration_key_sent = TRUE, registration_key_sent_at = $2, updated_at = NOW()
			  WHERE id = $1 AND registration_key IS NOT NULL AND registration_key_sent = FALSE
			  RETURNING ` + paymentColumns
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, id, at))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrap(op, err)
	}

	existing, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing.RegistrationKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoRegistrationKey)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrKeyAlreadySent)
}

// ListPayments возвращает записи журнала по фильтру, новые первыми.
func (s *Storage) ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, error) {
	const op = "storage.ListPayments"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PaymentType != "" {
		args = append(args, f.PaymentType)
		conds = append(conds, fmt.Sprintf("payment_type = $%d", len(args)))
	}
	query := `SELECT ` + paymentColumns + ` FROM payments`
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

	var result []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// ListPaymentsByUser возвращает историю платежей пользователя (не более 50 последних).
func (s *Storage) ListPaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	return s.ListPayments(ctx, models.PaymentFilter{UserID: userID, Limit: 50})
}

// ListUnsentKeys возвращает сообщения для ключей, выпущенных раньше olderThan и всё ещё
// не отмеченных отправленными, старые первыми.
func (s *Storage) ListUnsentKeys(ctx context.Context, olderThan time.Time, limit int) ([]models.KeyIssuedMessage, error) {
	const op = "storage.ListUnsentKeys"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT p.id, p.user_email, COALESCE(u.name, ''), p.registration_key
			  FROM payments p
			  LEFT JOIN users u ON u.id = p.user_id
			  WHERE p.registration_key IS NOT NULL AND p.registration_key_sent = FALSE AND p.created_at < $1
			  ORDER BY p.created_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, olderThan, pageLimit(limit))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.KeyIssuedMessage
	for rows.Next() {
		var m models.KeyIssuedMessage
		if err := rows.Scan(&m.PaymentID, &m.UserEmail, &m.UserName, &m.RegistrationKey); err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, m)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}
