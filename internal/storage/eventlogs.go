package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

const eventLogColumns = `id, event_type, source, status, user_id, user_email, stripe_event_id,
	stripe_session_id, stripe_customer_id, action, result, event_data, error, created_at`

// AppendEventLog добавляет запись аудита. Записи не изменяются и не удаляются.
func (s *Storage) AppendEventLog(ctx context.Context, e *models.EventLog) error {
	const op = "storage.AppendEventLog"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	data, err := marshalJSON(e.EventData)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var userID any
	if e.UserID != "" {
		userID = e.UserID
	}
	query := `INSERT INTO event_logs (event_type, source, status, user_id, user_email, stripe_event_id,
			      stripe_session_id, stripe_customer_id, action, result, event_data, error)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			  RETURNING id, created_at`
	err = s.DB.QueryRowContext(ctx, query,
		e.EventType, e.Source, e.Status, userID, nullString(models.NormalizeEmail(e.UserEmail)),
		nullString(e.StripeEventID), nullString(e.StripeSessionID), nullString(e.StripeCustomerID),
		e.Action, e.Result, data, nullString(e.Error),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// ListEventLogs возвращает записи аудита по фильтру, новые первыми.
func (s *Storage) ListEventLogs(ctx context.Context, f models.EventLogFilter) ([]*models.EventLog, error) {
	const op = "storage.ListEventLogs"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	if f.EventType != "" {
		args = append(args, f.EventType)
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	query := `SELECT ` + eventLogColumns + ` FROM event_logs`
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

	var result []*models.EventLog
	for rows.Next() {
		var (
			e                                    models.EventLog
			userID, email, eventID, session, cus sql.NullString
			errText                              sql.NullString
			data                                 []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Source, &e.Status, &userID, &email, &eventID,
			&session, &cus, &e.Action, &e.Result, &data, &errText, &e.CreatedAt); err != nil {
			return nil, wrap(op, err)
		}
		e.UserID = userID.String
		e.UserEmail = email.String
		e.StripeEventID = eventID.String
		e.StripeSessionID = session.String
		e.StripeCustomerID = cus.String
		e.Error = errText.String
		if e.EventData, err = unmarshalJSON(data); err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}
