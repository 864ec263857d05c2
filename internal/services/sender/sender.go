// Package sender доставляет выпущенные регистрационные ключи покупателям по почте
// и отмечает в платёжном журнале, что ключ отправлен.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/smtp"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// Repository описывает операции платёжного журнала, нужные отправителю.
type Repository interface {
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	MarkKeySent(ctx context.Context, id int64, at time.Time) (*models.Payment, error)
}

// Service отправляет письма с регистрационными ключами.
type Service struct {
	repo      Repository
	transport smtp.TransportInterface
	log       *slog.Logger
	now       func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(repo Repository, log *slog.Logger, transport smtp.TransportInterface) *Service {
	return &Service{
		repo:      repo,
		transport: transport,
		log:       log,
		now:       time.Now,
	}
}

// SendRegistrationKey обрабатывает сообщение очереди о выпущенном ключе.
//
// Сообщения, которые невозможно обработать (битый JSON, неизвестный платёж,
// несовпадение ключа), отклоняются через rabbitmq.ErrReject. Если ключ уже
// отмечен отправленным, письмо повторно не уходит.
func (s *Service) SendRegistrationKey(ctx context.Context, body []byte) error {
	const op = "sender.SendRegistrationKey"
	log := s.log.With(sl.Op(op))

	var msg models.KeyIssuedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("%s: error unmarshalling message: %w", op, errors.Join(err, rabbitmq.ErrReject))
	}
	log = log.With(slog.Int64("payment_id", msg.PaymentID))

	payment, err := s.repo.GetPayment(ctx, msg.PaymentID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("payment not found")
		return fmt.Errorf("%s: %w", op, errors.Join(err, rabbitmq.ErrReject))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if payment.RegistrationKeySent {
		log.Info("registration key already sent")
		return nil
	}
	if payment.RegistrationKey == "" || payment.RegistrationKey != msg.RegistrationKey {
		log.Warn("registration key does not match payment")
		return fmt.Errorf("%s: key mismatch: %w", op, rabbitmq.ErrReject)
	}

	to := payment.UserEmail
	if to == "" {
		to = msg.UserEmail
	}
	if err := s.sendEmail([]string{to}, keySubject, keyBody(msg.UserName, payment.RegistrationKey)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.repo.MarkKeySent(ctx, payment.ID, s.now())
	switch {
	case errors.Is(err, storage.ErrKeyAlreadySent):
		log.Info("registration key marked sent concurrently")
		return nil
	case err != nil:
		// Письмо уже ушло: повторная доставка отправит его ещё раз.
		log.Error("failed to mark registration key sent", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("registration key delivered")
	return nil
}

const keySubject = "Ваш регистрационный ключ"

func keyBody(name, key string) string {
	if name == "" {
		name = "покупатель"
	}
	return fmt.Sprintf("Здравствуйте, %s!\n\nСпасибо за покупку пожизненной лицензии.\n\nВаш регистрационный ключ: %s\n\nСохраните это письмо.",
		name, key)
}

func (s *Service) sendEmail(to []string, subject, bodyText string) error {
	from := s.transport.From()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(from); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to))
	return nil
}
