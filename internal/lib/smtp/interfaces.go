// Package smtp — отправка почты через SMTP с STARTTLS и PLAIN-аутентификацией.
package smtp

import "io"

// Client — команды SMTP, которыми пользуется отправка письма.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// TransportInterface открывает SMTP-сессию.
type TransportInterface interface {
	Connect() (Client, error)
	From() string
}
