package rabbitmq

// ExchangeName — direct exchange для событий сервиса.
const ExchangeName = "billing"

// Очередь выпущенных регистрационных ключей.
const (
	KeyIssuedQueue      = "billing.registration_key.issued"
	KeyIssuedRoutingKey = "registration_key.issued"
)

// QueueConfig описывает очередь и ключ её привязки к ExchangeName.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetBillingQueues возвращает очереди, которые объявляет сервис.
func GetBillingQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: KeyIssuedQueue, RoutingKey: KeyIssuedRoutingKey},
	}
}
