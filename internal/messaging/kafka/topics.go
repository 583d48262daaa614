package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// TopicDeadLetterQueue — DLQ обработчика уведомлений.
const TopicDeadLetterQueue = "storefront.notifications.dlq"

// Kafka headers.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"

	HeaderOutboxID    = "x-outbox-id"
	HeaderEventType   = "x-event-type"
	HeaderAggregateID = "x-aggregate-id"
)

// Источники dead letter.
const (
	DeadLetterSourceConsumer = "consumer"
	DeadLetterSourceOutbox   = "outbox"
)

// DeadLetter — конверт сообщения в DLQ. Формат общий для consumer и outbox worker,
// чтобы dlq-replay мог вернуть сообщение в исходный топик.
type DeadLetter struct {
	Source            string    `json:"source"`
	OutboxID          string    `json:"outbox_id,omitempty"`
	EventType         string    `json:"event_type,omitempty"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition,omitempty"`
	OriginalOffset    int64     `json:"original_offset,omitempty"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Error             string    `json:"error"`
	RetryCount        int       `json:"retry_count,omitempty"`
	FailedAt          time.Time `json:"failed_at"`
}

// ParseDeadLetter разбирает конверт DLQ.
func ParseDeadLetter(value []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	if letter.OriginalTopic == "" {
		return DeadLetter{}, fmt.Errorf("dead letter has no original topic")
	}
	return letter, nil
}
