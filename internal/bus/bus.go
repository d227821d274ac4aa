// Package bus carries suggestion requests and corpus events between components.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/cashwise/internal/domain"
)

var (
	errTenantRequired = errors.New("tenantID is required")
	errClosed         = errors.New("bus is closed")
)

// defaultRequestTimeout bounds Request when ctx carries no deadline.
const defaultRequestTimeout = 30 * time.Second

// New creates an event bus from configuration.
// "channel" stays in process. "nats" connects to a NATS server.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(tenantID, topic, replyTo string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		ReplyTo:   replyTo,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
