package messaging

import (
	"context"
	"time"

	"example.com/urban/services/attendance/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MessageHandler processes one received queue message. Returning an error
// abandons the message for redelivery; nil completes it.
type MessageHandler func(ctx context.Context, message *azservicebus.ReceivedMessage) error

// AzureServiceBus consumes scan payloads relayed by kiosk devices from an
// Azure Service Bus queue.
type AzureServiceBus struct {
	client    *azservicebus.Client
	receiver  *azservicebus.Receiver
	queueName string
}

// NewAzureServiceBus creates a new Azure Service Bus consumer
func NewAzureServiceBus(cfg config.AzureConfig) (*AzureServiceBus, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	receiver, err := client.NewReceiverForQueue(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus receiver")
	}

	return &AzureServiceBus{
		client:    client,
		receiver:  receiver,
		queueName: cfg.QueueName,
	}, nil
}

// ProcessMessages receives and dispatches messages until ctx is cancelled
func (b *AzureServiceBus) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	for {
		messages, err := b.receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Failed to receive messages, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, message := range messages {
			if err := handler(ctx, message); err != nil {
				log.Error().
					Err(err).
					Str("message_id", message.MessageID).
					Msg("Message handler failed, abandoning message")
				if abandonErr := b.receiver.AbandonMessage(ctx, message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Msg("Failed to abandon message")
				}
				continue
			}

			if err := b.receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().
					Err(err).
					Str("message_id", message.MessageID).
					Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the receiver and the underlying client
func (b *AzureServiceBus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if b.receiver != nil {
		if err := b.receiver.Close(ctx); err != nil {
			return errors.Wrap(err, "failed to close Service Bus receiver")
		}
	}
	if b.client != nil {
		return errors.Wrap(b.client.Close(ctx), "failed to close Service Bus client")
	}
	return nil
}
