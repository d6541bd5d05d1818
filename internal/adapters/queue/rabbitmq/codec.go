package rabbitmq

import (
	"fmt"

	"golang-message-queue/internal/domain"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

func toPublishing(msg domain.Message) amqp.Publishing {
	var headers amqp.Table
	if len(msg.Headers) > 0 {
		headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		MessageId:     msg.ID.String(),
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ResponseAddress,
		Timestamp:     msg.CreatedAt,
		Body:          msg.Body,
	}
}

// fromDelivery rebuilds a Message. Deliveries published by other clients may
// lack a UUID message ID; they get a fresh one.
func fromDelivery(d amqp.Delivery) domain.Message {
	id, err := uuid.Parse(d.MessageId)
	if err != nil {
		id = uuid.New()
	}

	var headers map[string]string
	if len(d.Headers) > 0 {
		headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = fmt.Sprint(v)
		}
	}

	return domain.Message{
		ID:              id,
		CorrelationID:   d.CorrelationId,
		ResponseAddress: d.ReplyTo,
		ContentType:     d.ContentType,
		Headers:         headers,
		Body:            d.Body,
		CreatedAt:       d.Timestamp,
	}
}
