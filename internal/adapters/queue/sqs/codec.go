package sqs

import (
	"fmt"
	"time"

	"golang-message-queue/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// Reserved attribute names. Everything else is a message header.
const (
	attrID              = "mq-id"
	attrCorrelationID   = "mq-correlation-id"
	attrResponseAddress = "mq-response-address"
	attrContentType     = "mq-content-type"
	attrCreatedAt       = "mq-created-at"
)

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func toAttributes(msg domain.Message) (map[string]types.MessageAttributeValue, error) {
	attrs := map[string]types.MessageAttributeValue{
		attrID:        stringAttr(msg.ID.String()),
		attrCreatedAt: stringAttr(msg.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}
	// SQS rejects empty string attributes
	if msg.CorrelationID != "" {
		attrs[attrCorrelationID] = stringAttr(msg.CorrelationID)
	}
	if msg.ResponseAddress != "" {
		attrs[attrResponseAddress] = stringAttr(msg.ResponseAddress)
	}
	if msg.ContentType != "" {
		attrs[attrContentType] = stringAttr(msg.ContentType)
	}
	for k, v := range msg.Headers {
		if v == "" {
			continue
		}
		attrs[k] = stringAttr(v)
	}
	if len(attrs) > maxAttributes {
		return nil, fmt.Errorf("message %s has %d attributes, sqs allows %d", msg.ID, len(attrs), maxAttributes)
	}
	return attrs, nil
}

func fromSQS(m types.Message) domain.Message {
	msg := domain.Message{Body: []byte(aws.ToString(m.Body))}
	for k, v := range m.MessageAttributes {
		s := aws.ToString(v.StringValue)
		switch k {
		case attrID:
			msg.ID, _ = uuid.Parse(s)
		case attrCorrelationID:
			msg.CorrelationID = s
		case attrResponseAddress:
			msg.ResponseAddress = s
		case attrContentType:
			msg.ContentType = s
		case attrCreatedAt:
			msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
		default:
			if msg.Headers == nil {
				msg.Headers = make(map[string]string)
			}
			msg.Headers[k] = s
		}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return msg
}
