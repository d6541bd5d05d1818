package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pattern is the messaging topology an endpoint takes part in.
type Pattern int

const (
	PatternFireAndForget    Pattern = iota + 1 // One-way, point-to-point
	PatternRequestResponse                     // Request carries a response address
	PatternPublishSubscribe                    // Fan-out to every subscriber
)

var patternNames = map[Pattern]string{
	PatternFireAndForget:    "FireAndForget",
	PatternRequestResponse:  "RequestResponse",
	PatternPublishSubscribe: "PublishSubscribe",
}

func (p Pattern) String() string {
	if name, ok := patternNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// Valid reports whether p is one of the known patterns.
func (p Pattern) Valid() bool {
	_, ok := patternNames[p]
	return ok
}

// ParsePattern maps a case-insensitive pattern name to a Pattern.
func ParsePattern(s string) (Pattern, error) {
	for p, name := range patternNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPattern, s)
}

// MarshalText encodes p by name.
func (p Pattern) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPattern, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a pattern name, as accepted by ParsePattern.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := ParsePattern(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Direction tells whether an endpoint reads from or writes to its queue.
type Direction int

const (
	DirectionInbound Direction = iota + 1
	DirectionOutbound
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unset"
	}
}

// Message is the payload moved by every transport. Transports own the wire
// encoding; this type only carries the fields they need to route replies.
type Message struct {
	ID              uuid.UUID         `json:"id"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	ResponseAddress string            `json:"response_address,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            []byte            `json:"body"`
	CreatedAt       time.Time         `json:"created_at"`
}

// NewMessage creates a Message with a generated ID.
func NewMessage(contentType string, body []byte) Message {
	return Message{
		ID:          uuid.New(),
		ContentType: contentType,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewReply creates a response to req, correlated by the request's ID.
func NewReply(req Message, contentType string, body []byte) Message {
	reply := NewMessage(contentType, body)
	reply.CorrelationID = req.ID.String()
	return reply
}

// Domain errors
var (
	ErrUnknownPattern     = errors.New("unknown message pattern")
	ErrNoResponseAddress  = errors.New("message has no response address")
	ErrPatternUnsupported = errors.New("operation not supported for pattern")
)
