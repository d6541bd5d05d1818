package transport

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang-message-queue/internal/app"
	"golang-message-queue/internal/domain"

	"github.com/gofiber/fiber/v2"
)

const (
	maxReceiveWait = 20 * time.Second
	defaultTimeout = 5 * time.Second
	maxTimeout     = 30 * time.Second
)

// Handler holds all HTTP handlers for the message queue API.
type Handler struct {
	svc *app.QueueService
	log *slog.Logger
}

// NewHandler wires up a Handler with its dependencies.
func NewHandler(svc *app.QueueService, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts all routes onto the given Fiber router.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/messages", h.SendMessage)
	router.Get("/messages", h.ReceiveMessages)
	router.Post("/requests", h.Request)
}

// ── Messages ──────────────────────────────────────────────────────────────────

type sendRequest struct {
	ContentType   string            `json:"content_type"`
	Body          string            `json:"body"`
	Headers       map[string]string `json:"headers"`
	CorrelationID string            `json:"correlation_id"`
}

func (r sendRequest) toApp() app.SendRequest {
	contentType := r.ContentType
	if contentType == "" {
		contentType = fiber.MIMETextPlain
	}
	return app.SendRequest{
		ContentType:   contentType,
		Body:          []byte(r.Body),
		Headers:       r.Headers,
		CorrelationID: r.CorrelationID,
	}
}

type messageResponse struct {
	ID              string            `json:"id"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	ResponseAddress string            `json:"response_address,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body"`
	CreatedAt       time.Time         `json:"created_at"`
}

func toResponse(msg domain.Message) messageResponse {
	return messageResponse{
		ID:              msg.ID.String(),
		CorrelationID:   msg.CorrelationID,
		ResponseAddress: msg.ResponseAddress,
		ContentType:     msg.ContentType,
		Headers:         msg.Headers,
		Body:            string(msg.Body),
		CreatedAt:       msg.CreatedAt,
	}
}

// SendMessage sends one message to the configured queue.
//
// POST /messages
// Body: { "body": "...", "content_type": "...", "headers": {...} }
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "body is required"})
	}

	msg, err := h.svc.Send(c.UserContext(), req.toApp())
	if err != nil {
		h.log.Error("send message", "err", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "queue unavailable"})
	}

	return c.Status(fiber.StatusCreated).JSON(toResponse(msg))
}

// ReceiveMessages returns the messages waiting on the configured queue.
//
// GET /messages?wait=<milliseconds>
func (h *Handler) ReceiveMessages(c *fiber.Ctx) error {
	wait, err := durationParam(c, "wait", 0, maxReceiveWait)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	msgs, err := h.svc.Receive(c.UserContext(), wait)
	if errors.Is(err, app.ErrNoInbound) {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "receiving is not enabled"})
	}
	if err != nil {
		h.log.Error("receive messages", "err", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "queue unavailable"})
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toResponse(m))
	}
	return c.JSON(fiber.Map{"messages": out})
}

// ── Request / response ────────────────────────────────────────────────────────

// Request sends a request and waits for the correlated reply.
//
// POST /requests?timeout=<milliseconds>
// Body: same as POST /messages
func (h *Handler) Request(c *fiber.Ctx) error {
	timeout, err := durationParam(c, "timeout", defaultTimeout, maxTimeout)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	reply, err := h.svc.Request(c.UserContext(), req.toApp(), timeout)
	switch {
	case errors.Is(err, app.ErrRequestTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "no reply before timeout"})
	case errors.Is(err, domain.ErrPatternUnsupported):
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "queue does not support request/response"})
	case err != nil:
		h.log.Error("request", "err", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "queue unavailable"})
	}

	return c.JSON(toResponse(reply))
}

// durationParam reads a millisecond query parameter, capped at limit.
func durationParam(c *fiber.Ctx, name string, def, limit time.Duration) (time.Duration, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return 0, errors.New(name + " must be a non-negative number of milliseconds")
	}
	return min(time.Duration(ms)*time.Millisecond, limit), nil
}
