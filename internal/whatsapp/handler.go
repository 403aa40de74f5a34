// Package whatsapp is the WhatsApp Cloud API channel: webhook verification,
// inbound message parsing and the outbound Graph API client.
package whatsapp

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ccp-pamplona/ccpbot/internal/auth"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/dedupe"
	"github.com/ccp-pamplona/ccpbot/internal/dispatch"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// Handler serves the webhook endpoints.
type Handler struct {
	verifyToken string
	sender      Sender
	answerer    core.Answerer
	policy      *auth.PolicyService
	dedupe      dedupe.Store
	dispatcher  *dispatch.Dispatcher
}

// HandlerConfig groups the Handler dependencies.
type HandlerConfig struct {
	VerifyToken string
	Sender      Sender
	Answerer    core.Answerer
	Policy      *auth.PolicyService
	Dedupe      dedupe.Store
	Dispatcher  *dispatch.Dispatcher
}

// NewHandler creates a Handler. A nil policy allows everyone and a nil
// dedupe store uses an in-memory one.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Policy == nil {
		cfg.Policy = auth.NewPolicyService("", "")
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = dedupe.NewMemoryStore(dedupe.DefaultTTL)
	}
	return &Handler{
		verifyToken: strings.TrimSpace(cfg.VerifyToken),
		sender:      cfg.Sender,
		answerer:    cfg.Answerer,
		policy:      cfg.Policy,
		dedupe:      cfg.Dedupe,
		dispatcher:  cfg.Dispatcher,
	}
}

// NewRouter registers the webhook and health routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", Health)
	router.GET("/webhook", h.Verify)
	router.POST("/webhook", h.Receive)
	return router
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func queryFirst(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v, ok := c.GetQuery(k); ok {
			return v
		}
	}
	return ""
}

// Verify answers the subscription handshake Meta sends when the webhook is
// registered.
func (h *Handler) Verify(c *gin.Context) {
	mode := queryFirst(c, "hub.mode", "mode")
	token := strings.TrimSpace(queryFirst(c, "hub.verify_token", "verify_token", "token"))
	challenge := queryFirst(c, "hub.challenge", "challenge")

	if mode == "subscribe" && challenge != "" && h.tokenMatches(token) {
		logger.Info("Webhook verified")
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
		return
	}
	logger.Warn("Webhook verification rejected (mode=%q, token_set=%t)", mode, token != "")
	c.Data(http.StatusForbidden, "text/plain; charset=utf-8", []byte("forbidden"))
}

func (h *Handler) tokenMatches(token string) bool {
	if h.verifyToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1
}

// Receive acknowledges every event and answers supported messages in the
// background. It always responds 200 so the platform does not retry.
func (h *Handler) Receive(c *gin.Context) {
	defer c.JSON(http.StatusOK, gin.H{"status": "ok"})

	raw, err := c.GetRawData()
	if err != nil {
		logger.Warn("Failed to read webhook body: %v", err)
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return
	}

	msgs, err := ParseMessages(raw)
	if err != nil {
		logger.Warn("Ignoring malformed webhook body: %v", err)
		return
	}
	for _, m := range msgs {
		h.handleMessage(c.Request.Context(), m)
	}
}

func (h *Handler) handleMessage(ctx context.Context, m InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered while handling message %s: %v", m.ID, r)
		}
	}()

	if !m.Answerable() {
		logger.Debug("Ignoring %s message %s from %s", m.Kind, m.ID, m.From)
		return
	}
	if !h.policy.IsAllowed(m.From) {
		logger.Warn("Ignoring message from sender %s not in the allow list", m.From)
		return
	}
	if !dedupe.ShouldProcess(ctx, h.dedupe, m.ID) {
		return
	}

	logger.Info("Message %s from %s (%s): %q", m.ID, m.From, m.Kind, logger.Preview(m.Text, 80))
	if _, err := h.dispatcher.Go("whatsapp-reply", func(ctx context.Context) error {
		return h.reply(ctx, m)
	}); err != nil {
		logger.Error("Failed to dispatch reply for %s: %v", m.ID, err)
		if m.ID != "" {
			if err := h.dedupe.Release(ctx, m.ID); err != nil {
				logger.Warn("Failed to release claim on %s: %v", m.ID, err)
			}
		}
	}
}

func (h *Handler) reply(ctx context.Context, m InboundMessage) error {
	turn := core.Turn{SenderID: m.From, InboundText: m.Text}

	if m.ID != "" {
		if err := h.sender.MarkRead(ctx, m.ID); err != nil {
			logger.Warn("Failed to mark %s read: %v", m.ID, err)
		}
	}

	turn.OutboundText = h.answerer.Answer(ctx, turn.InboundText)
	if err := h.sender.SendText(ctx, turn.SenderID, turn.OutboundText); err != nil {
		return err
	}
	logger.Debug("Replied to %s: %q", turn.SenderID, logger.Preview(turn.OutboundText, 80))
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
