package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"whatsapp-crm/internal/tracing"
	wa "whatsapp-crm/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const businessAccountObject = "whatsapp_business_account"

// EventDispatcher consumes a decoded webhook envelope.
type EventDispatcher interface {
	Dispatch(ctx context.Context, payload *wa.WebhookPayload)
}

type Handler struct {
	dispatcher  EventDispatcher
	verifyToken string
	appSecret   string
	logger      *logrus.Logger
}

func NewHandler(dispatcher EventDispatcher, verifyToken, appSecret string, logger *logrus.Logger) *Handler {
	return &Handler{
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.HandleWebhook)
}

// VerifyWebhook answers the subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := queryAny(c, "hub.mode", "mode")
	token := queryAny(c, "hub.verify_token", "verify_token")
	challenge := queryAny(c, "hub.challenge", "challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || h.verifyToken == "" || !hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		h.logger.Warn("Webhook verification rejected")
		c.Status(http.StatusForbidden)
		return
	}

	h.logger.Info("Webhook verified successfully")
	c.String(http.StatusOK, challenge)
}

// HandleWebhook acknowledges every recognized envelope with 200, whatever
// happens while processing it.
func (h *Handler) HandleWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if h.appSecret != "" {
		if ok, reason := verifySignature(h.appSecret, c.GetHeader("X-Hub-Signature-256"), raw); !ok {
			h.logger.WithField("reason", reason).Warn("Rejected webhook with bad signature")
			c.Status(http.StatusUnauthorized)
			return
		}
	}

	var payload wa.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.WithError(err).Warn("Error decoding webhook JSON")
		c.Status(http.StatusBadRequest)
		return
	}
	if payload.Object != businessAccountObject || len(payload.Entry) == 0 {
		h.logger.WithField("object", payload.Object).Info("Unrecognized webhook payload")
		c.Status(http.StatusNotFound)
		return
	}

	ctx, span := tracing.StartSpan(c.Request.Context(), "webhook.receive",
		attribute.Int("webhook.entries", len(payload.Entry)),
	)
	h.dispatcher.Dispatch(ctx, &payload)
	span.End()

	c.String(http.StatusOK, "EVENT_RECEIVED")
}

// verifySignature checks X-Hub-Signature-256: sha256=<hex hmac of body>.
func verifySignature(secret, header string, body []byte) (bool, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return false, "missing X-Hub-Signature-256"
	}
	if !strings.HasPrefix(header, "sha256=") {
		return false, "invalid X-Hub-Signature-256 format"
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false, "invalid signature hex"
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return false, "signature mismatch"
	}
	return true, ""
}

func queryAny(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}
