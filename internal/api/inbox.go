package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"whatsapp-crm/internal/conversation"
	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/privacy"
	"whatsapp-crm/internal/tenant"
	"whatsapp-crm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type MessageStore interface {
	Insert(ctx context.Context, msg *models.Message) (bool, error)
	ListByCompany(ctx context.Context, companyID uint, phoneNumberID string) ([]models.Message, error)
	MarkThreadRead(ctx context.Context, companyID uint, phoneNumberID, phone string) (int64, error)
	LatestIncoming(ctx context.Context, companyID uint, phoneNumberID, phone string) (*models.Message, error)
}

type LeadNames interface {
	NamesByPhone(ctx context.Context, companyID uint) (map[string]string, error)
}

type AccountFinder interface {
	FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppAccount, error)
}

type Sender interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
	MarkRead(ctx context.Context, creds whatsapp.Credentials, messageID string) error
}

type Notifier interface {
	NotifyMessage(msg models.Message)
}

// InboxHandler lists threads and performs the manual agent actions.
type InboxHandler struct {
	messages MessageStore
	leads    LeadNames
	accounts AccountFinder
	sender   Sender
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

func NewInboxHandler(messages MessageStore, leads LeadNames, accounts AccountFinder, sender Sender, notifier Notifier, logger *logrus.Logger) *InboxHandler {
	return &InboxHandler{
		messages: messages,
		leads:    leads,
		accounts: accounts,
		sender:   sender,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *InboxHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/conversations", h.ListConversations)
	r.POST("/conversations/:phone/read", h.MarkRead)
	r.POST("/messages/send", h.SendMessage)
}

// ListConversations returns the tenant's threads, newest first.
func (h *InboxHandler) ListConversations(c *gin.Context) {
	companyID, err := parseID("company_id", c.Query("company_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()

	msgs, err := h.messages.ListByCompany(ctx, companyID, c.Query("phone_number_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	names, err := h.leads.NamesByPhone(ctx, companyID)
	if err != nil {
		// threads still render, falling back to phone numbers
		h.logger.WithError(err).Warn("Failed to load lead names for inbox")
		names = nil
	}

	c.JSON(http.StatusOK, conversation.Group(msgs, names))
}

type SendRequest struct {
	CompanyID     uint   `json:"company_id"`
	PhoneNumberID string `json:"phone_number_id"`
	To            string `json:"to"`
	Body          string `json:"body"`
}

func (r *SendRequest) validate() error {
	switch {
	case r.CompanyID == 0:
		return apperrors.NewValidationError("company_id", "is required")
	case strings.TrimSpace(r.PhoneNumberID) == "":
		return apperrors.NewValidationError("phone_number_id", "is required")
	case strings.TrimSpace(r.To) == "":
		return apperrors.NewValidationError("to", "is required")
	case strings.TrimSpace(r.Body) == "":
		return apperrors.NewValidationError("body", "is required")
	}
	return nil
}

// SendMessage sends an agent-typed text. Unlike auto-replies a provider
// rejection is returned to the caller; the attempt is logged either way.
func (h *InboxHandler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body").
			WithUserMessage("Invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()

	t, err := h.resolve(ctx, req.CompanyID, req.PhoneNumberID)
	if err != nil {
		respondError(c, err)
		return
	}

	providerID, sendErr := h.sender.SendText(ctx, t.Credentials(), req.To, req.Body)

	msg := &models.Message{
		MessageID:     providerID,
		CompanyID:     t.CompanyID,
		PhoneNumberID: t.PhoneNumberID,
		Direction:     models.DirectionOutgoing,
		From:          t.DisplayPhoneNumber,
		To:            req.To,
		Type:          models.TypeText,
		Body:          req.Body,
		Status:        models.StatusSent,
		Timestamp:     h.now(),
	}
	meta := map[string]interface{}{"manual": true}
	if sendErr != nil || providerID == "" {
		msg.MessageID = "manual_" + uuid.NewString()
		msg.Status = models.StatusFailed
		if sendErr != nil {
			meta["error"] = sendErr.Error()
		}
	}
	if raw, err := json.Marshal(meta); err == nil {
		msg.Metadata = datatypes.JSON(raw)
	}

	log := h.logger.WithFields(logrus.Fields{
		"company_id": t.CompanyID,
		"to":         privacy.MaskPhoneNumber(req.To),
		"message_id": privacy.MaskMessageID(msg.MessageID),
	})
	if _, err := h.messages.Insert(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to log outbound message")
	} else if h.notifier != nil {
		h.notifier.NotifyMessage(*msg)
	}

	if sendErr != nil {
		log.WithError(sendErr).Warn("Manual send rejected by provider")
		respondError(c, sendErr)
		return
	}
	if providerID == "" {
		respondError(c, apperrors.New(apperrors.ErrCodeWhatsAppAPI, "provider returned no message id").
			WithUserMessage("WhatsApp rejected the message"))
		return
	}

	log.Info("Manual message sent")
	c.JSON(http.StatusOK, msg)
}

type readRequest struct {
	CompanyID     uint   `json:"company_id"`
	PhoneNumberID string `json:"phone_number_id"`
}

// MarkRead clears the unread count of one thread and sends a read receipt
// for its latest incoming message.
func (h *InboxHandler) MarkRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body").
			WithUserMessage("Invalid request body"))
		return
	}
	if req.CompanyID == 0 {
		respondError(c, apperrors.NewValidationError("company_id", "is required"))
		return
	}
	if req.PhoneNumberID == "" {
		respondError(c, apperrors.NewValidationError("phone_number_id", "is required"))
		return
	}
	phone := c.Param("phone")
	ctx := c.Request.Context()

	t, err := h.resolve(ctx, req.CompanyID, req.PhoneNumberID)
	if err != nil {
		respondError(c, err)
		return
	}

	// look up the receipt target before the statuses change
	latest, err := h.messages.LatestIncoming(ctx, t.CompanyID, t.PhoneNumberID, phone)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load latest incoming message")
	}

	updated, err := h.messages.MarkThreadRead(ctx, t.CompanyID, t.PhoneNumberID, phone)
	if err != nil {
		respondError(c, err)
		return
	}

	if latest != nil && updated > 0 {
		if err := h.sender.MarkRead(ctx, t.Credentials(), latest.MessageID); err != nil {
			h.logger.WithError(err).WithField("message_id", privacy.MaskMessageID(latest.MessageID)).
				Warn("Read receipt failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// resolve loads the business account and checks it belongs to companyID.
func (h *InboxHandler) resolve(ctx context.Context, companyID uint, phoneNumberID string) (*tenant.Tenant, error) {
	account, err := h.accounts.FindByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.CompanyID != companyID {
		return nil, apperrors.NewNotFoundError("whatsapp account", phoneNumberID)
	}
	return tenant.FromAccount(account), nil
}
