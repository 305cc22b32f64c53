package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/privacy"
	"whatsapp-crm/internal/tenant"
	"whatsapp-crm/internal/tracing"
	wa "whatsapp-crm/pkg/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
)

type MessageStore interface {
	Exists(ctx context.Context, messageID string) (bool, error)
	Insert(ctx context.Context, msg *models.Message) (bool, error)
	UpdateStatus(ctx context.Context, messageID, status string) (bool, error)
}

type LeadStore interface {
	FindByPhone(ctx context.Context, companyID uint, phone string) (*models.Lead, error)
	CreateAdLead(ctx context.Context, lead *models.Lead) (*models.Lead, bool, error)
	AppendNote(ctx context.Context, note *models.LeadNote) error
	Touch(ctx context.Context, lead *models.Lead, at time.Time, phoneNumberID, name string) error
}

type FlowResponseStore interface {
	Insert(ctx context.Context, resp *models.FlowResponse) (bool, error)
}

type ProductLookup interface {
	FindByFlowID(ctx context.Context, companyID uint, flowID string) (*models.Product, error)
}

type TenantResolver interface {
	Resolve(ctx context.Context, phoneNumberID string) (*tenant.Tenant, error)
}

// AutoReplier is the auto-reply rule engine.
type AutoReplier interface {
	HandleKeyword(ctx context.Context, t *tenant.Tenant, to, text string) (*models.Message, error)
	HandleReferredProduct(ctx context.Context, t *tenant.Tenant, to, retailerID string) (*models.Message, error)
	HandleOrder(ctx context.Context, t *tenant.Tenant, to string, retailerIDs []string) ([]models.Message, error)
}

// Broadcaster pushes stored changes to connected inbox clients.
type Broadcaster interface {
	NotifyMessage(msg models.Message)
	NotifyStatus(messageID, status string)
}

// statuses a status webhook may set
var deliveryStatuses = map[string]bool{
	models.StatusSent:      true,
	models.StatusDelivered: true,
	models.StatusRead:      true,
	models.StatusFailed:    true,
}

type Dispatcher struct {
	messages      MessageStore
	leads         LeadStore
	flowResponses FlowResponseStore
	products      ProductLookup
	tenants       TenantResolver
	replies       AutoReplier
	hub           Broadcaster
	logger        *logrus.Logger
}

func NewDispatcher(
	messages MessageStore,
	leads LeadStore,
	flowResponses FlowResponseStore,
	products ProductLookup,
	tenants TenantResolver,
	replies AutoReplier,
	hub Broadcaster,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		messages:      messages,
		leads:         leads,
		flowResponses: flowResponses,
		products:      products,
		tenants:       tenants,
		replies:       replies,
		hub:           hub,
		logger:        logger,
	}
}

// Dispatch processes every event of the envelope. It never fails: problems
// are logged so the provider always gets an acknowledgement.
func (d *Dispatcher) Dispatch(ctx context.Context, payload *wa.WebhookPayload) {
	for _, ev := range Classify(payload) {
		switch e := ev.(type) {
		case *InboundMessage:
			d.handleMessage(ctx, e)
		case *StatusUpdate:
			d.handleStatus(ctx, e)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev *InboundMessage) {
	ctx, span := tracing.StartSpan(ctx, "webhook.message",
		attribute.String("phone_number_id", ev.PhoneNumberID),
		attribute.String("message.type", ev.Type),
	)
	defer span.End()

	log := d.logger.WithFields(logrus.Fields{
		"event":           "message",
		"phone_number_id": ev.PhoneNumberID,
		"from":            privacy.MaskPhoneNumber(ev.From),
		"message_id":      privacy.MaskMessageID(ev.MessageID),
		"type":            ev.Type,
	})

	if ev.MessageID == "" {
		log.Warn("Dropping message without id")
		return
	}

	exists, err := d.messages.Exists(ctx, ev.MessageID)
	if err != nil {
		// the conditional insert below still guards against duplicates
		log.WithError(err).Error("Duplicate check failed")
	}
	if exists {
		log.Debug("Duplicate delivery skipped")
		return
	}

	t, err := d.tenants.Resolve(ctx, ev.PhoneNumberID)
	if err != nil {
		tracing.RecordError(ctx, err)
		log.WithError(err).Error("Tenant lookup failed")
		return
	}
	if t == nil {
		log.Info("Ignoring message for unknown business account")
		return
	}
	log = log.WithField("company_id", t.CompanyID)
	span.SetAttributes(attribute.Int64("company_id", int64(t.CompanyID)))

	msg := d.buildMessage(t, ev)
	d.step(ctx, log, "store message", func() error {
		created, err := d.messages.Insert(ctx, msg)
		if err != nil {
			return err
		}
		if !created {
			exists = true
			return nil
		}
		if d.hub != nil {
			d.hub.NotifyMessage(*msg)
		}
		return nil
	})
	if exists {
		log.Debug("Concurrent duplicate delivery skipped")
		return
	}

	if ev.FlowReply != nil {
		d.step(ctx, log, "capture flow response", func() error {
			return d.captureFlowResponse(ctx, t, ev)
		})
	}

	if ev.ReferredProduct != nil {
		d.step(ctx, log, "referred product reply", func() error {
			_, err := d.replies.HandleReferredProduct(ctx, t, ev.From, ev.ReferredProduct.ProductRetailerID)
			return err
		})
	}

	if ev.Order != nil && len(ev.Order.RetailerIDs) > 0 {
		d.step(ctx, log, "order form reply", func() error {
			_, err := d.replies.HandleOrder(ctx, t, ev.From, ev.Order.RetailerIDs)
			return err
		})
	}

	// may fire together with the referred product reply
	if ev.IsText() {
		d.step(ctx, log, "keyword reply", func() error {
			_, err := d.replies.HandleKeyword(ctx, t, ev.From, ev.Body)
			return err
		})
	}

	d.step(ctx, log, "lead upsert", func() error {
		return d.upsertLead(ctx, t, ev)
	})
}

// step runs one side effect of message handling. Errors and panics are
// logged and never reach sibling steps.
func (d *Dispatcher) step(ctx context.Context, log *logrus.Entry, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			tracing.RecordError(ctx, err)
			log.WithError(err).WithField("step", name).Error("Webhook step panicked")
		}
	}()
	if err := fn(); err != nil {
		tracing.RecordError(ctx, err)
		log.WithError(err).WithField("step", name).Error("Webhook step failed")
	}
}

func (d *Dispatcher) buildMessage(t *tenant.Tenant, ev *InboundMessage) *models.Message {
	msg := &models.Message{
		MessageID:     ev.MessageID,
		CompanyID:     t.CompanyID,
		PhoneNumberID: ev.PhoneNumberID,
		Direction:     models.DirectionIncoming,
		From:          ev.From,
		To:            firstNonEmpty(ev.DisplayPhoneNumber, t.DisplayPhoneNumber),
		ContactName:   ev.ContactName,
		Type:          ev.Type,
		Body:          ev.Body,
		MediaID:       ev.MediaID,
		Status:        models.StatusReceived,
		Timestamp:     ev.Timestamp,
	}
	if len(ev.Raw) > 0 {
		msg.Metadata = datatypes.JSON(ev.Raw)
	}
	return msg
}

func (d *Dispatcher) captureFlowResponse(ctx context.Context, t *tenant.Tenant, ev *InboundMessage) error {
	parsed := ParseFlowResponse(ev.FlowReply.ResponseJSON)
	resp := &models.FlowResponse{
		CompanyID:     t.CompanyID,
		MessageID:     ev.MessageID,
		FlowID:        parsed.FlowID,
		FlowToken:     parsed.Token,
		Phone:         ev.From,
		PhoneNumberID: ev.PhoneNumberID,
		ResponseData:  parsed.Data,
		ParsedFields:  parsed.Fields,
		Status:        parsed.Status,
	}

	lead, err := d.leads.FindByPhone(ctx, t.CompanyID, ev.From)
	if err != nil {
		return err
	}
	if lead != nil {
		resp.LeadID = &lead.ID
	}
	if parsed.FlowID != "" {
		product, err := d.products.FindByFlowID(ctx, t.CompanyID, parsed.FlowID)
		if err != nil {
			return err
		}
		if product != nil {
			resp.ProductID = &product.ID
		}
	}

	created, err := d.flowResponses.Insert(ctx, resp)
	if err != nil {
		return err
	}
	if !created {
		d.logger.WithField("message_id", privacy.MaskMessageID(ev.MessageID)).Debug("Flow response already captured")
	}
	return nil
}

// upsertLead records the interaction on an existing lead. Without one, a
// lead is created only for ad-attributed messages.
func (d *Dispatcher) upsertLead(ctx context.Context, t *tenant.Tenant, ev *InboundMessage) error {
	lead, err := d.leads.FindByPhone(ctx, t.CompanyID, ev.From)
	if err != nil {
		return err
	}

	if lead == nil {
		if !ev.HasReferral() {
			return nil
		}
		referral, _ := json.Marshal(ev.Referral)
		at := ev.Timestamp
		stored, created, err := d.leads.CreateAdLead(ctx, &models.Lead{
			CompanyID:         t.CompanyID,
			Name:              ev.ContactName,
			Phone:             ev.From,
			Stage:             models.StageNew,
			Status:            models.StageNew,
			PhoneNumberID:     ev.PhoneNumberID,
			Referral:          datatypes.JSON(referral),
			LastInteractionAt: &at,
		})
		if err != nil {
			return err
		}
		if created {
			d.logger.WithFields(logrus.Fields{
				"company_id": t.CompanyID,
				"lead_id":    stored.ID,
				"from":       privacy.MaskPhoneNumber(ev.From),
			}).Info("Created lead from WhatsApp ad")
			if err := d.leads.AppendNote(ctx, &models.LeadNote{
				LeadID:    stored.ID,
				Kind:      models.NoteKindWhatsApp,
				Body:      referralNote(ev.Referral),
				MessageID: ev.MessageID,
				CreatedAt: ev.Timestamp,
			}); err != nil {
				return err
			}
		}
		lead = stored
	}

	if err := d.leads.AppendNote(ctx, &models.LeadNote{
		LeadID:    lead.ID,
		Kind:      models.NoteKindWhatsApp,
		Body:      messageNote(ev),
		MessageID: ev.MessageID,
		CreatedAt: ev.Timestamp,
	}); err != nil {
		return err
	}
	return d.leads.Touch(ctx, lead, ev.Timestamp, ev.PhoneNumberID, ev.ContactName)
}

func (d *Dispatcher) handleStatus(ctx context.Context, ev *StatusUpdate) {
	log := d.logger.WithFields(logrus.Fields{
		"event":           "status",
		"phone_number_id": ev.PhoneNumberID,
		"message_id":      privacy.MaskMessageID(ev.MessageID),
		"status":          ev.Status,
	})
	if !deliveryStatuses[ev.Status] {
		log.Debug("Ignoring unsupported status")
		return
	}
	if len(ev.Errors) > 0 {
		log = log.WithField("error_code", ev.Errors[0].Code)
	}

	found, err := d.messages.UpdateStatus(ctx, ev.MessageID, ev.Status)
	if err != nil {
		log.WithError(err).Error("Failed to update message status")
		return
	}
	if !found {
		log.Debug("Status for unknown message")
		return
	}
	if d.hub != nil {
		d.hub.NotifyStatus(ev.MessageID, ev.Status)
	}
}

func messageNote(ev *InboundMessage) string {
	body := ev.Body
	if body == "" {
		body = "[" + ev.Type + "]"
	}
	return "WhatsApp message: " + body
}

func referralNote(r *wa.Referral) string {
	note := "Lead created from WhatsApp ad"
	if r.Headline != "" {
		note += ": " + r.Headline
	}
	if r.SourceURL != "" {
		note += " (" + r.SourceURL + ")"
	}
	return note
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
