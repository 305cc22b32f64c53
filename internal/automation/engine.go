package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/privacy"
	"whatsapp-crm/internal/tenant"
	"whatsapp-crm/internal/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Sender is the outbound messaging transport.
type Sender interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
	SendFlow(ctx context.Context, creds whatsapp.Credentials, to string, flow whatsapp.Flow) (string, error)
	SendProduct(ctx context.Context, creds whatsapp.Credentials, to, catalogID, retailerID, body string) (string, error)
}

type MessageLog interface {
	Insert(ctx context.Context, msg *models.Message) (bool, error)
}

type Catalog interface {
	FindByRetailerID(ctx context.Context, companyID uint, retailerID string) (*models.Product, error)
	FindByRetailerIDs(ctx context.Context, companyID uint, retailerIDs []string) ([]models.Product, error)
	FindByID(ctx context.Context, companyID, id uint) (*models.Product, error)
	ActiveProducts(ctx context.Context, companyID uint) ([]models.Product, error)
}

type RuleSource interface {
	Enabled(ctx context.Context, companyID uint) ([]models.AutoReplyRule, error)
}

// Notifier receives every outbound message the engine logs.
type Notifier interface {
	NotifyMessage(msg models.Message)
}

// Auto-reply kinds recorded in outbound message metadata
const (
	KindKeyword         = "keyword"
	KindReferredProduct = "referred_product"
	KindOrderForm       = "order_form"
)

const (
	defaultFlowCTA  = "Open form"
	defaultFlowBody = "Please fill in a few details so we can help you."
)

type Engine struct {
	sender      Sender
	messages    MessageLog
	catalog     Catalog
	rules       RuleSource
	notifier    Notifier
	formBaseURL string
	logger      *logrus.Logger
	now         func() time.Time
}

func NewEngine(sender Sender, messages MessageLog, catalog Catalog, rules RuleSource, formBaseURL string, logger *logrus.Logger) *Engine {
	return &Engine{
		sender:      sender,
		messages:    messages,
		catalog:     catalog,
		rules:       rules,
		formBaseURL: strings.TrimRight(formBaseURL, "/"),
		logger:      logger,
		now:         time.Now,
	}
}

func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// HandleKeyword runs text through the tenant's enabled rules. The first
// matching rule is executed; nil is returned when none matches.
func (e *Engine) HandleKeyword(ctx context.Context, t *tenant.Tenant, to, text string) (*models.Message, error) {
	rules, err := e.rules.Enabled(ctx, t.CompanyID)
	if err != nil {
		return nil, err
	}

	rule := MatchRule(rules, text)
	if rule == nil {
		return nil, nil
	}

	e.logger.WithFields(logrus.Fields{
		"company_id": t.CompanyID,
		"rule_id":    rule.ID,
		"keyword":    rule.Keyword,
		"to":         privacy.MaskPhoneNumber(to),
	}).Info("Auto-reply rule matched")

	return e.executeRule(ctx, t, to, rule)
}

// MatchRule returns the first rule in slice order whose keyword matches text.
func MatchRule(rules []models.AutoReplyRule, text string) *models.AutoReplyRule {
	for i := range rules {
		if matchKeyword(text, &rules[i]) {
			return &rules[i]
		}
	}
	return nil
}

func matchKeyword(message string, rule *models.AutoReplyRule) bool {
	keyword := strings.TrimSpace(rule.Keyword)
	if keyword == "" {
		return false
	}
	message = strings.TrimSpace(message)
	if !rule.CaseSensitive {
		message = strings.ToLower(message)
		keyword = strings.ToLower(keyword)
	}

	switch rule.MatchType {
	case models.MatchContains:
		return strings.Contains(message, keyword)
	case models.MatchExact, "":
		return message == keyword
	default:
		return false
	}
}

// executeRule resolves the rule's action to exactly one outbound send.
func (e *Engine) executeRule(ctx context.Context, t *tenant.Tenant, to string, rule *models.AutoReplyRule) (*models.Message, error) {
	meta := map[string]interface{}{"auto_reply": KindKeyword, "rule_id": rule.ID}
	creds := t.Credentials()

	switch rule.ResponseType {
	case models.ResponseText:
		body := rule.ResponseText
		return e.deliver(ctx, t, to, models.TypeText, body, meta, func() (string, error) {
			return e.sender.SendText(ctx, creds, to, body)
		})

	case models.ResponseProduct:
		if rule.ProductID == nil {
			return nil, fmt.Errorf("rule %d has no product", rule.ID)
		}
		product, err := e.catalog.FindByID(ctx, t.CompanyID, *rule.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, fmt.Errorf("rule %d references missing product %d", rule.ID, *rule.ProductID)
		}
		body := withIntro(rule.ResponseText, productCard(product))
		meta["product_id"] = product.ID
		if t.CatalogID != "" && product.RetailerID != "" {
			return e.deliver(ctx, t, to, models.TypeInteractive, body, meta, func() (string, error) {
				return e.sender.SendProduct(ctx, creds, to, t.CatalogID, product.RetailerID, body)
			})
		}
		return e.deliver(ctx, t, to, models.TypeText, body, meta, func() (string, error) {
			return e.sender.SendText(ctx, creds, to, body)
		})

	case models.ResponseAllProductsPrices:
		products, err := e.catalog.ActiveProducts(ctx, t.CompanyID)
		if err != nil {
			return nil, err
		}
		body := withIntro(rule.ResponseText, priceList(products))
		return e.deliver(ctx, t, to, models.TypeText, body, meta, func() (string, error) {
			return e.sender.SendText(ctx, creds, to, body)
		})

	case models.ResponseFlow:
		if rule.FlowID == "" {
			return nil, fmt.Errorf("rule %d has no flow id", rule.ID)
		}
		flow := whatsapp.Flow{
			FlowID: rule.FlowID,
			Token:  NewFlowToken(rule.FlowID),
			CTA:    firstNonEmpty(rule.FlowCTA, defaultFlowCTA),
			Body:   firstNonEmpty(rule.ResponseText, defaultFlowBody),
		}
		meta["flow_id"] = flow.FlowID
		meta["flow_token"] = flow.Token
		return e.deliver(ctx, t, to, models.TypeInteractive, flow.Body, meta, func() (string, error) {
			return e.sender.SendFlow(ctx, creds, to, flow)
		})

	default:
		return nil, fmt.Errorf("rule %d has unknown response type %q", rule.ID, rule.ResponseType)
	}
}

// HandleReferredProduct replies with the intake form link of the product the
// contact tapped. Products without a form produce no reply.
func (e *Engine) HandleReferredProduct(ctx context.Context, t *tenant.Tenant, to, retailerID string) (*models.Message, error) {
	product, err := e.catalog.FindByRetailerID(ctx, t.CompanyID, retailerID)
	if err != nil {
		return nil, err
	}
	if product == nil || product.Form == nil {
		e.logger.WithFields(logrus.Fields{
			"company_id":  t.CompanyID,
			"retailer_id": retailerID,
		}).Debug("Referred product has no linked form")
		return nil, nil
	}

	link := e.FormLink(product.Form.ID, to, product.ID)
	body := fmt.Sprintf("Thanks for your interest in %s! Please fill in this form and we will get back to you: %s", product.Name, link)
	meta := map[string]interface{}{
		"auto_reply":  KindReferredProduct,
		"product_id":  product.ID,
		"form_id":     product.Form.ID,
		"retailer_id": retailerID,
	}
	creds := t.Credentials()
	return e.deliver(ctx, t, to, models.TypeText, body, meta, func() (string, error) {
		return e.sender.SendText(ctx, creds, to, body)
	})
}

// HandleOrder sends one reply per distinct form linked to the ordered
// products, in the order the forms first appear among the line items. A form
// is delivered as a native flow when one of its ordered products carries a
// flow ID, otherwise as a text link.
func (e *Engine) HandleOrder(ctx context.Context, t *tenant.Tenant, to string, retailerIDs []string) ([]models.Message, error) {
	products, err := e.catalog.FindByRetailerIDs(ctx, t.CompanyID, retailerIDs)
	if err != nil {
		return nil, err
	}
	byRetailer := make(map[string]models.Product, len(products))
	for _, p := range products {
		byRetailer[p.RetailerID] = p
	}

	type formGroup struct {
		form     *models.Form
		products []models.Product
	}
	var groups []*formGroup
	seen := make(map[uint]*formGroup)
	for _, rid := range retailerIDs {
		p, ok := byRetailer[rid]
		if !ok || p.Form == nil {
			continue
		}
		g, ok := seen[p.Form.ID]
		if !ok {
			g = &formGroup{form: p.Form}
			seen[p.Form.ID] = g
			groups = append(groups, g)
		}
		g.products = append(g.products, p)
	}

	creds := t.Credentials()
	var sent []models.Message
	var firstErr error
	for _, g := range groups {
		first := g.products[0]
		meta := map[string]interface{}{
			"auto_reply": KindOrderForm,
			"form_id":    g.form.ID,
			"product_id": first.ID,
		}

		var msg *models.Message
		var sendErr error
		if flowProduct := productWithFlow(g.products); flowProduct != nil {
			flow := whatsapp.Flow{
				FlowID: flowProduct.FlowID,
				Token:  NewFlowToken(flowProduct.FlowID),
				CTA:    defaultFlowCTA,
				Header: g.form.Name,
				Body:   fmt.Sprintf("Thanks for your order of %s! Please complete %s.", flowProduct.Name, g.form.Name),
			}
			meta["flow_id"] = flow.FlowID
			meta["flow_token"] = flow.Token
			msg, sendErr = e.deliver(ctx, t, to, models.TypeInteractive, flow.Body, meta, func() (string, error) {
				return e.sender.SendFlow(ctx, creds, to, flow)
			})
		} else {
			body := fmt.Sprintf("Thanks for your order of %s! Please fill in %s: %s",
				first.Name, g.form.Name, e.FormLink(g.form.ID, to, first.ID))
			msg, sendErr = e.deliver(ctx, t, to, models.TypeText, body, meta, func() (string, error) {
				return e.sender.SendText(ctx, creds, to, body)
			})
		}
		if msg != nil {
			sent = append(sent, *msg)
		}
		if sendErr != nil && firstErr == nil {
			firstErr = sendErr
		}
	}
	return sent, firstErr
}

// FormLink is the public URL of an intake form prefilled for one contact.
func (e *Engine) FormLink(formID uint, phone string, productID uint) string {
	q := url.Values{}
	q.Set("phone", phone)
	if productID != 0 {
		q.Set("product", fmt.Sprint(productID))
	}
	return fmt.Sprintf("%s/forms/%d?%s", e.formBaseURL, formID, q.Encode())
}

// NewFlowToken correlates a flow invocation with its later reply. The flow
// ID prefix lets the reply be attributed when the response omits flow_id.
func NewFlowToken(flowID string) string {
	return flowID + "." + uuid.NewString()
}

// deliver performs one send and always logs the outbound message, keyed by
// the provider ID on success and a synthetic ID otherwise. Failed sends are
// not retried.
func (e *Engine) deliver(ctx context.Context, t *tenant.Tenant, to, msgType, body string, meta map[string]interface{}, send func() (string, error)) (*models.Message, error) {
	providerID, sendErr := send()

	msg := &models.Message{
		MessageID:     providerID,
		CompanyID:     t.CompanyID,
		PhoneNumberID: t.PhoneNumberID,
		Direction:     models.DirectionOutgoing,
		From:          t.DisplayPhoneNumber,
		To:            to,
		Type:          msgType,
		Body:          body,
		Status:        models.StatusSent,
		Timestamp:     e.now(),
	}
	if sendErr != nil || providerID == "" {
		msg.MessageID = "auto_" + uuid.NewString()
		msg.Status = models.StatusFailed
		if sendErr != nil {
			meta["error"] = sendErr.Error()
		}
	}
	if raw, err := json.Marshal(meta); err == nil {
		msg.Metadata = datatypes.JSON(raw)
	}

	log := e.logger.WithFields(logrus.Fields{
		"company_id": t.CompanyID,
		"to":         privacy.MaskPhoneNumber(to),
		"message_id": privacy.MaskMessageID(msg.MessageID),
		"auto_reply": meta["auto_reply"],
	})
	if sendErr != nil {
		log.WithError(sendErr).Warn("Auto-reply send failed")
	}

	if _, err := e.messages.Insert(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to log outbound auto-reply")
		if sendErr == nil {
			return msg, err
		}
		return msg, sendErr
	}
	if e.notifier != nil {
		e.notifier.NotifyMessage(*msg)
	}
	return msg, sendErr
}

func productWithFlow(products []models.Product) *models.Product {
	for i := range products {
		if products[i].FlowID != "" {
			return &products[i]
		}
	}
	return nil
}

func productCard(p *models.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", p.Name)
	if p.Description != "" {
		b.WriteString(p.Description)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Price: %s", formatPrice(p.Price, p.Currency))
	return b.String()
}

func priceList(products []models.Product) string {
	if len(products) == 0 {
		return "No products are available right now."
	}
	var b strings.Builder
	b.WriteString("Our products:")
	for i, p := range products {
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1, p.Name, formatPrice(p.Price, p.Currency))
	}
	return b.String()
}

func formatPrice(price float64, currency string) string {
	if currency == "" {
		currency = "INR"
	}
	return fmt.Sprintf("%s %.2f", currency, price)
}

func withIntro(intro, body string) string {
	if intro = strings.TrimSpace(intro); intro == "" {
		return body
	}
	return intro + "\n\n" + body
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
