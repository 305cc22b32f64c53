package automation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/tenant"
	"whatsapp-crm/internal/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error) {
	args := m.Called(ctx, creds, to, body)
	return args.String(0), args.Error(1)
}

func (m *mockSender) SendFlow(ctx context.Context, creds whatsapp.Credentials, to string, flow whatsapp.Flow) (string, error) {
	args := m.Called(ctx, creds, to, flow)
	return args.String(0), args.Error(1)
}

func (m *mockSender) SendProduct(ctx context.Context, creds whatsapp.Credentials, to, catalogID, retailerID, body string) (string, error) {
	args := m.Called(ctx, creds, to, catalogID, retailerID, body)
	return args.String(0), args.Error(1)
}

type recordingNotifier struct {
	messages []models.Message
}

func (r *recordingNotifier) NotifyMessage(msg models.Message) {
	r.messages = append(r.messages, msg)
}

const customer = "919876500001"

type fixture struct {
	store  *store.Store
	sender *mockSender
	engine *Engine
	tenant *tenant.Tenant
	notes  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLiteMemory()
	require.NoError(t, err)
	s := store.New(db)

	company := &models.Company{Name: "Acme"}
	require.NoError(t, db.Create(company).Error)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sender := &mockSender{}
	engine := NewEngine(sender, s.Messages(), s.Catalog(), s.Rules(), "https://crm.example.com/", logger)
	engine.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	notes := &recordingNotifier{}
	engine.SetNotifier(notes)

	return &fixture{
		store:  s,
		sender: sender,
		engine: engine,
		notes:  notes,
		tenant: &tenant.Tenant{
			CompanyID: company.ID, PhoneNumberID: "pn1", DisplayPhoneNumber: "15550001111", AccessToken: "tok",
		},
	}
}

func (f *fixture) creds() whatsapp.Credentials {
	return f.tenant.Credentials()
}

func (f *fixture) outbound(t *testing.T) []models.Message {
	t.Helper()
	var msgs []models.Message
	require.NoError(t, f.store.DB().Where("direction = ?", models.DirectionOutgoing).Order("id").Find(&msgs).Error)
	return msgs
}

func (f *fixture) form(t *testing.T, name string) *models.Form {
	t.Helper()
	form := &models.Form{CompanyID: f.tenant.CompanyID, Name: name, Active: true}
	require.NoError(t, f.store.DB().Create(form).Error)
	return form
}

func (f *fixture) product(t *testing.T, p models.Product) *models.Product {
	t.Helper()
	p.CompanyID = f.tenant.CompanyID
	p.Active = true
	require.NoError(t, f.store.DB().Create(&p).Error)
	return &p
}

func (f *fixture) rule(t *testing.T, r models.AutoReplyRule) *models.AutoReplyRule {
	t.Helper()
	r.CompanyID = f.tenant.CompanyID
	r.Enabled = true
	require.NoError(t, f.store.Rules().Create(context.Background(), &r))
	return &r
}

func TestMatchRule(t *testing.T) {
	rules := []models.AutoReplyRule{
		{ID: 1, Keyword: "Price", MatchType: models.MatchExact},
		{ID: 2, Keyword: "HELP", MatchType: models.MatchExact, CaseSensitive: true},
		{ID: 3, Keyword: "catalog", MatchType: models.MatchContains},
		{ID: 4, Keyword: "", MatchType: models.MatchContains},
		{ID: 5, Keyword: "price list", MatchType: models.MatchContains},
	}

	tests := []struct {
		name string
		text string
		want uint
	}{
		{"exact ignores case by default", "  price ", 1},
		{"exact requires whole message", "price list please", 5},
		{"case sensitive exact", "HELP", 2},
		{"case sensitive mismatch", "help", 0},
		{"contains", "send me the Catalog", 3},
		{"no match", "hello", 0},
		{"empty keyword never matches", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchRule(rules, tt.text)
			if tt.want == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestMatchRule_FirstMatchWins(t *testing.T) {
	rules := []models.AutoReplyRule{
		{ID: 10, Keyword: "order", MatchType: models.MatchContains},
		{ID: 11, Keyword: "order status", MatchType: models.MatchExact},
	}
	got := MatchRule(rules, "order status")
	require.NotNil(t, got)
	assert.Equal(t, uint(10), got.ID)
}

func TestHandleKeyword_RespectsPosition(t *testing.T) {
	f := newFixture(t)
	f.rule(t, models.AutoReplyRule{Position: 2, Keyword: "hi", MatchType: models.MatchContains, ResponseType: models.ResponseText, ResponseText: "second"})
	f.rule(t, models.AutoReplyRule{Position: 1, Keyword: "hi", MatchType: models.MatchExact, ResponseType: models.ResponseText, ResponseText: "first"})

	f.sender.On("SendText", mock.Anything, f.creds(), customer, "first").Return("wamid.OUT", nil).Once()

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "Hi")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "wamid.OUT", msg.MessageID)
	f.sender.AssertExpectations(t)
}

func TestHandleKeyword_TextReply(t *testing.T) {
	f := newFixture(t)
	rule := f.rule(t, models.AutoReplyRule{Keyword: "hours", ResponseType: models.ResponseText, ResponseText: "We are open 9-6"})

	f.sender.On("SendText", mock.Anything, f.creds(), customer, "We are open 9-6").Return("wamid.OUT1", nil).Once()

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "HOURS")
	require.NoError(t, err)
	require.NotNil(t, msg)

	out := f.outbound(t)
	require.Len(t, out, 1)
	assert.Equal(t, "wamid.OUT1", out[0].MessageID)
	assert.Equal(t, models.StatusSent, out[0].Status)
	assert.Equal(t, customer, out[0].To)
	assert.Equal(t, "pn1", out[0].PhoneNumberID)
	assert.Equal(t, models.TypeText, out[0].Type)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(out[0].Metadata, &meta))
	assert.Equal(t, KindKeyword, meta["auto_reply"])
	assert.EqualValues(t, rule.ID, meta["rule_id"])

	require.Len(t, f.notes.messages, 1)
	f.sender.AssertExpectations(t)
}

func TestHandleKeyword_NoMatchSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.rule(t, models.AutoReplyRule{Keyword: "hours", ResponseType: models.ResponseText, ResponseText: "x"})

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "hello")
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, f.outbound(t))
	f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleKeyword_DisabledRulesIgnored(t *testing.T) {
	f := newFixture(t)
	r := &models.AutoReplyRule{CompanyID: f.tenant.CompanyID, Keyword: "hours", ResponseType: models.ResponseText, ResponseText: "x", Enabled: false}
	require.NoError(t, f.store.Rules().Create(context.Background(), r))

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "hours")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestHandleKeyword_SendFailureStillLogged(t *testing.T) {
	f := newFixture(t)
	f.rule(t, models.AutoReplyRule{Keyword: "hours", ResponseType: models.ResponseText, ResponseText: "We are open"})

	f.sender.On("SendText", mock.Anything, f.creds(), customer, "We are open").Return("", errors.New("provider down")).Once()

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "hours")
	assert.EqualError(t, err, "provider down")
	require.NotNil(t, msg)

	out := f.outbound(t)
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].MessageID, "auto_"))
	assert.Equal(t, models.StatusFailed, out[0].Status)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(out[0].Metadata, &meta))
	assert.Equal(t, "provider down", meta["error"])

	// exactly one provider call, no retry
	f.sender.AssertNumberOfCalls(t, "SendText", 1)
}

func TestHandleKeyword_ProductCard(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, models.Product{Name: "Sofa", Description: "Three seater", Price: 1200, Currency: "INR", RetailerID: "SKU1"})
	f.rule(t, models.AutoReplyRule{Keyword: "sofa", ResponseType: models.ResponseProduct, ProductID: &p.ID})

	want := "*Sofa*\nThree seater\nPrice: INR 1200.00"
	f.sender.On("SendText", mock.Anything, f.creds(), customer, want).Return("wamid.P", nil).Once()

	_, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "sofa")
	require.NoError(t, err)
	f.sender.AssertExpectations(t)

	// with a catalog the card is sent as an interactive product message
	f.tenant.CatalogID = "cat1"
	f.sender.On("SendProduct", mock.Anything, f.creds(), customer, "cat1", "SKU1", want).Return("wamid.P2", nil).Once()
	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "sofa")
	require.NoError(t, err)
	assert.Equal(t, models.TypeInteractive, msg.Type)
	f.sender.AssertExpectations(t)
}

func TestHandleKeyword_MissingProduct(t *testing.T) {
	f := newFixture(t)
	missing := uint(999)
	f.rule(t, models.AutoReplyRule{Keyword: "sofa", ResponseType: models.ResponseProduct, ProductID: &missing})

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "sofa")
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, f.outbound(t))
}

func TestHandleKeyword_AllProductsPrices(t *testing.T) {
	f := newFixture(t)
	f.product(t, models.Product{Name: "Table", Price: 300, Currency: "INR"})
	f.product(t, models.Product{Name: "Chair", Price: 45.5, Currency: "USD"})
	inactive := &models.Product{CompanyID: f.tenant.CompanyID, Name: "Old", Price: 1, Active: false}
	require.NoError(t, f.store.DB().Create(inactive).Error)
	f.rule(t, models.AutoReplyRule{Keyword: "prices", ResponseType: models.ResponseAllProductsPrices, ResponseText: "Here you go"})

	want := "Here you go\n\nOur products:\n1. Chair - USD 45.50\n2. Table - INR 300.00"
	f.sender.On("SendText", mock.Anything, f.creds(), customer, want).Return("wamid.L", nil).Once()

	_, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "prices")
	require.NoError(t, err)
	f.sender.AssertExpectations(t)
}

func TestHandleKeyword_FlowInvocation(t *testing.T) {
	f := newFixture(t)
	f.rule(t, models.AutoReplyRule{Keyword: "book", ResponseType: models.ResponseFlow, FlowID: "777", FlowCTA: "Book now", ResponseText: "Pick a slot"})

	f.sender.On("SendFlow", mock.Anything, f.creds(), customer, mock.MatchedBy(func(fl whatsapp.Flow) bool {
		return fl.FlowID == "777" && fl.CTA == "Book now" && fl.Body == "Pick a slot" && strings.HasPrefix(fl.Token, "777.")
	})).Return("wamid.F", nil).Once()

	msg, err := f.engine.HandleKeyword(context.Background(), f.tenant, customer, "book")
	require.NoError(t, err)
	assert.Equal(t, models.TypeInteractive, msg.Type)
	f.sender.AssertExpectations(t)
}

func TestHandleReferredProduct(t *testing.T) {
	f := newFixture(t)
	form := f.form(t, "Sofa intake")
	p := f.product(t, models.Product{Name: "Sofa", RetailerID: "SKU1", FormID: &form.ID})
	f.product(t, models.Product{Name: "Lamp", RetailerID: "SKU2"})

	var sentBody string
	f.sender.On("SendText", mock.Anything, f.creds(), customer, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { sentBody = args.String(3) }).
		Return("wamid.R", nil).Once()

	msg, err := f.engine.HandleReferredProduct(context.Background(), f.tenant, customer, "SKU1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Contains(t, sentBody, f.engine.FormLink(form.ID, customer, p.ID))
	assert.Contains(t, sentBody, "https://crm.example.com/forms/")

	// a product without a form gets no reply
	msg, err = f.engine.HandleReferredProduct(context.Background(), f.tenant, customer, "SKU2")
	require.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = f.engine.HandleReferredProduct(context.Background(), f.tenant, customer, "UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, msg)

	assert.Len(t, f.outbound(t), 1)
	f.sender.AssertExpectations(t)
}

func TestHandleOrder_DedupsByForm(t *testing.T) {
	f := newFixture(t)
	form := f.form(t, "Order details")
	for _, sku := range []string{"SKU1", "SKU2", "SKU3"} {
		f.product(t, models.Product{Name: "Item " + sku, RetailerID: sku, FormID: &form.ID})
	}

	f.sender.On("SendText", mock.Anything, f.creds(), customer, mock.AnythingOfType("string")).Return("wamid.O", nil).Once()

	sent, err := f.engine.HandleOrder(context.Background(), f.tenant, customer, []string{"SKU1", "SKU2", "SKU3"})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "/forms/")
	assert.Len(t, f.outbound(t), 1)
	f.sender.AssertExpectations(t)
}

func TestHandleOrder_FlowAndLinkPerForm(t *testing.T) {
	f := newFixture(t)
	linkForm := f.form(t, "Delivery form")
	flowForm := f.form(t, "Measurement form")
	f.product(t, models.Product{Name: "Rug", RetailerID: "SKU-RUG", FormID: &linkForm.ID})
	f.product(t, models.Product{Name: "Curtain", RetailerID: "SKU-CUR", FormID: &flowForm.ID})
	f.product(t, models.Product{Name: "Blind", RetailerID: "SKU-BLI", FormID: &flowForm.ID, FlowID: "555"})
	f.product(t, models.Product{Name: "Loose", RetailerID: "SKU-NOFORM"})

	var calls []string
	f.sender.On("SendText", mock.Anything, f.creds(), customer, mock.AnythingOfType("string")).
		Run(func(mock.Arguments) { calls = append(calls, "text") }).
		Return("wamid.T", nil).Once()
	f.sender.On("SendFlow", mock.Anything, f.creds(), customer, mock.MatchedBy(func(fl whatsapp.Flow) bool {
		return fl.FlowID == "555" && fl.Header == "Measurement form" && strings.HasPrefix(fl.Token, "555.")
	})).Run(func(mock.Arguments) { calls = append(calls, "flow") }).Return("wamid.F", nil).Once()

	sent, err := f.engine.HandleOrder(context.Background(), f.tenant, customer,
		[]string{"SKU-CUR", "SKU-RUG", "SKU-BLI", "SKU-NOFORM", "SKU-MISSING"})
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"flow", "text"}, calls, "forms are served in first-seen order")
	f.sender.AssertExpectations(t)
}

func TestHandleOrder_FailureDoesNotStopOtherForms(t *testing.T) {
	f := newFixture(t)
	a := f.form(t, "A")
	b := f.form(t, "B")
	f.product(t, models.Product{Name: "One", RetailerID: "S1", FormID: &a.ID})
	f.product(t, models.Product{Name: "Two", RetailerID: "S2", FormID: &b.ID})

	f.sender.On("SendText", mock.Anything, f.creds(), customer, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "One")
	})).Return("", errors.New("rejected")).Once()
	f.sender.On("SendText", mock.Anything, f.creds(), customer, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "Two")
	})).Return("wamid.2", nil).Once()

	sent, err := f.engine.HandleOrder(context.Background(), f.tenant, customer, []string{"S1", "S2"})
	assert.EqualError(t, err, "rejected")
	require.Len(t, sent, 2)
	assert.Equal(t, models.StatusFailed, sent[0].Status)
	assert.Equal(t, models.StatusSent, sent[1].Status)
	f.sender.AssertExpectations(t)
}

func TestFormLink(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, "https://crm.example.com/", logrus.New())
	assert.Equal(t, "https://crm.example.com/forms/4?phone=919876500001&product=9", e.FormLink(4, "919876500001", 9))
	assert.Equal(t, "https://crm.example.com/forms/4?phone=%2B1555", e.FormLink(4, "+1555", 0))
}

func TestNewFlowToken(t *testing.T) {
	a := NewFlowToken("123")
	b := NewFlowToken("123")
	assert.True(t, strings.HasPrefix(a, "123."))
	assert.NotEqual(t, a, b)
}
