package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message directions
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message statuses
const (
	StatusReceived  = "received"
	StatusRead      = "read"
	StatusReplied   = "replied"
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Message content types
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeDocument    = "document"
	TypeAudio       = "audio"
	TypeVideo       = "video"
	TypeSticker     = "sticker"
	TypeLocation    = "location"
	TypeContacts    = "contacts"
	TypeOrder       = "order"
	TypeInteractive = "interactive"
	TypeUnknown     = "unknown"
)

// Company is the tenant boundary.
type Company struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:varchar(255);not null" json:"name"`
	Accounts  []WhatsAppAccount `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE;" json:"accounts,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Company) TableName() string {
	return "companies"
}

// WhatsAppAccount maps one business phone number to its owning company.
// PhoneNumberID is the lookup key for every inbound webhook.
type WhatsAppAccount struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	CompanyID          uint      `gorm:"index;not null" json:"company_id"`
	PhoneNumberID      string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"phone_number_id"`
	DisplayPhoneNumber string    `gorm:"type:varchar(32)" json:"display_phone_number"`
	BusinessAccountID  string    `gorm:"type:varchar(64)" json:"business_account_id"`
	CatalogID          string    `gorm:"type:varchar(64)" json:"catalog_id"`
	AccessToken        string    `gorm:"type:text" json:"-"`
	Label              string    `gorm:"type:varchar(255)" json:"label"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhatsAppAccount) TableName() string {
	return "whatsapp_accounts"
}

// Message represents one inbound or outbound WhatsApp interaction
type Message struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	MessageID     string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"message_id"`
	CompanyID     uint           `gorm:"index;not null" json:"company_id"`
	PhoneNumberID string         `gorm:"type:varchar(64);index" json:"phone_number_id"`
	Direction     string         `gorm:"type:varchar(10);not null" json:"direction"`
	From          string         `gorm:"type:varchar(32);index" json:"from"`
	To            string         `gorm:"type:varchar(32);index" json:"to"`
	ContactName   string         `gorm:"type:varchar(255)" json:"contact_name"`
	Type          string         `gorm:"type:varchar(20)" json:"type"`
	Body          string         `gorm:"type:text" json:"body"`
	MediaID       string         `gorm:"type:varchar(255)" json:"media_id,omitempty"`
	Status        string         `gorm:"type:varchar(20)" json:"status"`
	Metadata      datatypes.JSON `json:"metadata,omitempty"`
	Timestamp     time.Time      `gorm:"index" json:"timestamp"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Counterparty is the contact's phone: the sender of incoming messages and
// the recipient of outgoing ones.
func (m Message) Counterparty() string {
	if m.Direction == DirectionOutgoing {
		return m.To
	}
	return m.From
}

// Pipeline stages
const (
	StageNew         = "new"
	StageContacted   = "contacted"
	StageInterested  = "interested"
	StageNegotiation = "negotiation"
	StageConverted   = "converted"
	StageLost        = "lost"
)

// Lead sources
const (
	SourceWhatsAppAd = "whatsapp_ad"
	SourceManual     = "manual"
	SourceImport     = "import"
)

// Lead is a prospect belonging to a company. Phone is unique per company
// only for ad-originated leads (partial index idx_leads_ad_phone).
type Lead struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CompanyID         uint           `gorm:"not null;index:idx_leads_company_phone,priority:1;uniqueIndex:idx_leads_ad_phone,priority:1,where:source = 'whatsapp_ad'" json:"company_id"`
	Name              string         `gorm:"type:varchar(255)" json:"name"`
	Phone             string         `gorm:"type:varchar(32);not null;index:idx_leads_company_phone,priority:2;uniqueIndex:idx_leads_ad_phone,priority:2,where:source = 'whatsapp_ad'" json:"phone"`
	Email             string         `gorm:"type:varchar(255)" json:"email,omitempty"`
	Stage             string         `gorm:"type:varchar(20);default:'new'" json:"stage"`
	Status            string         `gorm:"type:varchar(20);default:'new'" json:"status"`
	Source            string         `gorm:"type:varchar(32)" json:"source"`
	AssignedWorkerID  *uint          `json:"assigned_worker_id,omitempty"`
	PhoneNumberID     string         `gorm:"type:varchar(64)" json:"phone_number_id"`
	Priority          string         `gorm:"type:varchar(10);default:'medium'" json:"priority"`
	Value             float64        `json:"value"`
	Referral          datatypes.JSON `json:"referral,omitempty"`
	LastInteractionAt *time.Time     `json:"last_interaction_at,omitempty"`
	Notes             []LeadNote     `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE;" json:"notes,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

const (
	NoteKindWhatsApp = "whatsapp_message"
	NoteKindComment  = "comment"
)

// LeadNote is one append-only entry of a lead's interaction timeline
type LeadNote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LeadID    uint      `gorm:"index;not null" json:"lead_id"`
	Kind      string    `gorm:"type:varchar(32)" json:"kind"`
	Body      string    `gorm:"type:text" json:"body"`
	MessageID string    `gorm:"type:varchar(255)" json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (LeadNote) TableName() string {
	return "lead_notes"
}

// Form is an intake form hosted by the CRM frontend
type Form struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Form) TableName() string {
	return "forms"
}

// Product is a catalog item. RetailerID matches Meta's product_retailer_id.
type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CompanyID   uint      `gorm:"not null;uniqueIndex:idx_products_retailer,priority:1,where:retailer_id <> ''" json:"company_id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Price       float64   `json:"price"`
	Currency    string    `gorm:"type:varchar(8);default:'INR'" json:"currency"`
	RetailerID  string    `gorm:"type:varchar(255);uniqueIndex:idx_products_retailer,priority:2,where:retailer_id <> ''" json:"retailer_id"`
	FormID      *uint     `gorm:"index" json:"form_id,omitempty"`
	Form        *Form     `gorm:"foreignKey:FormID" json:"form,omitempty"`
	FlowID      string    `gorm:"type:varchar(64);index" json:"flow_id,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// Flow response statuses
const (
	FlowStatusDraft      = "draft"
	FlowStatusInProgress = "in_progress"
	FlowStatusCompleted  = "completed"
	FlowStatusError      = "error"
)

// FlowField is one top-level answer of a native flow submission
type FlowField struct {
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
	FieldType  string `json:"fieldType"`
}

// FlowResponse stores a native flow submission. MessageID dedups redeliveries.
type FlowResponse struct {
	ID            uint                          `gorm:"primaryKey" json:"id"`
	CompanyID     uint                          `gorm:"index;not null" json:"company_id"`
	MessageID     string                        `gorm:"type:varchar(255);not null;uniqueIndex" json:"message_id"`
	FlowID        string                        `gorm:"type:varchar(64);index" json:"flow_id"`
	FlowToken     string                        `gorm:"type:varchar(255);index" json:"flow_token"`
	Phone         string                        `gorm:"type:varchar(32);index" json:"phone"`
	PhoneNumberID string                        `gorm:"type:varchar(64)" json:"phone_number_id"`
	ResponseData  datatypes.JSON                `json:"response_data"`
	ParsedFields  datatypes.JSONSlice[FlowField] `json:"parsed_fields"`
	Status        string                        `gorm:"type:varchar(20)" json:"status"`
	ProductID     *uint                         `json:"product_id,omitempty"`
	LeadID        *uint                         `json:"lead_id,omitempty"`
	CreatedAt     time.Time                     `gorm:"autoCreateTime" json:"created_at"`
}

func (FlowResponse) TableName() string {
	return "flow_responses"
}

// Auto-reply match types
const (
	MatchExact    = "exact"
	MatchContains = "contains"
)

// Auto-reply response types
const (
	ResponseText              = "text"
	ResponseProduct           = "product"
	ResponseAllProductsPrices = "all_products_prices"
	ResponseFlow              = "flow"
)

// AutoReplyRule maps an inbound keyword to a reply. Rules are evaluated in
// Position order and the first match wins.
type AutoReplyRule struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CompanyID     uint      `gorm:"index;not null" json:"company_id"`
	Position      int       `gorm:"default:0" json:"position"`
	Keyword       string    `gorm:"type:varchar(255);not null" json:"keyword"`
	MatchType     string    `gorm:"type:varchar(20);default:'exact'" json:"match_type"`
	CaseSensitive bool      `json:"case_sensitive"`
	ResponseType  string    `gorm:"type:varchar(32);not null" json:"response_type"`
	ResponseText  string    `gorm:"type:text" json:"response_text"`
	ProductID     *uint     `json:"product_id,omitempty"`
	FlowID        string    `gorm:"type:varchar(64)" json:"flow_id,omitempty"`
	FlowCTA       string    `gorm:"type:varchar(64)" json:"flow_cta,omitempty"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutoReplyRule) TableName() string {
	return "auto_reply_rules"
}

// All lists every model for AutoMigrate and data copies, parents first.
func All() []interface{} {
	return []interface{}{
		&Company{},
		&WhatsAppAccount{},
		&Form{},
		&Product{},
		&Lead{},
		&LeadNote{},
		&Message{},
		&FlowResponse{},
		&AutoReplyRule{},
	}
}
