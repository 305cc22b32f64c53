package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-crm/internal/models"
	wa "whatsapp-crm/pkg/models"
)

// Event is one classified item of a webhook envelope: *InboundMessage or
// *StatusUpdate.
type Event interface {
	isEvent()
}

// InboundMessage is a message a contact sent to a business number. The
// optional subtype fields are not exclusive: an order can carry a referral.
type InboundMessage struct {
	PhoneNumberID      string
	DisplayPhoneNumber string
	From               string
	ContactName        string
	MessageID          string
	Type               string
	Body               string
	MediaID            string
	Timestamp          time.Time
	Raw                json.RawMessage

	FlowReply       *FlowReply
	Order           *Order
	ReferredProduct *wa.ReferredProduct
	Referral        *wa.Referral
}

// FlowReply is a native flow submission (interactive nfm_reply).
type FlowReply struct {
	ResponseJSON string
	Body         string
	Name         string
}

type Order struct {
	CatalogID   string
	RetailerIDs []string
	Items       []wa.OrderItem
}

// StatusUpdate reports delivery progress of an outbound message.
type StatusUpdate struct {
	PhoneNumberID string
	MessageID     string
	Status        string
	RecipientID   string
	Timestamp     time.Time
	Errors        []wa.StatusError
}

func (*InboundMessage) isEvent() {}
func (*StatusUpdate) isEvent()   {}

// IsText reports whether the message carries free text a keyword rule can
// match.
func (m *InboundMessage) IsText() bool {
	return m.Type == models.TypeText && m.Body != ""
}

// HasReferral reports whether the message carries ad attribution.
func (m *InboundMessage) HasReferral() bool {
	r := m.Referral
	return r != nil && (r.SourceURL != "" || r.SourceID != "" || r.CtwaClid != "" || r.Headline != "")
}

// Classify flattens every entry and change of the envelope into events, in
// delivery order. Messages precede statuses within one change.
func Classify(payload *wa.WebhookPayload) []Event {
	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := contactNames(value.Contacts)

			for i := range value.Messages {
				events = append(events, classifyMessage(value.Metadata, names, &value.Messages[i]))
			}
			for _, st := range value.Statuses {
				events = append(events, &StatusUpdate{
					PhoneNumberID: value.Metadata.PhoneNumberID,
					MessageID:     st.ID,
					Status:        st.Status,
					RecipientID:   st.RecipientID,
					Timestamp:     parseTimestamp(st.Timestamp),
					Errors:        st.Errors,
				})
			}
		}
	}
	return events
}

func contactNames(contacts []wa.WebhookContact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func classifyMessage(meta wa.Metadata, names map[string]string, msg *wa.WebhookMessage) *InboundMessage {
	ev := &InboundMessage{
		PhoneNumberID:      meta.PhoneNumberID,
		DisplayPhoneNumber: meta.DisplayPhoneNumber,
		From:               msg.From,
		ContactName:        names[msg.From],
		MessageID:          msg.ID,
		Timestamp:          parseTimestamp(msg.Timestamp),
		Referral:           msg.Referral,
	}
	if ev.ContactName == "" && len(names) == 1 {
		// single-contact changes sometimes omit wa_id
		for _, n := range names {
			ev.ContactName = n
		}
	}
	if raw, err := json.Marshal(msg); err == nil {
		ev.Raw = raw
	}
	if msg.Context != nil && msg.Context.ReferredProduct != nil && msg.Context.ReferredProduct.ProductRetailerID != "" {
		ev.ReferredProduct = msg.Context.ReferredProduct
	}

	switch msg.Type {
	case "text":
		ev.Type = models.TypeText
		if msg.Text != nil {
			ev.Body = msg.Text.Body
		}
	case "image", "video", "audio", "document", "sticker":
		ev.Type = msg.Type
		ev.MediaID, ev.Body = mediaSummary(msg)
	case "location":
		ev.Type = models.TypeLocation
		if loc := msg.Location; loc != nil {
			parts := []string{"[location]"}
			if loc.Name != "" {
				parts = append(parts, loc.Name)
			}
			parts = append(parts, fmt.Sprintf("%g,%g", loc.Latitude, loc.Longitude))
			ev.Body = strings.Join(parts, " ")
		}
	case "contacts":
		ev.Type = models.TypeContacts
		ev.Body = fmt.Sprintf("[contacts] %d shared", len(msg.Contacts))
	case "order":
		ev.Type = models.TypeOrder
		if o := msg.Order; o != nil {
			order := &Order{CatalogID: o.CatalogID, Items: o.ProductItems}
			for _, item := range o.ProductItems {
				if item.ProductRetailerID != "" {
					order.RetailerIDs = append(order.RetailerIDs, item.ProductRetailerID)
				}
			}
			ev.Order = order
			ev.Body = fmt.Sprintf("[order] %d item(s)", len(o.ProductItems))
			if o.Text != "" {
				ev.Body += " " + o.Text
			}
		}
	case "interactive":
		ev.Type = models.TypeInteractive
		if in := msg.Interactive; in != nil {
			switch {
			case in.NfmReply != nil:
				ev.FlowReply = &FlowReply{
					ResponseJSON: in.NfmReply.ResponseJSON,
					Body:         in.NfmReply.Body,
					Name:         in.NfmReply.Name,
				}
				ev.Body = "[flow response]"
			case in.ButtonReply != nil:
				ev.Body = in.ButtonReply.Title
			case in.ListReply != nil:
				ev.Body = in.ListReply.Title
			}
		}
	case "button":
		ev.Type = models.TypeInteractive
		if msg.Button != nil {
			ev.Body = msg.Button.Text
		}
	default:
		ev.Type = models.TypeUnknown
		ev.Body = "[" + msg.Type + "]"
	}
	return ev
}

func mediaSummary(msg *wa.WebhookMessage) (mediaID, body string) {
	var media *wa.MediaMessage
	switch msg.Type {
	case "image":
		media = msg.Image
	case "video":
		media = msg.Video
	case "audio":
		media = msg.Audio
	case "document":
		media = msg.Document
	case "sticker":
		media = msg.Sticker
	}
	body = "[" + msg.Type + "]"
	if media == nil {
		return "", body
	}
	switch {
	case media.Caption != "":
		body += " " + media.Caption
	case media.Filename != "":
		body += " " + media.Filename
	}
	return media.ID, body
}

// parseTimestamp reads the provider's unix-seconds string.
func parseTimestamp(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
