package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/privacy"
	"whatsapp-crm/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "https://graph.facebook.com/v19.0"
	// FlowMessageVersion is the interactive flow message schema version
	FlowMessageVersion = "3"
)

// Credentials identify the business number a message is sent from.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to,omitempty"`
	Type             string          `json:"type,omitempty"`
	Text             *TextObj        `json:"text,omitempty"`
	Interactive      *InteractiveObj `json:"interactive,omitempty"`
	// read receipts
	Status    string `json:"status,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type InteractiveObj struct {
	Type   string     `json:"type"`
	Header *HeaderObj `json:"header,omitempty"`
	Body   *BodyObj   `json:"body,omitempty"`
	Footer *FooterObj `json:"footer,omitempty"`
	Action ActionObj  `json:"action"`
}

type HeaderObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type BodyObj struct {
	Text string `json:"text"`
}

type FooterObj struct {
	Text string `json:"text"`
}

type ActionObj struct {
	CatalogID         string `json:"catalog_id,omitempty"`
	ProductRetailerID string `json:"product_retailer_id,omitempty"`
	// Flow specific fields
	Name       string      `json:"name,omitempty"`
	Parameters *FlowParams `json:"parameters,omitempty"`
}

type FlowParams struct {
	FlowMessageVersion string             `json:"flow_message_version"`
	FlowToken          string             `json:"flow_token"`
	FlowID             string             `json:"flow_id"`
	FlowCTA            string             `json:"flow_cta"`
	FlowAction         string             `json:"flow_action,omitempty"`
	FlowActionPayload  *FlowActionPayload `json:"flow_action_payload,omitempty"`
}

type FlowActionPayload struct {
	Screen string      `json:"screen"`
	Data   interface{} `json:"data,omitempty"`
}

// Flow describes a native flow invocation.
type Flow struct {
	FlowID string
	Token  string
	CTA    string
	Header string
	Body   string
	Screen string
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, creds Credentials, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode request")
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewAPIError(url, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewAPIError(url, resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		detail := string(respBody)
		var gErr graphError
		if json.Unmarshal(respBody, &gErr) == nil && gErr.Error.Message != "" {
			detail = fmt.Sprintf("%s (code %d)", gErr.Error.Message, gErr.Error.Code)
		}
		return respBody, apperrors.NewAPIError(url, resp.StatusCode,
			fmt.Errorf("API error: %s - %s", resp.Status, detail))
	}

	return respBody, nil
}

// --- Messaging Methods ---

// SendRawMessage posts msg from the credentials' business number and returns
// the provider-assigned message ID.
func (c *Client) SendRawMessage(ctx context.Context, creds Credentials, msg GenericMessage) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "whatsapp.send",
		attribute.String("phone_number_id", creds.PhoneNumberID),
		attribute.String("message.type", msg.Type),
	)
	defer span.End()

	msg.MessagingProduct = "whatsapp"
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneNumberID)
	respBody, err := c.sendRequest(ctx, creds, http.MethodPost, url, msg)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"to":    privacy.MaskPhoneNumber(msg.To),
			"type":  msg.Type,
			"token": privacy.MaskToken(creds.AccessToken),
		}).Warn("WhatsApp send failed")
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Messages) == 0 {
		return "", apperrors.New(apperrors.ErrCodeWhatsAppAPI, "send response carried no message id").
			WithContext("endpoint", url)
	}
	return parsed.Messages[0].ID, nil
}

func (c *Client) SendText(ctx context.Context, creds Credentials, to, body string) (string, error) {
	return c.SendRawMessage(ctx, creds, GenericMessage{
		RecipientType: "individual",
		To:            to,
		Type:          "text",
		Text:          &TextObj{Body: body, PreviewUrl: strings.Contains(body, "http")},
	})
}

// SendFlow invokes a published native flow.
func (c *Client) SendFlow(ctx context.Context, creds Credentials, to string, flow Flow) (string, error) {
	interactive := &InteractiveObj{
		Type: "flow",
		Body: &BodyObj{Text: flow.Body},
		Action: ActionObj{
			Name: "flow",
			Parameters: &FlowParams{
				FlowMessageVersion: FlowMessageVersion,
				FlowToken:          flow.Token,
				FlowID:             flow.FlowID,
				FlowCTA:            flow.CTA,
				FlowAction:         "navigate",
			},
		},
	}
	if flow.Header != "" {
		interactive.Header = &HeaderObj{Type: "text", Text: flow.Header}
	}
	if flow.Screen != "" {
		interactive.Action.Parameters.FlowActionPayload = &FlowActionPayload{Screen: flow.Screen}
	}
	return c.SendRawMessage(ctx, creds, GenericMessage{
		RecipientType: "individual",
		To:            to,
		Type:          "interactive",
		Interactive:   interactive,
	})
}

// SendProduct sends a single catalog product card.
func (c *Client) SendProduct(ctx context.Context, creds Credentials, to, catalogID, retailerID, body string) (string, error) {
	interactive := &InteractiveObj{
		Type: "product",
		Action: ActionObj{
			CatalogID:         catalogID,
			ProductRetailerID: retailerID,
		},
	}
	if body != "" {
		interactive.Body = &BodyObj{Text: body}
	}
	return c.SendRawMessage(ctx, creds, GenericMessage{
		RecipientType: "individual",
		To:            to,
		Type:          "interactive",
		Interactive:   interactive,
	})
}

// MarkRead sends a read receipt for an inbound message.
func (c *Client) MarkRead(ctx context.Context, creds Credentials, messageID string) error {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneNumberID)
	_, err := c.sendRequest(ctx, creds, http.MethodPost, url, GenericMessage{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	})
	return err
}
