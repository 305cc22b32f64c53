package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatsapp-crm/internal/models"
	wa "whatsapp-crm/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	payloads []*wa.WebhookPayload
}

func (r *recordingDispatcher) Dispatch(_ context.Context, p *wa.WebhookPayload) {
	r.payloads = append(r.payloads, p)
}

const validBody = `{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{"metadata":{"phone_number_id":"pn1"},"messages":[{"from":"111","id":"m1","timestamp":"1767225600","type":"text","text":{"body":"hi"}}]}}]}]}`

func newRouter(appSecret string) (*gin.Engine, *recordingDispatcher) {
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	d := &recordingDispatcher{}
	h := NewHandler(d, "verify-me", appSecret, logger)
	r := gin.New()
	h.RegisterRoutes(r)
	return r, d
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerifyWebhook(t *testing.T) {
	r, _ := newRouter("")

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"hub params", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusOK, "42"},
		{"bare params", "mode=subscribe&verify_token=verify-me&challenge=abc", http.StatusOK, "abc"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusForbidden, ""},
		{"missing params", "hub.challenge=42", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestVerifyWebhook_UnsetTokenRejectsEverything(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	r := gin.New()
	NewHandler(&recordingDispatcher{}, "", "", logger).RegisterRoutes(r)

	w := do(r, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=x&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleWebhook_StatusCodes(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantCode     int
		wantDispatch bool
	}{
		{"recognized envelope", validBody, http.StatusOK, true},
		{"status only envelope", `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"x","status":"read"}]}}]}]}`, http.StatusOK, true},
		{"invalid json", `{"object":`, http.StatusBadRequest, false},
		{"other object", `{"object":"page","entry":[{}]}`, http.StatusNotFound, false},
		{"no entries", `{"object":"whatsapp_business_account","entry":[]}`, http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, d := newRouter("")
			w := do(r, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantDispatch {
				require.Len(t, d.payloads, 1)
				assert.Equal(t, "EVENT_RECEIVED", w.Body.String())
			} else {
				assert.Empty(t, d.payloads)
			}
		})
	}
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhook_Signature(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"valid", sign("app-secret", validBody), http.StatusOK},
		{"wrong secret", sign("other", validBody), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"bad prefix", "sha1=abcd", http.StatusUnauthorized},
		{"bad hex", "sha256=zz", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, d := newRouter("app-secret")
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(validBody))
			if tt.header != "" {
				req.Header.Set("X-Hub-Signature-256", tt.header)
			}
			w := do(r, req)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Len(t, d.payloads, 1)
			} else {
				assert.Empty(t, d.payloads)
			}
		})
	}
}

func TestHandleWebhook_EndToEndDuplicateDelivery(t *testing.T) {
	f := newDispatchFixture(t)
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	r := gin.New()
	NewHandler(f.dispatcher, "verify-me", "", logger).RegisterRoutes(r)

	for i := 0; i < 2; i++ {
		w := do(r, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(validBody)))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(1), f.count(t, &models.Message{}, ""))
	}
}
