package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"whatsapp-crm/internal/models"

	"gorm.io/datatypes"
)

// correlation keys carried in every flow response; not user answers
var flowCorrelationKeys = map[string]bool{
	"flow_token": true,
	"flow_id":    true,
}

// ParsedFlow is the decoded form of an nfm_reply response_json.
type ParsedFlow struct {
	FlowID string
	Token  string
	Data   datatypes.JSON
	Fields []models.FlowField
	Status string
}

// ParseFlowResponse decodes an embedded flow response. Malformed input is
// kept as {"raw": ...} with status error instead of being dropped.
func ParseFlowResponse(responseJSON string) ParsedFlow {
	dec := json.NewDecoder(strings.NewReader(responseJSON))
	dec.UseNumber()

	var data map[string]interface{}
	err := dec.Decode(&data)
	if err != nil || data == nil || dec.More() {
		raw, _ := json.Marshal(map[string]string{"raw": responseJSON})
		return ParsedFlow{Data: raw, Status: models.FlowStatusError}
	}

	parsed := ParsedFlow{
		Data:   datatypes.JSON(compactJSON(responseJSON)),
		Status: models.FlowStatusCompleted,
		Fields: []models.FlowField{},
	}
	if tok, ok := data["flow_token"].(string); ok {
		parsed.Token = tok
	}
	switch id := data["flow_id"].(type) {
	case string:
		parsed.FlowID = id
	case json.Number:
		parsed.FlowID = id.String()
	}
	if parsed.FlowID == "" {
		parsed.FlowID = flowIDFromToken(parsed.Token)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		if !flowCorrelationKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, kind := describeValue(data[k])
		parsed.Fields = append(parsed.Fields, models.FlowField{FieldName: k, FieldValue: value, FieldType: kind})
	}
	return parsed
}

// flowIDFromToken reads the <flowID>.<nonce> tokens issued for outbound flows.
func flowIDFromToken(token string) string {
	if i := strings.Index(token, "."); i > 0 {
		return token[:i]
	}
	return ""
}

func describeValue(v interface{}) (string, string) {
	switch val := v.(type) {
	case nil:
		return "", "null"
	case string:
		return val, "string"
	case json.Number:
		return val.String(), "number"
	case bool:
		return fmt.Sprint(val), "boolean"
	case []interface{}:
		b, _ := json.Marshal(val)
		return string(b), "array"
	default:
		b, _ := json.Marshal(val)
		return string(b), "object"
	}
}

func compactJSON(s string) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return []byte(s)
	}
	return buf.Bytes()
}
