package privacy

import "strings"

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+919876543210" -> "+********3210"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskMessageID keeps the last 8 characters of a provider message ID.
// Cloud API IDs ("wamid.HBgM...") embed the contact's number in base64.
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	if strings.HasPrefix(messageID, "wamid.") {
		return "wamid." + maskString(strings.TrimPrefix(messageID, "wamid."), 8)
	}
	return maskString(messageID, 8)
}

// MaskToken masks credentials for logging (first 3 and last 3 chars).
func MaskToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	if len(token) <= 6 {
		return "***"
	}
	return token[:3] + "***" + token[len(token)-3:]
}

func maskString(s string, visible int) string {
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
