// Package conversation folds stored messages into per-contact threads.
package conversation

import (
	"sort"
	"time"

	"whatsapp-crm/internal/models"
)

// Key identifies a thread. One contact writing to two business numbers has
// two threads.
type Key struct {
	Phone         string `json:"phone"`
	PhoneNumberID string `json:"phone_number_id"`
}

type Thread struct {
	Key
	DisplayName   string           `json:"display_name"`
	Messages      []models.Message `json:"messages"`
	UnreadCount   int              `json:"unread_count"`
	LastMessage   *models.Message  `json:"last_message"`
	LastTimestamp time.Time        `json:"last_timestamp"`
}

// Group builds threads from msgs, which may arrive in any order. leadNames
// maps phone to a stored lead name and may be nil. The input slice is not
// modified, and equal input always yields equal output.
func Group(msgs []models.Message, leadNames map[string]string) []Thread {
	byKey := make(map[Key][]models.Message)
	for _, m := range msgs {
		k := Key{Phone: m.Counterparty(), PhoneNumberID: m.PhoneNumberID}
		byKey[k] = append(byKey[k], m)
	}

	threads := make([]Thread, 0, len(byKey))
	for k, list := range byKey {
		sort.SliceStable(list, func(i, j int) bool {
			return messageLess(list[i], list[j])
		})

		t := Thread{Key: k, Messages: list}
		for _, m := range list {
			if isUnread(m) {
				t.UnreadCount++
			}
		}
		last := &t.Messages[len(t.Messages)-1]
		t.LastMessage = last
		t.LastTimestamp = last.Timestamp
		t.DisplayName = displayName(list, leadNames[k.Phone], k.Phone)
		threads = append(threads, t)
	}

	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if !a.LastTimestamp.Equal(b.LastTimestamp) {
			return a.LastTimestamp.After(b.LastTimestamp)
		}
		if a.Phone != b.Phone {
			return a.Phone < b.Phone
		}
		return a.PhoneNumberID < b.PhoneNumberID
	})
	return threads
}

// messageLess orders by timestamp with the store ID and provider ID as
// tie-breakers.
func messageLess(a, b models.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.MessageID < b.MessageID
}

func isUnread(m models.Message) bool {
	return m.Direction == models.DirectionIncoming &&
		m.Status != models.StatusRead &&
		m.Status != models.StatusReplied
}

// displayName prefers the newest name the contact sent, then the lead name.
func displayName(sorted []models.Message, leadName, phone string) string {
	for i := len(sorted) - 1; i >= 0; i-- {
		m := sorted[i]
		if m.Direction == models.DirectionIncoming && m.ContactName != "" {
			return m.ContactName
		}
	}
	if leadName != "" {
		return leadName
	}
	return phone
}
