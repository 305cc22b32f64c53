package store

import (
	"context"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"

	"gorm.io/gorm/clause"
)

// MessageStore persists inbound and outbound messages keyed by provider ID.
type MessageStore struct {
	*Store
}

// Exists reports whether a message with this provider ID is already stored.
func (s *MessageStore) Exists(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	if err != nil {
		return false, apperrors.NewDatabaseError("message lookup", err)
	}
	return count > 0, nil
}

// Insert stores msg unless its provider ID is already present. It reports
// false when a concurrent delivery of the same ID got there first.
func (s *MessageStore) Insert(ctx context.Context, msg *models.Message) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(msg)
	if res.Error != nil {
		return false, apperrors.NewDatabaseError("message insert", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatus overwrites the status of one message. A missing message is
// reported as false with no error.
func (s *MessageStore) UpdateStatus(ctx context.Context, messageID, status string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ?", messageID).
		Update("status", status)
	if res.Error != nil {
		return false, apperrors.NewDatabaseError("message status update", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *MessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("message get", err)
	}
	return &msg, nil
}

// ListByCompany returns a tenant's messages, optionally narrowed to one
// business number. Order is unspecified; the grouper sorts.
func (s *MessageStore) ListByCompany(ctx context.Context, companyID uint, phoneNumberID string) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if phoneNumberID != "" {
		q = q.Where("phone_number_id = ?", phoneNumberID)
	}
	var msgs []models.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, apperrors.NewDatabaseError("message list", err)
	}
	return msgs, nil
}

// MarkThreadRead sets every unread incoming message from phone on the given
// business number to read.
func (s *MessageStore) MarkThreadRead(ctx context.Context, companyID uint, phoneNumberID, phone string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("company_id = ? AND phone_number_id = ? AND direction = ? AND \"from\" = ?",
			companyID, phoneNumberID, models.DirectionIncoming, phone).
		Where("status NOT IN ?", []string{models.StatusRead, models.StatusReplied}).
		Update("status", models.StatusRead)
	if res.Error != nil {
		return 0, apperrors.NewDatabaseError("thread mark read", res.Error)
	}
	return res.RowsAffected, nil
}

// LatestIncoming returns the newest message phone sent to the business number.
func (s *MessageStore) LatestIncoming(ctx context.Context, companyID uint, phoneNumberID, phone string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND phone_number_id = ? AND direction = ? AND \"from\" = ?",
			companyID, phoneNumberID, models.DirectionIncoming, phone).
		Order(`"timestamp" DESC, id DESC`).
		First(&msg).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("latest incoming message", err)
	}
	return &msg, nil
}
