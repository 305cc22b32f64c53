package store

import (
	"context"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"

	"gorm.io/gorm/clause"
)

type FlowResponseStore struct {
	*Store
}

// Insert stores a flow submission once per provider message ID.
func (s *FlowResponseStore) Insert(ctx context.Context, resp *models.FlowResponse) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(resp)
	if res.Error != nil {
		return false, apperrors.NewDatabaseError("flow response insert", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *FlowResponseStore) GetByMessageID(ctx context.Context, messageID string) (*models.FlowResponse, error) {
	var resp models.FlowResponse
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&resp).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("flow response get", err)
	}
	return &resp, nil
}
