package store

import (
	"context"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"
)

// RuleStore holds tenant auto-reply configuration.
type RuleStore struct {
	*Store
}

// Enabled returns the tenant's enabled rules in evaluation order.
func (s *RuleStore) Enabled(ctx context.Context, companyID uint) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND enabled = ?", companyID, true).
		Order("position ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, apperrors.NewDatabaseError("enabled rules", err)
	}
	return rules, nil
}

func (s *RuleStore) List(ctx context.Context, companyID uint) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("position ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, apperrors.NewDatabaseError("rule list", err)
	}
	return rules, nil
}

func (s *RuleStore) Create(ctx context.Context, rule *models.AutoReplyRule) error {
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return apperrors.NewDatabaseError("rule create", err)
	}
	return nil
}

// Delete removes one of the tenant's rules and reports whether it existed.
func (s *RuleStore) Delete(ctx context.Context, companyID, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyID, id).
		Delete(&models.AutoReplyRule{})
	if res.Error != nil {
		return false, apperrors.NewDatabaseError("rule delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}
