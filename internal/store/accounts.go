package store

import (
	"context"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"
)

// AccountStore reads the business number to tenant index.
type AccountStore struct {
	*Store
}

// FindByPhoneNumberID returns the account registered for a business phone
// number ID, or nil when no tenant owns it.
func (s *AccountStore) FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppAccount, error) {
	var account models.WhatsAppAccount
	err := s.db.WithContext(ctx).Where("phone_number_id = ?", phoneNumberID).First(&account).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("account lookup", err)
	}
	return &account, nil
}

func (s *AccountStore) Create(ctx context.Context, account *models.WhatsAppAccount) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return apperrors.NewDatabaseError("account create", err)
	}
	return nil
}

func (s *AccountStore) ListByCompany(ctx context.Context, companyID uint) ([]models.WhatsAppAccount, error) {
	var accounts []models.WhatsAppAccount
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, apperrors.NewDatabaseError("account list", err)
	}
	return accounts, nil
}
