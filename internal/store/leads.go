package store

import (
	"context"
	"time"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"

	"gorm.io/gorm/clause"
)

// LeadStore handles leads and their note timeline.
type LeadStore struct {
	*Store
}

// FindByPhone returns the oldest lead for phone within the company, or nil.
func (s *LeadStore) FindByPhone(ctx context.Context, companyID uint, phone string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND phone = ?", companyID, phone).
		Order("id ASC").
		First(&lead).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("lead lookup", err)
	}
	return &lead, nil
}

func (s *LeadStore) Create(ctx context.Context, lead *models.Lead) error {
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return apperrors.NewDatabaseError("lead create", err)
	}
	return nil
}

// CreateAdLead inserts an ad-originated lead as a single conditional write
// against idx_leads_ad_phone. When another delivery already created the lead
// the stored row is returned with created=false.
func (s *LeadStore) CreateAdLead(ctx context.Context, lead *models.Lead) (stored *models.Lead, created bool, err error) {
	lead.Source = models.SourceWhatsAppAd
	if lead.Stage == "" {
		lead.Stage = models.StageNew
	}
	if lead.Status == "" {
		lead.Status = lead.Stage
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(lead)
	if res.Error != nil {
		return nil, false, apperrors.NewDatabaseError("ad lead create", res.Error)
	}
	if res.RowsAffected > 0 {
		return lead, true, nil
	}

	var existing models.Lead
	err = s.db.WithContext(ctx).
		Where("company_id = ? AND phone = ? AND source = ?", lead.CompanyID, lead.Phone, models.SourceWhatsAppAd).
		First(&existing).Error
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("ad lead reload", err)
	}
	return &existing, false, nil
}

func (s *LeadStore) AppendNote(ctx context.Context, note *models.LeadNote) error {
	if err := s.db.WithContext(ctx).Create(note).Error; err != nil {
		return apperrors.NewDatabaseError("lead note append", err)
	}
	return nil
}

// Touch bumps the last interaction time and fills PhoneNumberID and Name
// when the lead has none yet.
func (s *LeadStore) Touch(ctx context.Context, lead *models.Lead, at time.Time, phoneNumberID, name string) error {
	updates := map[string]interface{}{"last_interaction_at": at}
	if lead.PhoneNumberID == "" && phoneNumberID != "" {
		updates["phone_number_id"] = phoneNumberID
	}
	if lead.Name == "" && name != "" {
		updates["name"] = name
	}
	if err := s.db.WithContext(ctx).Model(lead).Updates(updates).Error; err != nil {
		return apperrors.NewDatabaseError("lead touch", err)
	}
	return nil
}

func (s *LeadStore) Notes(ctx context.Context, leadID uint) ([]models.LeadNote, error) {
	var notes []models.LeadNote
	if err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("id ASC").Find(&notes).Error; err != nil {
		return nil, apperrors.NewDatabaseError("lead notes", err)
	}
	return notes, nil
}

// NamesByPhone maps phone to lead name for every named lead of the company.
func (s *LeadStore) NamesByPhone(ctx context.Context, companyID uint) (map[string]string, error) {
	var leads []models.Lead
	err := s.db.WithContext(ctx).
		Select("phone", "name").
		Where("company_id = ? AND name <> ''", companyID).
		Order("id DESC").
		Find(&leads).Error
	if err != nil {
		return nil, apperrors.NewDatabaseError("lead names", err)
	}
	names := make(map[string]string, len(leads))
	for _, l := range leads {
		// ordered newest first, so the oldest lead's name wins
		names[l.Phone] = l.Name
	}
	return names, nil
}
