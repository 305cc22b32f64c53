package store

import (
	"context"

	apperrors "whatsapp-crm/internal/errors"
	"whatsapp-crm/internal/models"
)

// CatalogStore is the product/form registry.
type CatalogStore struct {
	*Store
}

// FindByRetailerID returns the tenant's product with this retailer ID, with
// its form preloaded, or nil.
func (s *CatalogStore) FindByRetailerID(ctx context.Context, companyID uint, retailerID string) (*models.Product, error) {
	if retailerID == "" {
		return nil, nil
	}
	var product models.Product
	err := s.db.WithContext(ctx).Preload("Form").
		Where("company_id = ? AND retailer_id = ?", companyID, retailerID).
		First(&product).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("product by retailer id", err)
	}
	return &product, nil
}

// FindByRetailerIDs resolves several retailer IDs at once. Unknown IDs are
// skipped and result order is unspecified.
func (s *CatalogStore) FindByRetailerIDs(ctx context.Context, companyID uint, retailerIDs []string) ([]models.Product, error) {
	if len(retailerIDs) == 0 {
		return nil, nil
	}
	var products []models.Product
	err := s.db.WithContext(ctx).Preload("Form").
		Where("company_id = ? AND retailer_id IN ?", companyID, retailerIDs).
		Find(&products).Error
	if err != nil {
		return nil, apperrors.NewDatabaseError("products by retailer ids", err)
	}
	return products, nil
}

func (s *CatalogStore) FindByFlowID(ctx context.Context, companyID uint, flowID string) (*models.Product, error) {
	if flowID == "" {
		return nil, nil
	}
	var product models.Product
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND flow_id = ?", companyID, flowID).
		Order("id ASC").
		First(&product).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("product by flow id", err)
	}
	return &product, nil
}

func (s *CatalogStore) FindByID(ctx context.Context, companyID, id uint) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).Preload("Form").
		Where("company_id = ? AND id = ?", companyID, id).
		First(&product).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("product by id", err)
	}
	return &product, nil
}

// ActiveProducts lists the tenant's active products ordered by name.
func (s *CatalogStore) ActiveProducts(ctx context.Context, companyID uint) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("name ASC, id ASC").
		Find(&products).Error
	if err != nil {
		return nil, apperrors.NewDatabaseError("active products", err)
	}
	return products, nil
}
