package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/privacy"
	"whatsapp-crm/internal/whatsapp"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// CacheKeyPrefix namespaces tenant entries in Redis
	CacheKeyPrefix = "tenant:pnid:"
	// DefaultCacheTTL applies when the directory is built with a zero TTL
	DefaultCacheTTL = 5 * time.Minute
)

// Tenant is the resolved owner of a business phone number plus the
// credentials needed to send from it.
type Tenant struct {
	CompanyID          uint   `json:"company_id"`
	PhoneNumberID      string `json:"phone_number_id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	BusinessAccountID  string `json:"business_account_id"`
	CatalogID          string `json:"catalog_id"`
	AccessToken        string `json:"access_token"`
}

// AccountFinder is the persistent index of business numbers.
type AccountFinder interface {
	FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppAccount, error)
}

// Directory resolves tenants through the account index, with an optional
// Redis read-through cache in front of it.
type Directory struct {
	accounts AccountFinder
	cache    *redis.Client
	ttl      time.Duration
	logger   *logrus.Logger
}

// NewDirectory builds a directory. cache may be nil.
func NewDirectory(accounts AccountFinder, cache *redis.Client, ttl time.Duration, logger *logrus.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Directory{accounts: accounts, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns the tenant owning phoneNumberID, or nil when none does.
// Cache failures are logged and fall through to the index.
func (d *Directory) Resolve(ctx context.Context, phoneNumberID string) (*Tenant, error) {
	if phoneNumberID == "" {
		return nil, nil
	}
	if t := d.fromCache(ctx, phoneNumberID); t != nil {
		return t, nil
	}

	account, err := d.accounts.FindByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	t := FromAccount(account)
	d.store(ctx, t)
	return t, nil
}

// Invalidate drops the cached entry for a business number after its
// account row changes.
func (d *Directory) Invalidate(ctx context.Context, phoneNumberID string) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.Del(ctx, CacheKeyPrefix+phoneNumberID).Err()
}

func FromAccount(a *models.WhatsAppAccount) *Tenant {
	return &Tenant{
		CompanyID:          a.CompanyID,
		PhoneNumberID:      a.PhoneNumberID,
		DisplayPhoneNumber: a.DisplayPhoneNumber,
		BusinessAccountID:  a.BusinessAccountID,
		CatalogID:          a.CatalogID,
		AccessToken:        a.AccessToken,
	}
}

func (d *Directory) fromCache(ctx context.Context, phoneNumberID string) *Tenant {
	if d.cache == nil {
		return nil
	}
	val, err := d.cache.Get(ctx, CacheKeyPrefix+phoneNumberID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		d.logger.WithError(err).WithField("phone_number_id", phoneNumberID).Warn("Tenant cache read failed")
		return nil
	}
	var t Tenant
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		d.logger.WithError(err).Warn("Discarding corrupt tenant cache entry")
		return nil
	}
	return &t
}

func (d *Directory) store(ctx context.Context, t *Tenant) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, CacheKeyPrefix+t.PhoneNumberID, data, d.ttl).Err(); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"phone_number_id": t.PhoneNumberID,
			"token":           privacy.MaskToken(t.AccessToken),
		}).Warn("Tenant cache write failed")
	}
}

// Credentials are the send credentials of the tenant's business number.
func (t *Tenant) Credentials() whatsapp.Credentials {
	return whatsapp.Credentials{PhoneNumberID: t.PhoneNumberID, AccessToken: t.AccessToken}
}
