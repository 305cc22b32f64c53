package tenant

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAccountFinder struct {
	mock.Mock
}

func (m *mockAccountFinder) FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppAccount, error) {
	args := m.Called(ctx, phoneNumberID)
	if acc := args.Get(0); acc != nil {
		return acc.(*models.WhatsAppAccount), args.Error(1)
	}
	return nil, args.Error(1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func account() *models.WhatsAppAccount {
	return &models.WhatsAppAccount{
		CompanyID: 7, PhoneNumberID: "pn1", BusinessAccountID: "waba1",
		CatalogID: "cat1", AccessToken: "secret-token",
	}
}

func TestDirectory_ResolveWithoutCache(t *testing.T) {
	finder := &mockAccountFinder{}
	finder.On("FindByPhoneNumberID", mock.Anything, "pn1").Return(account(), nil).Twice()
	finder.On("FindByPhoneNumberID", mock.Anything, "nobody").Return(nil, nil).Once()

	d := NewDirectory(finder, nil, 0, quietLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tn, err := d.Resolve(ctx, "pn1")
		require.NoError(t, err)
		require.NotNil(t, tn)
		assert.Equal(t, uint(7), tn.CompanyID)
		assert.Equal(t, "secret-token", tn.AccessToken)
	}

	tn, err := d.Resolve(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, tn)

	tn, err = d.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, tn)

	finder.AssertExpectations(t)
}

func TestDirectory_ReadThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	finder := &mockAccountFinder{}
	finder.On("FindByPhoneNumberID", mock.Anything, "pn1").Return(account(), nil).Once()

	d := NewDirectory(finder, client, time.Minute, quietLogger())
	ctx := context.Background()

	first, err := d.Resolve(ctx, "pn1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(CacheKeyPrefix+"pn1"))
	assert.Equal(t, time.Minute, mr.TTL(CacheKeyPrefix+"pn1"))

	second, err := d.Resolve(ctx, "pn1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	finder.AssertNumberOfCalls(t, "FindByPhoneNumberID", 1)

	require.NoError(t, d.Invalidate(ctx, "pn1"))
	assert.False(t, mr.Exists(CacheKeyPrefix+"pn1"))
}

func TestDirectory_UnknownTenantNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	finder := &mockAccountFinder{}
	finder.On("FindByPhoneNumberID", mock.Anything, "pn-new").Return(nil, nil).Once()
	finder.On("FindByPhoneNumberID", mock.Anything, "pn-new").Return(account(), nil).Once()

	d := NewDirectory(finder, client, time.Minute, quietLogger())
	ctx := context.Background()

	tn, err := d.Resolve(ctx, "pn-new")
	require.NoError(t, err)
	assert.Nil(t, tn)

	// registered afterwards: visible immediately
	tn, err = d.Resolve(ctx, "pn-new")
	require.NoError(t, err)
	assert.NotNil(t, tn)
}

func TestDirectory_CacheOutageFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	finder := &mockAccountFinder{}
	finder.On("FindByPhoneNumberID", mock.Anything, "pn1").Return(account(), nil)

	d := NewDirectory(finder, client, time.Minute, quietLogger())
	tn, err := d.Resolve(context.Background(), "pn1")
	require.NoError(t, err)
	require.NotNil(t, tn)
	assert.Equal(t, "pn1", tn.PhoneNumberID)
}

func TestDirectory_CorruptEntryIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set(CacheKeyPrefix+"pn1", "{not json"))

	finder := &mockAccountFinder{}
	finder.On("FindByPhoneNumberID", mock.Anything, "pn1").Return(account(), nil).Once()

	d := NewDirectory(finder, client, time.Minute, quietLogger())
	tn, err := d.Resolve(context.Background(), "pn1")
	require.NoError(t, err)
	assert.Equal(t, uint(7), tn.CompanyID)
}

func TestDirectory_IndexErrorPropagates(t *testing.T) {
	finder := &mockAccountFinder{}
	finder.On("FindByPhoneNumberID", mock.Anything, "pn1").Return(nil, errors.New("db down"))

	d := NewDirectory(finder, nil, 0, quietLogger())
	_, err := d.Resolve(context.Background(), "pn1")
	assert.EqualError(t, err, "db down")
}
