package store

import (
	"errors"

	"gorm.io/gorm"
)

// Store groups the gorm-backed repositories. All of them share one *gorm.DB.
type Store struct {
	db            *gorm.DB
	messages      *MessageStore
	leads         *LeadStore
	catalog       *CatalogStore
	flowResponses *FlowResponseStore
	rules         *RuleStore
	accounts      *AccountStore
}

func New(db *gorm.DB) *Store {
	s := &Store{db: db}
	s.messages = &MessageStore{Store: s}
	s.leads = &LeadStore{Store: s}
	s.catalog = &CatalogStore{Store: s}
	s.flowResponses = &FlowResponseStore{Store: s}
	s.rules = &RuleStore{Store: s}
	s.accounts = &AccountStore{Store: s}
	return s
}

func (s *Store) DB() *gorm.DB                      { return s.db }
func (s *Store) Messages() *MessageStore           { return s.messages }
func (s *Store) Leads() *LeadStore                 { return s.leads }
func (s *Store) Catalog() *CatalogStore            { return s.catalog }
func (s *Store) FlowResponses() *FlowResponseStore { return s.flowResponses }
func (s *Store) Rules() *RuleStore                 { return s.rules }
func (s *Store) Accounts() *AccountStore           { return s.accounts }

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
