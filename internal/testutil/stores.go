// stores.go
//
// Shared mock implementations of auth.AccountStore, mail.Mailer and events.Publisher.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/kiosk/internal/events"
	"github.com/MGallo-Code/kiosk/internal/store"
)

// MockAccountStore implements auth.AccountStore for tests.

// Always stateful...Users and Sellers are maps keyed by email, like a real store.
// Use *Err fields to inject errors for specific operations.
type MockAccountStore struct {
	// Error injection...zero value means no error
	CreateUserErr     error
	CreateSellerErr   error
	GetByEmailErr     error
	FindAccountErr    error
	UpdatePasswordErr error
	HealthErr         error

	Users   map[string]*store.User
	Sellers map[string]*store.Seller

	mu sync.Mutex
}

// NewMockAccountStore returns a store seeded with users and sellers.
func NewMockAccountStore(users []*store.User, sellers []*store.Seller) *MockAccountStore {
	m := &MockAccountStore{
		Users:   make(map[string]*store.User),
		Sellers: make(map[string]*store.Seller),
	}
	for _, u := range users {
		m.Users[u.Email] = u
	}
	for _, s := range sellers {
		m.Sellers[s.Email] = s
	}
	return m
}

func (m *MockAccountStore) CheckHealth(context.Context) error { return m.HealthErr }

func (m *MockAccountStore) CreateUser(_ context.Context, id uuid.UUID, name, email, passwordHash string) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[email]; ok {
		return store.ErrDuplicateEmail
	}
	m.Users[email] = &store.User{ID: id, Name: name, Email: email, PasswordHash: &passwordHash, Role: store.RoleUser}
	return nil
}

func (m *MockAccountStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetByEmailErr != nil {
		return nil, m.GetByEmailErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[email]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return u, nil
}

func (m *MockAccountStore) CreateSeller(_ context.Context, s *store.Seller) error {
	if m.CreateSellerErr != nil {
		return m.CreateSellerErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Sellers[s.Email]; ok {
		return store.ErrDuplicateEmail
	}
	m.Sellers[s.Email] = s
	return nil
}

func (m *MockAccountStore) GetSellerByEmail(_ context.Context, email string) (*store.Seller, error) {
	if m.GetByEmailErr != nil {
		return nil, m.GetByEmailErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sellers[email]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return s, nil
}

func (m *MockAccountStore) FindAccount(_ context.Context, role store.Role, id uuid.UUID) (*store.Account, error) {
	if m.FindAccountErr != nil {
		return nil, m.FindAccountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == store.RoleSeller {
		for _, s := range m.Sellers {
			if s.ID == id {
				return s.Account(), nil
			}
		}
		return nil, store.ErrAccountNotFound
	}
	for _, u := range m.Users {
		if u.ID == id && u.Role == role {
			return u.Account(), nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *MockAccountStore) UpdatePassword(_ context.Context, role store.Role, id uuid.UUID, passwordHash string) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == store.RoleSeller {
		for _, s := range m.Sellers {
			if s.ID == id {
				s.PasswordHash = passwordHash
				return nil
			}
		}
		return store.ErrAccountNotFound
	}
	for _, u := range m.Users {
		if u.ID == id && u.Role == role {
			u.PasswordHash = &passwordHash
			return nil
		}
	}
	return store.ErrAccountNotFound
}

// SentMail is one captured MockMailer call.
type SentMail struct {
	To         string
	Subject    string
	TemplateID string
	Data       map[string]string
}

// MockMailer records every SendTemplate call. Err makes every send fail.
type MockMailer struct {
	Err error

	mu   sync.Mutex
	Sent []SentMail
}

func (m *MockMailer) SendTemplate(_ context.Context, toEmail, subject, templateID string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMail{To: toEmail, Subject: subject, TemplateID: templateID, Data: data})
	return nil
}

// Count returns the number of successful sends.
func (m *MockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// Last returns the most recent send. Panics if nothing was sent.
func (m *MockMailer) Last() SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Sent[len(m.Sent)-1]
}

// LastTo returns the most recent send addressed to email.
func (m *MockMailer) LastTo(email string) (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].To == email {
			return m.Sent[i], true
		}
	}
	return SentMail{}, false
}

// MockPublisher records published events.
type MockPublisher struct {
	Err error

	mu     sync.Mutex
	Events []events.Event
}

func (p *MockPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, e)
	return nil
}

func (p *MockPublisher) Close() error { return nil }

// Published returns a copy of the recorded events.
func (p *MockPublisher) Published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.Events...)
}
