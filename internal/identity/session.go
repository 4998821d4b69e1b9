// Package identity owns the local session (guest or authenticated) and the
// migration of guest workouts to an authenticated owner.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
	"go.uber.org/zap"
)

const (
	guestIDPrefix    = "guest_"
	guestDisplayName = "Guest User"
)

var errMissingStore = errors.New("identity: store is required")

// Session is the persisted identity of the local user.
type Session struct {
	UserID            string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email,omitempty"`
	Token             string    `json:"token,omitempty"`
	IsGuest           bool      `json:"isGuest"`
	UpgradedFromGuest bool      `json:"upgradedFromGuest,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`

	// MigrationPending marks a guest upgrade whose workouts have not been
	// re-owned yet. The next Authenticate retries the migration.
	MigrationPending bool `json:"migrationPending,omitempty"`
}

// Credentials are supplied by the external authentication collaborator.
// UserID may be empty when Token is a JWT carrying a subject.
type Credentials struct {
	Token  string
	UserID string
	Name   string
	Email  string
}

// GuestMigrator re-owns guest data after an upgrade.
type GuestMigrator interface {
	Migrate(ctx context.Context, userID string) (MigrationResult, error)
}

// ManagerConfig describes the dependencies of a Manager.
type ManagerConfig struct {
	Store    store.Store
	Migrator GuestMigrator
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Manager reads and writes the session under store.SessionKey.
type Manager struct {
	mu       sync.Mutex
	store    store.Store
	migrator GuestMigrator
	clock    func() time.Time
	logger   *zap.Logger
}

// NewManager constructs a Manager. A nil Migrator disables guest migration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: cfg.Store, migrator: cfg.Migrator, clock: clock, logger: logger}, nil
}

// SetMigrator wires the migrator after construction, for callers whose
// migrator depends on the manager itself.
func (m *Manager) SetMigrator(migrator GuestMigrator) {
	m.mu.Lock()
	m.migrator = migrator
	m.mu.Unlock()
}

// Current returns the stored session.
func (m *Manager) Current() (Session, bool) {
	session := store.ReadOr(m.store, store.SessionKey, Session{})
	if session.UserID == "" {
		return Session{}, false
	}
	return session, true
}

// CurrentOwner returns the id that owns newly created workouts. Guests
// own their workouts too.
func (m *Manager) CurrentOwner() (string, bool) {
	session, ok := m.Current()
	if !ok {
		return "", false
	}
	return session.UserID, true
}

// Credential returns the bearer token of an authenticated session. Guests
// and sessions holding an expired JWT have none.
func (m *Manager) Credential() (string, bool) {
	session, ok := m.Current()
	if !ok || session.IsGuest || session.Token == "" {
		return "", false
	}
	if looksLikeJWT(session.Token) {
		if _, err := ParseCredential(session.Token, m.clock()); err != nil {
			m.logger.Debug("stored credential unusable", zap.Error(err))
			return "", false
		}
	}
	return session.Token, true
}

// ContinueAsGuest returns the existing session, creating a guest session
// when there is none.
func (m *Manager) ContinueAsGuest() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.Current(); ok {
		return existing, nil
	}
	now := m.clock().UTC()
	guest := Session{
		UserID:    fmt.Sprintf("%s%d", guestIDPrefix, now.UnixMilli()),
		Name:      guestDisplayName,
		IsGuest:   true,
		CreatedAt: now,
	}
	if err := m.store.Write(store.SessionKey, guest); err != nil {
		return Session{}, err
	}
	m.logger.Info("guest session created", zap.String("user_id", guest.UserID))
	return guest, nil
}

// Authenticate stores an authenticated session. When the previous session
// was a guest, or an earlier upgrade left its migration pending, the guest's
// workouts are migrated to the new user and the migration result is
// returned. A failed migration keeps the session marked pending.
func (m *Manager) Authenticate(ctx context.Context, credentials Credentials) (Session, *MigrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := strings.TrimSpace(credentials.Token)
	if token == "" {
		return Session{}, nil, ErrMissingCredential
	}
	userID := strings.TrimSpace(credentials.UserID)
	name := credentials.Name
	email := credentials.Email
	if looksLikeJWT(token) {
		claims, err := ParseCredential(token, m.clock())
		if err != nil {
			return Session{}, nil, err
		}
		if userID == "" {
			userID = strings.TrimSpace(claims.Subject)
		}
		if name == "" {
			name = claims.Name
		}
		if email == "" {
			email = claims.Email
		}
	}
	if userID == "" {
		return Session{}, nil, ErrMissingSubject
	}

	previous, hadSession := m.Current()
	upgrading := hadSession && (previous.IsGuest || previous.MigrationPending)
	session := Session{
		UserID:            userID,
		Name:              name,
		Email:             email,
		Token:             token,
		IsGuest:           false,
		UpgradedFromGuest: upgrading || (hadSession && previous.UpgradedFromGuest && previous.UserID == userID),
		MigrationPending:  upgrading && m.migrator != nil,
		CreatedAt:         m.clock().UTC(),
	}
	if err := m.store.Write(store.SessionKey, session); err != nil {
		return Session{}, nil, err
	}
	m.logger.Info("session authenticated", zap.String("user_id", userID), zap.Bool("upgraded_from_guest", upgrading))

	if !session.MigrationPending {
		return session, nil, nil
	}
	result, err := m.migrator.Migrate(ctx, userID)
	if err != nil {
		m.logger.Warn("guest migration left pending", zap.String("user_id", userID), zap.Error(err))
		return session, nil, err
	}
	session.MigrationPending = false
	if err := m.store.Write(store.SessionKey, session); err != nil {
		return session, &result, err
	}
	return session, &result, nil
}

// Logout removes the session. Stored workouts are kept.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Remove(store.SessionKey)
}
