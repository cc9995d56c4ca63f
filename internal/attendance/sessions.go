package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionManager opens and closes attendance windows. Each admin has at most
// one open session; all transitions for an admin go through the store's
// per-admin serialization point.
type SessionManager struct {
	store SessionStore
	now   func() time.Time
	newID func() string
}

// NewSessionManager creates a manager backed by store.
func NewSessionManager(store SessionStore) *SessionManager {
	return &SessionManager{store: store, now: time.Now, newID: uuid.NewString}
}

// Start closes the admin's open session, if any, and opens a new one.
// The returned slice holds the sessions that were closed.
func (m *SessionManager) Start(ctx context.Context, adminID string) (Session, []Session, error) {
	if strings.TrimSpace(adminID) == "" {
		return Session{}, nil, validationErr("admin id is required")
	}
	var (
		opened Session
		closed []Session
	)
	err := m.store.UpdateAdminSessions(ctx, adminID, func(tx SessionTx) error {
		opened, closed = Session{}, nil
		now := m.now().UTC().Truncate(time.Millisecond)
		open, err := tx.OpenSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range open {
			if err := s.Close(now); err != nil {
				return err
			}
			if err := tx.Update(ctx, s); err != nil {
				return err
			}
			closed = append(closed, s)
		}
		opened = Session{
			ID:        m.newID(),
			AdminID:   adminID,
			StartTime: now,
			State:     SessionOpen,
		}
		return tx.Create(ctx, opened)
	})
	if err != nil {
		return Session{}, nil, storageErr("start session", err)
	}
	return opened, closed, nil
}

// End closes the admin's open session and returns it, or returns nil when
// nothing is open.
func (m *SessionManager) End(ctx context.Context, adminID string) (*Session, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, validationErr("admin id is required")
	}
	var ended *Session
	err := m.store.UpdateAdminSessions(ctx, adminID, func(tx SessionTx) error {
		ended = nil
		open, err := tx.OpenSessions(ctx)
		if err != nil {
			return err
		}
		s, err := single(adminID, open)
		if err != nil || s == nil {
			return err
		}
		if err := s.Close(m.now().UTC().Truncate(time.Millisecond)); err != nil {
			return err
		}
		if err := tx.Update(ctx, *s); err != nil {
			return err
		}
		ended = s
		return nil
	})
	if err != nil {
		return nil, storageErr("end session", err)
	}
	return ended, nil
}

// Active returns the admin's open session, or nil.
func (m *SessionManager) Active(ctx context.Context, adminID string) (*Session, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, validationErr("admin id is required")
	}
	open, err := m.store.OpenSessions(ctx, adminID)
	if err != nil {
		return nil, storageErr("active session", err)
	}
	return single(adminID, open)
}

// single enforces the one-open-session invariant on a query result.
func single(adminID string, open []Session) (*Session, error) {
	switch len(open) {
	case 0:
		return nil, nil
	case 1:
		s := open[0]
		return &s, nil
	default:
		return nil, &Error{
			Kind: KindIntegrity,
			Msg:  fmt.Sprintf("admin %s has %d open sessions", adminID, len(open)),
		}
	}
}
