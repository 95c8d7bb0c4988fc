// Package enginetest provides a scripted in-memory engine for tests.
package enginetest

import (
	"context"

	"github.com/beekhuis/changeguard/pkg/engine"
)

type (
	// Session is a scripted engine.Session that records every call.
	Session struct {
		// Unrun is returned by ListUnrun.
		Unrun   []engine.ChangeSet
		ListErr error

		TagErr error

		// TestOK and UpdateOK script TestRollback and Update. Both default
		// to true via NewSession.
		TestOK   bool
		UpdateOK bool

		// OnUpdate, when set, runs instead of returning UpdateOK.
		OnUpdate func() bool

		RollbackErr error

		// Calls records every session call in order, e.g. "tag state-1",
		// "rollback state-1".
		Calls []string
	}

	// Opener hands out a scripted session and records the master files it
	// was opened against.
	Opener struct {
		Session *Session
		Err     error
		Opened  []string
	}
)

// NewSession returns a Session scripted for the happy path.
func NewSession() *Session {
	return &Session{TestOK: true, UpdateOK: true}
}

func (s *Session) ListUnrun(context.Context) ([]engine.ChangeSet, error) {
	s.Calls = append(s.Calls, "listUnrun")
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Unrun, nil
}

func (s *Session) Tag(_ context.Context, label string) error {
	s.Calls = append(s.Calls, "tag "+label)
	return s.TagErr
}

func (s *Session) TestRollback(context.Context) bool {
	s.Calls = append(s.Calls, "testRollback")
	return s.TestOK
}

func (s *Session) Update(context.Context) bool {
	s.Calls = append(s.Calls, "update")
	if s.OnUpdate != nil {
		return s.OnUpdate()
	}
	return s.UpdateOK
}

func (s *Session) Rollback(_ context.Context, tag string) error {
	s.Calls = append(s.Calls, "rollback "+tag)
	return s.RollbackErr
}

func (o *Opener) Open(master string) (engine.Session, error) {
	o.Opened = append(o.Opened, master)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Session, nil
}
