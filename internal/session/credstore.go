package session

import (
	"context"
	"errors"
	"sync"

	"github.com/vetassist/mcp-bridge/internal/oauth"
	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// credentialStore adapts one session's record in the Repository to the
// credential provider's store interface. Every operation is a
// read-modify-write on the session row, serialized by a per-session
// mutex so ConsumeVerifier stays single-use under concurrent callbacks.
type credentialStore struct {
	sessionID string
	repo      Repository
	mu        sync.Mutex
}

var _ oauth.CredentialStore = (*credentialStore)(nil)

func (s *credentialStore) load(ctx context.Context) (Session, error) {
	sess, err := s.repo.LoadSession(ctx, s.sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return Session{}, serviceerr.ErrUnknownSession
		}

		return Session{}, err
	}

	return sess, nil
}

func (s *credentialStore) LoadRegistration(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	if len(sess.Registration) == 0 {
		return nil, serviceerr.ErrNotFound
	}

	return sess.Registration, nil
}

func (s *credentialStore) SaveRegistration(ctx context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		return err
	}

	sess.Registration = raw

	return s.repo.StoreSession(ctx, sess)
}

func (s *credentialStore) LoadTokens(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	if len(sess.Tokens) == 0 {
		return nil, serviceerr.ErrNotFound
	}

	return sess.Tokens, nil
}

func (s *credentialStore) SaveTokens(ctx context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		return err
	}

	sess.Tokens = raw

	return s.repo.StoreSession(ctx, sess)
}

func (s *credentialStore) SaveVerifier(ctx context.Context, verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		return err
	}

	sess.Verifier = verifier

	return s.repo.StoreSession(ctx, sess)
}

func (s *credentialStore) ConsumeVerifier(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	if sess.Verifier == "" {
		return "", serviceerr.ErrNotFound
	}

	verifier := sess.Verifier
	sess.Verifier = ""
	if err := s.repo.StoreSession(ctx, sess); err != nil {
		return "", err
	}

	return verifier, nil
}

func (s *credentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, serviceerr.ErrUnknownSession) {
			return nil
		}

		return err
	}

	sess.Registration = nil
	sess.Tokens = nil
	sess.Verifier = ""

	return s.repo.StoreSession(ctx, sess)
}
