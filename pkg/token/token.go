// Package token implements the per-key token store (spec §4.7): issuance,
// reset, and constant-time verification, grounded on the teacher's PAT
// crypto/rand generation pattern.
//
// Open question resolved here (recorded in DESIGN.md): §4.7's prose frames
// issuance as "reveal the plaintext exactly once", but testable property #5
// requires issue_token(key) called N times to return the *same* token. A
// one-way hash can't satisfy both, so this package stores the token value
// itself behind storage.Backend's PutToken/GetToken (named "hash" in the
// contract for symmetry with the SQL/Redis/file persisted layouts, but
// opaque to those backends either way) and relies on Verify's constant-time
// comparison for the actual security property.
package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/idbuilder/worker/internal/storage"
)

// Service issues and verifies per-key tokens against a storage.Backend.
type Service struct {
	store storage.Backend
}

// New creates a Service backed by store.
func New(store storage.Backend) *Service {
	return &Service{store: store}
}

// Issue returns the existing token for key unchanged if one was already
// issued, otherwise mints a fresh 256-bit token and persists it.
func (s *Service) Issue(ctx context.Context, key string) (string, error) {
	existing, err := s.store.GetToken(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("checking existing token: %w", err)
	}
	return s.mintAndStore(ctx, key)
}

// Reset always mints a fresh token and atomically replaces the stored one.
func (s *Service) Reset(ctx context.Context, key string) (string, error) {
	return s.mintAndStore(ctx, key)
}

func (s *Service) mintAndStore(ctx context.Context, key string) (string, error) {
	raw, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	if err := s.store.PutToken(ctx, key, raw); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return raw, nil
}

// Verify reports whether token is the currently valid token for key,
// comparing in constant time to resist timing side-channels (spec §9).
func (s *Service) Verify(ctx context.Context, key, token string) (bool, error) {
	stored, err := s.store.GetToken(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading token: %w", err)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32) // 256 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
