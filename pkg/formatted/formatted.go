package formatted

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/idbuilder/worker/internal/httpserver"
	"github.com/idbuilder/worker/internal/sequence"
	"github.com/idbuilder/worker/internal/storage"
	"github.com/idbuilder/worker/pkg/idconfig"
)

const (
	minSize = 1
	maxSize = 1000

	counterBase = 1 // first counter value after a reset; the reset stores counterBase-1 so the next draw yields counterBase
)

// Service generates Formatted-family IDs.
type Service struct {
	configs *idconfig.Service
	seq     *sequence.Manager
	backend storage.Backend
	now     func() time.Time // overridable for tests
}

// New creates a Service.
func New(configs *idconfig.Service, seq *sequence.Manager, backend storage.Backend) *Service {
	return &Service{configs: configs, seq: seq, backend: backend, now: time.Now}
}

func derivedKey(key string) string { return "fmt:" + key }

// Generate draws size counter values under fmt:<key> (performing a scoped
// reset first if the witness transitioned) and renders each into the
// key's template.
func (s *Service) Generate(ctx context.Context, key string, size int) ([]string, error) {
	if size < minSize {
		return nil, httpserver.NewCodedError(httpserver.CodeBadParams, "size must be >= 1")
	}
	if size > maxSize {
		return nil, httpserver.NewCodedError(httpserver.CodeSizeTooLarge, "size must be <= 1000")
	}

	cfg, err := s.configs.Get(ctx, key, idconfig.IDTypeFormatted)
	if err != nil {
		return nil, mapConfigErr(err)
	}

	_, autoPart, err := findAutoIncrement(cfg.Formatted.Parts)
	if err != nil {
		return nil, httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
	}

	now := s.now()
	fk := derivedKey(key)

	if err := s.maybeReset(ctx, fk, autoPart.ResetScope, now); err != nil {
		return nil, httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
	}

	raw, err := s.seq.Draw(ctx, fk, int64(size), 1)
	if err != nil {
		return nil, mapSeqErr(err)
	}

	rng := rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(len(raw))))

	out := make([]string, len(raw))
	for i, n := range raw {
		rendered, err := renderAll(cfg.Formatted.Parts, now, n, rng)
		if err != nil {
			return nil, httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
		}
		out[i] = rendered
	}
	return out, nil
}

func renderAll(parts []idconfig.Part, now time.Time, n int64, rng *rand.Rand) (string, error) {
	var sb []byte
	for _, p := range parts {
		s, err := renderPart(p, now, n, rng)
		if err != nil {
			return "", err
		}
		sb = append(sb, s...)
	}
	return string(sb), nil
}

// maybeReset computes the current scope witness for scope at now and, if it
// differs from the backend's recorded witness for key, performs the CAS
// reset (spec §4.4). AlreadyReset means another worker won the race and is
// not an error. It also drops this worker's local chunk if stale.
func (s *Service) maybeReset(ctx context.Context, key string, scope string, now time.Time) error {
	witness := scopeWitness(scope, now)
	if witness == "" {
		return nil
	}

	state, err := s.backend.GetSequence(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("formatted: reading sequence state: %w", err)
	}
	if err == nil && state.Witness == witness {
		return nil
	}

	err = s.backend.ResetSequence(ctx, key, counterBase-1, witness)
	if err != nil && !errors.Is(err, storage.ErrAlreadyReset) {
		return fmt.Errorf("formatted: reset_sequence: %w", err)
	}
	// The reset lowers the backend counter, so a chunk cached from before the
	// scope transition sits entirely above the new value and a floor check
	// would never catch it — drop it unconditionally, whether this worker
	// performed the reset or lost the race (ErrAlreadyReset).
	s.seq.Invalidate(key)
	return nil
}

// scopeWitness computes the scope witness from wall-clock now (spec §4.4).
// Formatted parts carry no independent timezone for scoping purposes (only
// DateFormat parts do, for display); the witness itself is always computed
// in UTC.
func scopeWitness(scope string, now time.Time) string {
	t := now.UTC()
	switch scope {
	case idconfig.ResetScopeYear:
		return fmt.Sprintf("%04d", t.Year())
	case idconfig.ResetScopeMonth:
		return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
	case idconfig.ResetScopeDate:
		return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
	default:
		return ""
	}
}

func findAutoIncrement(parts []idconfig.Part) (int, idconfig.Part, error) {
	for i, p := range parts {
		if p.Type == idconfig.PartAutoIncrement {
			return i, p, nil
		}
	}
	return 0, idconfig.Part{}, errors.New("formatted: config has no auto_increment part")
}

func mapConfigErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, idconfig.ErrTypeMismatch) {
		return httpserver.NewCodedError(httpserver.CodeNotFound, "no formatted config for key")
	}
	return httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
}

func mapSeqErr(err error) error {
	if errors.Is(err, storage.ErrExhausted) {
		return httpserver.NewCodedError(httpserver.CodeExhausted, "sequence exhausted")
	}
	return httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
}
