// Package increment implements the Increment service (spec §4.3): client
// requests translated into Sequence Manager chunk draws, offset by the
// key's configured base.
package increment

import (
	"context"
	"errors"

	"github.com/idbuilder/worker/internal/httpserver"
	"github.com/idbuilder/worker/internal/sequence"
	"github.com/idbuilder/worker/internal/storage"
	"github.com/idbuilder/worker/pkg/idconfig"
)

const (
	minSize = 1
	maxSize = 1000
)

// Service generates Increment-family IDs.
type Service struct {
	configs *idconfig.Service
	seq     *sequence.Manager
}

// New creates a Service.
func New(configs *idconfig.Service, seq *sequence.Manager) *Service {
	return &Service{configs: configs, seq: seq}
}

// Generate validates the request, resolves key's config, and draws size
// IDs spaced by delta (or randomized per-value deltas if randDelta and the
// config allows it), each offset so the first-ever issued value is base.
//
// The persistent counter storage.Backend tracks is lazily materialized at
// 0 and always advances from there (it has no notion of "base" — that
// would require every backend to special-case first-use seeding, which
// races against concurrent first draws from other workers). Instead this
// service applies a constant, race-free translation: actual = base -
// spacing + raw, where spacing is whatever delta the reservation was
// actually drawn with — the request's delta on the fixed-spacing path, or
// MaxRequestDelta on the pessimistic path (DrawPessimistic reserves
// count*MaxRequestDelta, so its first raw value is MaxRequestDelta, not
// delta). Using config.Delta instead of the draw's own spacing is wrong
// whenever the request delta differs from it, matching spec §8 scenario 1
// ({base:1000, delta:1} then size=5 => [1000..1004], next size=3 =>
// [1005..1007]) only when draw spacing equals config.Delta.
func (s *Service) Generate(ctx context.Context, key string, size int, delta int64, randDelta bool) ([]int64, error) {
	if size < minSize {
		return nil, httpserver.NewCodedError(httpserver.CodeBadParams, "size must be >= 1")
	}
	if size > maxSize {
		return nil, httpserver.NewCodedError(httpserver.CodeSizeTooLarge, "size must be <= 1000")
	}

	cfg, err := s.configs.Get(ctx, key, idconfig.IDTypeIncrement)
	if err != nil {
		return nil, mapConfigErr(err)
	}
	inc := cfg.Increment

	if delta <= 0 {
		delta = 1
	}
	if delta < 1 || delta > inc.MaxRequestDelta {
		return nil, httpserver.NewCodedError(httpserver.CodeDeltaTooLarge, "delta must be between 1 and max_request_delta")
	}

	var raw []int64
	var spacing int64
	if randDelta && inc.RandDelta {
		spacing = inc.MaxRequestDelta
		raw, err = s.seq.DrawPessimistic(ctx, key, int64(size), spacing)
	} else {
		spacing = delta
		raw, err = s.seq.Draw(ctx, key, int64(size), spacing)
	}
	if err != nil {
		return nil, mapSeqErr(err)
	}

	offset := inc.Base - spacing
	out := make([]int64, len(raw))
	for i, v := range raw {
		out[i] = offset + v
	}
	return out, nil
}

func mapConfigErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, idconfig.ErrTypeMismatch) {
		return httpserver.NewCodedError(httpserver.CodeNotFound, "no increment config for key")
	}
	return httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
}

func mapSeqErr(err error) error {
	if errors.Is(err, storage.ErrExhausted) {
		return httpserver.NewCodedError(httpserver.CodeExhausted, "sequence exhausted")
	}
	return httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
}
