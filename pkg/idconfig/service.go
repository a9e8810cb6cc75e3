package idconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/idbuilder/worker/internal/storage"
)

// ErrTypeMismatch is returned by Get when the stored config's id_type
// differs from the one requested.
var ErrTypeMismatch = errors.New("idconfig: id_type mismatch")

// Service is the Admin config CRUD layer over storage.Backend.
type Service struct {
	store storage.Backend
}

// New creates a Service backed by store.
func New(store storage.Backend) *Service {
	return &Service{store: store}
}

// Put validates and upserts cfg.
func (s *Service) Put(ctx context.Context, cfg *IdConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	cfg.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return s.store.PutConfig(ctx, storage.ConfigRecord{
		Key:       cfg.Key,
		IDType:    string(cfg.IDType),
		Config:    blob,
		UpdatedAt: cfg.UpdatedAt,
	})
}

// Get reads the config for key and verifies it is of type want.
func (s *Service) Get(ctx context.Context, key string, want IDType) (*IdConfig, error) {
	rec, err := s.store.GetConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	if IDType(rec.IDType) != want {
		return nil, ErrTypeMismatch
	}

	var cfg IdConfig
	if err := json.Unmarshal(rec.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// List returns a page of configs as (key, id_type) summaries.
func (s *Service) List(ctx context.Context, cursor string, size int) (ListResult, error) {
	page, err := s.store.ListConfigs(ctx, cursor, size)
	if err != nil {
		return ListResult{}, err
	}

	out := ListResult{NextCursor: page.NextCursor, HasMore: page.HasMore}
	for _, rec := range page.Items {
		out.Items = append(out.Items, ListItem{Key: rec.Key, IDType: IDType(rec.IDType)})
	}
	return out, nil
}
