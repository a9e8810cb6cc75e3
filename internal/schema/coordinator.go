// Package schema implements the cross-worker one-shot schema/init protocol
// (spec §4.6): one worker in a fleet initializes persistent schema while
// the rest block until it's done.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/idbuilder/worker/internal/storage"
)

const (
	lockKey         = "schema_init"
	defaultLockTTL  = 60 * time.Second
	defaultDeadline = 5 * time.Minute
	defaultPollStep = 2 * time.Second

	// CurrentVersion is the schema version this build expects. Backends
	// bump their own migration set independently; this is the floor a
	// follower waits for.
	CurrentVersion = 1
)

// Coordinator runs the startup schema-init gate against one backend.
type Coordinator struct {
	backend  storage.Backend
	ownerID  string
	logger   *slog.Logger
	deadline time.Duration
	lockTTL  time.Duration
	pollStep time.Duration
}

// New creates a Coordinator. ownerID should be unique per worker process
// (e.g. a uuid or hostname:pid).
func New(backend storage.Backend, ownerID string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		backend:  backend,
		ownerID:  ownerID,
		logger:   logger,
		deadline: defaultDeadline,
		lockTTL:  defaultLockTTL,
		pollStep: defaultPollStep,
	}
}

// Run executes the protocol: try to become the initializer; on success run
// InitSchema and release; on failure poll until the schema is ready or the
// deadline elapses. Never returns nil before the check passes.
func (c *Coordinator) Run(ctx context.Context) error {
	deadlineAt := time.Now().Add(c.deadline)

	for {
		acquired, err := c.backend.TryAcquireLock(ctx, lockKey, c.ownerID, c.lockTTL)
		if err != nil {
			return fmt.Errorf("schema: acquiring init lock: %w", err)
		}

		if acquired {
			c.logger.Info("schema: acquired init lock, running schema setup", "owner", c.ownerID)
			err := c.initAndRelease(ctx)
			return err
		}

		ready, err := c.checkVersion(ctx)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		if time.Now().After(deadlineAt) {
			return errors.New("schema: deadline exceeded waiting for schema initialization")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollStep):
		}
	}
}

func (c *Coordinator) initAndRelease(ctx context.Context) error {
	defer func() {
		if err := c.backend.ReleaseLock(context.Background(), lockKey, c.ownerID); err != nil {
			c.logger.Warn("schema: releasing init lock", "error", err)
		}
	}()

	version, err := c.backend.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("schema: reading current version: %w", err)
	}
	if version >= CurrentVersion {
		c.logger.Info("schema: already at or above target version", "version", version)
		return nil
	}

	if err := c.backend.InitSchema(ctx); err != nil {
		return fmt.Errorf("schema: running init: %w", err)
	}
	c.logger.Info("schema: initialization complete")
	return nil
}

func (c *Coordinator) checkVersion(ctx context.Context) (bool, error) {
	version, err := c.backend.SchemaVersion(ctx)
	if err != nil {
		return false, fmt.Errorf("schema: polling version: %w", err)
	}
	return version >= CurrentVersion, nil
}
