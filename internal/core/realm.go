package core

import (
	"context"
	"time"

	"podium/internal/blob"
	"podium/internal/ledger"
	"podium/pkg/domain"
	"podium/pkg/logging"
)

// Realm is what every entity needs from the nation it lives in: namespace,
// ledger access, the shared cache, logging, and engine configuration. The
// nation orchestrator implements it.
type Realm interface {
	// Fullname is the nation's record namespace. Atoms from other
	// namespaces are rejected during ingestion.
	Fullname() string
	Ledger() ledger.Ledger
	// Blobs is the object store behind media files and nation backups.
	Blobs() blob.Store
	Cache() *Cache
	Kinds() *KindRegistry
	Logger() *logging.Logger
	Config() Config
	Metrics() MetricsRecorder
	// Live reports whether the nation accepts client connections.
	Live() bool
	// Alert raises a nation-level notification (new follower, mention).
	Alert(ctx context.Context, kind string, payload map[string]any)
}

// Config carries engine tuning.
type Config struct {
	// SyncTimeout bounds the wait for the ledger's synchronized signal.
	// The signal is unreliable upstream, so an entity promotes itself to
	// complete when the timeout lapses. This is a documented workaround,
	// not a cancellation primitive.
	SyncTimeout time.Duration

	// Affinity tunes the bias fold over reaction history.
	Affinity AffinityParams

	// ReactionRewards faucets tokens (by symbol) to a reacting entity.
	ReactionRewards map[string]float64
}

// DefaultSyncTimeout bounds connect when no timeout is configured.
const DefaultSyncTimeout = time.Second

func (c Config) syncTimeout() time.Duration {
	if c.SyncTimeout <= 0 {
		return DefaultSyncTimeout
	}
	return c.SyncTimeout
}

// AffinityParams positions entities in a shared preference space. Each
// reaction moves an entity's bias coordinates by a damped step; two entities'
// affinity is derived from their distance.
type AffinityParams struct {
	// Dimensionality is the size of the bias coordinate frame.
	Dimensionality int
	// StepSize scales each reaction's displacement.
	StepSize float64
	// StepNorm is the damping width; steps shrink as coordinates approach it.
	StepNorm float64
}

// Default affinity tuning, used when the constitution leaves fields unset.
const (
	DefaultAffinityDimensionality = 3
	DefaultAffinityStepSize       = 0.01
	DefaultAffinityStepNorm       = 1.0
)

// Normalized fills zero fields with the defaults.
func (p AffinityParams) Normalized() AffinityParams {
	if p.Dimensionality <= 0 {
		p.Dimensionality = DefaultAffinityDimensionality
	}
	if p.StepSize <= 0 {
		p.StepSize = DefaultAffinityStepSize
	}
	if p.StepNorm <= 0 {
		p.StepNorm = DefaultAffinityStepNorm
	}
	return p
}

// Master is the authenticated identity that backs an entity's ledger writes.
// The authenticating trait provides the concrete implementation.
type Master interface {
	Authenticated() bool
	// AuthToken is the current per-session token checked on client writes.
	AuthToken() string
	Identity() domain.Identity
	// Commit appends a record atom to account through this identity.
	Commit(ctx context.Context, account domain.Account, payload map[string]any) error
}
