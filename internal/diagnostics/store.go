package diagnostics

import (
	"fmt"
	"time"

	gwerrors "github.com/modelgateway/core/pkg/errors"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects the diagnostics store's backend. Type is "sqlite"
// (default, for a single operator machine) or "postgres" (for a
// shared fleet deployment).
type Config struct {
	Type string
	DSN  string
}

// NewDB opens the diagnostics database and runs auto-migration,
// mirroring the teacher's NewDBConnection: a NowFunc pinned to UTC and
// migrate-on-boot rather than a separate migration binary.
func NewDB(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "gatewayctl-diagnostics.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported diagnostics database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, gwerrors.New(gwerrors.CodeInternal, "diagnostics", "connect to diagnostics database", err)
	}

	if err := db.AutoMigrate(&CircuitTransitionModel{}, &LatencySnapshotModel{}, &PoolSnapshotModel{}); err != nil {
		return nil, gwerrors.New(gwerrors.CodeInternal, "diagnostics", "migrate diagnostics schema", err)
	}

	return db, nil
}

// Store records and queries diagnostics rows.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an already-migrated *gorm.DB.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordCircuitTransition persists one breaker state change.
func (s *Store) RecordCircuitTransition(provider, from, to, reason string) error {
	row := CircuitTransitionModel{
		Provider:   provider,
		FromState:  from,
		ToState:    to,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "diagnostics", "record circuit transition", err)
	}
	return nil
}

// RecordLatencySnapshot persists one provider latency/failure reading.
func (s *Store) RecordLatencySnapshot(provider string, totalCalls, failureCount, lastLatencyMs int64, circuitState string) error {
	row := LatencySnapshotModel{
		Provider:      provider,
		TotalCalls:    totalCalls,
		FailureCount:  failureCount,
		LastLatencyMs: lastLatencyMs,
		CircuitState:  circuitState,
		SampledAt:     time.Now().UTC(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "diagnostics", "record latency snapshot", err)
	}
	return nil
}

// RecordPoolSnapshot persists one connection-pool occupancy reading.
func (s *Store) RecordPoolSnapshot(host string, inUse, idle, waiters int) error {
	row := PoolSnapshotModel{
		Host:         host,
		InUse:        inUse,
		Idle:         idle,
		WaitersCount: waiters,
		SampledAt:    time.Now().UTC(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "diagnostics", "record pool snapshot", err)
	}
	return nil
}

// RecentCircuitTransitions returns the most recent limit transitions
// for provider, newest first.
func (s *Store) RecentCircuitTransitions(provider string, limit int) ([]CircuitTransitionModel, error) {
	var rows []CircuitTransitionModel
	err := s.db.Where("provider = ?", provider).Order("occurred_at desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, gwerrors.New(gwerrors.CodeInternal, "diagnostics", "query circuit transitions", err)
	}
	return rows, nil
}

// LatestLatencySnapshot returns the most recent reading for provider,
// or nil if none has been recorded yet.
func (s *Store) LatestLatencySnapshot(provider string) (*LatencySnapshotModel, error) {
	var row LatencySnapshotModel
	err := s.db.Where("provider = ?", provider).Order("sampled_at desc").First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, gwerrors.New(gwerrors.CodeInternal, "diagnostics", "query latest latency snapshot", err)
	}
	return &row, nil
}
