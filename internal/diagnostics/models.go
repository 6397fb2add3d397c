// Package diagnostics persists circuit-breaker transitions and
// pool/provider latency snapshots for operator-facing inspection,
// orthogonal to the mandatory session JSON files.
package diagnostics

import "time"

// CircuitTransitionModel records one circuit breaker state change.
type CircuitTransitionModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Provider  string `gorm:"index;size:64;not null"`
	FromState string `gorm:"size:16;not null"`
	ToState   string `gorm:"size:16;not null"`
	Reason    string `gorm:"size:255"`
	OccurredAt time.Time `gorm:"index"`
}

// TableName pins the table name independent of the Go type name.
func (CircuitTransitionModel) TableName() string { return "circuit_transitions" }

// LatencySnapshotModel records a point-in-time latency/failure reading
// for one provider, sampled periodically off the adapter Router.
type LatencySnapshotModel struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Provider      string    `gorm:"index;size:64;not null"`
	TotalCalls    int64     `gorm:"not null"`
	FailureCount  int64     `gorm:"not null"`
	LastLatencyMs int64     `gorm:"not null"`
	CircuitState  string    `gorm:"size:16;not null"`
	SampledAt     time.Time `gorm:"index"`
}

func (LatencySnapshotModel) TableName() string { return "latency_snapshots" }

// PoolSnapshotModel records point-in-time connection pool occupancy.
type PoolSnapshotModel struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Host         string    `gorm:"index;size:255;not null"`
	InUse        int       `gorm:"not null"`
	Idle         int       `gorm:"not null"`
	WaitersCount int       `gorm:"not null"`
	SampledAt    time.Time `gorm:"index"`
}

func (PoolSnapshotModel) TableName() string { return "pool_snapshots" }
