// Package state persists captured provenance so a later process can look up the
// source that produced a binding. It uses SQLite with embedded goose migrations.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store defines the provenance persistence operations.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	CreateRun(env string) (*Run, error)
	SaveRecords(runID string, records []Record) error
	ListRecords(filter RecordFilter) ([]Record, error)
	LatestSource(name string) (string, bool, error)
}

// Run groups the records captured by one invocation.
type Run struct {
	ID          string
	Environment string
	StartedAt   time.Time
}

// Record is one tagged binding and the source that produced it.
type Record struct {
	ID         string    `json:"id" yaml:"id"`
	RunID      string    `json:"run_id" yaml:"run_id"`
	Script     string    `json:"script" yaml:"script"`
	Namespace  string    `json:"namespace" yaml:"namespace"`
	Name       string    `json:"name" yaml:"name"`
	ValueType  string    `json:"value_type" yaml:"value_type"`
	SourceHash string    `json:"source_hash" yaml:"source_hash"`
	Source     string    `json:"source" yaml:"source"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// RecordFilter narrows ListRecords. Zero fields match everything.
type RecordFilter struct {
	Name  string
	RunID string
	Limit int
}

// HashSource returns the hex sha256 of src.
func HashSource(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}
