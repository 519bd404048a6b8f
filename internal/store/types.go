package store

import "time"

// Transaction statuses.
const (
	StatusCommitted = "committed"
	StatusFailed    = "failed"
)

// Package operations within a transaction.
const (
	OpUnlink = "unlink"
	OpLink   = "link"
)

// Transaction is one recorded remove+install plan applied to a prefix.
type Transaction struct {
	ID         string
	Prefix     string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
	Packages   []*TransactionPackage
}

// TransactionPackage is one step of a transaction, in execution order.
type TransactionPackage struct {
	Position  int
	Operation string // "unlink" or "link"
	Name      string
	Version   string
	Build     string
	Channel   string
}

// Snapshot is a registered explicit snapshot file and the digest of its
// content at registration time.
type Snapshot struct {
	ID           int64
	Prefix       string
	Kind         string
	SnapshotPath string
	CreatedAt    time.Time
	PackageCount int
	Digest       string
}
