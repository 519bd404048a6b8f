package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Transaction operations

// InsertTransaction records tx and its packages atomically.
func (s *Store) InsertTransaction(tx *Transaction) error {
	dbtx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	var finished any
	if !tx.FinishedAt.IsZero() {
		finished = tx.FinishedAt.UTC().Format(time.RFC3339)
	}

	_, err = dbtx.Exec(`
		INSERT INTO transactions (id, prefix, command, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.Prefix,
		tx.Command,
		tx.StartedAt.UTC().Format(time.RFC3339),
		finished,
		tx.Status,
		tx.Error,
	)
	if err != nil {
		return wrapErr(err, "failed to insert transaction %s", tx.ID)
	}

	for _, pkg := range tx.Packages {
		_, err := dbtx.Exec(`
			INSERT INTO transaction_packages (transaction_id, position, operation, name, version, build, channel)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			tx.ID,
			pkg.Position,
			pkg.Operation,
			pkg.Name,
			pkg.Version,
			pkg.Build,
			pkg.Channel,
		)
		if err != nil {
			return wrapErr(err, "failed to insert transaction package %s", pkg.Name)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetTransaction retrieves a transaction and its packages by ID.
func (s *Store) GetTransaction(id string) (*Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, prefix, command, started_at, finished_at, status, error
		FROM transactions
		WHERE id = ?
	`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get transaction %s", id)
	}

	if tx.Packages, err = s.transactionPackages(id); err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns the transactions recorded for prefix, newest
// first. An empty prefix lists every prefix; limit <= 0 means no limit.
func (s *Store) ListTransactions(prefix string, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, prefix, command, started_at, finished_at, status, error
		FROM transactions
		WHERE (? = '' OR prefix = ?)
		ORDER BY started_at DESC, rowid DESC
	`
	args := []any{prefix, prefix}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapErr(err, "failed to list transactions")
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	for _, tx := range txs {
		if tx.Packages, err = s.transactionPackages(tx.ID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var tx Transaction
	var startedAt string
	var finishedAt, errMsg sql.NullString

	if err := row.Scan(&tx.ID, &tx.Prefix, &tx.Command, &startedAt, &finishedAt, &tx.Status, &errMsg); err != nil {
		return nil, err
	}

	var err error
	tx.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for transaction %s: %w", tx.ID, err)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		tx.FinishedAt, err = time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for transaction %s: %w", tx.ID, err)
		}
	}
	tx.Error = errMsg.String
	return &tx, nil
}

func (s *Store) transactionPackages(id string) ([]*TransactionPackage, error) {
	rows, err := s.db.Query(`
		SELECT position, operation, name, version, build, channel
		FROM transaction_packages
		WHERE transaction_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, wrapErr(err, "failed to get packages of transaction %s", id)
	}
	defer rows.Close()

	var pkgs []*TransactionPackage
	for rows.Next() {
		var pkg TransactionPackage
		var build, channel sql.NullString
		if err := rows.Scan(&pkg.Position, &pkg.Operation, &pkg.Name, &pkg.Version, &build, &channel); err != nil {
			return nil, fmt.Errorf("failed to scan transaction package row: %w", err)
		}
		pkg.Build = build.String
		pkg.Channel = channel.String
		pkgs = append(pkgs, &pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction packages: %w", err)
	}
	return pkgs, nil
}

// Snapshot operations

// InsertSnapshot registers a snapshot file. Snapshots are immutable, so
// registering a path twice keeps the first registration and returns its ID.
func (s *Store) InsertSnapshot(snap *Snapshot) (int64, error) {
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO snapshots (prefix, kind, snapshot_path, created_at, package_count, digest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_path) DO NOTHING
	`,
		snap.Prefix,
		snap.Kind,
		snap.SnapshotPath,
		createdAt.UTC().Format(time.RFC3339),
		snap.PackageCount,
		snap.Digest,
	)
	if err != nil {
		return 0, wrapErr(err, "failed to insert snapshot %s", snap.SnapshotPath)
	}

	existing, err := s.GetSnapshotByPath(snap.SnapshotPath)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

const snapshotColumns = `id, prefix, kind, snapshot_path, created_at, package_count, digest`

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(id int64) (*Snapshot, error) {
	row := s.db.QueryRow(`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get snapshot %d", id)
	}
	return snap, nil
}

// GetSnapshotByPath retrieves the registration of a snapshot file.
func (s *Store) GetSnapshotByPath(path string) (*Snapshot, error) {
	row := s.db.QueryRow(`SELECT `+snapshotColumns+` FROM snapshots WHERE snapshot_path = ?`, path)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get snapshot %s", path)
	}
	return snap, nil
}

// ListSnapshots returns the snapshots registered for prefix ordered by
// creation time (newest first). An empty prefix lists all of them.
func (s *Store) ListSnapshots(prefix string) ([]*Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE (? = '' OR prefix = ?)
		ORDER BY created_at DESC, id DESC
	`, prefix, prefix)
	if err != nil {
		return nil, wrapErr(err, "failed to list snapshots")
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var createdAt string
	var count sql.NullInt64

	err := row.Scan(
		&snap.ID,
		&snap.Prefix,
		&snap.Kind,
		&snap.SnapshotPath,
		&createdAt,
		&count,
		&snap.Digest,
	)
	if err != nil {
		return nil, err
	}
	snap.PackageCount = int(count.Int64)

	snap.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for snapshot %d: %w", snap.ID, err)
	}
	return &snap, nil
}
