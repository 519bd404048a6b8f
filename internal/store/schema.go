package store

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    prefix TEXT NOT NULL,
    command TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    status TEXT NOT NULL,
    error TEXT
);

CREATE TABLE IF NOT EXISTS transaction_packages (
    transaction_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    operation TEXT NOT NULL,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    build TEXT,
    channel TEXT,
    PRIMARY KEY (transaction_id, position),
    FOREIGN KEY (transaction_id) REFERENCES transactions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prefix TEXT NOT NULL,
    kind TEXT NOT NULL,
    snapshot_path TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL,
    package_count INTEGER,
    digest TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_prefix ON transactions(prefix);
CREATE INDEX IF NOT EXISTS idx_transactions_started ON transactions(started_at);
CREATE INDEX IF NOT EXISTS idx_transaction_packages ON transaction_packages(transaction_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_prefix ON snapshots(prefix);
`
