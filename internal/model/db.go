package model

import (
	"time"
)

// Run statuses. A run walks one linear path: running, then either
// confirmed or failed. There are no recoverable intermediate states.
const (
	StatusRunning   = "running"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// DBRun represents one publish-and-verify execution in the database
type DBRun struct {
	ID           string    `db:"id"`
	Repo         string    `db:"repo"`
	Tag          string    `db:"tag"`
	Channel      string    `db:"channel"`
	PackageName  string    `db:"package_name"`
	Version      string    `db:"version"`
	CommitHash   string    `db:"commit_hash"`
	ArtifactFile string    `db:"artifact_file"`
	Size         int64     `db:"size"`
	Status       string    `db:"status"`
	Error        string    `db:"error"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

// Schema contains the SQL schema for the database
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repo TEXT NOT NULL,
    tag TEXT NOT NULL,
    channel TEXT NOT NULL,
    package_name TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL DEFAULT '',
    commit_hash TEXT NOT NULL DEFAULT '',
    artifact_file TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo);
CREATE INDEX IF NOT EXISTS idx_runs_tag ON runs(repo, tag);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`
