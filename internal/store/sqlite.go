package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tagship/tagship/internal/model"
	"go.uber.org/zap"
)

// SQLiteStore implements the run-history store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dataPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataPath, "tagship.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(model.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertRun records the start of a publish run
func (s *SQLiteStore) InsertRun(run *model.DBRun) error {
	query := `
		INSERT INTO runs (id, repo, tag, channel, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	run.StartedAt = time.Now()
	run.FinishedAt = run.StartedAt
	run.Status = model.StatusRunning
	_, err := s.db.Exec(
		query,
		run.ID,
		run.Repo,
		run.Tag,
		run.Channel,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// FinishRun records the terminal state of a run along with whatever
// the pipeline learned before it ended
func (s *SQLiteStore) FinishRun(run *model.DBRun) error {
	query := `
		UPDATE runs SET
			package_name = ?,
			version = ?,
			commit_hash = ?,
			artifact_file = ?,
			size = ?,
			status = ?,
			error = ?,
			finished_at = ?
		WHERE id = ?
	`

	run.FinishedAt = time.Now()
	_, err := s.db.Exec(
		query,
		run.PackageName,
		run.Version,
		run.CommitHash,
		run.ArtifactFile,
		run.Size,
		run.Status,
		run.Error,
		run.FinishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

// GetRunByID gets a run by its id
func (s *SQLiteStore) GetRunByID(id string) (*model.DBRun, error) {
	query := `SELECT * FROM runs WHERE id = ?`
	run := &model.DBRun{}
	err := s.scanRun(s.db.QueryRow(query, id), run)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRecentRuns gets the most recent runs across all repositories
func (s *SQLiteStore) GetRecentRuns(limit int) ([]*model.DBRun, error) {
	query := `SELECT * FROM runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRuns(query)
}

// GetRunsByRepo gets the runs recorded for a repository
func (s *SQLiteStore) GetRunsByRepo(repo string, limit int) ([]*model.DBRun, error) {
	query := `SELECT * FROM runs WHERE repo = ? ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRuns(query, repo)
}

// HasRunForTag reports whether any run was recorded for a repo/tag pair.
// The periodic scan uses this to skip tags it has already handled.
func (s *SQLiteStore) HasRunForTag(repo, tag string) (bool, error) {
	query := `SELECT COUNT(*) FROM runs WHERE repo = ? AND tag = ?`
	var count int
	if err := s.db.QueryRow(query, repo, tag).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count runs: %w", err)
	}
	return count > 0, nil
}

// CountRunsByStatus returns how many runs are in the given status
func (s *SQLiteStore) CountRunsByStatus(status string) (int, error) {
	query := `SELECT COUNT(*) FROM runs WHERE status = ?`
	var count int
	if err := s.db.QueryRow(query, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) queryRuns(query string, args ...any) ([]*model.DBRun, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.DBRun
	for rows.Next() {
		run := &model.DBRun{}
		if err := s.scanRun(rows, run); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row scanner, run *model.DBRun) error {
	return row.Scan(
		&run.ID,
		&run.Repo,
		&run.Tag,
		&run.Channel,
		&run.PackageName,
		&run.Version,
		&run.CommitHash,
		&run.ArtifactFile,
		&run.Size,
		&run.Status,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
}
