package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"saifguard/internal/logging"
)

// Report is one persisted audit report.
type Report struct {
	ID        string
	ProjectID string
	Markdown  string
	RowCount  int
	CreatedAt time.Time
}

// SaveReport persists an audit report and returns its id.
func (s *LocalStore) SaveReport(projectID, markdown string, rowCount int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO reports (id, project_id, markdown, row_count) VALUES (?, ?, ?, ?)",
		id, projectID, markdown, rowCount,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	logging.StoreDebug("Saved report %s for project %s (%d rows)", id, projectID, rowCount)
	return id, nil
}

// LatestReport returns the most recent report for a project, or nil if
// the project has never been audited.
func (s *LocalStore) LatestReport(projectID string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r Report
	err := s.db.QueryRow(
		`SELECT id, project_id, markdown, row_count, created_at
		 FROM reports
		 WHERE project_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		projectID,
	).Scan(&r.ID, &r.ProjectID, &r.Markdown, &r.RowCount, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	return &r, nil
}
