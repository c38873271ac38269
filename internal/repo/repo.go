package repo

import (
	"context"
	"database/sql"
	"errors"

	"caseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx, so reads can run inside
// the transaction that produced the rows.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO cases(id,title,summary,initiator_id,status,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, nullable(c.Summary), c.InitiatorID, c.Status, c.Version, c.CreatedAt, c.UpdatedAt)
	return err
}

func scanCase(row *sql.Row) (domain.Case, error) {
	var c domain.Case
	var summary sql.NullString
	err := row.Scan(&c.ID, &c.Title, &summary, &c.InitiatorID, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if summary.Valid {
		c.Summary = summary.String
	}
	return c, err
}

// GetCase returns the case row; Version is the token for conditional writes.
func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return getCase(ctx, r.DB, id)
}

func getCase(ctx context.Context, q querier, id string) (domain.Case, error) {
	return scanCase(q.QueryRowContext(ctx,
		`SELECT id,title,summary,initiator_id,status,version,created_at,updated_at FROM cases WHERE id=?`, id))
}

// GetCaseFull loads the case with its artifacts and full history.
func (r Repo) GetCaseFull(ctx context.Context, id string) (domain.Case, error) {
	return getCaseFull(ctx, r.DB, id)
}

// GetCaseFullTx is GetCaseFull inside tx, for reading a transition's outcome
// before it commits.
func (r Repo) GetCaseFullTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return getCaseFull(ctx, tx, id)
}

func getCaseFull(ctx context.Context, q querier, id string) (domain.Case, error) {
	c, err := getCase(ctx, q, id)
	if err != nil {
		return c, err
	}
	arts, err := listArtifacts(ctx, q, id)
	if err != nil {
		return c, err
	}
	if len(arts) > 0 {
		c.Artifacts = arts
	}
	c.History, err = listEvents(ctx, q, id)
	return c, err
}

func (r Repo) CaseExists(ctx context.Context, id string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListCases(ctx context.Context, status string) ([]domain.Case, error) {
	query := `SELECT id,title,COALESCE(summary,''),initiator_id,status,version,created_at,updated_at FROM cases`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(&c.ID, &c.Title, &c.Summary, &c.InitiatorID, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateCaseStatusTx performs the conditional write: the row is only touched
// when its version still matches expected. Returns false on a lost race (or a
// missing row; the caller distinguishes via CaseExists).
func (r Repo) UpdateCaseStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string, expected int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE cases SET status=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		status, updatedAt, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) UpsertArtifactTx(ctx context.Context, tx *sql.Tx, a domain.Artifact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO artifacts(case_id,stage,content,version,generated_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(case_id,stage) DO UPDATE SET content=excluded.content, version=excluded.version, generated_by=excluded.generated_by, updated_at=excluded.updated_at`,
		a.CaseID, a.Stage, a.Content, a.Version, a.GeneratedBy, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetArtifact(ctx context.Context, caseID, stage string) (domain.Artifact, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT case_id,stage,content,version,generated_by,created_at,updated_at FROM artifacts WHERE case_id=? AND stage=?`, caseID, stage)
	var a domain.Artifact
	err := row.Scan(&a.CaseID, &a.Stage, &a.Content, &a.Version, &a.GeneratedBy, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListArtifacts(ctx context.Context, caseID string) (map[string]domain.Artifact, error) {
	return listArtifacts(ctx, r.DB, caseID)
}

func listArtifacts(ctx context.Context, q querier, caseID string) (map[string]domain.Artifact, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT case_id,stage,content,version,generated_by,created_at,updated_at FROM artifacts WHERE case_id=?`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.Artifact{}
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.CaseID, &a.Stage, &a.Content, &a.Version, &a.GeneratedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out[a.Stage] = a
	}
	return out, rows.Err()
}

func (r Repo) ListEvents(ctx context.Context, caseID string) ([]domain.Event, error) {
	return listEvents(ctx, r.DB, caseID)
}

func listEvents(ctx context.Context, q querier, caseID string) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id,case_id,ts,actor_id,action,from_status,to_status,COALESCE(note,'') FROM case_events WHERE case_id=? ORDER BY id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.TS, &ev.ActorID, &ev.Action, &ev.FromStatus, &ev.ToStatus, &ev.Note); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) InsertGenerationRequestTx(ctx context.Context, tx *sql.Tx, gr domain.GenerationRequest) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO generation_requests(case_id,stage,requested_by,requested_at) VALUES (?,?,?,?)`,
		gr.CaseID, gr.Stage, gr.RequestedBy, gr.RequestedAt)
	return err
}

func (r Repo) ListGenerationRequests(ctx context.Context, caseID string) ([]domain.GenerationRequest, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,case_id,stage,requested_by,requested_at FROM generation_requests WHERE case_id=? ORDER BY id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GenerationRequest
	for rows.Next() {
		var gr domain.GenerationRequest
		if err := rows.Scan(&gr.ID, &gr.CaseID, &gr.Stage, &gr.RequestedBy, &gr.RequestedAt); err != nil {
			return nil, err
		}
		res = append(res, gr)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
