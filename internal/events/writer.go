package events

import (
	"context"
	"database/sql"
	"time"

	"caseline/internal/domain"
)

// Writer appends history entries. Append always runs inside the same
// transaction as the conditional status write, so a lost race leaves no
// history behind.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	if ev.TS == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		ev.TS = now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO case_events(case_id,ts,actor_id,action,from_status,to_status,note) VALUES (?,?,?,?,?,?,?)`,
		ev.CaseID, ev.TS, ev.ActorID, ev.Action, ev.FromStatus, ev.ToStatus, nullable(ev.Note))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
