package repo

import (
	"context"
	"database/sql"
	"errors"

	"caseline/internal/domain"
)

// Settings keys for the globally configured roles. Role names are data: an
// administrator can change who approves a stage without a code change.
const (
	SettingFinalApproverRole = "final_approver_role"
	SettingProducerRole      = "producer_role"
)

func (r Repo) GetStageRole(ctx context.Context, stage string) (domain.StageRole, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT stage,approver_role,allow_self_approval FROM stage_roles WHERE stage=?`, stage)
	var sr domain.StageRole
	var allowSelf int
	err := row.Scan(&sr.Stage, &sr.ApproverRole, &allowSelf)
	if err == sql.ErrNoRows {
		return sr, ErrNotFound
	}
	sr.AllowSelfApproval = allowSelf != 0
	return sr, err
}

func (r Repo) ListStageRoles(ctx context.Context) ([]domain.StageRole, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage,approver_role,allow_self_approval FROM stage_roles ORDER BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageRole
	for rows.Next() {
		var sr domain.StageRole
		var allowSelf int
		if err := rows.Scan(&sr.Stage, &sr.ApproverRole, &allowSelf); err != nil {
			return nil, err
		}
		sr.AllowSelfApproval = allowSelf != 0
		res = append(res, sr)
	}
	return res, rows.Err()
}

func (r Repo) UpsertStageRole(ctx context.Context, sr domain.StageRole) error {
	if sr.Stage == "" || sr.ApproverRole == "" {
		return errors.New("stage and approver_role required")
	}
	allowSelf := 0
	if sr.AllowSelfApproval {
		allowSelf = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO stage_roles(stage,approver_role,allow_self_approval) VALUES (?,?,?)
ON CONFLICT(stage) DO UPDATE SET approver_role=excluded.approver_role, allow_self_approval=excluded.allow_self_approval`,
		sr.Stage, sr.ApproverRole, allowSelf)
	return err
}

func (r Repo) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM role_settings WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (r Repo) SetSetting(ctx context.Context, key, value string) error {
	if key == "" || value == "" {
		return errors.New("key and value required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO role_settings(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}
