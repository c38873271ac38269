package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/migrate"
	"caseline/internal/producer"
	"caseline/internal/repo"
)

// App holds the wired subsystems for one workspace.
type App struct {
	DB         *sql.DB
	Engine     lifecycle.Engine
	Dispatcher *producer.Dispatcher
	Config     *config.Config
}

// Bootstrap opens the workspace store, runs migrations, seeds the role
// configuration from caseline.yml (or the built-in default when the file is
// absent), and wires the engine to the producer dispatcher.
func Bootstrap(ctx context.Context, workspace string, logger *log.Logger) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	eng := lifecycle.New(conn)
	eng.Logger = logger
	if err := SeedRoles(ctx, eng.Repo, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed role config: %w", err)
	}
	d := producer.NewDispatcher(eng, cfg, logger)
	eng.Dispatch = d
	return &App{DB: conn, Engine: eng, Dispatcher: d, Config: cfg}, nil
}

func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	return a.DB.Close()
}

// SeedRoles writes the config's stage->approver mapping and global role
// settings into the store, without clobbering values an admin already set at
// runtime.
func SeedRoles(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	for stage, policy := range cfg.Stages {
		_, err := r.GetStageRole(ctx, stage)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := r.UpsertStageRole(ctx, domain.StageRole{
			Stage:             stage,
			ApproverRole:      policy.ApproverRole,
			AllowSelfApproval: policy.AllowSelfApproval,
		}); err != nil {
			return err
		}
	}
	settings := map[string]string{
		repo.SettingFinalApproverRole: cfg.FinalApproverRole,
		repo.SettingProducerRole:      cfg.ProducerRole,
	}
	for key, value := range settings {
		_, err := r.GetSetting(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := r.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}
