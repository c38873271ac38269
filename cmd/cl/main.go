package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/lifecycle/auth"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline tracks business cases through a staged authoring pipeline.
A case walks six content stages (PRD, system design, effort, cost, value,
financial model). Each stage is drafted by a producer or the initiator,
submitted for review, and approved or rejected by a role-gated reviewer;
a final approver signs the whole case off. Every transition is recorded in
an append-only history and serialized by an optimistic version check.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func actor() auth.Identity {
	return auth.Identity{ActorID: viper.GetString("actor-id")}
}

func knownStatus(status string) bool {
	for _, s := range lifecycle.AllStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Bootstrap(ctx, viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printCase(c domain.Case) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Title", "Status", "Version", "Initiator", "Updated"})
	t.AppendRow(table.Row{c.ID, c.Title, c.Status, c.Version, c.InitiatorID, c.UpdatedAt})
	t.Render()
	return nil
}

func printCases(items []domain.Case) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Title", "Status", "Version", "Updated"})
	for _, c := range items {
		t.AppendRow(table.Row{c.ID, c.Title, c.Status, c.Version, c.UpdatedAt})
	}
	t.Render()
	return nil
}

func printHistory(events []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"TS", "Actor", "Action", "From", "To", "Note"})
	for _, ev := range events {
		t.AppendRow(table.Row{ev.TS, ev.ActorID, ev.Action, ev.FromStatus, ev.ToStatus, ev.Note})
	}
	t.Render()
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Println("workspace ready:", db.Path(workspace))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect workspace configuration"}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			var cfg *config.Config
			var err error
			if file != "" {
				cfg, err = config.FromFile(file)
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			fmt.Printf("config ok: %d stages, final approver %s, producer role %s\n",
				len(cfg.Stages), cfg.FinalApproverRole, cfg.ProducerRole)
			return nil
		},
	}
	validate.Flags().String("file", "", "validate this file instead of the workspace config")
	c.AddCommand(validate)
	return c
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage business cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseHistoryCmd())
	c.AddCommand(caseActionCmd("generate", "Request draft generation for the current stage", lifecycle.ActionTriggerGeneration))
	c.AddCommand(caseActionCmd("submit", "Submit the current stage draft for review", lifecycle.ActionSubmitDraft))
	c.AddCommand(caseActionCmd("approve", "Approve the pending review", lifecycle.ActionApprove))
	c.AddCommand(caseRejectCmd())
	c.AddCommand(caseEditCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new case",
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			summary, _ := cmd.Flags().GetString("summary")
			id, _ := cmd.Flags().GetString("id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.CreateCase(ctx, lifecycle.CaseCreateOptions{
					ID:      id,
					Title:   title,
					Summary: summary,
					Actor:   actor(),
				})
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().String("title", "", "case title")
	cmd.Flags().String("summary", "", "short proposal summary")
	cmd.Flags().String("id", "", "explicit case id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func caseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			if status != "" && !knownStatus(status) {
				return fmt.Errorf("unknown status %s (one of: %s)", status, strings.Join(lifecycle.AllStatuses(), ", "))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListCases(ctx, status)
				if err != nil {
					return err
				}
				return printCases(items)
			})
		},
	}
	cmd.Flags().String("status", "", "filter by status")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with artifacts and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.Repo.GetCaseFull(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func caseHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <case-id>",
		Short: "Show the case audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				return printHistory(events)
			})
		},
	}
}

func caseActionCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <case-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Advance(ctx, lifecycle.Request{
					CaseID: args[0],
					Action: action,
					Actor:  actor(),
				})
				if err != nil {
					return err
				}
				return printCase(res.Case)
			})
		},
	}
}

func caseRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <case-id>",
		Short: "Reject the pending review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Advance(ctx, lifecycle.Request{
					CaseID: args[0],
					Action: lifecycle.ActionReject,
					Actor:  actor(),
					Reason: reason,
				})
				if err != nil {
					return err
				}
				return printCase(res.Case)
			})
		},
	}
	cmd.Flags().String("reason", "", "rejection reason, recorded in history")
	return cmd
}

func caseEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <case-id>",
		Short: "Edit the current stage artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, _ := cmd.Flags().GetString("content")
			file, _ := cmd.Flags().GetString("file")
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(data)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Advance(ctx, lifecycle.Request{
					CaseID:  args[0],
					Action:  lifecycle.ActionEdit,
					Actor:   actor(),
					Content: content,
				})
				if err != nil {
					return err
				}
				return printCase(res.Case)
			})
		},
	}
	cmd.Flags().String("content", "", "artifact content")
	cmd.Flags().String("file", "", "file to read artifact content from")
	return cmd
}

func rolesCmd() *cobra.Command {
	c := &cobra.Command{Use: "roles", Short: "Stage approver role configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show stage and final approver roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stages, err := a.Engine.Repo.ListStageRoles(ctx)
				if err != nil {
					return err
				}
				final, err := a.Engine.Repo.GetSetting(ctx, repo.SettingFinalApproverRole)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"stages": stages, "final_approver_role": final})
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Stage", "Approver role", "Self-approval"})
				for _, sr := range stages {
					t.AppendRow(table.Row{sr.Stage, sr.ApproverRole, sr.AllowSelfApproval})
				}
				t.AppendRow(table.Row{"(final)", final, false})
				t.Render()
				return nil
			})
		},
	})
	setStage := &cobra.Command{
		Use:   "set-stage <stage>",
		Short: "Change who approves a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			allowSelf, _ := cmd.Flags().GetBool("allow-self")
			if _, ok := lifecycle.StageByName(args[0]); !ok {
				return fmt.Errorf("unknown stage %s", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.UpsertStageRole(ctx, domain.StageRole{
					Stage:             args[0],
					ApproverRole:      role,
					AllowSelfApproval: allowSelf,
				})
			})
		},
	}
	setStage.Flags().String("role", "", "approver role name")
	setStage.Flags().Bool("allow-self", false, "permit initiator self-approval")
	_ = setStage.MarkFlagRequired("role")
	c.AddCommand(setStage)
	setFinal := &cobra.Command{
		Use:   "set-final",
		Short: "Change the final approver role",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.SetSetting(ctx, repo.SettingFinalApproverRole, role)
			})
		},
	}
	setFinal.Flags().String("role", "", "final approver role name")
	_ = setFinal.MarkFlagRequired("role")
	c.AddCommand(setFinal)
	return c
}

func rbacCmd() *cobra.Command {
	c := &cobra.Command{Use: "rbac", Short: "Grant and revoke actor roles"}
	c.AddCommand(&cobra.Command{
		Use:   "grant <actor-id> <role>",
		Short: "Grant a role to an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Auth.GrantRole(ctx, args[0], args[1])
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "revoke <actor-id> <role>",
		Short: "Revoke a role from an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Auth.RevokeRole(ctx, args[0], args[1])
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show an actor's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				roles, err := a.Engine.Auth.ActorRoles(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"actor_id": args[0], "roles": roles})
			})
		},
	})
	return c
}

func keyCmd() *cobra.Command {
	c := &cobra.Command{Use: "key", Short: "Manage API keys"}
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, _ := cmd.Flags().GetString("actor")
			name, _ := cmd.Flags().GetString("name")
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Auth.EnsureActor(ctx, nil, actorID); err != nil {
					return err
				}
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The plain secret is only printed once.
				return printJSON(map[string]string{"id": key.ID, "actor_id": actorID, "key": secret})
			})
		},
	}
	create.Flags().String("actor", "", "actor the key authenticates as")
	create.Flags().String("name", "", "key label")
	c.AddCommand(create)
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return c
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			basePath, _ := cmd.Flags().GetString("base-path")
			jwtSecret := viper.GetString("jwt-secret")
			allowLegacy, _ := cmd.Flags().GetBool("allow-legacy-actor-header")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              jwtSecret,
						AllowLegacyActorHeader: allowLegacy,
					},
				})
				if err != nil {
					return err
				}
				fmt.Println("listening on", addr)
				return http.ListenAndServe(addr, handler)
			})
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("allow-legacy-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
