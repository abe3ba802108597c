package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/engine/auth"
	"pressline/internal/migrate"
	"pressline/internal/repo"
	"pressline/internal/scheduler"
	"pressline/internal/server"
	"pressline/internal/stage"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Pressline CLI",
	Long: `Pressline tracks print-shop orders through their production workflow.
Core concepts:
- Workspace: the .pressline directory holding the database; pressline.yml next to it.
- Project: one order revision walking an ordered status sequence per project type.
- Gates: payments unlock production completion, a mockup unlocks graphics completion,
  and departments must acknowledge engagement before their stage can complete.
- Revisions: finished orders are immutable; 'pl project reopen' starts a new version
  in the same lineage.
- Reminders: absolute-time or stage-watching alarms swept by 'pl sweep' or the
  serve loop; view deliveries with 'pl log tail'.`,
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
	viper.SetEnvPrefix("PRESSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "admin override for status transitions")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(reminderCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliActor() auth.Actor {
	return auth.Actor{ID: viper.GetString("actor-id")}
}

// config

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var shopID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default pressline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(shopID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&shopID, "shop-id", "pressline", "shop identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

// project

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage order projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectTransitionCmd())
	prj.AddCommand(projectAckCmd())
	prj.AddCommand(projectPaymentCmd())
	prj.AddCommand(projectMockupCmd())
	prj.AddCommand(projectFeedbackCmd())
	prj.AddCommand(projectFinishCmd())
	prj.AddCommand(projectReopenCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, orderID, ptype, priority, item string
	var departments []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				depts := make([]stage.Department, 0, len(departments))
				for _, d := range departments {
					depts = append(depts, stage.Department(d))
				}
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:          id,
					OrderID:     orderID,
					ProjectType: stage.ProjectType(ptype),
					Priority:    stage.Priority(priority),
					Item:        item,
					Departments: depts,
					Actor:       cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&orderID, "order-id", "", "human order number")
	cmd.Flags().StringVar(&ptype, "type", "Standard", "project type")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (defaults by type)")
	cmd.Flags().StringVar(&item, "item", "", "item description")
	cmd.Flags().StringSliceVar(&departments, "department", nil, "engaged department (repeatable)")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order", "Type", "Ver", "Priority", "Status"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.OrderID, p.ProjectType, p.VersionNumber, p.Priority, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its gates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectTransitionCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "transition <project-id>",
		Short: "Move a project to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.TransitionStatus(ctx, args[0], stage.Status(status), cliActor(), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	return cmd
}

func projectAckCmd() *cobra.Command {
	var department string
	cmd := &cobra.Command{
		Use:   "ack <project-id>",
		Short: "Acknowledge department engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if department == "" {
				return fmt.Errorf("--department required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AcknowledgeDepartment(ctx, args[0], stage.Department(department), cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department id")
	return cmd
}

func projectPaymentCmd() *cobra.Command {
	var payType string
	cmd := &cobra.Command{
		Use:   "payment <project-id>",
		Short: "Record a payment verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pv, err := e.RecordPaymentVerification(ctx, args[0], payType, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(pv)
			})
		},
	}
	cmd.Flags().StringVar(&payType, "type", "", "payment type (deposit, balance, full)")
	return cmd
}

func projectMockupCmd() *cobra.Command {
	var fileURL, fileName string
	cmd := &cobra.Command{
		Use:   "mockup <project-id>",
		Short: "Attach the mockup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AttachMockup(ctx, args[0], fileURL, fileName, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&fileURL, "url", "", "mockup file url")
	cmd.Flags().StringVar(&fileName, "name", "", "mockup file name")
	return cmd
}

func projectFeedbackCmd() *cobra.Command {
	var ftype, notes string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "feedback <project-id>",
		Short: "Record customer feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.RecordFeedback(ctx, args[0], domain.FeedbackType(ftype), notes, attachments, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&ftype, "type", "", "Positive or Negative")
	cmd.Flags().StringVar(&notes, "notes", "", "feedback notes")
	cmd.Flags().StringSliceVar(&attachments, "attachment", nil, "attachment url (repeatable)")
	return cmd
}

func projectFinishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finish <project-id>",
		Short: "Archive a completed project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.MarkFinished(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectReopenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <project-id>",
		Short: "Reopen a finished project as a new revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ReopenAsRevision(ctx, args[0], reason, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the order is being reopened")
	return cmd
}

// reminder

func reminderCmd() *cobra.Command {
	rem := &cobra.Command{Use: "reminder", Short: "Manage reminders"}
	rem.AddCommand(reminderCreateCmd())
	rem.AddCommand(reminderListCmd())
	rem.AddCommand(reminderSnoozeCmd())
	rem.AddCommand(reminderCompleteCmd())
	rem.AddCommand(reminderCancelCmd())
	rem.AddCommand(reminderEditCmd())
	rem.AddCommand(reminderDeleteCmd())
	return rem
}

func reminderCreateCmd() *cobra.Command {
	var projectID, title, message, mode, remindAt, repeat, watchStatus string
	var delayMinutes int
	var email bool
	var recipients []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				rm, err := s.Create(ctx, scheduler.CreateOptions{
					ProjectID:    projectID,
					Title:        title,
					Message:      message,
					TriggerMode:  domain.TriggerMode(mode),
					RemindAt:     remindAt,
					Repeat:       domain.Repeat(repeat),
					WatchStatus:  stage.Status(watchStatus),
					DelayMinutes: delayMinutes,
					Channels:     domain.Channels{InApp: true, Email: email},
					Recipients:   recipients,
					Actor:        cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rm)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "reminder title")
	cmd.Flags().StringVar(&message, "message", "", "reminder message")
	cmd.Flags().StringVar(&mode, "mode", "absolute_time", "absolute_time or stage_based")
	cmd.Flags().StringVar(&remindAt, "at", "", "RFC3339 time for absolute_time")
	cmd.Flags().StringVar(&repeat, "repeat", "none", "none, daily, weekly or monthly")
	cmd.Flags().StringVar(&watchStatus, "watch-status", "", "status watched by stage_based")
	cmd.Flags().IntVar(&delayMinutes, "delay-minutes", 0, "delay after the status match")
	cmd.Flags().BoolVar(&email, "email", false, "also deliver by email")
	cmd.Flags().StringSliceVar(&recipients, "recipient", nil, "recipient actor id (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func reminderListCmd() *cobra.Command {
	var projectID string
	var includeCompleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReminders(ctx, projectID, includeCompleted)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Mode", "Trigger", "Repeat", "Status"})
				for _, rm := range items {
					trigger := ""
					switch rm.TriggerMode {
					case domain.TriggerAbsoluteTime:
						if rm.RemindAt != nil {
							trigger = *rm.RemindAt
						}
					case domain.TriggerStageBased:
						if rm.WatchStatus != nil {
							trigger = fmt.Sprintf("%s +%dm", *rm.WatchStatus, rm.DelayMinutes)
						}
					}
					tw.AppendRow(table.Row{rm.ID, rm.Title, rm.TriggerMode, trigger, rm.Repeat, rm.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVar(&includeCompleted, "all", false, "include completed and cancelled")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func reminderSnoozeCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "snooze <reminder-id>",
		Short: "Snooze a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				rm, err := s.Snooze(ctx, args[0], minutes, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(rm)
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "snooze length (config default when 0)")
	return cmd
}

func reminderCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <reminder-id>",
		Short: "Complete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				rm, err := s.Complete(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(rm)
			})
		},
	}
}

func reminderCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <reminder-id>",
		Short: "Cancel a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				rm, err := s.Cancel(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(rm)
			})
		},
	}
}

func reminderEditCmd() *cobra.Command {
	var title, message, remindAt, repeat, watchStatus string
	var delayMinutes int
	var recipients []string
	cmd := &cobra.Command{
		Use:   "edit <reminder-id>",
		Short: "Edit a reminder that has not fired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				var opts scheduler.EditOptions
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("message") {
					opts.Message = &message
				}
				if cmd.Flags().Changed("at") {
					opts.RemindAt = &remindAt
				}
				if cmd.Flags().Changed("repeat") {
					r := domain.Repeat(repeat)
					opts.Repeat = &r
				}
				if cmd.Flags().Changed("watch-status") {
					ws := stage.Status(watchStatus)
					opts.WatchStatus = &ws
				}
				if cmd.Flags().Changed("delay-minutes") {
					opts.DelayMinutes = &delayMinutes
				}
				if cmd.Flags().Changed("recipient") {
					opts.Recipients = recipients
				}
				rm, err := s.Edit(ctx, args[0], opts, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(rm)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "reminder title")
	cmd.Flags().StringVar(&message, "message", "", "reminder message")
	cmd.Flags().StringVar(&remindAt, "at", "", "RFC3339 time for absolute_time")
	cmd.Flags().StringVar(&repeat, "repeat", "", "none, daily, weekly or monthly")
	cmd.Flags().StringVar(&watchStatus, "watch-status", "", "status watched by stage_based")
	cmd.Flags().IntVar(&delayMinutes, "delay-minutes", 0, "delay after the status match")
	cmd.Flags().StringSliceVar(&recipients, "recipient", nil, "recipient actor id (repeatable)")
	return cmd
}

func reminderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <reminder-id>",
		Short: "Delete a cancelled or completed reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				return s.Delete(ctx, args[0], cliActor())
			})
		},
	}
}

// sweep

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate due reminders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				fired, err := s.Sweep(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fired)
				}
				fmt.Printf("fired %d reminder(s)\n", len(fired))
				return nil
			})
		},
	}
}

// log

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

// rbac

func rbacCmd() *cobra.Command {
	rb := &cobra.Command{Use: "rbac", Short: "Manage actor roles"}
	rb.AddCommand(rbacGrantCmd())
	rb.AddCommand(rbacRevokeCmd())
	rb.AddCommand(rbacRolesCmd())
	return rb
}

func rbacGrantCmd() *cobra.Command {
	var actorID, roleID string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Auth.GrantRole(ctx, actorID, roleID)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&roleID, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var actorID, roleID string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Auth.RevokeRole(ctx, actorID, roleID)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&roleID, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles <actor-id>",
		Short: "List an actor's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				roles, err := e.Auth.ActorRoles(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(roles)
			})
		},
	}
	return cmd
}

// apikey

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "plk_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Auth.EnsureActor(ctx, tx, key.ActorID); err != nil {
					return err
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The secret is shown exactly once; only its hash is stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the current actor's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

// serve

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the reminder sweep loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			sched := scheduler.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PRESSLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PRESSLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, Scheduler: sched, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			c := cron.New()
			if _, err := c.AddFunc(cfg.SweepInterval(), func() {
				if _, err := sched.Sweep(context.Background()); err != nil {
					fmt.Println("sweep:", err)
				}
			}); err != nil {
				return fmt.Errorf("invalid sweep interval %q: %w", cfg.SweepInterval(), err)
			}
			c.Start()
			defer c.Stop()
			server.StartWebhookDispatcher(cmd.Context(), e)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pressline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// helpers

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withScheduler(ctx context.Context, fn func(context.Context, scheduler.Scheduler) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, scheduler.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
