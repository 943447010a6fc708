package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dronecoord/internal/app"
	"dronecoord/internal/config"
	"dronecoord/internal/db"
	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
	"dronecoord/internal/repo"
	"dronecoord/internal/server"
	"dronecoord/internal/shell"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "dronecoord",
	Short: "Drone operations coordinator",
	Long: `dronecoord matches pilots and drones to missions, reports scheduling and
capability conflicts, and proposes urgent reassignments with an explanation.
Nothing is written until a proposal is confirmed.

Records come from the workspace database (dronecoord import) or from a
Google Sheets spreadsheet (store.backend: sheets in dronecoord.yml).
Every write-back is recorded in the event log, view it with 'dronecoord log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if viper.GetBool("verbose") {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DRONECOORD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(pilotsCmd())
	rootCmd.AddCommand(dronesCmd())
	rootCmd.AddCommand(missionsCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(proposeCmd("suggest", "Suggest a pilot and drone for a mission", (*app.Coordinator).Suggest))
	rootCmd.AddCommand(proposeCmd("urgent", "Propose a least-impact urgent reassignment", (*app.Coordinator).Urgent))
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(discardCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage dronecoord.yml",
		Long:  "dronecoord.yml selects the record store (sqlite or sheets), the matching rules and the chat vocabulary. Defaults apply when it is absent.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default dronecoord.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate dronecoord.yml or the given file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if len(args) == 1 {
				_, err = config.FromFile(args[0])
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace stored records with CSV files",
		Long:  "Reads pilot_roster.csv, drone_fleet.csv, missions.csv and an optional assignments.csv from --dir (default store.csv_dir) into the workspace database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if dir == "" {
					dir = ws.Config.Store.CSVDir
				}
				if dir == "" {
					return fmt.Errorf("--dir required (or set store.csv_dir)")
				}
				res, err := ws.Coordinator.Import(ctx, dir, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported %d pilots, %d drones, %d missions, %d assignments\n", res.Pilots, res.Drones, res.Missions, res.Assignments)
				for _, o := range res.Observations {
					fmt.Printf("  note: %s\n", o.Detail)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding the CSV files")
	return cmd
}

func pilotsCmd() *cobra.Command {
	var f engine.PilotFilter
	cmd := &cobra.Command{
		Use:   "pilots",
		Short: "List pilots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				pilots, err := ws.Coordinator.Pilots(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pilots)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Location", "Skills", "Certifications", "Assignment", "Available From"})
				for _, p := range pilots {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Location, p.Skills, p.Certifications, dash(p.CurrentAssignment), dash(p.AvailableFrom.String())})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Skill, "skill", "", "skill filter")
	cmd.Flags().StringVar(&f.Certification, "cert", "", "certification filter")
	cmd.Flags().StringVar(&f.Location, "location", "", "location filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func dronesCmd() *cobra.Command {
	var f engine.DroneFilter
	var dueBefore string
	cmd := &cobra.Command{
		Use:   "drones",
		Short: "List drones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dueBefore != "" {
				due, err := domain.ParseDate(dueBefore)
				if err != nil {
					return err
				}
				f.MaintenanceDueBefore = due
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				drones, err := ws.Coordinator.Drones(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(drones)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Model", "Status", "Location", "Capabilities", "Maintenance Due", "Assignment"})
				for _, d := range drones {
					tw.AppendRow(table.Row{d.ID, d.Model, d.Status, d.Location, d.Capabilities, dash(d.MaintenanceDue.String()), dash(d.CurrentAssignment)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Capability, "capability", "", "capability filter")
	cmd.Flags().StringVar(&f.Location, "location", "", "location filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&dueBefore, "maintenance-due-before", "", "only drones due for maintenance on or before this date")
	return cmd
}

func missionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "missions",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				missions, err := ws.Coordinator.Missions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Client", "Location", "Skills", "Certifications", "Start", "End", "Priority"})
				for _, m := range missions {
					tw.AppendRow(table.Row{m.ID, m.Client, m.Location, m.RequiredSkills, m.RequiredCertifications, dash(m.StartDate.String()), dash(m.EndDate.String()), m.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func rankCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "rank <mission-id>",
		Short: "Rank pilots or drones for a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := domain.ResourceKind(kind)
			if k != domain.KindPilot && k != domain.KindDrone {
				return fmt.Errorf("--kind must be pilot or drone")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, err := ws.Coordinator.Rank(ctx, args[0], k)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				tw := newTable()
				tw.SetTitle(fmt.Sprintf("Eligible %ss for %s", k, r.MissionID))
				tw.AppendHeader(table.Row{"#", "ID", "Status", "Available", "Location Match", "Capability Match", "Current Mission", "Free At"})
				for i, c := range r.Eligible {
					tw.AppendRow(table.Row{i + 1, c.ID, c.Status, c.Available, c.LocationMatch, c.CapabilityMatch, dash(c.CurrentMission), dash(c.FreeAt.String())})
				}
				tw.Render()
				if len(r.Rejected) > 0 {
					rw := newTable()
					rw.SetTitle("Rejected")
					rw.AppendHeader(table.Row{"ID", "Status", "Reasons"})
					for _, c := range r.Rejected {
						rw.AppendRow(table.Row{c.ID, c.Status, c.RejectionText()})
					}
					rw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.KindPilot), "resource kind (pilot, drone)")
	return cmd
}

func conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Detect conflicts in the current assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				report, err := ws.Coordinator.Conflicts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				if len(report.Conflicts) == 0 {
					fmt.Println("No conflicts detected.")
				} else {
					tw := newTable()
					tw.AppendHeader(table.Row{"Kind", "Resource", "Missions", "Detail"})
					for _, c := range report.Conflicts {
						subject := c.SubjectID
						if c.ResourceKind != "" {
							subject = string(c.ResourceKind) + " " + c.SubjectID
						}
						tw.AppendRow(table.Row{c.Kind, subject, strings.Join(c.MissionIDs, ", "), c.Detail})
					}
					tw.Render()
				}
				for _, o := range report.Observations {
					fmt.Printf("note: %s\n", o.Detail)
				}
				return nil
			})
		},
	}
}

func proposeCmd(use, short string, fn func(*app.Coordinator, context.Context, string) (app.Ticket, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <mission-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := fn(ws.Coordinator, ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Println(shell.FormatProposal(t.Proposal))
				if t.Token != "" {
					fmt.Printf("\nConfirm with:\n  dronecoord confirm %s\n", t.Token)
				}
				return nil
			})
		},
	}
}

func confirmCmd() *cobra.Command {
	var missionID, pilotID, droneID string
	cmd := &cobra.Command{
		Use:   "confirm [token]",
		Short: "Apply a proposal, or an assignment named with --mission/--pilot/--drone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && missionID == "" {
				return fmt.Errorf("a proposal token or --mission is required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actor := viper.GetString("actor-id")
				var out app.Outcome
				var err error
				if len(args) == 1 {
					out, err = ws.Coordinator.Confirm(ctx, args[0], actor)
				} else {
					out, err = ws.Coordinator.ConfirmIDs(ctx, missionID, pilotID, droneID, actor)
				}
				if err != nil {
					return err
				}
				return printOutcome(out)
			})
		},
	}
	cmd.Flags().StringVar(&missionID, "mission", "", "mission id")
	cmd.Flags().StringVar(&pilotID, "pilot", "", "pilot id")
	cmd.Flags().StringVar(&droneID, "drone", "", "drone id")
	return cmd
}

func discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <token>",
		Short: "Discard a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				out, err := ws.Coordinator.Discard(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printOutcome(out)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "status",
		Short: "Set a pilot or drone status",
	}
	st.AddCommand(&cobra.Command{
		Use:   "pilot <id> <status>",
		Short: "Set a pilot status (Available, Assigned, On Leave, Unavailable)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Coordinator.SetPilotStatus(ctx, args[0], strings.Join(args[1:], " "), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Pilot %s status set to %s\n", p.ID, p.Status)
				return nil
			})
		},
	})
	st.AddCommand(&cobra.Command{
		Use:   "drone <id> <status>",
		Short: "Set a drone status (Available, Assigned, Maintenance, Unavailable)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				d, err := ws.Coordinator.SetDroneStatus(ctx, args[0], strings.Join(args[1:], " "), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Drone %s status set to %s\n", d.ID, d.Status)
				return nil
			})
		},
	})
	return st
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the coordinator in plain text",
		Long:  "Reads one request per line from stdin. Type 'help' for examples and 'exit' to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				sh := shell.New(ws.Coordinator, ws.Config.Shell, viper.GetString("actor-id"), logger.Named("shell"))
				return runChat(ctx, sh, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func runChat(ctx context.Context, sh *shell.Shell, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, sh.Handle(ctx, "").Text)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		reply := sh.Handle(ctx, line)
		if viper.GetBool("json") {
			b, _ := json.MarshalIndent(reply, "", "  ")
			fmt.Fprintln(out, string(b))
			continue
		}
		fmt.Fprintln(out, reply.Text)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt_secret"),
				AllowActorHeader: allowActorHeader,
				Logger:           logger.Named("auth"),
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("DRONECOORD_JWT_SECRET is required for bearer auth")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cfg := server.Config{
					Coordinator: ws.Coordinator,
					Journal:     &ws.Journal,
					Webhooks:    ws.Config.Webhooks,
					Vocab:       ws.Config.Shell,
					BasePath:    basePath,
					Auth:        authCfg,
					Log:         logger.Named("server"),
				}
				handler, err := server.New(cfg)
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, cfg)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving dronecoord API", zap.String("addr", addr), zap.String("base_path", basePath), zap.String("backend", ws.Config.Store.Backend))
				fmt.Printf("Serving dronecoord API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept an unauthenticated X-Actor-Id header (local use only)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every confirm, discard, status change and import is recorded here.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Journal.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, strings.TrimSpace(e.EntityKind + " " + e.EntityID), e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Secret:    viper.GetString("proposal_secret"),
		Log:       logger,
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func printOutcome(out app.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(out)
	}
	fmt.Println(shell.FormatOutcome(out))
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
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

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "–"
	}
	return s
}
