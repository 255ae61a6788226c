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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"programline/internal/app"
	"programline/internal/config"
	"programline/internal/db"
	"programline/internal/engine"
	"programline/internal/migrate"
	"programline/internal/repo"
	"programline/internal/server"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Programline CLI",
	Long: `Programline runs innovation programs from planning to alumni impact.
Core concepts:
- Workspace: a directory holding .programline/programline.db and an optional programline.yml.
- Program: an accelerator, hackathon or similar cohort that moves planning -> applications_open -> selection -> active -> completed (cancelled is an exit).
- Gates: launch, screening, mentor matching, selection and completion. Each gate checks its inputs before it moves anything.
- Outbox: notifications and status emails are written with the change and delivered later by 'pl outbox dispatch' or 'pl serve'.
- Event log: every change is recorded; view it with 'pl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := buildLogger(viper.GetBool("verbose")); err != nil {
			return err
		}
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
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	// The workspace .env never overrides variables already set.
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: read %s: %v\n", envFile, err)
	}
	viper.SetEnvPrefix("PROGRAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func buildLogger(verbose bool) error {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger = l
	return nil
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.StringP("program", "p", "", "program id (overrides PROGRAMLINE_PROGRAM)")
	flags.Int64("expected-version", 0, "fail unless the program is at this version")
	flags.BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "actor-id", "program", "expected-version", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(lessonCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(kpiCmd())
	rootCmd.AddCommand(workCmd("pilot"))
	rootCmd.AddCommand(workCmd("solution"))
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default programline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists", target)
			}
			if err := os.WriteFile(target, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", target)
			return nil
		},
	})
	var filePath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			c, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true, "required_launch_keys": c.RequiredLaunchKeys()})
			}
			fmt.Printf("%s is valid (%d launch items, %d completion items)\n", filePath, len(c.Gates.Launch.Checklist), len(c.Gates.Completion.Checklist))
			return nil
		},
	}
	validate.Flags().StringVar(&filePath, "file", "", "path to YAML config (default: workspace programline.yml)")
	cfg.AddCommand(validate)

	var importPath string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML config into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.FromFile(importPath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertWorkspaceConfig(ctx, c); err != nil {
					return err
				}
				if err := app.Bootstrap(ctx, r, c, ""); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	imp.Flags().StringVar(&importPath, "file", "", "path to YAML config")
	_ = imp.MarkFlagRequired("file")
	cfg.AddCommand(imp)
	return cfg
}

func migrateCmd() *cobra.Command {
	m := &cobra.Command{Use: "migrate", Short: "Database schema"}
	m.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.CurrentStatus(cmd.Context(), conn)
			if err != nil {
				return err
			}
			return printJSONOrTable(st)
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			st, err := migrate.CurrentStatus(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", st.Current)
			return nil
		},
	})
	return m
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dispatch, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PROGRAMLINE_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				sender := app.BuildSender(e.Config, app.LookupEnv, logger)
				dispatcher := app.NewDispatcher(e.Repo, e.Config, sender, logger.Named("outbox"))
				handler, err := server.New(server.Config{
					Engine:     e,
					BasePath:   basePath,
					Logger:     logger.Named("http"),
					Dispatcher: dispatcher,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: legacyHeader,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					fmt.Printf("Serving Programline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				if dispatch {
					g.Go(func() error {
						if err := dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
							return err
						}
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&dispatch, "dispatch", true, "run the outbox dispatcher alongside the API")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			program := viper.GetString("program")
			var owner ownerFunc = workspaceOrg
			if program != "" {
				owner = forProgram(program)
			}
			return withEngineIn(cmd.Context(), "event.read", owner, func(ctx context.Context, e engine.Engine) error {
				f := repo.EventFilter{
					ProgramID:  program,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				}
				if program == "" {
					f.Scope = e.OrgScope(e.WorkspaceOrg())
				}
				events, err := e.ActivityLog(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, ev := range events {
					tw.AppendRow([]any{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	l.AddCommand(tail)
	return l
}

// --- helpers ---

// withEngine opens the workspace, resolves the config and, when perm is set,
// checks the acting actor holds it before running fn.
// ownerFunc resolves the organization a command's target belongs to.
type ownerFunc func(context.Context, engine.Engine) (string, error)

func workspaceOrg(_ context.Context, e engine.Engine) (string, error) { return e.WorkspaceOrg(), nil }

func forProgram(id string) ownerFunc {
	return func(ctx context.Context, e engine.Engine) (string, error) { return e.ProgramOrg(ctx, id) }
}

func forApplication(id string) ownerFunc {
	return func(ctx context.Context, e engine.Engine) (string, error) { return e.ApplicationOrg(ctx, id) }
}

func forPlan(id string) ownerFunc {
	return func(ctx context.Context, e engine.Engine) (string, error) { return e.PlanOrg(ctx, id) }
}

func forEmailJob(id string) ownerFunc {
	return func(ctx context.Context, e engine.Engine) (string, error) { return e.EmailJobOrg(ctx, id) }
}

func withEngine(ctx context.Context, perm string, fn func(context.Context, engine.Engine) error) error {
	return withEngineIn(ctx, perm, workspaceOrg, fn)
}

func withProgram(ctx context.Context, id, perm string, fn func(context.Context, engine.Engine) error) error {
	return withEngineIn(ctx, perm, forProgram(id), fn)
}

func withApplication(ctx context.Context, id, perm string, fn func(context.Context, engine.Engine) error) error {
	return withEngineIn(ctx, perm, forApplication(id), fn)
}

// withEngineIn opens the workspace and checks perm in the organization owner
// resolves to before running fn.
func withEngineIn(ctx context.Context, perm string, owner ownerFunc, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	if err := app.Bootstrap(ctx, r, cfg, ""); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	inv, err := app.BuildInvoker(ctx, cfg, app.LookupEnv)
	if err != nil {
		return err
	}
	e.LLM = inv
	if perm != "" {
		orgID, err := owner(ctx, e)
		if err != nil {
			return err
		}
		if err := authorize(ctx, e, orgID, perm); err != nil {
			return err
		}
	}
	return fn(ctx, e)
}

func authorize(ctx context.Context, e engine.Engine, orgID, perm string) error {
	if err := e.Authorize(ctx, orgID, actorID(), perm); err != nil {
		return fmt.Errorf("%w (grant a role with 'pl rbac grant' or 'pl rbac bootstrap')", err)
	}
	return nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func actorID() string { return viper.GetString("actor-id") }

func expectedVersion() int64 { return viper.GetInt64("expected-version") }

// programID takes the first positional argument, then --program and
// PROGRAMLINE_PROGRAM.
func programID(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if id := strings.TrimSpace(viper.GetString("program")); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("program not specified; pass an id, use --program or run 'pl program use <id>'")
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

func readJSONFile(path string, out any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
