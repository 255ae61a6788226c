package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"programline/internal/app"
	"programline/internal/engine"
	"programline/internal/repo"
)

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Program reports"}
	r.AddCommand(&cobra.Command{
		Use:   "kpis [program-id]",
		Short: "Applications, acceptance, AI scores, outcomes and KPI contributions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "report.read", func(ctx context.Context, e engine.Engine) error {
				rep, err := e.KPITracker(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				renderKPIs(rep)
				return nil
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "alumni [program-id]",
		Short: "Pilots and solutions by accepted participants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "report.read", func(ctx context.Context, e engine.Engine) error {
				rep, err := e.AlumniImpact(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				renderAlumni(rep)
				return nil
			})
		},
	})
	var activity int
	dash := &cobra.Command{
		Use:   "dashboard [program-id]",
		Short: "Program, KPIs, alumni and recent activity in one view",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "report.read", func(ctx context.Context, e engine.Engine) error {
				d, err := e.ProgramDashboard(ctx, id, activity)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if err := printProgram(e, d.Program); err != nil {
					return err
				}
				fmt.Printf("Sessions: %d\n", d.Sessions)
				renderKPIs(d.KPI)
				renderAlumni(d.Alumni)
				tw := newTable("TS", "Event", "Actor")
				for _, ev := range d.Activity {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	dash.Flags().IntVar(&activity, "activity", 10, "recent events to include")
	r.AddCommand(dash)
	r.AddCommand(&cobra.Command{
		Use:   "alignment <plan-id>",
		Short: "Programs, contributions and feedback for a strategic plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineIn(cmd.Context(), "report.read", forPlan(args[0]), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.StrategicAlignment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	})
	return r
}

func kpiCmd() *cobra.Command {
	k := &cobra.Command{Use: "kpi", Short: "KPI contributions"}
	var opts engine.RecordKPIOptions
	rec := &cobra.Command{
		Use:   "record [program-id]",
		Short: "Record a KPI contribution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			opts.ProgramID = id
			opts.ActorID = actorID()
			return withProgram(cmd.Context(), id, "kpi.contribute", func(ctx context.Context, e engine.Engine) error {
				c, err := e.RecordKPIContribution(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	rec.Flags().StringVar(&opts.KPIKey, "key", "", "KPI key")
	rec.Flags().Float64Var(&opts.Value, "value", 0, "contribution value")
	rec.Flags().StringVar(&opts.Note, "note", "", "note")
	_ = rec.MarkFlagRequired("key")
	k.AddCommand(rec)
	return k
}

// workCmd builds the pilot and solution commands, which differ only in the
// record they write.
func workCmd(kind string) *cobra.Command {
	w := &cobra.Command{Use: kind, Short: "Record and list " + kind + "s"}
	var opts engine.RecordWorkOptions
	rec := &cobra.Command{
		Use:   "record",
		Short: "Record a " + kind + " created by an alumnus",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			if opts.ProgramID == "" {
				opts.ProgramID = viper.GetString("program")
			}
			var owner ownerFunc = workspaceOrg
			if opts.ProgramID != "" {
				owner = forProgram(opts.ProgramID)
			}
			return withEngineIn(cmd.Context(), "entity.record", owner, func(ctx context.Context, e engine.Engine) error {
				if kind == "pilot" {
					p, err := e.RecordPilot(ctx, opts)
					if err != nil {
						return err
					}
					return printJSONOrTable(p)
				}
				s, err := e.RecordSolution(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	rec.Flags().StringVar(&opts.Title, "title", "", "title")
	rec.Flags().StringVar(&opts.CreatedBy, "created-by", "", "creator email")
	rec.Flags().StringVar(&opts.ProgramID, "program-id", "", "program the work came out of")
	_ = rec.MarkFlagRequired("title")
	_ = rec.MarkFlagRequired("created-by")
	w.AddCommand(rec)

	var createdBy string
	list := &cobra.Command{
		Use:   "list",
		Short: "List " + kind + "s",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "report.read", func(ctx context.Context, e engine.Engine) error {
				if kind == "pilot" {
					items, err := e.ListPilots(ctx, repo.WorkFilter{CreatedBy: createdBy, Scope: e.OrgScope(e.WorkspaceOrg())})
					if err != nil {
						return err
					}
					return printJSONOrTable(items)
				}
				items, err := e.ListSolutions(ctx, repo.WorkFilter{CreatedBy: createdBy, Scope: e.OrgScope(e.WorkspaceOrg())})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&createdBy, "created-by", "", "creator email filter")
	w.AddCommand(list)
	return w
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "In-app notifications"}
	var typ string
	var limit int
	list := &cobra.Command{
		Use:   "list [program-id]",
		Short: "List notifications for a program",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "notification.read", func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListNotifications(ctx, repo.NotificationFilter{EntityType: "program", EntityID: id, Type: typ, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Created", "Type", "Title", "Message")
				for _, item := range items {
					tw.AppendRow(table.Row{item.CreatedAt, item.Type, item.Title, item.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&typ, "type", "", "notification type filter")
	list.Flags().IntVar(&limit, "limit", 50, "max notifications")
	n.AddCommand(list)
	return n
}

func outboxCmd() *cobra.Command {
	o := &cobra.Command{Use: "outbox", Short: "Email outbox"}
	var status, entityID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List email jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "outbox.manage", func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEmailJobs(ctx, repo.EmailJobFilter{Status: status, EntityID: entityID, Limit: limit, Scope: e.OrgScope(e.WorkspaceOrg())})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderEmailJobs(items)
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, sent or dead")
	list.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	list.Flags().IntVar(&limit, "limit", 50, "max jobs")
	o.AddCommand(list)

	o.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show an email job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineIn(cmd.Context(), "outbox.manage", forEmailJob(args[0]), func(ctx context.Context, e engine.Engine) error {
				job, err := e.GetEmailJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	})
	o.AddCommand(&cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a dead email job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineIn(cmd.Context(), "outbox.manage", forEmailJob(args[0]), func(ctx context.Context, e engine.Engine) error {
				job, err := e.RetryEmailJob(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	})
	o.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count email jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "outbox.manage", func(ctx context.Context, e engine.Engine) error {
				stats, err := e.OutboxStats(ctx, e.OrgScope(e.WorkspaceOrg()))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := newTable("Status", "Jobs")
				for _, s := range sortedKeys(stats) {
					tw.AppendRow(table.Row{s, stats[s]})
				}
				tw.Render()
				return nil
			})
		},
	})
	o.AddCommand(&cobra.Command{
		Use:   "dispatch",
		Short: "Deliver due email jobs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "outbox.manage", func(ctx context.Context, e engine.Engine) error {
				sender := app.BuildSender(e.Config, app.LookupEnv, logger)
				d := app.NewDispatcher(e.Repo, e.Config, sender, logger.Named("outbox"))
				res, err := d.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	})
	return o
}
