package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/repo"
)

func programCmd() *cobra.Command {
	prg := &cobra.Command{Use: "program", Short: "Manage programs"}
	prg.AddCommand(programCreateCmd())
	prg.AddCommand(programListCmd())
	prg.AddCommand(programShowCmd())
	prg.AddCommand(programUpdateCmd())
	prg.AddCommand(programDeleteCmd())
	prg.AddCommand(programStatusCmd())
	prg.AddCommand(programStepCmd("cancel", "Cancel a program", func(e engine.Engine) stepFunc { return e.CancelProgram }))
	prg.AddCommand(programStepCmd("close-applications", "Close the application window", func(e engine.Engine) stepFunc { return e.CloseApplications }))
	prg.AddCommand(programStepCmd("start", "Start the cohort once someone is accepted", func(e engine.Engine) stepFunc { return e.StartProgram }))
	prg.AddCommand(programUseCmd())
	return prg
}

type stepFunc func(context.Context, string, int64, string) (domain.Program, error)

type timelineFlags struct {
	open, close, start, end string
}

func (t *timelineFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.open, "applications-open", "", "applications open date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&t.close, "applications-close", "", "applications close date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&t.start, "start", "", "program start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&t.end, "end", "", "program end date (YYYY-MM-DD)")
}

func (t timelineFlags) timeline() domain.Timeline {
	return domain.Timeline{ApplicationsOpen: t.open, ApplicationsClose: t.close, Start: t.start, End: t.end}
}

func (t timelineFlags) changed(cmd *cobra.Command) bool {
	for _, f := range []string{"applications-open", "applications-close", "start", "end"} {
		if cmd.Flags().Changed(f) {
			return true
		}
	}
	return false
}

// parseMentors reads "Name:expertise" pairs.
func parseMentors(items []string) []domain.Mentor {
	var out []domain.Mentor
	for _, item := range items {
		name, expertise, _ := strings.Cut(item, ":")
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		out = append(out, domain.Mentor{Name: name, Expertise: strings.TrimSpace(expertise)})
	}
	return out
}

func programCreateCmd() *cobra.Command {
	var opts engine.CreateProgramOptions
	var tl timelineFlags
	var mentors []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a program in planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			opts.Timeline = tl.timeline()
			opts.Mentors = parseMentors(mentors)
			return withEngine(cmd.Context(), "program.create", func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProgram(ctx, opts)
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "program id (generated when empty)")
	cmd.Flags().StringVar(&opts.NameEN, "name", "", "English name")
	cmd.Flags().StringVar(&opts.NameAR, "name-ar", "", "Arabic name")
	cmd.Flags().StringVar(&opts.DescriptionEN, "description", "", "English description")
	cmd.Flags().StringVar(&opts.DescriptionAR, "description-ar", "", "Arabic description")
	cmd.Flags().StringVar(&opts.ProgramType, "type", "", "program type (accelerator, hackathon, ...)")
	cmd.Flags().StringVar(&opts.ContactEmail, "contact-email", "", "contact email for launch notices")
	cmd.Flags().StringVar(&opts.StrategicPlanID, "plan", "", "strategic plan id")
	cmd.Flags().StringSliceVar(&mentors, "mentor", nil, "mentor as Name:expertise (repeatable)")
	tl.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func programListCmd() *cobra.Command {
	var status, plan string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "program.read", func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPrograms(ctx, repo.ProgramFilter{OrgID: e.WorkspaceOrg(), Status: status, StrategicPlanID: plan, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderPrograms(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&plan, "plan", "", "strategic plan filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max programs")
	return cmd
}

func programShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a program with gate readiness",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.read", func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProgram(ctx, id)
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
}

func programUpdateCmd() *cobra.Command {
	var name, nameAR, desc, descAR, typ, email, plan string
	var tl timelineFlags
	var mentors []string
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update program fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			opts := engine.UpdateProgramOptions{
				ID:              id,
				ExpectedVersion: expectedVersion(),
				NameEN:          optionalString(cmd, "name", name),
				NameAR:          optionalString(cmd, "name-ar", nameAR),
				DescriptionEN:   optionalString(cmd, "description", desc),
				DescriptionAR:   optionalString(cmd, "description-ar", descAR),
				ProgramType:     optionalString(cmd, "type", typ),
				ContactEmail:    optionalString(cmd, "contact-email", email),
				StrategicPlanID: optionalString(cmd, "plan", plan),
				ActorID:         actorID(),
			}
			if tl.changed(cmd) {
				t := tl.timeline()
				opts.Timeline = &t
			}
			if cmd.Flags().Changed("mentor") {
				m := parseMentors(mentors)
				opts.Mentors = &m
			}
			return withProgram(cmd.Context(), id, "program.update", func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProgram(ctx, opts)
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "English name")
	cmd.Flags().StringVar(&nameAR, "name-ar", "", "Arabic name")
	cmd.Flags().StringVar(&desc, "description", "", "English description")
	cmd.Flags().StringVar(&descAR, "description-ar", "", "Arabic description")
	cmd.Flags().StringVar(&typ, "type", "", "program type")
	cmd.Flags().StringVar(&email, "contact-email", "", "contact email")
	cmd.Flags().StringVar(&plan, "plan", "", "strategic plan id (empty unlinks)")
	cmd.Flags().StringSliceVar(&mentors, "mentor", nil, "replace mentors, Name:expertise (repeatable)")
	tl.bind(cmd)
	return cmd
}

func programDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Soft delete a program",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.update", func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteProgram(ctx, id, expectedVersion(), actorID()); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", id)
				return nil
			})
		},
	}
}

func programStatusCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "status <status> [id]",
		Short: "Move a program to a status",
		Long:  "Statuses owned by a gate (applications_open, active, completed) need --force and the program.force permission.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args[1:])
			if err != nil {
				return err
			}
			perm := "program.update"
			if force {
				perm = "program.force"
			}
			return withProgram(cmd.Context(), id, perm, func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetProgramStatus(ctx, engine.SetProgramStatusOptions{
					ProgramID:       id,
					Status:          domain.ProgramStatus(args[0]),
					ExpectedVersion: expectedVersion(),
					Force:           force,
					ActorID:         actorID(),
				})
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the transition table")
	return cmd
}

func programStepCmd(use, short string, step func(engine.Engine) stepFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.update", func(ctx context.Context, e engine.Engine) error {
				p, err := step(e)(ctx, id, expectedVersion(), actorID())
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
}

func programUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current program for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("program id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "PROGRAMLINE_PROGRAM", id); err != nil {
				return err
			}
			fmt.Printf("Set PROGRAMLINE_PROGRAM=%s in %s/.env\n", id, workspace)
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Strategic plans"}
	var opts engine.CreateStrategicPlanOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a strategic plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), "program.create", func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateStrategicPlan(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringVar(&opts.ID, "id", "", "plan id (generated when empty)")
	create.Flags().StringVar(&opts.Title, "title", "", "plan title")
	_ = create.MarkFlagRequired("title")
	plan.AddCommand(create)
	plan.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List strategic plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "program.read", func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStrategicPlans(ctx, e.WorkspaceOrg())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return plan
}

func applicationCmd() *cobra.Command {
	app := &cobra.Command{Use: "application", Aliases: []string{"app"}, Short: "Program applications"}
	app.AddCommand(applicationSubmitCmd())
	app.AddCommand(applicationListCmd())
	app.AddCommand(&cobra.Command{
		Use:   "show <application-id>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), args[0], "application.read", func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	app.AddCommand(&cobra.Command{
		Use:   "status <application-id> <status>",
		Short: "Move an application along its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), args[0], "program.select", func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetApplicationStatus(ctx, args[0], domain.ApplicationStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	return app
}

func applicationSubmitCmd() *cobra.Command {
	var opts engine.SubmitApplicationOptions
	var profileFile string
	cmd := &cobra.Command{
		Use:   "submit [program-id]",
		Short: "Submit an application to an open program",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			opts.ProgramID = id
			opts.ActorID = actorID()
			if profileFile != "" {
				if err := readJSONFile(profileFile, &opts.Profile); err != nil {
					return err
				}
			}
			return withProgram(cmd.Context(), id, "application.submit", func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitApplication(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "application id (generated when empty)")
	cmd.Flags().StringVar(&opts.ApplicantName, "name", "", "applicant name")
	cmd.Flags().StringVar(&opts.ApplicantEmail, "email", "", "applicant email")
	cmd.Flags().StringVar(&opts.Organization, "organization", "", "applicant organization")
	cmd.Flags().StringVar(&profileFile, "profile", "", "JSON file with the applicant profile (- for stdin)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func applicationListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list [program-id]",
		Short: "List applications",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			f := repo.ApplicationFilter{ProgramID: id, Limit: limit}
			for _, s := range splitList(status) {
				f.Statuses = append(f.Statuses, domain.ApplicationStatus(s))
			}
			return withProgram(cmd.Context(), id, "application.read", func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderApplications(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().IntVar(&limit, "limit", 200, "max applications")
	return cmd
}
