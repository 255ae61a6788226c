package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"programline/internal/config"
	"programline/internal/domain"
	"programline/internal/engine"
)

func gateCmd() *cobra.Command {
	g := &cobra.Command{Use: "gate", Short: "Run program gates"}
	g.AddCommand(gateLaunchCmd())
	g.AddCommand(gateScreenCmd())
	g.AddCommand(gateMentorsCmd())
	g.AddCommand(gateSelectCmd())
	g.AddCommand(gateCompleteCmd())
	g.AddCommand(gateFeedbackCmd())
	return g
}

type checklistFlags struct {
	checked []string
	all     bool
}

func (c *checklistFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&c.checked, "check", nil, "checklist key to mark done (repeatable)")
	cmd.Flags().BoolVar(&c.all, "all", false, "mark every checklist item done")
}

func (c checklistFlags) values(items []config.ChecklistItem) (map[string]bool, error) {
	known := map[string]bool{}
	out := map[string]bool{}
	for _, item := range items {
		known[item.Key] = true
		out[item.Key] = c.all
	}
	for _, key := range c.checked {
		if !known[key] {
			return nil, fmt.Errorf("%w: unknown checklist key %q", engine.ErrInvalidInput, key)
		}
		out[key] = true
	}
	return out, nil
}

func gateLaunchCmd() *cobra.Command {
	var checks checklistFlags
	var announcement string
	cmd := &cobra.Command{
		Use:   "launch [program-id]",
		Short: "Open applications once every required launch item is checked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.launch", func(ctx context.Context, e engine.Engine) error {
				values, err := checks.values(e.Config.Gates.Launch.Checklist)
				if err != nil {
					return err
				}
				p, err := e.LaunchProgram(ctx, engine.LaunchOptions{
					ProgramID:        id,
					Checklist:        values,
					AnnouncementText: announcement,
					ExpectedVersion:  expectedVersion(),
					ActorID:          actorID(),
				})
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
	checks.bind(cmd)
	cmd.Flags().StringVar(&announcement, "announcement", "", "announcement text")
	return cmd
}

type screeningFile struct {
	Results               []engine.ScreeningResult `json:"results"`
	SelectedForAcceptance []string                 `json:"selected_for_acceptance"`
}

func gateScreenCmd() *cobra.Command {
	screen := &cobra.Command{Use: "screen", Short: "Score applications with the model and apply reviewed results"}
	screen.AddCommand(&cobra.Command{
		Use:   "propose [program-id]",
		Short: "Score pending applications; nothing is stored",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.screen", func(ctx context.Context, e engine.Engine) error {
				prop, err := e.ScreenApplications(ctx, id, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prop)
				}
				renderScreening(prop)
				return nil
			})
		},
	})

	var file string
	var selected []string
	apply := &cobra.Command{
		Use:   "apply [program-id]",
		Short: "Write reviewed screening results in one transaction",
		Long:  "Reads a JSON file shaped like the propose output ({\"results\": [...]}). --select adds ids to accept.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			var in screeningFile
			if err := readJSONFile(file, &in); err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.screen", func(ctx context.Context, e engine.Engine) error {
				apps, err := e.ApplyScreening(ctx, engine.ApplyScreeningOptions{
					ProgramID:             id,
					Results:               in.Results,
					SelectedForAcceptance: append(in.SelectedForAcceptance, selected...),
					ActorID:               actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				renderApplications(apps)
				return nil
			})
		},
	}
	apply.Flags().StringVar(&file, "file", "", "JSON results file (- for stdin)")
	apply.Flags().StringSliceVar(&selected, "select", nil, "application ids to accept")
	_ = apply.MarkFlagRequired("file")
	screen.AddCommand(apply)
	return screen
}

type mentorFile struct {
	Matches []engine.MentorMatch `json:"matches"`
}

func gateMentorsCmd() *cobra.Command {
	mentors := &cobra.Command{Use: "mentors", Short: "Match accepted participants with mentors"}
	mentors.AddCommand(&cobra.Command{
		Use:   "propose [program-id]",
		Short: "Ask the model for mentor matches; nothing is stored",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.mentor", func(ctx context.Context, e engine.Engine) error {
				prop, err := e.ProposeMentorMatches(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prop)
				}
				renderMentors(prop)
				return nil
			})
		},
	})
	var file string
	apply := &cobra.Command{
		Use:   "apply [program-id]",
		Short: "Assign mentors from a reviewed matches file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			var in mentorFile
			if err := readJSONFile(file, &in); err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.mentor", func(ctx context.Context, e engine.Engine) error {
				apps, err := e.ApplyMentorMatches(ctx, engine.ApplyMentorOptions{ProgramID: id, Matches: in.Matches, ActorID: actorID()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				renderApplications(apps)
				return nil
			})
		},
	}
	apply.Flags().StringVar(&file, "file", "", "JSON matches file (- for stdin)")
	_ = apply.MarkFlagRequired("file")
	mentors.AddCommand(apply)
	return mentors
}

func gateSelectCmd() *cobra.Command {
	var accept, reject []string
	var message string
	cmd := &cobra.Command{
		Use:   "select [program-id]",
		Short: "Finalize the cohort and queue status emails",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			set := engine.NewSelectionSet()
			for _, a := range accept {
				set.Accept(a)
			}
			for _, r := range reject {
				set.Reject(r)
			}
			return withProgram(cmd.Context(), id, "program.select", func(ctx context.Context, e engine.Engine) error {
				out, err := e.FinalizeSelection(ctx, engine.FinalizeSelectionOptions{
					ProgramID:        id,
					SelectedIDs:      set.Selected(),
					RejectedIDs:      set.Rejected(),
					RejectionMessage: message,
					ActorID:          actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("accepted %d, rejected %d\n", len(out.Accepted), len(out.Rejected))
				renderApplications(append(out.Accepted, out.Rejected...))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&accept, "accept", nil, "application ids to accept")
	cmd.Flags().StringSliceVar(&reject, "reject", nil, "application ids to reject")
	cmd.Flags().StringVar(&message, "message", "", "rejection message for the status email")
	return cmd
}

func gateCompleteCmd() *cobra.Command {
	var checks checklistFlags
	var outcomes domain.Outcomes
	var dataFile string
	cmd := &cobra.Command{
		Use:   "complete [program-id]",
		Short: "Complete an active program once enough wrap-up items are checked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			var data map[string]any
			if dataFile != "" {
				if err := readJSONFile(dataFile, &data); err != nil {
					return err
				}
			}
			return withProgram(cmd.Context(), id, "program.complete", func(ctx context.Context, e engine.Engine) error {
				values, err := checks.values(e.Config.Gates.Completion.Checklist)
				if err != nil {
					return err
				}
				p, err := e.CompleteProgram(ctx, engine.CompleteOptions{
					ProgramID:       id,
					Checklist:       values,
					CompletionData:  data,
					Outcomes:        outcomes,
					ExpectedVersion: expectedVersion(),
					ActorID:         actorID(),
				})
				if err != nil {
					return err
				}
				return printProgram(e, p)
			})
		},
	}
	checks.bind(cmd)
	cmd.Flags().IntVar(&outcomes.PilotsGenerated, "pilots", 0, "pilots generated")
	cmd.Flags().IntVar(&outcomes.PartnershipsFormed, "partnerships", 0, "partnerships formed")
	cmd.Flags().IntVar(&outcomes.SolutionsDeployed, "solutions", 0, "solutions deployed")
	cmd.Flags().StringVar(&dataFile, "data", "", "JSON file with completion data")
	return cmd
}

func gateFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback [program-id]",
		Short: "Summarize lessons into the linked strategic plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.lessons", func(ctx context.Context, e engine.Engine) error {
				fb, err := e.PushLessonFeedback(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(fb)
			})
		},
	}
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{Use: "session", Short: "Program sessions"}
	s.AddCommand(&cobra.Command{
		Use:   "list [program-id]",
		Short: "List sessions in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.read", func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListSessions(ctx, id)
				if err != nil {
					return err
				}
				return printSessions(list)
			})
		},
	})

	var opts engine.AddSessionOptions
	add := &cobra.Command{
		Use:   "add [program-id]",
		Short: "Append a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			opts.ProgramID = id
			opts.ExpectedVersion = expectedVersion()
			opts.ActorID = actorID()
			return withProgram(cmd.Context(), id, "program.session", func(ctx context.Context, e engine.Engine) error {
				list, err := e.AddSession(ctx, opts)
				if err != nil {
					return err
				}
				return printSessions(list)
			})
		},
	}
	add.Flags().IntVar(&opts.Week, "week", 0, "program week")
	add.Flags().StringVar(&opts.Topic, "topic", "", "session topic")
	add.Flags().StringVar(&opts.Date, "date", "", "session date (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.Facilitator, "facilitator", "", "facilitator")
	add.Flags().StringVar(&opts.MeetingLink, "link", "", "meeting link")
	_ = add.MarkFlagRequired("topic")
	s.AddCommand(add)

	var index int
	rm := &cobra.Command{
		Use:   "rm [session-id]",
		Short: "Delete a session by id, or by position with --at",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(nil)
			if err != nil {
				return err
			}
			byIndex := cmd.Flags().Changed("at")
			if !byIndex && len(args) == 0 {
				return fmt.Errorf("pass a session id or --at <index>")
			}
			return withProgram(cmd.Context(), id, "program.session", func(ctx context.Context, e engine.Engine) error {
				var list engine.SessionList
				var err error
				if byIndex {
					list, err = e.DeleteSessionAt(ctx, id, index, expectedVersion(), actorID())
				} else {
					list, err = e.DeleteSession(ctx, id, args[0], expectedVersion(), actorID())
				}
				if err != nil {
					return err
				}
				return printSessions(list)
			})
		},
	}
	rm.Flags().IntVar(&index, "at", 0, "zero-based session position")
	s.AddCommand(rm)
	return s
}

func printSessions(list engine.SessionList) error {
	if viper.GetBool("json") {
		return printJSON(list)
	}
	fmt.Printf("program %s version %d\n", list.ProgramID, list.Version)
	renderSessions(list)
	return nil
}

func lessonCmd() *cobra.Command {
	l := &cobra.Command{Use: "lesson", Short: "Lessons learned"}
	var typ string
	list := &cobra.Command{
		Use:   "list [program-id]",
		Short: "List lessons",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.read", func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListLessons(ctx, id, domain.LessonType(typ))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&typ, "type", "", "success, challenge or improvement")
	l.AddCommand(list)

	var opts engine.AddLessonOptions
	var addType string
	add := &cobra.Command{
		Use:   "add [program-id]",
		Short: "Record a lesson",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(args)
			if err != nil {
				return err
			}
			opts.ProgramID = id
			opts.Type = domain.LessonType(addType)
			opts.ExpectedVersion = expectedVersion()
			opts.ActorID = actorID()
			return withProgram(cmd.Context(), id, "program.lessons", func(ctx context.Context, e engine.Engine) error {
				lesson, err := e.AddLesson(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(lesson)
			})
		},
	}
	add.Flags().StringVar(&addType, "type", "", "success, challenge or improvement")
	add.Flags().StringVar(&opts.Description, "description", "", "what happened")
	_ = add.MarkFlagRequired("type")
	_ = add.MarkFlagRequired("description")
	l.AddCommand(add)

	l.AddCommand(&cobra.Command{
		Use:   "rm <lesson-id>",
		Short: "Delete a lesson",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := programID(nil)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), id, "program.lessons", func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteLesson(ctx, id, args[0], expectedVersion(), actorID()); err != nil {
					return err
				}
				fmt.Printf("deleted lesson %s\n", args[0])
				return nil
			})
		},
	})
	return l
}
