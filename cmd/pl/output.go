package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"programline/internal/domain"
	"programline/internal/engine"
)

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(header))
	return tw
}

type programView struct {
	domain.Program
	LaunchMissing     []string `json:"launch_missing"`
	CompletionChecked int      `json:"completion_checked"`
	CompletionReady   bool     `json:"completion_ready"`
}

func printProgram(e engine.Engine, p domain.Program) error {
	view := programView{Program: p, LaunchMissing: engine.LaunchReady(e.Config.Gates.Launch.Checklist, p.LaunchChecklist)}
	view.CompletionChecked, view.CompletionReady = engine.CompletionReady(e.Config.Gates.Completion.Checklist, p.CompletionChecklist, e.Config.Gates.Completion.MinChecked)
	if viper.GetBool("json") {
		return printJSON(view)
	}
	fmt.Printf("Program: %s (%s)\n", p.NameEN, p.ID)
	fmt.Printf("Status:  %s  version %d\n", p.Status, p.Version)
	if p.LaunchDate != "" {
		fmt.Printf("Launched: %s\n", p.LaunchDate)
	}
	if p.CompletionDate != "" {
		fmt.Printf("Completed: %s\n", p.CompletionDate)
	}
	if len(view.LaunchMissing) > 0 {
		fmt.Printf("Launch missing: %s\n", strings.Join(view.LaunchMissing, ", "))
	} else {
		fmt.Println("Launch checklist: ready")
	}
	fmt.Printf("Completion checklist: %d/%d checked (need %d)\n", view.CompletionChecked, len(e.Config.Gates.Completion.Checklist), e.Config.Gates.Completion.MinChecked)
	if len(p.Mentors) > 0 {
		names := make([]string, 0, len(p.Mentors))
		for _, m := range p.Mentors {
			names = append(names, m.Name)
		}
		fmt.Printf("Mentors: %s\n", strings.Join(names, ", "))
	}
	return nil
}

func renderPrograms(items []domain.Program) {
	tw := newTable("ID", "Name", "Type", "Status", "Version", "Plan")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.NameEN, p.ProgramType, p.Status, p.Version, p.StrategicPlanID})
	}
	tw.Render()
}

func renderApplications(items []domain.Application) {
	tw := newTable("ID", "Applicant", "Email", "Status", "AI score", "Mentor")
	for _, a := range items {
		score := ""
		if a.AIScore != nil {
			score = fmt.Sprintf("%.1f", *a.AIScore)
		}
		tw.AppendRow(table.Row{a.ID, a.ApplicantName, a.ApplicantEmail, a.Status, score, a.AssignedMentor})
	}
	tw.Render()
}

func renderScreening(prop engine.ScreeningProposal) {
	tw := newTable("Application", "Applicant", "Score", "Recommendation")
	for _, r := range prop.Results {
		tw.AppendRow(table.Row{r.ApplicationID, r.ApplicantName, fmt.Sprintf("%.1f", r.TotalScore), r.Recommendation})
	}
	tw.Render()
	if len(prop.Unmatched) > 0 {
		fmt.Printf("%d results named unknown applications and were dropped\n", len(prop.Unmatched))
	}
}

func renderMentors(prop engine.MentorProposal) {
	tw := newTable("Application", "Participant", "Mentor", "Score")
	for _, m := range prop.Matches {
		tw.AppendRow(table.Row{m.ApplicationID, m.ParticipantName, m.MentorName, fmt.Sprintf("%.1f", m.MatchScore)})
	}
	tw.Render()
	if len(prop.Unmatched) > 0 {
		fmt.Printf("%d matches named unknown applications or mentors and were dropped\n", len(prop.Unmatched))
	}
}

func renderSessions(list engine.SessionList) {
	tw := newTable("#", "ID", "Week", "Topic", "Date", "Facilitator")
	for i, s := range list.Sessions {
		tw.AppendRow(table.Row{i, s.ID, s.Week, s.Topic, s.Date, s.Facilitator})
	}
	tw.Render()
}

func renderKPIs(r engine.KPIReport) {
	tw := newTable("Metric", "Value")
	tw.AppendRow(table.Row{"status", r.Status})
	tw.AppendRow(table.Row{"total applicants", r.TotalApplicants})
	for _, s := range sortedKeys(r.Applications) {
		tw.AppendRow(table.Row{"applications " + s, r.Applications[s]})
	}
	if r.AcceptanceRate != nil {
		tw.AppendRow(table.Row{"acceptance rate", fmt.Sprintf("%.1f%%", *r.AcceptanceRate*100)})
	}
	if r.AverageAIScore != nil {
		tw.AppendRow(table.Row{"average AI score", fmt.Sprintf("%.1f (%d scored)", *r.AverageAIScore, r.ScoredApplicants)})
	}
	tw.AppendRow(table.Row{"pilots generated", r.Outcomes.PilotsGenerated})
	tw.AppendRow(table.Row{"partnerships formed", r.Outcomes.PartnershipsFormed})
	tw.AppendRow(table.Row{"solutions deployed", r.Outcomes.SolutionsDeployed})
	for _, k := range sortedKeys(r.Contributions) {
		tw.AppendRow(table.Row{"kpi " + k, r.Contributions[k]})
	}
	tw.Render()
}

func renderAlumni(r engine.AlumniReport) {
	tw := newTable("Participant", "Email", "Pilots", "Solutions")
	for _, a := range r.Alumni {
		tw.AppendRow(table.Row{a.Name, a.Email, a.Pilots, a.Solutions})
	}
	tw.AppendFooter(table.Row{"total", "", r.TotalPilots, r.TotalSolutions})
	tw.Render()
}

func renderEmailJobs(items []domain.EmailJob) {
	tw := newTable("ID", "Trigger", "Recipient", "Status", "Attempts", "Next attempt", "Last error")
	for _, j := range items {
		tw.AppendRow(table.Row{j.ID, j.Trigger, j.RecipientEmail, j.Status, j.Attempts, j.NextAttemptAt, j.LastError})
	}
	tw.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
