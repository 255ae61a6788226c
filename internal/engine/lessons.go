package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/llm"
	"programline/internal/metrics"
)

type AddLessonOptions struct {
	ProgramID       string            `validate:"required"`
	Type            domain.LessonType `validate:"required,oneof=success challenge improvement"`
	Description     string            `validate:"required"`
	ExpectedVersion int64
	ActorID         string `validate:"required"`
}

func (e Engine) AddLesson(ctx context.Context, opts AddLessonOptions) (domain.Lesson, error) {
	if err := check(opts); err != nil {
		return domain.Lesson{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lesson{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProgram(ctx, tx, opts.ProgramID, opts.ExpectedVersion)
	if err != nil {
		return domain.Lesson{}, err
	}
	now := e.stamp()
	if _, err := e.Repo.BumpProgramVersionTx(ctx, tx, p.ID, p.Version, now); err != nil {
		return domain.Lesson{}, err
	}
	l := domain.Lesson{
		ID:          newID(),
		ProgramID:   p.ID,
		Type:        opts.Type,
		Description: strings.TrimSpace(opts.Description),
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertLessonTx(ctx, tx, l); err != nil {
		return domain.Lesson{}, err
	}
	if err := e.events().Append(ctx, tx, "lesson.added", p.ID, "lesson", l.ID, opts.ActorID, events.EventPayload{"type": l.Type}); err != nil {
		return domain.Lesson{}, err
	}
	return l, tx.Commit()
}

func (e Engine) DeleteLesson(ctx context.Context, programID, lessonID string, expectedVersion int64, actorID string) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.loadProgram(ctx, tx, programID, expectedVersion)
	if err != nil {
		return err
	}
	if _, err := e.Repo.BumpProgramVersionTx(ctx, tx, p.ID, p.Version, e.stamp()); err != nil {
		return err
	}
	if err := e.Repo.DeleteLessonTx(ctx, tx, p.ID, lessonID); err != nil {
		return fmt.Errorf("lesson %s: %w", lessonID, err)
	}
	if err := e.events().Append(ctx, tx, "lesson.deleted", p.ID, "lesson", lessonID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ListLessons returns lessons oldest first. An empty type lists all.
func (e Engine) ListLessons(ctx context.Context, programID string, lessonType domain.LessonType) ([]domain.Lesson, error) {
	if lessonType != "" && !lessonType.Valid() {
		return nil, fmt.Errorf("%w: unknown lesson type %q", ErrInvalidInput, lessonType)
	}
	if _, err := e.Repo.GetProgram(ctx, programID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListLessons(ctx, programID, lessonType)
	return nonNil(items), err
}

const lessonsSystemPrompt = `You summarize lessons learned from an innovation program for the organization's strategic plan. Write three to five sentences. Return JSON {"summary": "..."}.`

var lessonsSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"summary": map[string]any{"type": "string"}},
	"required":   []string{"summary"},
}

func lessonsPrompt(p domain.Program, lessons []domain.Lesson) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Program: %s\nOutcomes: %d pilots, %d partnerships, %d solutions deployed\n\nLessons:\n",
		p.NameEN, p.Outcomes.PilotsGenerated, p.Outcomes.PartnershipsFormed, p.Outcomes.SolutionsDeployed)
	for _, l := range lessons {
		fmt.Fprintf(&b, "- [%s] %s\n", l.Type, l.Description)
	}
	return b.String()
}

// fallbackSummary counts lessons per type when the model is unavailable.
func fallbackSummary(p domain.Program, lessons []domain.Lesson) string {
	counts := map[domain.LessonType]int{}
	for _, l := range lessons {
		counts[l.Type]++
	}
	return fmt.Sprintf("%s: %d lessons learned (%d successes, %d challenges, %d improvements).",
		p.NameEN, len(lessons), counts[domain.LessonSuccess], counts[domain.LessonChallenge], counts[domain.LessonImprovement])
}

// PushLessonFeedback stores a summary of the program lessons against its
// strategic plan.
func (e Engine) PushLessonFeedback(ctx context.Context, programID, actorID string) (fb domain.StrategicPlanFeedback, err error) {
	defer func() { metrics.RecordGate("lessons_feedback", err) }()
	if actorID == "" {
		return fb, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return fb, err
	}
	lessons, err := e.Repo.ListLessons(ctx, p.ID, "")
	if err != nil {
		return fb, err
	}
	var missing []string
	if p.StrategicPlanID == "" {
		missing = append(missing, "strategic_plan")
	}
	if len(lessons) == 0 {
		missing = append(missing, "lessons")
	}
	if len(missing) > 0 {
		return fb, &GateError{Gate: "lessons_feedback", Missing: missing}
	}

	// The model call runs outside the transaction.
	var summary string
	if err := llm.Call(ctx, e.LLM, e.logger(), llm.Request{
		Prompt:             lessonsPrompt(p, lessons),
		SystemPrompt:       lessonsSystemPrompt,
		ResponseJSONSchema: lessonsSchema,
		Purpose:            "lessons_summary",
	}, "summary", &summary); err != nil || strings.TrimSpace(summary) == "" {
		e.logger().Warn("lesson summary fell back to counts", zap.String("program_id", p.ID), zap.Error(err))
		summary = fallbackSummary(p, lessons)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fb, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetStrategicPlanTx(ctx, tx, p.StrategicPlanID); err != nil {
		return fb, fmt.Errorf("strategic plan %s: %w", p.StrategicPlanID, err)
	}
	fb = domain.StrategicPlanFeedback{
		ID:              newID(),
		StrategicPlanID: p.StrategicPlanID,
		ProgramID:       p.ID,
		Summary:         strings.TrimSpace(summary),
		LessonCount:     len(lessons),
		ActorID:         actorID,
		CreatedAt:       e.stamp(),
	}
	if err := e.Repo.InsertFeedbackTx(ctx, tx, fb); err != nil {
		return fb, err
	}
	if err := e.events().Append(ctx, tx, "lessons.pushed", p.ID, "strategic_plan", p.StrategicPlanID, actorID, events.EventPayload{
		"lessons": len(lessons),
	}); err != nil {
		return fb, err
	}
	return fb, tx.Commit()
}
