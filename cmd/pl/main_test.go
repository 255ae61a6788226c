package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programline/internal/app"
	"programline/internal/config"
	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/engine/auth"
)

func TestSetEnvValueReplacesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OTHER=1\nPROGRAMLINE_PROGRAM=old\n"), 0o644))
	require.NoError(t, setEnvValue(path, "PROGRAMLINE_PROGRAM", "prg-2"))
	require.NoError(t, setEnvValue(path, "PROGRAMLINE_JWT_SECRET", "s3cret"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OTHER=1\nPROGRAMLINE_PROGRAM=prg-2\nPROGRAMLINE_JWT_SECRET=s3cret\n", string(data))
}

func TestChecklistFlags(t *testing.T) {
	items := config.Default().Gates.Launch.Checklist

	values, err := checklistFlags{checked: []string{"budget_approved"}}.values(items)
	require.NoError(t, err)
	assert.Len(t, values, len(items))
	assert.True(t, values["budget_approved"])
	assert.False(t, values["mentors_confirmed"])

	values, err = checklistFlags{all: true}.values(items)
	require.NoError(t, err)
	assert.Empty(t, engine.LaunchReady(items, values))

	_, err = checklistFlags{checked: []string{"nope"}}.values(items)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestParseMentors(t *testing.T) {
	got := parseMentors([]string{"Dr. Noor:digital health", " Sam ", ":orphan"})
	assert.Equal(t, []domain.Mentor{
		{Name: "Dr. Noor", Expertise: "digital health"},
		{Name: "Sam"},
	}, got)
}

func TestProgramIDPrecedence(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("program", "from-flag")

	id, err := programID([]string{"from-arg"})
	require.NoError(t, err)
	assert.Equal(t, "from-arg", id)

	id, err = programID(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", id)

	viper.Set("program", "")
	_, err = programID(nil)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"accepted", "rejected"}, splitList(" accepted, ,rejected "))
	assert.Nil(t, splitList(""))
}

func TestProgramCommandsAuthorizeInProgramOrg(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("workspace", t.TempDir())
	viper.Set("actor-id", "mallory")
	ctx := context.Background()

	var own, foreign domain.Program
	require.NoError(t, withEngine(ctx, "", func(ctx context.Context, e engine.Engine) error {
		require.NoError(t, app.Bootstrap(ctx, e.Repo, e.Config, "mallory"))
		var err error
		own, err = e.CreateProgram(ctx, engine.CreateProgramOptions{NameEN: "Local", ProgramType: "accelerator", ActorID: "mallory"})
		require.NoError(t, err)
		foreign, err = e.CreateProgram(ctx, engine.CreateProgramOptions{OrgID: "org-b", NameEN: "Elsewhere", ProgramType: "accelerator", ActorID: "mallory"})
		return err
	}))

	noop := func(context.Context, engine.Engine) error { return nil }
	require.NoError(t, withProgram(ctx, own.ID, "program.read", noop))

	err := withProgram(ctx, foreign.ID, "program.read", noop)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "program.read", fe.Permission)
}
