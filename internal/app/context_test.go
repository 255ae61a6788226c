package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"programline/internal/config"
	"programline/internal/db"
	"programline/internal/engine/auth"
	"programline/internal/llm"
	"programline/internal/migrate"
	"programline/internal/notify"
	"programline/internal/repo"
)

func openRepo(t *testing.T, workspace string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func TestResolveConfigSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t, t.TempDir())
	cfg, err := ResolveConfig(ctx, t.TempDir(), r)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Workspace.OrgID, cfg.Workspace.OrgID)

	stored, err := r.GetWorkspaceConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.Gates.Completion.MinChecked, stored.Gates.Completion.MinChecked)
}

func TestResolveConfigPrefersFile(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	r := openRepo(t, workspace)
	yml := "workspace:\n  org_id: ministry\n  org_name: Ministry\n"
	require.NoError(t, os.WriteFile(config.Path(workspace), []byte(yml), 0o644))

	cfg, err := ResolveConfig(ctx, workspace, r)
	require.NoError(t, err)
	assert.Equal(t, "ministry", cfg.Workspace.OrgID)
	assert.Len(t, cfg.RequiredLaunchKeys(), 5)

	stored, err := r.GetWorkspaceConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ministry", stored.Workspace.OrgID)
}

func TestBootstrapGrantsOwner(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t, t.TempDir())
	cfg := config.Default()
	require.NoError(t, Bootstrap(ctx, r, cfg, "founder"))
	// Running twice keeps the same footprint.
	require.NoError(t, Bootstrap(ctx, r, cfg, "founder"))

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	svc := auth.Service{DB: r.DB}
	ok, err := svc.ActorHasPermission(ctx, tx, cfg.Workspace.OrgID, "founder", "rbac.manage")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := r.CountRoleHolders(ctx, tx, cfg.Workspace.OrgID, "owner")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildAdapters(t *testing.T) {
	cfg := config.Default()
	inv, err := BuildInvoker(context.Background(), cfg, func(string) string { return "" })
	require.NoError(t, err)
	assert.IsType(t, llm.Disabled{}, inv)

	assert.IsType(t, notify.LogSender{}, BuildSender(cfg, nil, zap.NewNop()))
	cfg.Email.HubURL = "http://hub.local/trigger"
	sender := BuildSender(cfg, func(name string) string { return "secret-for-" + name }, zap.NewNop())
	hub, ok := sender.(*notify.HubSender)
	require.True(t, ok)
	assert.Equal(t, "secret-for-PROGRAMLINE_EMAIL_SECRET", hub.Secret)

	d := NewDispatcher(repo.Repo{}, cfg, sender, zap.NewNop())
	assert.Equal(t, cfg.Dispatcher.MaxAttempts, d.Config.MaxAttempts)
}
