package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"programline/internal/config"
	"programline/internal/llm"
	"programline/internal/notify"
	"programline/internal/repo"
)

// ResolveConfig picks the workspace configuration. programline.yml wins when
// present and is stored in the database; otherwise the stored copy is used,
// and a fresh workspace is seeded with the defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if fileCfg != nil {
		if err := r.UpsertWorkspaceConfig(ctx, fileCfg); err != nil {
			return nil, fmt.Errorf("store workspace config: %w", err)
		}
		return fileCfg, nil
	}
	stored, err := r.GetWorkspaceConfig(ctx)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed := config.Default()
	if err := r.UpsertWorkspaceConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return seed, nil
}

// Bootstrap creates the organization, makes the role tables match the
// config and, when ownerID is set, grants it the owner role.
func Bootstrap(ctx context.Context, r repo.Repo, cfg *config.Config, ownerID string) error {
	if cfg == nil {
		return errors.New("config required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	orgID := cfg.Workspace.OrgID
	if err := r.EnsureOrg(ctx, tx, orgID, cfg.Workspace.OrgName, now); err != nil {
		return fmt.Errorf("ensure org: %w", err)
	}
	if err := r.SyncRolesTx(ctx, tx, cfg.RBAC.Roles); err != nil {
		return fmt.Errorf("sync roles: %w", err)
	}
	if ownerID != "" {
		if err := r.EnsureActor(ctx, tx, ownerID, now); err != nil {
			return fmt.Errorf("ensure actor: %w", err)
		}
		if err := r.AssignRole(ctx, tx, orgID, ownerID, "owner"); err != nil {
			return fmt.Errorf("assign owner: %w", err)
		}
	}
	return tx.Commit()
}

// LookupEnv reads an environment variable; an empty name yields "".
func LookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// BuildInvoker returns the configured LLM adapter.
func BuildInvoker(ctx context.Context, cfg *config.Config, lookupEnv func(string) string) (llm.Invoker, error) {
	if lookupEnv == nil {
		lookupEnv = LookupEnv
	}
	return llm.New(ctx, cfg.LLM, lookupEnv)
}

// BuildSender posts to the email hub when one is configured and logs jobs
// otherwise.
func BuildSender(cfg *config.Config, lookupEnv func(string) string, logger *zap.Logger) notify.Sender {
	if lookupEnv == nil {
		lookupEnv = LookupEnv
	}
	if cfg.Email.HubURL == "" {
		return notify.LogSender{Logger: logger}
	}
	return &notify.HubSender{
		URL:     cfg.Email.HubURL,
		Secret:  lookupEnv(cfg.Email.SecretEnv),
		Timeout: cfg.Email.Timeout(),
	}
}

func NewDispatcher(r repo.Repo, cfg *config.Config, sender notify.Sender, logger *zap.Logger) *notify.Dispatcher {
	return &notify.Dispatcher{
		Store:  r,
		Sender: sender,
		Config: cfg.Dispatcher,
		Logger: logger,
	}
}
