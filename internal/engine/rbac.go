package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/repo"
)

const ownerRole = "owner"

// WhoAmI returns the roles and permissions an actor holds in orgID.
func (e Engine) WhoAmI(ctx context.Context, orgID, actorID string) (domain.ActorProfile, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, orgID, actorID)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, orgID, actorID)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	return domain.ActorProfile{OrgID: orgID, ActorID: actorID, Roles: nonNil(roles), Permissions: nonNil(perms)}, nil
}

func (e Engine) knownRole(roleID string) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if _, ok := cfg.RBAC.Roles[roleID]; !ok {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, roleID)
	}
	return nil
}

// GrantRole gives target a configured role. The caller needs rbac.manage.
func (e Engine) GrantRole(ctx context.Context, orgID, actorID, target, roleID string) error {
	if target == "" || roleID == "" {
		return fmt.Errorf("%w: actor and role required", ErrInvalidInput)
	}
	if err := e.knownRole(roleID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, orgID, actorID, "rbac.manage"); err != nil {
		return err
	}
	if err := e.Repo.EnsureActor(ctx, tx, target, e.stamp()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, orgID, target, roleID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "rbac.granted", "", "actor", target, actorID, events.EventPayload{"role": roleID, "org_id": orgID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a role. The last owner of an organization stays.
func (e Engine) RevokeRole(ctx context.Context, orgID, actorID, target, roleID string) error {
	if target == "" || roleID == "" {
		return fmt.Errorf("%w: actor and role required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, orgID, actorID, "rbac.manage"); err != nil {
		return err
	}
	roles, err := e.Auth.ActorRoles(ctx, tx, orgID, target)
	if err != nil {
		return err
	}
	held := false
	for _, r := range roles {
		held = held || r == roleID
	}
	if !held {
		return fmt.Errorf("actor %s role %s: %w", target, roleID, repo.ErrNotFound)
	}
	if roleID == ownerRole {
		owners, err := e.Repo.CountRoleHolders(ctx, tx, orgID, ownerRole)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return fmt.Errorf("%w: cannot revoke the last owner", ErrInvalidInput)
		}
	}
	if err := e.Repo.RevokeRole(ctx, tx, orgID, target, roleID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "rbac.revoked", "", "actor", target, actorID, events.EventPayload{"role": roleID, "org_id": orgID}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreatedAPIKey carries the raw key exactly once.
type CreatedAPIKey struct {
	domain.APIKey
	Key string `json:"key"`
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pl_" + hex.EncodeToString(buf), nil
}

// CreateAPIKey stores the hash of a new key for actorID.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (CreatedAPIKey, error) {
	if actorID == "" {
		return CreatedAPIKey{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	raw, err := generateAPIKey()
	if err != nil {
		return CreatedAPIKey{}, err
	}
	key := domain.APIKey{ID: newID(), ActorID: actorID, Name: name, KeyHash: repo.HashAPIKey(raw), CreatedAt: e.stamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CreatedAPIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
		return CreatedAPIKey{}, err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return CreatedAPIKey{}, err
	}
	if err := e.events().Append(ctx, tx, "api_key.created", "", "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return CreatedAPIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return CreatedAPIKey{}, err
	}
	return CreatedAPIKey{APIKey: key, Key: raw}, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	keys, err := e.Repo.ListAPIKeys(ctx, actorID)
	return nonNil(keys), err
}

// DeleteAPIKey removes a key the actor owns.
func (e Engine) DeleteAPIKey(ctx context.Context, id, actorID string) error {
	keys, err := e.Repo.ListAPIKeys(ctx, actorID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == id {
			return e.Repo.DeleteAPIKey(ctx, id)
		}
	}
	return fmt.Errorf("api key %s: %w", id, repo.ErrNotFound)
}

// ResolveAPIKey maps a raw key to its actor.
func (e Engine) ResolveAPIKey(ctx context.Context, raw string) (string, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("unknown api key: %w", err)
	}
	if err != nil {
		return "", err
	}
	return key.ActorID, nil
}
