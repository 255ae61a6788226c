package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"programline/internal/app"
	"programline/internal/engine"
	"programline/internal/repo"
	"programline/internal/server"
)

func rbacCmd() *cobra.Command {
	r := &cobra.Command{Use: "rbac", Short: "Roles, permissions and credentials"}
	r.AddCommand(rbacWhoamiCmd())
	r.AddCommand(rbacRoleCmd("grant", "Grant a role", func(e engine.Engine) roleFunc { return e.GrantRole }))
	r.AddCommand(rbacRoleCmd("revoke", "Revoke a role", func(e engine.Engine) roleFunc { return e.RevokeRole }))
	r.AddCommand(rbacBootstrapCmd())
	r.AddCommand(rbacTokenCmd())
	r.AddCommand(rbacKeyCmd())
	return r
}

type roleFunc func(ctx context.Context, orgID, actorID, target, roleID string) error

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show roles and permissions for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Workspace.OrgID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(who)
				}
				fmt.Printf("Actor: %s\nOrg:   %s\nRoles: %s\n", who.ActorID, who.OrgID, strings.Join(who.Roles, ", "))
				fmt.Printf("Permissions: %s\n", strings.Join(who.Permissions, ", "))
				return nil
			})
		},
	}
}

func rbacRoleCmd(use, short string, run func(engine.Engine) roleFunc) *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: short + " (needs rbac.manage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				if err := run(e)(ctx, e.Config.Workspace.OrgID, actorID(), target, role); err != nil {
					return err
				}
				fmt.Printf("%s %s: %s\n", use, role, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Grant the owner role without RBAC checks (local workspaces only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = actorID()
			}
			workspace := viper.GetString("workspace")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ResolveConfig(ctx, workspace, r)
				if err != nil {
					return err
				}
				if err := app.Bootstrap(ctx, r, cfg, target); err != nil {
					return err
				}
				fmt.Printf("granted owner in %s to %s\n", cfg.Workspace.OrgID, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id (default: --actor-id)")
	return cmd
}

func rbacTokenCmd() *cobra.Command {
	var orgID string
	var roles, perms []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dev JWT for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			token, err := server.SignDevToken(secret, actorID(), orgID, roles, perms)
			if err != nil {
				return fmt.Errorf("%w (set PROGRAMLINE_JWT_SECRET)", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "org id claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "permission claim (repeatable)")
	return cmd
}

func rbacKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "API keys for the current actor"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("id:  %s\nkey: %s\n", created.ID, created.Key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "rm <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteAPIKey(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("deleted key %s\n", args[0])
				return nil
			})
		},
	})
	return k
}
