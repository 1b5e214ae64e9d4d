package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/config"
	"eduportal.org/internal/obs"
	"eduportal.org/internal/sessions"
	"eduportal.org/internal/store/pg"
)

// readPassword takes the password from args or, failing that, the first
// line of stdin.
func readPassword(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is empty")
	}
	return pw, nil
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash suitable for users.password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newUserCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Provision and disable accounts",
	}

	var in pg.NewUser
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account; the password is read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd.InOrStdin(), nil)
			if err != nil {
				return err
			}
			if in.PasswordHash, err = auth.HashPassword(pw); err != nil {
				return err
			}
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := g.context()
			defer cancel()
			u, err := store.CreateUser(ctx, in)
			if err != nil {
				if errors.Is(err, pg.ErrConflict) {
					return fmt.Errorf("user %s already exists", in.Email)
				}
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.ID, u.Email)
			return nil
		},
	}
	create.Flags().StringVar(&in.Email, "email", "", "login email")
	create.Flags().StringVar(&in.RoleName, "role", auth.RoleStudent, "role name, e.g. TEACHER")
	create.Flags().StringVar(&in.InstitutionID, "institution", "", "institution id")
	_ = create.MarkFlagRequired("email")

	enable := func(cmd *cobra.Command, args []string) error {
		store, err := g.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := g.context()
		defer cancel()
		if err := store.SetUserActive(ctx, args[0], true); err != nil {
			return fmt.Errorf("update user %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enabled %s\n", args[0])
		return nil
	}

	disable := func(cmd *cobra.Command, args []string) error {
		store, err := g.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		cfg, err := g.loadConfig()
		if err != nil {
			return err
		}

		var authn *auth.Authenticator
		if cfg.SessionBackend != config.BackendMemory {
			a, closeSessions, err := newAuthenticator(cfg, store, store.DBX())
			if err != nil {
				return err
			}
			defer func() { _ = closeSessions() }()
			authn = a
		}

		ctx, cancel := g.context()
		defer cancel()
		n, err := disableUser(ctx, store, authn, args[0])
		if err != nil {
			return err
		}
		if authn == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "disabled %s; in-process sessions are rejected on next use\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "disabled %s, revoked %d session(s) in %s\n", args[0], n, cfg.SessionBackend)
		return nil
	}

	cmd.AddCommand(
		create,
		&cobra.Command{
			Use:   "disable <user-id>",
			Short: "Disable an account and revoke its sessions",
			Args:  cobra.ExactArgs(1),
			RunE:  disable,
		},
		&cobra.Command{
			Use:   "enable <user-id>",
			Short: "Re-enable an account",
			Args:  cobra.ExactArgs(1),
			RunE:  enable,
		},
	)
	return cmd
}

func newPermissionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Maintain the permission catalog and role grants",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Upsert the built-in permission catalog",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := g.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				ctx, cancel := g.context()
				defer cancel()
				if err := store.EnsurePermissions(ctx, auth.BuiltinPermissions); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d permissions\n", len(auth.BuiltinPermissions))
				return nil
			},
		},
		&cobra.Command{
			Use:   "grant <role-id> [permission-key...]",
			Short: "Replace the permission set of a role",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := g.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				ctx, cancel := g.context()
				defer cancel()
				if err := store.SetRolePermissions(ctx, args[0], args[1:]); err != nil {
					return fmt.Errorf("grant %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "role %s now has %d permission(s)\n", args[0], len(args)-1)
				return nil
			},
		},
	)
	return cmd
}

type accountWriter interface {
	SetUserActive(ctx context.Context, userID string, active bool) error
}

// disableUser turns the account off and, when authn is set, revokes every
// live session of it.
func disableUser(ctx context.Context, accounts accountWriter, authn *auth.Authenticator, userID string) (int64, error) {
	if err := accounts.SetUserActive(ctx, userID, false); err != nil {
		return 0, fmt.Errorf("update user %s: %w", userID, err)
	}
	if authn == nil {
		return 0, nil
	}
	n, err := authn.RevokeUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions of %s: %w", userID, err)
	}
	return n, nil
}

// newAuthenticator opens the configured session backend and builds an
// Authenticator over it. The memory backend lives inside the api process,
// so there is nothing to reach from here.
func newAuthenticator(cfg *config.Config, creds auth.CredentialStore, db *sqlx.DB) (*auth.Authenticator, func() error, error) {
	if cfg.SessionBackend == config.BackendMemory {
		return nil, nil, errors.New("session backend memory is private to the api process; sessions cannot be revoked from authctl")
	}
	backend, err := sessions.Open(cfg, db)
	if err != nil {
		return nil, nil, err
	}
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:    []byte(cfg.Token.Secret),
		Algorithm: cfg.Token.Algorithm,
		Issuer:    cfg.Token.Issuer,
		Audience:  cfg.Token.Audience,
		Leeway:    cfg.Token.ClockSkew,
	})
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("token codec: %w", err)
	}
	authn, err := auth.NewAuthenticator(creds, backend.Registry, codec,
		auth.WithAccessTTL(cfg.Token.AccessTTL),
		auth.WithRefreshTTL(cfg.Token.RefreshTTL),
		auth.WithLogger(obs.Logger()),
	)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("authenticator: %w", err)
	}
	return authn, backend.Close, nil
}
