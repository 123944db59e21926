package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"loginshield.io/internal/audit"
	"loginshield.io/internal/auth"
	"loginshield.io/internal/block"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/session"
)

func (c *cli) newBlockCommand() *cobra.Command {
	var (
		duration time.Duration
		reason   string
	)
	cmd := &cobra.Command{
		Use:   "block <ip>",
		Short: "Block an IP and revoke its open sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stores, err := c.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			entry := block.NewEntry(args[0], duration, reason, time.Now())
			revoker := session.NewRevoker(stores.Sessions, stores.Transport)
			n, err := enforce.BlockIP(ctx, stores.Blocks, revoker, entry)
			if err != nil {
				return err
			}
			_ = audit.LogEvent(ctx, "cli.block.created", map[string]any{"ip": entry.IP, "sessions_revoked": n})
			fmt.Fprintf(cmd.OutOrStdout(), "blocked %s until %s (%d sessions revoked)\n",
				entry.IP, entry.BlockedUntil.Format(time.RFC3339), n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", block.DefaultDuration, "How long the block lasts")
	cmd.Flags().StringVar(&reason, "reason", "", "Free-form reason recorded with the block")
	return cmd
}

func (c *cli) newUnblockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Remove a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stores, err := c.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := stores.Blocks.Unblock(ctx, args[0]); err != nil {
				if errors.Is(err, block.ErrNotFound) {
					return fmt.Errorf("%s is not blocked", args[0])
				}
				return err
			}
			_ = audit.LogEvent(ctx, "cli.block.deleted", map[string]any{"ip": args[0]})
			fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) newBlocksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks",
		Short: "List active blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stores, err := c.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			entries, err := stores.Blocks.ListActive(ctx, time.Now())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IP\tBLOCKED UNTIL\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.IP, e.BlockedUntil.Format(time.RFC3339), e.Reason)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) newRevokeCommand() *cobra.Command {
	var ip, username string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke every session of an IP or a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stores, err := c.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			revoker := session.NewRevoker(stores.Sessions, stores.Transport)
			var n int
			if ip != "" {
				n, err = revoker.RevokeSessionsByIP(ctx, ip)
			} else {
				n, err = revoker.RevokeSessionsByUsername(ctx, auth.NormalizeUsername(username))
			}
			if err != nil {
				return err
			}
			_ = audit.LogEvent(ctx, "cli.sessions.revoked", map[string]any{"ip": ip, "username": username, "sessions_identified": n})
			fmt.Fprintf(cmd.OutOrStdout(), "%d sessions revoked\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "Client IP whose sessions are revoked")
	cmd.Flags().StringVar(&username, "username", "", "User whose sessions are revoked")
	cmd.MarkFlagsOneRequired("ip", "username")
	cmd.MarkFlagsMutuallyExclusive("ip", "username")
	return cmd
}

func (c *cli) newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage login accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(c.newUsersAddCommand())
	cmd.AddCommand(c.newUsersSetEnabledCommand("enable", true))
	cmd.AddCommand(c.newUsersSetEnabledCommand("disable", false))
	return cmd
}

func (c *cli) newUsersAddCommand() *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account; the password is read from SHIELDCTL_PASSWORD or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			password := os.Getenv("SHIELDCTL_PASSWORD")
			if passwordStdin || password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			stores, err := c.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			u, err := auth.Register(ctx, stores.Users, args[0], password)
			switch {
			case errors.Is(err, auth.ErrAlreadyExists):
				return fmt.Errorf("user %q already exists", args[0])
			case errors.Is(err, auth.ErrInvalidInput):
				return fmt.Errorf("username is required and password must be at least %d characters", auth.MinPasswordLength)
			case err != nil:
				return err
			}
			_ = audit.LogEvent(ctx, "cli.user.created", map[string]any{"username": u.Username})
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", u.Username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func (c *cli) newUsersSetEnabledCommand(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stores, err := c.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			username := auth.NormalizeUsername(args[0])
			if err := stores.Users.SetEnabled(ctx, username, enabled); err != nil {
				if errors.Is(err, auth.ErrNotFound) {
					return fmt.Errorf("user %q not found", username)
				}
				return err
			}
			_ = audit.LogEvent(ctx, "cli.user."+verb+"d", map[string]any{"username": username})
			fmt.Fprintf(cmd.OutOrStdout(), "%sd user %s\n", verb, username)
			return nil
		},
	}
}

func (c *cli) newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(cfg.AdminJWTSecret)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, []string{auth.RoleAdmin}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject recorded in audit lines")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
