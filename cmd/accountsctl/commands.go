package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/cookstagram/accounts/internal/account"
	"github.com/cookstagram/accounts/internal/app"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/spf13/cobra"
)

// passwordEnv lets scripts pass the superuser password without it
// appearing in the process list.
const passwordEnv = "ACCOUNTS_SUPERUSER_PASSWORD"

// cli holds the services opened before each subcommand runs.
type cli struct {
	out       io.Writer
	configDir string

	db       database.Database
	accounts *account.Service
	tokens   *token.Issuer
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "accountsctl",
		Short:         "Administer user accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}
	root.PersistentFlags().StringVar(&c.configDir, "config", "", "directory containing config.yaml")

	root.AddCommand(
		c.createSuperuserCommand(),
		c.deactivateCommand(),
		c.revokeCommand(),
		c.listCommand(),
		c.spendCommand(),
	)
	return root
}

func (c *cli) open(ctx context.Context) error {
	var paths []string
	if c.configDir != "" {
		paths = append(paths, c.configDir)
	}
	if err := config.LoadConfig(paths...); err != nil {
		return err
	}

	db, _, err := app.OpenDatabase(ctx, config.Current.Database)
	if err != nil {
		return err
	}
	tokens, err := token.FromConfig(&config.Current.Tokens, db)
	if err != nil {
		db.Close()
		return err
	}
	c.db = db
	c.tokens = tokens
	c.accounts = account.NewService(db, tokens)
	return nil
}

func (c *cli) close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *cli) createSuperuserCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create a staff account with email and password login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				return fmt.Errorf("a password is required, via --password or %s", passwordEnv)
			}
			user, err := c.accounts.CreateSuperuser(cmd.Context(), email, password)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(c.out, "Created superuser %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address to log in with")
	cmd.Flags().StringVar(&password, "password", "", "password, if "+passwordEnv+" is not set")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) deactivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate EMAIL",
		Short: "Disable an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := c.accounts.UserByEmail(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			if err := c.accounts.Deactivate(cmd.Context(), user.ID); err != nil {
				return describe(err)
			}
			fmt.Fprintf(c.out, "Deactivated %s\n", user.Email)
			return nil
		},
	}
}

func (c *cli) revokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke REFRESH_TOKEN",
		Short: "Revoke a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.accounts.Logout(cmd.Context(), args[0]); err != nil {
				return describe(err)
			}
			fmt.Fprintln(c.out, "Token revoked")
			return nil
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	var ordering, gender, active string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opt model.ListOptions
			o, err := model.ParseOrdering(ordering)
			if err != nil {
				return describe(err)
			}
			opt.Ordering = o
			opt.Filter.Gender = model.Gender(gender)
			if active != "" {
				isActive, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("--active must be true or false")
				}
				opt.Filter.IsActive = &isActive
			}

			users, err := c.accounts.List(cmd.Context(), opt)
			if err != nil {
				return describe(err)
			}
			return printUsers(c.out, users)
		},
	}
	cmd.Flags().StringVar(&ordering, "ordering", "", "field to order by, prefixed with - for descending")
	cmd.Flags().StringVar(&gender, "gender", "", "only list users of this gender")
	cmd.Flags().StringVar(&active, "active", "", "only list active (true) or inactive (false) users")
	return cmd
}

func (c *cli) spendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spend EMAIL AMOUNT",
		Short: "Add a purchase to a user's total spend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			user, err := c.accounts.UserByEmail(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			user, err = c.accounts.AccrueSpend(cmd.Context(), user.ID, amount)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(c.out, "%s has spent %.2f\n", user.Email, user.TotalSpent)
			return nil
		},
	}
}

func printUsers(out io.Writer, users []*model.User) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tPROVIDER\tACTIVE\tSTAFF\tTOTAL SPENT")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%.2f\n", u.ID, u.Email, u.Provider, u.IsActive, u.IsStaff, u.TotalSpent)
	}
	return w.Flush()
}

// describe renders client-facing errors with their field messages.
func describe(err error) error {
	e := model.AsError(err)
	if e.Kind == model.KindInternal {
		return err
	}
	msg := e.Message
	for field, fieldMsg := range e.Fields {
		msg += fmt.Sprintf("\n  %s: %s", field, fieldMsg)
	}
	return fmt.Errorf("%s", msg)
}
