package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/folio/internal/folio/app"
	"github.com/aussiebroadwan/folio/internal/folio/service"
	"github.com/aussiebroadwan/folio/pkg/cryptox"
	"github.com/spf13/cobra"
)

const generatedPasswordLength = 20

func main() {
	var cfg app.Config

	root := &cobra.Command{
		Use:           "folio",
		Short:         "Admin authentication server for the portfolio panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig()
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := app.NewOperator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return op.Close()
		},
	}

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Print a random value suitable for JWT_SECRET",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cryptox.GenerateToken(cryptox.TokenSize256)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd, secretCmd, userCommand(&cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func userCommand(cfg *app.Config) *cobra.Command {
	var email string

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage admin accounts",
	}
	userCmd.PersistentFlags().StringVar(&email, "email", "", "Account email (default ADMIN_EMAIL)")

	// withOperator resolves the target email and runs fn against an opened
	// operator.
	withOperator := func(cmd *cobra.Command, fn func(op *app.Operator, email string) error) error {
		target := email
		if target == "" {
			target = cfg.AdminEmail
		}
		if target == "" {
			return errors.New("--email is required when ADMIN_EMAIL is not set")
		}

		op, err := app.NewOperator(cmd.Context(), *cfg)
		if err != nil {
			return err
		}
		return errors.Join(fn(op, target), op.Close())
	}

	var password, firstName, lastName string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, func(op *app.Operator, email string) error {
				pw := password
				if pw == "" {
					generated, err := cryptox.GeneratePassword(generatedPasswordLength)
					if err != nil {
						return err
					}
					pw = generated
				}

				u, err := op.Auth.CreateUser(cmd.Context(), service.RegisterRequest{
					Email:     email,
					Password:  pw,
					FirstName: firstName,
					LastName:  lastName,
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Email, u.ID)
				if password == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "password: %s\n", pw)
				}
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&password, "password", "", "Initial password (generated when empty)")
	createCmd.Flags().StringVar(&firstName, "first", "Admin", "First name")
	createCmd.Flags().StringVar(&lastName, "last", "User", "Last name")

	disable2FACmd := &cobra.Command{
		Use:   "disable-2fa",
		Short: "Turn off two-factor authentication for a locked out account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, func(op *app.Operator, email string) error {
				if err := op.Auth.ResetTwoFactor(cmd.Context(), email); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "two-factor authentication disabled for %s\n", email)
				return nil
			})
		},
	}

	setActive := func(active bool, verb string) *cobra.Command {
		return &cobra.Command{
			Use:   verb,
			Short: "Mark an account as " + verb + "d",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOperator(cmd, func(op *app.Operator, email string) error {
					if err := op.Auth.SetActive(cmd.Context(), email, active); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", email, verb)
					return nil
				})
			},
		}
	}

	userCmd.AddCommand(createCmd, disable2FACmd, setActive(true, "activate"), setActive(false, "deactivate"))
	return userCmd
}
