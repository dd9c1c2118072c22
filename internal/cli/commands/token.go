package commands

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/objgraph/internal/auth"
)

// NewTokenCommand creates the token command
func NewTokenCommand(flags *globalFlags) *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:   "token <principal>",
		Short: "Issue a bearer token for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			token, err := tokens.GenerateToken(auth.Principal{Name: args[0], Roles: roles})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "role to grant (repeatable)")
	return cmd
}

// passwordPrompt reads a password without echo
type passwordPrompt func(message string) (string, error)

func surveyPassword(message string) (string, error) {
	var password string
	err := survey.AskOne(&survey.Password{Message: message}, &password, survey.WithValidator(survey.Required))
	return password, err
}

// NewHashPasswordCommand creates the hash-password command
func NewHashPasswordCommand(_ *globalFlags) *cobra.Command {
	return newHashPasswordCommand(surveyPassword)
}

func newHashPasswordCommand(prompt passwordPrompt) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for auth.users[].password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := prompt("Password:")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
