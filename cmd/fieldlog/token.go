package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/config"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/database"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/records"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type tokenOptions struct {
	personID     int64
	departmentID int64
	email        string
	displayName  string
	roles        []string
	programs     []string
	register     bool
}

func newTokenCommand(defaults *viper.Viper) *cobra.Command {
	options := tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := issueToken(cmd.Context(), options)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Int64Var(&options.personID, "person-id", 0, "Person id")
	cmd.Flags().Int64Var(&options.departmentID, "department-id", 0, "Department id")
	cmd.Flags().StringVar(&options.email, "email", "", "Person email")
	cmd.Flags().StringVar(&options.displayName, "display-name", "", "First and last name")
	cmd.Flags().StringSliceVar(&options.roles, "role", []string{accounts.ProfileUser}, "Profiles (ADMIN, SUPERVISOR, USER)")
	cmd.Flags().StringSliceVar(&options.programs, "program", nil, "Writable program labels")
	cmd.Flags().BoolVar(&options.register, "register", false, "Also store the person and rights in the server database")
	cmd.Flags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.Flags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Token lifetime in minutes")
	cmd.Flags().String("database-path", defaults.GetString("database.path"), "Server SQLite database path")
	_ = cmd.MarkFlagRequired("person-id")
	return cmd
}

func issueToken(ctx context.Context, options tokenOptions) (string, error) {
	authConfig, err := config.LoadAuth(viper.GetViper())
	if err != nil {
		return "", err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(authConfig.SigningSecret),
		Issuer:        authConfig.Issuer,
		TokenTTL:      authConfig.TokenTTL,
	})
	if err != nil {
		return "", err
	}

	if options.register {
		if err := registerPerson(ctx, options); err != nil {
			return "", err
		}
	}

	token, _, err := issuer.IssueToken(ctx, auth.Subject{
		PersonID:         options.personID,
		DepartmentID:     options.departmentID,
		Email:            options.email,
		DisplayName:      options.displayName,
		Roles:            options.roles,
		WritablePrograms: options.programs,
	})
	return token, err
}

func registerPerson(ctx context.Context, options tokenOptions) error {
	db, err := database.OpenSQLite(viper.GetString("database.path"), records.Schema(), zap.NewNop())
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	if _, err := accountService.RegisterPerson(ctx, accounts.PersonInput{
		ID:           options.personID,
		Email:        options.email,
		DepartmentID: options.departmentID,
		Profiles:     options.roles,
	}); err != nil {
		return err
	}
	for _, program := range options.programs {
		if err := accountService.GrantProgram(ctx, options.personID, program); err != nil {
			return err
		}
	}
	return nil
}
