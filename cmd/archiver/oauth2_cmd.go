package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	goauth2 "golang.org/x/oauth2"

	"github.com/altafino/thread-archiver/internal/app"
	"github.com/altafino/thread-archiver/internal/oauth2"
)

const callbackTimeout = 5 * time.Minute

func newOAuth2Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth2",
		Short: "OAuth2 token management",
		Long:  `Manage the Gmail and Drive OAuth2 token of a configuration`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Authorize the account in a browser and store the token",
		RunE:  generateToken,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete the stored token",
		RunE:  deleteToken,
	})
	return cmd
}

func generateToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conf, err := oauth2.GoogleConfig(cfg, app.Scopes()...)
	if err != nil {
		return err
	}
	store, err := oauth2.NewTokenStore(cfg.OAuth2.TokenStore, cfg.OAuth2.TokenPath)
	if err != nil {
		return err
	}

	state := uuid.NewString()
	authURL := conf.AuthCodeURL(state, goauth2.AccessTypeOffline, goauth2.ApprovalForce)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Please open the following URL in your browser:\n\n%s\n\n", authURL)
	fmt.Fprintln(out, "Waiting for authentication...")

	ctx := cmd.Context()
	code, err := oauth2.StartLocalServer(ctx, conf.RedirectURL, state, callbackTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to get authorization code: %w", err)
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code for token: %w", err)
	}

	account := oauth2.AccountID(cfg.Meta.ID, cfg.Mailbox.User)
	if err := store.Save(account, token); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s token saved for account %s\n", Success.Render("✓"), account)
	fmt.Fprintf(out, "Token expires at: %s\n", token.Expiry.Format(time.DateTime))
	return nil
}

func deleteToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := oauth2.NewTokenStore(cfg.OAuth2.TokenStore, cfg.OAuth2.TokenPath)
	if err != nil {
		return err
	}

	account := oauth2.AccountID(cfg.Meta.ID, cfg.Mailbox.User)
	if _, err := store.Load(account); errors.Is(err, oauth2.ErrNoToken) {
		fmt.Fprintf(cmd.OutOrStdout(), "No OAuth2 token found for account %s\n", account)
		return nil
	}
	if err := store.Delete(account); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OAuth2 token deleted for account %s\n", account)
	return nil
}
