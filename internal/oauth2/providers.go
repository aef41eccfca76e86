package oauth2

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/altafino/thread-archiver/internal/types"
)

// DefaultRedirectURL is served by StartLocalServer.
const DefaultRedirectURL = "http://localhost:8085/oauth/callback"

// GoogleConfig builds the client config from a downloaded credentials file
// when one is configured, otherwise from the client id and secret.
func GoogleConfig(cfg *types.Config, scopes ...string) (*oauth2.Config, error) {
	redirect := cfg.OAuth2.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}

	if path := cfg.OAuth2.CredentialsFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read OAuth2 credentials file: %w", err)
		}
		conf, err := google.ConfigFromJSON(data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OAuth2 credentials file: %w", err)
		}
		conf.RedirectURL = redirect
		return conf, nil
	}

	if cfg.OAuth2.ClientID == "" || cfg.OAuth2.ClientSecret == "" {
		return nil, fmt.Errorf("oauth2 client_id and client_secret are required without a credentials file")
	}
	return &oauth2.Config{
		ClientID:     cfg.OAuth2.ClientID,
		ClientSecret: cfg.OAuth2.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}, nil
}
