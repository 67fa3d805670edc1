package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/inboxtriage/inboxtriage/internal/logging"
)

// Scopes requested during authorization. Changing them invalidates any
// stored token file.
var scopes = []string{gmail.GmailModifyScope}

// Provider yields an authenticated HTTP client for the Google APIs.
//
// Tokens are cached in TokenFile. When no valid token exists the user is
// sent through the installed-app authorization flow: the auth URL is
// printed, the user pastes the authorization code, and the exchanged token
// is persisted for future runs. Refreshed tokens are persisted as well.
type Provider struct {
	// CredentialsFile is the OAuth client secret file downloaded from the
	// Google Cloud console.
	CredentialsFile string
	// TokenFile stores the authorized user's access and refresh tokens.
	// Created automatically when the authorization flow completes.
	TokenFile string
	// Logger receives authorization progress. Required.
	Logger *slog.Logger

	mu sync.Mutex
}

// HasToken reports whether a token file exists. It does not validate the
// token; an expired token with a refresh token is still usable.
func (p *Provider) HasToken() bool {
	_, err := os.Stat(p.TokenFile)
	return err == nil
}

// Client returns an HTTP client that authenticates requests with the
// stored (or freshly authorized) user credentials. A failure here is fatal
// to the caller: nothing downstream can run without a session.
func (p *Provider) Client(ctx context.Context) (*http.Client, error) {
	conf, err := p.config()
	if err != nil {
		return nil, err
	}

	tok, err := p.tokenFromFile()
	if err != nil {
		p.Logger.Info("no cached token, starting authorization flow",
			logging.Operation("google.authorize"))
		tok, err = p.authorize(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err := p.saveToken(tok); err != nil {
			return nil, err
		}
	}

	// ReuseTokenSource refreshes transparently; the persisting wrapper
	// writes each refreshed token back so the next run skips the flow.
	ts := &persistingSource{
		provider: p,
		last:     tok,
		src:      conf.TokenSource(ctx, tok),
	}
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("cached token is invalid and could not be refreshed: %w", err)
	}

	return oauth2.NewClient(ctx, ts), nil
}

func (p *Provider) config() (*oauth2.Config, error) {
	b, err := os.ReadFile(p.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", p.CredentialsFile, err)
	}
	conf, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}
	return conf, nil
}

// authorize walks the user through the installed-app flow on the terminal.
func (p *Provider) authorize(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	authURL := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := conf.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return tok, nil
}

func (p *Provider) tokenFromFile() (*oauth2.Token, error) {
	f, err := os.Open(p.TokenFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", p.TokenFile, err)
	}
	return tok, nil
}

func (p *Provider) saveToken(tok *oauth2.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.TokenFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to save oauth token to %s: %w", p.TokenFile, err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("unable to encode oauth token: %w", err)
	}
	p.Logger.Debug("token persisted", logging.Operation("google.save_token"))
	return nil
}

// persistingSource wraps a token source and writes every newly issued
// token back to the token file.
type persistingSource struct {
	provider *Provider
	src      oauth2.TokenSource

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := s.last == nil || tok.AccessToken != s.last.AccessToken
	s.last = tok
	s.mu.Unlock()

	if changed {
		if err := s.provider.saveToken(tok); err != nil {
			// A failed save is not fatal; the token still works for
			// this run.
			s.provider.Logger.Warn("failed to persist refreshed token",
				logging.Operation("google.save_token"), logging.Err(err))
		}
	}
	return tok, nil
}
