package google

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	dir := t.TempDir()
	return &Provider{
		CredentialsFile: filepath.Join(dir, "credentials.json"),
		TokenFile:       filepath.Join(dir, "token.json"),
		Logger:          slog.New(slog.DiscardHandler),
	}
}

func TestHasToken(t *testing.T) {
	p := testProvider(t)

	if p.HasToken() {
		t.Error("HasToken should be false before a token is saved")
	}

	if err := p.saveToken(&oauth2.Token{AccessToken: "at"}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	if !p.HasToken() {
		t.Error("HasToken should be true after a token is saved")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	p := testProvider(t)

	want := &oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	if err := p.saveToken(want); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	got, err := p.tokenFromFile()
	if err != nil {
		t.Fatalf("tokenFromFile: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("token round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.Expiry.Equal(want.Expiry) {
		t.Errorf("expiry round trip mismatch: got %v, want %v", got.Expiry, want.Expiry)
	}
}

func TestTokenFilePermissions(t *testing.T) {
	p := testProvider(t)

	if err := p.saveToken(&oauth2.Token{AccessToken: "at"}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	info, err := os.Stat(p.TokenFile)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file permissions = %o, want 600", perm)
	}
}

func TestTokenFromFileRejectsGarbage(t *testing.T) {
	p := testProvider(t)
	if err := os.WriteFile(p.TokenFile, []byte("not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := p.tokenFromFile(); err == nil {
		t.Error("tokenFromFile should fail on a corrupt token file")
	}
}

func TestClientFailsWithoutCredentialsFile(t *testing.T) {
	p := testProvider(t)
	if _, err := p.Client(t.Context()); err == nil {
		t.Error("Client should fail when the credentials file is missing")
	}
}

// staticSource hands out a fixed sequence of tokens.
type staticSource struct {
	tokens []*oauth2.Token
	i      int
}

func (s *staticSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.i]
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestPersistingSourceSavesRefreshedToken(t *testing.T) {
	p := testProvider(t)

	first := &oauth2.Token{AccessToken: "first", RefreshToken: "r"}
	second := &oauth2.Token{AccessToken: "second", RefreshToken: "r"}

	src := &persistingSource{
		provider: p,
		last:     first,
		src:      &staticSource{tokens: []*oauth2.Token{first, second}},
	}

	// Same token: nothing to persist.
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if p.HasToken() {
		t.Error("unchanged token should not be written")
	}

	// Refreshed token: persisted.
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	got, err := p.tokenFromFile()
	if err != nil {
		t.Fatalf("tokenFromFile: %v", err)
	}
	if got.AccessToken != "second" {
		t.Errorf("persisted token = %q, want %q", got.AccessToken, "second")
	}
}
