// Package auth supplies access tokens for the remote record store. The
// OAuth provider keeps a refresh token on disk and renews the access token
// transparently when it is missing or about to lapse.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"salesline/internal/fault"
)

// Provider yields a bearer token valid for at least the next request.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a fixed token. Used in tests and for pre-issued tokens.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fault.New(fault.AuthRequired, "no access token configured")
	}
	return string(s), nil
}

// tokenFile is the on-disk token cache shape.
type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// OAuth refreshes access tokens against the accounts endpoint for the
// configured data center and caches them in a mode 0600 file.
type OAuth struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
	DataCenter   string

	// AccountsURL overrides the data-center token endpoint; tests point it
	// at a local server.
	AccountsURL string

	// HTTPClient and Now are injectable for tests.
	HTTPClient *http.Client
	Now        func() time.Time

	mu     sync.Mutex
	cached tokenFile
	loaded bool
}

// refreshSkew renews tokens this long before their recorded expiry.
const refreshSkew = 60 * time.Second

func (o *OAuth) accountsURL() string {
	if o.AccountsURL != "" {
		return o.AccountsURL
	}
	dc := o.DataCenter
	if dc == "" {
		dc = "com"
	}
	return fmt.Sprintf("https://accounts.zoho.%s/oauth/v2/token", dc)
}

func (o *OAuth) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

func (o *OAuth) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Token returns a valid access token, refreshing if the cached one has
// less than refreshSkew left.
func (o *OAuth) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.loaded {
		if err := o.load(); err != nil {
			return "", err
		}
		o.loaded = true
	}
	if o.cached.AccessToken != "" && o.now().Add(refreshSkew).Before(o.cached.ExpiresAt) {
		return o.cached.AccessToken, nil
	}
	if o.cached.RefreshToken == "" {
		return "", fault.New(fault.AuthRequired, "no refresh token; run authorization first")
	}
	if err := o.refresh(ctx); err != nil {
		return "", err
	}
	return o.cached.AccessToken, nil
}

func (o *OAuth) load() error {
	data, err := os.ReadFile(o.TokenPath)
	if os.IsNotExist(err) {
		return fault.New(fault.AuthRequired, "token file %s not found; run authorization first", o.TokenPath)
	}
	if err != nil {
		return fault.Wrap(fault.AuthRequired, err, "read token file")
	}
	if err := json.Unmarshal(data, &o.cached); err != nil {
		return fault.Wrap(fault.AuthRequired, err, "parse token file %s", o.TokenPath)
	}
	return nil
}

func (o *OAuth) refresh(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {o.ClientID},
		"client_secret": {o.ClientSecret},
		"refresh_token": {o.cached.RefreshToken},
	}
	endpoint := o.accountsURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fault.Wrap(fault.RefreshFailed, err, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client().Do(req)
	if err != nil {
		return fault.Wrap(fault.RefreshFailed, err, "token refresh against %s", endpoint)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fault.Wrap(fault.RefreshFailed, err, "decode refresh response")
	}
	if resp.StatusCode != http.StatusOK || body.Error != "" || body.AccessToken == "" {
		return fault.New(fault.RefreshFailed, "token refresh rejected (status %d, error %q)", resp.StatusCode, body.Error)
	}

	o.cached.AccessToken = body.AccessToken
	expires := body.ExpiresIn
	if expires == 0 {
		expires = 3600
	}
	o.cached.ExpiresAt = o.now().Add(time.Duration(expires) * time.Second)
	return o.save()
}

func (o *OAuth) save() error {
	data, err := json.MarshalIndent(o.cached, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.TokenPath, data, 0o600); err != nil {
		return fault.Wrap(fault.RefreshFailed, err, "write token file")
	}
	return nil
}

// Seed writes an initial token file from a granted refresh token. The CLI
// seed command calls this after the one-time grant exchange.
func Seed(path, accessToken, refreshToken string, expiresAt time.Time) error {
	data, err := json.MarshalIndent(tokenFile{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
