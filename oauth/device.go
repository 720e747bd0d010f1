package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"golang.org/x/oauth2"
)

// DevicePrompt asks the operator to authorize the robot, typically by
// visiting auth.VerificationURI and entering auth.UserCode.
type DevicePrompt func(ctx context.Context, auth *oauth2.DeviceAuthResponse)

// Device is a TokenSource which obtains its first token through the device
// authorization grant and refreshes it at the token endpoint. Tokens are kept
// in a Storage so that the operator authorizes once per adapter.
type Device struct {
	mu     sync.Mutex
	cfg    oauth2.Config
	st     Storage
	client *http.Client
	prompt DevicePrompt
}

var _ TokenSource = (*Device)(nil)

// NewDevice creates a device grant token source. If client is nil,
// [http.DefaultClient] is used. prompt is called whenever the stored token
// is missing or can no longer be refreshed.
func NewDevice(cfg oauth2.Config, st Storage, client *http.Client, prompt DevicePrompt) *Device {
	if cfg.Endpoint.DeviceAuthURL == "" {
		panic("oauth: device grant without device auth url")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Device{cfg: cfg, st: st, client: client, prompt: prompt}
}

// Token returns the stored token, refreshing or authorizing as needed.
func (d *Device) Token(ctx context.Context) (*oauth2.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok, err := d.st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't retrieve current token: %w", err)
	}
	switch {
	case tok == nil:
		return d.authorize(ctx)
	case tok.Valid():
		return tok, nil
	default:
		return d.renew(ctx, tok)
	}
}

// Refresh renews the stored token if it is still old.
func (d *Device) Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok, err := d.st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't retrieve current token for refresh: %w", err)
	}
	if tok == nil {
		return d.authorize(ctx)
	}
	if !Equal(tok, old) {
		// Someone else already refreshed.
		return tok, nil
	}
	return d.renew(ctx, tok)
}

// renew exchanges tok's refresh token for a new token. If the provider
// rejects the refresh token, the operator is asked to authorize again.
func (d *Device) renew(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok.RefreshToken == "" {
		return d.authorize(ctx)
	}
	// Force x/oauth2 to refresh even if the stored expiry hasn't passed.
	stale := *tok
	stale.Expiry = time.Unix(1, 0)
	hc := context.WithValue(ctx, oauth2.HTTPClient, d.client)
	nt, err := d.cfg.TokenSource(hc, &stale).Token()
	if err != nil {
		if rejected(err) {
			slog.WarnContext(ctx, "refresh token rejected", slog.Any("err", err))
			return d.authorize(ctx)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if err := d.st.Store(ctx, nt); err != nil {
		return nil, fmt.Errorf("couldn't store refreshed token: %w", err)
	}
	slog.InfoContext(ctx, "token refreshed", slog.Time("expiry", nt.Expiry))
	return nt, nil
}

// authorize runs the device grant and stores the resulting token.
func (d *Device) authorize(ctx context.Context) (*oauth2.Token, error) {
	hc := context.WithValue(ctx, oauth2.HTTPClient, d.client)
	var opts []oauth2.AuthCodeOption
	if len(d.cfg.Scopes) != 0 {
		// Twitch reads "scopes" rather than "scope".
		opts = append(opts, oauth2.SetAuthURLParam("scopes", strings.Join(d.cfg.Scopes, " ")))
	}
	auth, err := d.cfg.DeviceAuth(hc, opts...)
	if err != nil {
		return nil, fmt.Errorf("couldn't start device authorization: %w", err)
	}
	d.prompt(ctx, auth)
	for {
		tok, err := d.cfg.DeviceAccessToken(hc, auth)
		switch {
		case err == nil:
			if err := d.st.Store(ctx, tok); err != nil {
				return nil, fmt.Errorf("couldn't store first token: %w", err)
			}
			return tok, nil
		case pending(err):
			continue
		default:
			return nil, fmt.Errorf("device authorization failed: %w", err)
		}
	}
}

// pending reports whether err means the operator hasn't finished authorizing.
// x/oauth2 handles the standard error code itself; Twitch reports it in a
// message field instead.
func pending(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	var v struct {
		Message string `json:"message"`
	}
	return json.Unmarshal(re.Body, &v) == nil && v.Message == "authorization_pending"
}

// rejected reports whether err is the token endpoint refusing a refresh token.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusBadRequest
}
