package oauth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

// provider is a fake authorization server which speaks Twitch's dialect.
type provider struct {
	mu sync.Mutex
	// grants counts token requests by grant type.
	grants map[string]int
	// pending is the number of device code polls to answer as pending.
	pending int
	// reject makes refresh requests fail.
	reject bool
	// issued counts access tokens issued.
	issued int
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/oauth2/device" {
		io.WriteString(w, `{"device_code":"bocchi","expires_in":1800,"interval":1,"user_code":"ryou","verification_uri":"https://example.com/activate"}`)
		return
	}
	grant := r.FormValue("grant_type")
	p.grants[grant]++
	switch {
	case grant == "refresh_token" && p.reject:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"status":400,"message":"Invalid refresh token"}`)
		return
	case grant != "refresh_token" && p.pending > 0:
		p.pending--
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"status":400,"message":"authorization_pending"}`)
		return
	}
	p.issued++
	tok := []string{"nijika", "kita", "seika", "kikuri"}[p.issued%4]
	io.WriteString(w, `{"access_token":"`+tok+`","expires_in":14400,"refresh_token":"`+tok+`-refresh","scope":[],"token_type":"bearer"}`)
}

func (p *provider) Grants() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := make(map[string]int, len(p.grants))
	for k, v := range p.grants {
		r[k] = v
	}
	return r
}

const deviceGrant = "urn:ietf:params:oauth:grant-type:device_code"

type fixture struct {
	p       *provider
	st      *MemoryStorage
	src     *Device
	prompts []string
}

func newFixture(t *testing.T, p *provider) *fixture {
	t.Helper()
	if p.grants == nil {
		p.grants = make(map[string]int)
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	cfg := oauth2.Config{
		ClientID: "switchboard",
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: srv.URL + "/oauth2/device",
			TokenURL:      srv.URL + "/oauth2/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: []string{"chat:read", "chat:edit"},
	}
	f := &fixture{p: p, st: new(MemoryStorage)}
	prompt := func(ctx context.Context, auth *oauth2.DeviceAuthResponse) {
		f.prompts = append(f.prompts, auth.UserCode+" "+auth.VerificationURI)
	}
	f.src = NewDevice(cfg, f.st, srv.Client(), prompt)
	return f
}

func TestDeviceAuthorize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, &provider{pending: 1})
	tok, err := f.src.Token(ctx)
	if err != nil {
		t.Fatalf("couldn't get token: %v", err)
	}
	if tok.AccessToken != "kita" {
		t.Errorf("wrong access token: %q", tok.AccessToken)
	}
	if diff := cmp.Diff([]string{"ryou https://example.com/activate"}, f.prompts); diff != "" {
		t.Errorf("wrong prompts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{deviceGrant: 2}, f.p.Grants()); diff != "" {
		t.Errorf("wrong token requests (-want +got):\n%s", diff)
	}
	if cur, _ := f.st.Load(ctx); !Equal(cur, tok) {
		t.Errorf("token wasn't stored: %#v", cur)
	}
}

func TestDeviceToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, new(provider))
	stored := &oauth2.Token{AccessToken: "bocchi", RefreshToken: "ryou", Expiry: time.Now().Add(time.Hour)}
	f.st.Store(ctx, stored)
	tok, err := f.src.Token(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok != stored {
		t.Errorf("valid token wasn't reused: %#v", tok)
	}
	if len(f.p.Grants()) != 0 {
		t.Errorf("valid token caused requests: %v", f.p.Grants())
	}

	stored.Expiry = time.Now().Add(-time.Hour)
	tok, err = f.src.Token(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "kita" || tok.RefreshToken != "kita-refresh" {
		t.Errorf("expired token wasn't refreshed: %#v", tok)
	}
	if diff := cmp.Diff(map[string]int{"refresh_token": 1}, f.p.Grants()); diff != "" {
		t.Errorf("wrong token requests (-want +got):\n%s", diff)
	}
	if len(f.prompts) != 0 {
		t.Errorf("refresh prompted: %q", f.prompts)
	}
}

func TestDeviceRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, new(provider))
	old := &oauth2.Token{AccessToken: "bocchi", RefreshToken: "ryou", Expiry: time.Now().Add(time.Hour)}
	f.st.Store(ctx, old)
	// A valid token is still refreshed on request.
	fresh, err := f.src.Refresh(ctx, old)
	if err != nil {
		t.Fatal(err)
	}
	if Equal(fresh, old) {
		t.Error("refresh didn't replace the token")
	}
	// Refreshing the replaced token again returns the current one.
	again, err := f.src.Refresh(ctx, old)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(again, fresh) {
		t.Errorf("stale refresh didn't return current token: %#v", again)
	}
	if diff := cmp.Diff(map[string]int{"refresh_token": 1}, f.p.Grants()); diff != "" {
		t.Errorf("wrong token requests (-want +got):\n%s", diff)
	}
}

func TestDeviceRejectedRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, &provider{reject: true})
	old := &oauth2.Token{AccessToken: "bocchi", RefreshToken: "ryou"}
	f.st.Store(ctx, old)
	tok, err := f.src.Refresh(ctx, old)
	if err != nil {
		t.Fatalf("couldn't refresh: %v", err)
	}
	if tok.AccessToken != "kita" {
		t.Errorf("wrong access token: %q", tok.AccessToken)
	}
	if len(f.prompts) != 1 {
		t.Errorf("rejected refresh didn't ask for authorization: %q", f.prompts)
	}
	if diff := cmp.Diff(map[string]int{"refresh_token": 1, deviceGrant: 1}, f.p.Grants()); diff != "" {
		t.Errorf("wrong token requests (-want +got):\n%s", diff)
	}
	if cur, _ := f.st.Load(ctx); !Equal(cur, tok) {
		t.Errorf("new token wasn't stored: %#v", cur)
	}
}

func TestDeviceNoRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, new(provider))
	f.st.Store(ctx, &oauth2.Token{AccessToken: "bocchi", Expiry: time.Now().Add(-time.Hour)})
	tok, err := f.src.Token(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "kita" || len(f.prompts) != 1 {
		t.Errorf("expired token without refresh didn't authorize: %#v, %q", tok, f.prompts)
	}
}
