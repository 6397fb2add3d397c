package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modelgateway/core/pkg/safego"
)

// BrowserOpener opens url in the user's default browser. Overridable
// in tests.
type BrowserOpener func(url string) error

// OpenBrowser opens url with the platform default handler. Failures
// are non-fatal to the caller — Login falls back to printing the URL.
func OpenBrowser(rawURL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", rawURL)
	case "darwin":
		cmd = exec.Command("open", rawURL)
	default:
		for _, bin := range []string{"xdg-open", "gnome-open", "kde-open"} {
			if _, err := exec.LookPath(bin); err == nil {
				cmd = exec.Command(bin, rawURL)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no browser launcher found on %s", runtime.GOOS)
		}
	}
	return cmd.Start()
}

// OAuthClient drives the Authorization Code + PKCE flow for one
// provider: builds the authorization URL, opens a loopback listener
// for the redirect, and exchanges the returned code for tokens.
type OAuthClient struct {
	httpClient *http.Client
	opener     BrowserOpener
	logger     *zap.Logger
}

// NewOAuthClient builds an OAuthClient. opener defaults to OpenBrowser.
func NewOAuthClient(opener BrowserOpener, logger *zap.Logger) *OAuthClient {
	if opener == nil {
		opener = OpenBrowser
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		opener:     opener,
		logger:     logger,
	}
}

// callbackResult is what the loopback listener hands back once the
// browser redirects with either a code or an error.
type callbackResult struct {
	code  string
	state string
	err   error
}

// Login runs one full flow for settings: starts a loopback listener on
// an ephemeral port, opens the authorization URL in the browser, waits
// for the redirect (or CallbackTimeout, default 5 minutes), then
// exchanges the code for tokens.
func (c *OAuthClient) Login(ctx context.Context, settings ProviderSettings, machine *FlowMachine) (TokenSet, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return TokenSet{}, fmt.Errorf("generate pkce: %w", err)
	}
	state, err := GenerateState()
	if err != nil {
		return TokenSet{}, fmt.Errorf("generate state: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return TokenSet{}, fmt.Errorf("start loopback listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	if err := machine.BeginAwaitingCallback(PendingAuth{
		State:          state,
		Verifier:       pkce.Verifier,
		ExpectedScopes: settings.Scopes,
		Provider:       settings.Provider,
	}); err != nil {
		listener.Close()
		return TokenSet{}, err
	}

	resultCh := make(chan callbackResult, 1)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/callback", func(ctx *gin.Context) {
		q := ctx.Request.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			ctx.String(http.StatusBadRequest, "authorization failed: %s", errParam)
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("authorization server returned error: %s", errParam)}:
			default:
			}
			return
		}
		gotState := q.Get("state")
		if gotState != state {
			ctx.String(http.StatusBadRequest, "state mismatch")
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("callback state mismatch")}:
			default:
			}
			return
		}
		ctx.String(http.StatusOK, "Authentication complete. You can close this tab.")
		select {
		case resultCh <- callbackResult{code: q.Get("code"), state: gotState}:
		default:
		}
	})

	srv := &http.Server{Handler: router}
	safego.Go(c.logger, "oauth-callback-listener", func() { _ = srv.Serve(listener) })
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := c.buildAuthorizationURL(settings, redirectURI, state, pkce.Challenge)
	if err := c.opener(authURL); err != nil {
		c.logger.Warn("could not open browser automatically, visit the URL to continue", zap.String("url", authURL), zap.Error(err))
	}

	timeout := settings.CallbackTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var result callbackResult
	select {
	case result = <-resultCh:
	case <-time.After(timeout):
		_ = machine.Fail(fmt.Errorf("timed out waiting for oauth callback"))
		return TokenSet{}, fmt.Errorf("oauth callback timed out after %s", timeout)
	case <-ctx.Done():
		_ = machine.Fail(ctx.Err())
		return TokenSet{}, ctx.Err()
	}

	if result.err != nil {
		_ = machine.Fail(result.err)
		return TokenSet{}, result.err
	}

	if err := machine.BeginExchanging(); err != nil {
		return TokenSet{}, err
	}

	tokens, err := c.exchangeCode(ctx, settings, result.code, redirectURI, pkce.Verifier)
	if err != nil {
		_ = machine.Fail(err)
		return TokenSet{}, err
	}

	if err := machine.Succeed(); err != nil {
		return TokenSet{}, err
	}
	return tokens, nil
}

func (c *OAuthClient) buildAuthorizationURL(settings ProviderSettings, redirectURI, state, challenge string) string {
	q := url.Values{}
	q.Set("client_id", settings.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(settings.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	for k, v := range settings.AdditionalParams {
		q.Set(k, v)
	}

	sep := "?"
	if strings.Contains(settings.AuthorizationURL, "?") {
		sep = "&"
	}
	return settings.AuthorizationURL + sep + q.Encode()
}

type tokenExchangeRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenExchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (c *OAuthClient) exchangeCode(ctx context.Context, settings ProviderSettings, code, redirectURI, verifier string) (TokenSet, error) {
	body := tokenExchangeRequest{
		GrantType:    "authorization_code",
		ClientID:     settings.ClientID,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
	}
	return c.postTokenRequest(ctx, settings, body)
}

// Refresh implements Refresher, exchanging a refresh token for a new
// access token at the provider's token endpoint.
func (c *OAuthClient) Refresh(ctx context.Context, settings ProviderSettings, tokens TokenSet) (TokenSet, error) {
	if tokens.RefreshToken == "" {
		return TokenSet{}, fmt.Errorf("no refresh token available for %s", settings.Provider)
	}
	body := tokenExchangeRequest{
		GrantType:    "refresh_token",
		ClientID:     settings.ClientID,
		RefreshToken: tokens.RefreshToken,
	}
	refreshed, err := c.postTokenRequest(ctx, settings, body)
	if err != nil {
		return TokenSet{}, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	return refreshed, nil
}

func (c *OAuthClient) postTokenRequest(ctx context.Context, settings ProviderSettings, body tokenExchangeRequest) (TokenSet, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return TokenSet{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return TokenSet{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("token endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	var tokenResp tokenExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return TokenSet{}, fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode >= 300 || tokenResp.AccessToken == "" {
		return TokenSet{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
