package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	infracache "github.com/mafzaal/d365fo-client-go/infrastructure/cache"
	coreerrors "github.com/mafzaal/d365fo-client-go/infrastructure/errors"
)

// StaticTokenProvider returns a fixed bearer token, for auth_mode=default
// deployments where the caller already holds a valid token (e.g. an
// interactive `az account get-access-token` handoff).
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) GetToken(ctx context.Context, scope string) (string, int64, error) {
	return p.token, 0, nil
}

// ClientCredentialsTokenProvider implements the OAuth2 client
// credentials grant against Azure AD, caching tokens per scope until
// shortly before they expire.
type ClientCredentialsTokenProvider struct {
	tenantID     string
	clientID     string
	clientSecret string
	http         *http.Client
	cache        *infracache.TokenCache
}

func NewClientCredentialsTokenProvider(tenantID, clientID, clientSecret string, timeout time.Duration) *ClientCredentialsTokenProvider {
	return &ClientCredentialsTokenProvider{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: timeout},
		cache:        infracache.NewTokenCache(infracache.DefaultConfig()),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *ClientCredentialsTokenProvider) GetToken(ctx context.Context, scope string) (string, int64, error) {
	if token, ok := p.cache.GetToken(scope); ok {
		return token, 0, nil
	}

	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", p.tenantID)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"scope":         {scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, coreerrors.Auth("build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", 0, coreerrors.Auth("request token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, coreerrors.Auth("read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, coreerrors.Auth(fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, body), nil)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, coreerrors.Auth("parse token response", err)
	}

	ttl := time.Duration(parsed.ExpiresIn-60) * time.Second // refresh a minute early
	if ttl <= 0 {
		ttl = time.Minute
	}
	p.cache.SetToken(scope, parsed.AccessToken, ttl)

	return parsed.AccessToken, time.Now().Add(ttl).Unix(), nil
}
