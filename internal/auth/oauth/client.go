package oauth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Compiled defaults, used when neither an override nor a discovery document provides a value.
const (
	DefaultAuthURL     = "https://accounts.heb.com/oidc/auth"
	DefaultTokenURL    = "https://accounts.heb.com/oidc/token"
	DefaultRedirectURI = "http://localhost:8765/oauth/callback"
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// Provider describes the identity provider and this client's registration with it.
type Provider struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	DiscoveryURL string
	RedirectURI  string
	Scopes       []string
	// ExtraParams are appended to every authorization URL.
	ExtraParams map[string]string
}

// Client runs the authorization-code flow through x/oauth2.
type Client struct {
	provider   Provider
	httpClient *http.Client
	discovery  *Discovery
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for token and discovery requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithDiscovery shares a discovery cache between clients.
func WithDiscovery(d *Discovery) ClientOption {
	return func(c *Client) { c.discovery = d }
}

// NewClient builds a client for p.
func NewClient(p Provider, opts ...ClientOption) *Client {
	c := &Client{provider: p, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	if c.discovery == nil {
		c.discovery = NewDiscovery(c.httpClient, DefaultDiscoveryTTL)
	}
	return c
}

// Provider returns the client's provider configuration.
func (c *Client) Provider() Provider { return c.provider }

// Endpoint resolves the authorization and token endpoints: explicit override, then discovery,
// then the compiled defaults. A failing discovery falls through to the defaults.
func (c *Client) Endpoint(ctx context.Context) oauth2.Endpoint {
	endpoint := oauth2.Endpoint{
		AuthURL:   strings.TrimSpace(c.provider.AuthURL),
		TokenURL:  strings.TrimSpace(c.provider.TokenURL),
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if (endpoint.AuthURL == "" || endpoint.TokenURL == "") && strings.TrimSpace(c.provider.DiscoveryURL) != "" {
		md, err := c.discovery.Fetch(ctx, c.provider.DiscoveryURL)
		if err != nil {
			log.WithError(err).Warn("oauth: discovery failed, using default endpoints")
		} else {
			if endpoint.AuthURL == "" {
				endpoint.AuthURL = md.AuthorizationEndpoint
			}
			if endpoint.TokenURL == "" {
				endpoint.TokenURL = md.TokenEndpoint
			}
		}
	}
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = DefaultAuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = DefaultTokenURL
	}
	return endpoint
}

func (c *Client) config(ctx context.Context) (*oauth2.Config, error) {
	clientID := strings.TrimSpace(c.provider.ClientID)
	if clientID == "" {
		return nil, ErrClientIDRequired
	}
	redirect := strings.TrimSpace(c.provider.RedirectURI)
	if redirect == "" {
		redirect = DefaultRedirectURI
	}
	scopes := c.provider.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: c.provider.ClientSecret,
		Endpoint:     c.Endpoint(ctx),
		RedirectURL:  redirect,
		Scopes:       scopes,
	}, nil
}

// AuthURL builds the authorization URL for pc.
func (c *Client) AuthURL(ctx context.Context, pc *Context) (string, error) {
	if pc == nil {
		return "", errors.New("oauth: login context is nil")
	}
	cfg, err := c.config(ctx)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pc.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pc.Method),
		oauth2.SetAuthURLParam("nonce", pc.Nonce),
		oauth2.SetAuthURLParam("client_request_id", pc.ClientRequestID),
		oauth2.SetAuthURLParam("device_id", pc.DeviceID),
		oauth2.SetAuthURLParam("timestamp", strconv.FormatInt(pc.CreatedAt.UnixMilli(), 10)),
	}
	for key, value := range c.provider.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return cfg.AuthCodeURL(pc.State, opts...), nil
}

// Exchange trades an authorization code for tokens using the verifier held by pc.
func (c *Client) Exchange(ctx context.Context, code string, pc *Context) (credential.TokenBundle, error) {
	if pc == nil {
		return credential.TokenBundle{}, errors.New("oauth: login context is nil")
	}
	if strings.TrimSpace(code) == "" {
		return credential.TokenBundle{}, errors.New("oauth: authorization code is empty")
	}
	cfg, err := c.config(ctx)
	if err != nil {
		return credential.TokenBundle{}, err
	}
	tok, err := cfg.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(pc.Verifier))
	if err != nil {
		return credential.TokenBundle{}, providerError("token exchange", err)
	}
	return credential.FromOAuth2(tok), nil
}

// Refresh redeems refreshToken. When the provider does not rotate the refresh token the old
// one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credential.TokenBundle, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return credential.TokenBundle{}, ErrNoRefreshToken
	}
	cfg, err := c.config(ctx)
	if err != nil {
		return credential.TokenBundle{}, err
	}
	tok, err := cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return credential.TokenBundle{}, providerError("token refresh", err)
	}
	bundle := credential.FromOAuth2(tok)
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}
	return bundle, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func providerError(operation string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &ProviderError{Operation: operation, Code: re.ErrorCode, Body: string(re.Body)}
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		return pe
	}
	return err
}
