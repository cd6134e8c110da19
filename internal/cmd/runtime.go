package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/heb-mcp/hebsession/internal/access/tenantkeys"
	"github.com/heb-mcp/hebsession/internal/auth/oauth"
	"github.com/heb-mcp/hebsession/internal/config"
	"github.com/heb-mcp/hebsession/internal/session"
	"github.com/heb-mcp/hebsession/internal/store"
	"github.com/heb-mcp/hebsession/internal/tenant"
	"github.com/heb-mcp/hebsession/internal/transport"
	sdkaccess "github.com/heb-mcp/hebsession/sdk/access"
	log "github.com/sirupsen/logrus"
)

// Runtime holds the collaborators shared by the server and the CLI commands.
type Runtime struct {
	Config     *config.Config
	HTTPClient *http.Client
	Store      store.Store
	// Files is set when records live in a local directory (file or git store).
	Files   *store.FileStore
	OAuth   *oauth.Client
	Pending *oauth.Pending
	Tenants *tenant.Manager
	Access  *sdkaccess.Manager

	closers []func() error
}

// NewRuntime selects the credential store and builds the tenant manager for cfg.
//
// Parameters:
//   - ctx: The context used for store initialization
//   - cfg: The validated application configuration
//
// Returns:
//   - *Runtime: The assembled runtime
//   - error: An error if the key, the store or the codec cannot be initialized
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	keyring, err := store.LoadKeyring(cfg.Session.Key)
	if err != nil {
		return nil, err
	}
	alg, err := store.ParseAlgorithm(cfg.Session.Algorithm)
	if err != nil {
		return nil, err
	}
	codec, err := store.NewCodec(keyring, alg, cfg.Session.RequireEncryption)
	if err != nil {
		return nil, err
	}
	if !codec.Encrypted() {
		log.Warn("HEB_SESSION_KEY is not set; session records are stored as plaintext")
	}

	if err = rt.selectStore(ctx, codec); err != nil {
		rt.Close()
		return nil, err
	}

	rt.HTTPClient = transport.NewHTTPClient(transport.Options{ProxyURL: cfg.ProxyURL})

	opts := tenant.Options{
		HTTPClient:    rt.HTTPClient,
		DisableWarmUp: cfg.Session.DisableWarmUp,
		SessionOptions: []session.Option{
			session.WithUnknownExpiryPolicy(cfg.AssumeValidWithoutExpiry()),
			session.WithEndpoints(cfg.Session.WebEndpoint, cfg.Session.MobileEndpoint),
			session.WithClientInfo(session.ClientInfo{
				UserAgent: cfg.Session.UserAgent,
				Name:      cfg.Session.ClientName,
				Version:   cfg.Session.ClientVersion,
			}),
			session.WithDebug(cfg.Debug),
		},
	}
	if strings.TrimSpace(cfg.OAuth.ClientID) != "" {
		rt.OAuth = oauth.NewClient(oauth.Provider{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			AuthURL:      cfg.OAuth.AuthURL,
			TokenURL:     cfg.OAuth.TokenURL,
			DiscoveryURL: cfg.OAuth.DiscoveryURL,
			RedirectURI:  cfg.OAuth.RedirectURI,
			Scopes:       cfg.OAuth.Scopes,
		}, oauth.WithHTTPClient(rt.HTTPClient))
		rt.Pending = oauth.NewPending(cfg.OAuth.PendingTTL())
		opts.Refresher = rt.OAuth
	}
	rt.Tenants = tenant.NewManager(rt.Store, opts)

	keys := tenantkeys.New(cfg.TenantKeys())
	if keys.Len() == 0 {
		log.Warn("no tenant keys configured; every /v1 request will be rejected")
	}
	rt.Access = sdkaccess.NewManager()
	rt.Access.SetProviders([]sdkaccess.Provider{keys})
	return rt, nil
}

func (rt *Runtime) selectStore(ctx context.Context, codec *store.Codec) error {
	cfg := rt.Config
	switch {
	case strings.TrimSpace(cfg.Postgres.DSN) != "":
		pg, err := store.NewPostgresStore(ctx, store.PostgresStoreConfig{
			DSN:    cfg.Postgres.DSN,
			Schema: cfg.Postgres.Schema,
			Table:  cfg.Postgres.Table,
		}, codec)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, pg.Close)
		if err = pg.EnsureSchema(ctx); err != nil {
			return err
		}
		rt.Store = pg
		log.Info("using postgres session store")
	case strings.TrimSpace(cfg.GitStore.Remote) != "":
		dir := strings.TrimSpace(cfg.GitStore.Dir)
		if dir == "" {
			base, err := cfg.ExpandedSessionDir()
			if err != nil {
				return err
			}
			dir = filepath.Join(base, "git")
		}
		gs, err := store.NewGitStore(store.GitStoreConfig{
			Remote:   cfg.GitStore.Remote,
			Username: cfg.GitStore.Username,
			Password: cfg.GitStore.Password,
			Dir:      dir,
		}, codec)
		if err != nil {
			return err
		}
		rt.Store = gs
		rt.Files = gs.Files()
		log.Infof("using git session store: %s", dir)
	case strings.TrimSpace(cfg.ObjectStore.Endpoint) != "":
		obj, err := store.NewObjectStore(store.ObjectStoreConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Bucket:    cfg.ObjectStore.Bucket,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Region:    cfg.ObjectStore.Region,
			Prefix:    cfg.ObjectStore.Prefix,
			UseSSL:    cfg.ObjectStore.UseSSL,
			PathStyle: cfg.ObjectStore.PathStyle,
		}, codec)
		if err != nil {
			return err
		}
		if err = obj.EnsureBucket(ctx); err != nil {
			return err
		}
		rt.Store = obj
		log.Infof("using object session store: bucket %s", cfg.ObjectStore.Bucket)
	default:
		dir, err := cfg.ExpandedSessionDir()
		if err != nil {
			return err
		}
		fs, err := store.NewFileStore(dir, codec)
		if err != nil {
			return fmt.Errorf("open session directory: %w", err)
		}
		rt.Store = fs
		rt.Files = fs
		log.Infof("using file session store: %s", dir)
	}
	return nil
}

// Close releases store connections.
func (rt *Runtime) Close() {
	for _, closeFn := range rt.closers {
		if err := closeFn(); err != nil {
			log.Errorf("failed to close session store: %v", err)
		}
	}
	rt.closers = nil
}
