// ssoline is the SSO identity layer daemon. One binary serves both
// deployment shapes: the authoritative backend that owns identity records,
// and the dependent app that holds replicas and trusts backend-issued
// tokens.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ssoline/ssoline/config"
	"github.com/ssoline/ssoline/internal/authenticate"
	"github.com/ssoline/ssoline/internal/devices"
	"github.com/ssoline/ssoline/internal/encoding/jws"
	"github.com/ssoline/ssoline/internal/gateway"
	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/passepartout"
	"github.com/ssoline/ssoline/internal/profiles"
	"github.com/ssoline/ssoline/internal/replicate"
	"github.com/ssoline/ssoline/internal/resolver"
	"github.com/ssoline/ssoline/internal/revision"
	"github.com/ssoline/ssoline/internal/services"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/storage"
	"github.com/ssoline/ssoline/pkg/storage/inmemory"
	"github.com/ssoline/ssoline/pkg/storage/postgres"
)

func main() {
	configFile := flag.String("config", "", "Specify configuration file location")
	flag.Parse()

	if err := run(context.Background(), *configFile); err != nil {
		log.Fatal().Err(err).Msg("ssoline: fatal error")
	}
}

func run(ctx context.Context, configFile string) error {
	opts, err := config.NewOptionsFromConfig(configFile)
	if err != nil {
		return err
	}
	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		log.SetLevel(level)
	}

	backend, err := newBackend(ctx, opts)
	if err != nil {
		return err
	}
	defer backend.Close()

	router, err := newRouter(opts, backend)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx).Str("addr", opts.Addr).Str("shape", opts.Shape).Msg("ssoline: serving")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newBackend(ctx context.Context, opts *config.Options) (storage.Backend, error) {
	if opts.DatabaseURL == "" {
		log.Info(ctx).Msg("ssoline: using in-memory storage")
		return inmemory.New(), nil
	}
	return postgres.New(ctx, opts.DatabaseURL)
}

func newRouter(opts *config.Options, backend storage.Backend) (*mux.Router, error) {
	cookieStore, err := sessions.NewCookieStore(&sessions.CookieOptions{
		Name:     opts.CookieName,
		Domain:   opts.CookieDomain,
		Expire:   opts.CookieExpire,
		HTTPOnly: opts.CookieHTTPOnly,
		Secure:   opts.CookieSecure,
	})
	if err != nil {
		return nil, err
	}

	var gatewayClient *gateway.Client
	if opts.GatewayEnabled && opts.GatewayAdminURL != "" {
		gatewayClient, err = gateway.New(opts.GatewayAdminURL, opts.ExternalTimeout)
		if err != nil {
			return nil, err
		}
	}

	var secretSource devices.SecretSource = devices.LocalSecretSource{}
	var groupSyncer profiles.GroupSyncer = profiles.NopGroupSyncer{}
	if gatewayClient != nil {
		secretSource = &devices.GatewaySecretSource{Client: gatewayClient}
		groupSyncer = &profiles.GatewayGroupSyncer{Client: gatewayClient}
	}

	deviceStore := devices.NewStore(backend, secretSource)
	tracker := revision.NewTracker(backend)
	profileManager := profiles.NewManager(backend, tracker, deviceStore, groupSyncer)

	var replicator *replicate.Replicator
	if opts.IsApp() && opts.ReplicateProfile {
		source, err := replicate.NewHTTPSource(opts.RemoteBackendURL, opts.ServiceToken, opts.ExternalTimeout)
		if err != nil {
			return nil, err
		}
		replicator = replicate.New(backend, source)
	}

	var strategy resolver.AuthenticationStrategy = &resolver.BackendStrategy{Store: backend}
	if opts.IsApp() {
		strategy = &resolver.AppStrategy{Store: backend, Replicator: replicator}
	}

	registry := services.NewRegistry()
	for _, raw := range opts.BackendURLsChain {
		if err := registry.Register(raw, raw); err != nil {
			return nil, err
		}
	}

	chain := make([]*url.URL, 0, len(opts.BackendURLsChain))
	for i := range opts.BackendURLsChain {
		u, err := opts.ChainURL(i)
		if err != nil {
			return nil, err
		}
		chain = append(chain, u)
	}
	position := 0
	if len(chain) > 0 {
		if position, err = opts.ChainPosition(); err != nil {
			return nil, err
		}
	}
	tickets, err := passepartout.NewManager(backend, chain, position)
	if err != nil {
		return nil, err
	}

	codec := jws.New()
	// Authorization header takes precedence over the session cookie
	sessionStore := sessions.NewMultiStore(cookieStore, sessions.NewHeaderStore(), cookieStore)

	res := resolver.New(resolver.Config{
		Codec:                 codec,
		Devices:               deviceStore,
		Sessions:              sessionStore,
		Strategy:              strategy,
		GatewayEnabled:        opts.GatewayEnabled,
		AnonymousConsumerIDs:  opts.GatewayAnonymousConsumerIDs,
		DisallowStaff:         opts.IsApp(),
		RequiredProfileFields: opts.RequiredProfileFields,
		SubscriptionGroup:     opts.SubscriptionGroup,
		PathIsRedirectExempt:  opts.PathIsRedirectExempt,
		ProfileCompleteURL:    opts.ProfileCompleteURL,
		LoginURL:              opts.LoginURL,
	})

	authenticator := authenticate.New(codec, deviceStore, backend, sessionStore, tickets,
		opts.SessionTTL, opts.LogoutAllDevices)

	router := httputil.NewRouter()
	router.HandleFunc("/healthz", httputil.HealthCheck)
	router.HandleFunc("/ping", httputil.HealthCheck)

	// the ticket walk runs before session resolution: it is what creates
	// the session in the first place
	passepartout.NewHandler(tickets, sessionStore, registry, opts.LoginURL).Mount(router)

	authed := router.NewRoute().Subrouter()
	authed.Use(res.Middleware)
	authenticate.NewHandler(authenticator, profileManager, backend, opts.ServiceToken, opts.LoginURL).Mount(authed)

	return router, nil
}
