// Package config holds the global options used to set up an instance.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ssoline/ssoline/internal/urlutil"
)

// Deployment shapes. A backend owns identity records; an app holds replicas
// and trusts tokens issued by the backend chain.
const (
	ShapeBackend = "backend"
	ShapeApp     = "app"
)

// DefaultSessionTTL is the default lifetime of issued session tokens.
const DefaultSessionTTL = 365 * 24 * time.Hour

// Options are the environmental flags used to set up an instance. Use
// NewDefaultOptions for a safely initialized data structure.
type Options struct {
	// Shape selects the deployment role: "backend" or "app".
	Shape string `mapstructure:"shape" yaml:"shape,omitempty"`

	// Addr specifies the host and port to serve HTTP requests from.
	Addr string `mapstructure:"address" yaml:"address,omitempty"`

	// LogLevel sets the global log level. Possible options are "info",
	// "warn", "debug" and "error". Defaults to "info".
	LogLevel string `mapstructure:"log_level" yaml:"log_level,omitempty"`

	// ExternalURL is this instance's public base URL. Determines the
	// instance's position in the passepartout chain.
	ExternalURL string `mapstructure:"external_url" yaml:"external_url,omitempty"`

	// DatabaseURL is the postgres connection string for the shared backing
	// store. Empty selects the in-memory backend.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url,omitempty"`

	// CookieName is the name of the session cookie.
	CookieName string `mapstructure:"cookie_name" yaml:"cookie_name,omitempty"`
	// CookieDomain is the domain scope of the session cookie.
	CookieDomain string `mapstructure:"cookie_domain" yaml:"cookie_domain,omitempty"`
	// CookieSecure marks the session cookie secure.
	CookieSecure bool `mapstructure:"cookie_secure" yaml:"cookie_secure,omitempty"`
	// CookieHTTPOnly marks the session cookie http-only.
	CookieHTTPOnly bool `mapstructure:"cookie_http_only" yaml:"cookie_http_only,omitempty"`
	// CookieExpire is the max-age of the session cookie.
	CookieExpire time.Duration `mapstructure:"cookie_expire" yaml:"cookie_expire,omitempty"`

	// SessionTTL bounds the lifetime of issued session tokens.
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl,omitempty"`

	// GatewayEnabled trusts the gateway-injected identity headers and
	// issues signing secrets through the gateway admin API.
	GatewayEnabled bool `mapstructure:"gateway_enabled" yaml:"gateway_enabled,omitempty"`
	// GatewayAdminURL is the base URL of the gateway admin API.
	GatewayAdminURL string `mapstructure:"gateway_admin_url" yaml:"gateway_admin_url,omitempty"`
	// GatewayAnonymousConsumerIDs are consumer custom ids the gateway maps
	// unauthenticated traffic to.
	GatewayAnonymousConsumerIDs []string `mapstructure:"gateway_anonymous_consumer_ids" yaml:"gateway_anonymous_consumer_ids,omitempty"`

	// BackendURLsChain is the ordered chain of cooperating backend
	// instances for multi-hop passepartout login.
	BackendURLsChain []string `mapstructure:"backend_urls_chain" yaml:"backend_urls_chain,omitempty"`

	// RemoteBackendURL is the authoritative backend an app shape
	// replicates identity records from.
	RemoteBackendURL string `mapstructure:"remote_backend_url" yaml:"remote_backend_url,omitempty"`
	// ServiceToken is the static service credential used for replication
	// fetches when no caller token is available.
	ServiceToken string `mapstructure:"service_token" yaml:"service_token,omitempty"`
	// ReplicateProfile enables full profile replication on app shapes.
	ReplicateProfile bool `mapstructure:"replicate_profile" yaml:"replicate_profile,omitempty"`

	// SubscriptionGroup names the group an identity must belong to before it
	// may use this service. Empty disables the subscription requirement.
	SubscriptionGroup string `mapstructure:"subscription_group" yaml:"subscription_group,omitempty"`

	// RequiredProfileFields are the profile fields an identity must fill
	// before it is complete.
	RequiredProfileFields []string `mapstructure:"required_profile_fields" yaml:"required_profile_fields,omitempty"`

	// RedirectExemptPaths are path prefixes exempt from profile-complete
	// and subscription redirects, to avoid redirect loops.
	RedirectExemptPaths []string `mapstructure:"redirect_exempt_paths" yaml:"redirect_exempt_paths,omitempty"`

	// ProfileCompleteURL is where incomplete profiles are redirected.
	ProfileCompleteURL string `mapstructure:"profile_complete_url" yaml:"profile_complete_url,omitempty"`
	// LoginURL is where unauthenticated and must-subscribe users are
	// redirected.
	LoginURL string `mapstructure:"login_url" yaml:"login_url,omitempty"`

	// LogoutAllDevices revokes every device of the identity on logout
	// instead of only the caller's.
	LogoutAllDevices bool `mapstructure:"logout_all_devices" yaml:"logout_all_devices,omitempty"`

	// ExternalTimeout bounds calls to the gateway admin API and the remote
	// profile source.
	ExternalTimeout time.Duration `mapstructure:"external_timeout" yaml:"external_timeout,omitempty"`
}

// NewDefaultOptions returns a new options struct with defaults set.
func NewDefaultOptions() *Options {
	return &Options{
		Shape:          ShapeBackend,
		Addr:           ":8000",
		LogLevel:       "info",
		CookieName:     "_ssoline",
		CookieHTTPOnly: true,
		CookieSecure:   true,
		CookieExpire:   14 * 24 * time.Hour,
		SessionTTL:     DefaultSessionTTL,
		GatewayAnonymousConsumerIDs: []string{"anonymous"},
		RequiredProfileFields:       []string{"email", "username"},
		RedirectExemptPaths: []string{
			"/static/",
			"/media/",
			"/logout/",
			"/password/reset/",
			"/confirm-email/",
			"/api/v1/",
		},
		ProfileCompleteURL: "/profile/complete/",
		LoginURL:           "/login/",
		ExternalTimeout:    10 * time.Second,
	}
}

// NewOptionsFromConfig builds options from a config file (optional) and
// environment variables, then validates them.
func NewOptionsFromConfig(configFile string) (*Options, error) {
	o := NewDefaultOptions()

	v := viper.New()
	v.SetEnvPrefix("SSOLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
		}
	}
	if err := v.Unmarshal(o, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal options: %w", err)
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate ensures the options are complete and consistent. Returns on
// first error found.
func (o *Options) Validate() error {
	if o.Shape != ShapeBackend && o.Shape != ShapeApp {
		return fmt.Errorf("config: invalid shape %q", o.Shape)
	}
	if o.CookieName == "" {
		return errors.New("config: cookie_name is required")
	}
	if o.ExternalURL != "" {
		if _, err := urlutil.ParseAndValidateURL(o.ExternalURL); err != nil {
			return fmt.Errorf("config: external_url invalid: %w", err)
		}
	}
	for _, raw := range o.BackendURLsChain {
		if _, err := urlutil.ParseAndValidateURL(raw); err != nil {
			return fmt.Errorf("config: backend_urls_chain entry invalid: %w", err)
		}
	}
	if o.GatewayEnabled && o.Shape == ShapeBackend && o.GatewayAdminURL == "" {
		return errors.New("config: gateway_admin_url is required when gateway mode is enabled on a backend")
	}
	if o.Shape == ShapeApp && o.ReplicateProfile && o.RemoteBackendURL == "" {
		return errors.New("config: remote_backend_url is required when replicate_profile is enabled")
	}
	if o.ExternalTimeout <= 0 {
		return errors.New("config: external_timeout must be positive")
	}
	return nil
}

// IsBackend reports whether the instance is the authoritative backend shape.
func (o *Options) IsBackend() bool { return o.Shape == ShapeBackend }

// IsApp reports whether the instance is a dependent app shape.
func (o *Options) IsApp() bool { return o.Shape == ShapeApp }

// HopCountConfigured returns the number of extra hops in the configured
// chain: chain length minus one, zero when no chain is configured.
func (o *Options) HopCountConfigured() int {
	if len(o.BackendURLsChain) == 0 {
		return 0
	}
	return len(o.BackendURLsChain) - 1
}

// ChainPosition returns this instance's index in the configured chain,
// matched by origin against ExternalURL. Position is pure configuration,
// never inferred from request headers.
func (o *Options) ChainPosition() (int, error) {
	if o.ExternalURL == "" {
		return 0, errors.New("config: external_url is required to determine chain position")
	}
	self, err := urlutil.ParseAndValidateURL(o.ExternalURL)
	if err != nil {
		return 0, err
	}
	for i, raw := range o.BackendURLsChain {
		u, err := urlutil.ParseAndValidateURL(raw)
		if err != nil {
			return 0, err
		}
		if urlutil.SameOrigin(self, u) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("config: external_url %s is not part of the configured chain", o.ExternalURL)
}

// ChainURL returns the parsed chain entry at index i.
func (o *Options) ChainURL(i int) (*url.URL, error) {
	if i < 0 || i >= len(o.BackendURLsChain) {
		return nil, fmt.Errorf("config: chain index %d out of range", i)
	}
	return urlutil.ParseAndValidateURL(o.BackendURLsChain[i])
}

// PathIsRedirectExempt reports whether a request path is exempt from
// profile-complete and subscription redirects.
func (o *Options) PathIsRedirectExempt(path string) bool {
	if path == o.ProfileCompleteURL || path == o.LoginURL {
		return true
	}
	for _, prefix := range o.RedirectExemptPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
