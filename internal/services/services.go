// Package services is the directory of destinations registered with the
// identity layer. Passepartout tickets only land on registered services;
// everything else is unknown.
package services

import (
	"errors"
	"net/url"
	"sort"
	"sync"

	"github.com/ssoline/ssoline/internal/urlutil"
)

// ErrUnknownService is returned for destinations outside the registered
// set. Rendered as a 404.
var ErrUnknownService = errors.New("services: unknown service")

// A Service is a registered destination.
type Service struct {
	// Name is a short human label.
	Name string
	// URL is the service's public base URL. Matching is by origin.
	URL *url.URL
}

// A Registry is the in-process directory of registered services, keyed by
// origin.
type Registry struct {
	mu       sync.RWMutex
	byOrigin map[string]*Service
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{byOrigin: map[string]*Service{}}
}

// Register adds a service to the directory. Re-registering the same origin
// replaces the previous entry.
func (r *Registry) Register(name, rawURL string) error {
	u, err := urlutil.ParseAndValidateURL(rawURL)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOrigin[urlutil.Origin(u)] = &Service{Name: name, URL: u}
	return nil
}

// Lookup resolves a destination URL against the registered set.
func (r *Registry) Lookup(rawURL string) (*Service, error) {
	u, err := urlutil.ParseAndValidateURL(rawURL)
	if err != nil {
		return nil, ErrUnknownService
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.byOrigin[urlutil.Origin(u)]
	if !ok {
		return nil, ErrUnknownService
	}
	return svc, nil
}

// All returns the registered services sorted by name.
func (r *Registry) All() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Service, 0, len(r.byOrigin))
	for _, svc := range r.byOrigin {
		all = append(all, svc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}
