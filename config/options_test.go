package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewDefaultOptions().Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"bad shape", func(o *Options) { o.Shape = "proxy" }, true},
		{"no cookie name", func(o *Options) { o.CookieName = "" }, true},
		{"bad external url", func(o *Options) { o.ExternalURL = "example.com" }, true},
		{"bad chain entry", func(o *Options) { o.BackendURLsChain = []string{"nope"} }, true},
		{"gateway without admin url", func(o *Options) { o.GatewayEnabled = true }, true},
		{"gateway with admin url", func(o *Options) {
			o.GatewayEnabled = true
			o.GatewayAdminURL = "http://kong:8001"
		}, false},
		{"replication without backend", func(o *Options) {
			o.Shape = ShapeApp
			o.ReplicateProfile = true
		}, true},
		{"app with backend", func(o *Options) {
			o.Shape = ShapeApp
			o.ReplicateProfile = true
			o.RemoteBackendURL = "https://sso.example.com"
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := NewDefaultOptions()
			tc.mutate(o)
			err := o.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChainPosition(t *testing.T) {
	t.Parallel()

	o := NewDefaultOptions()
	o.BackendURLsChain = []string{
		"https://sso.example.com",
		"https://app1.example.com",
		"https://app2.example.com",
	}

	o.ExternalURL = "https://app1.example.com"
	pos, err := o.ChainPosition()
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, o.HopCountConfigured())

	o.ExternalURL = "https://elsewhere.example.com"
	_, err = o.ChainPosition()
	assert.Error(t, err)

	o.ExternalURL = ""
	_, err = o.ChainPosition()
	assert.Error(t, err)
}

func TestPathIsRedirectExempt(t *testing.T) {
	t.Parallel()

	o := NewDefaultOptions()
	assert.True(t, o.PathIsRedirectExempt("/static/app.css"))
	assert.True(t, o.PathIsRedirectExempt("/logout/"))
	assert.True(t, o.PathIsRedirectExempt("/api/v1/identity"))
	assert.True(t, o.PathIsRedirectExempt(o.ProfileCompleteURL))
	assert.True(t, o.PathIsRedirectExempt(o.LoginURL))
	assert.False(t, o.PathIsRedirectExempt("/dashboard/"))
}
