package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	newRequest := func(customID, groups, anonymous string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if customID != "" {
			r.Header.Set(ConsumerCustomIDHeader, customID)
		}
		if groups != "" {
			r.Header.Set(ConsumerGroupsHeader, groups)
		}
		if anonymous != "" {
			r.Header.Set(AnonymousConsumerHeader, anonymous)
		}
		return r
	}

	tests := []struct {
		name      string
		request   *http.Request
		allowList []string
		want      Headers
	}{
		{
			"authenticated consumer",
			newRequest("id-1", "users, admins", ""),
			nil,
			Headers{ConsumerCustomID: "id-1", Groups: []string{"users", "admins"}},
		},
		{
			"anonymous header",
			newRequest("", "", "true"),
			nil,
			Headers{Anonymous: true},
		},
		{
			"anonymous by allow-list",
			newRequest("anonymous", "", ""),
			[]string{"anonymous"},
			Headers{ConsumerCustomID: "anonymous", Anonymous: true},
		},
		{
			"no headers",
			newRequest("", "", ""),
			[]string{"anonymous"},
			Headers{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseHeaders(tc.request, tc.allowList))
		})
	}
}
