package gateway

import (
	"net/http"
	"strings"
)

// Header names injected by the gateway. Trusted only when gateway mode is
// enabled for the deployment shape.
const (
	// ConsumerCustomIDHeader carries the authenticated consumer's custom id
	// (the identity id).
	ConsumerCustomIDHeader = "X-Consumer-Custom-Id"
	// ConsumerGroupsHeader carries the consumer's ACL groups, comma separated.
	ConsumerGroupsHeader = "X-Consumer-Groups"
	// AnonymousConsumerHeader is set to "true" for unauthenticated traffic
	// mapped to the gateway's anonymous consumer.
	AnonymousConsumerHeader = "X-Anonymous-Consumer"
)

// Headers is the trusted identity surface read from gateway-injected
// request headers.
type Headers struct {
	ConsumerCustomID string
	Groups           []string
	Anonymous        bool
}

// ParseHeaders extracts the gateway identity surface from a request. The
// anonymousConsumerIDs allow-list identifies consumer custom ids the gateway
// uses for unauthenticated traffic.
func ParseHeaders(r *http.Request, anonymousConsumerIDs []string) Headers {
	h := Headers{
		ConsumerCustomID: r.Header.Get(ConsumerCustomIDHeader),
	}

	if raw := r.Header.Get(ConsumerGroupsHeader); raw != "" {
		for _, group := range strings.Split(raw, ",") {
			if group = strings.TrimSpace(group); group != "" {
				h.Groups = append(h.Groups, group)
			}
		}
	}

	if strings.EqualFold(r.Header.Get(AnonymousConsumerHeader), "true") {
		h.Anonymous = true
	}
	for _, id := range anonymousConsumerIDs {
		if h.ConsumerCustomID == id {
			h.Anonymous = true
		}
	}
	return h
}
