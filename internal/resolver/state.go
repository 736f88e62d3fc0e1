package resolver

import (
	"context"

	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/identity"
)

// Status is the terminal outcome of resolving a request's identity.
type Status int

const (
	// StatusAnonymous is the outcome for requests carrying no credentials.
	StatusAnonymous Status = iota
	// StatusLocalMatch means the verified token matched the local record at
	// the same revision.
	StatusLocalMatch
	// StatusReplicated means the token outran the local copy and the record
	// was refreshed from the authoritative backend.
	StatusReplicated
	// StatusRejected means the credentials were present but invalid. A
	// rejected request never downgrades to anonymous.
	StatusRejected
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusLocalMatch:
		return "local-match"
	case StatusReplicated:
		return "replicated"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// Authenticated reports whether the outcome carries a trusted identity.
func (s Status) Authenticated() bool {
	return s == StatusLocalMatch || s == StatusReplicated
}

// A Resolution is the result of running the resolver over one request.
type Resolution struct {
	Status Status
	// Record is the local identity record, set only for authenticated
	// outcomes.
	Record *identity.Record
	// State is the verified token claim set, set only for authenticated
	// outcomes.
	State *sessions.State
	// RawToken is the verified raw session token, usable as a bearer
	// credential for replication fetches on behalf of the caller.
	RawToken string
	// GatewayGroups are the ACL groups the gateway reported, when gateway
	// mode is enabled.
	GatewayGroups []string

	// rejectReason records why credentials were rejected. Logged, never
	// rendered to clients.
	rejectReason error
}

// RejectReason returns the internal reason for a rejected resolution.
func (res *Resolution) RejectReason() error {
	return res.rejectReason
}

// Authenticated reports whether the resolution carries a trusted identity.
func (res *Resolution) Authenticated() bool {
	return res != nil && res.Status.Authenticated() && res.Record != nil
}

type resolutionCtxKey struct{}

// NewContext attaches a resolution to a context.
func NewContext(ctx context.Context, res *Resolution) context.Context {
	return context.WithValue(ctx, resolutionCtxKey{}, res)
}

// FromContext returns the resolution bound to the context. Requests that did
// not pass through the resolver middleware resolve as anonymous.
func FromContext(ctx context.Context) *Resolution {
	if res, ok := ctx.Value(resolutionCtxKey{}).(*Resolution); ok {
		return res
	}
	return &Resolution{Status: StatusAnonymous}
}
