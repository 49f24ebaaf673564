// Package collaborators declares the interfaces the core consumes from
// the outside world: authentication, transport, time, and the cache
// directory root. Default thin implementations live alongside the
// interfaces so cmd/d365fo-client is runnable without a second
// repository, but the core never depends on a concrete type here.
package collaborators

import "context"

// TokenProvider supplies bearer tokens for OData/REST calls.
type TokenProvider interface {
	GetToken(ctx context.Context, scope string) (token string, expiresAtUnix int64, err error)
}

// ODataClient is the opaque transport the core issues remote calls
// through. It returns raw JSON bytes on success; the core owns all
// parsing. Implementations are responsible for auth, TLS, and request
// construction — the core does not build OData query strings beyond
// URL-quoting (spec.md Non-goal i).
type ODataClient interface {
	Get(ctx context.Context, path string, query string) ([]byte, error)
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
	CallAction(ctx context.Context, entitySet, actionName string, params map[string]any) ([]byte, error)
}

// Clock is injected for testability.
type Clock interface {
	Now() int64 // unix seconds
}

// FsRoot is the directory where the cache DB and disk cache live. It
// is created if absent.
type FsRoot interface {
	Path() string
}
