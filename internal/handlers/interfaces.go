// Package handlers provides HTTP handlers for the mailer API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"mailer/internal/database"
	"mailer/internal/sender/async"
	"mailer/internal/sender/email"
	"mailer/internal/sender/payload"
)

// ErrUnauthenticated is returned by an IdentityResolver when the request
// carries no authenticated user.
var ErrUnauthenticated = errors.New("no authenticated user")

// Identity is the authenticated user behind a request.
type Identity struct {
	Email string
	Name  string
	Role  string
}

// IdentityResolver resolves the authenticated user of a request. Session
// verification lives outside this service.
type IdentityResolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// CodeExchanger completes an email verification by exchanging the one-time
// code from the verification link for the verified user.
type CodeExchanger interface {
	ExchangeCode(r *http.Request, code string) (*Identity, error)
}

// AdminChecker decides whether an identity may use the admin endpoints.
type AdminChecker interface {
	IsAdmin(id *Identity) bool
}

// Mailer sends messages synchronously. *email.Client implements it.
type Mailer interface {
	payload.Sender
	Mode() email.Mode
}

// Dispatcher runs sends in the background. *async.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(send async.SendFunc, c async.Context)
}

// EventReader lists stored delivery events. *database.EventStore implements it.
type EventReader interface {
	Recent(ctx context.Context, emailType string, limit int) ([]database.StoredEvent, error)
}
