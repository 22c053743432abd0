package email

import (
	"context"
	"sync/atomic"
)

var defaultClient atomic.Pointer[Client]

// Default returns the process-wide client installed with SetDefault. Before
// SetDefault is called it lazily installs a client built from an empty Config,
// which refuses every send with API_KEY_MISSING.
func Default() *Client {
	if c := defaultClient.Load(); c != nil {
		return c
	}
	c, _ := NewClient(context.Background(), Config{})
	if defaultClient.CompareAndSwap(nil, c) {
		return c
	}
	return defaultClient.Load()
}

// SetDefault installs c as the process-wide client.
func SetDefault(c *Client) {
	defaultClient.Store(c)
}

// ResetForTesting clears the process-wide client so the next Default call
// builds a fresh one.
func ResetForTesting() {
	defaultClient.Store(nil)
}

// Send delivers req with the default client.
func Send(ctx context.Context, req Request, opts ...SendOption) Result {
	return Default().Send(ctx, req, opts...)
}
