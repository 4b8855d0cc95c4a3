package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/MENT2022/studio/internal/ports"
)

// Controller serializes connect and disconnect requests so that at most one
// session is open at a time. A new session is only opened after the previous
// one has confirmed its closure.
type Controller struct {
	mu  sync.Mutex
	m   *Machine
	obs ports.Observability
}

func NewController(m *Machine, obs ports.Observability) *Controller {
	return &Controller{m: m, obs: obs}
}

// RequestConnect replaces any open session with a new one for p. It returns
// once the transport accepted the open request and reports the session id;
// the handshake outcome shows up as status changes.
func (c *Controller) RequestConnect(ctx context.Context, p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	p = p.withDefaults()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.m.Ready() {
		return "", ErrNotReady
	}
	if err := c.awaitTeardown(ctx); err != nil {
		return "", err
	}

	c.obs.LogInfo("session_connect_requested",
		ports.Field{Key: "endpoint", Value: p.Endpoint},
		ports.Field{Key: "client_id", Value: p.ClientID},
		ports.Field{Key: "topic", Value: p.Topic},
	)
	id, err := c.m.connect(ctx, p)
	if err != nil {
		return id, fmt.Errorf("connect %s: %w", p.Endpoint, err)
	}
	return id, nil
}

// RequestDisconnect closes the open session, if any, and leaves the machine
// disconnected with an empty window.
func (c *Controller) RequestDisconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.m.Ready() {
		return ErrNotReady
	}
	if err := c.awaitTeardown(ctx); err != nil {
		return err
	}
	if err := c.m.settle(ctx); err != nil {
		return err
	}
	c.obs.LogInfo("session_disconnected")
	return nil
}

// awaitTeardown closes the current session and waits for the transport to
// confirm. If ctx ends first the session is released anyway, leaving the
// machine disconnected with nothing attached.
func (c *Controller) awaitTeardown(ctx context.Context) error {
	td, err := c.m.beginTeardown(ctx)
	if err != nil {
		return err
	}
	if td.closed == nil {
		return nil
	}
	select {
	case <-td.closed:
		return nil
	case <-ctx.Done():
		c.m.abandon(td.gen)
		c.obs.LogError("session_close_unconfirmed", ctx.Err(), ports.Field{Key: "generation", Value: td.gen})
		return fmt.Errorf("await session close: %w", ctx.Err())
	}
}
