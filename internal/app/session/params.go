package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MENT2022/studio/internal/ports"
)

var (
	// ErrNotReady is returned when a request arrives before the transport is
	// configured or while the event loop is not running.
	ErrNotReady = errors.New("session: transport not ready")
	// ErrInvalidParams wraps every connection parameter problem.
	ErrInvalidParams = errors.New("session: invalid connection parameters")
)

const (
	defaultKeepAlive         = 30 * time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultConnectTimeout    = 10 * time.Second
)

// Params is a connect request: where to connect and what to subscribe to.
type Params struct {
	ports.OpenParams
	Topic string
	QoS   byte
}

// Validate reports the first problem found, wrapped in ErrInvalidParams.
func (p Params) Validate() error {
	switch {
	case strings.TrimSpace(p.Endpoint) == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidParams)
	case strings.TrimSpace(p.Topic) == "":
		return fmt.Errorf("%w: topic filter is required", ErrInvalidParams)
	case p.QoS > 2:
		return fmt.Errorf("%w: qos must be 0, 1 or 2 (got %d)", ErrInvalidParams, p.QoS)
	case p.KeepAlive < 0, p.ReconnectInterval < 0, p.ConnectTimeout < 0:
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidParams)
	}
	return nil
}

// withDefaults fills unset intervals and generates a client id.
func (p Params) withDefaults() Params {
	if p.KeepAlive == 0 {
		p.KeepAlive = defaultKeepAlive
	}
	if p.ReconnectInterval == 0 {
		p.ReconnectInterval = defaultReconnectInterval
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	if p.ClientID == "" {
		p.ClientID = "studio-" + uuid.NewString()[:8]
	}
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	p.Topic = strings.TrimSpace(p.Topic)
	return p
}
