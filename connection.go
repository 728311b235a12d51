package ptcsim

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"

	"github.com/dbuentello/PTC-Sim/wire"
)

const defaultWatchdogPoll = time.Second

// ConnectionConfig defines connection configuration.
type ConnectionConfig struct {
	// ID names the connection in logs, e.g. "radio1".
	ID string

	// Timeout is the inactivity window after which the watchdog disconnects.
	// Zero means the connection never expires.
	Timeout time.Duration

	// Poll is the watchdog cadence. Defaults to one second.
	Poll time.Duration
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Poll == 0 {
		c.Poll = defaultWatchdogPoll
	}
	return c
}

// Connection models a lossy link between a simulated device and a partner,
// layered on top of the broker client. Every exchange routed through it
// refreshes its activity timestamp; a watchdog drops the partner reference
// once the configured inactivity window elapses. It does no network I/O of
// its own beyond delegating to the client.
//
// A Connection is owned by a single device; the watchdog touches only its own
// fields.
type Connection struct {
	client *Client
	config ConnectionConfig

	mu           sync.Mutex
	partner      any
	lastActivity time.Time
}

// NewConnection creates new connection routing through client.
func NewConnection(client *Client, config ConnectionConfig) *Connection {
	return &Connection{
		client: client,
		config: config.withDefaults(),
	}
}

// ID returns the connection name.
func (c *Connection) ID() string {
	return c.config.ID
}

// Connect stores the partner reference and refreshes activity.
func (c *Connection) Connect(partner any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.partner = partner
	c.lastActivity = time.Now()
}

// Disconnect clears the partner reference.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.partner = nil
}

// Connected reports whether a partner is attached.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.partner != nil
}

// Partner returns the attached partner, or nil.
func (c *Connection) Partner() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.partner
}

// KeepAlive refreshes the activity timestamp.
func (c *Connection) KeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = time.Now()
}

// Send routes a send through the link, refreshing activity on success.
func (c *Connection) Send(msg *wire.Message) error {
	if err := c.client.Send(msg); err != nil {
		return err
	}

	c.KeepAlive()
	return nil
}

// Fetch routes a fetch through the link. An empty queue still refreshes
// activity: the round trip proves the link works.
func (c *Connection) Fetch(address string) (*wire.Message, error) {
	msg, err := c.client.Fetch(address)
	if err == nil || errors.Is(err, ErrEmptyQueue) {
		c.KeepAlive()
	}
	return msg, err
}

// RunWatchdog polls the connection at the configured cadence and disconnects
// it once it expires. Runs until the context ends.
func (c *Connection) RunWatchdog(ctx context.Context) error {
	log := logger.Get(ctx)

	ticker := time.NewTicker(c.config.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case now := <-ticker.C:
			if c.dropIfExpired(now) {
				log.Info("Connection timed out", zap.String("conn", c.config.ID))
			}
		}
	}
}

// dropIfExpired disconnects when no activity was ever recorded or when the
// non-zero timeout has elapsed since the last activity.
func (c *Connection) dropIfExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.partner == nil {
		return false
	}
	if !c.lastActivity.IsZero() && (c.config.Timeout == 0 || now.Sub(c.lastActivity) < c.config.Timeout) {
		return false
	}

	c.partner = nil
	return true
}
