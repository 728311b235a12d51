// Package bos is the back office server side of the simulation: it polls the
// broker for loco status reports, keeps the fleet table current and issues
// dispatch directives.
package bos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"

	ptcsim "github.com/dbuentello/PTC-Sim"
	"github.com/dbuentello/PTC-Sim/track"
)

const defaultPollInterval = time.Second

// Config defines watcher configuration.
type Config struct {
	// Addr is the back office address polled for status messages.
	Addr string

	// Interval is the polling cadence. Defaults to one second.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = defaultPollInterval
	}
	return c
}

// Watcher polls the broker for loco status messages and applies them to the
// fleet table.
type Watcher struct {
	client *ptcsim.Client
	fleet  *track.Fleet
	config Config
}

// NewWatcher creates new watcher updating fleet from messages fetched by
// client.
func NewWatcher(client *ptcsim.Client, fleet *track.Fleet, config Config) *Watcher {
	return &Watcher{
		client: client,
		fleet:  fleet,
		config: config.withDefaults(),
	}
}

// Run polls the back office address until the context ends. Each tick drains
// the queue completely; a malformed status is logged and dropped, never fatal.
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.Get(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}

		w.drain(log)
	}
}

func (w *Watcher) drain(log *zap.Logger) {
	for {
		msg, err := w.client.Fetch(w.config.Addr)
		if errors.Is(err, ptcsim.ErrEmptyQueue) {
			return
		}
		if err != nil {
			log.Error("Status fetch failed", zap.Error(err))
			return
		}

		if msg.Type != track.MsgLocoStatus {
			log.Warn("Unhandled message type",
				zap.Uint16("type", msg.Type),
				zap.String("sender", msg.Sender),
			)
			continue
		}

		status, err := track.ParseStatus(msg)
		if err != nil {
			log.Error("Malformed status message", zap.String("sender", msg.Sender), zap.Error(err))
			continue
		}

		w.fleet.Update(status, time.Now())
		log.Info("Status received",
			zap.String("loco", status.LocoID),
			zap.Float64("speed", status.Speed),
			zap.Float64("milepost", status.Milepost),
		)
	}
}

// SendCAD queues a dispatch directive for the given loco.
func (w *Watcher) SendCAD(locoID, locoAddr, directive string) error {
	msg, err := track.CADMessage(w.config.Addr, locoAddr, locoID, directive)
	if err != nil {
		return err
	}
	return w.client.Send(msg)
}
