package track

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	ptcsim "github.com/dbuentello/PTC-Sim"
)

const defaultMessagingInterval = 5 * time.Second

// LocoConfig defines the loco messaging loop configuration.
type LocoConfig struct {
	// BOSAddr is the back office address status messages are sent to.
	BOSAddr string

	// Interval is the messaging cadence. Defaults to five seconds.
	Interval time.Duration

	// OnDirective, if set, is called with every CAD directive addressed to
	// this loco. Directives are logged either way.
	OnDirective func(directive string)
}

func (c LocoConfig) withDefaults() LocoConfig {
	if c.Interval == 0 {
		c.Interval = defaultMessagingInterval
	}
	return c
}

// RunLoco drives the loco's radio links and messaging: one watchdog per radio
// plus the messaging loop. Each tick the loop rebinds radios to the bases
// covering the loco's location, reports status over every live link and
// drains directives addressed to the loco. Runs until the context ends.
func RunLoco(ctx context.Context, loco *Loco, bases []*Base, config LocoConfig) error {
	config = config.withDefaults()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for _, conn := range loco.Connections {
			spawn("watchdog-"+conn.ID(), parallel.Fail, conn.RunWatchdog)
		}
		spawn("messaging", parallel.Fail, func(ctx context.Context) error {
			return runMessaging(ctx, loco, bases, config)
		})

		return nil
	})
}

func runMessaging(ctx context.Context, loco *Loco, bases []*Base, config LocoConfig) error {
	log := logger.Get(ctx).With(zap.String("loco", loco.ID))

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}

		refreshRadios(loco, bases, log)

		active := activeRadios(loco)
		if len(active) == 0 {
			log.Warn("No base coverage, skipping status report")
			continue
		}

		msg, err := StatusMessage(loco, config.BOSAddr)
		if err != nil {
			return err
		}
		for _, conn := range active {
			if err := conn.Send(msg); err != nil {
				log.Error("Status send failed", zap.String("conn", conn.ID()), zap.Error(err))
			}
		}

		drainDirectives(loco, active[0], config, log)
	}
}

// refreshRadios drops links to bases that no longer cover the loco and binds
// free radios to uncovered in-range bases, one radio per base.
func refreshRadios(loco *Loco, bases []*Base, log *zap.Logger) {
	connected := map[string]struct{}{}
	for _, conn := range loco.Connections {
		base, ok := conn.Partner().(*Base)
		if !ok {
			continue
		}
		if !base.Covers(loco.Location) {
			conn.Disconnect()
			log.Info("Left base coverage", zap.String("conn", conn.ID()), zap.String("base", base.ID))
			continue
		}
		connected[base.ID] = struct{}{}
	}

	for _, base := range bases {
		if !base.Covers(loco.Location) {
			continue
		}
		if _, ok := connected[base.ID]; ok {
			continue
		}

		conn := freeRadio(loco)
		if conn == nil {
			return
		}
		conn.Connect(base)
		connected[base.ID] = struct{}{}
		log.Info("Connected to base", zap.String("conn", conn.ID()), zap.String("base", base.ID))
	}
}

func activeRadios(loco *Loco) []*ptcsim.Connection {
	labels := make([]string, 0, len(loco.Connections))
	for label := range loco.Connections {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	active := make([]*ptcsim.Connection, 0, len(labels))
	for _, label := range labels {
		if conn := loco.Connections[label]; conn.Connected() {
			active = append(active, conn)
		}
	}
	return active
}

func freeRadio(loco *Loco) *ptcsim.Connection {
	labels := make([]string, 0, len(loco.Connections))
	for label := range loco.Connections {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		if conn := loco.Connections[label]; !conn.Connected() {
			return conn
		}
	}
	return nil
}

// drainDirectives fetches everything queued under the loco's address and acts
// on CAD directives carrying this loco's ID.
func drainDirectives(loco *Loco, conn *ptcsim.Connection, config LocoConfig, log *zap.Logger) {
	for {
		msg, err := conn.Fetch(loco.Addr)
		if errors.Is(err, ptcsim.ErrEmptyQueue) {
			return
		}
		if err != nil {
			log.Error("Directive fetch failed", zap.Error(err))
			return
		}

		if msg.Type != MsgCAD {
			log.Warn("Unhandled message type", zap.Uint16("type", msg.Type))
			continue
		}

		id, err := msg.Payload.String("ID")
		if err != nil {
			log.Error("Malformed directive", zap.Error(err))
			continue
		}
		if id != loco.ID {
			continue
		}

		directive, err := msg.Payload.String("directive")
		if err != nil {
			log.Error("Malformed directive", zap.Error(err))
			continue
		}

		log.Info("CAD directive received", zap.String("directive", directive))
		if config.OnDirective != nil {
			config.OnDirective(directive)
		}
	}
}
