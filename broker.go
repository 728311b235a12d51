package ptcsim

import (
	"context"
	"encoding/hex"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	"github.com/dbuentello/PTC-Sim/wire"
)

// Response tokens of the broker's two ports.
const (
	responseOK    = "OK"
	responseFail  = "FAIL"
	responseEmpty = "EMPTY"
)

const (
	// popWait bounds how long an empty fetch blocks before answering EMPTY.
	popWait = 500 * time.Millisecond

	// acceptRetryPause is the pause after a failed accept before retrying.
	acceptRetryPause = time.Second

	defaultMaxFrameSize = 10240
	defaultNetTimeout   = 5 * time.Second
)

// BrokerConfig defines broker configuration.
type BrokerConfig struct {
	// MaxFrameSize bounds a single on-wire request or response in bytes.
	MaxFrameSize uint64

	// NetTimeout bounds every socket read and write.
	NetTimeout time.Duration
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	if c.NetTimeout == 0 {
		c.NetTimeout = defaultNetTimeout
	}
	return c
}

// RunBroker runs the store-and-forward broker on the two given listeners:
// sendLs accepts frames from producers, fetchLs serves destructive fetches to
// consumers. The broker owns the queue table and nothing else; queued but
// unfetched messages are lost when the context ends.
func RunBroker(ctx context.Context, sendLs, fetchLs net.Listener, config BrokerConfig) error {
	config = config.withDefaults()
	queues := newQueueTable()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			return runReceiver(ctx, sendLs, queues, config)
		})
		spawn("dispatcher", parallel.Fail, func(ctx context.Context) error {
			return runDispatcher(ctx, fetchLs, queues, config)
		})
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			_ = sendLs.Close()
			_ = fetchLs.Close()
			return errors.WithStack(ctx.Err())
		})

		return nil
	})
}

// runReceiver accepts producer connections on the send port. Each connection
// is one exchange: read a hex-encoded frame, decode it, enqueue it by
// destination and answer OK, or answer FAIL and discard. Transient accept
// errors never terminate the loop.
func runReceiver(ctx context.Context, ls net.Listener, queues *queueTable, config BrokerConfig) error {
	log := logger.Get(ctx)

	for {
		conn, err := ls.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}

			log.Error("Accept failed on send port", zap.Error(err))
			select {
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			case <-time.After(acceptRetryPause):
			}
			continue
		}

		receiveFrame(ctx, conn, queues, config)
	}
}

func receiveFrame(ctx context.Context, conn net.Conn, queues *queueTable, config BrokerConfig) {
	defer conn.Close()

	log := logger.Get(ctx).With(
		zap.String("exchange", xid.New().String()),
		zap.Stringer("peer", conn.RemoteAddr()),
	)
	_ = conn.SetDeadline(time.Now().Add(config.NetTimeout))

	req, err := readRequest(conn, config.MaxFrameSize)
	if err != nil {
		log.Error("Reading frame failed", zap.Error(err))
		respond(conn, responseFail)
		return
	}

	raw := make([]byte, hex.DecodedLen(len(req)))
	if _, err := hex.Decode(raw, req); err != nil {
		log.Error("Frame is not valid hex", zap.Error(err))
		respond(conn, responseFail)
		return
	}

	msg, err := wire.Decode(raw)
	if err != nil {
		log.Error("Frame rejected", zap.Error(err))
		respond(conn, responseFail)
		return
	}

	// Enqueue before acknowledging, so a producer that saw OK can fetch the
	// message immediately.
	if !queues.Push(msg.Dest, msg) {
		log.Error("Queue is full", zap.String("dest", msg.Dest))
		respond(conn, responseFail)
		return
	}

	respond(conn, responseOK)
	log.Info("Message stored",
		zap.Uint16("type", msg.Type),
		zap.String("sender", msg.Sender),
		zap.String("dest", msg.Dest),
	)
}

// runDispatcher accepts consumer connections on the fetch port. Each
// connection is one exchange: read an address, pop its oldest message within
// the bounded wait and answer with the hex-encoded frame, or answer EMPTY.
// A fetched message is gone; there is no redelivery.
func runDispatcher(ctx context.Context, ls net.Listener, queues *queueTable, config BrokerConfig) error {
	log := logger.Get(ctx)

	for {
		conn, err := ls.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}

			log.Error("Accept failed on fetch port", zap.Error(err))
			select {
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			case <-time.After(acceptRetryPause):
			}
			continue
		}

		dispatchFrame(ctx, conn, queues, config)
	}
}

func dispatchFrame(ctx context.Context, conn net.Conn, queues *queueTable, config BrokerConfig) {
	defer conn.Close()

	log := logger.Get(ctx).With(
		zap.String("exchange", xid.New().String()),
		zap.Stringer("peer", conn.RemoteAddr()),
	)
	_ = conn.SetDeadline(time.Now().Add(config.NetTimeout))

	req, err := readRequest(conn, config.MaxFrameSize)
	if err != nil {
		log.Error("Reading fetch request failed", zap.Error(err))
		return
	}

	// Addresses are matched byte-exact.
	addr := string(req)

	msg, ok := queues.Pop(ctx, addr, popWait)
	if !ok {
		respond(conn, responseEmpty)
		return
	}

	frame := make([]byte, hex.EncodedLen(len(msg.Encoded())))
	hex.Encode(frame, msg.Encoded())
	if _, err := conn.Write(frame); err != nil {
		// The message is already popped and is lost, consistent with
		// at-most-once delivery.
		log.Error("Writing frame failed", zap.String("dest", addr), zap.Error(err))
		return
	}

	log.Info("Message dispatched",
		zap.Uint16("type", msg.Type),
		zap.String("dest", addr),
	)
}

// readRequest reads the whole request. The peer half-closes its write side
// after sending, so the read ends at EOF.
func readRequest(conn net.Conn, maxSize uint64) ([]byte, error) {
	req, err := io.ReadAll(io.LimitReader(conn, int64(maxSize)+1))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if uint64(len(req)) > maxSize {
		return nil, errors.Errorf("request exceeds %d bytes", maxSize)
	}
	return req, nil
}

func respond(conn net.Conn, token string) {
	_, _ = conn.Write([]byte(token))
}
