package ptcsim

import (
	"encoding/hex"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/dbuentello/PTC-Sim/wire"
)

// Client outcomes. They are deliberately distinct: "nothing queued",
// "broker said no", "broker talked nonsense" and "could not talk at all"
// each drive different caller-side retry logic.
var (
	// ErrConnect means the broker could not be reached or the exchange broke
	// at the transport level.
	ErrConnect = errors.New("broker unreachable")

	// ErrRejected means the broker answered FAIL to a send.
	ErrRejected = errors.New("message rejected by broker")

	// ErrProtocol means the broker answered something neither side of the
	// protocol defines.
	ErrProtocol = errors.New("unexpected broker response")

	// ErrEmptyQueue is the non-failure outcome of fetching an address with
	// nothing queued.
	ErrEmptyQueue = errors.New("no message queued")
)

// ClientConfig defines client configuration.
type ClientConfig struct {
	// Host is the broker host.
	Host string

	// SendPort and FetchPort are the broker's two TCP ports.
	SendPort  uint16
	FetchPort uint16

	// MaxFrameSize bounds a single on-wire request or response in bytes.
	MaxFrameSize uint64

	// NetTimeout bounds the dial and every read and write of one exchange.
	NetTimeout time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	if c.NetTimeout == 0 {
		c.NetTimeout = defaultNetTimeout
	}
	return c
}

// Client talks to the broker. Every call is a one-shot exchange on a fresh
// TCP connection, closed on every exit path; the client never retries.
type Client struct {
	config ClientConfig
}

// NewClient creates new client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config.withDefaults(),
	}
}

// Send delivers msg to the broker for queuing under its destination address.
func (c *Client) Send(msg *wire.Message) error {
	frame := make([]byte, hex.EncodedLen(len(msg.Encoded())))
	hex.Encode(frame, msg.Encoded())

	resp, err := c.exchange(c.config.SendPort, frame)
	if err != nil {
		return err
	}

	switch string(resp) {
	case responseOK:
		return nil
	case responseFail:
		return errors.WithStack(ErrRejected)
	default:
		return errors.Wrapf(ErrProtocol, "unrecognized send response %q", resp)
	}
}

// Fetch pops the oldest message queued for address. ErrEmptyQueue means the
// broker had nothing queued; it is an outcome, not a failure.
func (c *Client) Fetch(address string) (*wire.Message, error) {
	resp, err := c.exchange(c.config.FetchPort, []byte(address))
	if err != nil {
		return nil, err
	}

	if string(resp) == responseEmpty {
		return nil, errors.WithStack(ErrEmptyQueue)
	}

	raw := make([]byte, hex.DecodedLen(len(resp)))
	if _, err := hex.Decode(raw, resp); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "response is not valid hex: %s", err)
	}

	return wire.Decode(raw)
}

// exchange performs one request/response round trip: dial, write, half-close
// the write side to delimit the request, read the response to EOF.
func (c *Client) exchange(port uint16, req []byte) ([]byte, error) {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(int(port)))

	conn, err := net.DialTimeout("tcp", addr, c.config.NetTimeout)
	if err != nil {
		return nil, errors.Wrapf(ErrConnect, "dialing %s: %s", addr, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.config.NetTimeout))

	if _, err := conn.Write(req); err != nil {
		return nil, errors.Wrapf(ErrConnect, "writing request: %s", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
	}

	resp, err := io.ReadAll(io.LimitReader(conn, int64(c.config.MaxFrameSize)+1))
	if err != nil {
		return nil, errors.Wrapf(ErrConnect, "reading response: %s", err)
	}
	if uint64(len(resp)) > c.config.MaxFrameSize {
		return nil, errors.Wrapf(ErrProtocol, "response exceeds %d bytes", c.config.MaxFrameSize)
	}

	return resp, nil
}
