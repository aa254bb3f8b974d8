package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/g960059/itch/internal/logging"
)

const subscriberBuffer = 16

var ErrNotConnected = errors.New("ipc: not connected")

// Connection is the client half. Responses read off the socket are
// broadcast to every subscriber; callers pick theirs by predicate.
type Connection struct {
	conn    net.Conn
	writeMu sync.Mutex
	bufSize int
	log     zerolog.Logger

	mu     sync.Mutex
	subs   map[uint64]chan Response
	nextID uint64
	closed chan struct{}
	once   sync.Once
}

func Dial(ctx context.Context, path string) (*Connection, error) {
	return DialWithBuffer(ctx, path, DefaultReadBufferSize)
}

func DialWithBuffer(ctx context.Context, path string, bufSize int) (*Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNotConnected, path, err)
	}
	return NewConnection(conn, bufSize), nil
}

// NewConnection wraps an established conn and starts its read loop.
func NewConnection(conn net.Conn, bufSize int) *Connection {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	c := &Connection{
		conn:    conn,
		bufSize: bufSize,
		log:     logging.Component("ipc-client"),
		subs:    map[uint64]chan Response{},
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Connection) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// SendRequest writes req in a single write without waiting for a reply.
func (c *Connection) SendRequest(req Request) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	b, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		c.shutdown()
		return fmt.Errorf("%w: write: %v", ErrNotConnected, err)
	}
	return nil
}

// TakeResponse blocks until a response satisfying match arrives. Only
// responses read after the call starts are considered.
func (c *Connection) TakeResponse(ctx context.Context, match func(Response) bool) (Response, error) {
	id, ch := c.subscribe()
	defer c.unsubscribe(id)
	return c.take(ctx, ch, match)
}

// Do sends req and waits for the next response of the same kind. The
// subscription is taken before the write so a fast reply is not missed.
func (c *Connection) Do(ctx context.Context, req Request) (Response, error) {
	id, ch := c.subscribe()
	defer c.unsubscribe(id)
	if err := c.SendRequest(req); err != nil {
		return Response{}, err
	}
	return c.take(ctx, ch, func(r Response) bool { return r.Kind == req.Kind })
}

func (c *Connection) take(ctx context.Context, ch <-chan Response, match func(Response) bool) (Response, error) {
	for {
		select {
		case resp := <-ch:
			if match == nil || match(resp) {
				return resp, nil
			}
		case <-c.closed:
			return Response{}, ErrNotConnected
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
}

func (c *Connection) subscribe() (uint64, <-chan Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	ch := make(chan Response, subscriberBuffer)
	c.subs[c.nextID] = ch
	return c.nextID, ch
}

func (c *Connection) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *Connection) broadcast(resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		c.log.Debug().Str("kind", string(resp.Kind)).Msg("dropping response with no waiting caller")
		return
	}
	for id, ch := range c.subs {
		select {
		case ch <- resp:
		default:
			c.log.Warn().Uint64("subscriber", id).Str("kind", string(resp.Kind)).Msg("subscriber lagging, response dropped")
		}
	}
}

func (c *Connection) readLoop() {
	defer c.shutdown()
	buf := make([]byte, c.bufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			resp, decErr := DecodeResponse(buf[:n])
			if decErr != nil {
				c.log.Warn().Err(decErr).Int("bytes", n).Msg("discarding malformed response")
			} else {
				c.broadcast(resp)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

func (c *Connection) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close() //nolint:errcheck
	})
}

func (c *Connection) Close() error {
	c.shutdown()
	return nil
}
