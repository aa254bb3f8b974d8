package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/g960059/itch/internal/logging"
	"github.com/g960059/itch/internal/metrics"
)

const DefaultBindRetry = 5 * time.Second

type Options struct {
	BindRetry      time.Duration
	ReadBufferSize int
}

// Delivery pairs a decoded request with the peer that must get the reply.
type Delivery struct {
	Peer    *Peer
	Request Request
}

// Peer is one accepted client connection.
type Peer struct {
	ID   string
	Cred PeerCred

	conn    net.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Done is closed when the peer's read loop has ended.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) Send(resp Response) error {
	b, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.conn.Write(b); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (p *Peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close() //nolint:errcheck
	})
}

// Listener accepts clients on a unix socket and fans their requests into a
// single channel.
type Listener struct {
	path     string
	opts     Options
	incoming chan Delivery
	closed   chan struct{}
	log      zerolog.Logger

	mu        sync.Mutex
	ln        net.Listener
	peers     map[string]*Peer
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewListener(path string, opts Options) *Listener {
	if opts.BindRetry <= 0 {
		opts.BindRetry = DefaultBindRetry
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	return &Listener{
		path:     path,
		opts:     opts,
		incoming: make(chan Delivery),
		closed:   make(chan struct{}),
		peers:    map[string]*Peer{},
		log:      logging.Component("ipc"),
	}
}

// Listen binds path, retrying until it succeeds or ctx ends, and starts
// accepting in the background.
func Listen(ctx context.Context, path string, opts Options) (*Listener, error) {
	l := NewListener(path, opts)
	if err := l.Bind(ctx); err != nil {
		return nil, err
	}
	go l.Serve(ctx) //nolint:errcheck
	return l, nil
}

func (l *Listener) Path() string {
	return l.path
}

func (l *Listener) Incoming() <-chan Delivery {
	return l.incoming
}

// Bind creates the socket. A stale socket file is removed first; any other
// file at path is left alone and reported.
func (l *Listener) Bind(ctx context.Context) error {
	for {
		ln, err := l.bindOnce()
		if err == nil {
			l.mu.Lock()
			l.ln = ln
			l.mu.Unlock()
			l.log.Info().Str("socket", l.path).Msg("listening")
			return nil
		}
		l.log.Warn().Err(err).Str("socket", l.path).Dur("retry_in", l.opts.BindRetry).Msg("bind failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return net.ErrClosed
		case <-time.After(l.opts.BindRetry):
		}
	}
}

func (l *Listener) bindOnce() (net.Listener, error) {
	if st, err := os.Lstat(l.path); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path exists and is not unix socket: %s", l.path)
		}
		if err := os.Remove(l.path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return nil, fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(l.path, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve runs the accept loop. It binds first when needed, so a supervisor
// restart gets a fresh socket.
func (l *Listener) Serve(ctx context.Context) error {
	if l.isClosed() {
		return suture.ErrDoNotRestart
	}
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		if err := l.Bind(ctx); err != nil {
			if l.isClosed() {
				return suture.ErrDoNotRestart
			}
			return err
		}
		l.mu.Lock()
		ln = l.ln
		l.mu.Unlock()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close() //nolint:errcheck
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			if l.ln == ln {
				l.ln = nil
			}
			l.mu.Unlock()
			if l.isClosed() {
				return suture.ErrDoNotRestart
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ln.Close() //nolint:errcheck
			return fmt.Errorf("accept: %w", err)
		}
		l.addPeer(conn)
	}
}

func (l *Listener) String() string {
	return "ipc-listener"
}

func (l *Listener) addPeer(conn net.Conn) {
	p := &Peer{
		ID:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
	cred, err := peerCred(conn)
	if err != nil {
		l.log.Debug().Err(err).Msg("peer credentials unavailable")
	}
	p.Cred = cred

	l.mu.Lock()
	l.peers[p.ID] = p
	l.mu.Unlock()
	metrics.IPCConnections.Inc()
	l.log.Debug().Str("peer", p.ID).Int32("pid", cred.PID).Uint32("uid", cred.UID).Msg("client connected")

	l.wg.Add(1)
	go l.readLoop(p)
}

func (l *Listener) readLoop(p *Peer) {
	defer l.wg.Done()
	defer l.removePeer(p)
	buf := make([]byte, l.opts.ReadBufferSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			req, decErr := DecodeRequest(buf[:n])
			if decErr != nil {
				metrics.IPCDecodeErrors.Inc()
				l.log.Warn().Err(decErr).Str("peer", p.ID).Int("bytes", n).Msg("discarding malformed message")
			} else {
				select {
				case l.incoming <- Delivery{Peer: p, Request: req}:
				case <-l.closed:
					return
				case <-p.done:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.log.Warn().Err(err).Str("peer", p.ID).Msg("read failed")
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

func (l *Listener) removePeer(p *Peer) {
	p.close()
	l.mu.Lock()
	_, ok := l.peers[p.ID]
	delete(l.peers, p.ID)
	l.mu.Unlock()
	if ok {
		metrics.IPCConnections.Dec()
		l.log.Debug().Str("peer", p.ID).Msg("client disconnected")
	}
}

// Respond writes resp to peer. Write failures are logged and dropped.
func (l *Listener) Respond(p *Peer, resp Response) {
	if err := p.Send(resp); err != nil {
		metrics.IPCReplyFailures.Inc()
		l.log.Warn().Err(err).Str("peer", p.ID).Str("kind", string(resp.Kind)).Msg("reply failed")
	}
}

func (l *Listener) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Close stops accepting, disconnects every peer and removes the socket.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		ln := l.ln
		l.ln = nil
		peers := make([]*Peer, 0, len(l.peers))
		for _, p := range l.peers {
			peers = append(peers, p)
		}
		l.mu.Unlock()

		var errs []error
		if ln != nil {
			if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				errs = append(errs, cerr)
			}
		}
		for _, p := range peers {
			p.close()
		}
		if st, serr := os.Lstat(l.path); serr == nil && st.Mode()&os.ModeSocket != 0 {
			if rerr := os.Remove(l.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				errs = append(errs, rerr)
			}
		}
		l.wg.Wait()
		err = errors.Join(errs...)
	})
	return err
}
