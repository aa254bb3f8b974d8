package daemon

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/g960059/itch/internal/ipc"
	"github.com/g960059/itch/internal/logging"
)

const workerBacklog = 64

// Transport is the server half the dispatcher reads from and replies on.
type Transport interface {
	Incoming() <-chan ipc.Delivery
	Respond(p *ipc.Peer, resp ipc.Response)
}

// RequestHandler turns one request into its response.
type RequestHandler interface {
	Handle(ctx context.Context, req ipc.Request) ipc.Response
}

// Dispatcher hands each peer's requests to a worker of its own, so one
// connection is answered in order while others proceed independently.
type Dispatcher struct {
	transport Transport
	handler   RequestHandler
	log       zerolog.Logger

	mu      sync.Mutex
	workers map[string]chan ipc.Request
	wg      sync.WaitGroup
}

func NewDispatcher(transport Transport, handler RequestHandler) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		handler:   handler,
		workers:   map[string]chan ipc.Request{},
		log:       logging.Component("dispatch"),
	}
}

// Serve implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery := <-d.transport.Incoming():
			d.dispatch(ctx, delivery)
		}
	}
}

func (d *Dispatcher) String() string {
	return "dispatcher"
}

func (d *Dispatcher) dispatch(ctx context.Context, delivery ipc.Delivery) {
	peer := delivery.Peer
	d.mu.Lock()
	ch, ok := d.workers[peer.ID]
	if !ok {
		ch = make(chan ipc.Request, workerBacklog)
		d.workers[peer.ID] = ch
		d.wg.Add(1)
		go d.work(ctx, peer, ch)
	}
	d.mu.Unlock()

	select {
	case ch <- delivery.Request:
	case <-peer.Done():
		d.log.Debug().Str("peer", peer.ID).Str("kind", string(delivery.Request.Kind)).Msg("peer gone, request dropped")
	case <-ctx.Done():
	}
}

func (d *Dispatcher) work(ctx context.Context, peer *ipc.Peer, ch <-chan ipc.Request) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.workers, peer.ID)
		d.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.Done():
			return
		case req := <-ch:
			resp := d.handler.Handle(ctx, req)
			d.transport.Respond(peer, resp)
		}
	}
}

// Workers reports how many peers currently have a worker.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}
