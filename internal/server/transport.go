package server

import (
	"context"
	"sync"

	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

const transportBuffer = 64

// Transport carries request/response pairs between in-process callers and
// the handler over a channel, giving callers the same ordering and
// backpressure semantics a network transport would.
type Transport struct {
	handler  *Handler
	requests chan transportRequest

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

type transportRequest struct {
	ctx  context.Context
	msg  *protocol.Message
	resp chan *protocol.Message
}

// NewTransport creates a transport bound to the handler and starts its
// dispatch loop.
func NewTransport(handler *Handler) *Transport {
	t := &Transport{
		handler:  handler,
		requests: make(chan transportRequest, transportBuffer),
		closed:   make(chan struct{}),
		drained:  make(chan struct{}),
	}
	go t.serve()
	return t
}

func (t *Transport) serve() {
	defer close(t.drained)
	for {
		select {
		case req := <-t.requests:
			t.reply(req)
		case <-t.closed:
			// Drain what was accepted before Close.
			for {
				select {
				case req := <-t.requests:
					t.reply(req)
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) reply(req transportRequest) {
	resp, err := t.handler.Handle(req.ctx, req.msg)
	if err != nil {
		perr := protocol.AsError(err)
		resp = protocol.NewError(req.msg.ID, perr.Code, perr.Message, perr.Data)
	}
	req.resp <- resp
}

// Send submits a message and waits for its response. Notifications resolve
// to a nil response.
func (t *Transport) Send(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if msg == nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "nil message")
	}

	req := transportRequest{ctx: ctx, msg: msg, resp: make(chan *protocol.Message, 1)}

	select {
	case <-t.closed:
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	case t.requests <- req:
	}

	select {
	case resp := <-req.resp:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.drained:
		// The loop may have replied just before exiting.
		select {
		case resp := <-req.resp:
			return resp, nil
		default:
			return nil, protocol.Errorf(protocol.CodeInvalidRequest, "transport closed")
		}
	}
}

// Close stops accepting new messages, finishes the accepted ones, and
// returns once the dispatch loop has exited.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	<-t.drained
	return nil
}
