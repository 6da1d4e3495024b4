// Package node implements the per-node listening server: two
// endpoints (primary, one-shot; loop, persistent) that dispatch wire
// actions onto a single consumer goroutine fronting the node's lock
// engine and acquisition device.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"code.hybscloud.com/lfq"

	"github.com/langengroup/stcl/acquisition"
	"github.com/langengroup/stcl/internal/statsd"
	"github.com/langengroup/stcl/lockengine"
	"github.com/langengroup/stcl/settings"
	"github.com/langengroup/stcl/trace"
	"github.com/langengroup/stcl/transport"
)

// Role names a node's function within a cavity, used for logging, for
// the host's topology queries, and by New to decide whether the lock
// engine drives the master output (only RoleScan does); the dispatch
// table is the same for every role.
type Role string

const (
	RoleScan    Role = "scan"
	RoleLock    Role = "lock"
	RoleMonitor Role = "monitor"
)

// ErrUnknownAction is returned (and turned into a protocol-level error
// result, never a closed connection) when a request names an action
// outside the dispatch table.
var ErrUnknownAction = errors.New("node: unknown action")

// inflightQueueSize bounds how many requests may be queued for the
// consumer goroutine before a producer connection sees backpressure.
const inflightQueueSize = 64

// inflightRequest pairs one decoded request with the channel its
// result should be delivered to. It crosses the lfq.MPSC queue by
// value, so respCh (a reference type) is the only field the consumer
// goroutine needs to reply through.
type inflightRequest struct {
	action string
	value  any
	respCh chan result
}

type result struct {
	value any
	err   error
}

// Handler executes one action against a Server and returns the value
// to place in the response's "result" field.
type Handler func(ctx context.Context, s *Server, value any) (any, error)

// activeLoop is a running lock or bare-acquisition loop: the consumer
// goroutine calls step once per iteration, interleaved with servicing
// at most one pending request, the Go realization of §4.3 step 8
// ("service the loop socket... per iteration").
type activeLoop struct {
	kind string // "lock" or "monitor"
	iter int
	step func(ctx context.Context, t float64) error
}

// Server owns one node's acquisition device, lock engine, persisted
// settings, and dispatch table. All action handlers run serialized on
// a single goroutine (the queue consumer), realizing the protocol's
// single-threaded cooperative event loop over Go's natural
// goroutine-per-connection I/O.
type Server struct {
	Label    string
	Role     Role
	Device   acquisition.Device
	Engine   *lockengine.Engine
	Store    settings.Store
	Handlers map[string]Handler
	Stats    *statsd.Stats

	PrimaryAddr string
	LoopAddr    string

	queue *lfq.MPSC[inflightRequest]
	wake  chan struct{}
	loop  atomic.Pointer[activeLoop]

	mu         sync.Mutex
	loopConn   *transport.Conn
	loopActive bool
	current    settings.NodeSettings

	lastTrace atomic.Pointer[trace.Trace]
}

// New returns a Server with Handlers already set to DefaultHandlers(),
// ready for ListenAndServe.
func New(label string, role Role, device acquisition.Device, store settings.Store) *Server {
	return &Server{
		Label:    label,
		Role:     role,
		Device:   device,
		Engine:   lockengine.New(device, role == RoleScan),
		Store:    store,
		Handlers: DefaultHandlers(),
		Stats:    statsd.NewStats(),
		queue:    lfq.NewMPSC[inflightRequest](inflightQueueSize),
		wake:     make(chan struct{}, inflightQueueSize),
	}
}

// ListenAndServe starts the primary and loop listeners and the queue
// consumer goroutine. It blocks until ctx is cancelled or a listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	primaryLn, err := net.Listen("tcp", s.PrimaryAddr)
	if err != nil {
		return fmt.Errorf("node %s: listen primary: %w", s.Label, err)
	}
	loopLn, err := net.Listen("tcp", s.LoopAddr)
	if err != nil {
		primaryLn.Close()
		return fmt.Errorf("node %s: listen loop: %w", s.Label, err)
	}
	return s.Serve(ctx, primaryLn, loopLn)
}

// Serve runs the node on already-bound listeners, updating
// PrimaryAddr/LoopAddr to their actual (OS-assigned, if :0 was used)
// addresses. It blocks until ctx is cancelled or a listener fails.
func (s *Server) Serve(ctx context.Context, primaryLn, loopLn net.Listener) error {
	defer primaryLn.Close()
	defer loopLn.Close()
	s.PrimaryAddr = primaryLn.Addr().String()
	s.LoopAddr = loopLn.Addr().String()

	go s.consume(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- s.acceptPrimary(ctx, primaryLn) }()
	go func() { errCh <- s.acceptLoop(ctx, loopLn) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) acceptPrimary(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handlePrimaryConn(ctx, transport.NewConn(nc))
	}
}

func (s *Server) handlePrimaryConn(ctx context.Context, c *transport.Conn) {
	defer c.Close()
	req, err := c.ReadRequest()
	if err != nil {
		log.WithField("node", s.Label).WithError(err).Debug("primary connection closed before a full request")
		return
	}
	resp := s.dispatch(ctx, req)
	if err := c.SendResponse(resp); err != nil {
		log.WithField("node", s.Label).WithError(err).Warn("failed writing primary response")
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleLoopConn(ctx, transport.NewConn(nc))
	}
}

// handleLoopConn serves the persistent loop channel: it keeps reading
// requests (live reconfiguration, stop) until the peer closes or sends
// stop, at which point it acknowledges and closes, matching §4.1's
// loop-channel lifecycle.
func (s *Server) handleLoopConn(ctx context.Context, c *transport.Conn) {
	defer c.Close()
	s.mu.Lock()
	s.loopConn = c
	s.loopActive = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loopActive = false
		s.loopConn = nil
		s.mu.Unlock()
	}()

	for {
		req, err := c.ReadRequest()
		if err != nil {
			log.WithField("node", s.Label).WithError(err).Debug("loop connection closed")
			return
		}
		resp := s.dispatch(ctx, req)
		if err := c.SendResponse(resp); err != nil {
			log.WithField("node", s.Label).WithError(err).Warn("failed writing loop response")
			return
		}
		if req.Action == "stop" {
			return
		}
	}
}

// dispatch enqueues req onto the single consumer goroutine and blocks
// for its result, turning an unknown action into a protocol-level
// error result rather than closing the connection.
func (s *Server) dispatch(ctx context.Context, req transport.Request) transport.Response {
	if _, ok := s.Handlers[req.Action]; !ok {
		return transport.Response{Result: fmt.Sprintf("Error: invalid action '%s'.", req.Action)}
	}

	ir := inflightRequest{action: req.Action, value: req.Value, respCh: make(chan result, 1)}
	for {
		if err := s.queue.Enqueue(&ir); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return transport.Response{Result: fmt.Sprintf("Error: %v", ctx.Err())}
		case <-time.After(time.Millisecond):
		}
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-ir.respCh:
		if res.err != nil {
			return transport.Response{Result: fmt.Sprintf("Error: %v", res.err)}
		}
		return transport.Response{Result: res.value}
	case <-ctx.Done():
		return transport.Response{Result: fmt.Sprintf("Error: %v", ctx.Err())}
	}
}

// consume is the single goroutine that runs every handler and, when a
// lock or monitor loop is running, one loop iteration per pass — this
// serializes all of a node's actions (a step and a settings update
// never interleave) while still honoring §4.3 step 8's "process at
// most one pending request per iteration".
func (s *Server) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handled := false
		if ir, err := s.queue.Dequeue(); err == nil {
			h := s.Handlers[ir.action]
			v, herr := h(ctx, s, ir.value)
			s.Stats.UpdateCounterBy("requests."+ir.action, 1)
			if herr != nil {
				s.Stats.UpdateCounterBy("requests."+ir.action+".errors", 1)
			}
			ir.respCh <- result{value: v, err: herr}
			handled = true
		}

		al := s.loop.Load()
		if al == nil {
			if handled {
				continue
			}
			select {
			case <-s.wake:
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		t := float64(al.iter) * s.Engine.DurationMS() / 1e3
		if err := al.step(ctx, t); err != nil {
			log.WithField("node", s.Label).WithField("loop", al.kind).WithError(err).Warn("loop iteration failed, stopping")
			s.Stats.UpdateCounterBy("loop."+al.kind+".stopped", 1)
			s.loop.Store(nil)
			continue
		}
		s.Stats.UpdateCounterBy("loop."+al.kind+".iterations", 1)
		al.iter++
	}
}
