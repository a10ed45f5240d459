package endpoint

import (
	"sync"

	"github.com/ChuLiYu/gopool/internal/workerruntime"
	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// channelTransport is the workerruntime.Transport half of an in-process
// "thread" worker: the Runtime goroutine reads Requests()/Terminate() from
// it and writes responses through it, all over plain Go channels rather than
// any byte-level framing.
type channelTransport struct {
	requests  chan *protocol.Request
	terminate chan struct{}
	toController chan *protocol.Response
	readySignal  chan struct{}

	closeOnce sync.Once
}

func (t *channelTransport) Requests() <-chan *protocol.Request { return t.requests }
func (t *channelTransport) Terminate() <-chan struct{}         { return t.terminate }

func (t *channelTransport) SendResponse(resp *protocol.Response) error {
	select {
	case t.toController <- resp:
		return nil
	default:
		// Controller side is expected to keep draining Inbound(); an
		// unbuffered-style stall here would deadlock the worker goroutine,
		// so fall back to a blocking send rather than dropping the message.
		t.toController <- resp
		return nil
	}
}

func (t *channelTransport) SendReady() error {
	t.closeOnce.Do(func() { close(t.readySignal) })
	return nil
}

func (t *channelTransport) Close() error { return nil }

// ThreadEndpoint hosts a worker in a goroutine inside the controller's own
// process, communicating over Go channels instead of a serialization
// boundary. It is the default ("auto") worker kind: cheapest to start,
// cheapest to tear down, and the only kind that can support
// Pool.ExecFunc's closures — a goroutine shares the controller's address
// space, so a Go closure can run directly with no marshaling step.
type ThreadEndpoint struct {
	transport *channelTransport

	inbound chan *protocol.Response
	ready   chan struct{}
	crashed chan CrashInfo
	done    chan struct{}

	killOnce sync.Once
	mu       sync.Mutex
}

// NewThreadEndpoint starts a Runtime in a new goroutine, registers methods
// on it, and returns the controller-side Endpoint paired to it.
func NewThreadEndpoint(methods map[string]workerruntime.Method, opts workerruntime.RegisterOptions) (*ThreadEndpoint, error) {
	transport := &channelTransport{
		requests:     make(chan *protocol.Request, 8),
		terminate:    make(chan struct{}),
		toController: make(chan *protocol.Response, 8),
		readySignal:  make(chan struct{}),
	}

	// A goroutine cannot be preempted from outside the way a child process
	// can be signaled, so there is no forceful equivalent of exit(1)/exit(0)
	// here: once TERMINATE or a fatal cleanup rejection is handled, Serve
	// simply returns and this goroutine ends on its own.
	rt := workerruntime.NewRuntime(workerruntime.WithExitFunc(func(int) {}))
	if err := rt.Register(methods, opts); err != nil {
		return nil, err
	}

	ep := &ThreadEndpoint{
		transport: transport,
		inbound:   make(chan *protocol.Response, 8),
		ready:     make(chan struct{}),
		crashed:   make(chan CrashInfo, 1),
		done:      make(chan struct{}),
	}

	go ep.pump()
	go func() {
		defer close(ep.done)
		_ = rt.Serve(transport)
	}()
	return ep, nil
}

// pump relays channelTransport's outbound side to the Endpoint-facing
// channels, translating the ready signal into a Ready() close.
func (ep *ThreadEndpoint) pump() {
	readyClosed := false
	for {
		select {
		case <-ep.transport.readySignal:
			if !readyClosed {
				readyClosed = true
				close(ep.ready)
			}
		case resp, ok := <-ep.transport.toController:
			if !ok {
				close(ep.inbound)
				return
			}
			ep.inbound <- resp
		case <-ep.done:
			close(ep.inbound)
			return
		}
	}
}

func (ep *ThreadEndpoint) Send(req *protocol.Request) error {
	select {
	case ep.transport.requests <- req:
		return nil
	case <-ep.done:
		return ErrEndpointClosed
	}
}

func (ep *ThreadEndpoint) SendTerminate() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	select {
	case <-ep.transport.terminate:
	default:
		close(ep.transport.terminate)
	}
	return nil
}

func (ep *ThreadEndpoint) Inbound() <-chan *protocol.Response { return ep.inbound }
func (ep *ThreadEndpoint) Ready() <-chan struct{}             { return ep.ready }
func (ep *ThreadEndpoint) Crashed() <-chan CrashInfo          { return ep.crashed }

// Kill ends the worker goroutine as forcefully as Go allows: it delivers the
// terminate signal, so the Runtime's Serve loop returns and Inbound closes.
// Kill does not cancel the RunContext of a method that is still executing;
// such a method keeps running to completion in its own goroutine in the
// background — unlike a child process, it cannot be preempted.
func (ep *ThreadEndpoint) Kill() error {
	ep.killOnce.Do(func() {
		ep.SendTerminate()
	})
	return nil
}

func (ep *ThreadEndpoint) Wait() error {
	<-ep.done
	return nil
}
