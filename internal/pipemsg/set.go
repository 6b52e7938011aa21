package pipemsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/prque"

	"allnetd/internal/debuglog"
)

// Forever makes ReceiveAny wait without a deadline.
const Forever time.Duration = -1

const DefaultQueueCap = 256

var (
	ErrTimeout = errors.New("receive timeout")
	ErrClosed  = errors.New("pipe set closed")
)

// Message is one frame read from an input pipe.
type Message struct {
	Payload  []byte
	From     int
	Priority uint32
}

type received struct {
	msg Message
	err error
}

// Set multiplexes reads from any number of input pipes into a single
// ReceiveAny call and keeps a prioritized, bounded send queue per output.
type Set struct {
	msgs     chan received
	closed   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	queueCap int

	mu      sync.Mutex
	inputs  map[int]io.Reader
	outputs map[int]*output
}

func NewSet(queueCap int) *Set {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Set{
		msgs:     make(chan received),
		closed:   make(chan struct{}),
		queueCap: queueCap,
		inputs:   make(map[int]io.Reader),
		outputs:  make(map[int]*output),
	}
}

// AddInput starts reading frames from r. Frames are attributed to handle.
func (s *Set) AddInput(handle int, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inputs[handle]; ok {
		return fmt.Errorf("input %d already added", handle)
	}
	s.inputs[handle] = r
	s.wg.Add(1)
	go s.readLoop(handle, r)
	return nil
}

func (s *Set) AddOutput(handle int, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[handle]; ok {
		return fmt.Errorf("output %d already added", handle)
	}
	o := &output{
		handle: handle,
		w:      w,
		cap:    s.queueCap,
		queue:  prque.New[int64, []byte](nil),
		wake:   make(chan struct{}, 1),
	}
	s.outputs[handle] = o
	s.wg.Add(1)
	go s.writeLoop(o)
	return nil
}

func (s *Set) readLoop(handle int, r io.Reader) {
	defer s.wg.Done()
	for {
		payload, priority, err := ReadFrame(r)
		rcv := received{msg: Message{Payload: payload, From: handle, Priority: priority}}
		if err != nil {
			rcv = received{msg: Message{From: handle}, err: fmt.Errorf("pipe %d: %w", handle, err)}
		}
		select {
		case s.msgs <- rcv:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReceiveAny blocks until a frame arrives on any input, the timeout expires
// (ErrTimeout), ctx ends, or the set is closed. A read failure on any input
// is returned as an error carrying the handle in Message.From.
func (s *Set) ReceiveAny(ctx context.Context, timeout time.Duration) (Message, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case r := <-s.msgs:
		return r.msg, r.err
	case <-expired:
		return Message{}, ErrTimeout
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.closed:
		return Message{}, ErrClosed
	}
}

// Send queues payload for handle without blocking. It reports false when the
// handle is unknown, its writer has failed, or its queue is full. payload is
// written later and must not be modified after Send.
func (s *Set) Send(handle int, payload []byte, priority uint32) bool {
	s.mu.Lock()
	o, ok := s.outputs[handle]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return o.push(payload, priority)
}

// Close stops all writers, closes every input and output that is an
// io.Closer and waits for the pipe goroutines to finish.
func (s *Set) Close() error {
	var errs []error
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for _, r := range s.inputs {
			if c, ok := r.(io.Closer); ok {
				errs = append(errs, c.Close())
			}
		}
		for _, o := range s.outputs {
			if c, ok := o.w.(io.Closer); ok {
				errs = append(errs, c.Close())
			}
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return errors.Join(errs...)
}

type output struct {
	handle int
	w      io.Writer
	cap    int
	wake   chan struct{}

	mu     sync.Mutex
	queue  *prque.Prque[int64, []byte]
	failed bool
}

func (o *output) push(payload []byte, priority uint32) bool {
	o.mu.Lock()
	if o.failed || o.queue.Size() >= o.cap {
		o.mu.Unlock()
		return false
	}
	o.queue.Push(payload, int64(priority))
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

func (o *output) pop() ([]byte, uint32, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queue.Empty() {
		return nil, 0, false
	}
	payload, priority := o.queue.Pop()
	return payload, uint32(priority), true
}

func (o *output) fail() {
	o.mu.Lock()
	o.failed = true
	o.queue.Reset()
	o.mu.Unlock()
}

func (s *Set) writeLoop(o *output) {
	defer s.wg.Done()
	for {
		select {
		case <-o.wake:
		case <-s.closed:
			return
		}
		for {
			payload, priority, ok := o.pop()
			if !ok {
				break
			}
			if err := WriteFrame(o.w, payload, priority); err != nil {
				debuglog.Warnf("pipe %d write failed, output disabled: %v", o.handle, err)
				o.fail()
				return
			}
		}
	}
}
