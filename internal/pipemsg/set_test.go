package pipemsg

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestReceiveAnyAttributesHandle(t *testing.T) {
	s := NewSet(0)
	defer s.Close()
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	if err := s.AddInput(10, r1); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if err := s.AddInput(11, r2); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if err := s.AddInput(10, r1); err == nil {
		t.Fatalf("expected duplicate handle error")
	}
	go WriteFrame(w2, []byte("from eleven"), 5)
	msg, err := s.ReceiveAny(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.From != 11 || string(msg.Payload) != "from eleven" || msg.Priority != 5 {
		t.Fatalf("unexpected message %+v", msg)
	}
	go WriteFrame(w1, []byte("from ten"), 9)
	msg, err = s.ReceiveAny(context.Background(), Forever)
	if err != nil || msg.From != 10 {
		t.Fatalf("unexpected message %+v err=%v", msg, err)
	}
}

func TestReceiveAnyTimeoutAndCancel(t *testing.T) {
	s := NewSet(0)
	defer s.Close()
	r, _ := io.Pipe()
	if err := s.AddInput(3, r); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if _, err := s.ReceiveAny(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ReceiveAny(ctx, Forever); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
}

func TestReceiveAnyReportsClosedInput(t *testing.T) {
	s := NewSet(0)
	defer s.Close()
	r, w := io.Pipe()
	if err := s.AddInput(4, r); err != nil {
		t.Fatalf("add input: %v", err)
	}
	w.Close()
	msg, err := s.ReceiveAny(context.Background(), time.Second)
	if err == nil || !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF error, got %v", err)
	}
	if msg.From != 4 {
		t.Fatalf("expected failing handle 4, got %d", msg.From)
	}
}

// gateWriter blocks its first Write until released and records every frame.
type gateWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	frames  []uint32
	done    chan struct{}
	want    int
}

func newGateWriter(want int) *gateWriter {
	return &gateWriter{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan struct{}),
		want:    want,
	}
}

func (g *gateWriter) Write(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	g.mu.Lock()
	defer g.mu.Unlock()
	_, prio, err := ReadFrame(bytesReader(p))
	if err != nil {
		return 0, err
	}
	g.frames = append(g.frames, prio)
	if len(g.frames) == g.want {
		close(g.done)
	}
	return len(p), nil
}

func TestSendDrainsHighestPriorityFirst(t *testing.T) {
	s := NewSet(2)
	defer s.Close()
	g := newGateWriter(3)
	if err := s.AddOutput(7, g); err != nil {
		t.Fatalf("add output: %v", err)
	}
	if !s.Send(7, []byte("a"), 1) {
		t.Fatalf("send a failed")
	}
	<-g.entered
	if !s.Send(7, []byte("b"), 5) || !s.Send(7, []byte("c"), 9) {
		t.Fatalf("queued sends failed")
	}
	if s.Send(7, []byte("d"), 100) {
		t.Fatalf("expected full queue to reject")
	}
	close(g.release)
	select {
	case <-g.done:
	case <-time.After(time.Second):
		t.Fatalf("writer did not drain queue")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.frames) != 3 || g.frames[0] != 1 || g.frames[1] != 9 || g.frames[2] != 5 {
		t.Fatalf("unexpected write order %v", g.frames)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestSendFailsAfterWriterError(t *testing.T) {
	s := NewSet(0)
	defer s.Close()
	if s.Send(99, []byte("x"), 1) {
		t.Fatalf("unknown handle must fail")
	}
	if err := s.AddOutput(5, brokenWriter{}); err != nil {
		t.Fatalf("add output: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for s.Send(5, []byte("x"), 1) {
		if time.Now().After(deadline) {
			t.Fatalf("output never reported failure")
		}
		time.Sleep(time.Millisecond)
	}
}
