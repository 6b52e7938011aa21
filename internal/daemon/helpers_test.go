package daemon

import (
	"context"
	"sync"
	"time"

	"allnetd/internal/packet"
	"allnetd/internal/pipemsg"
)

type sentFrame struct {
	handle   int
	payload  []byte
	priority uint32
}

type fakeTransport struct {
	mu     sync.Mutex
	queue  []recvResult
	sent   []sentFrame
	broken map[int]bool
	idle   chan struct{}
}

type recvResult struct {
	msg pipemsg.Message
	err error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{broken: make(map[int]bool), idle: make(chan struct{}, 1)}
}

func (f *fakeTransport) push(msg pipemsg.Message, err error) {
	f.mu.Lock()
	f.queue = append(f.queue, recvResult{msg: msg, err: err})
	f.mu.Unlock()
}

func (f *fakeTransport) ReceiveAny(ctx context.Context, timeout time.Duration) (pipemsg.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return r.msg, r.err
	}
	f.mu.Unlock()
	select {
	case f.idle <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return pipemsg.Message{}, ctx.Err()
	case <-time.After(time.Millisecond):
		return pipemsg.Message{}, pipemsg.ErrTimeout
	}
}

func (f *fakeTransport) Send(handle int, payload []byte, priority uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[handle] {
		return false
	}
	cp := append([]byte(nil), payload...)
	f.sent = append(f.sent, sentFrame{handle: handle, payload: cp, priority: priority})
	return true
}

func (f *fakeTransport) handles() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.handle)
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

var testChannels = ChannelSet{Inputs: []int{10, 11, 12, 13}, Outputs: []int{20, 21, 22, 23}}

func dataPacket(hops, maxHops uint8, payload string) []byte {
	h := packet.Header{
		Type:    packet.TypeData,
		Hops:    hops,
		MaxHops: maxHops,
		SrcBits: 16,
		DstBits: 16,
	}
	h.Source[0], h.Source[1] = 0xab, 0xcd
	h.Destination[0] = 0x42
	return packet.New(h, []byte(payload))
}

func mgmtPacket(mt packet.MgmtType, body string) []byte {
	return packet.NewMgmt(packet.Header{MaxHops: 10}, mt, []byte(body))
}
