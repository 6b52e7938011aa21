package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"allnetd/internal/debuglog"
	"allnetd/internal/dedup"
	"allnetd/internal/metrics"
	"allnetd/internal/packet"
	"allnetd/internal/pipemsg"
	"allnetd/internal/priority"
	"allnetd/internal/trust"
)

const DefaultRefreshInterval = 30 * time.Second

// Transport is the pipe layer the loop reads from and writes to.
type Transport interface {
	Sender
	ReceiveAny(ctx context.Context, timeout time.Duration) (pipemsg.Message, error)
}

// TrustOracle is a Verifier whose contact snapshot is refreshed by the loop.
type TrustOracle interface {
	Verifier
	Refresh(interval time.Duration) mclock.AbsTime
}

// Runner owns the forwarding state: the duplicate cache, the trace throttle
// and the next trust refresh deadline. Only Run's goroutine mutates it.
type Runner struct {
	Metrics *metrics.Metrics

	chans     ChannelSet
	transport Transport
	trust     TrustOracle
	dedup     *dedup.Cache
	gate      *Gate
	out       *Dispatcher
	clock     mclock.Clock

	trace           TraceThrottle
	refreshInterval time.Duration
	nextRefresh     mclock.AbsTime

	snapPath string
	stopSnap chan struct{}
	stopOnce sync.Once
	snapDone chan struct{}
}

type Options struct {
	Trust           TrustOracle
	Rates           RateTracker
	Dedup           *dedup.Cache
	Metrics         *metrics.Metrics
	Clock           mclock.Clock
	RefreshInterval time.Duration
	TraceWindow     time.Duration
	SnapPath        string
}

func NewRunner(chans ChannelSet, tr Transport, opts Options) (*Runner, error) {
	if err := chans.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("missing transport")
	}
	clock := opts.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	oracle := opts.Trust
	if oracle == nil {
		oracle = trust.New("", 0, 0, clock)
	}
	rates := opts.Rates
	if rates == nil {
		rates = priority.NewRateTracker(0, 0, 0, clock)
	}
	cache := opts.Dedup
	if cache == nil {
		cache = dedup.New(0, 0, clock)
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Runner{
		Metrics:         m,
		chans:           chans,
		transport:       tr,
		trust:           oracle,
		dedup:           cache,
		gate:            &Gate{Trust: oracle, Rates: rates},
		out:             &Dispatcher{Out: tr, Metrics: m},
		clock:           clock,
		trace:           TraceThrottle{Window: opts.TraceWindow},
		refreshInterval: interval,
		snapPath:        opts.SnapPath,
		stopSnap:        make(chan struct{}),
	}, nil
}

// Run processes packets until ctx ends or the transport fails. A receive
// error other than a timeout is returned; the caller treats it as fatal.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("missing runner")
	}
	r.refresh()
	for {
		timeout := time.Duration(r.nextRefresh - r.clock.Now())
		if timeout < 0 {
			timeout = 0
		}
		msg, err := r.transport.ReceiveAny(ctx, timeout)
		switch {
		case err == nil:
			r.HandlePacket(msg)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, pipemsg.ErrTimeout):
		default:
			debuglog.Errorf("error: receive from pipe %d failed: %v, exiting", msg.From, err)
			return fmt.Errorf("receive: %w", err)
		}
		if r.clock.Now() >= r.nextRefresh {
			r.refresh()
		}
	}
}

func (r *Runner) refresh() {
	r.nextRefresh = r.trust.Refresh(r.refreshInterval)
	if l, ok := r.trust.(interface{ Len() int }); ok {
		r.Metrics.SetContacts(l.Len())
	}
}

// HandlePacket classifies one packet and dispatches it. The returned
// decision is what was acted on.
func (r *Runner) HandlePacket(msg pipemsg.Message) Decision {
	pkt := msg.Payload
	local := r.chans.IsLocal(msg.From)
	r.Metrics.IncRecv(local)
	d := r.decide(pkt, local, msg.Priority)
	r.dispatch(pkt, d)
	r.Metrics.Recent().Add(metrics.Decision{
		At:       time.Now().UTC(),
		Type:     packet.MessageType(pkt).String(),
		Local:    local,
		Scope:    d.Scope.String(),
		Priority: d.Priority,
		Reason:   d.Reason,
	})
	return d
}

func (r *Runner) decide(pkt []byte, local bool, prio uint32) Decision {
	if reason := packet.Validate(pkt); reason != "" {
		r.Metrics.IncInvalid(reason)
		return drop("invalid_" + reason)
	}
	age, seen := r.dedup.Observe(pkt)
	if r.dedup.IsDuplicate(age, seen) {
		r.Metrics.IncDuplicate()
		if local {
			if isBeacon(pkt) {
				return drop("beacon")
			}
			return localOnly("duplicate_local")
		}
		debuglog.RateLimitedf("duplicate", time.Second, "packet received in the last %v, dropping", age.Round(time.Second))
		return drop("duplicate")
	}
	if packet.MessageType(pkt) == packet.TypeMgmt {
		d, th := ClassifyMgmt(pkt, local, prio, r.trace, r.clock.Now())
		r.trace = th
		r.countMgmt(pkt, d)
		return d
	}
	d := r.gate.Evaluate(pkt, local, prio)
	switch d.Reason {
	case "unsigned":
		r.Metrics.IncSignature(false, false)
	case "sig_valid":
		r.Metrics.IncSignature(true, true)
	case "sig_invalid", "sig_bounds":
		r.Metrics.IncSignature(true, false)
	}
	return d
}

func (r *Runner) countMgmt(pkt []byte, d Decision) {
	if mt, ok := packet.MgmtMessageType(pkt); ok {
		r.Metrics.IncMgmtByType(mt.String())
	}
	switch d.Reason {
	case "trace_deferred":
		r.Metrics.IncTraceDeferred()
	case "trace_fail_open":
		r.Metrics.IncTraceFailOpen()
	case "trace_local":
		r.Metrics.IncTraceLocal()
	}
}

func (r *Runner) dispatch(pkt []byte, d Decision) {
	switch d.Scope {
	case Broadcast:
		r.Metrics.IncBroadcast()
		debuglog.Debugf("sending to all: %s, %d bytes, priority %d", packet.MessageType(pkt), len(pkt), d.Priority)
		r.out.SendAll(pkt, d.Priority, r.chans.Outputs, "all")
	case LocalOnly:
		r.Metrics.IncLocalOnly()
		debuglog.Debugf("sending to alocal and acache: %s, %d bytes (%s)", packet.MessageType(pkt), len(pkt), d.Reason)
		r.out.SendAll(pkt, 0, r.chans.LocalOutputs(), "local")
	default:
		r.Metrics.IncDropped(d.Reason)
		debuglog.Debugf("dropping packet: %d bytes (%s)", len(pkt), d.Reason)
	}
}

// Trace returns the current trace throttle.
func (r *Runner) Trace() TraceThrottle {
	return r.trace
}

func (r *Runner) StartSnapshotWriter(interval time.Duration) {
	if r == nil || r.Metrics == nil || r.snapPath == "" {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	if r.snapDone != nil {
		return
	}
	done := make(chan struct{})
	r.snapDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Metrics.WriteSnapshot(r.snapPath); err != nil {
					debuglog.RateLimitedf("snapshot", time.Minute, "metrics snapshot %s: %v", r.snapPath, err)
				}
			case <-r.stopSnap:
				_ = r.Metrics.WriteSnapshot(r.snapPath)
				return
			}
		}
	}()
}

// StopSnapshotWriter stops the writer started by StartSnapshotWriter and
// waits for its final snapshot.
func (r *Runner) StopSnapshotWriter() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stopSnap) })
	if r.snapDone != nil {
		<-r.snapDone
	}
}
