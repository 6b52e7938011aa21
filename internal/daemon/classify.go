package daemon

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"allnetd/internal/debuglog"
	"allnetd/internal/packet"
	"allnetd/internal/priority"
)

// DefaultTraceWindow is how long a remote trace request waits for the local
// trace responder before the daemon forwards traces itself.
const DefaultTraceWindow = 10 * time.Second

// TraceThrottle is the single-slot watchdog for remote trace requests: Last
// is when an unforwarded remote trace was first deferred to local consumers.
type TraceThrottle struct {
	Set    bool
	Last   mclock.AbsTime
	Window time.Duration
}

func (th TraceThrottle) window() time.Duration {
	if th.Window <= 0 {
		return DefaultTraceWindow
	}
	return th.Window
}

// ClassifyMgmt decides the scope of a management packet. It has no hidden
// state: the trace throttle goes in and the updated throttle comes out.
// Remote packets are forwarded at priority.Epsilon, local ones keep the
// priority their sender asked for.
func ClassifyMgmt(pkt []byte, isLocal bool, prio uint32, th TraceThrottle, now mclock.AbsTime) (Decision, TraceThrottle) {
	mt, ok := packet.MgmtMessageType(pkt)
	if !ok {
		return drop("mgmt_short"), th
	}
	if !isLocal {
		prio = priority.Epsilon
	}
	switch mt {
	case packet.MgmtBeacon, packet.MgmtBeaconReply, packet.MgmtBeaconGrant:
		return drop("beacon"), th
	case packet.MgmtPeerRequest, packet.MgmtPeers, packet.MgmtDHT:
		return localOnly(mt.String()), th
	case packet.MgmtTraceReq:
		if isLocal {
			return broadcast(prio, "trace_local"), TraceThrottle{Window: th.Window}
		}
		if !th.Set {
			th.Set = true
			th.Last = now
			return localOnly("trace_deferred"), th
		}
		if time.Duration(now-th.Last) >= th.window() {
			debuglog.RateLimitedf("trace_fail_open", time.Second,
				"warning: last unforwarded trace %v ago, forwarding", time.Duration(now-th.Last))
			return broadcast(prio, "trace_fail_open"), th
		}
		return localOnly("trace_deferred"), th
	case packet.MgmtTraceReply:
		return broadcast(prio, "trace_reply"), th
	default:
		debuglog.RateLimitedf("mgmt_"+mt.String(), time.Second, "unknown management message type %d", uint8(mt))
		return broadcast(priority.Epsilon, "mgmt_unknown"), th
	}
}

// isBeacon reports whether pkt is link-local discovery traffic, which is
// never forwarded anywhere.
func isBeacon(pkt []byte) bool {
	if packet.MessageType(pkt) != packet.TypeMgmt {
		return false
	}
	mt, ok := packet.MgmtMessageType(pkt)
	if !ok {
		return false
	}
	switch mt {
	case packet.MgmtBeacon, packet.MgmtBeaconReply, packet.MgmtBeaconGrant:
		return true
	}
	return false
}
