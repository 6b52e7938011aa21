package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"allnetd/internal/debuglog"
	"allnetd/internal/metrics"
)

type Sender interface {
	Send(handle int, payload []byte, priority uint32) bool
}

// Dispatcher writes a packet to a set of output handles. A failing handle
// never stops delivery to the others.
type Dispatcher struct {
	Out     Sender
	Metrics *metrics.Metrics
}

// SendAll returns the number of handles that accepted the packet.
func (d *Dispatcher) SendAll(pkt []byte, prio uint32, handles []int, desc string) int {
	if debuglog.Logger().IsLevelEnabled(logrus.DebugLevel) {
		var b strings.Builder
		for _, h := range handles {
			fmt.Fprintf(&b, "%d, ", h)
		}
		debuglog.Debugf("send_all (%s) sending to %d pipes: %s", desc, len(handles), b.String())
	}
	sent := 0
	for i, h := range handles {
		if d.Out.Send(h, pkt, prio) {
			sent++
			continue
		}
		if d.Metrics != nil {
			d.Metrics.IncSendFailure()
		}
		debuglog.RateLimitedf(fmt.Sprintf("send_fail_%d", h), time.Second,
			"write_pipes [%d] = %d is no longer valid", i, h)
	}
	if d.Metrics != nil {
		d.Metrics.AddDelivered(sent)
	}
	return sent
}
