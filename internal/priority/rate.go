package priority

import (
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/hashicorp/golang-lru/simplelru"
	"golang.org/x/time/rate"

	"allnetd/internal/packet"
)

const (
	DefaultSourceRate  = 16 << 10
	DefaultSourceBurst = 64 << 10
	DefaultSources     = 1024

	// largestScan bounds how often Largest walks every tracked bucket.
	largestScan = time.Second
)

// rateEpoch anchors clock readings for the limiters, which only look at
// differences between times.
var rateEpoch = time.Unix(0, 0)

// RateTracker keeps a token bucket per source address prefix. Track reports
// how much of that bucket the source has used, as a fraction in [0, 1].
type RateTracker struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	sources *simplelru.LRU
	clock   mclock.Clock

	largest float64
	scanned mclock.AbsTime
}

func NewRateTracker(bytesPerSec float64, burst int, capacity int, clock mclock.Clock) *RateTracker {
	if bytesPerSec <= 0 {
		bytesPerSec = DefaultSourceRate
	}
	if burst < packet.MaxPacketSize {
		burst = DefaultSourceBurst
	}
	if capacity <= 0 {
		capacity = DefaultSources
	}
	if clock == nil {
		clock = mclock.System{}
	}
	sources, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		// only fails for a non-positive size, ruled out above
		panic(err)
	}
	return &RateTracker{
		limit:   rate.Limit(bytesPerSec),
		burst:   burst,
		sources: sources,
		clock:   clock,
		scanned: clock.Now(),
	}
}

func (t *RateTracker) now() time.Time {
	return rateEpoch.Add(time.Duration(t.clock.Now()))
}

func (t *RateTracker) Track(src []byte, bits uint8, size int) float64 {
	if t == nil {
		return 0
	}
	now := t.now()
	key := sourceKey(src, bits)
	t.mu.Lock()
	defer t.mu.Unlock()
	var lim *rate.Limiter
	if v, ok := t.sources.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.sources.Add(key, lim)
	}
	if size > 0 {
		// a reservation is taken even when it overdraws the bucket, so a
		// flooding source keeps its fraction pinned at 1
		lim.ReserveN(now, min(size, t.burst))
	}
	f := t.fraction(lim, now)
	if f > t.largest {
		t.largest = f
	}
	return f
}

// Largest returns the highest fraction among tracked sources, used as the
// current link load when no source can be attributed yet. Track raises it
// immediately; decay is picked up by a full scan at most once per second.
func (t *RateTracker) Largest() float64 {
	if t == nil {
		return 0
	}
	abs := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Duration(abs-t.scanned) < largestScan {
		return t.largest
	}
	t.scanned = abs
	now := t.now()
	largest := 0.0
	for _, k := range t.sources.Keys() {
		v, ok := t.sources.Peek(k)
		if !ok {
			continue
		}
		if f := t.fraction(v.(*rate.Limiter), now); f > largest {
			largest = f
		}
	}
	t.largest = largest
	return largest
}

func (t *RateTracker) fraction(lim *rate.Limiter, now time.Time) float64 {
	used := 1 - lim.TokensAt(now)/float64(t.burst)
	return clampRate(used)
}

func sourceKey(src []byte, bits uint8) string {
	if bits > packet.MaxAddrBits {
		bits = packet.MaxAddrBits
	}
	masked := make([]byte, (int(bits)+7)/8)
	copy(masked, src)
	if rem := bits % 8; rem != 0 && len(masked) > 0 {
		masked[len(masked)-1] &= 0xff << (8 - rem)
	}
	return hex.EncodeToString(masked) + "/" + strconv.Itoa(int(bits))
}
