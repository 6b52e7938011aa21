// Package trust scores packet signatures against the local contact book.
package trust

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"allnetd/internal/crypto"
	"allnetd/internal/debuglog"
	"allnetd/internal/packet"
	"allnetd/internal/priority"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultCapacity    = 30000
	DefaultCheckBudget = 5
)

type snapshot struct {
	contacts []Contact
	bytes    int
}

// Oracle verifies signatures against an immutable snapshot of the contact
// book. Refresh swaps in a new snapshot built off the forwarding path, so a
// slow disk never stalls packet processing.
type Oracle struct {
	path     string
	capacity int
	checks   int
	clock    mclock.Clock

	snap    atomic.Pointer[snapshot]
	loading atomic.Bool
	wg      sync.WaitGroup

	mu    sync.Mutex
	extra []Contact
}

// New returns an oracle for the contact book at path. capacity bounds the
// key material kept in memory, checkBudget the number of signature checks
// one packet may cost.
func New(path string, capacity, checkBudget int, clock mclock.Clock) *Oracle {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if checkBudget <= 0 {
		checkBudget = DefaultCheckBudget
	}
	if clock == nil {
		clock = mclock.System{}
	}
	return &Oracle{path: path, capacity: capacity, checks: checkBudget, clock: clock}
}

// Refresh reloads the contact book and returns the time of the next
// refresh. The first load is synchronous; later loads run in the
// background and at most one is in flight.
func (o *Oracle) Refresh(interval time.Duration) mclock.AbsTime {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if o.snap.Load() == nil {
		if err := o.Load(); err != nil {
			debuglog.Warnf("trust: load %s failed: %v", o.path, err)
		}
	} else if o.loading.CompareAndSwap(false, true) {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.loading.Store(false)
			if err := o.Load(); err != nil {
				debuglog.Warnf("trust: refresh %s failed: %v", o.path, err)
			}
		}()
	}
	return o.clock.Now().Add(interval)
}

// Load reads the contact book now and replaces the snapshot. On error the
// previous snapshot stays in place, or an empty one on first load.
func (o *Oracle) Load() error {
	contacts, used, err := ReadContacts(o.path, o.capacity)
	if err != nil {
		if o.snap.Load() == nil {
			o.snap.Store(&snapshot{})
		}
		return err
	}
	o.mu.Lock()
	for _, c := range o.extra {
		if used+len(c.PubKey) > o.capacity {
			break
		}
		used += len(c.PubKey)
		contacts = append(contacts, c)
	}
	o.mu.Unlock()
	sortByTier(contacts)
	o.snap.Store(&snapshot{contacts: contacts, bytes: used})
	debuglog.Debugf("trust: loaded %d contacts (%d key bytes)", len(contacts), used)
	return nil
}

// Add registers a contact that survives reloads without touching the book.
func (o *Oracle) Add(c Contact) {
	if c.Tier <= 0 {
		c.Tier = 1
	}
	o.mu.Lock()
	o.extra = append(o.extra, c)
	o.mu.Unlock()
}

// Wait blocks until a background refresh in flight has finished.
func (o *Oracle) Wait() {
	o.wg.Wait()
}

func (o *Oracle) Len() int {
	s := o.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.contacts)
}

// VerifyAndScore checks sig over signed against at most checkBudget contacts
// that share the source prefix and algorithm, closest tier first. It returns
// the tier of the first contact whose key verifies.
func (o *Oracle) VerifyAndScore(signed, src []byte, srcBits uint8, algo packet.SigAlgo, sig []byte) (int, bool) {
	s := o.snap.Load()
	if s == nil || len(sig) == 0 || algo == packet.SigNone {
		return priority.UnknownTier, false
	}
	checks := 0
	for i := range s.contacts {
		c := &s.contacts[i]
		if c.Algo != algo || !prefixMatch(src, srcBits, c.Address[:], c.Bits) {
			continue
		}
		if checks >= o.checks {
			break
		}
		checks++
		if crypto.Verify(algo, c.PubKey, signed, sig) {
			return c.Tier, true
		}
	}
	return priority.UnknownTier, false
}

// prefixMatch compares the first min(abits, bbits) bits of a and b.
func prefixMatch(a []byte, abits uint8, b []byte, bbits uint8) bool {
	n := int(min(abits, bbits))
	for i := 0; n > 0; i++ {
		if i >= len(a) || i >= len(b) {
			return false
		}
		mask := byte(0xff)
		if n < 8 {
			mask = 0xff << (8 - n)
		}
		if a[i]&mask != b[i]&mask {
			return false
		}
		n -= 8
	}
	return true
}
