package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Decision is one forwarding decision kept in the recent ring.
type Decision struct {
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	Local    bool      `json:"local"`
	Scope    string    `json:"scope"`
	Priority uint32    `json:"priority"`
	Reason   string    `json:"reason,omitempty"`
}

type Snapshot struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Recv         RecvMetrics       `json:"recv"`
	Forward      ForwardMetrics    `json:"forward"`
	Trace        TraceMetrics      `json:"trace"`
	Signature    SignatureMetrics  `json:"signature"`
	MgmtByType   map[string]uint64 `json:"mgmt_by_type"`
	DropByReason map[string]uint64 `json:"drop_by_reason"`
	Contacts     int               `json:"contacts"`
	Recent       []Decision        `json:"recent"`
}

type RecvMetrics struct {
	Local      uint64 `json:"local"`
	Remote     uint64 `json:"remote"`
	Invalid    uint64 `json:"invalid"`
	Duplicates uint64 `json:"duplicates"`
}

type ForwardMetrics struct {
	Broadcast    uint64 `json:"broadcast"`
	LocalOnly    uint64 `json:"local_only"`
	Dropped      uint64 `json:"dropped"`
	Delivered    uint64 `json:"delivered"`
	SendFailures uint64 `json:"send_failures"`
}

type TraceMetrics struct {
	Deferred  uint64 `json:"deferred"`
	FailOpen  uint64 `json:"fail_open"`
	LocalSent uint64 `json:"local_sent"`
}

type SignatureMetrics struct {
	Valid   uint64 `json:"valid"`
	Invalid uint64 `json:"invalid"`
	Absent  uint64 `json:"absent"`
}

type Metrics struct {
	recvLocal      atomic.Uint64
	recvRemote     atomic.Uint64
	recvInvalid    atomic.Uint64
	recvDuplicates atomic.Uint64

	fwdBroadcast atomic.Uint64
	fwdLocalOnly atomic.Uint64
	fwdDropped   atomic.Uint64
	fwdDelivered atomic.Uint64
	sendFailures atomic.Uint64

	traceDeferred  atomic.Uint64
	traceFailOpen  atomic.Uint64
	traceLocalSent atomic.Uint64

	sigValid   atomic.Uint64
	sigInvalid atomic.Uint64
	sigAbsent  atomic.Uint64

	contacts atomic.Int64

	mu           sync.Mutex
	mgmtByType   map[string]uint64
	dropByReason map[string]uint64

	recent *Recent
}

func New() *Metrics {
	return &Metrics{
		mgmtByType:   make(map[string]uint64),
		dropByReason: make(map[string]uint64),
		recent:       NewRecent(64),
	}
}

func (m *Metrics) Recent() *Recent {
	return m.recent
}

func (m *Metrics) IncRecv(local bool) {
	if local {
		m.recvLocal.Add(1)
		return
	}
	m.recvRemote.Add(1)
}

func (m *Metrics) IncInvalid(reason string) {
	m.recvInvalid.Add(1)
	m.IncDropByReason("invalid_" + reason)
}

func (m *Metrics) IncDuplicate() {
	m.recvDuplicates.Add(1)
}

func (m *Metrics) IncBroadcast() {
	m.fwdBroadcast.Add(1)
}

func (m *Metrics) IncLocalOnly() {
	m.fwdLocalOnly.Add(1)
}

func (m *Metrics) IncDropped(reason string) {
	m.fwdDropped.Add(1)
	m.IncDropByReason(reason)
}

func (m *Metrics) AddDelivered(n int) {
	if n > 0 {
		m.fwdDelivered.Add(uint64(n))
	}
}

func (m *Metrics) IncSendFailure() {
	m.sendFailures.Add(1)
}

func (m *Metrics) IncTraceDeferred() {
	m.traceDeferred.Add(1)
}

func (m *Metrics) IncTraceFailOpen() {
	m.traceFailOpen.Add(1)
}

func (m *Metrics) IncTraceLocal() {
	m.traceLocalSent.Add(1)
}

func (m *Metrics) IncSignature(present, valid bool) {
	switch {
	case !present:
		m.sigAbsent.Add(1)
	case valid:
		m.sigValid.Add(1)
	default:
		m.sigInvalid.Add(1)
	}
}

func (m *Metrics) SetContacts(n int) {
	m.contacts.Store(int64(n))
}

func (m *Metrics) IncMgmtByType(t string) {
	if t == "" {
		return
	}
	m.mu.Lock()
	m.mgmtByType[t]++
	m.mu.Unlock()
}

func (m *Metrics) IncDropByReason(reason string) {
	if reason == "" {
		return
	}
	m.mu.Lock()
	m.dropByReason[reason]++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []Decision{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	m.mu.Lock()
	mgmt := make(map[string]uint64, len(m.mgmtByType))
	for k, v := range m.mgmtByType {
		mgmt[k] = v
	}
	drops := make(map[string]uint64, len(m.dropByReason))
	for k, v := range m.dropByReason {
		drops[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Recv: RecvMetrics{
			Local:      m.recvLocal.Load(),
			Remote:     m.recvRemote.Load(),
			Invalid:    m.recvInvalid.Load(),
			Duplicates: m.recvDuplicates.Load(),
		},
		Forward: ForwardMetrics{
			Broadcast:    m.fwdBroadcast.Load(),
			LocalOnly:    m.fwdLocalOnly.Load(),
			Dropped:      m.fwdDropped.Load(),
			Delivered:    m.fwdDelivered.Load(),
			SendFailures: m.sendFailures.Load(),
		},
		Trace: TraceMetrics{
			Deferred:  m.traceDeferred.Load(),
			FailOpen:  m.traceFailOpen.Load(),
			LocalSent: m.traceLocalSent.Load(),
		},
		Signature: SignatureMetrics{
			Valid:   m.sigValid.Load(),
			Invalid: m.sigInvalid.Load(),
			Absent:  m.sigAbsent.Load(),
		},
		MgmtByType:   mgmt,
		DropByReason: drops,
		Contacts:     int(m.contacts.Load()),
		Recent:       recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(data, &snap)
	return snap, err
}

type Recent struct {
	mu   sync.Mutex
	cap  int
	list []Decision
}

func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 64
	}
	return &Recent{cap: capacity}
}

func (r *Recent) Add(d Decision) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = d
		return
	}
	r.list = append(r.list, d)
}

func (r *Recent) List() []Decision {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.list))
	copy(out, r.list)
	return out
}
