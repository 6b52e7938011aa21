package packet

import "fmt"

// MgmtHeaderSize is the size of the management header that follows the
// packet header and its optional transport fields.
const MgmtHeaderSize = 1

type MgmtType uint8

const (
	MgmtBeacon      MgmtType = 1
	MgmtBeaconReply MgmtType = 2
	MgmtBeaconGrant MgmtType = 3
	MgmtPeerRequest MgmtType = 4
	MgmtPeers       MgmtType = 5
	MgmtDHT         MgmtType = 6
	MgmtTraceReq    MgmtType = 7
	MgmtTraceReply  MgmtType = 8
)

func (t MgmtType) String() string {
	switch t {
	case MgmtBeacon:
		return "beacon"
	case MgmtBeaconReply:
		return "beacon_reply"
	case MgmtBeaconGrant:
		return "beacon_grant"
	case MgmtPeerRequest:
		return "peer_request"
	case MgmtPeers:
		return "peers"
	case MgmtDHT:
		return "dht"
	case MgmtTraceReq:
		return "trace_req"
	case MgmtTraceReply:
		return "trace_reply"
	default:
		return fmt.Sprintf("unknown_%d", uint8(t))
	}
}

// MgmtMessageType reads the management subtype of a management packet. ok is
// false when the packet is too short to hold the management header.
func MgmtMessageType(pkt []byte) (MgmtType, bool) {
	if len(pkt) < HeaderSize {
		return 0, false
	}
	off := AfterHeader(pkt[offTransport])
	if len(pkt) < off+MgmtHeaderSize {
		return 0, false
	}
	return MgmtType(pkt[off]), true
}

// NewMgmt builds an unsigned management packet from a header template.
func NewMgmt(h Header, mt MgmtType, body []byte) []byte {
	h.Type = TypeMgmt
	h.SigAlgo = SigNone
	if h.Version == 0 {
		h.Version = Version
	}
	out := h.Encode()
	out = append(out, make([]byte, AfterHeader(h.Transport)-HeaderSize)...)
	out = append(out, byte(mt))
	return append(out, body...)
}
