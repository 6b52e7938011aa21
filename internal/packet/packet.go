package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	Version       = 3
	HeaderSize    = 24
	AddressSize   = 8
	MaxAddrBits   = AddressSize * 8
	MaxPacketSize = 12288
	MaxHops       = 255

	// HopRegion covers type, hops and max hops: the bytes that change or do
	// not matter from one hop to the next.
	HopRegion = 3

	sigTrailerSize = 2
)

type Type uint8

const (
	TypeData    Type = 1
	TypeAck     Type = 2
	TypeDataReq Type = 3
	TypeMgmt    Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeAck:
		return "ack"
	case TypeDataReq:
		return "data_req"
	case TypeMgmt:
		return "mgmt"
	default:
		return fmt.Sprintf("type_%d", uint8(t))
	}
}

type SigAlgo uint8

const (
	SigNone      SigAlgo = 0
	SigRSAPSS    SigAlgo = 1
	SigEd25519   SigAlgo = 2
	SigSecp256k1 SigAlgo = 3
)

func (a SigAlgo) Known() bool {
	return a <= SigSecp256k1
}

func (a SigAlgo) String() string {
	switch a {
	case SigNone:
		return "none"
	case SigRSAPSS:
		return "rsa"
	case SigEd25519:
		return "ed25519"
	case SigSecp256k1:
		return "secp256k1"
	default:
		return fmt.Sprintf("sig_%d", uint8(a))
	}
}

// Transport flags, in the order their optional fields follow the header.
const (
	TransportStream     uint8 = 0x01
	TransportAckReq     uint8 = 0x02
	TransportLarge      uint8 = 0x04
	TransportExpiration uint8 = 0x08
	TransportDoNotCache uint8 = 0x10

	knownTransport = TransportStream | TransportAckReq | TransportLarge | TransportExpiration | TransportDoNotCache
)

const (
	offType      = 0
	offHops      = 1
	offMaxHops   = 2
	offVersion   = 3
	offSrcBits   = 4
	offDstBits   = 5
	offSigAlgo   = 6
	offTransport = 7
	offSource    = 8
	offDest      = offSource + AddressSize
)

// Header is a decoded copy of the fixed header. Mutations of the hop count go
// through IncrementHops on the raw bytes, never through Header.
type Header struct {
	Type        Type
	Hops        uint8
	MaxHops     uint8
	Version     uint8
	SrcBits     uint8
	DstBits     uint8
	SigAlgo     SigAlgo
	Transport   uint8
	Source      [AddressSize]byte
	Destination [AddressSize]byte
}

func ParseHeader(pkt []byte) (Header, error) {
	if len(pkt) < HeaderSize {
		return Header{}, fmt.Errorf("packet too short: %d < %d", len(pkt), HeaderSize)
	}
	h := Header{
		Type:      Type(pkt[offType]),
		Hops:      pkt[offHops],
		MaxHops:   pkt[offMaxHops],
		Version:   pkt[offVersion],
		SrcBits:   pkt[offSrcBits],
		DstBits:   pkt[offDstBits],
		SigAlgo:   SigAlgo(pkt[offSigAlgo]),
		Transport: pkt[offTransport],
	}
	copy(h.Source[:], pkt[offSource:offSource+AddressSize])
	copy(h.Destination[:], pkt[offDest:offDest+AddressSize])
	return h, nil
}

// Encode writes the header into a fresh HeaderSize buffer.
func (h Header) Encode() []byte {
	out := make([]byte, HeaderSize)
	out[offType] = byte(h.Type)
	out[offHops] = h.Hops
	out[offMaxHops] = h.MaxHops
	out[offVersion] = h.Version
	out[offSrcBits] = h.SrcBits
	out[offDstBits] = h.DstBits
	out[offSigAlgo] = byte(h.SigAlgo)
	out[offTransport] = h.Transport
	copy(out[offSource:], h.Source[:])
	copy(out[offDest:], h.Destination[:])
	return out
}

func MessageType(pkt []byte) Type {
	if len(pkt) <= offType {
		return 0
	}
	return Type(pkt[offType])
}

func Hops(pkt []byte) uint8 {
	if len(pkt) <= offHops {
		return 0
	}
	return pkt[offHops]
}

// IncrementHops bumps the hop count in place, saturating at MaxHops, and
// returns the new value.
func IncrementHops(pkt []byte) uint8 {
	if len(pkt) <= offHops {
		return 0
	}
	if pkt[offHops] < MaxHops {
		pkt[offHops]++
	}
	return pkt[offHops]
}

// AfterHeader returns the offset of the first byte after the header and the
// optional transport fields selected by flags.
func AfterHeader(transport uint8) int {
	n := HeaderSize
	if transport&TransportStream != 0 {
		n += 16
	}
	if transport&TransportAckReq != 0 {
		n += 16
	}
	if transport&TransportLarge != 0 {
		n += 16 + 8 + 8
	}
	if transport&TransportExpiration != 0 {
		n += 8
	}
	return n
}

// Signature splits off the trailing signature of a signed packet. The last two
// bytes hold the signature length as a big-endian uint16. ok is false when the
// packet is unsigned or the declared length does not fit.
func Signature(pkt []byte) (signed, sig []byte, ok bool) {
	if len(pkt) < HeaderSize+sigTrailerSize || SigAlgo(pkt[offSigAlgo]) == SigNone {
		return nil, nil, false
	}
	size := len(pkt)
	sigLen := int(binary.BigEndian.Uint16(pkt[size-sigTrailerSize:]))
	if HeaderSize+sigLen+sigTrailerSize > size {
		return nil, nil, false
	}
	sigStart := size - sigTrailerSize - sigLen
	return pkt[HeaderSize:sigStart], pkt[sigStart : size-sigTrailerSize], true
}

// AppendSignature returns pkt with sig and its length trailer appended.
func AppendSignature(pkt, sig []byte) []byte {
	out := make([]byte, 0, len(pkt)+len(sig)+sigTrailerSize)
	out = append(out, pkt...)
	out = append(out, sig...)
	return binary.BigEndian.AppendUint16(out, uint16(len(sig)))
}

// New builds a packet from a header template, zero-filled optional transport
// fields and payload.
func New(h Header, payload []byte) []byte {
	if h.Version == 0 {
		h.Version = Version
	}
	out := h.Encode()
	out = append(out, make([]byte, AfterHeader(h.Transport)-HeaderSize)...)
	return append(out, payload...)
}
