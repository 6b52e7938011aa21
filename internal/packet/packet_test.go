package packet

import (
	"bytes"
	"testing"
)

func testHeader() Header {
	return Header{
		Type:    TypeData,
		Hops:    1,
		MaxHops: 10,
		SrcBits: 16,
		DstBits: 8,
		Source:  [AddressSize]byte{0xab, 0xcd},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	h.Transport = TransportAckReq | TransportDoNotCache
	pkt := New(h, []byte("hello"))
	got, err := ParseHeader(pkt)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	h.Version = Version
	if got != h {
		t.Fatalf("header mismatch: got %+v want %+v", got, h)
	}
	if len(pkt) != HeaderSize+16+5 {
		t.Fatalf("unexpected packet size %d", len(pkt))
	}
}

func TestIncrementHopsSaturates(t *testing.T) {
	cases := []struct {
		hops uint8
		want uint8
	}{
		{0, 1},
		{7, 8},
		{254, 255},
		{255, 255},
	}
	for _, tc := range cases {
		h := testHeader()
		h.Hops = tc.hops
		pkt := New(h, nil)
		if got := IncrementHops(pkt); got != tc.want {
			t.Fatalf("IncrementHops(%d)=%d want %d", tc.hops, got, tc.want)
		}
		if Hops(pkt) != tc.want {
			t.Fatalf("hop byte not updated in place: %d", Hops(pkt))
		}
	}
}

func TestAfterHeader(t *testing.T) {
	cases := []struct {
		flags uint8
		want  int
	}{
		{0, HeaderSize},
		{TransportDoNotCache, HeaderSize},
		{TransportStream, HeaderSize + 16},
		{TransportStream | TransportAckReq, HeaderSize + 32},
		{TransportLarge, HeaderSize + 32},
		{TransportExpiration | TransportAckReq, HeaderSize + 24},
	}
	for _, tc := range cases {
		if got := AfterHeader(tc.flags); got != tc.want {
			t.Fatalf("AfterHeader(%#x)=%d want %d", tc.flags, got, tc.want)
		}
	}
}

func TestSignatureTrailer(t *testing.T) {
	h := testHeader()
	h.SigAlgo = SigEd25519
	body := []byte("signed body")
	sig := bytes.Repeat([]byte{0x5a}, 300)
	pkt := AppendSignature(New(h, body), sig)
	signed, gotSig, ok := Signature(pkt)
	if !ok {
		t.Fatalf("expected signature")
	}
	if !bytes.Equal(signed, body) {
		t.Fatalf("signed region mismatch: %q", signed)
	}
	if !bytes.Equal(gotSig, sig) {
		t.Fatalf("signature mismatch")
	}
}

func TestSignatureLengthIsBigEndian(t *testing.T) {
	h := testHeader()
	h.SigAlgo = SigRSAPSS
	// 0x0102 = 258 bytes; reading only one byte would give 2 or 1.
	sig := bytes.Repeat([]byte{1}, 0x0102)
	pkt := AppendSignature(New(h, []byte("x")), sig)
	_, gotSig, ok := Signature(pkt)
	if !ok || len(gotSig) != 0x0102 {
		t.Fatalf("expected 258 byte signature, got ok=%v len=%d", ok, len(gotSig))
	}
}

func TestSignatureOutOfBounds(t *testing.T) {
	h := testHeader()
	h.SigAlgo = SigEd25519
	pkt := New(h, []byte("abcdef"))
	pkt = append(pkt, 0xff, 0xff)
	if _, _, ok := Signature(pkt); ok {
		t.Fatalf("expected out of bounds signature to be rejected")
	}
	h.SigAlgo = SigNone
	if _, _, ok := Signature(AppendSignature(New(h, nil), []byte{1})); ok {
		t.Fatalf("unsigned packet must not report a signature")
	}
}

func TestValidate(t *testing.T) {
	good := New(testHeader(), []byte("payload"))
	if reason := Validate(good); reason != "" {
		t.Fatalf("expected valid, got %s", reason)
	}
	mutate := func(off int, v byte) []byte {
		out := append([]byte(nil), good...)
		out[off] = v
		return out
	}
	cases := []struct {
		name string
		pkt  []byte
		want string
	}{
		{"short", good[:HeaderSize-1], "short"},
		{"oversize", make([]byte, MaxPacketSize+1), "oversize"},
		{"version", mutate(offVersion, 9), "version"},
		{"type", mutate(offType, 0), "type"},
		{"max_hops", mutate(offMaxHops, 0), "max_hops"},
		{"src_bits", mutate(offSrcBits, 65), "addr_bits"},
		{"sig_algo", mutate(offSigAlgo, 9), "sig_algo"},
		{"transport_unknown", mutate(offTransport, 0x80), "transport"},
		{"transport_fields", mutate(offTransport, TransportLarge), "transport_fields"},
	}
	for _, tc := range cases {
		if got := Validate(tc.pkt); got != tc.want {
			t.Fatalf("%s: Validate=%q want %q", tc.name, got, tc.want)
		}
	}
}

func TestMgmtMessageType(t *testing.T) {
	h := testHeader()
	h.Transport = TransportExpiration
	pkt := NewMgmt(h, MgmtTraceReq, []byte{1, 2, 3})
	mt, ok := MgmtMessageType(pkt)
	if !ok || mt != MgmtTraceReq {
		t.Fatalf("expected trace_req, got %v ok=%v", mt, ok)
	}
	if _, ok := MgmtMessageType(pkt[:AfterHeader(h.Transport)]); ok {
		t.Fatalf("expected short mgmt payload to fail")
	}
	if MgmtType(200).String() != "unknown_200" {
		t.Fatalf("unexpected unknown name %q", MgmtType(200).String())
	}
}
