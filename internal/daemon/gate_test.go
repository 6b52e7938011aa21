package daemon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/mclock"

	"allnetd/internal/crypto"
	"allnetd/internal/packet"
	"allnetd/internal/priority"
	"allnetd/internal/trust"
)

type stubVerifier struct {
	calls int
	tier  int
	valid bool
}

func (s *stubVerifier) VerifyAndScore(_, _ []byte, _ uint8, _ packet.SigAlgo, _ []byte) (int, bool) {
	s.calls++
	return s.tier, s.valid
}

func signedPacket(t *testing.T, priv []byte, hops, maxHops uint8) []byte {
	t.Helper()
	h := packet.Header{Type: packet.TypeData, Hops: hops, MaxHops: maxHops, SrcBits: 16, DstBits: 8, SigAlgo: packet.SigEd25519}
	h.Source[0], h.Source[1] = 0xab, 0xcd
	pkt := packet.New(h, []byte("signed payload"))
	sig, err := crypto.Sign(packet.SigEd25519, priv, pkt[packet.HeaderSize:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return packet.AppendSignature(pkt, sig)
}

func TestGateLocalBroadcastsUnmodified(t *testing.T) {
	g := &Gate{}
	pkt := dataPacket(3, 3, "local")
	d := g.Evaluate(pkt, true, 1234)
	if d.Scope != Broadcast || d.Priority != 1234 {
		t.Fatalf("expected broadcast at caller priority, got %+v", d)
	}
	if packet.Hops(pkt) != 3 {
		t.Fatalf("local packet hops modified")
	}
}

func TestGateHopsExhausted(t *testing.T) {
	g := &Gate{Rates: priority.NewRateTracker(0, 0, 0, nil)}
	for _, hops := range []uint8{5, 4} {
		pkt := dataPacket(hops, 5, "far")
		d := g.Evaluate(pkt, false, 0)
		if d.Scope != LocalOnly {
			t.Fatalf("hops %d/5: expected local-only, got %s", hops, d.Scope)
		}
		if packet.Hops(pkt) != hops+1 {
			t.Fatalf("hops not incremented")
		}
	}
}

func TestGateHopSaturates(t *testing.T) {
	g := &Gate{}
	pkt := dataPacket(255, 255, "x")
	if d := g.Evaluate(pkt, false, 0); d.Scope != LocalOnly {
		t.Fatalf("expected local-only, got %s", d.Scope)
	}
	if packet.Hops(pkt) != 255 {
		t.Fatalf("hop count wrapped: %d", packet.Hops(pkt))
	}
}

func TestGateUnsignedProvisional(t *testing.T) {
	v := &stubVerifier{valid: true, tier: 1}
	g := &Gate{Trust: v, Rates: priority.NewRateTracker(0, 0, 0, nil)}
	pkt := dataPacket(1, 10, "hello")
	d := g.Evaluate(pkt, false, 999)
	want := priority.Compute(false, len(pkt), 16, 16, 2, 10, priority.UnknownTier, 0)
	if d.Scope != Broadcast || d.Priority != want {
		t.Fatalf("expected broadcast at %d, got %+v", want, d)
	}
	if v.calls != 0 {
		t.Fatalf("oracle called for unsigned packet")
	}
}

func TestGateSignatureOutOfBounds(t *testing.T) {
	v := &stubVerifier{valid: true, tier: 1}
	g := &Gate{Trust: v, Rates: priority.NewRateTracker(0, 0, 0, nil)}
	h := packet.Header{Type: packet.TypeData, Hops: 0, MaxHops: 10, SrcBits: 16, DstBits: 16, SigAlgo: packet.SigEd25519}
	pkt := append(packet.New(h, []byte("abc")), 0xff, 0xff)
	d := g.Evaluate(pkt, false, 0)
	want := priority.Compute(false, len(pkt), 16, 16, 1, 10, priority.UnknownTier, 0)
	if d.Scope != Broadcast || d.Priority != want || d.Reason != "sig_bounds" {
		t.Fatalf("expected provisional broadcast, got %+v want priority %d", d, want)
	}
	if v.calls != 0 {
		t.Fatalf("oracle called for out of bounds signature")
	}
}

func TestGateInvalidSignatureProvisional(t *testing.T) {
	_, priv, err := crypto.GenerateKey(packet.SigEd25519)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	v := &stubVerifier{valid: false}
	g := &Gate{Trust: v, Rates: priority.NewRateTracker(0, 0, 0, nil)}
	pkt := signedPacket(t, priv, 0, 10)
	d := g.Evaluate(pkt, false, 0)
	want := priority.Compute(false, len(pkt), 16, 8, 1, 10, priority.UnknownTier, 0)
	if d.Scope != Broadcast || d.Priority != want {
		t.Fatalf("expected provisional broadcast %d, got %+v", want, d)
	}
	if v.calls != 1 {
		t.Fatalf("expected one oracle call, got %d", v.calls)
	}
}

func TestGateValidSignatureBoostsPriority(t *testing.T) {
	pub, priv, err := crypto.GenerateKey(packet.SigEd25519)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	oracle := trust.New("", 0, 0, new(mclock.Simulated))
	c := trust.Contact{Bits: 16, Algo: packet.SigEd25519, PubKey: pub, Tier: 1}
	c.Address[0], c.Address[1] = 0xab, 0xcd
	oracle.Add(c)
	if err := oracle.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	g := &Gate{Trust: oracle, Rates: priority.NewRateTracker(0, 0, 0, nil)}
	pkt := signedPacket(t, priv, 0, 10)
	d := g.Evaluate(pkt, false, 0)
	provisional := priority.Compute(false, len(pkt), 16, 8, 1, 10, priority.UnknownTier, 0)
	if d.Scope != Broadcast || d.Reason != "sig_valid" {
		t.Fatalf("expected valid signature broadcast, got %+v", d)
	}
	if d.Priority <= provisional {
		t.Fatalf("expected boost above %d, got %d", provisional, d.Priority)
	}
}
