package daemon

import (
	"allnetd/internal/packet"
	"allnetd/internal/priority"
)

// Verifier checks a packet signature against known contacts and returns the
// social tier of the signer.
type Verifier interface {
	VerifyAndScore(signed, src []byte, srcBits uint8, algo packet.SigAlgo, sig []byte) (tier int, valid bool)
}

type RateTracker interface {
	Track(src []byte, bits uint8, size int) float64
	Largest() float64
}

// Gate scores data packets. It never drops: packets that cannot be scored
// are forwarded at the provisional priority.
type Gate struct {
	Trust Verifier
	Rates RateTracker
}

// Evaluate decides the scope and priority of a data packet that survived
// duplicate suppression. For remote packets the hop count is incremented
// in place.
func (g *Gate) Evaluate(pkt []byte, isLocal bool, prio uint32) Decision {
	if isLocal {
		return broadcast(prio, "local")
	}
	hops := packet.IncrementHops(pkt)
	h, err := packet.ParseHeader(pkt)
	if err != nil {
		return drop("short")
	}
	if hops >= h.MaxHops {
		return localOnly("hops_exhausted")
	}
	size := len(pkt)
	provisional := priority.Compute(false, size, h.SrcBits, h.DstBits, hops, h.MaxHops,
		priority.UnknownTier, g.largestRate())
	if h.SigAlgo == packet.SigNone {
		return broadcast(provisional, "unsigned")
	}
	signed, sig, ok := packet.Signature(pkt)
	if !ok {
		return broadcast(provisional, "sig_bounds")
	}
	if g.Trust == nil {
		return broadcast(provisional, "sig_invalid")
	}
	tier, valid := g.Trust.VerifyAndScore(signed, h.Source[:], h.SrcBits, h.SigAlgo, sig)
	if !valid {
		return broadcast(provisional, "sig_invalid")
	}
	rate := 0.0
	if g.Rates != nil {
		rate = g.Rates.Track(h.Source[:], h.SrcBits, size)
	}
	return broadcast(priority.Compute(false, size, h.SrcBits, h.DstBits, hops, h.MaxHops, tier, rate), "sig_valid")
}

func (g *Gate) largestRate() float64 {
	if g.Rates == nil {
		return 0
	}
	return g.Rates.Largest()
}
