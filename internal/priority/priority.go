package priority

import "allnetd/internal/packet"

const (
	Max     uint32 = 1 << 30
	Epsilon uint32 = 1

	// UnknownTier is the social distance used before, or instead of, a
	// verified signature.
	UnknownTier = 255
	// MaxTier is the furthest social distance that still earns a boost.
	MaxTier = 64

	sizeKnee       = 1024
	unknownTierDiv = 2 * MaxTier
)

// Compute returns the forwarding priority of a packet in [Epsilon, Max].
// Local packets always get Max. Remote packets are scaled into the lower half
// so nothing from the network outranks local traffic; within that half the
// priority falls with size, distance already travelled, social distance and
// source rate, and rises with address specificity.
func Compute(isLocal bool, size int, srcBits, dstBits, hops, maxHops uint8, tier int, rate float64) uint32 {
	if isLocal {
		return Max
	}
	f := 1.0
	if size > sizeKnee {
		f *= float64(sizeKnee) / float64(size)
	}
	bits := int(clampBits(srcBits)) + int(clampBits(dstBits))
	f *= 0.5 + 0.5*float64(bits)/float64(2*packet.MaxAddrBits)
	if maxHops == 0 || hops >= maxHops {
		f /= float64(packet.MaxHops)
	} else {
		f *= float64(maxHops-hops) / float64(maxHops)
	}
	f *= tierFactor(tier)
	f *= 1 - clampRate(rate)/2
	p := uint32(f * float64(Max/2))
	if p < Epsilon {
		return Epsilon
	}
	if p > Max {
		return Max
	}
	return p
}

func tierFactor(tier int) float64 {
	switch {
	case tier <= 1:
		return 1
	case tier > MaxTier:
		return 1 / float64(unknownTierDiv)
	default:
		return 1 / float64(tier)
	}
}

func clampBits(b uint8) uint8 {
	if b > packet.MaxAddrBits {
		return packet.MaxAddrBits
	}
	return b
}

func clampRate(r float64) float64 {
	switch {
	case r < 0 || r != r:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
