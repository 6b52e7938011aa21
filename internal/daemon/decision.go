package daemon

import (
	"errors"
	"fmt"
	"slices"
)

// MinChannels is the number of channel pairs the daemon needs: local
// applications, the local cache and the network interface manager.
const MinChannels = 3

var ErrTooFewChannels = errors.New("at least 3 channel pairs needed")

// Scope says where a packet goes next.
type Scope uint8

const (
	Drop Scope = iota
	LocalOnly
	Broadcast
)

func (s Scope) String() string {
	switch s {
	case Drop:
		return "drop"
	case LocalOnly:
		return "local"
	case Broadcast:
		return "all"
	default:
		return fmt.Sprintf("scope_%d", uint8(s))
	}
}

// Decision is the outcome of classifying one packet. Priority only matters
// for Broadcast; LocalOnly deliveries are always written at priority 0.
type Decision struct {
	Scope    Scope
	Priority uint32
	Reason   string
}

func drop(reason string) Decision {
	return Decision{Scope: Drop, Reason: reason}
}

func localOnly(reason string) Decision {
	return Decision{Scope: LocalOnly, Reason: reason}
}

func broadcast(priority uint32, reason string) Decision {
	return Decision{Scope: Broadcast, Priority: priority, Reason: reason}
}

// ChannelSet holds the input and output handles in startup order. The first
// two of each belong to local applications and the local cache.
type ChannelSet struct {
	Inputs  []int
	Outputs []int
}

func (c ChannelSet) Validate() error {
	if len(c.Inputs) < MinChannels || len(c.Outputs) < MinChannels {
		return fmt.Errorf("%w: have %d inputs, %d outputs", ErrTooFewChannels, len(c.Inputs), len(c.Outputs))
	}
	return nil
}

// IsLocal reports whether a packet read from handle came from a local
// application or the local cache.
func (c ChannelSet) IsLocal(handle int) bool {
	return slices.Contains(c.Inputs[:min(2, len(c.Inputs))], handle)
}

func (c ChannelSet) LocalOutputs() []int {
	return c.Outputs[:min(2, len(c.Outputs))]
}
