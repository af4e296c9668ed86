package tree

import (
	"math/bits"

	"github.com/xtxerr/ntuple/config"
)

// periodBits is the number of bits reserved for the shortened run number
// in the second identity word of simulated events.
var periodBits = bits.Len(config.MaxRunDigits)

// EventID identifies one physical event across all trees of a job.
type EventID [2]uint64

// IsZero reports whether id is unset.
func (id EventID) IsZero() bool { return id[0] == 0 && id[1] == 0 }

// NewEventID builds the identity of an event. For simulation the second
// word packs the channel number above the run number divided by
// config.RunNumberDivisor; for data it is the run number.
func NewEventID(eventNumber uint64, runNumber, mcChannel uint32, isData bool) EventID {
	if isData {
		return EventID{eventNumber, uint64(runNumber)}
	}
	return EventID{
		eventNumber,
		uint64(mcChannel)<<periodBits | uint64(runNumber/config.RunNumberDivisor),
	}
}
