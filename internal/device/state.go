// Package device holds the per-handle mutable state a SATL keeps across
// commands on one backing ATA drive: the quirk flags that shape CdbBuilder
// and ScsiTranslator decisions, the cached IDENTIFY DEVICE page, the most
// recent RTFRs, and the short history ring PassthroughDispatcher records
// every command into and LOG SENSE page 0x16 reports (spec.md §3, §5).
package device

import (
	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
)

// historyDepth is the size of the passthrough-results ring spec.md §5
// requires ("at least the last command's RTFRs, conventionally fifteen").
const historyDepth = 15

// PassthroughResult is one entry in the ring: what was sent and what came
// back.
type PassthroughResult struct {
	Command ataregs.Command
	Rtfr    ataregs.ReturnTfrs
	Outcome string
}

// State is everything PassthroughDispatcher and ScsiTranslator need to know
// about one open backing device, beyond the transport handle itself.
//
// A State is not safe for concurrent use by multiple goroutines issuing
// commands at once - one handle processes one command at a time, matching
// the single in-flight-command contract TCMU hands the translator
// (spec.md §9).
type State struct {
	Hacks hacks.PassthroughHacks
	Soft  hacks.SoftSatFlags

	identify       [512]byte
	identifyCached bool

	lastRtfr    ataregs.ReturnTfrs
	lastRtfrSet bool

	ataSense    AtaSenseTriple
	ataSenseSet bool

	ring     [historyDepth]PassthroughResult
	ringNext int
	ringLen  int

	// writeCacheEnabled/readLookAheadDisabled mirror the Caching mode page's
	// WCE/DRA bits across a MODE SELECT so a later MODE SENSE reflects the
	// drive's actual configuration instead of a static default (spec.md §8's
	// MODE SENSE/MODE SELECT/MODE SENSE round-trip law).
	writeCacheEnabled     bool
	readLookAheadDisabled bool
}

// AtaSenseTriple is the SCSI sense key/ASC/ASCQ recovered from ATA REQUEST
// SENSE DATA EXT (spec.md §4.3's "populate device.ata_sense_data").
type AtaSenseTriple struct {
	Key, Asc, Ascq byte
}

// New returns a State with the given quirk flags. Write caching is assumed
// enabled and read look-ahead enabled until a MODE SELECT Caching page says
// otherwise, matching a drive's typical power-on default.
func New(h hacks.PassthroughHacks, soft hacks.SoftSatFlags) *State {
	return &State{Hacks: h, Soft: soft, writeCacheEnabled: true}
}

// WriteCacheEnabled reports the WCE bit MODE SENSE page 08h should show.
func (s *State) WriteCacheEnabled() bool {
	return s.writeCacheEnabled
}

// SetWriteCacheEnabled records a MODE SELECT Caching page's WCE bit.
func (s *State) SetWriteCacheEnabled(v bool) {
	s.writeCacheEnabled = v
}

// ReadLookAheadDisabled reports the DRA bit MODE SENSE page 08h should show.
func (s *State) ReadLookAheadDisabled() bool {
	return s.readLookAheadDisabled
}

// SetReadLookAheadDisabled records a MODE SELECT Caching page's DRA bit.
func (s *State) SetReadLookAheadDisabled(v bool) {
	s.readLookAheadDisabled = v
}

// Identify returns the cached IDENTIFY DEVICE page and whether it has ever
// been populated.
func (s *State) Identify() ([512]byte, bool) {
	return s.identify, s.identifyCached
}

// SetIdentify caches a freshly read IDENTIFY DEVICE page.
func (s *State) SetIdentify(page [512]byte) {
	s.identify = page
	s.identifyCached = true
}

// LastRtfr returns the RTFRs from the most recently completed command, and
// whether any command has completed yet.
func (s *State) LastRtfr() (ataregs.ReturnTfrs, bool) {
	return s.lastRtfr, s.lastRtfrSet
}

// AtaSense returns the most recently recovered ATA sense key/ASC/ASCQ, and
// whether REQUEST SENSE DATA EXT has ever populated it.
func (s *State) AtaSense() (AtaSenseTriple, bool) {
	return s.ataSense, s.ataSenseSet
}

// SetAtaSense records a freshly recovered ATA sense triple.
func (s *State) SetAtaSense(t AtaSenseTriple) {
	s.ataSense = t
	s.ataSenseSet = true
}

// RecordResult appends a command/RTFR pair to the history ring and updates
// the last-RTFRs cache.
func (s *State) RecordResult(r PassthroughResult) {
	s.lastRtfr = r.Rtfr
	s.lastRtfrSet = true
	s.ring[s.ringNext] = r
	s.ringNext = (s.ringNext + 1) % historyDepth
	if s.ringLen < historyDepth {
		s.ringLen++
	}
}

// History returns the recorded results, oldest first, capped at historyDepth.
func (s *State) History() []PassthroughResult {
	out := make([]PassthroughResult, s.ringLen)
	start := (s.ringNext - s.ringLen + historyDepth) % historyDepth
	for i := 0; i < s.ringLen; i++ {
		out[i] = s.ring[(start+i)%historyDepth]
	}
	return out
}

// DriveModel returns the ASCII model string from the cached IDENTIFY page
// (words 27-46, swapped byte order per ATA-8), or "" if nothing is cached.
func (s *State) DriveModel() string {
	page, ok := s.Identify()
	if !ok {
		return ""
	}
	return ataWordString(page[54:94])
}

// DriveSerial returns the ASCII serial number string from the cached
// IDENTIFY page (words 10-19).
func (s *State) DriveSerial() string {
	page, ok := s.Identify()
	if !ok {
		return ""
	}
	return ataWordString(page[20:40])
}

// DriveFirmware returns the ASCII firmware revision string from the cached
// IDENTIFY page (words 23-26).
func (s *State) DriveFirmware() string {
	page, ok := s.Identify()
	if !ok {
		return ""
	}
	return ataWordString(page[46:54])
}

// ataWordString un-swaps the byte-pair-swapped ASCII fields IDENTIFY DEVICE
// uses for strings and trims trailing padding.
func ataWordString(b []byte) string {
	out := make([]byte, len(b))
	for i := 0; i+1 < len(b); i += 2 {
		out[i], out[i+1] = b[i+1], b[i]
	}
	i := len(out)
	for i > 0 && (out[i-1] == ' ' || out[i-1] == 0) {
		i--
	}
	return string(out[:i])
}
