// Package rtfr recovers ATA Return Task File Registers from whatever the
// transport handed back - a parsed status descriptor, descriptor-format
// sense, fixed-format sense, or nothing useful at all - implementing the
// decision tree in spec.md §4.2.
package rtfr

import (
	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
)

// Outcome is the result of an extraction attempt.
type Outcome int

const (
	Success Outcome = iota
	WarnIncomplete
	Failure
	BadParameter
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case WarnIncomplete:
		return "WarnIncompleteRtfrs"
	case Failure:
		return "Failure"
	case BadParameter:
		return "BadParameter"
	default:
		return "Unknown"
	}
}

// ATA Status Return Descriptor identifiers (spec.md §6).
const (
	DescCodeAtaStatusReturn = 0x09
	DescLenAtaStatusReturn  = 0x0C
)

// Result bundles the recovered registers with what follow-up, if any, the
// caller (PassthroughDispatcher) should attempt next.
type Result struct {
	Rtfr    ataregs.ReturnTfrs
	Outcome Outcome

	// NeedLogSenseParam is set when a nonzero results-log-page index was
	// present in fixed-format sense but the registers are still incomplete;
	// the caller should issue LOG SENSE page 0x16 at this parameter index.
	NeedLogSenseParam int
	// NeedReturnResponseInfo requests a follow-up ATA PASS-THROUGH with
	// protocol=ReturnInfo.
	NeedReturnResponseInfo bool
	// NeedRequestSense requests a plain descriptor-format REQUEST SENSE retry.
	NeedRequestSense bool

	// DmaRetry flags the ILLEGAL_REQUEST/24/00-on-UDMA heuristic from
	// spec.md §4.2 step 4, consumed by PassthroughDispatcher.
	DmaRetry bool

	// CheckConditionEmpty should be fed back into hacks.PassthroughHacks so
	// the next call retries more aggressively, per spec.md §4.2 invariants.
	CheckConditionEmpty bool
}

// ParsedDescriptor is what a transport's own sense-parser produced, when it
// already recognizes the ATA Status Return Descriptor (spec.md §4.2 step 1).
type ParsedDescriptor struct {
	Valid  bool
	Extend bool
	Error  byte
	Status byte
	Device byte

	Count, CountExt          byte
	LbaLow, LbaLowExt        byte
	LbaMid, LbaMidExt        byte
	LbaHi, LbaHiExt          byte
}

// Input is everything RtfrExtractor needs to run the decision tree.
type Input struct {
	Parsed ParsedDescriptor

	// SenseBuffer is the raw sense buffer returned by the transport, used
	// when Parsed.Valid is false.
	SenseBuffer []byte

	// CommandShouldProduceRtfrs reports whether the issued command is one
	// that is supposed to yield meaningful RTFRs (spec.md §4.2 step 4/5).
	CommandShouldProduceRtfrs bool
	// Protocol is the protocol the command was issued with, needed to tell
	// PIO-in / FPDMA "no RTFRs on success" apart from other protocols.
	Protocol ataregs.Protocol

	Hacks hacks.PassthroughHacks
}

// descriptorFromFixed decodes the "ATA pass-through information available"
// fixed-format sense layout (spec.md §4.2 step 3).
func descriptorFromFixed(sense []byte) (ParsedDescriptor, int, bool) {
	var d ParsedDescriptor
	if len(sense) < 14 {
		return d, 0, false
	}
	d.Error = sense[3]
	d.Status = sense[4]
	d.Device = sense[5]
	d.Count = sense[6]
	d.LbaHi = sense[9]
	d.LbaMid = sense[10]
	d.LbaLow = sense[11]

	b8 := sense[8]
	d.Extend = b8&0x80 != 0
	countExtNonzero := b8&0x40 != 0
	lbaExtNonzero := b8&0x20 != 0
	logIndex := int(b8 & 0x0f)

	if countExtNonzero {
		d.CountExt = 0xFF
	}
	if lbaExtNonzero {
		d.LbaLowExt, d.LbaMidExt, d.LbaHiExt = 0xFF, 0xFF, 0xFF
	}

	d.Valid = true
	return d, logIndex, countExtNonzero || lbaExtNonzero
}

// descriptorFromEmbedded looks for a non-standard embedded ATA Status
// Return Descriptor at offset 18 of a fixed-format sense buffer, observed on
// some SATLs per spec.md §4.2 step 3.
func descriptorFromEmbedded(sense []byte) (ParsedDescriptor, bool) {
	var d ParsedDescriptor
	if len(sense) < 18+2+DescLenAtaStatusReturn {
		return d, false
	}
	if sense[18] != DescCodeAtaStatusReturn || sense[19] != DescLenAtaStatusReturn {
		return d, false
	}
	return decodeStatusReturnDescriptor(sense[18:]), true
}

// decodeStatusReturnDescriptor decodes a 14-byte ATA Status Return
// Descriptor (code 0x09, additional length 0x0C) starting at off[0].
func decodeStatusReturnDescriptor(b []byte) ParsedDescriptor {
	var d ParsedDescriptor
	if len(b) < 14 {
		return d
	}
	d.Extend = b[2]&0x01 != 0
	d.Error = b[3]
	d.CountExt = b[4]
	d.Count = b[5]
	d.LbaLowExt = b[6]
	d.LbaLow = b[7]
	d.LbaMidExt = b[8]
	d.LbaMid = b[9]
	d.LbaHiExt = b[10]
	d.LbaHi = b[11]
	d.Device = b[12]
	d.Status = b[13]
	d.Valid = true
	return d
}

// DecodeAtaStatusReturnDescriptor exposes decodeStatusReturnDescriptor for
// callers outside this package (PassthroughDispatcher's LOG SENSE-page
// follow-up, which recovers RTFRs from the ATA Passthrough Results log
// rather than from sense data).
func DecodeAtaStatusReturnDescriptor(b []byte) ParsedDescriptor {
	return decodeStatusReturnDescriptor(b)
}

func descriptorFromDescriptorSense(sense []byte) (ParsedDescriptor, bool) {
	var d ParsedDescriptor
	if len(sense) < 8 {
		return d, false
	}
	additionalLen := int(sense[7])
	end := 8 + additionalLen
	if end > len(sense) {
		end = len(sense)
	}
	for off := 8; off+2 <= end; {
		code := sense[off]
		dlen := int(sense[off+1])
		if off+2+dlen > len(sense) {
			break
		}
		if code == DescCodeAtaStatusReturn && dlen == DescLenAtaStatusReturn {
			return decodeStatusReturnDescriptor(sense[off:]), true
		}
		off += 2 + dlen
	}
	return d, false
}

func toRtfr(d ParsedDescriptor) ataregs.ReturnTfrs {
	return ataregs.ReturnTfrs{
		Status: d.Status, Error: d.Error,
		Count: d.Count, CountExt: d.CountExt,
		LbaLow: d.LbaLow, LbaMid: d.LbaMid, LbaHi: d.LbaHi,
		LbaLowExt: d.LbaLowExt, LbaMidExt: d.LbaMidExt, LbaHiExt: d.LbaHiExt,
		Device: d.Device, Extend: d.Extend,
	}
}

// senseKeyAscAscq pulls the SCSI sense key / ASC / ASCQ out of either sense
// format, used by the synthetic-RTFR fallback in spec.md §4.2 step 4.
func senseKeyAscAscq(sense []byte) (key, asc, ascq byte, ok bool) {
	if len(sense) < 3 {
		return 0, 0, 0, false
	}
	switch sense[0] & 0x7f {
	case 0x70, 0x71:
		if len(sense) < 14 {
			return 0, 0, 0, false
		}
		return sense[2] & 0x0f, sense[12], sense[13], true
	case 0x72, 0x73:
		if len(sense) < 3 {
			return 0, 0, 0, false
		}
		return sense[1] & 0x0f, sense[2], sense[3], true
	default:
		return 0, 0, 0, false
	}
}

// Sense key constants mirrored from scsi package to avoid an import cycle
// with the top-level scsi package (kept deliberately small - just what the
// synthetic-RTFR table in spec.md §4.2 step 4 needs).
const (
	skNoSense        = 0x00
	skNotReady       = 0x02
	skMediumError    = 0x03
	skHardwareError  = 0x04
	skIllegalRequest = 0x05
	skUnitAttention  = 0x06
	skDataProtect    = 0x07
	skAbortedCommand = 0x0b
)

func synthesizeFromSenseTriple(key, asc, ascq byte) (ataregs.ReturnTfrs, bool, bool) {
	// Returns (rtfr, dmaRetry, matched).
	switch {
	case key == skNotReady && asc == 0x3A && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: 0x10 | ataregs.StatusErr, Error: ataregs.ErrorNm}, false, true // seek complete | error
	case key == skMediumError && asc == 0x11 && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorUnc}, false, true
	case key == skHardwareError && asc == 0x44 && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: ataregs.StatusDf}, false, true
	case key == skIllegalRequest && asc == 0x21 && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorIdnf}, false, true
	case key == skAbortedCommand && asc == 0x47 && ascq == 0x03:
		return ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorIcrc}, false, true
	case key == skDataProtect && asc == 0x27 && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: ataregs.StatusDrdy}, false, true // write-protected, no dedicated status bit
	case key == skUnitAttention && asc == 0x28 && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: ataregs.StatusDrdy, Error: ataregs.ErrorMc}, false, true
	case key == skNoSense:
		return ataregs.ReturnTfrs{Status: ataregs.StatusDrdy}, false, true
	case key == skIllegalRequest && asc == 0x24 && ascq == 0x00:
		return ataregs.ReturnTfrs{Status: ataregs.StatusErr}, true, true
	default:
		return ataregs.ReturnTfrs{}, false, false
	}
}

// Extract runs the full decision tree of spec.md §4.2.
func Extract(in Input) Result {
	if in.Parsed.Valid {
		d := in.Parsed
		if in.Hacks.ReturnResponseIgnoreExtendBit {
			d.Extend = true
		}
		return finish(toRtfr(d), in)
	}

	sense := in.SenseBuffer
	if len(sense) > 0 {
		switch sense[0] & 0x7f {
		case 0x72, 0x73:
			if d, ok := descriptorFromDescriptorSense(sense); ok {
				return finish(toRtfr(d), in)
			}
		case 0x70, 0x71:
			if len(sense) >= 14 && sense[12] == 0x00 && sense[13] == 0x1D {
				d, logIndex, incomplete := descriptorFromFixed(sense)
				if ed, ok := descriptorFromEmbedded(sense); ok {
					d.LbaLowExt, d.LbaMidExt, d.LbaHiExt, d.CountExt = ed.LbaLowExt, ed.LbaMidExt, ed.LbaHiExt, ed.CountExt
					d.Extend = true
					incomplete = false
				}
				r := toRtfr(d)
				if incomplete {
					res := Result{Rtfr: r, Outcome: WarnIncomplete}
					if logIndex != 0 {
						res.NeedLogSenseParam = logIndex - 1
					} else if in.Hacks.ReturnResponseInfoSupported {
						res.NeedReturnResponseInfo = true
					} else {
						res.NeedRequestSense = true
					}
					return res
				}
				return finish(r, in)
			}
		}
	}

	// No ATA-pass-through information available; translate sense key/asc/ascq.
	if key, asc, ascq, ok := senseKeyAscAscq(sense); ok {
		if r, dmaRetry, matched := synthesizeFromSenseTriple(key, asc, ascq); matched {
			res := finish(r, in)
			res.DmaRetry = dmaRetry
			return res
		}
	}

	// Special case: PIO-in / FP-DMA success with nothing else to go on.
	if in.Protocol == ataregs.ProtoPioIn || in.Protocol == ataregs.ProtoDmaFpdma {
		return finish(ataregs.ReturnTfrs{Status: ataregs.StatusDrdy}, in)
	}

	if in.Hacks.NoRtfrsPossible {
		return Result{Outcome: WarnIncomplete}
	}

	return Result{Outcome: Failure}
}

// finish applies the zero/incomplete-status invariant from spec.md §4.2:
// status==0, or (status&ERROR && error==0), on a command that should
// produce RTFRs degrades to WarnIncomplete and requests CheckConditionEmpty
// for the next attempt, rather than silently reporting Success.
func finish(r ataregs.ReturnTfrs, in Input) Result {
	if r.IsBusy() {
		return Result{Rtfr: r, Outcome: WarnIncomplete}
	}
	if in.CommandShouldProduceRtfrs {
		if r.Status == 0 || (r.Status&ataregs.StatusErr != 0 && r.Error == 0) {
			return Result{Rtfr: r, Outcome: WarnIncomplete, CheckConditionEmpty: true}
		}
	}
	if r.Status&ataregs.StatusDf != 0 {
		return Result{Rtfr: r, Outcome: Failure}
	}
	if r.Status&ataregs.StatusErr != 0 {
		return Result{Rtfr: r, Outcome: Failure}
	}
	return Result{Rtfr: r, Outcome: Success}
}
