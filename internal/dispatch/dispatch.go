// Package dispatch implements PassthroughDispatcher: the state machine that
// turns one ataregs.Command into a classified result, driving the
// CdbBuilder → transport → RtfrExtractor pipeline and the follow-up
// recovery commands it sometimes takes, per spec.md §4.3.
package dispatch

import (
	"time"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/internal/rtfr"
	"github.com/Seagate/opensea-transport-sub000/internal/transport"
)

// FinalOutcome is the dispatcher's classification of a completed command,
// the thing ScsiTranslator actually branches on.
type FinalOutcome int

const (
	Success FinalOutcome = iota
	InProgress
	Aborted
	Failure
	OsPassthroughFailure
	OsCommandNotAvailable
	OsCommandTimeout
)

func (o FinalOutcome) String() string {
	switch o {
	case Success:
		return "Success"
	case InProgress:
		return "InProgress"
	case Aborted:
		return "Aborted"
	case Failure:
		return "Failure"
	case OsPassthroughFailure:
		return "OsPassthroughFailure"
	case OsCommandNotAvailable:
		return "OsCommandNotAvailable"
	case OsCommandTimeout:
		return "OsCommandTimeout"
	default:
		return "Unknown"
	}
}

// minTimeout is the floor spec.md §4.3 mandates regardless of caller or
// device defaults.
const minTimeout = 15 * time.Second

// Recorder observes one dispatched command, used to feed internal/metrics
// without dispatch importing it directly.
type Recorder interface {
	Observe(opcode byte, outcome FinalOutcome, dur time.Duration)
}

// Executor is the subset of *transport.Device the dispatcher drives. It
// exists so tests can substitute a fake transport without opening a real
// SG_IO handle.
type Executor interface {
	Execute(cmd *ataregs.Command, buf []byte, timeout time.Duration) (transport.Outcome, error)
	CheckPowerMode(h hacks.PassthroughHacks) (transport.Outcome, error)
	RequestSenseDataExt(h hacks.PassthroughHacks) (transport.Outcome, error)
	ReturnResponseInfo(h hacks.PassthroughHacks) (transport.Outcome, error)
	ReadPassthroughResultsLogEntry(paramIndex uint16, h hacks.PassthroughHacks) (transport.Outcome, error)
}

// Dispatcher wraps a transport handle and the per-device state it mutates.
type Dispatcher struct {
	Dev                  Executor
	State                *device.State
	DeviceDefaultTimeout time.Duration
	Metrics              Recorder
}

// Response is what Dispatch hands back to ScsiTranslator.
type Response struct {
	Rtfr       ataregs.ReturnTfrs
	Outcome    FinalOutcome
	DmaRetried bool
}

// Dispatch runs cmd through the full pipeline, including follow-up recovery
// and the Windows-IDE / sense-data-available / UDMA-retry post-processing
// from spec.md §4.3.
func (p *Dispatcher) Dispatch(cmd *ataregs.Command, buf []byte, callerTimeout time.Duration) Response {
	timeout := callerTimeout
	if p.DeviceDefaultTimeout > timeout {
		timeout = p.DeviceDefaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}

	start := time.Now()
	out, err := p.Dev.Execute(cmd, buf, timeout)
	elapsed := time.Since(start)

	resp := p.processOutcome(cmd, out, err, timeout)
	if elapsed > timeout {
		resp.Outcome = OsCommandTimeout
	}

	if p.Metrics != nil {
		p.Metrics.Observe(cmd.Tfr.Command, resp.Outcome, elapsed)
	}
	p.State.RecordResult(device.PassthroughResult{Command: *cmd, Rtfr: resp.Rtfr, Outcome: resp.Outcome.String()})
	return resp
}

// processOutcome runs the decision tree in spec.md §4.3's state-machine
// diagram: ExtractRtfrs → Classify, with the FollowupLog → FollowupRequestSense
// → FollowupReturnInfo chain in between when the first extraction came back
// incomplete.
func (p *Dispatcher) processOutcome(cmd *ataregs.Command, out transport.Outcome, err error, timeout time.Duration) Response {
	if err != nil && err != transport.ErrDriverSense {
		return Response{Outcome: OsPassthroughFailure}
	}

	res := out.Rtfr
	if res.Outcome == rtfr.WarnIncomplete && res.Rtfr.IsBusy() {
		return Response{Rtfr: res.Rtfr, Outcome: InProgress}
	}
	if res.Outcome == rtfr.WarnIncomplete {
		res = p.runFollowups(cmd, res, timeout)
	}
	if res.Outcome == rtfr.WarnIncomplete && res.Rtfr.IsBusy() {
		return Response{Rtfr: res.Rtfr, Outcome: InProgress}
	}

	if res.Outcome == rtfr.WarnIncomplete {
		// Nothing recovered the full registers; report what we have as a
		// best-effort failure rather than a false Success.
		return Response{Rtfr: res.Rtfr, Outcome: Failure}
	}

	p.maybeWindowsIdeFlush(cmd, res)
	p.maybeRecoverAtaSenseData(cmd, res.Rtfr)

	outcome := classifyFinal(res.Rtfr)

	if outcome == Aborted && res.DmaRetry && isUdma(cmd.Protocol) {
		if retried, ok := p.retryAsDma(cmd, timeout); ok {
			return retried
		}
	}

	return Response{Rtfr: res.Rtfr, Outcome: outcome}
}

// runFollowups implements the FollowupLog → FollowupRequestSense →
// FollowupReturnInfo chain from spec.md §4.3's state diagram.
func (p *Dispatcher) runFollowups(cmd *ataregs.Command, res rtfr.Result, timeout time.Duration) rtfr.Result {
	if res.NeedLogSenseParam != 0 {
		if out, err := p.Dev.ReadPassthroughResultsLogEntry(uint16(res.NeedLogSenseParam), cmd.Hacks); err == nil && len(out.Buf) >= 14 {
			d := rtfr.DecodeAtaStatusReturnDescriptor(out.Buf)
			return rtfr.Extract(rtfr.Input{
				Parsed: d, CommandShouldProduceRtfrs: cmd.NeedRtfrs,
				Protocol: cmd.Protocol, Hacks: cmd.Hacks,
			})
		}
	}
	if res.NeedRequestSense {
		if out, err := p.Dev.Execute(cmd, nil, timeout); err == nil || err == transport.ErrDriverSense {
			if out.Rtfr.Outcome != rtfr.WarnIncomplete {
				return out.Rtfr
			}
		}
	}
	if res.NeedReturnResponseInfo {
		if out, err := p.Dev.ReturnResponseInfo(cmd.Hacks); err == nil || err == transport.ErrDriverSense {
			return out.Rtfr
		}
	}
	return res
}

// maybeWindowsIdeFlush issues the dummy CHECK POWER MODE the Windows-IDE
// quirk needs after any failed non-CheckPowerMode command, to clear a stale
// status cache in the HBA (spec.md §4.3).
func (p *Dispatcher) maybeWindowsIdeFlush(cmd *ataregs.Command, res rtfr.Result) {
	if !cmd.Hacks.WindowsIde {
		return
	}
	if res.Outcome == rtfr.Success {
		return
	}
	if cmd.Tfr.Command == ataregs.AtaCheckPowerMode {
		return
	}
	p.Dev.CheckPowerMode(cmd.Hacks)
}

// maybeRecoverAtaSenseData issues ATA REQUEST SENSE DATA EXT when the
// returned status reports SENSE_DATA_AVAILABLE, caching the recovered
// key/ASC/ASCQ on the device handle (spec.md §4.3).
func (p *Dispatcher) maybeRecoverAtaSenseData(cmd *ataregs.Command, r ataregs.ReturnTfrs) {
	if r.Status&ataregs.StatusSenseDataAvail == 0 {
		return
	}
	out, err := p.Dev.RequestSenseDataExt(cmd.Hacks)
	if err != nil && err != transport.ErrDriverSense {
		return
	}
	p.State.SetAtaSense(device.AtaSenseTriple{
		Key:  out.Rtfr.Rtfr.LbaLow,
		Asc:  out.Rtfr.Rtfr.LbaMid,
		Ascq: out.Rtfr.Rtfr.LbaHi,
	})
}

// retryAsDma implements the one-shot UDMA→DMA retry: on success it sets
// SoftSatFlags.WantsDma, which the block translator reads when choosing how
// to honour FUA on writes.
func (p *Dispatcher) retryAsDma(cmd *ataregs.Command, timeout time.Duration) (Response, bool) {
	retry := *cmd
	retry.Protocol = ataregs.ProtoDma
	out, err := p.Dev.Execute(&retry, nil, timeout)
	if err != nil && err != transport.ErrDriverSense {
		return Response{}, false
	}
	if out.Rtfr.Outcome != rtfr.Success {
		return Response{}, false
	}
	p.State.Soft.WantsDma = true
	return Response{Rtfr: out.Rtfr.Rtfr, Outcome: Success, DmaRetried: true}, true
}

func isUdma(p ataregs.Protocol) bool {
	return p == ataregs.ProtoUdmaIn || p == ataregs.ProtoUdmaOut
}

// classifyFinal maps final (status, error) registers to a FinalOutcome per
// spec.md §4.3's "DEVICE_FAULT is fatal" rule.
func classifyFinal(r ataregs.ReturnTfrs) FinalOutcome {
	switch {
	case r.Status&ataregs.StatusDf != 0:
		return Failure
	case r.Status&ataregs.StatusBsy != 0:
		return InProgress
	case r.Status&ataregs.StatusErr != 0 && r.Error&ataregs.ErrorAbrt != 0:
		return Aborted
	case r.Status&ataregs.StatusErr != 0:
		return Failure
	default:
		return Success
	}
}
