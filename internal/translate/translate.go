// Package translate implements ScsiTranslator: the software SATL path that
// turns a generic SCSI CDB (SPC-5/SBC-4/ZBC-2, not an ATA Pass-Through CDB -
// those go straight through internal/cdb and internal/dispatch) into one or
// more ATA commands, and synthesizes the SCSI response, per spec.md §4.5.
package translate

import (
	"io"
	"time"

	"github.com/prometheus/common/log"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/sense"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// Ctx is the transport-agnostic command context ScsiTranslator consumes -
// the CDB bytes plus an io.ReadWriter over the command's data buffer, the
// same Read/Write contract SCSICmd already implements, so satl_handler.go
// can hand a *SCSICmd straight in without an adapter type.
type Ctx struct {
	Cdb  []byte
	Data io.ReadWriter
}

// Result is what every sub-translator returns: a SAM status byte and,
// for anything but SamStatGood, a conformant sense buffer.
type Result struct {
	Status byte
	Sense  []byte
}

// Translator is ScsiTranslator. One Translator is bound to one open ATA
// device handle for its lifetime (spec.md §5's single-threaded contract).
type Translator struct {
	Dispatch *dispatch.Dispatcher
	State    *device.State

	// Naa is the pre-assembled "naa.<hex>" SCSI Name String this LUN reports
	// in VPD 83h, supplied by the caller (cmd/satl-tcmu derives it from
	// SCSIHandler.WWN the way the teacher's NaaWWN.DeviceID already does).
	Naa string
}

// senseFormat picks descriptor vs fixed format per the drive's own
// discovered preference (spec.md §4.4), absent an explicit MODE SELECT
// Control page override - Control page DESC bit handling is left to a
// future mode page addition; PreferDescriptorSense is the only input today.
func (t *Translator) senseFormat() sense.Format {
	if t.State.Soft.PreferDescriptorSense {
		return sense.Descriptor
	}
	return sense.Fixed
}

func ok() Result {
	return Result{Status: scsi.SamStatGood}
}

func (t *Translator) checkCondition(key, asc, ascq byte, descs ...sense.SenseDescriptor) Result {
	return Result{
		Status: scsi.SamStatCheckCondition,
		Sense:  sense.FromTriple(key, asc, ascq, t.senseFormat(), descs...),
	}
}

// invalidField reports ILLEGAL_REQUEST/24/00 with an invalid_field SKS
// descriptor, the universal response to a reserved-bit or parameter
// violation caught before anything reaches the drive (spec.md §4.6).
func (t *Translator) invalidField(fieldPtr uint16, bitPtr uint8, bpv bool) Result {
	return t.checkCondition(scsi.SenseIllegalRequest, 0x24, 0x00,
		sense.InvalidField(false, bpv, bitPtr, fieldPtr))
}

func (t *Translator) invalidParameterField(fieldPtr uint16, bitPtr uint8, bpv bool) Result {
	return t.checkCondition(scsi.SenseIllegalRequest, 0x26, 0x00,
		sense.InvalidField(true, bpv, bitPtr, fieldPtr))
}

func (t *Translator) notHandled() Result {
	return t.checkCondition(scsi.SenseIllegalRequest, 0x20, 0x00)
}

// fieldCheck is one entry of the ordered reserved-bit validation table
// spec.md §9 calls for in place of the source's assignment-inside-condition
// idiom: walked once, in order, the first predicate that reports true
// identifies the exact (field, bit) the SKS descriptor should carry.
type fieldCheck struct {
	field     uint16
	bit       uint8
	violation func(cdb []byte) bool
}

// validateReserved walks checks in order and returns the first violation
// found, or ok=true if none fired.
func validateReserved(cdb []byte, checks []fieldCheck) (field uint16, bit uint8, violated bool) {
	for _, c := range checks {
		if c.violation(cdb) {
			return c.field, c.bit, true
		}
	}
	return 0, 0, false
}

func reservedBitClear(cdb []byte, byteOffset int, mask byte) func([]byte) bool {
	return func(cdb []byte) bool {
		return int(byteOffset) < len(cdb) && cdb[byteOffset]&mask != 0
	}
}

// defaultTimeout is handed to the dispatcher when a sub-translator has no
// opinion of its own; Dispatch.Dispatch still floors it at 15s.
const defaultTimeout = 30 * time.Second

// issue drives one ATA command through the dispatcher and folds the
// resulting FinalOutcome into a Result, the shared tail end of every
// sub-translator that talks to the drive.
func (t *Translator) issue(cmd *ataregs.Command, buf []byte) (dispatch.Response, Result) {
	resp := t.Dispatch.Dispatch(cmd, buf, defaultTimeout)
	return resp, t.fromOutcome(resp)
}

func (t *Translator) fromOutcome(resp dispatch.Response) Result {
	switch resp.Outcome {
	case dispatch.Success:
		return ok()
	case dispatch.InProgress:
		return t.checkCondition(scsi.SenseNotReady, 0x04, 0x00)
	case dispatch.Aborted, dispatch.Failure:
		return Result{Status: scsi.SamStatCheckCondition, Sense: sense.FromRtfrs(resp.Rtfr, t.senseFormat())}
	case dispatch.OsPassthroughFailure:
		return t.checkCondition(scsi.SenseHardwareError, 0x44, 0x00)
	case dispatch.OsCommandNotAvailable:
		return t.checkCondition(scsi.SenseIllegalRequest, 0x20, 0x00)
	case dispatch.OsCommandTimeout:
		return t.checkCondition(scsi.SenseAbortedCommand, 0x00, 0x00)
	default:
		return t.checkCondition(scsi.SenseHardwareError, 0x44, 0x00)
	}
}

// validateLength checks the CDB the caller actually sent against the length
// SCSICmd.CdbLen derives from the opcode (spec.md §5's supplemented "never
// let a too-short CDB reach a sub-translator").
func validateLength(cdb []byte) bool {
	op := cdb[0]
	want := 6
	switch {
	case op == 0x7f:
		want = int(cdb[7]) + 8
	case op >= 0x80 && op <= 0x9f:
		want = 16
	case op >= 0xa0 && op <= 0xbf:
		want = 12
	case op >= 0x60 && op <= 0x7e:
		return false
	case op > 0x1f && op <= 0x5f:
		want = 10
	}
	return len(cdb) >= want
}

// Translate is the sole entry point, implementing spec.md §6's
// translate_scsi(device, ctx) -> Result callable.
func (t *Translator) Translate(ctx Ctx) Result {
	if len(ctx.Cdb) == 0 {
		return t.invalidField(0, 0, false)
	}
	if !validateLength(ctx.Cdb) {
		return t.invalidField(0, 0, false)
	}

	op := ctx.Cdb[0]
	switch op {
	case scsi.TestUnitReady:
		return t.testUnitReady(ctx)
	case scsi.RequestSense:
		return t.requestSense(ctx)
	case scsi.Inquiry:
		return t.inquiry(ctx)
	case scsi.ReadCapacity:
		return t.readCapacity10(ctx)
	case scsi.Read6, scsi.Read10, scsi.Read12, scsi.Read16:
		return t.read(ctx, op)
	case scsi.Write6, scsi.Write10, scsi.Write12, scsi.Write16:
		return t.write(ctx, op)
	case scsi.Verify, scsi.Verify12, scsi.Verify16:
		return t.verify(ctx, op)
	case scsi.WriteSame, scsi.WriteSame16:
		return t.writeSame(ctx, op)
	case scsi.Unmap:
		return t.unmap(ctx)
	case scsi.SynchronizeCache, scsi.SynchronizeCache16:
		return t.synchronizeCache(ctx, op)
	case scsi.FormatUnit:
		return t.formatUnit(ctx)
	case scsi.ReassignBlocks:
		return t.reassignBlocks(ctx)
	case scsi.ModeSense, scsi.ModeSense10:
		return t.modeSense(ctx, op)
	case scsi.ModeSelect, scsi.ModeSelect10:
		return t.modeSelect(ctx, op)
	case scsi.LogSense:
		return t.logSense(ctx)
	case scsi.LogSelect:
		return t.logSelect(ctx)
	case scsi.StartStop:
		return t.startStopUnit(ctx)
	case scsi.Sanitize:
		return t.sanitize(ctx)
	case scsi.SecurityProtocolIn:
		return t.securityProtocolIn(ctx)
	case scsi.SecurityProtocolOut:
		return t.securityProtocolOut(ctx)
	case scsi.WriteBuffer:
		return t.writeBuffer(ctx)
	case scsi.ReadBuffer:
		return t.readBuffer(ctx)
	case scsi.ServiceActionIn16:
		return t.serviceActionIn16(ctx)
	case scsi.ZoneManagementIn:
		return t.reportZones(ctx)
	case scsi.ZoneManagementOut:
		return t.zoneManagementOut(ctx)
	case scsi.ReportLuns:
		return t.reportLuns(ctx)
	case scsi.MaintenanceIn:
		return t.maintenanceIn(ctx)
	case scsi.MaintenanceOut:
		return t.maintenanceOut(ctx)
	default:
		log.Debugf("satl: unhandled SCSI opcode 0x%x", op)
		return t.notHandled()
	}
}
