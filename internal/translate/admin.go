package translate

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/sense"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// ataSecurityProtocol is SAT-4's reserved SECURITY PROTOCOL value for
// native ATA Security, translated to the dedicated ATA Security commands
// instead of TRUSTED SEND/RECEIVE (spec.md §4.5's "SECURITY PROTOCOL IN/OUT" note).
const ataSecurityProtocol = 0xEF

func (t *Translator) startStopUnit(ctx Ctx) Result {
	cdb := ctx.Cdb
	powerCondition := cdb[4] >> 4
	start := cdb[4]&0x01 != 0

	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	switch {
	case powerCondition == 0x02: // idle
		cmd.Tfr.Command = ataregs.AtaIdleImmediate
	case powerCondition == 0x03: // standby
		cmd.Tfr.Command = ataregs.AtaStandbyImmediate
	case !start:
		cmd.Tfr.Command = ataregs.AtaStandbyImmediate
	default:
		cmd.Tfr.Command = ataregs.AtaIdleImmediate
	}
	_, res := t.issue(&cmd, nil)
	return res
}

// sanitizeSubfunction builds the SANITIZE DEVICE command for one
// sub-function, setting the failure-mode bit the caller asked for.
func (t *Translator) sanitizeSubfunction(subfunction uint16, failureMode bool, pattern []byte) (dispatch.Response, Result) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaSanitizeDevice
	cmd.Tfr.SetLba48(uint64(subfunction))
	if failureMode {
		cmd.Tfr.Feature |= 0x10
	}
	if pattern != nil {
		cmd.Protocol = ataregs.ProtoDma
		cmd.Direction = ataregs.DirOut
		cmd.TransferLength = ataregs.TLengthSectorCount
		cmd.Tfr.SectorCount = 1
	}
	return t.issue(&cmd, pattern)
}

// sanitizeStatus polls SANITIZE STATUS, used both to answer an explicit
// OVERWRITE/BLOCK ERASE/CRYPTO SCRAMBLE with immediate=0 and by any caller
// wanting the raw progress/failure signal.
func (t *Translator) sanitizeStatus() (inProgress bool, failed bool, progress uint16) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaSanitizeDevice
	cmd.Tfr.SetLba48(uint64(ataregs.SanitizeStatus))
	resp, _ := t.issue(&cmd, nil)
	r := resp.Rtfr
	progress = uint16(r.LbaMid)<<8 | uint16(r.LbaLow)
	inProgress = r.Device&0x08 != 0
	failed = r.LbaHi&0x01 != 0
	return inProgress, failed, progress
}

// sanitize implements spec.md §4.5's SANITIZE note: map the service action
// to an ATA sanitize sub-function and report whatever SANITIZE STATUS shows
// right away, rather than blocking the request loop until completion -
// spec.md §4.6 has an in-progress operation reported as NOT_READY/04/1B
// with a Progress SKS descriptor, which only a later SANITIZE/TEST UNIT
// READY/REQUEST SENSE call can observe changing.
func (t *Translator) sanitize(ctx Ctx) Result {
	cdb := ctx.Cdb
	serviceAction := cdb[1] & 0x1f
	immediate := cdb[1]&0x80 != 0
	failureMode := cdb[1]&0x20 != 0 // AUSE, reused as the ATA failure-mode bit

	var subfunction uint16
	var pattern []byte
	switch serviceAction {
	case scsi.SaSanitizeOverwrite:
		subfunction = ataregs.SanitizeOverwrite
		allocLen := cdbAllocLen(cdb)
		pattern = make([]byte, 512)
		if allocLen > 0 {
			buf := make([]byte, allocLen)
			ctx.Data.Read(buf)
			copy(pattern, buf)
		}
	case scsi.SaSanitizeBlockErase:
		subfunction = ataregs.SanitizeBlockErase
	case scsi.SaSanitizeCryptoErase:
		subfunction = ataregs.SanitizeCryptoScramble
	case scsi.SaSanitizeExitFailureMode:
		subfunction = ataregs.SanitizeExitFailureMode
	default:
		return t.invalidField(1, 4, true)
	}

	resp, res := t.sanitizeSubfunction(subfunction, failureMode, pattern)
	if resp.Outcome != dispatch.Success {
		return res
	}
	if immediate {
		return ok()
	}

	inProgress, failed, progress := t.sanitizeStatus()
	if failed {
		return t.checkCondition(scsi.SenseMediumError, 0x31, 0x03)
	}
	if inProgress {
		return t.checkCondition(scsi.SenseNotReady, 0x04, 0x1B, sense.Progress(progress))
	}
	return ok()
}

// securityProtocolOut implements spec.md §4.5's note: protocol 0xEF (ATA
// Security) maps to the dedicated Set Password/Unlock/Erase
// Prepare/Erase Unit/Freeze Lock/Disable Password commands by SP-specific
// value; every other protocol goes through TRUSTED SEND.
func (t *Translator) securityProtocolOut(ctx Ctx) Result {
	cdb := ctx.Cdb
	protocol := cdb[1]
	spSpecific := binary.BigEndian.Uint16(cdb[2:4])
	transferLen := binary.BigEndian.Uint32(cdb[6:10])
	buf := make([]byte, transferLen)
	ctx.Data.Read(buf)

	if protocol != ataSecurityProtocol {
		return t.trustedSend(protocol, spSpecific, buf)
	}

	var command byte
	switch spSpecific {
	case 0x0001:
		command = ataregs.AtaSecuritySetPassword
	case 0x0002:
		command = ataregs.AtaSecurityUnlock
	case 0x0003:
		command = ataregs.AtaSecurityErasePrepare
	case 0x0004:
		command = ataregs.AtaSecurityEraseUnit
	case 0x0005:
		command = ataregs.AtaSecurityFreezeLock
	case 0x0006:
		command = ataregs.AtaSecurityDisablePassword
	default:
		return t.invalidField(2, 0, false)
	}

	cmd := ataregs.Command{Shape: ataregs.Taskfile28, NeedRtfrs: true, Hacks: t.State.Hacks}
	cmd.Tfr.Command = command
	var payload []byte
	if command != ataregs.AtaSecurityFreezeLock && command != ataregs.AtaSecurityErasePrepare {
		cmd.Protocol = ataregs.ProtoPioOut
		cmd.Direction = ataregs.DirOut
		cmd.TransferLength = ataregs.TLengthSectorCount
		cmd.Tfr.SectorCount = 1
		payload = make([]byte, 512)
		copy(payload, buf)
	} else {
		cmd.Protocol = ataregs.ProtoNoData
		cmd.Direction = ataregs.DirNone
	}
	_, res := t.issue(&cmd, payload)
	return res
}

func (t *Translator) trustedSend(protocol byte, spSpecific uint16, buf []byte) Result {
	blocks := (len(buf) + 511) / 512
	padded := make([]byte, blocks*512)
	copy(padded, buf)
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoDma, Direction: ataregs.DirOut,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaTrustedSendDma
	cmd.Tfr.Feature = protocol
	cmd.Tfr.LbaLow = byte(spSpecific >> 8)
	cmd.Tfr.LbaMid = byte(spSpecific)
	cmd.Tfr.SectorCount = byte(blocks)
	_, res := t.issue(&cmd, padded)
	return res
}

// securityProtocolIn mirrors securityProtocolOut's dispatch, reading back
// via TRUSTED RECEIVE for every protocol but the supported-protocol-list
// query (0x00), which must always advertise 0xEF (ATA Security) even when
// the drive itself never reports it, per spec.md §4.5.
func (t *Translator) securityProtocolIn(ctx Ctx) Result {
	cdb := ctx.Cdb
	protocol := cdb[1]
	spSpecific := binary.BigEndian.Uint16(cdb[2:4])
	allocLen := binary.BigEndian.Uint32(cdb[6:10])

	if protocol == 0x00 {
		return t.securityProtocolList(ctx, allocLen)
	}

	blocks := (int(allocLen) + 511) / 512
	if blocks == 0 {
		blocks = 1
	}
	buf := make([]byte, blocks*512)
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaTrustedReceiveDma
	cmd.Tfr.Feature = protocol
	cmd.Tfr.LbaLow = byte(spSpecific >> 8)
	cmd.Tfr.LbaMid = byte(spSpecific)
	cmd.Tfr.SectorCount = byte(blocks)
	resp, res := t.issue(&cmd, buf)
	if resp.Outcome != dispatch.Success {
		return res
	}

	if protocol == 0x01 && spSpecific == 0x0000 {
		swapSecurityComplianceEndian(buf)
	}
	ctx.Data.Write(truncate(int(allocLen), buf))
	return ok()
}

// securityProtocolList always appends 0xEF to the protocol list the drive
// itself reports, so ATA Security is discoverable regardless of whether
// the drive natively advertises it under TRUSTED RECEIVE protocol 0.
func (t *Translator) securityProtocolList(ctx Ctx, allocLen uint32) Result {
	buf := make([]byte, 512)
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaTrustedReceiveDma
	cmd.Tfr.SectorCount = 1
	resp, _ := t.issue(&cmd, buf)
	reported := []byte{}
	if resp.Outcome == dispatch.Success {
		n := int(binary.BigEndian.Uint16(buf[6:8]))
		if n <= len(buf)-8 {
			reported = buf[8 : 8+n]
		}
	}

	haveEf := false
	for _, p := range reported {
		if p == ataSecurityProtocol {
			haveEf = true
		}
	}
	list := append([]byte{}, reported...)
	if !haveEf {
		list = append(list, ataSecurityProtocol)
	}

	out := make([]byte, 8+len(list))
	binary.BigEndian.PutUint16(out[6:8], uint16(len(list)))
	copy(out[8:], list)
	ctx.Data.Write(truncate(int(allocLen), out))
	return ok()
}

// swapSecurityComplianceEndian byte-swaps the length and compliance
// descriptor fields (FIPS strings) TRUSTED RECEIVE protocol 1 page 0
// returns in ATA little-endian layout, into SCSI big-endian, per
// spec.md §4.5's "protocol 0, specific pages" note.
func swapSecurityComplianceEndian(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = buf[i+1], buf[i]
	}
}

// writeBuffer implements spec.md §4.5's mode table, validating the block
// count against Identify words 234/235 before issuing the matching ATA
// download/write command.
func (t *Translator) writeBuffer(ctx Ctx) Result {
	cdb := ctx.Cdb
	mode := cdb[1] & 0x1f
	bufferOffset := uint32(cdb[3])<<16 | uint32(cdb[4])<<8 | uint32(cdb[5])
	paramLen := uint32(cdb[6])<<16 | uint32(cdb[7])<<8 | uint32(cdb[8])
	buf := make([]byte, paramLen)
	ctx.Data.Read(buf)

	switch mode {
	case 0x02:
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut,
			TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = ataregs.AtaWriteBuffer
		cmd.Tfr.SectorCount = 1
		padded := make([]byte, 512)
		copy(padded, buf)
		_, res := t.issue(&cmd, padded)
		return res
	case 0x05, 0x07, 0x0d, 0x0e:
		deferred := mode == 0x0d || mode == 0x0e
		dlMode := byte(0x03) // offsets, save immediate
		if deferred {
			dlMode = 0x0e
		}
		if mode == 0x05 {
			dlMode = 0x07 // save immediate, full replace
		}
		blocks := uint16((len(buf) + 511) / 512)
		page, res := t.identifyPage()
		if res.Status != scsi.SamStatGood {
			return res
		}
		// Words 234/235: minimum/maximum block count; 0 and 0xFFFF mean not reported.
		if lo := identifyWord(page, 234); lo != 0 && lo != 0xFFFF && blocks < lo {
			return t.invalidField(6, 0, false)
		}
		if hi := identifyWord(page, 235); hi != 0 && hi != 0xFFFF && blocks > hi {
			return t.invalidField(6, 0, false)
		}
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoDma, Direction: ataregs.DirOut,
			TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = ataregs.AtaDownloadMicrocodeDma
		cmd.Tfr.Feature = dlMode
		cmd.Tfr.SectorCount = byte(blocks)
		cmd.Tfr.LbaLow = byte(bufferOffset)
		cmd.Tfr.LbaMid = byte(bufferOffset >> 8)
		_, res = t.issue(&cmd, buf)
		return res
	case 0x0f:
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
			NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = ataregs.AtaDownloadMicrocode
		cmd.Tfr.Feature = 0x0f
		_, res := t.issue(&cmd, nil)
		return res
	default:
		return t.invalidField(1, 4, true)
	}
}

// readBuffer implements spec.md §4.5's mode table for the read direction:
// 02/03 map to ATA READ BUFFER (PIO), mode 03 returning a fixed buffer
// descriptor; 1C (error history) reads the current Device Internal Status
// log only, not the saved one.
func (t *Translator) readBuffer(ctx Ctx) Result {
	cdb := ctx.Cdb
	mode := cdb[1] & 0x1f
	allocLen := uint32(cdb[6])<<16 | uint32(cdb[7])<<8 | uint32(cdb[8])

	switch mode {
	case 0x02, 0x03:
		buf := make([]byte, 512)
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
			TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = ataregs.AtaReadBuffer
		cmd.Tfr.SectorCount = 1
		resp, res := t.issue(&cmd, buf)
		if resp.Outcome != dispatch.Success {
			return res
		}
		if mode == 0x03 {
			descr := make([]byte, 4)
			descr[1], descr[2], descr[3] = 0x00, 0x02, 0x00
			ctx.Data.Write(truncate(int(allocLen), descr))
			return ok()
		}
		ctx.Data.Write(truncate(int(allocLen), buf))
		return ok()
	case 0x1c:
		logAddr := ataregs.AtaLogCurrentDeviceInternalStatus
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
			TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		blocks := uint16((allocLen + 511) / 512)
		if blocks == 0 {
			blocks = 1
		}
		cmd.Tfr.Command = ataregs.AtaReadLogDmaExt
		cmd.Tfr.Feature = byte(logAddr)
		cmd.Tfr.SectorCount = byte(blocks)
		buf := make([]byte, int(blocks)*512)
		resp, res := t.issue(&cmd, buf)
		if resp.Outcome != dispatch.Success {
			return res
		}
		ctx.Data.Write(truncate(int(allocLen), buf))
		return ok()
	default:
		return t.invalidField(1, 4, true)
	}
}

// maintenanceIn implements REPORT SUPPORTED OPCODES, per spec.md §4.5: a
// synthetic table of the opcodes this translator actually implements, with
// reporting options 0-3 selecting all-opcodes / one-opcode / one-service-
// -action / one-opcode-and-service-action queries.
func (t *Translator) maintenanceIn(ctx Ctx) Result {
	cdb := ctx.Cdb
	serviceAction := cdb[1] & 0x1f
	if serviceAction != scsi.MiReportSupportedOperationCodes {
		return t.invalidField(1, 4, true)
	}
	reportingOptions := cdb[2] & 0x07
	allocLen := binary.BigEndian.Uint32(cdb[6:10])

	switch reportingOptions {
	case 0x00:
		buf := supportedOpcodesTable()
		ctx.Data.Write(truncate(int(allocLen), buf))
		return ok()
	default:
		opcode := cdb[3]
		supported := isOpcodeSupported(opcode)
		buf := make([]byte, 4)
		if supported {
			buf[1] = 0x03 // supported, per current standard
		}
		ctx.Data.Write(truncate(int(allocLen), buf))
		return ok()
	}
}

var supportedOpcodeList = []byte{
	scsi.TestUnitReady, scsi.RequestSense, scsi.Inquiry, scsi.ReadCapacity,
	scsi.Read6, scsi.Read10, scsi.Read12, scsi.Read16,
	scsi.Write6, scsi.Write10, scsi.Write12, scsi.Write16,
	scsi.Verify, scsi.Verify12, scsi.Verify16,
	scsi.WriteSame, scsi.WriteSame16, scsi.Unmap,
	scsi.SynchronizeCache, scsi.SynchronizeCache16,
	scsi.FormatUnit, scsi.ReassignBlocks,
	scsi.ModeSense, scsi.ModeSense10, scsi.ModeSelect, scsi.ModeSelect10,
	scsi.LogSense, scsi.LogSelect, scsi.StartStop, scsi.Sanitize,
	scsi.SecurityProtocolIn, scsi.SecurityProtocolOut,
	scsi.WriteBuffer, scsi.ReadBuffer, scsi.ServiceActionIn16,
	scsi.ZoneManagementIn, scsi.ZoneManagementOut, scsi.ReportLuns,
	scsi.MaintenanceIn, scsi.MaintenanceOut,
}

func isOpcodeSupported(opcode byte) bool {
	for _, op := range supportedOpcodeList {
		if op == opcode {
			return true
		}
	}
	return false
}

func supportedOpcodesTable() []byte {
	buf := make([]byte, 4, 4+len(supportedOpcodeList)*8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(supportedOpcodeList)))
	for _, op := range supportedOpcodeList {
		entry := make([]byte, 8)
		entry[0] = op
		entry[5] = 0x03
		buf = append(buf, entry...)
	}
	return buf
}

// maintenanceOut implements SET TIMESTAMP: the 48-bit millisecond timestamp
// in parameter bytes 4-9 goes to ATA SET DATE & TIME EXT.
func (t *Translator) maintenanceOut(ctx Ctx) Result {
	cdb := ctx.Cdb
	if cdb[1]&0x1f != scsi.MoSetTimestamp {
		return t.invalidField(1, 4, true)
	}
	if binary.BigEndian.Uint32(cdb[6:10]) < 12 {
		return t.invalidField(6, 0, false)
	}
	param := make([]byte, 12)
	ctx.Data.Read(param)
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaSetDateAndTime
	cmd.Tfr.SetLba48(uint64(binary.BigEndian.Uint16(param[4:6]))<<32 | uint64(binary.BigEndian.Uint32(param[6:10])))
	_, res := t.issue(&cmd, nil)
	return res
}
