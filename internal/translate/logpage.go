package translate

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// logSupportedPages are the page codes logPage recognizes, advertised via
// page 0x00 per spec.md §4.5's "LOG SENSE" note.
var logSupportedPages = []byte{0x00, 0x03, 0x0d, 0x0f, 0x10, 0x11, 0x15, 0x16, 0x19, 0x2f}

// logPage builds one LOG SENSE page's parameter data (not including the
// 4-byte page header LogSense prepends).
func (t *Translator) logPage(page byte) []byte {
	switch page {
	case 0x00:
		return logSupportedPages
	case 0x03:
		return t.logReadErrorCounters()
	case 0x0d:
		return t.logTemperature()
	case 0x0f:
		return t.logApplicationClient()
	case 0x10:
		return t.logSelfTestResults()
	case 0x11:
		return t.logSolidStateMedia()
	case 0x15:
		return t.logBackgroundScanResults()
	case 0x2f:
		return t.logInformationalExceptions()
	case 0x16:
		return t.logPassthroughResults()
	case 0x19:
		return t.logGeneralStatisticsAndPerformance()
	default:
		return nil
	}
}

// logTemperature reports the single mandatory Temperature log parameter
// (code 0x0000) with a temperature of 0; it reads no SMART data.
func (t *Translator) logTemperature() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0x00
	buf[2] = 0x01 // DU=0, TSD=0, format=1 (ASCII not used, raw binary)
	buf[3] = 0x02
	return append(buf, 0x00, 0x00) // temperature unknown without a SMART round-trip
}

// logReadErrorCounters reports SPC-4 log page 0x03's mandatory "total
// errors corrected" parameter (code 0x0005) as a 4-byte counter that always
// reads zero; it does not read the ATA Device Statistics Log.
func (t *Translator) logReadErrorCounters() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0x05
	buf[2] = 0x03 // DU=0, TSD=0, format=3 (binary list), no TMC/ETC
	buf[3] = 0x04
	return append(buf, 0x00, 0x00, 0x00, 0x00)
}

// logSolidStateMedia maps SPC-4 log page 0x11's mandatory "percentage used
// endurance indicator" parameter (code 0x0001) onto whatever the drive's
// wear-leveling data eventually reports; this module has no SMART
// attribute round-trip wired to a specific vendor attribute yet, so the
// indicator reads zero until one is.
func (t *Translator) logSolidStateMedia() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0x01
	buf[2] = 0x03
	buf[3] = 0x04
	return append(buf, 0x00, 0x00, 0x00, 0x00)
}

// logBackgroundScanResults reports SPC-4 log page 0x15's 4-byte status
// header only (scan not active, zero scans performed) - this module issues
// no background medium scan of its own, so no scan parameters follow.
func (t *Translator) logBackgroundScanResults() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0x00
	buf[2] = 0x03
	buf[3] = 0x00
	return buf
}

// logGeneralStatisticsAndPerformance reports SPC-4 log page 0x19's
// parameter 0x0001, the 64-byte counter block (read/write commands,
// blocks received/transmitted, processing intervals) - zero-filled until
// wired to the ATA Device Statistics Log's Rotating Media/General
// sub-pages, but shaped so a caller can parse it today.
func (t *Translator) logGeneralStatisticsAndPerformance() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0x01
	buf[2] = 0x03
	buf[3] = 0x40
	return append(buf, make([]byte, 0x40)...)
}

// logApplicationClient reports page 0x0F as a single 4-byte parameter header
// with no parameter data. It does not read ATA host-vendor logs 0x90-0x9F,
// and data sent with LOG SELECT is not kept, so none of it reads back.
func (t *Translator) logApplicationClient() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x0f, 0x00
	buf[3] = 0x00
	return buf
}

// logSelfTestResults returns four zero bytes and no self-test result
// descriptors; it does not read the ATA Extended Self-Test Log (address
// 0x07). SEND DIAGNOSTIC/self-test initiation is not part of this module's
// translated opcode set.
func (t *Translator) logSelfTestResults() []byte {
	return make([]byte, 4)
}

func (t *Translator) logInformationalExceptions() []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0x00
	buf[2] = 0x01
	buf[3] = 0x02
	asc, ascq := byte(0x00), byte(0x00)
	if triple, ok := t.State.AtaSense(); ok && triple.Key != 0 {
		asc, ascq = triple.Asc, triple.Ascq
	}
	return append(buf, asc, ascq, 0x00, 0x00)
}

// logPassthroughResults exposes the 15-entry RTFR ring as ATA Pass-Through
// Results log parameters, per spec.md §6's wire-level parameter layout and
// §4.5's "backed by the 15-entry ring cache" note.
func (t *Translator) logPassthroughResults() []byte {
	hist := t.State.History()
	buf := make([]byte, 0, len(hist)*18)
	for i, h := range hist {
		p := make([]byte, 18)
		binary.BigEndian.PutUint16(p[0:2], uint16(i))
		p[2] = 0x03 // parameter control: DU=0, TSD=0, format=3 (list)
		p[3] = 14
		p[4] = 0x09 // ATA Status Return Descriptor code
		p[5] = 0x0c
		r := h.Rtfr
		if r.Extend {
			p[6] = 0x01
		}
		p[7] = r.Error
		p[8] = r.CountExt
		p[9] = r.Count
		p[10] = r.LbaLowExt
		p[11] = r.LbaLow
		p[12] = r.LbaMidExt
		p[13] = r.LbaMid
		p[14] = r.LbaHiExt
		p[15] = r.LbaHi
		p[16] = r.Device
		p[17] = r.Status
		buf = append(buf, p...)
	}
	return buf
}

func (t *Translator) logSense(ctx Ctx) Result {
	cdb := ctx.Cdb
	pc := cdb[2] >> 6
	page := cdb[2] & 0x3f
	if pc != 0x01 { // only "current cumulative values" is meaningful here
		return t.invalidField(2, 6, true)
	}
	body := t.logPage(page)
	if body == nil {
		return t.invalidField(2, 5, true)
	}
	buf := make([]byte, 4+len(body))
	buf[0] = page
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(body)))
	copy(buf[4:], body)
	ctx.Data.Write(truncate(cdbAllocLen(cdb), buf))
	return ok()
}

// logSelect accepts only Application Client (0x0F), plus PARAMETER CODE
// RESET for any page. Parameter data sent for page 0x0F is read and
// discarded; nothing is written to the drive. PARAMETER CODE RESET writes a
// zeroed first sector to each of ATA logs 0x90-0x9F.
func (t *Translator) logSelect(ctx Ctx) Result {
	cdb := ctx.Cdb
	pc := (cdb[1] >> 6) & 0x03
	page := cdb[2] & 0x3f
	if pc == 0x03 { // parameter code reset, page field ignored
		return t.logSelectParameterCodeReset()
	}
	if page != 0x0f {
		return t.invalidField(2, 5, true)
	}
	paramLen := cdbAllocLen(cdb)
	if paramLen == 0 {
		return ok()
	}
	buf := make([]byte, paramLen)
	ctx.Data.Read(buf)
	return ok()
}

func (t *Translator) logSelectParameterCodeReset() Result {
	for log := byte(ataregs.AtaLogHostVendorBase); log < ataregs.AtaLogHostVendorBase+16; log++ {
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut,
			TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = ataregs.AtaWriteLogExt
		cmd.Tfr.Feature = log
		cmd.Tfr.SectorCount = 1
		if _, res := t.issue(&cmd, make([]byte, 512)); res.Status != scsi.SamStatGood {
			return res
		}
	}
	return ok()
}
