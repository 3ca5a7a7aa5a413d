package translate

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/sense"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// supportedVpdPages lists the pages VPD 00h advertises and this translator
// actually implements (spec.md §4.5's INQUIRY note).
var supportedVpdPages = []byte{
	scsi.VpdSupportedPages,
	scsi.VpdUnitSerialNumber,
	scsi.VpdDeviceIdentification,
	scsi.VpdExtendedInquiry,
	scsi.VpdModePagePolicy,
	scsi.VpdAtaInformation,
	scsi.VpdBlockLimits,
	scsi.VpdBlockDeviceChars,
	scsi.VpdLogicalBlockProv,
	scsi.VpdZonedBlockDevChars,
}

func (t *Translator) inquiry(ctx Ctx) Result {
	cdb := ctx.Cdb
	if cdb[1]&0x01 == 0 {
		if cdb[2] != 0 {
			return t.invalidField(2, 0, false)
		}
		return t.standardInquiry(ctx)
	}
	return t.evpdInquiry(ctx, cdb[2])
}

// identifyPage returns the cached IDENTIFY DEVICE page, issuing it once and
// caching the result on the device handle if it hasn't been read yet.
func (t *Translator) identifyPage() ([512]byte, Result) {
	if page, cached := t.State.Identify(); cached {
		return page, ok()
	}
	buf := make([]byte, 512)
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
		Tfr:            ataregs.Taskfile{Command: ataregs.AtaIdentifyDevice, SectorCount: 1},
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	resp, res := t.issue(&cmd, buf)
	if resp.Outcome != dispatch.Success {
		return [512]byte{}, res
	}
	var page [512]byte
	copy(page[:], buf)
	t.State.SetIdentify(page)
	return page, ok()
}

// peripheralDeviceType picks the INQUIRY byte 0 type: direct-access (00h)
// unless the cached Identify reports a packet device or the drive is
// device-managed zoned (14h), per spec.md §4.5.
func (t *Translator) peripheralDeviceType(page [512]byte) byte {
	sig := binary.LittleEndian.Uint16(page[0:2])
	if sig&0x8000 != 0 {
		return 0x05 // packet (ATAPI) device
	}
	if t.State.Soft.Zoned == 2 /* ZonedDeviceManaged */ {
		return 0x14
	}
	return 0x00
}

func (t *Translator) standardInquiry(ctx Ctx) Result {
	page, res := t.identifyPage()
	if res.Status != scsi.SamStatGood {
		return res
	}

	buf := make([]byte, 96)
	buf[0] = t.peripheralDeviceType(page)
	buf[2] = 0x07 // SPC-5
	buf[3] = 0x02 // response data format
	buf[4] = byte(len(buf) - 5)
	buf[7] = 0x02 // CmdQue

	copy(buf[8:16], fixedString("ATA", 8))
	copy(buf[16:32], fixedString(t.State.DriveModel(), 16))
	fw := t.State.DriveFirmware()
	if len(fw) > 4 {
		fw = fw[len(fw)-4:]
	}
	copy(buf[32:36], fixedString(fw, 4))
	copy(buf[36:56], fixedString(t.State.DriveSerial(), 20))

	// Version descriptors (SPC-5 Table "Version descriptor values"); the
	// literal codes spec.md §8 scenario 1 calls out directly.
	binary.BigEndian.PutUint16(buf[58:60], 0x00C0) // SAM-6
	binary.BigEndian.PutUint16(buf[60:62], 0x1F00) // SAT-4
	binary.BigEndian.PutUint16(buf[62:64], 0x05C0) // SPC-5
	binary.BigEndian.PutUint16(buf[64:66], 0x0600) // SBC-4
	if t.State.Soft.Zoned != 0 {
		binary.BigEndian.PutUint16(buf[66:68], 0x0525) // ZBC-2
	}

	allocLen := inquiryAllocLen(ctx.Cdb)
	ctx.Data.Write(truncate(allocLen, buf))
	return ok()
}

func (t *Translator) evpdInquiry(ctx Ctx, page byte) Result {
	switch page {
	case scsi.VpdSupportedPages:
		return t.vpdSupportedPages(ctx)
	case scsi.VpdUnitSerialNumber:
		return t.vpdUnitSerialNumber(ctx)
	case scsi.VpdDeviceIdentification:
		return t.vpdDeviceIdentification(ctx)
	case scsi.VpdAtaInformation:
		return t.vpdAtaInformation(ctx)
	case scsi.VpdBlockLimits:
		return t.vpdBlockLimits(ctx)
	case scsi.VpdBlockDeviceChars:
		return t.vpdBlockDeviceChars(ctx)
	case scsi.VpdLogicalBlockProv:
		return t.vpdLogicalBlockProvisioning(ctx)
	case scsi.VpdZonedBlockDevChars:
		return t.vpdZonedBlockDeviceChars(ctx)
	case scsi.VpdExtendedInquiry:
		return t.vpdExtendedInquiry(ctx)
	case scsi.VpdModePagePolicy:
		return t.vpdModePagePolicy(ctx)
	default:
		return t.invalidField(2, 0, false)
	}
}

func (t *Translator) vpdHeader(pageCode byte, body []byte) []byte {
	buf := make([]byte, 4+len(body))
	buf[1] = pageCode
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(body)))
	copy(buf[4:], body)
	return buf
}

func (t *Translator) vpdSupportedPages(ctx Ctx) Result {
	buf := t.vpdHeader(scsi.VpdSupportedPages, supportedVpdPages)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), buf))
	return ok()
}

func (t *Translator) vpdUnitSerialNumber(ctx Ctx) Result {
	sn := []byte(t.State.DriveSerial())
	buf := t.vpdHeader(scsi.VpdUnitSerialNumber, sn)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), buf))
	return ok()
}

// vpdDeviceIdentification assembles T10 Vendor-ID (type 1), NAA (type 3) and
// SCSI Name String (type 8) descriptors, per spec.md §4.5's "VPD 83h" note.
func (t *Translator) vpdDeviceIdentification(ctx Ctx) Result {
	var body []byte

	vendorID := append(fixedString("ATA", 8), append([]byte(t.State.DriveModel()), []byte(t.State.DriveSerial())...)...)
	body = append(body, 0x02, 0x01, 0x00, byte(len(vendorID)))
	body = append(body, vendorID...)

	if t.Naa != "" {
		naaHex := t.Naa
		if len(naaHex) > 5 && naaHex[:4] == "naa." {
			naaHex = naaHex[4:]
		}
		naaBytes := hexToBytes(naaHex)
		if len(naaBytes) > 0 {
			body = append(body, 0x01, 0x03, 0x00, byte(len(naaBytes)))
			body = append(body, naaBytes...)
		}

		nameStr := []byte(t.Naa)
		pad := (4 - len(nameStr)%4) % 4
		padded := append(append([]byte{}, nameStr...), make([]byte, pad)...)
		body = append(body, 0x02, 0x08, 0x00, byte(len(padded)))
		body = append(body, padded...)
	}

	buf := t.vpdHeader(scsi.VpdDeviceIdentification, body)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), buf))
	return ok()
}

func hexToBytes(s string) []byte {
	if len(s)%2 != 0 {
		return nil
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return nil
		}
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// ataSignature picks the "device signature" VPD 89h reports: the real RTFRs
// from the most recent IDENTIFY if available, otherwise the dummy ATA
// signature SAT-4 defines (spec.md §4.5's "VPD 89h" note).
func (t *Translator) ataSignature() []byte {
	sig := make([]byte, 12)
	if r, ok := t.State.LastRtfr(); ok && (r.LbaMid != 0 || r.LbaHi != 0) {
		sig[1] = r.Error
		sig[3] = r.Count
		sig[5] = r.LbaLow
		sig[7] = r.LbaMid
		sig[9] = r.LbaHi
		sig[10] = r.Device
		sig[11] = r.Status
	} else {
		sig[1] = 0x01
		sig[3] = 0x01
		sig[7] = 0x4F
		sig[9] = 0xC2
		sig[11] = 0x50
	}
	return sig
}

func (t *Translator) vpdAtaInformation(ctx Ctx) Result {
	page, res := t.identifyPage()
	if res.Status != scsi.SamStatGood {
		return res
	}
	body := make([]byte, 0, 572)
	body = append(body, make([]byte, 8)...)                  // reserved, SAT vendor/product
	body = append(body, fixedString("ATA", 8)...)             // reserved re-used for vendor, kept minimal
	body = append(body, make([]byte, 4)...)                   // reserved
	body = append(body, 0x00)                                 // multiple ID
	body = append(body, t.ataSignature()...)                  // device signature
	body = append(body, ataregs.AtaIdentifyDevice)             // command code
	body = append(body, make([]byte, 2)...)                   // reserved
	body = append(body, page[:]...)                           // 512 bytes of Identify data

	buf := t.vpdHeader(scsi.VpdAtaInformation, body)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), buf))
	return ok()
}

func (t *Translator) vpdBlockLimits(ctx Ctx) Result {
	body := make([]byte, 0x3c)
	order := binary.BigEndian
	order.PutUint32(body[0x08-4:0x08], 0xFFFF)                         // max transfer length (blocks)
	order.PutUint32(body[0x14-4:0x14], uint32(maxDsmRangeEntries(t)))  // max unmap LBA count
	order.PutUint32(body[0x18-4:0x18], uint32(t.State.Soft.MaxDsmBlockDescriptors))
	order.PutUint32(body[0x1c-4:0x1c], 1) // optimal unmap granularity
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), t.vpdHeader(scsi.VpdBlockLimits, body)))
	return ok()
}

func maxDsmRangeEntries(t *Translator) uint16 {
	if t.State.Soft.DsmXlSupported {
		return 0xFFFF
	}
	return 0xFFFF
}

func (t *Translator) vpdBlockDeviceChars(ctx Ctx) Result {
	page, res := t.identifyPage()
	if res.Status != scsi.SamStatGood {
		return res
	}
	body := make([]byte, 0x3c)
	rpm := binary.LittleEndian.Uint16(page[2*217 : 2*217+2])
	binary.BigEndian.PutUint16(body[0:2], rpm)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), t.vpdHeader(scsi.VpdBlockDeviceChars, body)))
	return ok()
}

func (t *Translator) vpdLogicalBlockProvisioning(ctx Ctx) Result {
	body := make([]byte, 4)
	if t.State.Soft.TrimSupported {
		body[1] = 0x80 // LBPU
	}
	body[3] = 0x02 // thin-provisioning type: resource-provisioned
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), t.vpdHeader(scsi.VpdLogicalBlockProv, body)))
	return ok()
}

func (t *Translator) vpdZonedBlockDeviceChars(ctx Ctx) Result {
	body := make([]byte, 0x3c)
	body[4] = byte(t.State.Soft.Zoned)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), t.vpdHeader(scsi.VpdZonedBlockDevChars, body)))
	return ok()
}

func (t *Translator) vpdExtendedInquiry(ctx Ctx) Result {
	body := make([]byte, 0x3c)
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), t.vpdHeader(scsi.VpdExtendedInquiry, body)))
	return ok()
}

func (t *Translator) vpdModePagePolicy(ctx Ctx) Result {
	body := []byte{0x3f, 0x00, 0x00, 0x00} // all pages, all subpages: shared, MLUS=0
	ctx.Data.Write(truncate(inquiryAllocLen(ctx.Cdb), t.vpdHeader(scsi.VpdModePagePolicy, body)))
	return ok()
}

func (t *Translator) testUnitReady(ctx Ctx) Result {
	return ok()
}

// requestSense reports the sense triple most recently recovered from ATA
// REQUEST SENSE DATA EXT (spec.md §4.3), or NO SENSE if nothing is pending -
// REQUEST SENSE itself never fails with CHECK CONDITION.
func (t *Translator) requestSense(ctx Ctx) Result {
	format := t.senseFormat()
	if ctx.Cdb[1]&0x01 != 0 {
		format = sense.Descriptor
	}
	var triple device.AtaSenseTriple
	if s, ok := t.State.AtaSense(); ok {
		triple = s
	}
	buf := sense.FromTriple(triple.Key, triple.Asc, triple.Ascq, format)
	ctx.Data.Write(truncate(cdbAllocLen(ctx.Cdb), buf))
	return ok()
}

func (t *Translator) reportLuns(ctx Ctx) Result {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], 8) // one 8-byte LUN entry follows
	ctx.Data.Write(truncate(cdbAllocLen(ctx.Cdb), buf))
	return ok()
}
