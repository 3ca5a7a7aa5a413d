package translate

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// ZAC MANAGEMENT OUT sub-commands are carried in the Feature register's low
// nibble (ACS-4 Table "ZAC MANAGEMENT OUT field definitions"), the ATA side
// of spec.md §4.5's "ZONE MANAGEMENT IN/OUT" note.
const (
	zmActionCloseZone          = 0x01
	zmActionFinishZone         = 0x02
	zmActionOpenZone           = 0x03
	zmActionResetWritePointers = 0x04
)

// reportZones implements ZONE MANAGEMENT IN service action 0 (REPORT ZONES),
// translating straight to REPORT ZONES EXT and byte-swapping the resulting
// zone descriptor list from ATA little-endian into SCSI big-endian.
func (t *Translator) reportZones(ctx Ctx) Result {
	if t.State.Soft.Zoned == hacks.ZonedNotReported {
		return t.notHandled()
	}
	cdb := ctx.Cdb
	serviceAction := cdb[1] & 0x1f
	if serviceAction != scsi.ZmReportZones {
		return t.invalidField(1, 4, true)
	}
	zoneStart := binary.BigEndian.Uint64(append([]byte{0, 0}, cdb[2:8]...))
	allocLen := binary.BigEndian.Uint32(cdb[10:14])
	reportingOptions := cdb[14] & 0x3f
	partial := cdb[14]&0x80 != 0

	blocks := uint16((allocLen + 511) / 512)
	if blocks == 0 {
		blocks = 1
	}
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaReportZonesExt
	cmd.Tfr.Feature = reportingOptions
	if partial {
		cmd.Tfr.Feature |= 0x80
	}
	cmd.Tfr.SetLba48(zoneStart)
	cmd.Tfr.SectorCount = byte(blocks)
	cmd.Tfr.SectorCountExt = byte(blocks >> 8)

	buf := make([]byte, int(blocks)*512)
	resp, res := t.issue(&cmd, buf)
	if resp.Outcome != dispatch.Success {
		return res
	}

	swapReportZonesEndian(buf)
	ctx.Data.Write(truncate(int(allocLen), buf))
	return ok()
}

// swapReportZonesEndian flips the 64-byte header's zone-list-length/max-LBA
// fields and every 64-byte zone descriptor's length/start/write-pointer LBA
// fields from ATA's little-endian layout to SCSI big-endian, in place.
func swapReportZonesEndian(buf []byte) {
	swap8 := func(b []byte) {
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
	}
	if len(buf) >= 16 {
		swap8(buf[0:4])
		swap8(buf[8:16])
	}
	for off := 64; off+64 <= len(buf); off += 64 {
		desc := buf[off : off+64]
		swap8(desc[8:16])
		swap8(desc[16:24])
		swap8(desc[24:32])
		swap8(desc[48:56])
	}
}

// zoneManagementOut implements ZONE MANAGEMENT OUT's CLOSE/FINISH/OPEN ZONE
// and RESET WRITE POINTERS service actions, each a ZAC MANAGEMENT OUT
// command distinguished only by its Feature register sub-action.
func (t *Translator) zoneManagementOut(ctx Ctx) Result {
	if t.State.Soft.Zoned == hacks.ZonedNotReported {
		return t.notHandled()
	}
	cdb := ctx.Cdb
	serviceAction := cdb[1] & 0x1f
	zoneStart := binary.BigEndian.Uint64(append([]byte{0, 0}, cdb[2:8]...))
	all := cdb[14]&0x01 != 0

	var action byte
	switch serviceAction {
	case scsi.ZmCloseZone:
		action = zmActionCloseZone
	case scsi.ZmFinishZone:
		action = zmActionFinishZone
	case scsi.ZmOpenZone:
		action = zmActionOpenZone
	case scsi.ZmResetWritePointers:
		action = zmActionResetWritePointers
	default:
		return t.invalidField(1, 4, true)
	}

	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaZacManagementOut
	cmd.Tfr.Feature = action
	if all {
		cmd.Tfr.SectorCount = 0x01
	}
	cmd.Tfr.SetLba48(zoneStart)
	_, res := t.issue(&cmd, nil)
	return res
}
