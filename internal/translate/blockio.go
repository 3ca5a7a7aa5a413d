package translate

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// identifyWord reads 16-bit word n (0-based) from a cached Identify page.
func identifyWord(page [512]byte, n int) uint16 {
	return binary.LittleEndian.Uint16(page[2*n : 2*n+2])
}

// maxLba returns the drive's addressable sector count, preferring the
// 48-bit field (words 100-103) when nonzero, falling back to the 28-bit
// field (words 60-61).
func (t *Translator) maxLba() (uint64, Result) {
	page, res := t.identifyPage()
	if res.Status != scsi.SamStatGood {
		return 0, res
	}
	lba48 := uint64(identifyWord(page, 103))<<48 | uint64(identifyWord(page, 102))<<32 |
		uint64(identifyWord(page, 101))<<16 | uint64(identifyWord(page, 100))
	if lba48 != 0 {
		return lba48, ok()
	}
	lba28 := uint64(identifyWord(page, 61))<<16 | uint64(identifyWord(page, 60))
	return lba28, ok()
}

// sectorSize returns the logical block size in bytes, per ATA-8 word 106/117-118.
func (t *Translator) sectorSize() uint32 {
	page, res := t.identifyPage()
	if res.Status != scsi.SamStatGood {
		return 512
	}
	w106 := identifyWord(page, 106)
	if w106&0x8000 == 0 || w106&0x1000 == 0 {
		return 512
	}
	words := uint32(identifyWord(page, 118))<<16 | uint32(identifyWord(page, 117))
	if words == 0 {
		return 512
	}
	return words * 2
}

func (t *Translator) readCapacity10(ctx Ctx) Result {
	lba, res := t.maxLba()
	if res.Status != scsi.SamStatGood {
		return res
	}
	buf := make([]byte, 8)
	last := lba - 1
	if last > 0xFFFFFFFF {
		last = 0xFFFFFFFF // caller should have used READ CAPACITY(16)
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(last))
	binary.BigEndian.PutUint32(buf[4:8], t.sectorSize())
	// READ CAPACITY(10) carries no allocation-length field - bytes 7-8 of
	// its CDB are reserved, not a length - so the fixed 8-byte response
	// always goes back in full.
	ctx.Data.Write(buf)
	return ok()
}

func (t *Translator) readCapacity16(ctx Ctx) Result {
	lba, res := t.maxLba()
	if res.Status != scsi.SamStatGood {
		return res
	}
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], lba-1)
	binary.BigEndian.PutUint32(buf[8:12], t.sectorSize())
	allocLen := int(binary.BigEndian.Uint32(ctx.Cdb[10:14]))
	ctx.Data.Write(truncate(allocLen, buf))
	return ok()
}

// rwDescriptor decomposes a READ/WRITE CDB into the shared pieces every
// size variant needs: LBA, block count (0 aliased to the full-range value
// per spec.md §4.5), and whether FUA was requested.
func rwDescriptor(cdb []byte) (lba uint64, count uint32, fua bool) {
	lba = cdbLba(cdb)
	count = cdbTransferLen(cdb)
	if len(cdb) == 6 {
		// cdbTransferLen already folds 6-byte 0->256.
		return lba, count, false
	}
	if count == 0 {
		count = 65536
	}
	return lba, count, cdbFua(cdb)
}

// readWriteCommand builds the single 28- or 48-bit ATA command spec.md
// §4.5's READ/WRITE note calls for: no NCQ, ever. 28-bit is used only when
// both the LBA and the count fit; everything else escalates to 48-bit, and
// a FUA write uses the 48-bit DMA FUA variant when SoftSatFlags.WantsDma is
// set (write issues READ VERIFY first otherwise).
func (t *Translator) readWriteCommand(lba uint64, count uint32, dir ataregs.Direction, fua bool) ataregs.Command {
	use28 := lba <= 0x0FFFFFFF && count <= 256 && !(fua && t.State.Soft.WantsDma)
	cmd := ataregs.Command{Hacks: t.State.Hacks, NeedRtfrs: true, Direction: dir}
	if use28 {
		cmd.Shape = ataregs.Taskfile28
		cmd.Protocol = ataregs.ProtoDma
		cmd.TransferLength = ataregs.TLengthSectorCount
		cmd.Tfr.SetLba28(uint32(lba))
		sc := byte(count)
		cmd.Tfr.SectorCount = sc // 0 means 256, matches ATA-8 semantics directly
		if dir == ataregs.DirIn {
			cmd.Tfr.Command = ataregs.AtaReadDma
		} else {
			cmd.Tfr.Command = ataregs.AtaWriteDma
		}
		return cmd
	}
	cmd.Shape = ataregs.Taskfile48
	cmd.Protocol = ataregs.ProtoDma
	cmd.TransferLength = ataregs.TLengthSectorCount
	cmd.Tfr.SetLba48(lba)
	sc := count
	if sc == 65536 {
		sc = 0
	}
	cmd.Tfr.SectorCount = byte(sc)
	cmd.Tfr.SectorCountExt = byte(sc >> 8)
	switch {
	case dir == ataregs.DirIn:
		cmd.Tfr.Command = ataregs.AtaReadDmaExt
	case fua && t.State.Soft.WantsDma:
		cmd.Tfr.Command = ataregs.AtaWriteDmaFuaExt
	default:
		cmd.Tfr.Command = ataregs.AtaWriteDmaExt
	}
	return cmd
}

// readVerifyCommand builds READ VERIFY SECTORS (EXT), the preceding command
// spec.md §4.5 calls for when FUA is requested and the drive lacks a native
// FUA write variant.
func (t *Translator) readVerifyCommand(lba uint64, count uint32) ataregs.Command {
	cmd := ataregs.Command{Hacks: t.State.Hacks, NeedRtfrs: true, Direction: ataregs.DirNone, Protocol: ataregs.ProtoNoData}
	if lba <= 0x0FFFFFFF && count <= 256 {
		cmd.Shape = ataregs.Taskfile28
		cmd.Tfr.SetLba28(uint32(lba))
		cmd.Tfr.SectorCount = byte(count)
		cmd.Tfr.Command = ataregs.AtaReadVerifySectors
		return cmd
	}
	cmd.Shape = ataregs.Taskfile48
	cmd.Tfr.SetLba48(lba)
	cmd.Tfr.SectorCount = byte(count)
	cmd.Tfr.SectorCountExt = byte(count >> 8)
	cmd.Tfr.Command = ataregs.AtaReadVerifySectorsExt
	return cmd
}

func (t *Translator) read(ctx Ctx, op byte) Result {
	lba, count, _ := rwDescriptor(ctx.Cdb)
	if count == 0 {
		return ok()
	}
	cmd := t.readWriteCommand(lba, count, ataregs.DirIn, false)
	buf := make([]byte, uint64(count)*uint64(t.sectorSize()))
	resp, res := t.issue(&cmd, buf)
	if resp.Outcome != dispatch.Success {
		return res
	}
	ctx.Data.Write(buf)
	return ok()
}

func (t *Translator) write(ctx Ctx, op byte) Result {
	lba, count, fua := rwDescriptor(ctx.Cdb)
	if count == 0 {
		return ok()
	}
	if fua && !t.State.Soft.WantsDma {
		verifyCmd := t.readVerifyCommand(lba, count)
		if _, res := t.issue(&verifyCmd, nil); res.Status != scsi.SamStatGood {
			return res
		}
	}
	buf := make([]byte, uint64(count)*uint64(t.sectorSize()))
	ctx.Data.Read(buf)
	cmd := t.readWriteCommand(lba, count, ataregs.DirOut, fua)
	_, res := t.issue(&cmd, buf)
	return res
}

func (t *Translator) verify(ctx Ctx, op byte) Result {
	lba, count, _ := rwDescriptor(ctx.Cdb)
	if count == 0 {
		return ok()
	}
	cmd := t.readVerifyCommand(lba, count)
	_, res := t.issue(&cmd, nil)
	return res
}

func (t *Translator) synchronizeCache(ctx Ctx, op byte) Result {
	lba := cdbLba(ctx.Cdb)
	ext := op == scsi.SynchronizeCache16 || lba > 0x0FFFFFFF
	command := byte(ataregs.AtaFlushCache)
	shape := ataregs.Taskfile28
	if ext {
		command = ataregs.AtaFlushCacheExt
		shape = ataregs.Taskfile48
	}
	cmd := ataregs.Command{
		Shape: shape, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = command
	_, res := t.issue(&cmd, nil)
	return res
}

// writeSame implements spec.md §4.5's WRITE SAME fallback chain: Zeros Ext
// when ndob=1 and the drive supports it, else SCT Write Same, else a plain
// sequence of WRITE DMA EXT commands carrying the replicated block.
func (t *Translator) writeSame(ctx Ctx, op byte) Result {
	cdb := ctx.Cdb
	if cdb[1]&0x08 != 0 { // UNMAP bit
		return t.invalidField(1, 3, true)
	}
	ndob := cdb[1]&0x01 != 0
	lba := cdbLba(cdb)
	count := uint64(cdbTransferLen(cdb))
	if count == 0 {
		maxLba, res := t.maxLba()
		if res.Status != scsi.SamStatGood {
			return res
		}
		count = maxLba - lba
	}

	if ndob && t.State.Soft.ZeroExtSupported {
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
			NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = ataregs.AtaZeroExt
		cmd.Tfr.SetLba48(lba)
		cmd.Tfr.SectorCount = byte(count)
		cmd.Tfr.SectorCountExt = byte(count >> 8)
		_, res := t.issue(&cmd, nil)
		return res
	}

	sectorSize := t.sectorSize()
	pattern := make([]byte, sectorSize)
	if !ndob {
		ctx.Data.Read(pattern)
	}

	if t.State.Soft.SctWriteSameSupported {
		block := make([]byte, 512)
		block[0], block[1] = 0x01, 0x02 // SCT action 1 (write same), function 2 (LBA range with pattern)
		binary.LittleEndian.PutUint64(block[8:16], lba)
		binary.LittleEndian.PutUint32(block[16:20], uint32(count))
		copy(block[20:], pattern[:min(len(pattern), 492)])
		cmd := ataregs.Command{
			Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut,
			TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
		}
		cmd.Tfr.Command = 0xB0 // SMART
		cmd.Tfr.Feature = 0xD6
		cmd.Tfr.LbaMid, cmd.Tfr.LbaHi = 0x4F, 0xC2
		cmd.Tfr.SectorCount = 1
		_, res := t.issue(&cmd, block)
		return res
	}

	for i := uint64(0); i < count; i++ {
		cmd := t.readWriteCommand(lba+i, 1, ataregs.DirOut, false)
		if resp, res := t.issue(&cmd, append([]byte(nil), pattern...)); resp.Outcome != dispatch.Success {
			return res
		}
	}
	return ok()
}

// unmap implements spec.md §4.5's UNMAP note: parse the block-deallocation
// descriptors, pack them into the ATA Data Set Management (TRIM) payload,
// splitting any descriptor whose range exceeds 65535 LBAs.
func (t *Translator) unmap(ctx Ctx) Result {
	if !t.State.Soft.TrimSupported {
		return t.checkCondition(scsi.SenseIllegalRequest, 0x20, 0x00)
	}
	cdb := ctx.Cdb
	paramLen := binary.BigEndian.Uint16(cdb[7:9])
	if paramLen == 0 {
		return ok()
	}
	param := make([]byte, paramLen)
	ctx.Data.Read(param)
	if len(param) < 8 {
		return t.invalidParameterField(0, 0, false)
	}
	descLen := binary.BigEndian.Uint16(param[2:4])
	descs := param[8:]
	if int(descLen) > len(descs) {
		descLen = uint16(len(descs))
	}

	entrySize := 8
	if t.State.Soft.DsmXlSupported {
		entrySize = 16
	}
	maxBlocks := int(t.State.Soft.MaxDsmBlockDescriptors)
	if maxBlocks == 0 {
		maxBlocks = 1
	}
	maxEntries := maxBlocks * 512 / entrySize

	var entries [][]byte
	for off := 0; off+16 <= int(descLen); off += 16 {
		lba := binary.BigEndian.Uint64(descs[off : off+8])
		blocks := binary.BigEndian.Uint32(descs[off+8 : off+12])
		for blocks > 0 {
			chunk := blocks
			if chunk > 0xFFFF {
				chunk = 0xFFFF
			}
			e := make([]byte, entrySize)
			binary.LittleEndian.PutUint16(e[0:2], uint16(chunk))
			binary.LittleEndian.PutUint64(e[2:10], lba)
			entries = append(entries, e)
			lba += uint64(chunk)
			blocks -= chunk
		}
	}
	if len(entries) == 0 {
		return ok()
	}
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}

	blockCount := (len(entries)*entrySize + 511) / 512
	trimBlocks := make([]byte, blockCount*512)
	for i, e := range entries {
		copy(trimBlocks[i*entrySize:], e)
	}

	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirOut,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaDataSetManagement
	cmd.Tfr.Feature = 0x01
	if t.State.Soft.DsmXlSupported {
		cmd.Tfr.FeatureExt = 0x01
	}
	cmd.Tfr.SectorCount = byte(blockCount)
	cmd.Tfr.SectorCountExt = byte(blockCount >> 8)
	_, res := t.issue(&cmd, trimBlocks)
	return res
}

// serviceActionIn16 dispatches the 16-byte service-action-in opcode family;
// only READ CAPACITY(16) is implemented, GET LBA STATUS/REPORT REFERRALS
// are out of scope (spec.md §6's Non-goals exclude thin-provisioning status
// tracking beyond LBPU).
func (t *Translator) serviceActionIn16(ctx Ctx) Result {
	switch ctx.Cdb[1] & 0x1f {
	case scsi.SaiReadCapacity16:
		return t.readCapacity16(ctx)
	default:
		return t.invalidField(1, 4, true)
	}
}

// formatUnitReservedChecks is the ordered reserved-bit/unsupported-field
// table for FORMAT UNIT's 6-byte CDB: FMTPINFO (protection info, not
// modeled anywhere in this translator) and a non-trivial defect/
// initialization-pattern parameter list (FMTDATA=1) are rejected outright;
// everything else in byte 1 and the obsolete bytes 3-4 must be zero.
var formatUnitReservedChecks = []fieldCheck{
	{field: 1, bit: 7, violation: func(cdb []byte) bool { return cdb[1]&0xC0 != 0 }},
	{field: 1, bit: 3, violation: func(cdb []byte) bool { return cdb[1]&0x08 != 0 }},
	{field: 3, bit: 7, violation: func(cdb []byte) bool { return cdb[3] != 0 || cdb[4] != 0 }},
}

// formatUnit implements spec.md §4.5's FORMAT UNIT entry: with FMTDATA=0
// (no defect list, no initialization pattern - the only mode this module
// parses), it issues the legacy ATA FORMAT TRACK command so the request
// still reaches the drive, per spec.md §1/§2's opcode coverage list.
func (t *Translator) formatUnit(ctx Ctx) Result {
	cdb := ctx.Cdb
	if field, bit, violated := validateReserved(cdb, formatUnitReservedChecks); violated {
		return t.invalidField(field, bit, false)
	}
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = ataregs.AtaFormatTrack
	_, res := t.issue(&cmd, nil)
	return res
}

// reassignBlocksReservedChecks covers REASSIGN BLOCKS' 6-byte CDB: only
// LONGLBA (bit1) and LONGLIST (bit0) are defined in byte 1, everything
// else there and bytes 2-4 are reserved.
var reassignBlocksReservedChecks = []fieldCheck{
	{field: 1, bit: 7, violation: func(cdb []byte) bool { return cdb[1]&0xFC != 0 }},
	{field: 2, bit: 7, violation: func(cdb []byte) bool { return cdb[2] != 0 || cdb[3] != 0 || cdb[4] != 0 }},
}

// reassignBlocks implements spec.md §4.5's REASSIGN BLOCKS entry. ATA has
// no direct defect-reassignment command - a drive auto-reallocates a
// defective sector the next time it is written - so each listed LBA is
// rewritten with a zero-filled sector, the same mapping real SAT bridges
// use to force reallocation.
func (t *Translator) reassignBlocks(ctx Ctx) Result {
	cdb := ctx.Cdb
	if field, bit, violated := validateReserved(cdb, reassignBlocksReservedChecks); violated {
		return t.invalidField(field, bit, false)
	}
	longLba := cdb[1]&0x02 != 0

	header := make([]byte, 4)
	ctx.Data.Read(header)
	listLen := binary.BigEndian.Uint16(header[2:4])
	list := make([]byte, listLen)
	ctx.Data.Read(list)

	entrySize := 4
	if longLba {
		entrySize = 8
	}
	sector := make([]byte, t.sectorSize())
	for off := 0; off+entrySize <= len(list); off += entrySize {
		var lba uint64
		if longLba {
			lba = binary.BigEndian.Uint64(list[off : off+8])
		} else {
			lba = uint64(binary.BigEndian.Uint32(list[off : off+4]))
		}
		cmd := t.readWriteCommand(lba, 1, ataregs.DirOut, false)
		if resp, res := t.issue(&cmd, append([]byte(nil), sector...)); resp.Outcome != dispatch.Success {
			return res
		}
	}
	return ok()
}
