package transport

import (
	"time"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/cdb"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/internal/rtfr"
)

// Outcome bundles an issued command's recovered registers with the raw
// transport result, so callers can inspect either level.
type Outcome struct {
	Rtfr      rtfr.Result
	Transport Result
	Buf       []byte
}

// Execute builds the pass-through CDB for cmd, sends it, and recovers RTFRs.
// It is the single choke point every named ata_* helper below funnels
// through (spec.md §4.3 "every command goes through one pipeline").
func (d *Device) Execute(cmd *ataregs.Command, buf []byte, timeout time.Duration) (Outcome, error) {
	raw, _, err := cdb.Build(cmd)
	if err != nil {
		return Outcome{}, err
	}

	tres, sendErr := d.SendCDB(raw, cmd.Direction, buf, timeout)

	res := rtfr.Extract(rtfr.Input{
		SenseBuffer:               tres.SenseBuffer,
		CommandShouldProduceRtfrs: cmd.NeedRtfrs,
		Protocol:                  cmd.Protocol,
		Hacks:                     cmd.Hacks,
	})

	out := Outcome{Rtfr: res, Transport: tres, Buf: tres.Buf}
	if sendErr != nil && sendErr != ErrDriverSense {
		return out, sendErr
	}
	return out, nil
}

func nonData(command byte, h hacks.PassthroughHacks) ataregs.Command {
	return ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoNoData,
		Tfr: ataregs.Taskfile{Command: command}, NeedRtfrs: true, Hacks: h,
	}
}

func pioIn(command byte, sectorCount byte, h hacks.PassthroughHacks) ataregs.Command {
	return ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
		Tfr:            ataregs.Taskfile{Command: command, SectorCount: sectorCount},
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
}

func pioOut(command byte, sectorCount byte, h hacks.PassthroughHacks) ataregs.Command {
	return ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut,
		Tfr:            ataregs.Taskfile{Command: command, SectorCount: sectorCount},
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
}

func dmaExt48(command byte, lba uint64, count uint16, dir ataregs.Direction, h hacks.PassthroughHacks) ataregs.Command {
	c := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: dir,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	c.Tfr.Command = command
	c.Tfr.SetLba48(lba)
	c.Tfr.SectorCount = byte(count)
	c.Tfr.SectorCountExt = byte(count >> 8)
	return c
}

// Identify issues ATA IDENTIFY DEVICE, returning the 512-byte data page.
func (d *Device) Identify(h hacks.PassthroughHacks) (Outcome, error) {
	buf := make([]byte, 512)
	cmd := pioIn(ataregs.AtaIdentifyDevice, 1, h)
	return d.Execute(&cmd, buf, 0)
}

// ReadLogExt issues READ LOG EXT/READ LOG DMA EXT for logPage at the given
// page offset, returning count*512 bytes.
func (d *Device) ReadLogExt(logPage byte, pageOffset uint16, count uint16, dma bool, h hacks.PassthroughHacks) (Outcome, error) {
	buf := make([]byte, int(count)*512)
	command := byte(ataregs.AtaReadLogExt)
	if dma {
		command = ataregs.AtaReadLogDmaExt
	}
	c := ataregs.Command{
		Shape: ataregs.Taskfile48, Direction: ataregs.DirIn,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	if dma {
		c.Protocol = ataregs.ProtoDma
	} else {
		c.Protocol = ataregs.ProtoPioIn
	}
	c.Tfr.Command = command
	c.Tfr.Feature = byte(logPage)
	c.Tfr.SectorCount = byte(count)
	c.Tfr.SetLba48(uint64(pageOffset))
	return d.Execute(&c, buf, 0)
}

// SmartReadData issues the legacy SMART READ DATA sub-command.
func (d *Device) SmartReadData(h hacks.PassthroughHacks) (Outcome, error) {
	buf := make([]byte, 512)
	c := pioIn(ataregs.AtaSmartCmd, 1, h)
	c.Tfr.Feature = 0xD0
	c.Tfr.LbaMid, c.Tfr.LbaHi = 0x4F, 0xC2
	return d.Execute(&c, buf, 0)
}

// SmartReturnStatus issues SMART RETURN STATUS; callers inspect the returned
// RTFRs' LbaMid/LbaHi for the 0xF4/0x2C "threshold exceeded" signature.
func (d *Device) SmartReturnStatus(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSmartCmd, h)
	c.Tfr.Feature = 0xDA
	c.Tfr.LbaMid, c.Tfr.LbaHi = 0x4F, 0xC2
	return d.Execute(&c, nil, 0)
}

// SmartEnableOperations toggles SMART feature enable/disable.
func (d *Device) SmartEnableOperations(enable bool, h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSmartCmd, h)
	if enable {
		c.Tfr.Feature = 0xD8
	} else {
		c.Tfr.Feature = 0xD9
	}
	c.Tfr.LbaMid, c.Tfr.LbaHi = 0x4F, 0xC2
	return d.Execute(&c, nil, 0)
}

// FlushCache issues FLUSH CACHE (EXT).
func (d *Device) FlushCache(ext bool, h hacks.PassthroughHacks) (Outcome, error) {
	command := byte(ataregs.AtaFlushCache)
	shape := ataregs.Taskfile28
	if ext {
		command = ataregs.AtaFlushCacheExt
		shape = ataregs.Taskfile48
	}
	c := nonData(command, h)
	c.Shape = shape
	return d.Execute(&c, nil, 30*time.Second)
}

// StandbyImmediate issues STANDBY IMMEDIATE.
func (d *Device) StandbyImmediate(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaStandbyImmediate, h)
	return d.Execute(&c, nil, 0)
}

// IdleImmediate issues IDLE IMMEDIATE.
func (d *Device) IdleImmediate(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaIdleImmediate, h)
	return d.Execute(&c, nil, 0)
}

// Idle issues IDLE with the given standby timer count.
func (d *Device) Idle(count byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaIdle, h)
	c.Tfr.SectorCount = count
	return d.Execute(&c, nil, 0)
}

// Standby issues STANDBY with the given standby timer count.
func (d *Device) Standby(count byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaStandby, h)
	c.Tfr.SectorCount = count
	return d.Execute(&c, nil, 0)
}

// CheckPowerMode issues CHECK POWER MODE; the power state is returned in
// RTFR.Count (spec.md §4.3's Windows-IDE flush relies on this being cheap).
func (d *Device) CheckPowerMode(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaCheckPowerMode, h)
	return d.Execute(&c, nil, 0)
}

// MediaEject issues MEDIA EJECT.
func (d *Device) MediaEject(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaMediaEject, h)
	return d.Execute(&c, nil, 0)
}

// SecurityFreezeLock issues SECURITY FREEZE LOCK.
func (d *Device) SecurityFreezeLock(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSecurityFreezeLock, h)
	return d.Execute(&c, nil, 0)
}

// SecuritySetPassword issues SECURITY SET PASSWORD with a 512-byte parameter block.
func (d *Device) SecuritySetPassword(block []byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := pioOut(ataregs.AtaSecuritySetPassword, 1, h)
	return d.Execute(&c, block, 0)
}

// SecurityUnlock issues SECURITY UNLOCK with a 512-byte parameter block.
func (d *Device) SecurityUnlock(block []byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := pioOut(ataregs.AtaSecurityUnlock, 1, h)
	return d.Execute(&c, block, 0)
}

// SecurityErasePrepare issues SECURITY ERASE PREPARE.
func (d *Device) SecurityErasePrepare(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSecurityErasePrepare, h)
	return d.Execute(&c, nil, 0)
}

// SecurityEraseUnit issues SECURITY ERASE UNIT with a 512-byte parameter
// block, using a long timeout since a full erase can take minutes.
func (d *Device) SecurityEraseUnit(block []byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := pioOut(ataregs.AtaSecurityEraseUnit, 1, h)
	return d.Execute(&c, block, 5*time.Minute)
}

// SecurityDisablePassword issues SECURITY DISABLE PASSWORD with a 512-byte
// parameter block.
func (d *Device) SecurityDisablePassword(block []byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := pioOut(ataregs.AtaSecurityDisablePassword, 1, h)
	return d.Execute(&c, block, 0)
}

// TrustedReceive issues TRUSTED RECEIVE (DMA) for the given security
// protocol and COMID/SP specific value, reading length*512 bytes.
func (d *Device) TrustedReceive(securityProtocol byte, spSpecific uint16, length uint16, dma bool, h hacks.PassthroughHacks) (Outcome, error) {
	buf := make([]byte, int(length)*512)
	command := byte(ataregs.AtaTrustedReceive)
	if dma {
		command = ataregs.AtaTrustedReceiveDma
	}
	c := ataregs.Command{
		Shape: ataregs.Taskfile28, Direction: ataregs.DirIn,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	if dma {
		c.Protocol = ataregs.ProtoDma
	} else {
		c.Protocol = ataregs.ProtoPioIn
	}
	c.Tfr.Command = command
	c.Tfr.Feature = securityProtocol
	c.Tfr.LbaLow = byte(spSpecific >> 8)
	c.Tfr.LbaMid = byte(spSpecific)
	c.Tfr.SectorCount = byte(length)
	return d.Execute(&c, buf, 0)
}

// TrustedSend issues TRUSTED SEND (DMA) for the given security protocol and
// COMID/SP specific value, writing the supplied buffer.
func (d *Device) TrustedSend(securityProtocol byte, spSpecific uint16, buf []byte, dma bool, h hacks.PassthroughHacks) (Outcome, error) {
	command := byte(ataregs.AtaTrustedSend)
	if dma {
		command = ataregs.AtaTrustedSendDma
	}
	c := ataregs.Command{
		Shape: ataregs.Taskfile28, Direction: ataregs.DirOut,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	if dma {
		c.Protocol = ataregs.ProtoDma
	} else {
		c.Protocol = ataregs.ProtoPioOut
	}
	c.Tfr.Command = command
	c.Tfr.Feature = securityProtocol
	c.Tfr.LbaLow = byte(spSpecific >> 8)
	c.Tfr.LbaMid = byte(spSpecific)
	c.Tfr.SectorCount = byte(len(buf) / 512)
	return d.Execute(&c, buf, 0)
}

// SanitizeStatus issues SANITIZE DEVICE / SANITIZE STATUS.
func (d *Device) SanitizeStatus(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSanitizeDevice, h)
	c.Shape = ataregs.Taskfile48
	c.Tfr.SetLba48(uint64(ataregs.SanitizeStatus))
	return d.Execute(&c, nil, 0)
}

// SanitizeCryptoScramble issues SANITIZE DEVICE / CRYPTO SCRAMBLE EXT.
func (d *Device) SanitizeCryptoScramble(failureModeBit bool, h hacks.PassthroughHacks) (Outcome, error) {
	return d.sanitizeSubcommand(ataregs.SanitizeCryptoScramble, failureModeBit, h)
}

// SanitizeBlockErase issues SANITIZE DEVICE / BLOCK ERASE EXT.
func (d *Device) SanitizeBlockErase(failureModeBit bool, h hacks.PassthroughHacks) (Outcome, error) {
	return d.sanitizeSubcommand(ataregs.SanitizeBlockErase, failureModeBit, h)
}

// SanitizeOverwrite issues SANITIZE DEVICE / OVERWRITE EXT with the supplied
// 512-byte overwrite pattern block.
func (d *Device) SanitizeOverwrite(passCount byte, invertBetweenPasses bool, pattern []byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirOut,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	c.Tfr.Command = ataregs.AtaSanitizeDevice
	c.Tfr.SetLba48(uint64(ataregs.SanitizeOverwrite))
	c.Tfr.SectorCount = 1
	c.Tfr.Feature = passCount & 0x0f
	if invertBetweenPasses {
		c.Tfr.Feature |= 0x80
	}
	return d.Execute(&c, pattern, 5*time.Minute)
}

// SanitizeFreezeLock issues SANITIZE DEVICE / SANITIZE FREEZE LOCK EXT.
func (d *Device) SanitizeFreezeLock(h hacks.PassthroughHacks) (Outcome, error) {
	return d.sanitizeSubcommand(ataregs.SanitizeFreezeLock, false, h)
}

// SanitizeAntiFreezeLock issues SANITIZE DEVICE / SANITIZE ANTI-FREEZE LOCK EXT.
func (d *Device) SanitizeAntiFreezeLock(h hacks.PassthroughHacks) (Outcome, error) {
	return d.sanitizeSubcommand(ataregs.SanitizeAntiFreezeLock, false, h)
}

// SanitizeExitFailureMode issues SANITIZE DEVICE / EXIT FAILURE MODE EXT.
func (d *Device) SanitizeExitFailureMode(h hacks.PassthroughHacks) (Outcome, error) {
	return d.sanitizeSubcommand(ataregs.SanitizeExitFailureMode, false, h)
}

func (d *Device) sanitizeSubcommand(subfunction uint16, failureModeBit bool, h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSanitizeDevice, h)
	c.Shape = ataregs.Taskfile48
	c.Tfr.SetLba48(uint64(subfunction))
	if failureModeBit {
		c.Tfr.Feature |= 0x10
	}
	return d.Execute(&c, nil, 5*time.Minute)
}

// DataSetManagement issues DATA SET MANAGEMENT (TRIM), sending the caller's
// pre-built LBA range entry buffer, which must be a multiple of 512 bytes.
func (d *Device) DataSetManagement(trimBlocks []byte, xl bool, h hacks.PassthroughHacks) (Outcome, error) {
	c := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirOut,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	c.Tfr.Command = ataregs.AtaDataSetManagement
	c.Tfr.Feature = 0x01 // TRIM bit
	if xl {
		c.Tfr.FeatureExt = 0x01
	}
	blocks := len(trimBlocks) / 512
	c.Tfr.SectorCount = byte(blocks)
	c.Tfr.SectorCountExt = byte(blocks >> 8)
	return d.Execute(&c, trimBlocks, 0)
}

// WriteUncorrectable issues WRITE UNCORRECTABLE EXT over the given LBA
// range. pseudoOrFlagged selects the feature sub-code (0x55 pseudo-uncorrectable
// with logging, 0xAA flagged without logging, per ATA-8).
func (d *Device) WriteUncorrectable(lba uint64, count uint16, pseudoOrFlagged byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := dmaExt48(ataregs.AtaWriteUncorrectable, lba, count, ataregs.DirOut, h)
	c.Protocol = ataregs.ProtoNoData
	c.Direction = ataregs.DirNone
	c.Tfr.Feature = pseudoOrFlagged
	return d.Execute(&c, nil, 0)
}

// ZeroExt issues ZERO EXT (or, if trim is set, the TRIM-combined variant)
// over the given LBA range.
func (d *Device) ZeroExt(lba uint64, count uint16, trim bool, h hacks.PassthroughHacks) (Outcome, error) {
	c := dmaExt48(ataregs.AtaZeroExt, lba, count, ataregs.DirNone, h)
	c.Protocol = ataregs.ProtoNoData
	if trim {
		c.Tfr.Feature = 0x01
	}
	return d.Execute(&c, nil, 0)
}

// SctWriteSame issues the SCT WRITE SAME command via SMART feature 0xD6,
// sending the 512-byte SCT action/function/LBA parameter block.
func (d *Device) SctWriteSame(block []byte, h hacks.PassthroughHacks) (Outcome, error) {
	c := pioOut(ataregs.AtaSmartCmd, 1, h)
	c.Tfr.Feature = 0xD6
	c.Tfr.LbaMid, c.Tfr.LbaHi = 0x4F, 0xC2
	return d.Execute(&c, block, 0)
}

// SetDateAndTime issues SET DATE AND TIME EXT with the supplied epoch
// milliseconds in the 48-bit LBA registers.
func (d *Device) SetDateAndTime(epochMillis uint64, h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaSetDateAndTime, h)
	c.Shape = ataregs.Taskfile48
	c.Tfr.SetLba48(epochMillis & 0xFFFFFFFFFFFF)
	return d.Execute(&c, nil, 0)
}

// ReportZonesExt issues ZAC ZONE MANAGEMENT IN / REPORT ZONES EXT, reading
// count*512 bytes of zone descriptors starting at startLba.
func (d *Device) ReportZonesExt(startLba uint64, count uint16, reportingOptions byte, h hacks.PassthroughHacks) (Outcome, error) {
	buf := make([]byte, int(count)*512)
	c := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	c.Tfr.Command = ataregs.AtaReportZonesExt
	c.Tfr.Feature = reportingOptions
	c.Tfr.SetLba48(startLba)
	c.Tfr.SectorCount = byte(count)
	c.Tfr.SectorCountExt = byte(count >> 8)
	return d.Execute(&c, buf, 0)
}

// zacManagementOut issues ZAC MANAGEMENT OUT with the given action/all-bit
// for a single zone-id LBA (open/close/finish/reset write pointer all share
// this one ATA opcode, distinguished by the feature register).
func (d *Device) zacManagementOut(action byte, zoneID uint64, all bool, h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaZacManagementOut, h)
	c.Shape = ataregs.Taskfile48
	c.Tfr.Feature = action
	c.Tfr.SetLba48(zoneID)
	if all {
		c.Tfr.SectorCount = 0x01
	}
	return d.Execute(&c, nil, 0)
}

// OpenZoneExt issues ZAC MANAGEMENT OUT / OPEN ZONE EXT.
func (d *Device) OpenZoneExt(zoneID uint64, all bool, h hacks.PassthroughHacks) (Outcome, error) {
	return d.zacManagementOut(0x03, zoneID, all, h)
}

// CloseZoneExt issues ZAC MANAGEMENT OUT / CLOSE ZONE EXT.
func (d *Device) CloseZoneExt(zoneID uint64, all bool, h hacks.PassthroughHacks) (Outcome, error) {
	return d.zacManagementOut(0x01, zoneID, all, h)
}

// FinishZoneExt issues ZAC MANAGEMENT OUT / FINISH ZONE EXT.
func (d *Device) FinishZoneExt(zoneID uint64, all bool, h hacks.PassthroughHacks) (Outcome, error) {
	return d.zacManagementOut(0x02, zoneID, all, h)
}

// ResetWritePointersExt issues ZAC MANAGEMENT OUT / RESET WRITE POINTERS EXT.
func (d *Device) ResetWritePointersExt(zoneID uint64, all bool, h hacks.PassthroughHacks) (Outcome, error) {
	return d.zacManagementOut(0x04, zoneID, all, h)
}

// ReadBuffer issues READ BUFFER (DMA), returning the 512-byte buffer page.
func (d *Device) ReadBuffer(dma bool, h hacks.PassthroughHacks) (Outcome, error) {
	buf := make([]byte, 512)
	command := byte(ataregs.AtaReadBuffer)
	proto := ataregs.ProtoPioIn
	if dma {
		command = ataregs.AtaReadBufferDma
		proto = ataregs.ProtoDma
	}
	c := pioIn(command, 1, h)
	c.Protocol = proto
	return d.Execute(&c, buf, 0)
}

// WriteBuffer issues WRITE BUFFER (DMA) with a 512-byte payload.
func (d *Device) WriteBuffer(payload []byte, dma bool, h hacks.PassthroughHacks) (Outcome, error) {
	command := byte(ataregs.AtaWriteBuffer)
	proto := ataregs.ProtoPioOut
	if dma {
		command = ataregs.AtaWriteBufferDma
		proto = ataregs.ProtoDma
	}
	c := pioOut(command, 1, h)
	c.Protocol = proto
	return d.Execute(&c, payload, 0)
}

// RequestSenseDataExt issues ATA REQUEST SENSE DATA EXT; the caller reads
// sense key/ASC/ASCQ back out of the RTFRs' LbaLow/LbaMid/LbaHi registers
// per ACS-4.
func (d *Device) RequestSenseDataExt(h hacks.PassthroughHacks) (Outcome, error) {
	c := nonData(ataregs.AtaRequestSenseDataExt, h)
	c.Shape = ataregs.Taskfile48
	return d.Execute(&c, nil, 0)
}

// ReturnResponseInfo issues an ATA PASS-THROUGH CDB with
// protocol=ReturnInfo: no command reaches the drive, the HBA/driver hands
// back the RTFRs it cached from the command actually executed before this
// one (spec.md §4.2's "NeedReturnResponseInfo" follow-up).
func (d *Device) ReturnResponseInfo(h hacks.PassthroughHacks) (Outcome, error) {
	c := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoReturnInfo, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: h,
	}
	return d.Execute(&c, nil, 0)
}

// ReadPassthroughResultsLogEntry reads one sector of the ATA Passthrough
// Results log (address 0x11) at the given parameter index and returns it
// undecoded; the dispatcher's LOG SENSE follow-up decodes it as an ATA
// Status Return Descriptor.
func (d *Device) ReadPassthroughResultsLogEntry(paramIndex uint16, h hacks.PassthroughHacks) (Outcome, error) {
	return d.ReadLogExt(ataregs.AtaLogPassthroughResults, paramIndex, 1, false, h)
}

// DownloadMicrocode issues DOWNLOAD MICROCODE (DMA) with subcommand mode
// (e.g. 0x03 "download with offsets and save", 0x0E "download with offsets,
// activate later", 0x0F "activate downloaded microcode"),
// sending buf as the firmware payload.
func (d *Device) DownloadMicrocode(mode byte, blockCount uint16, bufferOffset uint16, buf []byte, dma bool, h hacks.PassthroughHacks) (Outcome, error) {
	command := byte(ataregs.AtaDownloadMicrocode)
	proto := ataregs.ProtoPioOut
	if dma {
		command = ataregs.AtaDownloadMicrocodeDma
		proto = ataregs.ProtoDma
	}
	c := ataregs.Command{
		Shape: ataregs.Taskfile28, Direction: ataregs.DirOut,
		TransferLength: ataregs.TLengthSectorCount, NeedRtfrs: true, Hacks: h,
	}
	c.Protocol = proto
	c.Tfr.Command = command
	c.Tfr.Feature = mode
	c.Tfr.SectorCount = byte(blockCount)
	c.Tfr.LbaLow = byte(bufferOffset)
	c.Tfr.LbaMid = byte(bufferOffset >> 8)
	return d.Execute(&c, buf, 2*time.Minute)
}
