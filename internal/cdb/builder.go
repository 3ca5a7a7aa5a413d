// Package cdb builds SCSI ATA PASS-THROUGH CDBs (12, 16 or 32 bytes) from an
// ataregs.Command, implementing spec.md §4.1.
package cdb

import (
	"fmt"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
)

// ErrBadParameter is returned for caller errors that never reach the drive
// (spec.md §7 BadParameter).
type ErrBadParameter struct {
	Reason string
}

func (e *ErrBadParameter) Error() string { return "cdb: bad parameter: " + e.Reason }

// SCSI ATA PASS-THROUGH opcodes (SAT-4 §13).
const (
	OpAtaPassThrough12 = 0xA1
	OpAtaPassThrough16 = 0x85
	OpAtaPassThrough32 = 0x7F
	ServiceActionAtaPassThrough32 = 0x1FF0
)

// protocolNibble maps an ataregs.Protocol to the 4-bit PROTOCOL field of the
// pass-through CDB (spec.md §4.1 step 2).
func protocolNibble(p ataregs.Protocol) (byte, error) {
	switch p {
	case ataregs.ProtoHardReset:
		return 0, nil
	case ataregs.ProtoSoftReset:
		return 1, nil
	case ataregs.ProtoNoData:
		return 3, nil
	case ataregs.ProtoPioIn:
		return 4, nil
	case ataregs.ProtoPioOut:
		return 5, nil
	case ataregs.ProtoDma:
		return 6, nil
	case ataregs.ProtoDevDiag:
		return 8, nil
	case ataregs.ProtoUdmaIn:
		return 10, nil
	case ataregs.ProtoUdmaOut:
		return 11, nil
	case ataregs.ProtoDevReset:
		return 7, nil
	case ataregs.ProtoDmaQueued:
		return 0xC, nil
	case ataregs.ProtoDmaFpdma:
		return 0xC, nil
	case ataregs.ProtoReturnInfo:
		return 15, nil
	default:
		return 0, fmt.Errorf("cdb: unknown protocol %v", p)
	}
}

// length picks the CDB length per spec.md §4.1 step 1.
func length(cmd *ataregs.Command) (int, error) {
	if cmd.ForceCdbSize != 0 {
		return int(cmd.ForceCdbSize), nil
	}
	if cmd.Hacks.ForceCdbSize != 0 {
		return int(cmd.Hacks.ForceCdbSize), nil
	}
	if cmd.Protocol.IsReset() {
		// Reset protocols pick a length by shape; Build leaves the register
		// bytes of hard and soft reset CDBs zero.
		if cmd.Shape == ataregs.Taskfile48 && !cmd.Hacks.A1NeverSupported {
			return 16, nil
		}
		return 12, nil
	}
	switch cmd.Shape {
	case ataregs.Taskfile28:
		if cmd.Hacks.A1NeverSupported {
			return 16, nil
		}
		return 12, nil
	case ataregs.Taskfile48:
		if cmd.Hacks.A1NeverSupported {
			return 16, nil
		}
		if cmd.Hacks.A1ExtWhenPossible && cmd.Tfr.ExtZero() {
			return 12, nil
		}
		return 16, nil
	case ataregs.Complete32:
		return 32, nil
	default:
		return 0, fmt.Errorf("cdb: unknown shape %v", cmd.Shape)
	}
}

// needsDirection reports whether the protocol requires a non-None direction
// (spec.md §4.1 step 3 "Pio/Udma with direction=None is BadParameter").
func needsDirection(p ataregs.Protocol) bool {
	switch p {
	case ataregs.ProtoPioIn, ataregs.ProtoPioOut, ataregs.ProtoUdmaIn, ataregs.ProtoUdmaOut:
		return true
	default:
		return false
	}
}

// Build assembles the pass-through CDB for cmd, returning the bytes and the
// chosen length.
func Build(cmd *ataregs.Command) ([]byte, int, error) {
	if needsDirection(cmd.Protocol) && cmd.Direction == ataregs.DirNone {
		return nil, 0, &ErrBadParameter{Reason: fmt.Sprintf("protocol %v requires a data direction", cmd.Protocol)}
	}
	if cmd.MultipleCount != 0 {
		if cmd.Protocol != ataregs.ProtoPioIn && cmd.Protocol != ataregs.ProtoPioOut {
			return nil, 0, &ErrBadParameter{Reason: "multiple count is only valid for PIO protocol"}
		}
		if !cmd.IsReadWriteMultiple() {
			return nil, 0, &ErrBadParameter{Reason: "multiple count is only valid for Read/Write Multiple commands"}
		}
		if cmd.MultipleCount > 7 {
			return nil, 0, &ErrBadParameter{Reason: "multiple count must fit in 3 bits"}
		}
	}

	n, err := length(cmd)
	if err != nil {
		return nil, 0, err
	}

	proto, err := protocolNibble(cmd.Protocol)
	if err != nil {
		return nil, 0, err
	}

	buf := make([]byte, n)

	tlen := cmd.TransferLength
	if cmd.Hacks.AlwaysUseTpsiu {
		tlen = ataregs.TLengthTpsiu
	}

	transferBits := byte(tlen&0x3) << 0
	if cmd.Direction == ataregs.DirIn {
		transferBits |= 1 << 3 // T_DIR
	}
	if tlen != ataregs.TLengthTpsiu {
		if cmd.TransferBlockKind.ByteBlock {
			transferBits |= 1 << 2 // BYTE_BLOCK
		}
		if cmd.TransferBlockKind.TType {
			transferBits |= 1 << 4 // T_TYPE (spec note: bit position aligned with SAT-4 table)
		}
	}

	wantsCheckCondition := cmd.NeedRtfrs && !cmd.Hacks.DisableCheckCondition &&
		!cmd.Hacks.CheckConditionEmpty &&
		cmd.Protocol != ataregs.ProtoPioIn && cmd.Protocol != ataregs.ProtoDmaFpdma
	if cmd.Hacks.WindowsIde {
		wantsCheckCondition = true
	}
	if wantsCheckCondition {
		transferBits |= 1 << 5 // CK_COND
	}

	offlineBits := byte(0)
	if cmd.Protocol.IsReset() {
		switch cmd.OfflineTimeoutSeconds {
		case 0, 2, 6, 14:
			offlineBits = byte(offlineTimeoutCode(cmd.OfflineTimeoutSeconds)) << 6
		default:
			return nil, 0, &ErrBadParameter{Reason: "offline timeout must be one of {0,2,6,14} seconds"}
		}
	}
	transferBits |= offlineBits

	protoByte := proto << 1
	if cmd.Protocol == ataregs.ProtoPioIn || cmd.Protocol == ataregs.ProtoPioOut {
		if cmd.IsReadWriteMultiple() {
			protoByte |= cmd.MultipleCount << 5
		}
	}

	rtfr := &cmd.Tfr
	if cmd.Protocol == ataregs.ProtoHardReset || cmd.Protocol == ataregs.ProtoSoftReset {
		// Minimal CDB: only the protocol and the offline bits are set.
		transferBits = offlineBits
		rtfr = &ataregs.Taskfile{}
	}

	switch n {
	case 12:
		buf[0] = OpAtaPassThrough12
		buf[1] = protoByte
		buf[2] = transferBits
		buf[3] = rtfr.Feature
		buf[4] = rtfr.SectorCount
		buf[5] = rtfr.LbaLow
		buf[6] = rtfr.LbaMid
		buf[7] = rtfr.LbaHi
		buf[8] = rtfr.Device
		buf[9] = rtfr.Command
		// buf[10] reserved, buf[11] control
	case 16:
		extend := byte(0)
		if cmd.Shape == ataregs.Taskfile48 {
			extend = 1
		}
		buf[0] = OpAtaPassThrough16
		buf[1] = protoByte
		// EXTEND lives in bit0 of byte 2 (SAT-4 Table), overriding the low
		// bit of the t_length field packed into transferBits above.
		buf[2] = (transferBits &^ 0x1) | extend
		if extend == 1 {
			buf[3] = rtfr.FeatureExt
			buf[4] = rtfr.Feature
			buf[5] = rtfr.SectorCountExt
			buf[6] = rtfr.SectorCount
			buf[7] = rtfr.LbaLowExt
			buf[8] = rtfr.LbaLow
			buf[9] = rtfr.LbaMidExt
			buf[10] = rtfr.LbaMid
			buf[11] = rtfr.LbaHiExt
			buf[12] = rtfr.LbaHi
		} else {
			buf[4] = rtfr.SectorCount
			buf[6] = rtfr.LbaLow
			buf[8] = rtfr.LbaMid
			buf[10] = rtfr.LbaHi
		}
		buf[13] = rtfr.Device
		buf[14] = rtfr.Command
		// buf[15] control
	case 32:
		buf[0] = OpAtaPassThrough32
		buf[1] = 0 // control group/flags
		buf[7] = 0x18 // additional CDB length
		buf[8] = byte(ServiceActionAtaPassThrough32 >> 8)
		buf[9] = byte(ServiceActionAtaPassThrough32 & 0xff)
		buf[10] = protoByte
		buf[11] = transferBits
		buf[12] = rtfr.FeatureExt
		buf[13] = rtfr.Feature
		buf[14] = rtfr.SectorCountExt
		buf[15] = rtfr.SectorCount
		buf[16] = rtfr.LbaLowExt
		buf[17] = rtfr.LbaLow
		buf[18] = rtfr.LbaMidExt
		buf[19] = rtfr.LbaMid
		buf[20] = rtfr.LbaHiExt
		buf[21] = rtfr.LbaHi
		buf[22] = rtfr.Device
		buf[23] = rtfr.Command
		buf[27] = rtfr.ICC
		buf[28] = rtfr.Aux1
		buf[29] = rtfr.Aux2
		buf[30] = rtfr.Aux3
		buf[31] = rtfr.Aux4
	default:
		return nil, 0, fmt.Errorf("cdb: unsupported length %d", n)
	}

	return buf, n, nil
}

func offlineTimeoutCode(seconds int) int {
	switch seconds {
	case 0:
		return 0
	case 2:
		return 1
	case 6:
		return 2
	case 14:
		return 3
	default:
		return 0
	}
}

// RewritePioSectorCountZero implements spec.md §4.1's edge case: a
// data-transfer PIO command at 28-bit taskfile whose sector-count register
// is zero but whose transfer length is 512 bytes is rewritten to
// sector-count=1, unless the opcode is FORMAT TRACK or the legacy (obsolete)
// WRITE SAME variant, for which zero is not an alias for 256.
func RewritePioSectorCountZero(cmd *ataregs.Command, transferLengthBytes int) {
	if cmd.Shape != ataregs.Taskfile28 {
		return
	}
	if cmd.Protocol != ataregs.ProtoPioIn && cmd.Protocol != ataregs.ProtoPioOut {
		return
	}
	if cmd.Tfr.SectorCount != 0 || transferLengthBytes != 512 {
		return
	}
	switch cmd.Tfr.Command {
	case ataregs.AtaFormatTrack, ataregs.AtaWriteSameObsolete:
		return
	default:
		cmd.Tfr.SectorCount = 1
	}
}
