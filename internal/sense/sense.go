// Package sense builds SCSI sense buffers - descriptor (0x72/0x73) or fixed
// (0x70/0x71) format - from ATA RTFRs, explicit (key, asc, ascq) triples, and
// sense-key-specific descriptors, implementing spec.md §4.4.
package sense

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
)

// Format selects descriptor vs fixed sense data format.
type Format int

const (
	Fixed Format = iota
	Descriptor
)

// Sense keys (SPC-5 Table 48).
const (
	KeyNoSense        = 0x00
	KeyRecoveredError = 0x01
	KeyNotReady       = 0x02
	KeyMediumError    = 0x03
	KeyHardwareError  = 0x04
	KeyIllegalRequest = 0x05
	KeyUnitAttention  = 0x06
	KeyDataProtect    = 0x07
	KeyAbortedCommand = 0x0b
)

// DescriptorType identifies a sense data descriptor (SPC-5 Table 29).
type DescriptorType int

const (
	DescInformation          DescriptorType = 0
	DescCommandSpecific      DescriptorType = 1
	DescSenseKeySpecific     DescriptorType = 2
	DescFieldReplaceableUnit DescriptorType = 3
	DescBlock                DescriptorType = 5
	DescAtaStatusReturn      DescriptorType = 9
)

// SenseDescriptor is a single sense data descriptor, in code+payload form.
type SenseDescriptor struct {
	Type    DescriptorType
	Payload []byte
}

// Triple is an explicit (key, asc, ascq) the caller wants synthesized
// directly, bypassing RTFR translation (e.g. validation failures).
type Triple struct {
	Key, Asc, Ascq byte
}

// InvalidField builds the 8-byte SKS "field pointer" descriptor (spec.md
// §4.4). bitPtr is ignored (encoded as not-applicable) when bpv is false.
func InvalidField(cd bool, bpv bool, bitPtr uint8, fieldPtr uint16) SenseDescriptor {
	p := make([]byte, 8)
	p[0] = 0x80 // SKSV
	if cd {
		p[0] |= 0x40
	}
	if bpv {
		p[0] |= 0x08
		p[0] |= bitPtr & 0x07
	}
	binary.BigEndian.PutUint16(p[1:3], fieldPtr)
	return SenseDescriptor{Type: DescSenseKeySpecific, Payload: p}
}

// Progress builds the 8-byte SKS "progress indication" descriptor.
func Progress(value uint16) SenseDescriptor {
	p := make([]byte, 8)
	p[0] = 0x80 // SKSV
	binary.BigEndian.PutUint16(p[1:3], value)
	return SenseDescriptor{Type: DescSenseKeySpecific, Payload: p}
}

// ataStatusReturnDescriptor builds the 12-byte payload of the ATA Status
// Return Descriptor (code 0x09, additional length 0x0C) from RTFRs.
func ataStatusReturnDescriptor(r ataregs.ReturnTfrs) SenseDescriptor {
	p := make([]byte, 12)
	if r.Extend {
		p[0] = 0x01
	}
	p[1] = r.Error
	p[2] = r.CountExt
	p[3] = r.Count
	p[4] = r.LbaLowExt
	p[5] = r.LbaLow
	p[6] = r.LbaMidExt
	p[7] = r.LbaMid
	p[8] = r.LbaHiExt
	p[9] = r.LbaHi
	p[10] = r.Device
	p[11] = r.Status
	return SenseDescriptor{Type: DescAtaStatusReturn, Payload: p}
}

// classify maps RTFRs to a sense key/asc/ascq per the decision table in
// spec.md §4.4 "from_rtfrs".
func classify(r ataregs.ReturnTfrs) Triple {
	switch {
	case r.Status&ataregs.StatusDf != 0:
		return Triple{KeyHardwareError, 0x44, 0x00}
	case r.Status&ataregs.StatusErr != 0 && r.Error&ataregs.ErrorUnc != 0:
		return Triple{KeyMediumError, 0x11, 0x00}
	case r.Error&ataregs.ErrorIdnf != 0:
		return Triple{KeyIllegalRequest, 0x21, 0x00}
	case r.Error&ataregs.ErrorIcrc != 0:
		return Triple{KeyAbortedCommand, 0x47, 0x03}
	case r.Error&ataregs.ErrorAbrt != 0:
		return Triple{KeyAbortedCommand, 0x00, 0x00}
	default:
		return Triple{KeyNoSense, 0x00, 0x00}
	}
}

// FromRtfrs implements spec.md §4.4's from_rtfrs entry point. When the
// status indicates uncorrectable medium error, an Information descriptor
// carrying the 48-bit LBA is attached.
func FromRtfrs(r ataregs.ReturnTfrs, format Format) []byte {
	t := classify(r)
	var descs []SenseDescriptor
	if t.Key == KeyMediumError {
		info := make([]byte, 8)
		binary.BigEndian.PutUint64(info, r.Lba48())
		descs = append(descs, SenseDescriptor{Type: DescInformation, Payload: info})
	}
	descs = append(descs, ataStatusReturnDescriptor(r))
	return FromTriple(t.Key, t.Asc, t.Ascq, format, descs...)
}

// FromTriple implements spec.md §4.4's from_triple entry point, assembling
// either descriptor or fixed format sense data.
func FromTriple(key, asc, ascq byte, format Format, descs ...SenseDescriptor) []byte {
	if format == Descriptor {
		return buildDescriptorSense(key, asc, ascq, descs)
	}
	return buildFixedSense(key, asc, ascq, descs)
}

func buildDescriptorSense(key, asc, ascq byte, descs []SenseDescriptor) []byte {
	body := make([]byte, 0, 32)
	for _, d := range descs {
		body = append(body, byte(d.Type), byte(len(d.Payload)))
		body = append(body, d.Payload...)
	}
	buf := make([]byte, 8+len(body))
	buf[0] = 0x72 // current, descriptor format
	buf[1] = key & 0x0f
	buf[2] = asc
	buf[3] = ascq
	buf[7] = byte(len(body))
	copy(buf[8:], body)
	return buf
}

func buildFixedSense(key, asc, ascq byte, descs []SenseDescriptor) []byte {
	buf := make([]byte, 18)
	buf[0] = 0x70 // current, fixed format
	buf[2] = key & 0x0f
	buf[7] = byte(len(buf) - 8)
	buf[12] = asc
	buf[13] = ascq

	// The ATA registers go in first so that an Information descriptor, when
	// present, keeps the Information field (bytes 3-6) for its low 4 bytes.
	for _, d := range descs {
		if d.Type == DescAtaStatusReturn {
			flattenAtaStatusReturnIntoFixed(buf, d.Payload)
		}
	}
	for _, d := range descs {
		switch d.Type {
		case DescInformation:
			if n := len(d.Payload); n >= 4 {
				copy(buf[3:7], d.Payload[n-4:])
			}
		case DescSenseKeySpecific:
			copy(buf[15:18], d.Payload[0:3])
		}
	}
	return buf
}

// flattenAtaStatusReturnIntoFixed maps the 12-byte ATA Status Return
// Descriptor payload into the fixed sense layout (spec.md §4.4): error,
// status, device and count in the information field (bytes 3-6), the
// extend / count-upper / LBA-upper flags in byte 8 and the LBA bytes in
// 9-11. The log-index nibble of byte 8 is left zero.
func flattenAtaStatusReturnIntoFixed(buf []byte, p []byte) {
	if len(p) < 12 {
		return
	}
	extend := p[0]&0x01 != 0
	errReg, countExt, count := p[1], p[2], p[3]
	lbaLowExt, lbaLow := p[4], p[5]
	lbaMidExt, lbaMid := p[6], p[7]
	lbaHiExt, lbaHi := p[8], p[9]
	device, status := p[10], p[11]

	b8 := byte(0)
	if extend {
		b8 |= 0x80
	}
	if countExt != 0 {
		b8 |= 0x40
	}
	if lbaLowExt != 0 || lbaMidExt != 0 || lbaHiExt != 0 {
		b8 |= 0x20
	}
	buf[8] = b8
	buf[3] = errReg
	buf[4] = status
	buf[5] = device
	buf[6] = count
	buf[9] = lbaHi
	buf[10] = lbaMid
	buf[11] = lbaLow
}
