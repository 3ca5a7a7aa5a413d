package sense

import (
	"testing"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
)

func TestFromRtfrsDeviceFault(t *testing.T) {
	r := ataregs.ReturnTfrs{Status: ataregs.StatusDf}
	buf := FromRtfrs(r, Fixed)
	if buf[2]&0x0f != KeyHardwareError {
		t.Fatalf("want HARDWARE_ERROR, got key 0x%x", buf[2]&0x0f)
	}
	if buf[12] != 0x44 || buf[13] != 0x00 {
		t.Fatalf("want asc/ascq 44/00, got %02x/%02x", buf[12], buf[13])
	}
}

func TestFromRtfrsUncorrectableMediumError(t *testing.T) {
	r := ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorUnc, LbaLow: 0x10}
	buf := FromRtfrs(r, Fixed)
	if buf[2]&0x0f != KeyMediumError {
		t.Fatalf("want MEDIUM_ERROR, got 0x%x", buf[2]&0x0f)
	}
	if buf[12] != 0x11 || buf[13] != 0x00 {
		t.Fatalf("want asc/ascq 11/00, got %02x/%02x", buf[12], buf[13])
	}
	// Information field (bytes 3-6) should carry the LBA.
	if buf[6] != 0x10 {
		t.Fatalf("want information field low byte 0x10, got 0x%02x", buf[6])
	}
}

func TestFromRtfrsIdNotFound(t *testing.T) {
	r := ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorIdnf}
	buf := FromRtfrs(r, Fixed)
	if buf[2]&0x0f != KeyIllegalRequest {
		t.Fatalf("want ILLEGAL_REQUEST, got 0x%x", buf[2]&0x0f)
	}
	if buf[12] != 0x21 {
		t.Fatalf("want asc 21, got 0x%02x", buf[12])
	}
}

func TestFromRtfrsInterfaceCrc(t *testing.T) {
	r := ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorIcrc}
	buf := FromRtfrs(r, Descriptor)
	if buf[0] != 0x72 {
		t.Fatalf("want descriptor format current (0x72), got 0x%02x", buf[0])
	}
	if buf[1]&0x0f != KeyAbortedCommand || buf[2] != 0x47 || buf[3] != 0x03 {
		t.Fatalf("want ABORTED_COMMAND/47/03, got key=0x%x asc=0x%02x ascq=0x%02x", buf[1]&0x0f, buf[2], buf[3])
	}
}

func TestFromRtfrsNoErrorIsNoSense(t *testing.T) {
	r := ataregs.ReturnTfrs{Status: ataregs.StatusDrdy}
	buf := FromRtfrs(r, Fixed)
	if buf[2]&0x0f != KeyNoSense {
		t.Fatalf("want NO_SENSE, got 0x%x", buf[2]&0x0f)
	}
}

func TestFromRtfrsAlwaysCarriesAtaStatusReturnDescriptor(t *testing.T) {
	r := ataregs.ReturnTfrs{Status: ataregs.StatusDrdy, LbaHi: 0x7, Device: 0x40, Extend: true}
	buf := FromRtfrs(r, Descriptor)
	// Walk descriptors looking for code 9.
	additionalLen := int(buf[7])
	found := false
	for off := 8; off+2 <= 8+additionalLen; {
		code := buf[off]
		dlen := int(buf[off+1])
		if code == 9 && dlen == 12 {
			found = true
			if buf[off+2+10] != 0x40 {
				t.Fatalf("want device register preserved in descriptor, got 0x%02x", buf[off+2+10])
			}
		}
		off += 2 + dlen
	}
	if !found {
		t.Fatal("want ATA Status Return Descriptor (code 9) present")
	}
}

func TestFromTripleFixedBasic(t *testing.T) {
	buf := FromTriple(KeyNotReady, 0x04, 0x01, Fixed)
	if buf[0] != 0x70 {
		t.Fatalf("want fixed current (0x70), got 0x%02x", buf[0])
	}
	if buf[2]&0x0f != KeyNotReady || buf[12] != 0x04 || buf[13] != 0x01 {
		t.Fatalf("want key/asc/ascq preserved, got %+v", buf)
	}
}

func TestFromTripleDescriptorWithInvalidField(t *testing.T) {
	fp := InvalidField(true, true, 3, 7)
	buf := FromTriple(KeyIllegalRequest, 0x24, 0x00, Descriptor, fp)
	if buf[1]&0x0f != KeyIllegalRequest {
		t.Fatalf("want ILLEGAL_REQUEST, got 0x%x", buf[1]&0x0f)
	}
	// Descriptor list starts at byte 8: type, length, payload.
	if buf[8] != byte(DescSenseKeySpecific) || buf[9] != 8 {
		t.Fatalf("want SKS descriptor header 2/8, got %02x/%02x", buf[8], buf[9])
	}
	sksv := buf[10]
	if sksv&0x80 == 0 {
		t.Fatal("want SKSV bit set")
	}
	if sksv&0x40 == 0 {
		t.Fatal("want C/D bit set for cd=true")
	}
	if sksv&0x08 == 0 || sksv&0x07 != 3 {
		t.Fatalf("want BPV set and bit pointer 3, got 0x%02x", sksv)
	}
}

func TestFromTripleFixedFoldsSksIntoBytes15to17(t *testing.T) {
	fp := InvalidField(false, false, 0, 0x0012)
	buf := FromTriple(KeyIllegalRequest, 0x24, 0x00, Fixed, fp)
	if buf[15] != 0x80 {
		t.Fatalf("want SKSV byte at offset 15, got 0x%02x", buf[15])
	}
}

func TestProgressDescriptor(t *testing.T) {
	d := Progress(0x1234)
	if d.Type != DescSenseKeySpecific {
		t.Fatalf("want SenseKeySpecific descriptor, got %v", d.Type)
	}
	if d.Payload[1] != 0x12 || d.Payload[2] != 0x34 {
		t.Fatalf("want progress value packed big-endian, got %02x%02x", d.Payload[1], d.Payload[2])
	}
}
