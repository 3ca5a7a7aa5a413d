// Package transport sends ATA PASS-THROUGH CDBs to a real block device over
// Linux's SG_IO ioctl and exposes the named ATA operation helpers that
// internal/dispatch and internal/translate build on, implementing the
// transport half of spec.md §4.3.
package transport

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
)

const (
	sgIo           = 0x2285
	sgInfoOkMask   = 0x1
	sgInfoOk       = 0x0
	sgDriverSense  = 0x8
	defaultTimeout = 60 * time.Second
)

type cdbDirection int32

const (
	dirNone       cdbDirection = 0
	dirToDevice   cdbDirection = -2
	dirFromDevice cdbDirection = -3
)

// sgIoHdr mirrors sg_io_hdr_t from <scsi/sg.h>.
type sgIoHdr struct {
	interfaceID   int32
	dxferDir      cdbDirection
	cmdLen        uint8
	mxSbLen       uint8
	iovecCount    uint16
	dxferLen      uint32
	dxferp        uintptr
	cmdp          uintptr
	sbp           uintptr
	timeout       uint32
	flags         uint32
	packID        int32
	usrPtr        uintptr
	status        uint8
	maskedStatus  uint8
	msgStatus     uint8
	sbLenWr       uint8
	hostStatus    uint16
	driverStatus  uint16
	resid         int32
	duration      uint32
	info          uint32
}

// Device is an open SG_IO-capable block device handle.
type Device struct {
	f    *os.File
	Path string
}

// Open opens path (e.g. /dev/sg2 or /dev/sda) for SG_IO passthrough.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return &Device{f: f, Path: path}, nil
}

// Close releases the device handle.
func (d *Device) Close() error {
	return d.f.Close()
}

// Result carries everything the RTFR extractor and dispatcher need back from
// one SG_IO call.
type Result struct {
	SenseBuffer  []byte
	Status       uint8
	HostStatus   uint16
	DriverStatus uint16
	Buf          []byte
}

// ErrDriverSense is returned when the low-level ioctl reports a driver-level
// sense condition; the sense buffer in Result is still populated and should
// be run through internal/rtfr regardless of this error.
var ErrDriverSense = fmt.Errorf("transport: driver reported sense data")

// SendCDB issues cdb over SG_IO, transferring buf in direction dir.
// A non-nil error alongside a populated Result.SenseBuffer still means the
// caller should run the sense buffer through internal/rtfr; only a nil
// Result signals a transport-layer failure with nothing to recover.
func (d *Device) SendCDB(cdb []byte, dir ataregs.Direction, buf []byte, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	senseBuf := make([]byte, 32)

	hdr := sgIoHdr{
		interfaceID: 'S',
		dxferDir:    directionCode(dir, len(buf)),
		cmdLen:      uint8(len(cdb)),
		mxSbLen:     uint8(len(senseBuf)),
		timeout:     uint32(timeout.Milliseconds()),
		cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		sbp:         uintptr(unsafe.Pointer(&senseBuf[0])),
	}
	if len(buf) > 0 {
		hdr.dxferLen = uint32(len(buf))
		hdr.dxferp = uintptr(unsafe.Pointer(&buf[0]))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(sgIo), uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return Result{}, fmt.Errorf("transport: SG_IO ioctl: %w", errno)
	}

	res := Result{
		SenseBuffer:  senseBuf[:hdr.sbLenWr],
		Status:       hdr.status,
		HostStatus:   hdr.hostStatus,
		DriverStatus: hdr.driverStatus,
		Buf:          buf,
	}

	if hdr.info&sgInfoOkMask != sgInfoOk {
		if hdr.driverStatus&sgDriverSense != 0 {
			return res, ErrDriverSense
		}
		return res, fmt.Errorf("transport: SCSI status 0x%02x host 0x%04x driver 0x%04x",
			hdr.status, hdr.hostStatus, hdr.driverStatus)
	}
	return res, nil
}

func directionCode(dir ataregs.Direction, bufLen int) cdbDirection {
	if bufLen == 0 {
		return dirNone
	}
	switch dir {
	case ataregs.DirIn:
		return dirFromDevice
	case ataregs.DirOut:
		return dirToDevice
	default:
		return dirNone
	}
}
