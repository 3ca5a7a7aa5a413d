// Package hacks holds the per-device configuration a SATL needs to cope
// with the many ways host bus adapters, operating systems and drives lose,
// reorder or zero ATA return task file registers.
package hacks

// ForceCdbSize overrides CdbBuilder's own length selection.
type ForceCdbSize int

const (
	// ForceCdbSizeAuto lets CdbBuilder pick the length.
	ForceCdbSizeAuto ForceCdbSize = 0
	ForceCdbSize12   ForceCdbSize = 12
	ForceCdbSize16   ForceCdbSize = 16
	ForceCdbSize32   ForceCdbSize = 32
)

// PassthroughHacks is a bag of quirks recognized by CdbBuilder, RtfrExtractor
// and PassthroughDispatcher. It is owned by the device handle and threaded
// explicitly through every call - there is no process-wide global.
type PassthroughHacks struct {
	// AlwaysUseTpsiu forces t_length = TPSIU regardless of what the caller asked for.
	AlwaysUseTpsiu bool
	// A1NeverSupported means the 12-byte ATA PASS-THROUGH CDB is never emitted;
	// 28-bit commands are upgraded to the 16-byte CDB.
	A1NeverSupported bool
	// A1ExtWhenPossible prefers the 12-byte CDB for 48-bit commands whose
	// extension registers are all zero.
	A1ExtWhenPossible bool
	// CheckConditionEmpty makes CdbBuilder leave the check-condition bit
	// clear. RtfrExtractor does not read it: a status=0 RTFR set on a command
	// that needs RTFRs is reported WarnIncomplete either way, and no
	// follow-up recovery is requested for that case.
	CheckConditionEmpty bool
	// ReturnResponseInfoSupported means the drive/HBA accepts an ATA
	// PASS-THROUGH CDB with protocol 15 ("return response information") as a
	// follow-up RTFR-recovery mechanism.
	ReturnResponseInfoSupported bool
	// ReturnResponseIgnoreExtendBit trusts the extension registers even when
	// the extend bit in the fixed-format sense is clear.
	ReturnResponseIgnoreExtendBit bool
	// DisableCheckCondition never sets the SAT "check condition on command
	// completion" bit, even for commands that need RTFRs.
	DisableCheckCondition bool
	// NoRtfrsPossible changes RtfrExtractor's last resort only: when the
	// sense data yields no RTFRs and none can be synthesized, the result is
	// WarnIncomplete instead of Failure. Recovery from sense data and the
	// follow-up requests still run.
	NoRtfrsPossible bool
	// ForceCdbSize overrides the builder's own length selection outright.
	ForceCdbSize ForceCdbSize
	// TrustInformationFieldLba is the UNALIGNED_WRITE_SENSE_DATA_WORKAROUND
	// quirk noted in spec.md §9: some Linux libATA versions put a more
	// trustworthy LBA in the sense Information field than in the RTFRs.
	// Observed only on some Linux libATA versions - default off.
	TrustInformationFieldLba bool
	// WindowsIde models the Windows IDE miniport quirk from spec.md §4.1/§4.3:
	// the check-condition bit must always be set (it loses RTFRs otherwise),
	// and a failed non-CheckPowerMode command must be followed by a dummy
	// CHECK POWER MODE to flush a stale status cache in the HBA. This
	// module's own transport is Linux /dev/sg*, so the flag stays false in
	// production use; it exists so the documented Windows-IDE code paths
	// have direct unit test coverage.
	WindowsIde bool
}

// SupportedDeviceStatsPages records which ATA Device Statistics log pages
// (GP log 0x04) the drive has reported support for via Identify Device Data
// Log page 0x08 (Supported Pages).
type SupportedDeviceStatsPages struct {
	General      bool
	RotatingMedia bool
	GeneralErrors bool
	SolidState   bool
	Temperature  bool
	DateTime     bool
}

// ZonedType mirrors ACS-4's ZONED field (Identify word 69, bits 0-1).
type ZonedType int

const (
	ZonedNotReported ZonedType = iota
	ZonedHostAware
	ZonedDeviceManaged
	ZonedReserved
)

// SoftSatFlags records capabilities the software SATL has discovered about
// the ATA drive behind it, typically by parsing Identify Device once at
// attach time and caching the result for the life of the device handle.
type SoftSatFlags struct {
	// PreferDescriptorSense picks descriptor vs fixed format sense when the
	// caller didn't pin one down via DESC bit / control mode page.
	PreferDescriptorSense bool

	DeviceStatsPages SupportedDeviceStatsPages

	GplSupported                bool
	DownloadMicrocodeSupported  bool
	DownloadMicrocodeDeferred   bool
	SctWriteSameSupported       bool
	ZeroExtSupported            bool
	Zoned                       ZonedType
	IdentifyDeviceDataLogSupported bool
	InternalStatusLogSupported     bool
	HostVendorLogSupported         bool

	// MaxDsmBlockDescriptors is Identify word 105: max 512-byte blocks of
	// LBA range entries the drive accepts per DATA SET MANAGEMENT command.
	MaxDsmBlockDescriptors uint16
	// DsmXlSupported: the drive accepts the 16-byte "XL" DSM range entry
	// format instead of the classic 8-byte one.
	DsmXlSupported bool
	// TrimSupported is Identify word 169 bit 0: the drive supports DATA SET
	// MANAGEMENT TRIM, the ATA command UNMAP translates to.
	TrimSupported bool

	// WantsDma remembers that a prior UDMA attempt aborted with
	// ILLEGAL_REQUEST/24 and a plain DMA retry succeeded (spec.md §4.3/§4.6).
	WantsDma bool
}
