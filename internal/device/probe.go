package device

import "github.com/Seagate/opensea-transport-sub000/internal/hacks"

func identifyWord(page [512]byte, n int) uint16 {
	return uint16(page[2*n]) | uint16(page[2*n+1])<<8
}

// ProbeSoftSatFlags derives SoftSatFlags from a freshly read IDENTIFY
// DEVICE page, so cmd/satl-tcmu never has to hardcode per-drive quirks -
// SPEC_FULL.md §1's "autodetected from Identify Device bits" note.
func ProbeSoftSatFlags(page [512]byte) hacks.SoftSatFlags {
	w69 := identifyWord(page, 69)
	w83 := identifyWord(page, 83)
	w84 := identifyWord(page, 84)
	w105 := identifyWord(page, 105)
	w119 := identifyWord(page, 119)
	w169 := identifyWord(page, 169)
	w206 := identifyWord(page, 206)

	return hacks.SoftSatFlags{
		GplSupported:                   w84&0x20 != 0,
		DownloadMicrocodeSupported:     w83&0x01 != 0,
		DownloadMicrocodeDeferred:      w119&0x08 != 0,
		SctWriteSameSupported:          w206&0x08 != 0,
		ZeroExtSupported:               w119&0x40 != 0,
		Zoned:                          hacks.ZonedType(w69 & 0x03),
		IdentifyDeviceDataLogSupported: w84&0x20 != 0,
		InternalStatusLogSupported:     w84&0x20 != 0,
		HostVendorLogSupported:         w84&0x20 != 0,
		MaxDsmBlockDescriptors:         w105,
		DsmXlSupported:                 w69&0x10 != 0,
		TrimSupported:                  w169&0x01 != 0,
	}
}
