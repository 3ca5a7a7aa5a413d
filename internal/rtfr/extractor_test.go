package rtfr

import (
	"testing"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
)

func fixedSenseAtaInfo(b8 byte, logIndex byte, status, errReg byte) []byte {
	s := make([]byte, 24)
	s[0] = 0x70
	s[3] = errReg
	s[4] = status
	s[7] = 0x0a
	s[8] = b8 | (logIndex & 0x0f)
	s[12] = 0x00
	s[13] = 0x1D
	return s
}

func TestExtractParsedDescriptor(t *testing.T) {
	in := Input{
		Parsed: ParsedDescriptor{Valid: true, Status: 0x50, Error: 0x00, LbaLow: 1, Extend: true},
	}
	res := Extract(in)
	if res.Outcome != Success {
		t.Fatalf("want Success, got %v", res.Outcome)
	}
	if res.Rtfr.Status != 0x50 {
		t.Fatalf("status not copied: %x", res.Rtfr.Status)
	}
}

func TestExtractFixedIncompleteSetsFF(t *testing.T) {
	sense := fixedSenseAtaInfo(0x60, 0, 0x51, 0x00)
	res := Extract(Input{SenseBuffer: sense})
	if res.Outcome != WarnIncomplete {
		t.Fatalf("want WarnIncomplete, got %v", res.Outcome)
	}
	if res.Rtfr.CountExt != 0xFF || res.Rtfr.LbaLowExt != 0xFF || res.Rtfr.LbaMidExt != 0xFF || res.Rtfr.LbaHiExt != 0xFF {
		t.Fatalf("want ext fields 0xFF, got count=%x lbaLow=%x lbaMid=%x lbaHi=%x",
			res.Rtfr.CountExt, res.Rtfr.LbaLowExt, res.Rtfr.LbaMidExt, res.Rtfr.LbaHiExt)
	}
	if !res.NeedRequestSense {
		t.Fatalf("want NeedRequestSense follow-up since no log index and no return-response-info support, got %+v", res)
	}
}

func TestExtractFixedZeroExtBitClearMeansZero(t *testing.T) {
	sense := fixedSenseAtaInfo(0x00, 0, 0x50, 0x00)
	res := Extract(Input{SenseBuffer: sense})
	if res.Rtfr.LbaLowExt != 0 || res.Rtfr.LbaMidExt != 0 || res.Rtfr.LbaHiExt != 0 || res.Rtfr.CountExt != 0 {
		t.Fatalf("want ext fields zero when bit7 clear, got %+v", res.Rtfr)
	}
}

func TestExtractFixedLogIndexRequestsFollowup(t *testing.T) {
	sense := fixedSenseAtaInfo(0x60, 3, 0x51, 0x00)
	res := Extract(Input{SenseBuffer: sense})
	if res.Outcome != WarnIncomplete {
		t.Fatalf("want WarnIncomplete, got %v", res.Outcome)
	}
	if res.NeedLogSenseParam != 2 {
		t.Fatalf("want log sense parameter index-1=2, got %d", res.NeedLogSenseParam)
	}
}

func TestExtractFixedReturnResponseInfoFollowup(t *testing.T) {
	sense := fixedSenseAtaInfo(0x60, 0, 0x51, 0x00)
	res := Extract(Input{SenseBuffer: sense, Hacks: hacks.PassthroughHacks{ReturnResponseInfoSupported: true}})
	if !res.NeedReturnResponseInfo {
		t.Fatalf("want NeedReturnResponseInfo follow-up, got %+v", res)
	}
}

func TestExtractSyntheticFromSenseKey(t *testing.T) {
	// NOT_READY/3A/00 -> seek_complete|error=NoMedia
	sense := make([]byte, 14)
	sense[0] = 0x70
	sense[2] = 0x02
	sense[12] = 0x3A
	sense[13] = 0x00
	res := Extract(Input{SenseBuffer: sense})
	if res.Rtfr.Error&ataregs.ErrorNm == 0 {
		t.Fatalf("want NoMedia error bit set, got %+v", res.Rtfr)
	}
}

func TestExtractUdmaIllegalRequestTriggersDmaRetry(t *testing.T) {
	sense := make([]byte, 14)
	sense[0] = 0x70
	sense[2] = 0x05 // ILLEGAL_REQUEST
	sense[12] = 0x24
	sense[13] = 0x00
	res := Extract(Input{SenseBuffer: sense, Protocol: ataregs.ProtoUdmaOut})
	if !res.DmaRetry {
		t.Fatalf("want DmaRetry flag, got %+v", res)
	}
}

func TestExtractPioInSuccessSynthesizesReady(t *testing.T) {
	res := Extract(Input{SenseBuffer: nil, Protocol: ataregs.ProtoPioIn})
	if res.Outcome != Success {
		t.Fatalf("want Success, got %v", res.Outcome)
	}
	if res.Rtfr.Status&ataregs.StatusDrdy == 0 {
		t.Fatalf("want DRDY set, got %+v", res.Rtfr)
	}
}

func TestExtractZeroStatusDegradesToWarnIncomplete(t *testing.T) {
	d := ParsedDescriptor{Valid: true, Status: 0x00}
	res := Extract(Input{Parsed: d, CommandShouldProduceRtfrs: true})
	if res.Outcome != WarnIncomplete {
		t.Fatalf("want WarnIncomplete for status=0 on a command needing RTFRs, got %v", res.Outcome)
	}
	if !res.CheckConditionEmpty {
		t.Fatal("want CheckConditionEmpty flagged for the next retry")
	}
}

func TestExtractBusyStatusUndefinedOtherBits(t *testing.T) {
	d := ParsedDescriptor{Valid: true, Status: ataregs.StatusBsy | ataregs.StatusErr}
	res := Extract(Input{Parsed: d})
	if res.Outcome != WarnIncomplete {
		t.Fatalf("want WarnIncomplete when BSY is set, got %v", res.Outcome)
	}
}
