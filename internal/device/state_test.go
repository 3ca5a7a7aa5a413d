package device

import (
	"testing"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
)

func TestIdentifyCacheRoundTrip(t *testing.T) {
	s := New(hacks.PassthroughHacks{}, hacks.SoftSatFlags{})
	if _, ok := s.Identify(); ok {
		t.Fatal("want no cached IDENTIFY page before SetIdentify")
	}
	var page [512]byte
	page[0] = 0xAB
	s.SetIdentify(page)
	got, ok := s.Identify()
	if !ok || got[0] != 0xAB {
		t.Fatalf("want cached page round-trip, got ok=%v byte0=0x%02x", ok, got[0])
	}
}

func TestHistoryRingWrapsAtDepth(t *testing.T) {
	s := New(hacks.PassthroughHacks{}, hacks.SoftSatFlags{})
	for i := 0; i < historyDepth+3; i++ {
		s.RecordResult(PassthroughResult{Rtfr: ataregs.ReturnTfrs{Status: byte(i)}})
	}
	hist := s.History()
	if len(hist) != historyDepth {
		t.Fatalf("want ring capped at %d, got %d", historyDepth, len(hist))
	}
	// Oldest surviving entry is the 4th recorded (index 3, status=3).
	if hist[0].Rtfr.Status != 3 {
		t.Fatalf("want oldest surviving status 3, got %d", hist[0].Rtfr.Status)
	}
	if hist[len(hist)-1].Rtfr.Status != byte(historyDepth+2) {
		t.Fatalf("want newest status %d, got %d", historyDepth+2, hist[len(hist)-1].Rtfr.Status)
	}
}

func TestLastRtfrTracksMostRecent(t *testing.T) {
	s := New(hacks.PassthroughHacks{}, hacks.SoftSatFlags{})
	if _, ok := s.LastRtfr(); ok {
		t.Fatal("want no last RTFR before any command")
	}
	s.RecordResult(PassthroughResult{Rtfr: ataregs.ReturnTfrs{Status: 0x50}})
	s.RecordResult(PassthroughResult{Rtfr: ataregs.ReturnTfrs{Status: 0x51}})
	r, ok := s.LastRtfr()
	if !ok || r.Status != 0x51 {
		t.Fatalf("want last status 0x51, got ok=%v status=0x%02x", ok, r.Status)
	}
}

func TestDriveModelUnswapsWords(t *testing.T) {
	s := New(hacks.PassthroughHacks{}, hacks.SoftSatFlags{})
	var page [512]byte
	// ASCII "AB" byte-pair-swapped as IDENTIFY stores it: "BA".
	copy(page[54:], []byte{'B', 'A'})
	s.SetIdentify(page)
	if got := s.DriveModel(); got != "AB" {
		t.Fatalf("want unswapped model %q, got %q", "AB", got)
	}
}
