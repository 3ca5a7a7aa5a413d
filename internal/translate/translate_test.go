package translate

import (
	"bytes"
	"testing"
	"time"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/internal/rtfr"
	"github.com/Seagate/opensea-transport-sub000/internal/transport"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// fakeExecutor scripts *transport.Device's responses the way
// internal/dispatch's own tests do, one Execute call at a time.
type fakeExecutor struct {
	results []transport.Outcome
	calls   int
}

func (f *fakeExecutor) Execute(cmd *ataregs.Command, buf []byte, timeout time.Duration) (transport.Outcome, error) {
	i := f.calls
	f.calls++
	var out transport.Outcome
	if i < len(f.results) {
		out = f.results[i]
	} else if len(f.results) > 0 {
		out = f.results[len(f.results)-1]
	}
	if len(out.Buf) > 0 && buf != nil {
		copy(buf, out.Buf)
	}
	return out, nil
}

func (f *fakeExecutor) CheckPowerMode(h hacks.PassthroughHacks) (transport.Outcome, error) {
	return transport.Outcome{}, nil
}

func (f *fakeExecutor) RequestSenseDataExt(h hacks.PassthroughHacks) (transport.Outcome, error) {
	return transport.Outcome{}, nil
}

func (f *fakeExecutor) ReturnResponseInfo(h hacks.PassthroughHacks) (transport.Outcome, error) {
	return transport.Outcome{}, nil
}

func (f *fakeExecutor) ReadPassthroughResultsLogEntry(paramIndex uint16, h hacks.PassthroughHacks) (transport.Outcome, error) {
	return transport.Outcome{}, nil
}

func ok48(status byte) transport.Outcome {
	return transport.Outcome{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: status, Extend: true}, Outcome: rtfr.Success}}
}

func newTranslator(exec *fakeExecutor, soft hacks.SoftSatFlags) *Translator {
	d := device.New(hacks.PassthroughHacks{}, soft)
	disp := &dispatch.Dispatcher{Dev: exec, State: d}
	return &Translator{Dispatch: disp, State: d, Naa: "naa.5000c5001234abcd"}
}

func TestTranslateRejectsEmptyAndShortCdb(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	if res := tr.Translate(Ctx{Cdb: nil, Data: &bytes.Buffer{}}); res.Status != scsi.SamStatCheckCondition {
		t.Fatalf("want CHECK CONDITION for empty CDB, got 0x%02x", res.Status)
	}
	if res := tr.Translate(Ctx{Cdb: []byte{scsi.Inquiry, 0, 0}, Data: &bytes.Buffer{}}); res.Status != scsi.SamStatCheckCondition {
		t.Fatalf("want CHECK CONDITION for truncated INQUIRY CDB, got 0x%02x", res.Status)
	}
}

func TestTranslateUnknownOpcodeNotHandled(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	cdb := make([]byte, 10)
	cdb[0] = scsi.SendDiagnostic // not one of Translate's mapped opcodes
	res := tr.Translate(Ctx{Cdb: cdb, Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatCheckCondition {
		t.Fatalf("want CHECK CONDITION for unhandled opcode, got 0x%02x", res.Status)
	}
}

func TestTestUnitReadyAlwaysGood(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	res := tr.Translate(Ctx{Cdb: make([]byte, 6), Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
}

func identifyOutcomeWithModel(model string) transport.Outcome {
	page := make([]byte, 512)
	m := []byte(model)
	if len(m)%2 != 0 {
		m = append(m, ' ')
	}
	for i := 0; i+1 < len(m) && 54+i+1 < 94; i += 2 {
		page[54+i], page[54+i+1] = m[i+1], m[i]
	}
	return transport.Outcome{Rtfr: rtfr.Result{Outcome: rtfr.Success}, Buf: page}
}

func TestStandardInquiryReportsDriveModel(t *testing.T) {
	exec := &fakeExecutor{results: []transport.Outcome{identifyOutcomeWithModel("TESTDRIVE")}}
	tr := newTranslator(exec, hacks.SoftSatFlags{})
	cdb := []byte{scsi.Inquiry, 0x00, 0x00, 0x00, 96, 0x00}
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	got := data.Bytes()
	if len(got) < 32 {
		t.Fatalf("want at least 32 bytes of INQUIRY data, got %d", len(got))
	}
	model := bytes.TrimRight(got[16:32], " \x00")
	if string(model) != "TESTDRIVE" {
		t.Fatalf("want model TESTDRIVE, got %q", model)
	}
}

func TestVpdSupportedPagesListsSupportedVpd(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	cdb := []byte{scsi.Inquiry, 0x01, scsi.VpdSupportedPages, 0x00, 255, 0x00}
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	got := data.Bytes()
	if got[1] != scsi.VpdSupportedPages {
		t.Fatalf("want page code echoed at byte 1, got 0x%02x", got[1])
	}
}

func TestReadCapacity10UsesMaxLba(t *testing.T) {
	page := make([]byte, 512)
	// word 60/61 (28-bit max LBA) = 0x00001000
	page[120], page[121] = 0x00, 0x10
	page[122], page[123] = 0x00, 0x00
	exec := &fakeExecutor{results: []transport.Outcome{
		{Rtfr: rtfr.Result{Outcome: rtfr.Success}, Buf: page},
	}}
	tr := newTranslator(exec, hacks.SoftSatFlags{})
	cdb := make([]byte, 10)
	cdb[0] = scsi.ReadCapacity
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	if data.Len() != 8 {
		t.Fatalf("want 8-byte READ CAPACITY(10) response, got %d", data.Len())
	}
}

func TestModeSensePageControlNotCurrentIsRejected(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	cdb := make([]byte, 6)
	cdb[0] = scsi.ModeSense
	cdb[2] = 0x40 | 0x08 // PC=01 (changeable values), page 8
	res := tr.Translate(Ctx{Cdb: cdb, Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatCheckCondition {
		t.Fatalf("want CHECK CONDITION for PC != current, got 0x%02x", res.Status)
	}
}

func TestModeSenseCachingPageReportsWriteCacheEnabled(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	cdb := make([]byte, 6)
	cdb[0] = scsi.ModeSense
	cdb[2] = 0x08 // page 8, PC=current
	cdb[4] = 255
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	got := data.Bytes()
	if len(got) < 6 || got[6]&0x04 == 0 {
		t.Fatalf("want WCE bit set in caching page body, got % x", got)
	}
}

func TestLogSenseTemperaturePage(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{})
	cdb := make([]byte, 10)
	cdb[0] = scsi.LogSense
	cdb[2] = 0x40 | 0x0d // PC=01 (cumulative), page 0x0d
	cdb[8] = 255
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	if data.Len() != 10 {
		t.Fatalf("want 4-byte header + 6-byte temperature parameter, got %d bytes", data.Len())
	}
}

func TestSecurityProtocolListAlwaysAppendsAtaSecurity(t *testing.T) {
	buf := make([]byte, 512)
	buf[6], buf[7] = 0x00, 0x01
	buf[8] = 0x01 // reports only protocol 0x01
	exec := &fakeExecutor{results: []transport.Outcome{
		{Rtfr: rtfr.Result{Outcome: rtfr.Success}, Buf: buf},
	}}
	tr := newTranslator(exec, hacks.SoftSatFlags{})
	cdb := make([]byte, 12)
	cdb[0] = scsi.SecurityProtocolIn
	cdb[1] = 0x00
	cdb[6], cdb[7], cdb[8], cdb[9] = 0x00, 0x00, 0x00, 255
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	got := data.Bytes()
	found := false
	for _, p := range got[8:] {
		if p == 0xEF {
			found = true
		}
	}
	if !found {
		t.Fatalf("want protocol 0xEF advertised in the list, got % x", got)
	}
}

func TestSanitizeImmediateReturnsWithoutPolling(t *testing.T) {
	exec := &fakeExecutor{results: []transport.Outcome{ok48(ataregs.StatusDrdy)}}
	tr := newTranslator(exec, hacks.SoftSatFlags{})
	cdb := make([]byte, 10)
	cdb[0] = scsi.Sanitize
	cdb[1] = 0x80 | scsi.SaSanitizeBlockErase // IMMED=1
	res := tr.Translate(Ctx{Cdb: cdb, Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	if exec.calls != 1 {
		t.Fatalf("want one issued command for IMMED sanitize, got %d", exec.calls)
	}
}

func TestSanitizeWaitsForCompletionWhenNotImmediate(t *testing.T) {
	statusDone := transport.Outcome{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusDrdy, Device: 0x00}, Outcome: rtfr.Success}}
	exec := &fakeExecutor{results: []transport.Outcome{
		ok48(ataregs.StatusDrdy), // the SANITIZE BLOCK ERASE command itself
		statusDone,               // the first SANITIZE STATUS poll, already idle
	}}
	tr := newTranslator(exec, hacks.SoftSatFlags{})
	cdb := make([]byte, 10)
	cdb[0] = scsi.Sanitize
	cdb[1] = scsi.SaSanitizeBlockErase // IMMED=0
	res := tr.Translate(Ctx{Cdb: cdb, Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD once SANITIZE STATUS reports idle, got 0x%02x", res.Status)
	}
	if exec.calls != 2 {
		t.Fatalf("want the command plus one status poll, got %d calls", exec.calls)
	}
}

func TestReportZonesNotHandledWhenDriveIsntZoned(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{Zoned: hacks.ZonedNotReported})
	cdb := make([]byte, 16)
	cdb[0] = scsi.ZoneManagementIn
	cdb[1] = scsi.ZmReportZones
	res := tr.Translate(Ctx{Cdb: cdb, Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatCheckCondition {
		t.Fatalf("want CHECK CONDITION (not handled) on a non-zoned drive, got 0x%02x", res.Status)
	}
}

func TestReportZonesIssuesReportZonesExt(t *testing.T) {
	exec := &fakeExecutor{results: []transport.Outcome{
		{Rtfr: rtfr.Result{Outcome: rtfr.Success}, Buf: make([]byte, 512)},
	}}
	tr := newTranslator(exec, hacks.SoftSatFlags{Zoned: hacks.ZonedHostAware})
	cdb := make([]byte, 16)
	cdb[0] = scsi.ZoneManagementIn
	cdb[1] = scsi.ZmReportZones
	cdb[10], cdb[11], cdb[12], cdb[13] = 0x00, 0x00, 0x02, 0x00
	var data bytes.Buffer
	res := tr.Translate(Ctx{Cdb: cdb, Data: &data})
	if res.Status != scsi.SamStatGood {
		t.Fatalf("want GOOD, got 0x%02x", res.Status)
	}
	if exec.calls != 1 {
		t.Fatalf("want exactly one ATA command issued, got %d", exec.calls)
	}
}

func TestZoneManagementOutRejectsUnknownServiceAction(t *testing.T) {
	tr := newTranslator(&fakeExecutor{}, hacks.SoftSatFlags{Zoned: hacks.ZonedHostAware})
	cdb := make([]byte, 16)
	cdb[0] = scsi.ZoneManagementOut
	cdb[1] = 0x1f // not one of close/finish/open/reset
	res := tr.Translate(Ctx{Cdb: cdb, Data: &bytes.Buffer{}})
	if res.Status != scsi.SamStatCheckCondition {
		t.Fatalf("want CHECK CONDITION for an unrecognized service action, got 0x%02x", res.Status)
	}
}
