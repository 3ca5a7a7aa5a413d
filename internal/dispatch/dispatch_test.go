package dispatch

import (
	"testing"
	"time"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/internal/rtfr"
	"github.com/Seagate/opensea-transport-sub000/internal/transport"
)

// fakeExecutor is a scriptable stand-in for *transport.Device.
type fakeExecutor struct {
	executeResults      []transport.Outcome
	executeErrs         []error
	executeCalls        int
	checkPowerModeCalls int
	returnInfoResult    transport.Outcome
	logEntryResult      transport.Outcome
	requestSenseResult  transport.Outcome
}

func (f *fakeExecutor) Execute(cmd *ataregs.Command, buf []byte, timeout time.Duration) (transport.Outcome, error) {
	i := f.executeCalls
	f.executeCalls++
	if i < len(f.executeResults) {
		var err error
		if i < len(f.executeErrs) {
			err = f.executeErrs[i]
		}
		return f.executeResults[i], err
	}
	return f.executeResults[len(f.executeResults)-1], nil
}

func (f *fakeExecutor) CheckPowerMode(h hacks.PassthroughHacks) (transport.Outcome, error) {
	f.checkPowerModeCalls++
	return transport.Outcome{}, nil
}

func (f *fakeExecutor) RequestSenseDataExt(h hacks.PassthroughHacks) (transport.Outcome, error) {
	return f.requestSenseResult, nil
}

func (f *fakeExecutor) ReturnResponseInfo(h hacks.PassthroughHacks) (transport.Outcome, error) {
	return f.returnInfoResult, nil
}

func (f *fakeExecutor) ReadPassthroughResultsLogEntry(paramIndex uint16, h hacks.PassthroughHacks) (transport.Outcome, error) {
	return f.logEntryResult, nil
}

func newDispatcher(exec Executor) *Dispatcher {
	return &Dispatcher{Dev: exec, State: device.New(hacks.PassthroughHacks{}, hacks.SoftSatFlags{})}
}

func TestDispatchSuccessClassification(t *testing.T) {
	exec := &fakeExecutor{executeResults: []transport.Outcome{
		{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusDrdy}, Outcome: rtfr.Success}},
	}}
	d := newDispatcher(exec)
	cmd := ataregs.Command{Tfr: ataregs.Taskfile{Command: ataregs.AtaReadDmaExt}}
	resp := d.Dispatch(&cmd, nil, 0)
	if resp.Outcome != Success {
		t.Fatalf("want Success, got %v", resp.Outcome)
	}
}

func TestDispatchDeviceFaultIsFatal(t *testing.T) {
	exec := &fakeExecutor{executeResults: []transport.Outcome{
		{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusDf}, Outcome: rtfr.Failure}},
	}}
	d := newDispatcher(exec)
	cmd := ataregs.Command{}
	resp := d.Dispatch(&cmd, nil, 0)
	if resp.Outcome != Failure {
		t.Fatalf("want Failure for DEVICE_FAULT, got %v", resp.Outcome)
	}
}

func TestDispatchTransportErrorIsOsPassthroughFailure(t *testing.T) {
	exec := &fakeExecutor{
		executeResults: []transport.Outcome{{}},
		executeErrs:    []error{someTransportErr},
	}
	d := newDispatcher(exec)
	cmd := ataregs.Command{}
	resp := d.Dispatch(&cmd, nil, 0)
	if resp.Outcome != OsPassthroughFailure {
		t.Fatalf("want OsPassthroughFailure, got %v", resp.Outcome)
	}
}

func TestDispatchWindowsIdeFlushesOnFailureNotCheckPowerMode(t *testing.T) {
	exec := &fakeExecutor{executeResults: []transport.Outcome{
		{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorAbrt}, Outcome: rtfr.Failure}},
	}}
	d := newDispatcher(exec)
	cmd := ataregs.Command{Tfr: ataregs.Taskfile{Command: ataregs.AtaReadDmaExt}, Hacks: hacks.PassthroughHacks{WindowsIde: true}}
	d.Dispatch(&cmd, nil, 0)
	if exec.checkPowerModeCalls != 1 {
		t.Fatalf("want one CheckPowerMode flush call, got %d", exec.checkPowerModeCalls)
	}
}

func TestDispatchWindowsIdeSkipsFlushForCheckPowerModeItself(t *testing.T) {
	exec := &fakeExecutor{executeResults: []transport.Outcome{
		{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorAbrt}, Outcome: rtfr.Failure}},
	}}
	d := newDispatcher(exec)
	cmd := ataregs.Command{Tfr: ataregs.Taskfile{Command: ataregs.AtaCheckPowerMode}, Hacks: hacks.PassthroughHacks{WindowsIde: true}}
	d.Dispatch(&cmd, nil, 0)
	if exec.checkPowerModeCalls != 0 {
		t.Fatalf("want no recursive flush for CheckPowerMode itself, got %d", exec.checkPowerModeCalls)
	}
}

func TestDispatchSenseDataAvailableRecoversAtaSense(t *testing.T) {
	exec := &fakeExecutor{
		executeResults: []transport.Outcome{
			{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusDrdy | ataregs.StatusSenseDataAvail}, Outcome: rtfr.Success}},
		},
		requestSenseResult: transport.Outcome{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{LbaLow: 0x03, LbaMid: 0x11, LbaHi: 0x00}}},
	}
	d := newDispatcher(exec)
	cmd := ataregs.Command{}
	d.Dispatch(&cmd, nil, 0)
	sense, ok := d.State.AtaSense()
	if !ok {
		t.Fatal("want ATA sense recovered")
	}
	if sense.Key != 0x03 || sense.Asc != 0x11 {
		t.Fatalf("want key=0x03 asc=0x11, got key=0x%02x asc=0x%02x", sense.Key, sense.Asc)
	}
}

func TestDispatchUdmaAbortedRetriesAsDma(t *testing.T) {
	exec := &fakeExecutor{executeResults: []transport.Outcome{
		{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusErr, Error: ataregs.ErrorAbrt}, Outcome: rtfr.Success, DmaRetry: true}},
		{Rtfr: rtfr.Result{Rtfr: ataregs.ReturnTfrs{Status: ataregs.StatusDrdy}, Outcome: rtfr.Success}},
	}}
	d := newDispatcher(exec)
	cmd := ataregs.Command{Protocol: ataregs.ProtoUdmaIn}
	resp := d.Dispatch(&cmd, nil, 0)
	if !resp.DmaRetried {
		t.Fatal("want DmaRetried flagged")
	}
	if resp.Outcome != Success {
		t.Fatalf("want Success after retry, got %v", resp.Outcome)
	}
	if !d.State.Soft.WantsDma {
		t.Fatal("want SoftSatFlags.WantsDma set after a successful DMA retry")
	}
}

func TestDispatchLogSenseFollowupRecoversIncompleteRtfrs(t *testing.T) {
	logBuf := make([]byte, 512)
	logBuf[2] = 0x01 // extend bit
	logBuf[3] = 0x00 // error
	logBuf[13] = 0x50 // status DRDY
	exec := &fakeExecutor{
		executeResults: []transport.Outcome{
			{Rtfr: rtfr.Result{Outcome: rtfr.WarnIncomplete, NeedLogSenseParam: 2}},
		},
		logEntryResult: transport.Outcome{Buf: logBuf},
	}
	d := newDispatcher(exec)
	cmd := ataregs.Command{}
	resp := d.Dispatch(&cmd, nil, 0)
	if resp.Outcome != Success {
		t.Fatalf("want Success after log-sense follow-up recovers registers, got %v", resp.Outcome)
	}
}

type transportErr struct{}

func (transportErr) Error() string { return "simulated transport failure" }

var someTransportErr error = transportErr{}
