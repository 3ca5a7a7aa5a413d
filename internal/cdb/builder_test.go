package cdb

import (
	"testing"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
)

func TestBuildLength(t *testing.T) {
	tests := []struct {
		desc string
		cmd  ataregs.Command
		want int
	}{
		{
			desc: "28-bit defaults to 12 bytes",
			cmd:  ataregs.Command{Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn},
			want: 12,
		},
		{
			desc: "48-bit defaults to 16 bytes",
			cmd:  ataregs.Command{Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn},
			want: 16,
		},
		{
			desc: "complete32 is always 32 bytes",
			cmd:  ataregs.Command{Shape: ataregs.Complete32, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn},
			want: 32,
		},
		{
			desc: "a1_never_supported upgrades 28-bit to 16",
			cmd: ataregs.Command{
				Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
				Hacks: hacksWith(func(h *hacks.PassthroughHacks) { h.A1NeverSupported = true }),
			},
			want: 16,
		},
		{
			desc: "a1_ext_when_possible prefers 12 bytes when ext regs are zero",
			cmd: ataregs.Command{
				Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
				Hacks: hacksWith(func(h *hacks.PassthroughHacks) { h.A1ExtWhenPossible = true }),
			},
			want: 12,
		},
		{
			desc: "force_cdb_size wins outright",
			cmd: ataregs.Command{
				Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
				ForceCdbSize: 32,
			},
			want: 32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, n, err := Build(&tt.cmd)
			if err != nil {
				t.Fatalf("Build: unexpected error: %v", err)
			}
			if n != tt.want {
				t.Fatalf("length: want %d, got %d", tt.want, n)
			}
		})
	}
}

func TestBuildRejectsMissingDirection(t *testing.T) {
	cmd := ataregs.Command{Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirNone}
	if _, _, err := Build(&cmd); err == nil {
		t.Fatal("want error for Pio protocol with no direction")
	}

	cmd2 := ataregs.Command{Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoUdmaIn, Direction: ataregs.DirNone}
	if _, _, err := Build(&cmd2); err == nil {
		t.Fatal("want error for Udma protocol with no direction")
	}
}

func TestBuildRegisterPlacement12(t *testing.T) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
		Tfr: ataregs.Taskfile{Feature: 0x11, SectorCount: 0x22, LbaLow: 0x33, LbaMid: 0x44, LbaHi: 0x55, Device: 0xE0, Command: 0xEC},
	}
	buf, n, err := Build(&cmd)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n != 12 {
		t.Fatalf("want 12-byte CDB, got %d", n)
	}
	if buf[0] != OpAtaPassThrough12 {
		t.Fatalf("opcode: want 0x%02x, got 0x%02x", OpAtaPassThrough12, buf[0])
	}
	want := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0xE0, 0xEC}
	got := buf[3:10]
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("register byte %d: want 0x%02x, got 0x%02x", i+3, want[i], got[i])
		}
	}
}

func TestBuildRegisterPlacement16Extend(t *testing.T) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile48, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
		Tfr: ataregs.Taskfile{
			SectorCount: 0x01, SectorCountExt: 0x00,
			LbaLow: 0xAA, LbaMid: 0xBB, LbaHi: 0xCC,
			LbaLowExt: 0x01, LbaMidExt: 0x02, LbaHiExt: 0x03,
			Device: 0x40, Command: ataregs.AtaReadDmaExt,
		},
	}
	buf, n, err := Build(&cmd)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n != 16 {
		t.Fatalf("want 16, got %d", n)
	}
	if buf[2]&0x1 == 0 {
		t.Fatal("want EXTEND bit set for Taskfile48 shape")
	}
	if buf[6] != 0x01 {
		t.Fatalf("sector count (current): want 0x01, got 0x%02x", buf[6])
	}
	if buf[8] != 0xAA || buf[10] != 0xBB || buf[12] != 0xCC {
		t.Fatalf("current LBA bytes mismatch: %x %x %x", buf[8], buf[10], buf[12])
	}
	if buf[7] != 0x01 || buf[9] != 0x02 || buf[11] != 0x03 {
		t.Fatalf("ext LBA bytes mismatch: %x %x %x", buf[7], buf[9], buf[11])
	}
}

func TestBuildCheckConditionBit(t *testing.T) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoDma, Direction: ataregs.DirIn,
		NeedRtfrs: true,
	}
	buf, _, err := Build(&cmd)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if buf[2]&(1<<5) == 0 {
		t.Fatal("want CK_COND bit set when NeedRtfrs and no suppressing hack")
	}

	cmd.Hacks.DisableCheckCondition = true
	buf, _, err = Build(&cmd)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if buf[2]&(1<<5) != 0 {
		t.Fatal("want CK_COND bit clear when disable_check_condition is set")
	}
}

func TestBuildPioInNeverSetsCheckCondition(t *testing.T) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
		NeedRtfrs: true,
	}
	buf, _, err := Build(&cmd)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if buf[2]&(1<<5) != 0 {
		t.Fatal("PIO-in never carries CK_COND per spec.md §4.1 step 6")
	}
}

func TestBuildWindowsIdeAlwaysSetsCheckCondition(t *testing.T) {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioIn, Direction: ataregs.DirIn,
		NeedRtfrs: false,
	}
	cmd.Hacks.WindowsIde = true
	buf, _, err := Build(&cmd)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if buf[2]&(1<<5) == 0 {
		t.Fatal("Windows-IDE hack must always set CK_COND")
	}
}

func TestRewritePioSectorCountZero(t *testing.T) {
	cmd := ataregs.Command{Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut}
	cmd.Tfr.Command = ataregs.AtaWriteSectors
	RewritePioSectorCountZero(&cmd, 512)
	if cmd.Tfr.SectorCount != 1 {
		t.Fatalf("want sector count rewritten to 1, got %d", cmd.Tfr.SectorCount)
	}

	cmd2 := ataregs.Command{Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut}
	cmd2.Tfr.Command = ataregs.AtaFormatTrack
	RewritePioSectorCountZero(&cmd2, 512)
	if cmd2.Tfr.SectorCount != 0 {
		t.Fatal("FORMAT TRACK must retain sector-count=0 (not an alias for 256)")
	}

	cmd3 := ataregs.Command{Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoPioOut, Direction: ataregs.DirOut}
	cmd3.Tfr.Command = ataregs.AtaWriteSameObsolete
	RewritePioSectorCountZero(&cmd3, 512)
	if cmd3.Tfr.SectorCount != 0 {
		t.Fatal("legacy WRITE SAME must retain sector-count=0")
	}
}

func hacksWith(f func(h *hacks.PassthroughHacks)) hacks.PassthroughHacks {
	var h hacks.PassthroughHacks
	f(&h)
	return h
}
