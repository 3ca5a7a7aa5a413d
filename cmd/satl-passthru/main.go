// Command satl-passthru sends one ATA PASS-THROUGH command straight to a
// backing device and prints the recovered task file registers, for probing
// and scripting outside of a live TCMU attachment (spec.md §0's "standalone
// pass-through" deployment shape).
package main

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/internal/metrics"
	"github.com/Seagate/opensea-transport-sub000/internal/transport"
)

const (
	programName = "satl-passthru"
	programDesc = "Send a single ATA command to a backing device and print the returned registers"
)

// cliFlags builds one ataregs.Command from flags rather than parsing a raw
// ATA PASS-THROUGH CDB off the command line - nothing in this module
// reverses a CDB back into register fields (CdbBuilder only builds them),
// so the fields a CDB would carry are taken directly instead.
type cliFlags struct {
	Device   string `flag:"" required:"" short:"d" help:"Path to the backing ATA device (e.g. /dev/sg2)"`
	Command  uint8  `flag:"" required:"" short:"c" help:"ATA command register value (e.g. 0xec for IDENTIFY DEVICE)"`
	Feature  uint16 `flag:"" default:"0" short:"f" help:"Feature register (low 8 bits) / feature+ext (16 bits for 48-bit commands)"`
	Lba      uint64 `flag:"" default:"0" short:"l" help:"Logical block address"`
	Count    uint16 `flag:"" default:"0" short:"n" help:"Sector count (low 8 bits) / count+ext (16 bits for 48-bit commands)"`
	Device48 bool   `flag:"" default:"false" short:"e" help:"Use the 48-bit taskfile shape"`
	Dma      bool   `flag:"" default:"false" help:"Use the DMA protocol instead of PIO"`
	DataIn   bool   `flag:"" default:"false" help:"Command returns data (protocol direction DirIn)"`
	DataOut  bool   `flag:"" default:"false" help:"Command sends data (protocol direction DirOut)"`
	Blocks   int    `flag:"" default:"0" short:"b" help:"Number of 512-byte blocks to transfer"`
	Timeout  int    `flag:"" default:"30" short:"t" help:"Command timeout in seconds"`
	Verbose  bool   `flag:"" default:"false" short:"v" help:"Enable debug logging"`
}

var cli cliFlags

func main() {
	kctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}))

	err := run(&cli)
	kctx.FatalIfErrorf(err)
}

func run(c *cliFlags) error {
	if c.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	dev, err := transport.Open(c.Device)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Device, err)
	}
	defer dev.Close()

	cmd := buildCommand(c)

	buf := make([]byte, c.Blocks*512)
	disp := &dispatch.Dispatcher{
		Dev:                  dev,
		State:                device.New(hacks.PassthroughHacks{}, hacks.SoftSatFlags{}),
		DeviceDefaultTimeout: time.Duration(c.Timeout) * time.Second,
		Metrics:              metrics.New(prometheus.NewRegistry()),
	}
	resp := disp.Dispatch(&cmd, buf, time.Duration(c.Timeout)*time.Second)

	fmt.Printf("outcome: %s\n", resp.Outcome)
	fmt.Printf("status=0x%02x error=0x%02x device=0x%02x extend=%v\n",
		resp.Rtfr.Status, resp.Rtfr.Error, resp.Rtfr.Device, resp.Rtfr.Extend)
	if resp.Rtfr.Extend {
		fmt.Printf("count=0x%04x lba=0x%012x\n", uint16(resp.Rtfr.CountExt)<<8|uint16(resp.Rtfr.Count), resp.Rtfr.Lba48())
	} else {
		fmt.Printf("count=0x%02x lba=0x%08x\n", resp.Rtfr.Count, resp.Rtfr.Lba28())
	}
	if c.Blocks > 0 && c.DataIn {
		fmt.Printf("data: % x\n", buf)
	}
	if resp.Outcome != dispatch.Success {
		return fmt.Errorf("command did not complete successfully: %s", resp.Outcome)
	}
	return nil
}

func buildCommand(c *cliFlags) ataregs.Command {
	shape := ataregs.Taskfile28
	if c.Device48 {
		shape = ataregs.Taskfile48
	}
	protocol := ataregs.ProtoPioIn
	switch {
	case c.Dma:
		protocol = ataregs.ProtoDma
	case c.DataOut:
		protocol = ataregs.ProtoPioOut
	case !c.DataIn && !c.DataOut:
		protocol = ataregs.ProtoNoData
	}
	direction := ataregs.DirNone
	switch {
	case c.DataIn:
		direction = ataregs.DirIn
	case c.DataOut:
		direction = ataregs.DirOut
	}

	cmd := ataregs.Command{
		Shape: shape, Protocol: protocol, Direction: direction,
		NeedRtfrs: true,
	}
	cmd.Tfr.Command = c.Command
	if c.Device48 {
		cmd.Tfr.Feature = byte(c.Feature)
		cmd.Tfr.FeatureExt = byte(c.Feature >> 8)
		cmd.Tfr.SetLba48(c.Lba)
		cmd.Tfr.SectorCount = byte(c.Count)
		cmd.Tfr.SectorCountExt = byte(c.Count >> 8)
	} else {
		cmd.Tfr.Feature = byte(c.Feature)
		cmd.Tfr.SetLba28(uint32(c.Lba))
		cmd.Tfr.SectorCount = byte(c.Count)
	}
	if c.Blocks > 0 {
		cmd.TransferLength = ataregs.TLengthSectorCount
	}
	return cmd
}
