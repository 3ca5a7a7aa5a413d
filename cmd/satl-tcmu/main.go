// Command satl-tcmu attaches a real ATA drive to the kernel's TCMU loopback
// target through a software SATL, so the drive shows up to the rest of the
// host as a SCSI block device (spec.md §0's "SATL-over-TCMU" deployment
// shape).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Seagate/opensea-transport-sub000"
	"github.com/Seagate/opensea-transport-sub000/internal/device"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/hacks"
	"github.com/Seagate/opensea-transport-sub000/internal/metrics"
	"github.com/Seagate/opensea-transport-sub000/internal/transport"
)

const (
	programName = "satl-tcmu"
	programDesc = "Attach an ATA drive to TCMU through an in-process SCSI-to-ATA translation layer"
)

// cliFlags is the whole command line - satl-tcmu has exactly one job, so
// unlike gosedctl there is no need for kong sub-commands.
type cliFlags struct {
	ATADevice  string `flag:"" required:"" short:"a" help:"Path to the backing ATA device (e.g. /dev/sg2)"`
	TCMUDevice string `flag:"" default:"/dev/satl-tcmu" short:"t" help:"Path handed to the kernel's TCMU uio node"`
	VolumeName string `flag:"" optional:"" short:"n" help:"Volume name advertised to the initiator (defaults to the ATA device's base name)"`
	NAA        string `flag:"" default:"5" short:"w" help:"NAA type byte used for the vendor-specific Device ID VPD page"`
	Verbose    bool   `flag:"" optional:"" short:"v" help:"Enable debug logging"`
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

	dev, err := transport.Open(c.ATADevice)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.ATADevice, err)
	}
	defer dev.Close()

	probeHacks := hacks.PassthroughHacks{}
	outcome, err := dev.Identify(probeHacks)
	if err != nil {
		return fmt.Errorf("identify %s: %w", c.ATADevice, err)
	}
	var page [512]byte
	copy(page[:], outcome.Buf)
	soft := device.ProbeSoftSatFlags(page)

	state := device.New(probeHacks, soft)
	reg := prometheus.NewRegistry()
	disp := &dispatch.Dispatcher{
		Dev:                  dev,
		State:                state,
		DeviceDefaultTimeout: 30 * time.Second,
		Metrics:              metrics.New(reg),
	}

	volumeName := c.VolumeName
	if volumeName == "" {
		volumeName = baseName(c.ATADevice)
	}
	f, statErr := os.Open(c.ATADevice)
	var sectors, blockSize int64 = 0, 512
	if statErr == nil {
		if fi, err := f.Stat(); err == nil {
			sectors = fi.Size()
		}
		f.Close()
	}
	sizes := tcmu.DataSizes{VolumeSize: sectors, BlockSize: blockSize}
	wwn := tcmu.NaaWWN{OUI: "000000", VendorID: tcmu.GenerateSerial(volumeName)}

	handler := tcmu.NewSatlSCSIHandler(volumeName, sizes, wwn, disp, c.NAA)

	d, err := tcmu.OpenTCMUDevice(c.TCMUDevice, handler)
	if err != nil {
		return fmt.Errorf("attach tcmu device: %w", err)
	}
	defer d.Close()

	logrus.Infof("satl-tcmu: %s attached to %s (volume %s)", c.ATADevice, c.TCMUDevice, volumeName)

	mainClose := make(chan bool)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		for range signalChan {
			logrus.Info("received interrupt, detaching")
			close(mainClose)
		}
	}()
	<-mainClose
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
