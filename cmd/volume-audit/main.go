// Package main provides the volume-audit diagnostics command.
//
// Usage:
//
//	volume-audit version
//	volume-audit leak [-iterations N] [-device sim|hw] [-v 2]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/born-ml/volume/backend/accel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("volume-audit %s\n", version)
	case "leak":
		if err := runLeak(os.Args[2:]); err != nil {
			klog.Errorf("leak audit: %v", err)
			klog.Flush()
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("volume-audit - memory diagnostics for accelerator volumes")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  leak       Run training iterations and compare memory counters")
}

func runLeak(args []string) error {
	fs := flag.NewFlagSet("leak", flag.ContinueOnError)
	iterations := fs.Int("iterations", 10, "training iterations to run")
	device := fs.String("device", "sim", "accelerator: sim or hw")
	latency := fs.Duration("latency", 0, "artificial latency of the simulated device")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, err := openDevice(*device, *latency)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx := accel.NewContext(dev)
	start := time.Now()
	report, err := audit(ctx, *iterations)
	if err != nil {
		return err
	}

	fmt.Printf("device:             %s\n", dev.Name())
	fmt.Printf("iterations:         %d (%s)\n", *iterations, time.Since(start).Round(time.Millisecond))
	fmt.Printf("before:             %s\n", report.Before)
	fmt.Printf("after iteration 1:  %s\n", report.AfterFirst)
	fmt.Printf("after last:         %s\n", report.AfterLast)
	fmt.Printf("loss first/last:    %.6f / %.6f\n", report.FirstLoss, report.LastLoss)

	if err := report.Check(); err != nil {
		return err
	}
	fmt.Println("no leak detected")
	return nil
}

func openDevice(name string, latency time.Duration) (accel.Device, error) {
	switch name {
	case "sim":
		return accel.NewSimDevice(accel.SimConfig{Latency: latency}), nil
	case "hw":
		return accel.OpenDevice()
	default:
		return nil, errors.Errorf("unknown device %q", name)
	}
}
