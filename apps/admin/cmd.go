package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/maktabahq/maktaba/core"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf *core.Config
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createdb                                   - create the database and app user if missing")
	fmt.Println("  migrate                                    - apply pending schema migrations")
	fmt.Println("  qrcode -code CODE [-out FILE] [-size N]    - render a registered code as a QR PNG")
	fmt.Println("  simulate -addr URL [-count N] [...]        - run a synthetic scan batch against a live API")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	qrcodeCmd := flag.NewFlagSet("qrcode", flag.ExitOnError)
	qrcodeCode := qrcodeCmd.String("code", "", "The code value to encode.")
	qrcodeOut := qrcodeCmd.String("out", "code.png", "Output PNG path.")
	qrcodeSize := qrcodeCmd.Int("size", 256, "Image size in pixels.")

	simulateCmd := flag.NewFlagSet("simulate", flag.ExitOnError)
	simulateAddr := simulateCmd.String("addr", "http://localhost:8000", "Base URL of a running API.")
	simulateCount := simulateCmd.Int("count", 50, "Number of synthetic scans.")
	simulateInterval := simulateCmd.Int("interval", 100, "Base interval between scans in ms.")
	simulateDevices := simulateCmd.Int("devices", 1, "Concurrent simulated devices.")
	simulateErrRate := simulateCmd.Float64("error-rate", 0, "Fraction of deliberately malformed scans.")
	simulateDupRate := simulateCmd.Float64("duplicate-rate", 0, "Fraction of repeated scans.")
	simulateCodes := simulateCmd.String("codes", "", "Comma-separated registered codes to scan (required).")

	switch args[1] {
	case "createdb":
		return cli.createDB()
	case "migrate":
		return cli.migrate()
	case "qrcode":
		if err := qrcodeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *qrcodeCode == "" {
			qrcodeCmd.Usage()
			return errHelp
		}
		return cli.qrcode(*qrcodeCode, *qrcodeOut, *qrcodeSize)
	case "simulate":
		if err := simulateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *simulateCodes == "" {
			simulateCmd.Usage()
			return errHelp
		}
		return cli.simulate(simulateOptions{
			addr:          *simulateAddr,
			count:         *simulateCount,
			intervalMs:    *simulateInterval,
			devices:       *simulateDevices,
			errorRate:     *simulateErrRate,
			duplicateRate: *simulateDupRate,
			codes:         *simulateCodes,
		})
	default:
		cli.printUsage()
		return errHelp
	}
}
