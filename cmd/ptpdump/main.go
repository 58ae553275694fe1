/*Command ptpdump opens a PTP/MTP device over USB, PTP/IP, or the PTP/IP-
over-USB hybrid, opens a session, and dumps the device's GetDeviceInfo
response. It exists to exercise ptpengine end to end the way
cmd/ldctest exercises a single gousb device, and cmd/andorhttp2
exercises the config+server pattern this command borrows.
*/
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/ptpgo/ptpengine"
	"github.com/nasa-jpl/ptpgo/ptptransport"
)

// Version is the build version, typically injected via ldflags.
var Version = "1"

const (
	opGetDeviceInfo uint16 = 0x1001
	opOpenSession   uint16 = 0x1002
	opCloseSession  uint16 = 0x1003
)

func root() {
	fmt.Println(`ptpdump opens a PTP/MTP device and dumps its device info.

Usage:
	ptpdump <command>

Commands:
	run
	mkconf
	conf
	version`)
}

func connectSpinner() *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[11],
		Suffix:          " connecting to device",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spin, err := yacspin.New(cfg)
	if err != nil {
		log.Fatalf("ptpdump: spinner setup: %v", err)
	}
	return spin
}

func openTransport(cfg config) (ptptransport.Channel, error) {
	switch cfg.Transport {
	case "usb":
		return ptptransport.OpenUSB(cfg.VendorID, cfg.ProductID)
	case "ip":
		return ptptransport.DialIP(cfg.Host, cfg.CommandPort, cfg.EventPort, 5*time.Second)
	case "ipoverusb":
		u, err := ptptransport.OpenUSB(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, err
		}
		return ptptransport.NewIPOverUSB(u), nil
	default:
		return nil, fmt.Errorf("ptpdump: unknown transport %q", cfg.Transport)
	}
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}

	spin := connectSpinner()
	_ = spin.Start()
	transport, err := openTransport(cfg)
	if err != nil {
		spin.StopFailMessage(err.Error())
		_ = spin.StopFail()
		log.Fatal(err)
	}
	_ = spin.Stop()
	defer transport.Close()

	e := ptpengine.New(transport, ptpengine.WithLogger(log.Default()))
	defer e.Close()

	if cfg.StatusAddr != "" {
		go serveStatus(cfg.StatusAddr, e)
	}

	if st, err := e.Send(ptpengine.Transaction{Code: opOpenSession, Params: [5]uint32{1}, ParamLength: 1}); st != ptpengine.StatusOK {
		log.Fatalf("ptpdump: OpenSession failed: status=%v err=%v", st, err)
	}
	log.Printf("ptpdump: session %d opened", e.Session())

	sess, st, err := e.SendKeepLocked(ptpengine.Transaction{Code: opGetDeviceInfo})
	if st != ptpengine.StatusOK {
		log.Fatalf("ptpdump: GetDeviceInfo failed: status=%v err=%v", st, err)
	}
	payload := sess.Payload()
	sess.Release()
	log.Printf("ptpdump: GetDeviceInfo returned %d bytes of payload", len(payload))

	if err := e.DumpBuffer(os.Stdout); err != nil {
		log.Printf("ptpdump: dump failed: %v", err)
	}

	if st, err := e.Send(ptpengine.Transaction{Code: opCloseSession}); st != ptpengine.StatusOK {
		log.Printf("ptpdump: CloseSession failed: status=%v err=%v", st, err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch args[1] {
	case "run":
		run()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		fmt.Printf("ptpdump version %v\n", Version)
	default:
		root()
	}
}
