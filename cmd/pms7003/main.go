//go:build linux

// Command pms7003 prints readings from a PMS7003 sensor until interrupted.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pms7003 "github.com/luhtfiimanal/go-pms7003"
)

var (
	device  = "/dev/serial0"
	timeout = 3 * time.Second
	count   = 0
)

func init() {
	if val := os.Getenv("PMS7003_DEVICE"); val != "" {
		device = val
	}
	flag.StringVar(&device, "device", device, "Serial device the sensor is attached to.")
	flag.DurationVar(&timeout, "timeout", timeout, "How long to wait for each frame.")
	flag.IntVar(&count, "n", count, "Stop after n readings; 0 reads forever.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	s, err := pms7003.Open(pms7003.Config{Device: device})
	if err != nil {
		log.Fatalln(describe(err))
	}

	interrupted := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(interrupted)
		s.Close()
	}()

	for n := 0; count == 0 || n < count; {
		r, err := s.ReadTimeout(timeout)
		select {
		case <-interrupted:
			return
		default:
		}
		if err != nil {
			log.Println(describe(err))
			if errors.Is(err, pms7003.ErrDevice) {
				s.Close()
				os.Exit(1)
			}
			continue
		}
		printReading(os.Stdout, r)
		n++
	}
	s.Close()
}

// describe turns err into a one-line diagnostic naming its kind.
func describe(err error) string {
	var perr *pms7003.Error
	if !errors.As(err, &perr) {
		return "error: " + err.Error()
	}
	switch perr.Kind {
	case pms7003.InvalidArgument:
		return "invalid argument: " + err.Error()
	case pms7003.Timeout:
		return fmt.Sprintf("no data from %s within %v", device, timeout)
	case pms7003.FramingError:
		return fmt.Sprintf("framing error (expected %d, received %d), resyncing", perr.Expected, perr.Actual)
	case pms7003.ChecksumError:
		return fmt.Sprintf("checksum mismatch (frame says 0x%04x, computed 0x%04x), discarding frame", perr.Expected, perr.Actual)
	case pms7003.DeviceError:
		return "device error, giving up: " + err.Error()
	default:
		return "error: " + err.Error()
	}
}

func printReading(w io.Writer, r pms7003.Reading) {
	fmt.Fprintf(w, "PM1.0 standard concentration: %dμg/m3\n", r.PM1_0Standard)
	fmt.Fprintf(w, "PM2.5 standard concentration: %dμg/m3\n", r.PM2_5Standard)
	fmt.Fprintf(w, "PM10 standard concentration: %dμg/m3\n", r.PM10Standard)
	fmt.Fprintf(w, "PM1.0 concentration: %dμg/m3\n", r.PM1_0)
	fmt.Fprintf(w, "PM2.5 concentration: %dμg/m3\n", r.PM2_5)
	fmt.Fprintf(w, "PM10 concentration: %dμg/m3\n", r.PM10)
	fmt.Fprintf(w, "Particles > 0.3µm in 0.1L air: %d\n", r.Count0_3)
	fmt.Fprintf(w, "Particles > 0.5µm in 0.1L air: %d\n", r.Count0_5)
	fmt.Fprintf(w, "Particles > 1.0µm in 0.1L air: %d\n", r.Count1_0)
	fmt.Fprintf(w, "Particles > 2.5µm in 0.1L air: %d\n", r.Count2_5)
	fmt.Fprintf(w, "Particles > 5.0µm in 0.1L air: %d\n", r.Count5_0)
	fmt.Fprintf(w, "Particles > 10µm in 0.1L air: %d\n", r.Count10)
}
