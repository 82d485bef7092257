// Package pms7003 reads particulate matter measurements from a Plantower
// PMS7003 sensor running in active mode on a Linux serial port.
//
// The sensor pushes a 32-byte frame roughly once a second. A Session waits
// for the port to become readable with epoll, synchronizes on the frame start
// bytes and validates the declared length and checksum before decoding the
// twelve measurement fields into a Reading.
//
// Features:
//   - Raw termios setup at 9600 8N1 through golang.org/x/sys/unix
//   - Bounded wait for data with ReadTimeout
//   - Typed errors; Timeout, FramingError and ChecksumError are retryable,
//     DeviceError means the session must be reopened
//   - Decode and Encode work on plain byte slices and need no device
//   - PTY-based tests
//
// Session is Linux only; Decode and Encode build everywhere.
//
// Example usage:
//
//	s, err := pms7003.Open(pms7003.Config{Device: "/dev/serial0"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	for {
//	    r, err := s.ReadTimeout(3 * time.Second)
//	    switch {
//	    case err == nil:
//	        fmt.Println(r)
//	    case errors.Is(err, pms7003.ErrDevice):
//	        log.Fatal(err)
//	    default:
//	        log.Println("retrying:", err)
//	    }
//	}
package pms7003
