//go:build linux

package pms7003

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultBaudRate is the fixed line rate of the sensor.
const DefaultBaudRate = 9600

var errClosed = errors.New("session closed")

// Config holds the parameters for opening a sensor link.
type Config struct {
	Device   string
	BaudRate int // default 9600
}

// Session owns an open serial port and the epoll instance watching it.
// A Session serves one reader at a time; Close may be called from any goroutine.
type Session struct {
	fd        int
	file      *os.File
	raw       syscall.RawConn
	epfd      int
	pipeR     int // self-pipe read fd, wakes a pending wait on Close
	pipeW     int // self-pipe write fd
	rd        *bufio.Reader
	done      chan struct{}
	closeOnce sync.Once
	config    Config
}

// Open opens the device in raw 8N1 mode, discards pending input and registers
// it with a new epoll instance. On failure nothing is left open.
func Open(cfg Config) (*Session, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	s := &Session{fd: -1, epfd: -1, pipeR: -1, pipeW: -1, done: make(chan struct{}), config: cfg}
	fail := func(op string, err error) (*Session, error) {
		s.release()
		return nil, deviceErr(op, err)
	}

	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, deviceErr("open", fmt.Errorf("unsupported baud rate %d", cfg.BaudRate))
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, deviceErr("open", fmt.Errorf("%s: %w", cfg.Device, err))
	}
	s.fd = fd

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fail("get termios", err)
	}

	// Raw mode, receiver on, modem lines ignored, bad parity/framing bytes dropped.
	termios.Iflag = unix.IGNPAR
	termios.Oflag = 0
	termios.Lflag = 0
	termios.Cflag = baud | unix.CS8 | unix.CLOCAL | unix.CREAD
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fail("set termios", err)
	}
	if err := flushInput(fd); err != nil {
		return fail("flush", err)
	}

	// Reads block once readiness has been reported.
	if err := unix.SetNonblock(fd, false); err != nil {
		return fail("set blocking", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fail("pipe", err)
	}
	s.pipeR, s.pipeW = pipeFds[0], pipeFds[1]

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fail("epoll create", err)
	}
	s.epfd = epfd
	for _, watched := range []int{s.fd, s.pipeR} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(watched)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, watched, &ev); err != nil {
			return fail("epoll add", err)
		}
	}

	s.file = os.NewFile(uintptr(fd), cfg.Device)
	raw, err := s.file.SyscallConn()
	if err != nil {
		return fail("syscall conn", err)
	}
	s.raw = raw
	s.rd = bufio.NewReaderSize(s.file, 2*FrameLen)
	return s, nil
}

// Device returns the path the session was opened on.
func (s *Session) Device() string { return s.config.Device }

// ReadTimeout waits up to timeout for the sensor to send data, then
// synchronizes on the next start byte and decodes one frame.
//
// Once data is available the input queue is flushed, so the returned reading
// always comes from a frame that started arriving after the wait. The scan for
// the start byte is not bounded by timeout.
func (s *Session) ReadTimeout(timeout time.Duration) (Reading, error) {
	if timeout < 0 {
		return Reading{}, &Error{Kind: InvalidArgument, Op: "read", Err: fmt.Errorf("negative timeout %v", timeout)}
	}
	if s.closed() {
		return Reading{}, deviceErr("read", errClosed)
	}

	if err := s.wait(timeout); err != nil {
		return Reading{}, err
	}
	if err := s.flush(); err != nil {
		return Reading{}, deviceErr("flush", err)
	}
	s.rd.Reset(s.file)

	var f Frame
	if err := s.readFrame(f[:]); err != nil {
		return Reading{}, err
	}
	return Decode(f[:])
}

// wait blocks until the port is readable, the timeout elapses or Close is called.
func (s *Session) wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	events := make([]unix.EpollEvent, 2)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := unix.EpollWait(s.epfd, events, durationToMillis(remaining))
		if s.closed() {
			return deviceErr("wait", errClosed)
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return deviceErr("wait", err)
		}
		if n == 0 {
			if time.Until(deadline) > 0 {
				continue
			}
			return &Error{Kind: Timeout, Op: "wait", Err: fmt.Errorf("no data within %v", timeout)}
		}
		for _, ev := range events[:n] {
			if int(ev.Fd) != s.fd {
				return deviceErr("wait", errClosed)
			}
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return deviceErr("wait", fmt.Errorf("%s: hang up", s.config.Device))
			}
		}
		return nil
	}
}

// readFrame skips input up to the first start byte and fills f with it and
// the 31 bytes that follow.
func (s *Session) readFrame(f []byte) error {
	for {
		_, err := s.rd.ReadSlice(StartByte1)
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return deviceErr("read", err)
		}
	}
	f[0] = StartByte1
	if _, err := io.ReadFull(s.rd, f[1:]); err != nil {
		return deviceErr("read", err)
	}
	return nil
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close releases the port and the epoll instance and wakes a pending wait.
// Safe to call multiple times; it always returns nil.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.pipeW >= 0 {
			unix.Write(s.pipeW, []byte{1})
		}
		s.release()
	})
	return nil
}

func (s *Session) release() {
	if s.file != nil {
		s.file.Close()
	} else if s.fd >= 0 {
		unix.Close(s.fd)
	}
	for _, fd := range []int{s.epfd, s.pipeR, s.pipeW} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}

// flush discards pending input through the file so a concurrent Close cannot
// release the fd mid-call.
func (s *Session) flush() error {
	var ferr error
	if err := s.raw.Control(func(fd uintptr) { ferr = flushInput(int(fd)) }); err != nil {
		return err
	}
	return ferr
}

func flushInput(fd int) error {
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
}

// maxEpollWait is the longest single wait epoll_wait accepts; its timeout is a C int.
const maxEpollWait = time.Duration(math.MaxInt32) * time.Millisecond

func durationToMillis(d time.Duration) int {
	if d >= maxEpollWait {
		return math.MaxInt32
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	default:
		return 0, false
	}
}
