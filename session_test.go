//go:build linux

package pms7003

import (
	"bytes"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

var sampleReading = Reading{
	PM1_0Standard: 5, PM2_5Standard: 10, PM10Standard: 15,
	PM1_0: 20, PM2_5: 25, PM10: 30,
	Count0_3: 1, Count0_5: 2, Count1_0: 3, Count2_5: 4, Count5_0: 5, Count10: 6,
}

// openPair returns a session reading from the slave side of a new PTY and the master used to play the sensor.
func openPair(t *testing.T) (*Session, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	s, err := Open(Config{Device: slave.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, master
}

// feed writes the current payload to master every interval, like a sensor in active mode.
// The returned pointer swaps the payload.
func feed(t *testing.T, master *os.File, payload []byte) *atomic.Pointer[[]byte] {
	t.Helper()
	var cur atomic.Pointer[[]byte]
	cur.Store(&payload)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := master.Write(*cur.Load()); err != nil {
					return
				}
			}
		}
	}()
	t.Cleanup(func() { close(stop) })
	return &cur
}

func encoded(r Reading) []byte {
	f := Encode(r)
	return f[:]
}

func TestSession_ReadFrame(t *testing.T) {
	s, master := openPair(t)
	feed(t, master, encoded(sampleReading))

	r, err := s.ReadTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, sampleReading, r)
}

func TestSession_SkipsBytesBeforeStart(t *testing.T) {
	s, master := openPair(t)
	noise := []byte{0x00, 0x4D, 0x11, 0xFF, 0x1C}
	feed(t, master, append(noise, encoded(sampleReading)...))

	r, err := s.ReadTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, sampleReading, r)
}

func TestSession_SkipsLongNoiseBeforeStart(t *testing.T) {
	s, master := openPair(t)
	// Longer than the read buffer, so the scan refills it several times.
	noise := bytes.Repeat([]byte{0x11}, 200)
	feed(t, master, append(noise, encoded(sampleReading)...))

	r, err := s.ReadTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, sampleReading, r)
}

func TestSession_TimeoutLeavesSessionUsable(t *testing.T) {
	s, master := openPair(t)

	start := time.Now()
	_, err := s.ReadTimeout(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	feed(t, master, encoded(sampleReading))
	r, err := s.ReadTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, sampleReading, r)
}

func TestSession_ZeroTimeoutWithoutData(t *testing.T) {
	s, _ := openPair(t)
	_, err := s.ReadTimeout(0)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSession_TimeoutBeyondEpollRange(t *testing.T) {
	s, _ := openPair(t)

	errs := make(chan error, 1)
	go func() {
		_, err := s.ReadTimeout(time.Duration(1<<32+5) * time.Millisecond)
		errs <- err
	}()

	select {
	case err := <-errs:
		t.Fatalf("ReadTimeout returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, s.Close())
	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrDevice)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for ReadTimeout to return after Close")
	}
}

func TestDurationToMillis(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{time.Millisecond + 1, 2},
		{maxEpollWait - time.Millisecond, math.MaxInt32 - 1},
		{maxEpollWait, math.MaxInt32},
		{time.Duration(1<<32+5) * time.Millisecond, math.MaxInt32},
		{math.MaxInt64, math.MaxInt32},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, durationToMillis(tt.d), "duration %v", tt.d)
	}
}

func TestSession_NegativeTimeout(t *testing.T) {
	s, _ := openPair(t)
	_, err := s.ReadTimeout(-time.Millisecond)
	require.ErrorIs(t, err, ErrInvalidArgument)

	// The argument is rejected before any handle is used.
	var zero Session
	_, err = zero.ReadTimeout(-1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSession_DecodeErrorsLeaveSessionUsable(t *testing.T) {
	s, master := openPair(t)

	bad := encoded(sampleReading)
	bad[31] ^= 0x01
	cur := feed(t, master, bad)

	_, err := s.ReadTimeout(time.Second)
	require.ErrorIs(t, err, ErrChecksum)

	short := encoded(sampleReading)
	short[3] = 0x1B
	cur.Store(&short)
	// A frame written before the swap may still be in flight.
	require.Eventually(t, func() bool {
		_, err := s.ReadTimeout(time.Second)
		return KindOf(err) == FramingError
	}, 2*time.Second, time.Millisecond)

	good := encoded(sampleReading)
	cur.Store(&good)
	require.Eventually(t, func() bool {
		r, err := s.ReadTimeout(time.Second)
		return err == nil && r == sampleReading
	}, 2*time.Second, time.Millisecond)
}

func TestSession_OpenMissingDevice(t *testing.T) {
	_, err := Open(Config{Device: "/dev/does-not-exist-pms7003"})
	require.ErrorIs(t, err, ErrDevice)
}

func TestSession_OpenUnsupportedBaud(t *testing.T) {
	_, err := Open(Config{Device: os.DevNull, BaudRate: 1234})
	require.ErrorIs(t, err, ErrDevice)
}

func TestSession_OpenNotATerminal(t *testing.T) {
	_, err := Open(Config{Device: os.DevNull})
	require.ErrorIs(t, err, ErrDevice)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "get termios", perr.Op)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, _ := openPair(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.ReadTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrDevice)
}

func TestSession_CloseWakesWait(t *testing.T) {
	s, _ := openPair(t)

	errs := make(chan error, 1)
	go func() {
		_, err := s.ReadTimeout(2 * time.Second)
		errs <- err
	}()

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrDevice)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for ReadTimeout to return after Close")
	}
}

func TestSession_FlushAfterCloseFails(t *testing.T) {
	s, _ := openPair(t)
	require.NoError(t, s.flush())

	require.NoError(t, s.Close())
	require.Error(t, s.flush())
}

func TestSession_HangupIsDeviceError(t *testing.T) {
	s, master := openPair(t)

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	_, err := s.ReadTimeout(time.Second)
	require.ErrorIs(t, err, ErrDevice)
	require.False(t, KindOf(err).Retryable())
}
