package sampler

import (
	pms7003 "github.com/luhtfiimanal/go-pms7003"
)

// Window keeps the last n readings and reports when n new ones have arrived.
type Window struct {
	buf   []pms7003.Reading
	next  int
	count int // readings since the last full window
	size  int // readings currently held
}

// NewWindow returns a window of n readings; n < 1 is treated as 1.
func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{buf: make([]pms7003.Reading, n)}
}

// Add stores r and reports whether a full window of new readings is ready.
func (w *Window) Add(r pms7003.Reading) bool {
	w.buf[w.next] = r
	w.next = (w.next + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
	w.count++
	if w.count == len(w.buf) {
		w.count = 0
		return true
	}
	return false
}

// Len returns the number of readings held.
func (w *Window) Len() int { return w.size }

// Average returns the per-field mean of the readings held, in wire order.
func (w *Window) Average() [12]float64 {
	var sum [12]float64
	if w.size == 0 {
		return sum
	}
	for _, r := range w.buf[:w.size] {
		for i, v := range r.Values() {
			sum[i] += float64(v)
		}
	}
	for i := range sum {
		sum[i] /= float64(w.size)
	}
	return sum
}

// AirQuality maps a PM2.5 concentration in µg/m³ to a category from
// 1 (excellent) to 5 (poor).
func AirQuality(pm25 float64) int {
	switch {
	case pm25 <= 15:
		return 1
	case pm25 <= 40:
		return 2
	case pm25 <= 65:
		return 3
	case pm25 <= 150:
		return 4
	default:
		return 5
	}
}
