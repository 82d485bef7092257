//go:build linux

package sampler

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pms7003 "github.com/luhtfiimanal/go-pms7003"
)

func TestSampler_OverPTY(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	frame := pms7003.Encode(pms7003.Reading{PM2_5Standard: 12, PM2_5: 14, PM10: 20, Count0_3: 900})
	stopFeed := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-ticker.C:
				if _, err := master.Write(frame[:]); err != nil {
					return
				}
			}
		}
	}()
	t.Cleanup(func() { close(stopFeed) })

	open := func() (Source, error) {
		s, err := pms7003.Open(pms7003.Config{Device: slave.Name()})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	cfg := testConfig()
	cfg.ReadTimeout = time.Second
	sink := make(chanSink, 1)

	stop := run(t, New(cfg, open, zaptest.NewLogger(t), nil, sink))
	sum := waitSummary(t, sink)
	stop()

	assert.InDelta(t, 14.0, sum.Average[4], 1e-9)
	assert.InDelta(t, 900.0, sum.Average[6], 1e-9)
	assert.Equal(t, 1, sum.AirQuality)
}
