// Package sampler runs the long-lived read loop of pms7003d: it keeps a
// session open, applies the retry policy for each error kind, filters
// implausible readings and hands window averages to sinks.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	pms7003 "github.com/luhtfiimanal/go-pms7003"
	"github.com/luhtfiimanal/go-pms7003/internal/metrics"
)

// Source is an open sensor link. *pms7003.Session implements it.
type Source interface {
	ReadTimeout(timeout time.Duration) (pms7003.Reading, error)
	Close() error
}

// Opener opens a new Source.
type Opener func() (Source, error)

// Summary is the result of one full sample window.
type Summary struct {
	Average    [12]float64 // wire order, see metrics.FieldNames
	AirQuality int
	Samples    int
	At         time.Time
}

// Sink receives window summaries.
type Sink interface {
	Publish(ctx context.Context, s Summary) error
}

// Config controls the loop.
type Config struct {
	ReadTimeout          time.Duration
	Window               int
	MaxConsecutiveErrors int           // framing/checksum errors in a row before reopening; 0 never reopens
	ReopenInterval       time.Duration // minimum time between open attempts
	MaxPM                uint16        // limit for atmospheric PM2.5 and PM10; 0 disables the check
	MaxCount             uint16        // limit for the >0.3um count; 0 disables the check
}

// Sampler owns the read loop.
type Sampler struct {
	cfg     Config
	open    Opener
	sinks   []Sink
	log     *zap.Logger
	metrics *metrics.SensorMetrics
	limiter *rate.Limiter
	window  *Window

	mu     sync.Mutex
	cur    Source
	opened int
}

// New creates a Sampler. m may be nil.
func New(cfg Config, open Opener, log *zap.Logger, m *metrics.SensorMetrics, sinks ...Sink) *Sampler {
	limit := rate.Inf
	if cfg.ReopenInterval > 0 {
		limit = rate.Every(cfg.ReopenInterval)
	}
	return &Sampler{
		cfg:     cfg,
		open:    open,
		sinks:   sinks,
		log:     log,
		metrics: m,
		limiter: rate.NewLimiter(limit, 1),
		window:  NewWindow(cfg.Window),
	}
}

// Run reads until ctx is done. Cancelling ctx closes the current session,
// which unblocks a pending wait. Run always returns nil after cancellation.
func (s *Sampler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.closeSource)
	defer stop()
	defer s.closeSource()

	consecutive := 0
	for ctx.Err() == nil {
		src, err := s.source(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn("open sensor failed", zap.Error(err))
			continue
		}

		r, err := src.ReadTimeout(s.cfg.ReadTimeout)
		if ctx.Err() != nil {
			break
		}
		if s.metrics != nil {
			s.metrics.ObserveRead(err)
		}

		switch kind := pms7003.KindOf(err); {
		case err == nil:
			consecutive = 0
			s.accept(ctx, r)
		case kind == pms7003.Timeout:
			s.log.Debug("no frame", zap.Error(err))
		case kind.Retryable():
			consecutive++
			s.log.Warn("bad frame", zap.Error(err), zap.Int("consecutive", consecutive))
			if s.cfg.MaxConsecutiveErrors > 0 && consecutive >= s.cfg.MaxConsecutiveErrors {
				s.log.Warn("too many bad frames, reopening")
				consecutive = 0
				s.closeSource()
			}
		default:
			s.log.Error("sensor read failed, reopening", zap.Error(err))
			consecutive = 0
			s.closeSource()
		}
	}
	return nil
}

// source returns the open session, opening one if needed.
func (s *Sampler) source(ctx context.Context) (Source, error) {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	src, err := s.open()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		src.Close()
		return nil, ctx.Err()
	}
	s.cur = src
	s.opened++
	if s.opened > 1 && s.metrics != nil {
		s.metrics.ReopenTotal.Inc()
	}
	s.log.Info("sensor opened", zap.Int("opened", s.opened))
	return src, nil
}

func (s *Sampler) closeSource() {
	s.mu.Lock()
	cur := s.cur
	s.cur = nil
	s.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}

// accept filters r and feeds it into the window.
func (s *Sampler) accept(ctx context.Context, r pms7003.Reading) {
	if err := s.check(r); err != nil {
		s.log.Warn("reading out of range", zap.Error(err), zap.Stringer("reading", r))
		if s.metrics != nil {
			s.metrics.ObserveRejected()
		}
		return
	}
	s.log.Debug("reading", zap.Stringer("reading", r))
	if s.metrics != nil {
		s.metrics.SetReading(r)
	}
	if !s.window.Add(r) {
		return
	}

	avg := s.window.Average()
	sum := Summary{
		Average:    avg,
		AirQuality: AirQuality(avg[4]),
		Samples:    s.window.Len(),
		At:         time.Now(),
	}
	s.log.Info("window complete",
		zap.Float64("pm2_5", avg[4]),
		zap.Float64("pm10", avg[5]),
		zap.Int("air_quality", sum.AirQuality))
	if s.metrics != nil {
		s.metrics.SetAverage(avg, sum.AirQuality)
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, sum); err != nil {
			s.log.Warn("publish failed", zap.Error(err))
		}
	}
}

var errOutOfRange = errors.New("value out of range")

// check rejects readings whose headline values exceed the configured limits.
// The remaining fields are not range checked.
func (s *Sampler) check(r pms7003.Reading) error {
	limits := []struct {
		name  string
		v     uint16
		limit uint16
	}{
		{"pm2_5", r.PM2_5, s.cfg.MaxPM},
		{"pm10", r.PM10, s.cfg.MaxPM},
		{"count_0_3", r.Count0_3, s.cfg.MaxCount},
	}
	for _, l := range limits {
		if l.limit > 0 && l.v > l.limit {
			return fmt.Errorf("%w: %s %d > %d", errOutOfRange, l.name, l.v, l.limit)
		}
	}
	return nil
}
