package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mklimuk/lightprox/environment"
	"github.com/mklimuk/lightprox/snsctx"
)

// Sink receives sampled readings.
type Sink interface {
	Insert(ctx context.Context, r Reading) (int64, error)
}

type SamplerOpts struct {
	Interval   time.Duration
	MaxSamples int
	Clock      func() time.Time
	OnReading  func(Reading)
}

type SamplerOpt func(*SamplerOpts)

func WithInterval(interval time.Duration) SamplerOpt {
	return func(o *SamplerOpts) {
		o.Interval = interval
	}
}

// WithMaxSamples stops the sampler after n stored readings, 0 means no limit.
func WithMaxSamples(n int) SamplerOpt {
	return func(o *SamplerOpts) {
		o.MaxSamples = n
	}
}

func WithClock(clock func() time.Time) SamplerOpt {
	return func(o *SamplerOpts) {
		o.Clock = clock
	}
}

// WithReadingHook calls fn with every stored reading.
func WithReadingHook(fn func(Reading)) SamplerOpt {
	return func(o *SamplerOpts) {
		o.OnReading = fn
	}
}

// Sampler reads a sensor periodically and hands the readings to a sink.
type Sampler struct {
	sensor environment.AmbientProximitySensor
	sink   Sink
	config SamplerOpts
}

func NewSampler(sensor environment.AmbientProximitySensor, sink Sink, opts ...SamplerOpt) *Sampler {
	config := SamplerOpts{
		Interval: 10 * time.Second,
		Clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	return &Sampler{sensor: sensor, sink: sink, config: config}
}

// Run samples until ctx is done or the sample limit is reached. Every run
// gets a new session id, failed samples are logged and skipped.
func (s *Sampler) Run(ctx context.Context) (string, error) {
	session := uuid.NewString()
	ctx = snsctx.WithSession(ctx, session)
	slog.Info("sampling started", "session", session, "interval", s.config.Interval)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	stored := 0
	for {
		r, err := s.Sample(ctx)
		if err != nil {
			slog.Warn("sample failed", "session", session, "err", err)
		} else {
			stored++
			if s.config.OnReading != nil {
				s.config.OnReading(r)
			}
			if s.config.MaxSamples > 0 && stored >= s.config.MaxSamples {
				slog.Info("sampling finished", "session", session, "samples", stored)
				return session, nil
			}
		}
		select {
		case <-ctx.Done():
			slog.Info("sampling stopped", "session", session, "samples", stored)
			return session, nil
		case <-ticker.C:
		}
	}
}

// Sample takes and stores one reading tagged with the session of ctx.
func (s *Sampler) Sample(ctx context.Context) (Reading, error) {
	lux, err := s.sensor.ReadAmbient(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("could not read ambient light: %w", err)
	}
	prox, err := s.sensor.ReadRawProximity(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("could not read proximity: %w", err)
	}
	near, err := s.sensor.ObjectNear(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("could not read object position: %w", err)
	}
	r := Reading{
		Session:   snsctx.Session(ctx),
		Lux:       lux,
		Proximity: prox,
		Near:      near,
		CreatedAt: s.config.Clock(),
	}
	r.ID, err = s.sink.Insert(ctx, r)
	if err != nil {
		return Reading{}, err
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("reading stored", "id", r.ID, "lux", r.Lux, "proximity", r.Proximity, "near", r.Near)
	}
	return r, nil
}
