package capture

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultFrameInterval approximates animation-frame cadence.
const DefaultFrameInterval = 16 * time.Millisecond

// FrameHandler receives captured frames. It runs on its own goroutine and
// may take as long as a network round trip.
type FrameHandler func(ctx context.Context, frame Frame)

type SamplerConfig struct {
	Interval    time.Duration
	MaxInFlight int64
}

// Sampler continuously captures frames from a stream and hands them off
// without waiting for the previous frame's handler to finish.
type Sampler struct {
	stream   Stream
	encoder  *Encoder
	handler  FrameHandler
	interval time.Duration
	inFlight *semaphore.Weighted
	seq      atomic.Uint64
	captured atomic.Uint64
	skipped  atomic.Uint64
	log      *slog.Logger
}

func NewSampler(stream Stream, encoder *Encoder, handler FrameHandler, cfg SamplerConfig, log *slog.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFrameInterval
	}
	var sem *semaphore.Weighted
	if cfg.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return &Sampler{
		stream:   stream,
		encoder:  encoder,
		handler:  handler,
		interval: cfg.Interval,
		inFlight: sem,
		log:      log,
	}
}

// Run loops until ctx is cancelled. Each cycle either captures one frame or,
// when the stream is not ready, simply reschedules itself.
func (s *Sampler) Run(ctx context.Context) {
	s.log.Debug("Frame sampler started", "interval", s.interval)
	defer s.log.Debug("Frame sampler stopped", "captured", s.captured.Load(), "not_dispatched", s.skipped.Load())

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	if ctx.Err() != nil || !s.stream.Ready() {
		return
	}

	data, err := s.encoder.Capture(s.stream)
	if err != nil {
		s.log.Debug("Frame capture failed", "error", err)
		return
	}
	s.captured.Add(1)

	frame := Frame{Seq: s.seq.Add(1), Data: data, CapturedAt: time.Now()}

	if s.inFlight != nil && !s.inFlight.TryAcquire(1) {
		s.skipped.Add(1)
		return
	}
	go func() {
		if s.inFlight != nil {
			defer s.inFlight.Release(1)
		}
		s.handler(ctx, frame)
	}()
}

// Captured returns how many frames were captured so far.
func (s *Sampler) Captured() uint64 {
	return s.captured.Load()
}
