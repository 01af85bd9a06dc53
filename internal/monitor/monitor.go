/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package monitor watches the playback provider for the loaded segment. It
// samples the playhead, applies volume fades and raises exactly one
// segment-ended signal per load.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/provider"
	"github.com/friendsincode/cueloop/internal/segment"
	"github.com/friendsincode/cueloop/internal/telemetry"
)

const commandTimeout = 5 * time.Second

// Settings tunes sampling and fades.
type Settings struct {
	FadeIn           time.Duration
	FadeOut          time.Duration
	FadeSettle       time.Duration
	TargetVolume     int
	PollInterval     time.Duration
	ProgressInterval time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		FadeIn:           2 * time.Second,
		FadeOut:          3 * time.Second,
		FadeSettle:       300 * time.Millisecond,
		TargetVolume:     100,
		PollInterval:     100 * time.Millisecond,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// Callbacks are invoked outside the monitor's lock, from the monitor's own
// goroutines. Any of them may be nil.
type Callbacks struct {
	OnReady        func(ready bool)
	OnStateChange  func(segmentID string, state provider.State)
	OnSegmentEnded func(segmentID string)
	OnError        func(segmentID string, code provider.ErrorCode, message string)
}

// Monitor owns the provider's playhead and volume for the loaded segment.
type Monitor struct {
	prov   provider.Provider
	bus    *events.Bus
	logger zerolog.Logger
	cb     Callbacks

	// volMu serializes volume writes so a cancelled ramp step can never land
	// after an explicit SetVolume.
	volMu sync.Mutex

	mu            sync.Mutex
	settings      Settings
	gen           uint64
	seg           segment.Segment
	loaded        bool
	fade          bool
	ended         bool
	playingSeen   bool
	fadingOut     bool
	samplerCancel context.CancelFunc
	rampCancel    context.CancelFunc
	settle        *time.Timer
	lastProgress  time.Time
}

// New creates a monitor. Call Run to start consuming provider events.
func New(prov provider.Provider, settings Settings, bus *events.Bus, logger zerolog.Logger, cb Callbacks) *Monitor {
	return &Monitor{
		prov:     prov,
		bus:      bus,
		logger:   logger.With().Str("component", "monitor").Logger(),
		cb:       cb,
		settings: settings,
	}
}

// Run consumes provider events until ctx is done or the provider closes its
// event channel.
func (m *Monitor) Run(ctx context.Context) {
	defer m.halt()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.prov.Events():
			if !ok {
				return
			}
			m.handle(ev)
		}
	}
}

func (m *Monitor) handle(ev provider.Event) {
	switch ev.Type {
	case provider.EventReady:
		m.logger.Info().Msg("provider ready")
		m.bus.Publish(events.PlayerReady{Ready: true})
		if m.cb.OnReady != nil {
			m.cb.OnReady(true)
		}

	case provider.EventGone:
		m.logger.Warn().Msg("provider gone")
		m.halt()
		m.bus.Publish(events.PlayerReady{Ready: false})
		if m.cb.OnReady != nil {
			m.cb.OnReady(false)
		}

	case provider.EventStateChange:
		m.bus.Publish(events.PlayerStateChanged{State: string(ev.State)})
		m.mu.Lock()
		gen, segID := m.gen, m.seg.ID
		current := m.loaded && (ev.VideoID == "" || ev.VideoID == m.seg.ResolvedID)
		if current && ev.State == provider.StatePlaying {
			m.playingSeen = true
		}
		// An ended report only counts once this load has been seen playing;
		// anything earlier is left over from the previous video.
		endsLoad := current && m.playingSeen
		m.mu.Unlock()

		switch ev.State {
		case provider.StatePlaying:
			m.startSampler()
		case provider.StateEnded:
			m.stopSampler()
			if endsLoad {
				m.fireEnd(gen, false)
			}
		default:
			m.stopSampler()
		}
		if m.cb.OnStateChange != nil {
			m.cb.OnStateChange(segID, ev.State)
		}

	case provider.EventError:
		code := provider.ClassifyError(ev.Code)
		telemetry.ProviderErrorsTotal.WithLabelValues(string(code)).Inc()
		m.stopSampler()
		m.mu.Lock()
		segID := m.seg.ID
		m.mu.Unlock()

		m.logger.Warn().Int("raw_code", ev.Code).Str("code", string(code)).Str("segment_id", segID).Msg("provider error")
		m.bus.Publish(events.PlayerError{SegmentID: segID, Code: string(code), Message: code.Describe()})
		if m.cb.OnError != nil {
			m.cb.OnError(segID, code, code.Describe())
		}
	}
}

// Load re-arms the monitor for seg and starts playback. When fade is set the
// volume starts at zero and ramps up after the settle delay.
func (m *Monitor) Load(ctx context.Context, seg segment.Segment, fade bool) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.cancelTimersLocked()
	m.seg = seg
	m.loaded = true
	m.fade = fade
	m.ended = false
	m.playingSeen = false
	m.fadingOut = false
	m.lastProgress = time.Time{}
	settings := m.settings
	m.mu.Unlock()

	start := 0
	if !fade {
		start = settings.TargetVolume
	}
	m.writeVolume(ctx, nil, start)

	if err := m.prov.Load(ctx, seg.ResolvedID, seg.StartOffset, seg.EndOffset); err != nil {
		return err
	}
	if err := m.prov.Play(ctx); err != nil {
		return err
	}
	m.logger.Debug().Str("segment_id", seg.ID).Str("video_id", seg.ResolvedID).Bool("fade", fade).Msg("segment loaded")

	if fade {
		m.mu.Lock()
		if m.gen == gen {
			m.settle = time.AfterFunc(settings.FadeSettle, func() {
				m.startFadeIn(gen, settings.TargetVolume, settings.FadeIn)
			})
		}
		m.mu.Unlock()
	}
	return nil
}

// Retarget applies edited bounds to the loaded segment without re-arming it.
// An in-flight fade-out is cancelled and the volume restored; the end latch
// is left as it is. When the end bound moved the provider is re-cued at the
// current position so it does not stop at the old bound.
func (m *Monitor) Retarget(seg segment.Segment, fade bool) {
	m.mu.Lock()
	if !m.loaded || m.seg.ID != seg.ID {
		m.mu.Unlock()
		return
	}
	boundsMoved := !sameEnd(m.seg.EndOffset, seg.EndOffset) || m.seg.ResolvedID != seg.ResolvedID
	m.seg = seg
	m.fade = fade
	restore := m.fadingOut
	if restore {
		m.cancelRampLocked()
		m.fadingOut = false
	}
	ended := m.ended
	target := m.settings.TargetVolume
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if restore {
		m.writeVolume(ctx, nil, target)
	}
	if !boundsMoved || ended {
		return
	}
	state := m.prov.State()
	if state != provider.StatePlaying && state != provider.StatePaused && state != provider.StateBuffering {
		return
	}
	pos := max(m.prov.CurrentTime(), seg.StartOffset)
	if err := m.prov.Load(ctx, seg.ResolvedID, pos, seg.EndOffset); err != nil {
		m.logger.Warn().Err(err).Str("segment_id", seg.ID).Msg("re-cue after edit failed")
		return
	}
	if state != provider.StatePaused {
		if err := m.prov.Play(ctx); err != nil {
			m.logger.Warn().Err(err).Str("segment_id", seg.ID).Msg("resume after edit failed")
		}
	}
	m.logger.Debug().Str("segment_id", seg.ID).Float64("position", pos).Msg("segment bounds retargeted")
}

func sameEnd(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SetVolume is an explicit user volume change. It cancels any fade and
// becomes the target for later fade-ins.
func (m *Monitor) SetVolume(ctx context.Context, volume int) error {
	volume = provider.Clamp(volume)
	m.mu.Lock()
	m.cancelRampLocked()
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	m.settings.TargetVolume = volume
	m.mu.Unlock()

	m.volMu.Lock()
	err := m.prov.SetVolume(ctx, volume)
	m.volMu.Unlock()
	if err != nil {
		return err
	}
	m.bus.Publish(events.VolumeChanged{Volume: volume})
	return nil
}

func (m *Monitor) Play(ctx context.Context) error  { return m.prov.Play(ctx) }
func (m *Monitor) Pause(ctx context.Context) error { return m.prov.Pause(ctx) }

// Seek moves the playhead. Seeking back out of the fade-out window restores
// the volume so the fade can run again.
func (m *Monitor) Seek(ctx context.Context, seconds float64) error {
	if err := m.prov.Seek(ctx, seconds); err != nil {
		return err
	}
	m.mu.Lock()
	end, ok := m.effectiveEndLocked(m.prov.Duration())
	restore := m.fadingOut && ok && seconds < end-m.settings.FadeOut.Seconds()
	if restore {
		m.cancelRampLocked()
		m.fadingOut = false
	}
	target := m.settings.TargetVolume
	m.mu.Unlock()

	if restore {
		m.writeVolume(ctx, nil, target)
	}
	return nil
}

// Stop halts playback and forgets the loaded segment.
func (m *Monitor) Stop(ctx context.Context) error {
	m.halt()
	m.mu.Lock()
	m.gen++
	m.loaded = false
	m.seg = segment.Segment{}
	m.mu.Unlock()
	return m.prov.Stop(ctx)
}

// Loaded returns the segment the monitor is armed for.
func (m *Monitor) Loaded() (segment.Segment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seg, m.loaded
}

// Ended reports whether the end latch is set for the current load.
func (m *Monitor) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// Settings returns the active settings.
func (m *Monitor) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// halt cancels sampler, ramps and timers.
func (m *Monitor) halt() {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.mu.Unlock()
}

func (m *Monitor) cancelTimersLocked() {
	if m.samplerCancel != nil {
		m.samplerCancel()
		m.samplerCancel = nil
	}
	m.cancelRampLocked()
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
}

func (m *Monitor) cancelRampLocked() {
	if m.rampCancel != nil {
		m.rampCancel()
		m.rampCancel = nil
	}
}

func (m *Monitor) startSampler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samplerCancel != nil || !m.loaded || m.ended {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.samplerCancel = cancel
	go m.sample(ctx, m.gen, m.settings.PollInterval)
}

func (m *Monitor) stopSampler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samplerCancel != nil {
		m.samplerCancel()
		m.samplerCancel = nil
	}
}

func (m *Monitor) sample(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(gen)
		}
	}
}

// check is one sampler tick.
func (m *Monitor) check(gen uint64) {
	current := m.prov.CurrentTime()
	duration := m.prov.Duration()
	volume := m.prov.Volume()

	m.mu.Lock()
	if gen != m.gen || m.ended {
		m.mu.Unlock()
		return
	}
	seg := m.seg
	settings := m.settings

	var progress *events.Progress
	now := time.Now()
	if now.Sub(m.lastProgress) >= settings.ProgressInterval {
		m.lastProgress = now
		p := Progress(seg, current, duration)
		progress = &p
	}

	reachedEnd := seg.EndOffset != nil && current >= *seg.EndOffset

	startFade := false
	var fadeFor time.Duration
	if end, ok := m.effectiveEndLocked(duration); ok && m.fade && !m.fadingOut && !reachedEnd && settings.FadeOut > 0 {
		if remaining := end - current; remaining <= settings.FadeOut.Seconds() {
			m.fadingOut = true
			startFade = true
			fadeFor = time.Duration(remaining * float64(time.Second))
			// A short segment can reach its fade-out before the fade-in
			// has even begun.
			if m.settle != nil {
				m.settle.Stop()
				m.settle = nil
			}
		}
	}
	m.mu.Unlock()

	if progress != nil {
		m.bus.Publish(*progress)
	}
	if startFade {
		m.logger.Debug().Str("segment_id", seg.ID).Dur("over", fadeFor).Msg("fade-out started")
		m.startRamp(gen, volume, 0, fadeFor)
	}
	if reachedEnd {
		m.fireEnd(gen, true)
	}
}

func (m *Monitor) effectiveEndLocked(duration float64) (float64, bool) {
	if m.seg.EndOffset != nil {
		return *m.seg.EndOffset, true
	}
	if duration > 0 {
		return duration, true
	}
	return 0, false
}

// fireEnd sets the latch and emits the one segment-ended signal for gen.
// atBound is set when the sampler crossed the end offset and the provider is
// still playing past it.
func (m *Monitor) fireEnd(gen uint64, atBound bool) {
	m.mu.Lock()
	if gen != m.gen || m.ended {
		m.mu.Unlock()
		telemetry.DuplicateSignalsDropped.WithLabelValues("monitor").Inc()
		return
	}
	m.ended = true
	if m.samplerCancel != nil {
		m.samplerCancel()
		m.samplerCancel = nil
	}
	segID := m.seg.ID
	m.mu.Unlock()

	if atBound {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if err := m.prov.Pause(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("pause at segment end failed")
		}
		cancel()
	}

	telemetry.SegmentEndsTotal.Inc()
	m.logger.Debug().Str("segment_id", segID).Msg("segment ended")
	m.bus.Publish(events.SegmentEnded{SegmentID: segID})
	if m.cb.OnSegmentEnded != nil {
		m.cb.OnSegmentEnded(segID)
	}
}

func (m *Monitor) startRamp(gen uint64, from, to int, over time.Duration) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.startRampLocked(from, to, over)
	m.mu.Unlock()
}

// startFadeIn ramps up from silence unless the fade-out already began.
func (m *Monitor) startFadeIn(gen uint64, to int, over time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.fadingOut {
		return
	}
	m.settle = nil
	m.startRampLocked(0, to, over)
}

func (m *Monitor) startRampLocked(from, to int, over time.Duration) {
	m.cancelRampLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.rampCancel = cancel
	go m.ramp(ctx, from, to, over)
}

// ramp moves the volume linearly from one level to another in steps of a
// tenth of a second. Cancelling ctx stops it between steps.
func (m *Monitor) ramp(ctx context.Context, from, to int, over time.Duration) {
	steps := rampSteps(over)
	interval := over / time.Duration(steps)
	if interval <= 0 {
		m.writeVolume(ctx, ctx, to)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !m.writeVolume(ctx, ctx, rampLevel(from, to, float64(i)/float64(steps))) {
			return
		}
	}
}

// writeVolume sets the provider volume unless guard is already cancelled.
func (m *Monitor) writeVolume(ctx context.Context, guard context.Context, volume int) bool {
	m.volMu.Lock()
	defer m.volMu.Unlock()
	if guard != nil && guard.Err() != nil {
		return false
	}
	if err := m.prov.SetVolume(ctx, volume); err != nil {
		m.logger.Debug().Err(err).Int("volume", volume).Msg("volume write failed")
		return false
	}
	return true
}

func rampSteps(over time.Duration) int {
	return max(1, int(over/(100*time.Millisecond)))
}

// rampLevel interpolates between from and to at progress p, clamped to
// [0, 1].
func rampLevel(from, to int, p float64) int {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return from + int(float64(to-from)*p+0.5*sign(to-from))
}

func sign(v int) float64 {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

// Progress computes the playhead position within seg as a percentage.
func Progress(seg segment.Segment, current, duration float64) events.Progress {
	end := duration
	if seg.EndOffset != nil {
		end = *seg.EndOffset
	}
	pct := 0.0
	if span := end - seg.StartOffset; span > 0 {
		pct = (current - seg.StartOffset) / span * 100
	}
	return events.Progress{
		SegmentID:   seg.ID,
		CurrentTime: current,
		Duration:    duration,
		Percent:     max(0, min(100, pct)),
	}
}
