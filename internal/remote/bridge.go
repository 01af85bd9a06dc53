/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package remote bridges the engine to a browser page over a websocket. The
// page hosts the video player, the transition screen and the audio cue; the
// bridge turns engine calls into commands and page reports into provider
// events.
package remote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/cueloop/internal/provider"
	"github.com/friendsincode/cueloop/internal/telemetry"
)

const (
	eventBuffer  = 256
	pingInterval = 15 * time.Second
	writeTimeout = 2 * time.Second
)

// ErrDisconnected is returned to a cue waiting on a page that went away.
var ErrDisconnected = errors.New("player page disconnected")

// Page reports, sent by the browser.
const (
	reportReady   = "ready"
	reportState   = "state"
	reportTime    = "time"
	reportError   = "error"
	reportCueDone = "cue_done"
)

// Commands, sent to the browser.
const (
	cmdLoad       = "load"
	cmdPlay       = "play"
	cmdPause      = "pause"
	cmdStop       = "stop"
	cmdSeek       = "seek"
	cmdVolume     = "volume"
	cmdScreenShow = "screen_show"
	cmdScreenTick = "screen_tick"
	cmdScreenHide = "screen_hide"
	cmdCuePlay    = "cue_play"
)

type report struct {
	Type        string  `json:"type"`
	VideoID     string  `json:"video_id,omitempty"`
	State       string  `json:"state,omitempty"`
	CurrentTime float64 `json:"current_time,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Volume      *int    `json:"volume,omitempty"`
	Code        int     `json:"code,omitempty"`
	Message     string  `json:"message,omitempty"`
	CueID       uint64  `json:"cue_id,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type command struct {
	Type      string   `json:"type"`
	VideoID   string   `json:"video_id,omitempty"`
	Start     *float64 `json:"start,omitempty"`
	End       *float64 `json:"end,omitempty"`
	Seconds   *float64 `json:"seconds,omitempty"`
	Volume    *int     `json:"volume,omitempty"`
	Label     string   `json:"label,omitempty"`
	Remaining *int     `json:"remaining,omitempty"`
	Emphasis  bool     `json:"emphasis,omitempty"`
	Cue       string   `json:"cue,omitempty"`
	CueID     uint64   `json:"cue_id,omitempty"`
}

// Bridge is a provider.Provider, transition.Screen and transition.Cue backed
// by one attached browser page. A newly attached page replaces the old one.
type Bridge struct {
	logger zerolog.Logger
	events chan provider.Event

	mu      sync.Mutex
	conn    *ws.Conn
	connID  uint64
	ready   bool
	videoID string
	state   provider.State
	// position as last reported, extrapolated while playing
	position   float64
	positionAt time.Time
	duration   float64
	volume     int
	cueSeq     uint64
	cues       map[uint64]chan error
}

var _ provider.Provider = (*Bridge)(nil)

// New creates a bridge with no page attached.
func New(logger zerolog.Logger) *Bridge {
	return &Bridge{
		logger: logger.With().Str("component", "remote").Logger(),
		events: make(chan provider.Event, eventBuffer),
		state:  provider.StateUnstarted,
		volume: 100,
		cues:   make(map[uint64]chan error),
	}
}

// ServeHTTP attaches the requesting page and serves it until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		b.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebsocketConnections.WithLabelValues("player").Inc()
	defer telemetry.WebsocketConnections.WithLabelValues("player").Dec()

	id := b.attach(conn)
	defer b.detach(id)
	b.logger.Info().Uint64("connection", id).Str("remote_addr", r.RemoteAddr).Msg("player page attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go b.keepAlive(ctx, conn)

	for {
		var msg report
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ws.CloseStatus(err) == ws.StatusNormalClosure || ws.CloseStatus(err) == ws.StatusGoingAway {
				conn.Close(ws.StatusNormalClosure, "")
				return
			}
			b.logger.Debug().Err(err).Uint64("connection", id).Msg("websocket read error")
			return
		}
		b.handle(id, msg)
	}
}

func (b *Bridge) keepAlive(ctx context.Context, conn *ws.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				b.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func (b *Bridge) attach(conn *ws.Conn) uint64 {
	b.mu.Lock()
	old := b.conn
	wasReady := b.ready
	b.connID++
	id := b.connID
	b.conn = conn
	b.ready = false
	b.resetLocked()
	b.failCuesLocked()
	if wasReady {
		b.emitLocked(provider.Event{Type: provider.EventGone})
	}
	b.mu.Unlock()

	if old != nil {
		old.Close(ws.StatusPolicyViolation, "replaced by another player page")
	}
	return id
}

func (b *Bridge) detach(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connID != id || b.conn == nil {
		return
	}
	b.conn = nil
	wasReady := b.ready
	b.ready = false
	b.resetLocked()
	b.failCuesLocked()
	if wasReady {
		b.emitLocked(provider.Event{Type: provider.EventGone})
	}
	b.logger.Info().Uint64("connection", id).Msg("player page detached")
}

func (b *Bridge) handle(id uint64, msg report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != b.connID {
		return
	}

	switch msg.Type {
	case reportReady:
		if msg.Volume != nil {
			b.volume = provider.Clamp(*msg.Volume)
		}
		if !b.ready {
			b.ready = true
			b.emitLocked(provider.Event{Type: provider.EventReady})
		}

	case reportState:
		st := provider.State(msg.State)
		if msg.VideoID == "" {
			msg.VideoID = b.videoID
		}
		if msg.VideoID == b.videoID {
			b.notePositionLocked(msg)
			b.state = st
		}
		b.emitLocked(provider.Event{Type: provider.EventStateChange, VideoID: msg.VideoID, State: st})

	case reportTime:
		b.notePositionLocked(msg)
		if msg.Volume != nil {
			b.volume = provider.Clamp(*msg.Volume)
		}

	case reportError:
		if msg.VideoID == "" {
			msg.VideoID = b.videoID
		}
		b.emitLocked(provider.Event{Type: provider.EventError, VideoID: msg.VideoID, Code: msg.Code, Message: msg.Message})

	case reportCueDone:
		if waiter, ok := b.cues[msg.CueID]; ok {
			delete(b.cues, msg.CueID)
			if msg.Error != "" {
				waiter <- errors.New(msg.Error)
			} else {
				waiter <- nil
			}
		}

	default:
		b.logger.Warn().Str("type", msg.Type).Msg("unknown player report")
	}
}

func (b *Bridge) notePositionLocked(msg report) {
	if msg.VideoID != "" && msg.VideoID != b.videoID {
		return
	}
	b.position = msg.CurrentTime
	b.positionAt = time.Now()
	if msg.Duration > 0 {
		b.duration = msg.Duration
	}
}

// Provider

// Load cues id on the page.
func (b *Bridge) Load(ctx context.Context, id string, start float64, end *float64) error {
	b.mu.Lock()
	if !b.ready {
		b.mu.Unlock()
		return provider.ErrNotReady
	}
	b.videoID = id
	b.state = provider.StateUnstarted
	b.position = start
	b.positionAt = time.Now()
	b.duration = 0
	b.mu.Unlock()

	return b.send(ctx, command{Type: cmdLoad, VideoID: id, Start: &start, End: end})
}

func (b *Bridge) Play(ctx context.Context) error {
	return b.sendReady(ctx, command{Type: cmdPlay})
}

func (b *Bridge) Pause(ctx context.Context) error {
	return b.sendReady(ctx, command{Type: cmdPause})
}

func (b *Bridge) Stop(ctx context.Context) error {
	return b.sendReady(ctx, command{Type: cmdStop})
}

func (b *Bridge) Seek(ctx context.Context, seconds float64) error {
	b.mu.Lock()
	b.position = seconds
	b.positionAt = time.Now()
	b.mu.Unlock()
	return b.sendReady(ctx, command{Type: cmdSeek, Seconds: &seconds})
}

func (b *Bridge) SetVolume(ctx context.Context, volume int) error {
	volume = provider.Clamp(volume)
	b.mu.Lock()
	b.volume = volume
	b.mu.Unlock()
	return b.sendReady(ctx, command{Type: cmdVolume, Volume: &volume})
}

// CurrentTime extrapolates the last reported position while playing.
func (b *Bridge) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != provider.StatePlaying || b.positionAt.IsZero() {
		return b.position
	}
	current := b.position + time.Since(b.positionAt).Seconds()
	if b.duration > 0 && current > b.duration {
		return b.duration
	}
	return current
}

func (b *Bridge) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

func (b *Bridge) Volume() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

func (b *Bridge) State() provider.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *Bridge) Events() <-chan provider.Event {
	return b.events
}

// Screen

// Show puts the countdown overlay up on the page.
func (b *Bridge) Show(label string, seconds int) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	s := float64(seconds)
	return b.send(ctx, command{Type: cmdScreenShow, Label: label, Seconds: &s})
}

func (b *Bridge) Tick(remaining int, emphasis bool) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := b.send(ctx, command{Type: cmdScreenTick, Remaining: &remaining, Emphasis: emphasis}); err != nil {
		b.logger.Debug().Err(err).Int("remaining", remaining).Msg("screen tick not delivered")
	}
}

func (b *Bridge) Hide() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := b.send(ctx, command{Type: cmdScreenHide}); err != nil {
		b.logger.Debug().Err(err).Msg("screen hide not delivered")
	}
}

// Cue

// playCue asks the page to play the named cue and waits until it reports
// done.
func (b *Bridge) playCue(ctx context.Context, name string) error {
	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return provider.ErrNotReady
	}
	b.cueSeq++
	id := b.cueSeq
	waiter := make(chan error, 1)
	b.cues[id] = waiter
	b.mu.Unlock()

	if err := b.send(ctx, command{Type: cmdCuePlay, Cue: name, CueID: id}); err != nil {
		b.dropCue(id)
		return err
	}
	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		b.dropCue(id)
		return ctx.Err()
	}
}

// Cue returns the bridge's audio cue player.
func (b *Bridge) Cue() CueAdapter {
	return CueAdapter{b: b}
}

// CueAdapter plays transition cues on the attached page.
type CueAdapter struct {
	b *Bridge
}

func (c CueAdapter) Play(ctx context.Context, name string) error {
	return c.b.playCue(ctx, name)
}

func (b *Bridge) dropCue(id uint64) {
	b.mu.Lock()
	delete(b.cues, id)
	b.mu.Unlock()
}

func (b *Bridge) sendReady(ctx context.Context, cmd command) error {
	if !b.Ready() {
		return provider.ErrNotReady
	}
	return b.send(ctx, cmd)
}

func (b *Bridge) send(ctx context.Context, cmd command) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return provider.ErrNotReady
	}
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) resetLocked() {
	b.videoID = ""
	b.state = provider.StateUnstarted
	b.position = 0
	b.positionAt = time.Time{}
	b.duration = 0
}

func (b *Bridge) failCuesLocked() {
	for id, waiter := range b.cues {
		waiter <- ErrDisconnected
		delete(b.cues, id)
	}
}

// emitLocked never blocks; a consumer that stops reading loses events.
func (b *Bridge) emitLocked(ev provider.Event) {
	select {
	case b.events <- ev:
	default:
		b.logger.Warn().Int("type", int(ev.Type)).Msg("provider event dropped")
	}
}
