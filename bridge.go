package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"exam-integrity-monitor/capture"
	"exam-integrity-monitor/enforcement"
	"exam-integrity-monitor/images"
	"exam-integrity-monitor/models"

	"github.com/gorilla/websocket"
)

const (
	cameraWaitTimeout = 30 * time.Second
	writeWait         = 5 * time.Second
	statusInterval    = time.Second
)

var errCameraDenied = errors.New("camera permission denied")

// Bridge connects a monitor to the exam page over one websocket. It plays
// the browser towards the monitor: it forwards commands to the page and
// exposes the page's camera as a capture stream.
type Bridge struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     *slog.Logger

	camera *RemoteCamera
	clock  pageClock
	closed chan struct{}
	once   sync.Once
}

func NewBridge(conn *websocket.Conn, log *slog.Logger) *Bridge {
	b := &Bridge{conn: conn, log: log, closed: make(chan struct{})}
	b.camera = newRemoteCamera(b)
	return b
}

// Camera returns the page's camera.
func (b *Bridge) Camera() *RemoteCamera {
	return b.camera
}

func (b *Bridge) send(v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return b.conn.WriteJSON(v)
}

func (b *Bridge) command(cmd models.CommandMessage) error {
	cmd.Type = models.MessageCommand
	if err := b.send(cmd); err != nil {
		b.log.Debug("Failed to send command", "command", cmd.Command, "error", err)
		return fmt.Errorf("send %s: %w", cmd.Command, err)
	}
	return nil
}

func (b *Bridge) RequestFullscreen() error {
	return b.command(models.CommandMessage{Command: models.CommandRequestFullscreen})
}

func (b *Bridge) ExitFullscreen() error {
	return b.command(models.CommandMessage{Command: models.CommandExitFullscreen})
}

func (b *Bridge) SuspendExam() {
	_ = b.command(models.CommandMessage{Command: models.CommandSuspendExam})
}

func (b *Bridge) ShowFullscreenWarning() {
	_ = b.command(models.CommandMessage{Command: models.CommandShowFullscreenWarning})
}

func (b *Bridge) ShowTabSwitchWarning(count, max int, dismissible bool) {
	_ = b.command(models.CommandMessage{
		Command:     models.CommandShowTabWarning,
		Count:       count,
		Max:         max,
		Dismissible: dismissible,
	})
}

func (b *Bridge) HideWarning() {
	_ = b.command(models.CommandMessage{Command: models.CommandHideWarning})
}

// Terminate tells the page to leave the exam.
func (b *Bridge) Terminate(reason enforcement.TerminationReason) {
	_ = b.command(models.CommandMessage{Command: models.CommandTerminate, Reason: string(reason)})
}

func (b *Bridge) SendPolicy() error {
	kinds := enforcement.SuppressedKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	return b.send(models.PolicyMessage{Type: models.MessagePolicy, Suppress: names})
}

func (b *Bridge) SendError(code, message string) error {
	return b.send(models.ErrorMessage{Type: models.MessageError, Error: code, Message: message})
}

// SessionControl is the part of the monitor the page can drive.
type SessionControl interface {
	HandleEvent(ev enforcement.Event) enforcement.Disposition
	ReturnToExam()
	EndExam()
	DismissTabWarning() bool
}

// ReadLoop dispatches page messages until the connection fails or Close is
// called. It always returns a non-nil error.
func (b *Bridge) ReadLoop(control SessionControl) error {
	defer b.Close()
	for {
		var msg models.ClientMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		b.dispatch(control, msg)
	}
}

func (b *Bridge) dispatch(control SessionControl, msg models.ClientMessage) {
	switch msg.Type {
	case models.MessageCamera:
		b.camera.setPermission(msg.Granted, msg.Error)

	case models.MessageFrame:
		if err := b.camera.push(msg.Image); err != nil {
			b.log.Debug("Dropped undecodable frame", "error", err)
		}

	case models.MessageEvent:
		kind, err := enforcement.ParseEventKind(msg.Event)
		if err != nil {
			b.log.Debug("Ignoring unknown event", "event", msg.Event)
			return
		}
		ev := enforcement.Event{
			Kind:             kind,
			Hidden:           msg.Hidden,
			FullscreenActive: msg.FullscreenActive,
			At:               b.clock.serverTime(msg.At, time.Now()),
		}
		d := control.HandleEvent(ev)
		if d.PreventDefault {
			_ = b.send(models.DispositionMessage{Type: models.MessageDisposition, Event: msg.Event, PreventDefault: true})
		}

	case models.MessageAction:
		switch msg.Action {
		case models.ActionReturnToExam:
			control.ReturnToExam()
		case models.ActionEndExam:
			control.EndExam()
		case models.ActionDismissTabWarning:
			control.DismissTabWarning()
		default:
			b.log.Debug("Ignoring unknown action", "action", msg.Action)
		}

	default:
		b.log.Debug("Ignoring unknown message", "type", msg.Type)
	}
}

// pageClock maps page timestamps onto the server clock. The offset is
// taken from the first stamped event, so the page's spacing between events
// is kept while its absolute clock is ignored. Only ReadLoop uses it.
type pageClock struct {
	offset time.Duration
	synced bool
}

// serverTime converts a unix millisecond page timestamp. Unstamped events
// get now.
func (c *pageClock) serverTime(pageMillis int64, now time.Time) time.Time {
	if pageMillis <= 0 {
		return now
	}
	at := time.UnixMilli(pageMillis)
	if !c.synced {
		c.offset = now.Sub(at)
		c.synced = true
	}
	return at.Add(c.offset)
}

// StreamStatus pushes status snapshots until ctx is done or the bridge closes.
func (b *Bridge) StreamStatus(ctx context.Context, snapshot func() (any, []string)) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case <-ticker.C:
			status, lines := snapshot()
			if err := b.send(models.StatusMessage{Type: models.MessageStatus, Status: status, Lines: lines}); err != nil {
				return
			}
		}
	}
}

// Close closes the connection once.
func (b *Bridge) Close() {
	b.once.Do(func() {
		close(b.closed)
		b.writeMu.Lock()
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		b.writeMu.Unlock()
		if err := b.conn.Close(); err != nil {
			b.log.Debug("Closing websocket failed", "error", err)
		}
	})
}

func (b *Bridge) Closed() <-chan struct{} {
	return b.closed
}

// ------------------------------------------------------------------------------

// RemoteCamera is the page's camera. The page reports the permission
// outcome once and then streams JPEG frames.
type RemoteCamera struct {
	bridge *Bridge

	permission chan error
	permOnce   sync.Once

	mu      sync.RWMutex
	latest  image.Image
	stopped bool
}

func newRemoteCamera(b *Bridge) *RemoteCamera {
	return &RemoteCamera{bridge: b, permission: make(chan error, 1)}
}

func (c *RemoteCamera) setPermission(granted bool, reason string) {
	c.permOnce.Do(func() {
		if granted {
			c.permission <- nil
			return
		}
		if reason == "" {
			c.permission <- errCameraDenied
			return
		}
		c.permission <- fmt.Errorf("%w: %s", errCameraDenied, reason)
	})
}

// Open waits for the page to report whether the camera was granted.
func (c *RemoteCamera) Open(ctx context.Context) (capture.Stream, error) {
	timer := time.NewTimer(cameraWaitTimeout)
	defer timer.Stop()

	select {
	case err := <-c.permission:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-c.bridge.Closed():
		return nil, fmt.Errorf("connection closed before camera was granted")
	case <-timer.C:
		return nil, fmt.Errorf("no camera response within %s", cameraWaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RemoteCamera) push(dataURL string) error {
	_, raw, err := images.FromDataURL(dataURL)
	if err != nil {
		return err
	}
	img, err := images.Decode(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.latest = img
	}
	return nil
}

func (c *RemoteCamera) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.stopped && c.latest != nil
}

func (c *RemoteCamera) Frame() (image.Image, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped || c.latest == nil {
		return nil, capture.ErrNotReady
	}
	return c.latest, nil
}

// Stop drops the buffered frame and asks the page to stop its tracks.
func (c *RemoteCamera) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.latest = nil
	c.mu.Unlock()

	_ = c.bridge.command(models.CommandMessage{Command: models.CommandStopCamera})
}

var (
	_ enforcement.Browser    = (*Bridge)(nil)
	_ capture.CameraProvider = (*RemoteCamera)(nil)
	_ capture.Stream         = (*RemoteCamera)(nil)
)
