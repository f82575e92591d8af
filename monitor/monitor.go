package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"exam-integrity-monitor/capture"
	"exam-integrity-monitor/enforcement"
	"exam-integrity-monitor/identity"
	"exam-integrity-monitor/journal"
	"exam-integrity-monitor/proctor"
	"exam-integrity-monitor/session"
	"exam-integrity-monitor/view"
	"exam-integrity-monitor/violations"
)

var (
	// ErrCameraUnavailable is returned by Start when the camera could not be
	// acquired. Nothing else is started in that case.
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrAlreadyStarted    = errors.New("monitor already started")
	ErrClosed            = errors.New("monitor closed")
)

// Recorder receives journal entries for the session.
type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Deps are the collaborators a monitor needs.
type Deps struct {
	SessionID string
	Backend   proctor.Client
	Camera    capture.CameraProvider
	Browser   enforcement.Browser

	// Optional.
	Terminator enforcement.Terminator
	GuardStore identity.GuardStore
	GuardKey   string
	Journal    Recorder
	Logger     *slog.Logger
}

// Monitor runs every integrity check for one exam session.
type Monitor struct {
	session session.Context
	cfg     Config
	deps    Deps
	log     *slog.Logger

	store       *violations.Store
	classifier  *violations.Classifier
	guard       *identity.ReportGuard
	coordinator *enforcement.Coordinator
	listener    *enforcement.Listener

	mu                sync.Mutex
	started           bool
	running           bool
	closed            bool
	cameraUnavailable bool
	reason            enforcement.TerminationReason
	stream            capture.Stream
	verifier          *identity.Verifier
	cancel            context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

func New(sess session.Context, cfg Config, deps Deps) *Monitor {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", deps.SessionID, "student_id", sess.StudentID, "exam_id", sess.ExamID)

	m := &Monitor{
		session: sess,
		cfg:     cfg,
		deps:    deps,
		log:     log,
		store:   violations.NewStore(cfg.DiscardOutOfOrder),
		done:    make(chan struct{}),
	}

	guardKey := deps.GuardKey
	if guardKey == "" {
		guardKey = identity.GuardKey("monitor", deps.SessionID)
	}
	m.classifier = violations.NewClassifier(sess, deps.Backend, m.store, log)
	m.guard = identity.NewReportGuard(sess, deps.Backend, identity.GuardOptions{
		Store:    deps.GuardStore,
		Key:      guardKey,
		OnReport: m.onReport,
	}, log)
	m.coordinator = enforcement.NewCoordinator(enforcement.CoordinatorConfig{
		MaxTabSwitches: cfg.MaxTabSwitches,
		GracePeriod:    cfg.GracePeriod,
	}, deps.Browser, m.terminate, log)
	m.listener = enforcement.NewListener(enforcement.NewDebounceDetector(cfg.DebounceWindow), m.onBreach, log)
	return m
}

// Start acquires the camera and starts monitoring. The camera is acquired
// first; if that fails ErrCameraUnavailable is returned and no listener,
// loop or backend call is started.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	stream, err := m.deps.Camera.Open(ctx)
	if err != nil {
		m.mu.Lock()
		m.cameraUnavailable = true
		m.mu.Unlock()
		m.log.Warn("Camera unavailable, monitoring not started", "error", err)
		m.record(journal.KindCameraUnavailable, err.Error())
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	if m.session.HasStudent() {
		m.loadReferences(ctx)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	encoder := capture.NewEncoder(m.cfg.MaxFrameWidth, m.cfg.MaxFrameHeight, m.cfg.JPEGQuality)
	sampler := capture.NewSampler(stream, encoder, m.classifier.HandleFrame, capture.SamplerConfig{
		Interval:    m.cfg.FrameInterval,
		MaxInFlight: m.cfg.MaxInFlight,
	}, m.log)
	verifier := identity.NewVerifier(m.session, stream, encoder, m.deps.Backend, m.guard, m.cfg.VerifyInterval, m.log)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		stream.Stop()
		return ErrClosed
	}
	m.stream = stream
	m.verifier = verifier
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.record(journal.KindSessionStarted, "")
	m.coordinator.Start()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		sampler.Run(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		verifier.Run(runCtx)
	}()

	m.log.Info("Monitoring started")
	return nil
}

// loadReferences asks the backend to prepare the student's reference
// embeddings. Verification still runs when this fails.
func (m *Monitor) loadReferences(ctx context.Context) {
	resp, err := m.deps.Backend.LoadReferenceImages(ctx, m.session.StudentID)
	switch {
	case err != nil:
		m.log.Warn("Failed to load reference images", "error", err)
	case !resp.Success:
		m.log.Warn("Backend could not load reference images", "message", resp.Message)
	default:
		m.log.Debug("Reference images loaded", "message", resp.Message)
	}
}

func (m *Monitor) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// HandleEvent feeds one browser event to the listener.
func (m *Monitor) HandleEvent(ev enforcement.Event) enforcement.Disposition {
	if !m.isRunning() {
		return enforcement.Disposition{}
	}
	return m.listener.Handle(ev)
}

func (m *Monitor) onBreach(kind enforcement.BreachKind) {
	m.coordinator.OnBreach(kind)

	switch kind {
	case enforcement.BreachTabSwitch:
		st := m.coordinator.Status()
		m.record(journal.KindTabSwitch, fmt.Sprintf("%d/%d", st.TabSwitches, st.MaxTabSwitches))
	case enforcement.BreachFullscreenExit:
		m.record(journal.KindFullscreenExit, "")
	}
}

func (m *Monitor) ReturnToExam() {
	if m.isRunning() {
		m.coordinator.ReturnToExam()
	}
}

func (m *Monitor) DismissTabWarning() bool {
	if !m.isRunning() {
		return false
	}
	return m.coordinator.DismissTabWarning()
}

func (m *Monitor) EndExam() {
	if m.isRunning() {
		m.coordinator.EndExam()
	}
}

// terminate forwards the coordinator's single termination request and
// tears the session down.
func (m *Monitor) terminate(reason enforcement.TerminationReason) {
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()

	m.record(journal.KindTermination, string(reason))
	if m.deps.Terminator != nil {
		m.deps.Terminator(reason)
	}
	m.Close()
}

func (m *Monitor) onReport(details string, err error) {
	if err != nil {
		m.record(journal.KindProxyReportFailed, err.Error())
		return
	}
	m.record(journal.KindProxyReported, details)
}

// Close tears the session down. It is safe to call more than once and from
// any goroutine. Requests still in flight finish in the background and
// their results are dropped.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		wasRunning := m.running
		m.running = false
		cancel, stream := m.cancel, m.stream
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		m.listener.Detach()
		m.coordinator.Close()
		if stream != nil {
			stream.Stop()
		}
		if wasRunning {
			if err := m.deps.Browser.ExitFullscreen(); err != nil {
				m.log.Debug("Exit fullscreen failed", "error", err)
			}
		}
		m.wg.Wait()

		if wasRunning {
			m.record(journal.KindSessionClosed, string(m.Reason()))
		}
		m.log.Info("Monitoring stopped")
		close(m.done)
	})
}

// Done is closed once the monitor has been torn down.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Reason returns why the session was terminated, if it was.
func (m *Monitor) Reason() enforcement.TerminationReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *Monitor) Session() session.Context {
	return m.session
}

// Snapshot returns the current display state.
func (m *Monitor) Snapshot() view.Snapshot {
	m.mu.Lock()
	verifier := m.verifier
	cameraUnavailable := m.cameraUnavailable
	m.mu.Unlock()

	in := view.Inputs{
		Violations:        m.store.Current(),
		ProxyReported:     m.guard.Reported(),
		Enforcement:       m.coordinator.Status(),
		CameraUnavailable: cameraUnavailable,
	}
	if verifier != nil {
		if r, ok := verifier.Latest(); ok {
			in.Identity = &r
		}
	}
	return view.Project(in)
}

func (m *Monitor) record(kind journal.Kind, details string) {
	if m.deps.Journal == nil {
		return
	}
	err := m.deps.Journal.Record(context.Background(), journal.Entry{
		SessionID: m.deps.SessionID,
		StudentID: m.session.StudentID,
		ExamID:    m.session.ExamID,
		Kind:      kind,
		Details:   details,
	})
	if err != nil {
		m.log.Warn("Failed to journal event", "kind", kind, "error", err)
	}
}
