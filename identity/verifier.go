package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"exam-integrity-monitor/capture"
	"exam-integrity-monitor/images"
	"exam-integrity-monitor/models"
	"exam-integrity-monitor/session"
)

var (
	ErrVerificationTransport       = errors.New("face verification request failed")
	ErrVerificationBusinessFailure = errors.New("face verification did not complete")
)

const DefaultInterval = 3 * time.Second

// FaceVerifier is the subset of the backend used for identity checks.
type FaceVerifier interface {
	VerifyFace(ctx context.Context, req models.FaceVerificationRequest) (*models.FaceVerificationResponse, error)
}

// Verifier periodically checks that the person in front of the camera is
// the registered student and fires the guard when they are not.
type Verifier struct {
	session  session.Context
	stream   capture.Stream
	encoder  *capture.Encoder
	client   FaceVerifier
	guard    *ReportGuard
	interval time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	latest *Result
}

func NewVerifier(sess session.Context, stream capture.Stream, encoder *capture.Encoder, client FaceVerifier, guard *ReportGuard, interval time.Duration, log *slog.Logger) *Verifier {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Verifier{
		session:  sess,
		stream:   stream,
		encoder:  encoder,
		client:   client,
		guard:    guard,
		interval: interval,
		log:      log,
	}
}

// Run ticks until ctx is cancelled. A tick never waits for the request
// started by the previous one.
func (v *Verifier) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.tick(ctx)
		}
	}
}

func (v *Verifier) tick(ctx context.Context) {
	if !v.session.HasStudent() || !v.stream.Ready() {
		return
	}
	data, err := v.encoder.Capture(v.stream)
	if err != nil {
		v.log.Debug("Verification capture failed", "error", err)
		return
	}
	image := images.ToDataURL(images.MimeJPEG, data)

	go func() {
		if _, err := v.Verify(ctx, image); err != nil && ctx.Err() == nil {
			v.log.Debug("Identity check not applied", "student_id", v.session.StudentID, "error", err)
		}
	}()
}

// Verify runs one identity check for a data-URL image. Transport failures
// change nothing. Any completed response becomes the latest result, and a
// mismatch or request-level failure fires the guard.
func (v *Verifier) Verify(ctx context.Context, image string) (Result, error) {
	resp, err := v.client.VerifyFace(context.WithoutCancel(ctx), models.FaceVerificationRequest{
		StudentId: v.session.StudentID,
		Image:     image,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrVerificationTransport, err)
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	result := resultFromResponse(resp)
	v.mu.Lock()
	v.latest = &result
	v.mu.Unlock()

	if result.Mismatch() {
		v.log.Info("Identity check failed", "student_id", v.session.StudentID, "success", result.Success, "error", result.Error)
		v.guard.Fire(ctx, result.ReportDetails())
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrVerificationBusinessFailure, result.ReportDetails())
	}
	return result, nil
}

// Latest returns the most recent result, if any check completed yet.
func (v *Verifier) Latest() (Result, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.latest == nil {
		return Result{}, false
	}
	return *v.latest, true
}
