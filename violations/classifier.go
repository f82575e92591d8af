package violations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"exam-integrity-monitor/capture"
	"exam-integrity-monitor/models"
	"exam-integrity-monitor/proctor"
	"exam-integrity-monitor/session"
)

var ErrClassificationTransport = errors.New("frame classification failed")

// Analyzer is the subset of the backend used for classification.
type Analyzer interface {
	AnalyzeFrame(ctx context.Context, req models.AnalyzeFrameRequest) (*models.AnalyzeFrameResponse, error)
}

var _ Analyzer = (proctor.Client)(nil)

// Classifier sends frames to the analysis backend and records the result.
type Classifier struct {
	session  session.Context
	analyzer Analyzer
	store    *Store
	log      *slog.Logger
}

func NewClassifier(sess session.Context, analyzer Analyzer, store *Store, log *slog.Logger) *Classifier {
	return &Classifier{session: sess, analyzer: analyzer, store: store, log: log}
}

// Classify analyses one frame. Requests run on a context detached from
// ctx so teardown does not abort them; once ctx is done the result is
// discarded instead of applied. Any failure leaves the stored state as is.
func (c *Classifier) Classify(ctx context.Context, frame capture.Frame) (State, error) {
	resp, err := c.analyzer.AnalyzeFrame(context.WithoutCancel(ctx), models.AnalyzeFrameRequest{
		Image:     frame.DataURL(),
		StudentId: c.session.StudentID,
		ExamId:    c.session.ExamID,
	})
	if err != nil {
		return c.store.Current(), fmt.Errorf("%w: %v", ErrClassificationTransport, err)
	}
	if !resp.Success {
		return c.store.Current(), fmt.Errorf("%w: backend reported failure: %s", ErrClassificationTransport, resp.Error)
	}
	if ctx.Err() != nil {
		return c.store.Current(), ctx.Err()
	}

	state := FromDetection(resp.Violations)
	if !c.store.Apply(frame.Seq, state) {
		c.log.Debug("Dropped out of order classification", "seq", frame.Seq)
	}
	return state, nil
}

// HandleFrame adapts Classify to a capture.FrameHandler.
func (c *Classifier) HandleFrame(ctx context.Context, frame capture.Frame) {
	if _, err := c.Classify(ctx, frame); err != nil && ctx.Err() == nil {
		c.log.Debug("Frame analysis failed, keeping previous state", "seq", frame.Seq, "error", err)
	}
}
