package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"exam-integrity-monitor/models"
	"exam-integrity-monitor/session"
)

var ErrReportTransport = errors.New("violation report failed")

// Reporter is the subset of the backend used to file violations.
type Reporter interface {
	ReportViolation(ctx context.Context, req models.ReportViolationRequest) (*models.ReportViolationResponse, error)
}

type GuardOptions struct {
	// Store, when set, is consulted after the local flag so that a
	// restarted or duplicated monitor does not report twice.
	Store GuardStore
	Key   string

	// OnReport is called once with the outcome of the report request.
	OnReport func(details string, err error)
}

// ReportGuard files at most one proxy report per session. The flag is set
// before the request is sent and is never reset, so a failed report is
// not retried.
type ReportGuard struct {
	session  session.Context
	reporter Reporter
	opts     GuardOptions
	fired    atomic.Bool
	log      *slog.Logger
}

func NewReportGuard(sess session.Context, reporter Reporter, opts GuardOptions, log *slog.Logger) *ReportGuard {
	return &ReportGuard{session: sess, reporter: reporter, opts: opts, log: log}
}

// Fire reports a proxy attempt unless one was already claimed. It returns
// true for the single caller that won the claim.
func (g *ReportGuard) Fire(ctx context.Context, details string) bool {
	if !g.fired.CompareAndSwap(false, true) {
		return false
	}
	ctx = context.WithoutCancel(ctx)

	if g.opts.Store != nil {
		ok, err := g.opts.Store.Claim(ctx, g.opts.Key)
		switch {
		case err != nil:
			g.log.Warn("Could not record proxy report claim, reporting anyway", "key", g.opts.Key, "error", err)
		case !ok:
			g.log.Info("Proxy report already claimed for this session", "key", g.opts.Key)
			return false
		}
	}

	err := g.report(ctx, details)
	if err != nil {
		g.log.Error("Failed to report proxy attempt", "student_id", g.session.StudentID, "exam_id", g.session.ExamID, "error", err)
	} else {
		g.log.Warn("Reported proxy attempt", "student_id", g.session.StudentID, "exam_id", g.session.ExamID, "details", details)
	}
	if g.opts.OnReport != nil {
		g.opts.OnReport(details, err)
	}
	return true
}

func (g *ReportGuard) report(ctx context.Context, details string) error {
	resp, err := g.reporter.ReportViolation(ctx, models.ReportViolationRequest{
		StudentId:     g.session.StudentID,
		ExamId:        g.session.ExamID,
		ViolationType: models.ViolationProxyDetected,
		Details:       details,
		Confidence:    1.0,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReportTransport, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: backend did not store the report", ErrReportTransport)
	}
	return nil
}

// Reported reports whether the guard has fired.
func (g *ReportGuard) Reported() bool {
	return g.fired.Load()
}
