package identity

import (
	"exam-integrity-monitor/models"
)

// Result is the most recent identity check for the session.
type Result struct {
	Success         bool     `json:"success"`
	Verified        bool     `json:"verified"`
	MatchCount      *int     `json:"match_count,omitempty"`
	TotalReferences *int     `json:"total_references,omitempty"`
	AverageDistance *float64 `json:"average_distance,omitempty"`
	BestDistance    *float64 `json:"best_distance,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	Error           string   `json:"error,omitempty"`
	Message         string   `json:"message,omitempty"`
}

func resultFromResponse(resp *models.FaceVerificationResponse) Result {
	return Result{
		Success:         resp.Success,
		Verified:        resp.Verified,
		MatchCount:      resp.MatchCount,
		TotalReferences: resp.TotalReferences,
		AverageDistance: resp.AverageDistance,
		BestDistance:    resp.BestDistance,
		Threshold:       resp.Threshold,
		Error:           resp.Error,
		Message:         resp.Message,
	}
}

// Mismatch reports whether this result should be escalated as a proxy.
func (r Result) Mismatch() bool {
	return !r.Success || !r.Verified
}

const (
	defaultMismatchDetails = "Face did not match the registered student"
	defaultFailureDetails  = "Face verification could not be completed"
)

// ReportDetails picks the text sent along with a proxy report: the backend
// error, then its message (only for a completed check), then a default.
func (r Result) ReportDetails() string {
	if r.Error != "" {
		return r.Error
	}
	if !r.Success {
		return defaultFailureDetails
	}
	if r.Message != "" {
		return r.Message
	}
	return defaultMismatchDetails
}
