package models

const ViolationProxyDetected = "proxy_detected"

type ReportViolationRequest struct {
	StudentId     string  `json:"student_id"`
	ExamId        string  `json:"exam_id"`
	ViolationType string  `json:"violation_type"`
	Details       string  `json:"details"`
	Confidence    float64 `json:"confidence"`
}

type ReportViolationResponse struct {
	Success bool `json:"success"`
}

type Violation struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
	Details    string  `json:"details"`
}

type GetViolationsResponse struct {
	Success    bool        `json:"success"`
	Violations []Violation `json:"violations"`
}
