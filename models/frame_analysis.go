package models

type AnalyzeFrameRequest struct {
	Image     string `json:"image"` // data URL, image/jpeg
	StudentId string `json:"student_id"`
	ExamId    string `json:"exam_id"`
}

type DetectionResult struct {
	MultipleFaces  bool `json:"multiple_faces"`
	LookingAway    bool `json:"looking_away"`
	HeadTurning    bool `json:"head_turning"`
	DeviceDetected bool `json:"device_detected"`
}

type AnalyzeFrameResponse struct {
	Success    bool            `json:"success"`
	Violations DetectionResult `json:"violations"`
	Error      string          `json:"error,omitempty"`
}
