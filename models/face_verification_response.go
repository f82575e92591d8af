package models

// FaceVerificationResponse is the body of /verify_face. A request-level
// failure (no reference images, no face found) comes back with
// Success=false and the reason in Error.
type FaceVerificationResponse struct {
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

type LoadReferenceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type VerificationStatus struct {
	Loaded         bool     `json:"loaded"`
	ReferenceCount int      `json:"reference_count"`
	ReferenceViews []string `json:"reference_views"`
}

type VerificationStatusResponse struct {
	Success bool               `json:"success"`
	Status  VerificationStatus `json:"status"`
}

type FaceImage struct {
	Filename  string `json:"filename"`
	ViewType  string `json:"view_type"`
	Timestamp string `json:"timestamp"`
	Size      int64  `json:"size"`
}

// FaceImagesResponse lists a student's stored reference images, newest first.
type FaceImagesResponse struct {
	Success bool        `json:"success"`
	Images  []FaceImage `json:"images"`
}

type FaceImageUploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}
