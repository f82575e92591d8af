package models

type FaceVerificationRequest struct {
	StudentId string `json:"student_id"`
	Image     string `json:"image"` // data URL, image/jpeg
}

type LoadReferenceRequest struct {
	StudentId string `json:"student_id"`
}

type FaceImageUploadRequest struct {
	StudentId string `json:"student_id"`
	Image     string `json:"image"`     // data URL
	ViewType  string `json:"view_type"` // front, left, right...
}
