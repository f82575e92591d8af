package proctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"exam-integrity-monitor/models"
)

// ErrTransport marks failures to obtain a usable response: network errors,
// non-2xx statuses and undecodable bodies. A decoded body carrying
// success=false is not a transport error.
var ErrTransport = errors.New("proctor backend transport error")

const DefaultTimeout = 30 * time.Second

// Client defines the backend operations the monitoring core relies on
type Client interface {
	// AnalyzeFrame classifies one camera frame for behavioural violations
	AnalyzeFrame(ctx context.Context, req models.AnalyzeFrameRequest) (*models.AnalyzeFrameResponse, error)

	// VerifyFace compares a live frame with the student's reference images
	VerifyFace(ctx context.Context, req models.FaceVerificationRequest) (*models.FaceVerificationResponse, error)

	// ReportViolation stores a violation record
	ReportViolation(ctx context.Context, req models.ReportViolationRequest) (*models.ReportViolationResponse, error)

	// GetViolations lists the stored violations for a student and exam
	GetViolations(ctx context.Context, studentId, examId string) (*models.GetViolationsResponse, error)

	// LoadReferenceImages asks the backend to precompute reference embeddings
	LoadReferenceImages(ctx context.Context, studentId string) (*models.LoadReferenceResponse, error)

	// VerificationStatus reports which reference views are loaded
	VerificationStatus(ctx context.Context, studentId string) (*models.VerificationStatusResponse, error)

	// FaceImages lists the stored reference images of a student
	FaceImages(ctx context.Context, studentId string) (*models.FaceImagesResponse, error)

	// UploadFaceImage registers a reference image for a student
	UploadFaceImage(ctx context.Context, req models.FaceImageUploadRequest) (*models.FaceImageUploadResponse, error)

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error
}

// HTTPClient implements the Client interface against the proctoring backend
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a new instance of HTTPClient
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) AnalyzeFrame(ctx context.Context, req models.AnalyzeFrameRequest) (*models.AnalyzeFrameResponse, error) {
	var resp models.AnalyzeFrameResponse
	if err := c.postJSON(ctx, "/analyze_frame", req, &resp); err != nil {
		return nil, fmt.Errorf("analyze frame: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) VerifyFace(ctx context.Context, req models.FaceVerificationRequest) (*models.FaceVerificationResponse, error) {
	var resp models.FaceVerificationResponse
	if err := c.postJSON(ctx, "/verify_face", req, &resp); err != nil {
		return nil, fmt.Errorf("verify face: %w", err)
	}
	slog.Debug("Face verification completed", "student_id", req.StudentId, "success", resp.Success, "verified", resp.Verified)
	return &resp, nil
}

func (c *HTTPClient) ReportViolation(ctx context.Context, req models.ReportViolationRequest) (*models.ReportViolationResponse, error) {
	var resp models.ReportViolationResponse
	if err := c.postJSON(ctx, "/report_violation", req, &resp); err != nil {
		return nil, fmt.Errorf("report violation: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) GetViolations(ctx context.Context, studentId, examId string) (*models.GetViolationsResponse, error) {
	query := url.Values{}
	query.Set("student_id", studentId)
	query.Set("exam_id", examId)

	var resp models.GetViolationsResponse
	if err := c.getJSON(ctx, "/get_violations", query, &resp); err != nil {
		return nil, fmt.Errorf("get violations: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) LoadReferenceImages(ctx context.Context, studentId string) (*models.LoadReferenceResponse, error) {
	var resp models.LoadReferenceResponse
	if err := c.postJSON(ctx, "/load_reference_images", models.LoadReferenceRequest{StudentId: studentId}, &resp); err != nil {
		return nil, fmt.Errorf("load reference images: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) VerificationStatus(ctx context.Context, studentId string) (*models.VerificationStatusResponse, error) {
	query := url.Values{}
	query.Set("student_id", studentId)

	var resp models.VerificationStatusResponse
	if err := c.getJSON(ctx, "/face_verification_status", query, &resp); err != nil {
		return nil, fmt.Errorf("face verification status: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) FaceImages(ctx context.Context, studentId string) (*models.FaceImagesResponse, error) {
	query := url.Values{}
	query.Set("student_id", studentId)

	var resp models.FaceImagesResponse
	if err := c.getJSON(ctx, "/get_face_images", query, &resp); err != nil {
		return nil, fmt.Errorf("get face images: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) UploadFaceImage(ctx context.Context, req models.FaceImageUploadRequest) (*models.FaceImageUploadResponse, error) {
	var resp models.FaceImageUploadResponse
	if err := c.postJSON(ctx, "/upload_face_image", req, &resp); err != nil {
		return nil, fmt.Errorf("upload face image: %w", err)
	}
	return &resp, nil
}

// HealthCheck fetches the backend's API docs route, which every deployment serves.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	slog.Info("Proctor backend health check passed", "url", c.baseURL)
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to execute request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: request failed with status %d: %s", ErrTransport, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrTransport, err)
	}
	return nil
}
