package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exam-integrity-monitor/images"
	"exam-integrity-monitor/models"
	"exam-integrity-monitor/monitor"
	"exam-integrity-monitor/proctor"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testConfig = ServerConfig{
	Host: "localhost",
	Port: 8081,
}

var (
	sharedKeyOnce sync.Once
	sharedKey     *rsa.PrivateKey
)

func testIssuer(t *testing.T) *RSATokenIssuer {
	t.Helper()
	sharedKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		sharedKey = key
	})
	return NewRSATokenIssuerFromKey(sharedKey, "exam-monitor-test", time.Hour)
}

func testMonitorConfig() monitor.Config {
	return monitor.Config{
		FrameInterval:  5 * time.Millisecond,
		VerifyInterval: 20 * time.Millisecond,
		GracePeriod:    50 * time.Millisecond,
		MaxTabSwitches: 3,
	}
}

// startTestServer runs the router on an ephemeral port.
func startTestServer(t *testing.T, state *ServerState) string {
	t.Helper()

	if state.nonceStorage == nil {
		state.nonceStorage = NewInMemoryNonceStorage()
	}
	if state.tokenIssuer == nil {
		state.tokenIssuer = testIssuer(t)
	}
	if state.namespace == "" {
		state.namespace = "test"
	}

	srv, err := NewServer(state, testConfig)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		state.sessions.CloseAll()
		ts.Close()
	})
	return ts.URL
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func getJSON[T any](t *testing.T, url string) (*http.Response, []byte, *T) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

func createSession(t *testing.T, baseURL, studentId, examId string) models.CreateSessionResponse {
	t.Helper()
	resp, body, created := postJSON[models.CreateSessionResponse](t, baseURL+"/api/sessions",
		models.CreateSessionRequest{StudentId: studentId, ExamId: examId})
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, created.SessionId)
	require.NotEmpty(t, created.Nonce)
	require.NotEmpty(t, created.Token)
	return *created
}

func dialSession(baseURL string, s models.CreateSessionResponse) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/sessions/" + s.SessionId + "/ws?token=" + s.Token + "&nonce=" + s.Nonce
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil reads messages until match returns true for one of them.
func readUntil(t *testing.T, conn *websocket.Conn, match func(msg map[string]any) bool) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func isCommand(name string) func(map[string]any) bool {
	return func(msg map[string]any) bool {
		return msg["type"] == models.MessageCommand && msg["command"] == name
	}
}

func isType(typ string) func(map[string]any) bool {
	return func(msg map[string]any) bool {
		return msg["type"] == typ
	}
}

func testFrameDataURL(t *testing.T) string {
	return testImageDataURL(t, 32, 24)
}

func testImageDataURL(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, images.EncodeJPEG(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), 80))
	return images.ToDataURL(images.MimeJPEG, buf.Bytes())
}

// test doubles

type fakeBackend struct {
	analyzeCalls atomic.Int32
	verifyCalls  atomic.Int32
	loadCalls    atomic.Int32
	uploadCalls  atomic.Int32

	mu       sync.Mutex
	analysis models.DetectionResult
	verify   models.FaceVerificationResponse
	reports  []models.ReportViolationRequest
	uploaded []models.FaceImageUploadRequest
	healthy  bool
}

var _ proctor.Client = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		verify:  models.FaceVerificationResponse{Success: true, Verified: true, Message: "Identity verified"},
		healthy: true,
	}
}

func (b *fakeBackend) AnalyzeFrame(ctx context.Context, req models.AnalyzeFrameRequest) (*models.AnalyzeFrameResponse, error) {
	b.analyzeCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	return &models.AnalyzeFrameResponse{Success: true, Violations: b.analysis}, nil
}

func (b *fakeBackend) VerifyFace(ctx context.Context, req models.FaceVerificationRequest) (*models.FaceVerificationResponse, error) {
	b.verifyCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	resp := b.verify
	return &resp, nil
}

func (b *fakeBackend) ReportViolation(ctx context.Context, req models.ReportViolationRequest) (*models.ReportViolationResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, req)
	return &models.ReportViolationResponse{Success: true}, nil
}

func (b *fakeBackend) reportCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reports)
}

func (b *fakeBackend) GetViolations(ctx context.Context, studentId, examId string) (*models.GetViolationsResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	resp := &models.GetViolationsResponse{Success: true, Violations: []models.Violation{}}
	for _, r := range b.reports {
		if r.StudentId == studentId && r.ExamId == examId {
			resp.Violations = append(resp.Violations, models.Violation{Type: r.ViolationType, Confidence: r.Confidence, Details: r.Details})
		}
	}
	return resp, nil
}

func (b *fakeBackend) LoadReferenceImages(ctx context.Context, studentId string) (*models.LoadReferenceResponse, error) {
	b.loadCalls.Add(1)
	return &models.LoadReferenceResponse{Success: true}, nil
}

func (b *fakeBackend) VerificationStatus(ctx context.Context, studentId string) (*models.VerificationStatusResponse, error) {
	return &models.VerificationStatusResponse{Success: true, Status: models.VerificationStatus{Loaded: true, ReferenceCount: 1, ReferenceViews: []string{"front"}}}, nil
}

func (b *fakeBackend) FaceImages(ctx context.Context, studentId string) (*models.FaceImagesResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	resp := &models.FaceImagesResponse{Success: true, Images: []models.FaceImage{}}
	for i := len(b.uploaded) - 1; i >= 0; i-- {
		u := b.uploaded[i]
		if u.StudentId == studentId {
			resp.Images = append(resp.Images, models.FaceImage{Filename: u.StudentId + "_" + u.ViewType + ".jpg", ViewType: u.ViewType})
		}
	}
	return resp, nil
}

func (b *fakeBackend) UploadFaceImage(ctx context.Context, req models.FaceImageUploadRequest) (*models.FaceImageUploadResponse, error) {
	b.uploadCalls.Add(1)
	b.mu.Lock()
	b.uploaded = append(b.uploaded, req)
	b.mu.Unlock()
	return &models.FaceImageUploadResponse{Success: true, Filename: req.StudentId + "_" + req.ViewType + ".jpg"}, nil
}

func (b *fakeBackend) setHealthy(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = ok
}

func (b *fakeBackend) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.healthy {
		return proctor.ErrTransport
	}
	return nil
}
