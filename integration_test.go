package main

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"exam-integrity-monitor/enforcement"
	"exam-integrity-monitor/images"
	"exam-integrity-monitor/journal"
	"exam-integrity-monitor/models"
	"exam-integrity-monitor/view"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	backend := newFakeBackend()
	baseURL := startTestServer(t, &ServerState{backend: backend, monitorConfig: testMonitorConfig()})

	resp, body, health := getJSON[map[string]bool](t, baseURL+"/api/health")
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, map[string]bool{"ok": true, "backend": true}, *health)

	backend.setHealthy(false)
	_, _, health = getJSON[map[string]bool](t, baseURL+"/api/health")
	require.False(t, (*health)["backend"])
}

func TestCreateSession_RejectsBlankIdentifiers(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend()})

	resp, body, _ := postJSON[models.CreateSessionResponse](t, baseURL+"/api/sessions",
		models.CreateSessionRequest{StudentId: "  ", ExamId: "exam"})
	mustStatus(t, resp, http.StatusBadRequest, body)

	resp, body, _ = postJSON[models.CreateSessionResponse](t, baseURL+"/api/sessions", nil)
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestSessionSocket_Fail_BadNonce(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend(), monitorConfig: testMonitorConfig()})
	s := createSession(t, baseURL, "s1", "e1")
	s.Nonce = "deadbeef"

	_, resp, err := dialSession(baseURL, s)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionSocket_Fail_BadToken(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend(), monitorConfig: testMonitorConfig()})
	first := createSession(t, baseURL, "s1", "e1")
	second := createSession(t, baseURL, "s2", "e1")

	// A token is only valid for the session it was issued for.
	first.Token = second.Token
	_, resp, err := dialSession(baseURL, first)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionSocket_Fail_UnknownSession(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend()})

	_, resp, err := dialSession(baseURL, models.CreateSessionResponse{SessionId: "nope", Token: "x", Nonce: "y"})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionSocket_CameraDenied(t *testing.T) {
	backend := newFakeBackend()
	baseURL := startTestServer(t, &ServerState{backend: backend, monitorConfig: testMonitorConfig()})
	s := createSession(t, baseURL, "s1", "e1")

	conn, _, err := dialSession(baseURL, s)
	require.NoError(t, err)
	defer conn.Close()

	policy := readUntil(t, conn, isType(models.MessagePolicy))
	require.ElementsMatch(t, []any{"copy", "cut", "paste", "contextmenu"}, policy["suppress"])

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageCamera, Granted: false, Error: "NotAllowedError"}))
	msg := readUntil(t, conn, isType(models.MessageError))
	require.Equal(t, "camera_unavailable", msg["error"])
	require.Equal(t, view.CameraUnavailableText, msg["message"])

	resp, body, snapshot := getJSON[view.Snapshot](t, baseURL+"/api/sessions/"+s.SessionId+"/status")
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, snapshot.CameraUnavailable)

	require.Zero(t, backend.loadCalls.Load())
	require.Zero(t, backend.analyzeCalls.Load())
	require.Zero(t, backend.verifyCalls.Load())
}

func TestSessionSocket_FullFlow(t *testing.T) {
	backend := newFakeBackend()
	backend.analysis = models.DetectionResult{MultipleFaces: true}
	backend.verify = models.FaceVerificationResponse{Success: true, Verified: false, Error: "Face distance above threshold"}

	store, err := journal.NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	baseURL := startTestServer(t, &ServerState{backend: backend, journal: store, monitorConfig: testMonitorConfig()})
	s := createSession(t, baseURL, "PES1UG21CS001", "midterm")

	conn, _, err := dialSession(baseURL, s)
	require.NoError(t, err)
	defer conn.Close()

	// The nonce is single use.
	_, resp, err := dialSession(baseURL, s)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	readUntil(t, conn, isType(models.MessagePolicy))
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageCamera, Granted: true}))
	readUntil(t, conn, isCommand(models.CommandRequestFullscreen))
	require.Equal(t, int32(1), backend.loadCalls.Load())

	frame := testFrameDataURL(t)
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageFrame, Image: frame}))

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageEvent, Event: "copy"}))
	d := readUntil(t, conn, isType(models.MessageDisposition))
	require.Equal(t, "copy", d["event"])
	require.Equal(t, true, d["prevent_default"])

	now := time.Now().Add(time.Second).UnixMilli()
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageEvent, Event: "visibilitychange", Hidden: true, At: now}))
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageEvent, Event: "focus", At: now + 40}))
	warning := readUntil(t, conn, isCommand(models.CommandShowTabWarning))
	require.EqualValues(t, 1, warning["count"])
	require.EqualValues(t, 3, warning["max"])
	require.Equal(t, true, warning["dismissible"])

	require.Eventually(t, func() bool {
		_, _, snapshot := getJSON[view.Snapshot](t, baseURL+"/api/sessions/"+s.SessionId+"/status")
		return snapshot.Violations.MultipleFaces && snapshot.ProxyReported
	}, 3*time.Second, 20*time.Millisecond)

	_, _, snapshot := getJSON[view.Snapshot](t, baseURL+"/api/sessions/"+s.SessionId+"/status")
	require.Equal(t, 1, snapshot.Enforcement.TabSwitches)
	require.Equal(t, enforcement.StateWarned, snapshot.Enforcement.State)
	require.Equal(t, enforcement.BreachTabSwitch, snapshot.Enforcement.Kind)
	require.Contains(t, snapshot.ActiveLabels, "Multiple Faces Detected")
	require.Equal(t, "Face distance above threshold", snapshot.Identity.Message)

	readUntil(t, conn, func(msg map[string]any) bool {
		if msg["type"] != models.MessageStatus {
			return false
		}
		lines, _ := msg["lines"].([]any)
		for _, l := range lines {
			if l == view.ProxyReportedText {
				return true
			}
		}
		return false
	})

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageAction, Action: models.ActionEndExam}))
	term := readUntil(t, conn, isCommand(models.CommandTerminate))
	require.Equal(t, "candidate_ended", term["reason"])

	require.Eventually(t, func() bool { return backend.reportCount() == 1 }, time.Second, 10*time.Millisecond)

	_, _, results := getJSON[models.GetViolationsResponse](t, baseURL+"/api/results?student_id=PES1UG21CS001&exam_id=midterm")
	require.Len(t, results.Violations, 1)
	require.Equal(t, models.ViolationProxyDetected, results.Violations[0].Type)

	require.Eventually(t, func() bool {
		_, _, entries := getJSON[[]journal.Entry](t, baseURL+"/api/sessions/"+s.SessionId+"/journal")
		return len(*entries) > 0 && (*entries)[len(*entries)-1].Kind == journal.KindSessionClosed
	}, 2*time.Second, 20*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/sessions/"+s.SessionId, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	resp, body, _ := getJSON[view.Snapshot](t, baseURL+"/api/sessions/"+s.SessionId+"/status")
	mustStatus(t, resp, http.StatusNotFound, body)
}

func TestSessionSocket_TabSwitchLimit(t *testing.T) {
	backend := newFakeBackend()
	sessions := NewSessionRegistry()
	sessions.retention = 50 * time.Millisecond
	baseURL := startTestServer(t, &ServerState{backend: backend, sessions: sessions, monitorConfig: testMonitorConfig()})
	s := createSession(t, baseURL, "s1", "e1")

	conn, _, err := dialSession(baseURL, s)
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, isType(models.MessagePolicy))
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageCamera, Granted: true}))
	readUntil(t, conn, isCommand(models.CommandRequestFullscreen))

	at := time.Now().Add(time.Second).UnixMilli()
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.MessageEvent, Event: "visibilitychange", Hidden: true, At: at}))
		at += 1000
	}

	last := readUntil(t, conn, func(msg map[string]any) bool {
		return isCommand(models.CommandShowTabWarning)(msg) && msg["count"] == float64(3)
	})
	require.Nil(t, last["dismissible"], "final warning cannot be dismissed")

	term := readUntil(t, conn, isCommand(models.CommandTerminate))
	require.Equal(t, "tab_switch_limit", term["reason"])
	readUntil(t, conn, isCommand(models.CommandExitFullscreen))

	// Ended sessions are dropped once the retention period is over.
	require.Eventually(t, func() bool {
		resp, _, _ := getJSON[view.Snapshot](t, baseURL+"/api/sessions/"+s.SessionId+"/status")
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
	require.Zero(t, sessions.Len())
}

func TestStatus_NotStarted(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend()})
	s := createSession(t, baseURL, "s1", "e1")

	resp, body, _ := getJSON[view.Snapshot](t, baseURL+"/api/sessions/"+s.SessionId+"/status")
	mustStatus(t, resp, http.StatusConflict, body)
}

func TestJournal_Disabled(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend()})
	resp, body, _ := getJSON[[]journal.Entry](t, baseURL+"/api/sessions/x/journal")
	mustStatus(t, resp, http.StatusNotFound, body)
}

func TestResults_RequiresIdentifiers(t *testing.T) {
	baseURL := startTestServer(t, &ServerState{backend: newFakeBackend()})
	resp, body, _ := getJSON[models.GetViolationsResponse](t, baseURL+"/api/results?student_id=s1")
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestReferenceImages(t *testing.T) {
	backend := newFakeBackend()
	baseURL := startTestServer(t, &ServerState{backend: backend})

	resp, body, uploaded := postJSON[models.FaceImageUploadResponse](t, baseURL+"/api/reference-images",
		models.FaceImageUploadRequest{StudentId: "s1", Image: testFrameDataURL(t)})
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "s1_front.jpg", uploaded.Filename)

	resp, body, _ = postJSON[models.FaceImageUploadResponse](t, baseURL+"/api/reference-images",
		models.FaceImageUploadRequest{StudentId: "s1", Image: "data:image/jpeg;base64,bm90IGFuIGltYWdl"})
	mustStatus(t, resp, http.StatusBadRequest, body)
	require.Equal(t, int32(1), backend.uploadCalls.Load())

	resp, body, status := getJSON[models.VerificationStatusResponse](t, baseURL+"/api/reference-images/s1/status")
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, status.Status.Loaded)

	resp, body, listed := getJSON[models.FaceImagesResponse](t, baseURL+"/api/reference-images/s1")
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, []models.FaceImage{{Filename: "s1_front.jpg", ViewType: "front"}}, listed.Images)
}

func TestReferenceImages_Downscaled(t *testing.T) {
	backend := newFakeBackend()
	baseURL := startTestServer(t, &ServerState{backend: backend})

	small := testFrameDataURL(t)
	resp, body, _ := postJSON[models.FaceImageUploadResponse](t, baseURL+"/api/reference-images",
		models.FaceImageUploadRequest{StudentId: "s1", Image: small, ViewType: "left"})
	mustStatus(t, resp, http.StatusOK, body)

	resp, body, _ = postJSON[models.FaceImageUploadResponse](t, baseURL+"/api/reference-images",
		models.FaceImageUploadRequest{StudentId: "s1", Image: testImageDataURL(t, 2048, 1024)})
	mustStatus(t, resp, http.StatusOK, body)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.uploaded, 2)
	require.Equal(t, small, backend.uploaded[0].Image, "small images are forwarded untouched")
	require.Equal(t, "left", backend.uploaded[0].ViewType)

	_, raw, err := images.FromDataURL(backend.uploaded[1].Image)
	require.NoError(t, err)
	img, err := images.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, 1024, img.Bounds().Dx())
	require.Equal(t, 512, img.Bounds().Dy())
}
