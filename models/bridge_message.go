package models

// Message types exchanged with the exam page over the session websocket.
const (
	MessageEvent       = "event"
	MessageCamera      = "camera"
	MessageFrame       = "frame"
	MessageAction      = "action"
	MessageCommand     = "command"
	MessagePolicy      = "policy"
	MessageDisposition = "disposition"
	MessageStatus      = "status"
	MessageError       = "error"
)

// Actions the candidate can take from a warning dialog.
const (
	ActionReturnToExam      = "return_to_exam"
	ActionEndExam           = "end_exam"
	ActionDismissTabWarning = "dismiss_tab_warning"
)

// Commands the page has to carry out.
const (
	CommandRequestFullscreen     = "request_fullscreen"
	CommandExitFullscreen        = "exit_fullscreen"
	CommandSuspendExam           = "suspend_exam"
	CommandShowFullscreenWarning = "show_fullscreen_warning"
	CommandShowTabWarning        = "show_tab_warning"
	CommandHideWarning           = "hide_warning"
	CommandStopCamera            = "stop_camera"
	CommandTerminate             = "terminate"
)

// ClientMessage is anything the page sends. Only the fields belonging to
// Type are set.
type ClientMessage struct {
	Type string `json:"type"`

	// event
	Event            string `json:"event,omitempty"`
	Hidden           bool   `json:"hidden,omitempty"`
	FullscreenActive bool   `json:"fullscreen_active,omitempty"`
	At               int64  `json:"at,omitempty"` // unix milliseconds

	// camera
	Granted bool   `json:"granted,omitempty"`
	Error   string `json:"error,omitempty"`

	// frame
	Image string `json:"image,omitempty"`

	// action
	Action string `json:"action,omitempty"`
}

type CommandMessage struct {
	Type        string `json:"type"`
	Command     string `json:"command"`
	Count       int    `json:"count,omitempty"`
	Max         int    `json:"max,omitempty"`
	Dismissible bool   `json:"dismissible,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type PolicyMessage struct {
	Type     string   `json:"type"`
	Suppress []string `json:"suppress"`
}

type DispositionMessage struct {
	Type           string `json:"type"`
	Event          string `json:"event"`
	PreventDefault bool   `json:"prevent_default"`
}

type StatusMessage struct {
	Type   string   `json:"type"`
	Status any      `json:"status"`
	Lines  []string `json:"lines"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type CreateSessionRequest struct {
	StudentId string `json:"student_id"`
	ExamId    string `json:"exam_id"`
}

type CreateSessionResponse struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
	Token     string `json:"token"`
}
