package model

import "time"

// Action tags an audit log entry.
type Action string

const (
	ActionLogin       Action = "LOGIN"
	ActionLogout      Action = "LOGOUT"
	ActionRegister    Action = "REGISTER"
	ActionExamStart   Action = "EXAM_START"
	ActionExamFinish  Action = "EXAM_FINISH"
	ActionAdmin       Action = "ADMIN_ACTION"
	ActionLoginFailed Action = "LOGIN_FAILED"
)

// Unknown is the placeholder for device fields the client did not report.
const Unknown = "unknown"

// DeviceInfo is a snapshot of the client that performed an action.
// It is built once per request and passed explicitly to whoever records it.
type DeviceInfo struct {
	UserAgent        string `json:"userAgent"`
	Platform         string `json:"platform"`
	Language         string `json:"language"`
	ScreenResolution string `json:"screenResolution"`
	ConnectionType   string `json:"connectionType,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`
}

// UnknownDevice is used when no client information is available, e.g. CLI commands.
func UnknownDevice() DeviceInfo {
	return DeviceInfo{
		UserAgent:        "server",
		Platform:         Unknown,
		Language:         Unknown,
		ScreenResolution: Unknown,
	}
}

// LogEntry is an append-only audit record.
type LogEntry struct {
	ID         string      `json:"id"`
	Action     Action      `json:"action"`
	Details    string      `json:"details"`
	UserEmail  string      `json:"userEmail"`
	Timestamp  time.Time   `json:"timestamp"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`
}

// IPAddress returns the recorded client IP or an empty string.
func (l LogEntry) IPAddress() string {
	if l.DeviceInfo == nil {
		return ""
	}
	return l.DeviceInfo.IPAddress
}

// ExamResultRecord is the row mirrored to the remote audit sink for
// every graded attempt.
type ExamResultRecord struct {
	UserName     string      `json:"userName"`
	UserEmail    string      `json:"userEmail"`
	Grade        int         `json:"grade"`
	City         string      `json:"city,omitempty"`
	District     string      `json:"district,omitempty"`
	SchoolName   string      `json:"schoolName,omitempty"`
	ConsentGiven bool        `json:"consentGiven"`
	Device       DeviceInfo  `json:"device"`
	ExamID       int64       `json:"examId"`
	ExamTitle    string      `json:"examTitle"`
	Lesson       LessonType  `json:"lesson"`
	TotalScore   float64     `json:"totalScore"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// NewExamResultRecord builds the remote record for a graded attempt.
func NewExamResultRecord(u User, d DeviceInfo, e Exam, res AIExamResult, at time.Time) ExamResultRecord {
	return ExamResultRecord{
		UserName:     u.Name,
		UserEmail:    u.Email,
		Grade:        u.Grade,
		City:         u.City,
		District:     u.District,
		SchoolName:   u.SchoolName,
		ConsentGiven: u.ConsentGiven,
		Device:       d,
		ExamID:       e.ID,
		ExamTitle:    e.FullTitle(),
		Lesson:       e.Lesson,
		TotalScore:   res.TotalScore,
		Usage:        res.Usage,
		CreatedAt:    at,
	}
}
