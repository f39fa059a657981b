package pkg

import (
	"encoding/json"
	"time"
)

// Gender is the child's gender as collected during onboarding.
type Gender string

const (
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
	GenderUnspecified Gender = "unspecified"
)

// ChildInfo holds the identity collected by the onboarding form.  It is
// immutable once onboarding completes.
type ChildInfo struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Gender   Gender `json:"gender"`
	Location string `json:"location"`
}

// Attachment records one uploaded media file.
type Attachment struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaAttachments groups uploads by kind.  Audio recordings are reserved
// for a future release and are never populated by the current intake flow.
type MediaAttachments struct {
	Drawings        []Attachment `json:"drawings"`
	AudioRecordings []Attachment `json:"audio_recordings"`
	Photos          []Attachment `json:"photos"`
}

// TurnRole describes who authored a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one entry in the conversation transcript.  A media turn carries a
// file path instead of text.
type Turn struct {
	Role      TurnRole `json:"role"`
	Content   string   `json:"content,omitempty"`
	MediaPath string   `json:"media_path,omitempty"`
}

// Assessment is the clinical-style record attached to a session.  The
// observations field accumulates incrementally during the conversation and
// is rewritten wholesale when a report is synthesized.
type Assessment struct {
	Observations    string   `json:"parent_observations"`
	AIAnalysis      string   `json:"ai_analysis"`
	SeverityScore   int      `json:"severity_score"`
	RiskIndicators  []string `json:"risk_indicators"`
	CulturalContext string   `json:"cultural_context"`
}

// SpecialistReply is the asynchronous answer written by a human specialist
// into the responses store.  Recommendations may be a JSON object or a bare
// string; the raw form is preserved until rendering.
type SpecialistReply struct {
	ResponseDate    time.Time       `json:"response_date"`
	SpecialistID    string          `json:"psychologist_id"`
	UrgencyLevel    string          `json:"urgency_level"`
	Notes           string          `json:"psychologist_notes"`
	Recommendations json.RawMessage `json:"recommendations"`
}

// ReportChildInfo is the child_info object of the Care Bridge wire format.
// The platform keys reports by age/gender/location and never receives the
// child's name.
type ReportChildInfo struct {
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	Location string `json:"location"`
}

// ReportPayload is the JSON body POSTed to the Care Bridge platform.
type ReportPayload struct {
	ChildInfo        ReportChildInfo  `json:"child_info"`
	AssessmentData   Assessment       `json:"assessment_data"`
	MediaAttachments MediaAttachments `json:"media_attachments"`
	MobileAppID      string           `json:"mobile_app_id"`
}
