package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"carebridge-intake/pkg"

	"github.com/google/uuid"
)

// Gate and validation errors surfaced to the caller as user-facing messages.
var (
	ErrNotOnboarded     = errors.New("please fill in all required information about your child first")
	ErrAlreadyOnboarded = errors.New("child information has already been recorded for this session")
)

// AttachmentKind selects which media bucket an upload lands in.
type AttachmentKind string

const (
	AttachmentDrawing AttachmentKind = "drawing"
	AttachmentPhoto   AttachmentKind = "photo"
	AttachmentAudio   AttachmentKind = "audio"
)

// Session is the mutable aggregate for one ongoing assessment: child
// identity, accumulated observations, attachments, transcript and the
// session identifier.  All mutations are synchronous and guarded by a
// mutex so the HTTP surface and the polling goroutine can read safely.
//
// No mutation except Reset is permitted before onboarding completes.
type Session struct {
	mu sync.Mutex

	id         uuid.UUID
	startedAt  time.Time
	onboarded  bool
	child      pkg.ChildInfo
	assessment pkg.Assessment
	media      pkg.MediaAttachments
	history    []pkg.Turn
}

// New creates an empty session with a fresh identifier.  The identifier is
// stable for the session's lifetime and doubles as the mobile_app_id sent
// to the Care Bridge platform.
func New() *Session {
	return &Session{
		id:        uuid.New(),
		startedAt: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Onboarded reports whether child information has been recorded.
func (s *Session) Onboarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarded
}

// RecordChildInfo validates and stores the onboarding form, opening the
// gate for conversation and report actions.  It also derives the initial
// cultural context from the child's location.  The info is immutable once
// recorded.
func (s *Session) RecordChildInfo(info pkg.ChildInfo) error {
	if err := validateChildInfo(info); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onboarded {
		return ErrAlreadyOnboarded
	}
	s.child = info
	s.assessment.CulturalContext = CulturalContext(info.Location)
	s.onboarded = true
	return nil
}

func validateChildInfo(info pkg.ChildInfo) error {
	if strings.TrimSpace(info.Name) == "" {
		return errors.New("child's name is required")
	}
	if info.Age < 2 || info.Age > 18 {
		return fmt.Errorf("child's age must be between 2 and 18, got %d", info.Age)
	}
	switch info.Gender {
	case pkg.GenderFemale, pkg.GenderMale, pkg.GenderUnspecified:
	default:
		return fmt.Errorf("unknown gender %q", info.Gender)
	}
	if strings.TrimSpace(info.Location) == "" {
		return errors.New("child's current location is required")
	}
	return nil
}

// Child returns a copy of the recorded child information.
func (s *Session) Child() pkg.ChildInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

// AppendObservation joins text onto the running parent-observations field
// with a single separating space, preserving submission order.
func (s *Session) AppendObservation(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.onboarded {
		return ErrNotOnboarded
	}
	if s.assessment.Observations == "" {
		s.assessment.Observations = text
	} else {
		s.assessment.Observations += " " + text
	}
	return nil
}

// RecordAttachment files an upload into the bucket for its kind.
func (s *Session) RecordAttachment(kind AttachmentKind, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.onboarded {
		return ErrNotOnboarded
	}
	att := pkg.Attachment{Path: path, Timestamp: time.Now()}
	switch kind {
	case AttachmentDrawing:
		s.media.Drawings = append(s.media.Drawings, att)
	case AttachmentPhoto:
		s.media.Photos = append(s.media.Photos, att)
	case AttachmentAudio:
		s.media.AudioRecordings = append(s.media.AudioRecordings, att)
	default:
		return fmt.Errorf("unknown attachment kind %q", kind)
	}
	return nil
}

// AppendTranscriptTurn appends one turn to the conversation history.
func (s *Session) AppendTranscriptTurn(turn pkg.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.onboarded {
		return ErrNotOnboarded
	}
	s.history = append(s.history, turn)
	return nil
}

// History returns a copy of the transcript in order.
func (s *Session) History() []pkg.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pkg.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Assessment returns a copy of the current assessment record.
func (s *Session) Assessment() pkg.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAssessment(s.assessment)
}

// ReplaceAssessment rewrites the assessment record wholesale.  The report
// synthesizer is the only caller.
func (s *Session) ReplaceAssessment(a pkg.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.onboarded {
		return ErrNotOnboarded
	}
	s.assessment = cloneAssessment(a)
	return nil
}

// Media returns a copy of the attachment buckets.
func (s *Session) Media() pkg.MediaAttachments {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pkg.MediaAttachments{
		Drawings:        append([]pkg.Attachment(nil), s.media.Drawings...),
		AudioRecordings: append([]pkg.Attachment(nil), s.media.AudioRecordings...),
		Photos:          append([]pkg.Attachment(nil), s.media.Photos...),
	}
}

// Reset clears the transcript, observations, analysis and attachments so a
// new conversation can start.  Child info, cultural context and the session
// identifier are preserved.  Reset is permitted even before onboarding.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.media = pkg.MediaAttachments{}
	s.assessment = pkg.Assessment{CulturalContext: s.assessment.CulturalContext}
}

func cloneAssessment(a pkg.Assessment) pkg.Assessment {
	out := a
	out.RiskIndicators = append([]string(nil), a.RiskIndicators...)
	return out
}
