package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carebridge-intake/internal/llm"
	"carebridge-intake/internal/session"
)

// RiskAssessment is the fixed record shape the model is asked to fill via
// structured output.
type RiskAssessment struct {
	ParentObservations string   `json:"parent_observations"`
	AIAnalysis         string   `json:"ai_analysis"`
	SeverityScore      int      `json:"severity_score"`
	RiskIndicators     []string `json:"risk_indicators"`
	CulturalContext    string   `json:"cultural_context"`
}

// fallbackIndicators populate the assessment when the structured call
// fails; severity is pinned to 6 in that case.
var fallbackIndicators = []string{"sleep disturbances", "behavioral changes", "anxiety"}

const fallbackSeverity = 6

// ProgressSink receives human-readable milestone strings while a report is
// being generated.  It is purely observational.
type ProgressSink func(message string)

// Synthesizer populates the session's assessment record from the
// conversation via the model's structured-output mode and renders the
// human-readable report.
type Synthesizer struct {
	LLM llm.Client
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{LLM: client}
}

// Synthesize generates the assessment and returns the rendered report.
// Before onboarding, or before any conversation, it returns a fixed
// instructional string instead of failing.  A model failure never aborts
// report generation: the assessment falls back to severity 6 with three
// fixed risk indicators, keeping the accumulated observations and the
// cultural context derived at onboarding.
func (s *Synthesizer) Synthesize(ctx context.Context, sess *session.Session, progress ProgressSink) string {
	if !sess.Onboarded() {
		return OnboardingRequiredMessage
	}
	if len(sess.History()) == 0 {
		return ConversationRequiredMessage
	}
	notify := func(msg string) {
		if progress != nil {
			progress(msg)
		}
	}

	notify("Analyzing conversation with AI...")
	child := sess.Child()
	current := sess.Assessment()
	prompt := fmt.Sprintf(reportPrompt,
		child.Name, child.Age, child.Gender, child.Location, child.Location,
		current.Observations)

	notify("Generating structured assessment...")
	var result RiskAssessment
	if err := s.LLM.ChatStructured(ctx, prompt, &result); err != nil {
		slog.Warn("structured assessment failed, using fallback", "error", err)
		notify("Using fallback assessment...")
		current.SeverityScore = fallbackSeverity
		current.RiskIndicators = append([]string(nil), fallbackIndicators...)
	} else {
		notify("Processing assessment data...")
		current.Observations = result.ParentObservations
		current.AIAnalysis = result.AIAnalysis
		current.SeverityScore = clampSeverity(result.SeverityScore)
		current.RiskIndicators = result.RiskIndicators
		current.CulturalContext = result.CulturalContext
	}
	if err := sess.ReplaceAssessment(current); err != nil {
		// Only reachable if the session was reset mid-flight.
		slog.Error("failed to store assessment", "error", err)
	}

	notify("Formatting final report...")
	return renderReport(sess)
}

func clampSeverity(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// renderReport produces the fixed-template markdown report from the
// session's current state.
func renderReport(sess *session.Session) string {
	child := sess.Child()
	assessment := sess.Assessment()
	media := sess.Media()
	now := time.Now()

	riskLevel := "Moderate Risk"
	priority := "Standard referral appropriate"
	if assessment.SeverityScore >= 7 {
		riskLevel = "High Risk - Urgent Intervention Recommended"
		priority = "Expedited professional evaluation needed"
	}

	var indicators strings.Builder
	for _, ind := range assessment.RiskIndicators {
		fmt.Fprintf(&indicators, "- %s\n", ind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# COMPREHENSIVE TRAUMA ASSESSMENT REPORT\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", now.Format("January 2, 2006 at 15:04"))
	fmt.Fprintf(&b, "**Assessment ID:** %.8s\n", sess.ID().String())
	fmt.Fprintf(&b, "**Confidentiality Level:** Protected Health Information\n\n")

	fmt.Fprintf(&b, "## CHILD INFORMATION\n\n")
	fmt.Fprintf(&b, "**Name:** %s\n", child.Name)
	fmt.Fprintf(&b, "**Age:** %d years old\n", child.Age)
	fmt.Fprintf(&b, "**Gender:** %s\n", titleCase(string(child.Gender)))
	fmt.Fprintf(&b, "**Location:** %s\n\n", child.Location)

	fmt.Fprintf(&b, "## PARENT OBSERVATIONS\n\n%s\n\n", assessment.Observations)
	fmt.Fprintf(&b, "**Session Details:**\n")
	fmt.Fprintf(&b, "- Duration: %d message exchanges\n", len(sess.History()))
	fmt.Fprintf(&b, "- Media Provided: %d drawings, %d photographs\n\n",
		len(media.Drawings), len(media.Photos))

	fmt.Fprintf(&b, "## AI ANALYSIS\n\n%s\n\n", assessment.AIAnalysis)
	fmt.Fprintf(&b, "**Behavioral Patterns Identified:**\n%s\n", indicators.String())

	fmt.Fprintf(&b, "## SEVERITY ASSESSMENT\n\n")
	fmt.Fprintf(&b, "**Severity Score:** %d/10\n", assessment.SeverityScore)
	fmt.Fprintf(&b, "**Risk Level:** %s\n", riskLevel)
	fmt.Fprintf(&b, "**Clinical Priority:** %s\n\n", priority)

	fmt.Fprintf(&b, "## CULTURAL CONTEXT\n\n%s\n\n", assessment.CulturalContext)
	fmt.Fprintf(&b, "This assessment considers the cultural and environmental factors specific to %s, "+
		"including region-specific trauma expressions, family dynamics, and community support systems.\n\n",
		child.Location)

	fmt.Fprintf(&b, "## IMPORTANT DISCLAIMERS\n\n")
	fmt.Fprintf(&b, "- This AI-generated assessment is for screening purposes only and does NOT constitute a clinical diagnosis\n")
	fmt.Fprintf(&b, "- All findings must be validated by licensed mental health professionals\n")
	fmt.Fprintf(&b, "- For immediate safety concerns, contact emergency services immediately\n")

	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
