package core

import (
	"context"
	"errors"
	"testing"

	"carebridge-intake/internal/session"
	"carebridge-intake/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionWithConversation(t *testing.T) *session.Session {
	t.Helper()
	sess := onboardedSession(t)
	require.NoError(t, sess.AppendTranscriptTurn(pkg.Turn{Role: pkg.RoleUser, Content: "He has nightmares every night"}))
	require.NoError(t, sess.AppendObservation("He has nightmares every night"))
	return sess
}

func TestSynthesizeRequiresOnboarding(t *testing.T) {
	synth := NewSynthesizer(&fakeLLM{})
	got := synth.Synthesize(context.Background(), session.New(), nil)
	assert.Equal(t, OnboardingRequiredMessage, got)
}

func TestSynthesizeRequiresConversation(t *testing.T) {
	synth := NewSynthesizer(&fakeLLM{})
	got := synth.Synthesize(context.Background(), onboardedSession(t), nil)
	assert.Equal(t, ConversationRequiredMessage, got)
}

func TestSynthesizeFallbackOnModelFailure(t *testing.T) {
	synth := NewSynthesizer(&fakeLLM{structuredErr: errors.New("parse fault")})
	sess := sessionWithConversation(t)

	report := synth.Synthesize(context.Background(), sess, nil)

	assessment := sess.Assessment()
	assert.Equal(t, 6, assessment.SeverityScore)
	assert.Equal(t, []string{"sleep disturbances", "behavioral changes", "anxiety"}, assessment.RiskIndicators)
	// Accumulated observations and the onboarding cultural context survive.
	assert.Equal(t, "He has nightmares every night", assessment.Observations)
	assert.Contains(t, assessment.CulturalContext, "conflict")

	assert.Contains(t, report, "6/10")
	assert.Contains(t, report, "Moderate Risk")
	for _, indicator := range []string{"sleep disturbances", "behavioral changes", "anxiety"} {
		assert.Contains(t, report, indicator)
	}
}

func TestSynthesizeStructuredSuccess(t *testing.T) {
	fake := &fakeLLM{fill: func(out any) {
		r := out.(*RiskAssessment)
		*r = RiskAssessment{
			ParentObservations: "Summarized observations",
			AIAnalysis:         "Signs of acute stress response",
			SeverityScore:      9,
			RiskIndicators:     []string{"hypervigilance", "regression"},
			CulturalContext:    "Conflict-zone exposure",
		}
	}}
	synth := NewSynthesizer(fake)
	sess := sessionWithConversation(t)

	report := synth.Synthesize(context.Background(), sess, nil)

	assessment := sess.Assessment()
	assert.Equal(t, 9, assessment.SeverityScore)
	assert.Equal(t, "Summarized observations", assessment.Observations)
	assert.Contains(t, report, "High Risk - Urgent Intervention Recommended")
	assert.Contains(t, report, "Expedited professional evaluation needed")
	assert.Contains(t, report, "hypervigilance")

	// The prompt embeds the child identity.
	assert.Contains(t, fake.lastPrompt, "Sam")
	assert.Contains(t, fake.lastPrompt, "8-year-old")
	assert.Contains(t, fake.lastPrompt, "Gaza")
}

func TestSynthesizeModerateBanner(t *testing.T) {
	fake := &fakeLLM{fill: func(out any) {
		r := out.(*RiskAssessment)
		r.SeverityScore = 4
		r.ParentObservations = "calm"
	}}
	synth := NewSynthesizer(fake)
	report := synth.Synthesize(context.Background(), sessionWithConversation(t), nil)
	assert.Contains(t, report, "Moderate Risk")
	assert.NotContains(t, report, "High Risk")
}

func TestSynthesizeClampsSeverity(t *testing.T) {
	fake := &fakeLLM{fill: func(out any) {
		out.(*RiskAssessment).SeverityScore = 42
	}}
	synth := NewSynthesizer(fake)
	sess := sessionWithConversation(t)
	synth.Synthesize(context.Background(), sess, nil)
	assert.Equal(t, 10, sess.Assessment().SeverityScore)
}

func TestSynthesizeProgressMilestones(t *testing.T) {
	var milestones []string
	sink := func(msg string) { milestones = append(milestones, msg) }

	synth := NewSynthesizer(&fakeLLM{structuredErr: errors.New("down")})
	synth.Synthesize(context.Background(), sessionWithConversation(t), sink)

	require.NotEmpty(t, milestones)
	assert.Equal(t, "Analyzing conversation with AI...", milestones[0])
	assert.Contains(t, milestones, "Using fallback assessment...")
	assert.Equal(t, "Formatting final report...", milestones[len(milestones)-1])
}

func TestRenderReportCountsMedia(t *testing.T) {
	sess := sessionWithConversation(t)
	require.NoError(t, sess.RecordAttachment(session.AttachmentDrawing, "draw1.png"))
	require.NoError(t, sess.RecordAttachment(session.AttachmentDrawing, "draw2.png"))
	require.NoError(t, sess.RecordAttachment(session.AttachmentPhoto, "photo.jpg"))

	synth := NewSynthesizer(&fakeLLM{structuredErr: errors.New("down")})
	report := synth.Synthesize(context.Background(), sess, nil)
	assert.Contains(t, report, "2 drawings, 1 photographs")
}
