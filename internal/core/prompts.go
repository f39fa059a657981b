package core

// prompts.go defines the prompt and fallback text used by the conversation
// engine and the report synthesizer.  Keeping these in a separate file
// makes them easy to tweak without touching the rest of the code.

const (
	// SystemPrompt frames the assistant as a trauma assessment specialist
	// talking to a worried parent.  It instructs the model to stay
	// empathetic, ask one short follow-up question at a time, and never
	// present its output as a clinical diagnosis.
	SystemPrompt = "You are a child trauma assessment specialist speaking with a concerned parent or caregiver. " +
		"Respond with warmth and empathy, ask one short follow-up question at a time, and gradually cover: " +
		"recent behavioral changes, sleep and appetite, social withdrawal, exposure to distressing events, " +
		"and available family support. Use simple, non-clinical language. Never present your observations " +
		"as a diagnosis; this conversation is a preliminary screening that a licensed professional will review."

	// imageAnalysisPrompt is sent with an uploaded image.  The %s is the
	// child's name.
	imageAnalysisPrompt = "I am sharing an image related to my child %s's situation. Please analyze this image " +
		"in the context of trauma assessment and respond empathetically."

	// textFallback replaces the assistant reply when the model call fails
	// on a text turn.  The %s is the child's name.
	textFallback = "Thank you for sharing that with me. I understand this is a difficult time for you and %s. " +
		"Could you tell me more about what you're observing?"

	// imageFallback replaces the assistant reply when the model call fails
	// on an image turn.  The %s is the child's name.
	imageFallback = "I can see you've shared an image. Thank you for providing this visual information about %s. " +
		"Visual expressions can tell us a lot about how children process their experiences. Could you tell me " +
		"more about when this was created or what you'd like me to know about it?"

	// OnboardingRequiredMessage is returned in place of a report when the
	// onboarding form has not been completed.
	OnboardingRequiredMessage = "Please complete the initial assessment form first."

	// ConversationRequiredMessage is returned in place of a report when no
	// conversation has taken place yet.
	ConversationRequiredMessage = "Please have a conversation first before generating a report."
)

// reportPrompt builds the structured-assessment request.  The placeholders
// are: child name, age, gender, location, location again, and the
// space-joined parent observations.
const reportPrompt = `Based on our conversation about %s, a %d-year-old %s from %s, generate a comprehensive trauma risk assessment report.

Include:
- Parent observations summary from our conversation
- AI analysis of trauma indicators
- Severity score (1-10 scale)
- List of risk indicators identified
- Cultural context considering the child's location and circumstances

Consider the conversation history and any cultural factors relevant to %s.

Conversation observations:
%s`
