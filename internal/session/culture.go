package session

import (
	"fmt"
	"strings"
)

// culturalKeywords maps location keywords to the context line used when the
// child's location matches.  Checked in order; first match wins.
var culturalKeywords = []struct {
	keywords []string
	context  string
}{
	{
		keywords: []string{"gaza", "palestine", "west bank"},
		context:  "Assessment conducted considering ongoing conflict exposure and displacement trauma",
	},
	{
		keywords: []string{"ukraine", "kyiv", "kharkiv", "mariupol"},
		context:  "Assessment considering war-related trauma and displacement from conflict zones",
	},
	{
		keywords: []string{"syria", "lebanon", "jordan"},
		context:  "Assessment considering refugee experience and cultural adaptation challenges",
	},
}

// CulturalContext derives the initial cultural-context line for a location.
func CulturalContext(location string) string {
	lower := strings.ToLower(location)
	for _, group := range culturalKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.context
			}
		}
	}
	return fmt.Sprintf("Assessment conducted with consideration for local cultural context in %s", location)
}
