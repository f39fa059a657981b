package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"carebridge-intake/pkg"
)

// urgencyBadges decorate the specialist's urgency level in the rendered
// reply.
var urgencyBadges = map[string]string{
	"low":      "🟢",
	"medium":   "🟡",
	"high":     "🟠",
	"critical": "🔴",
}

// formatReply renders the stored specialist reply into the fixed response
// template.  Recommendations may arrive as a JSON object (rendered as
// key/value lines with title-cased keys) or as a bare string.
func formatReply(reply *pkg.SpecialistReply) string {
	badge, ok := urgencyBadges[strings.ToLower(reply.UrgencyLevel)]
	if !ok {
		badge = "⚪"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# SPECIALIST RESPONSE RECEIVED\n\n")
	fmt.Fprintf(&b, "**Response Date:** %s\n", reply.ResponseDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Specialist ID:** %s\n", reply.SpecialistID)
	fmt.Fprintf(&b, "**Urgency Level:** %s %s\n\n", badge, strings.ToUpper(reply.UrgencyLevel))
	fmt.Fprintf(&b, "## PSYCHOLOGIST NOTES\n\n%s\n\n", reply.Notes)
	fmt.Fprintf(&b, "## RECOMMENDATIONS\n\n%s", formatRecommendations(reply.Recommendations))
	return b.String()
}

func formatRecommendations(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		keys := make([]string, 0, len(asMap))
		for k := range asMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "**%s:** %s\n\n", titleKey(k), asMap[k])
		}
		return b.String()
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return string(raw)
}

// titleKey turns a snake_case key into a display heading, e.g.
// "follow_up" -> "Follow Up".
func titleKey(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
