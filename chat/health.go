package chat

import (
	"strings"

	"github.com/room4-2/iacfarm/persistence"
)

// healthKeywords is checked in order; the first status with a matching
// keyword wins. Accented and unaccented spellings are both listed.
var healthKeywords = []struct {
	status   persistence.HealthStatus
	keywords []string
}{
	{persistence.Diseased, []string{"doença", "doenca"}},
	{persistence.Pest, []string{"praga"}},
	{persistence.Deficiency, []string{"deficiência", "deficiencia"}},
}

// ClassifyHealthFromText tags a model reply with a coarse health status by
// case-insensitive substring match. It is a heuristic: a reply that says a
// plant has "no disease" still reads as diseased.
func ClassifyHealthFromText(text string) persistence.HealthStatus {
	lower := strings.ToLower(text)
	for _, rule := range healthKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.status
			}
		}
	}
	return persistence.Healthy
}

const summaryMaxRunes = 120

// summarize picks the first non-empty line of a reply without markdown
// markers, cut to a short length.
func summarize(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.NewReplacer("*", "", "#", "", "_", "").Replace(line))
		line = strings.TrimLeft(line, "-> ")
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > summaryMaxRunes {
			return strings.TrimSpace(string(r[:summaryMaxRunes])) + "..."
		}
		return line
	}
	return ""
}
