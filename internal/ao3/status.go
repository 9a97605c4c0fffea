package ao3

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fandomtools/ficbot/internal/fic"
)

// statusSignals collects every source field that can hint at a work's
// completion state. No single one is reliably populated across the
// archive's pages, so inference layers them in fixed priority order.
type statusSignals struct {
	FreeformTags []string
	// CompleteIcon is nil when no completion indicator was found.
	CompleteIcon *bool
	Chapters     string
	// CompletedDate is nil when the field is absent; a pointer to the
	// empty string means the field exists but is blank.
	CompletedDate *string
	StatusText    string
}

type statusRule struct {
	name  string
	apply func(statusSignals) (fic.Status, bool)
}

// statusRules is evaluated in order; the first rule that matches wins.
// The ordering is a contract: an explicit abandoned tag beats every
// other signal, including a chapter count that reads as complete.
var statusRules = []statusRule{
	{name: "abandoned_tag", apply: abandonedTagRule},
	{name: "complete_icon", apply: completeIconRule},
	{name: "chapter_progress", apply: chapterProgressRule},
	{name: "completed_date", apply: completedDateRule},
	{name: "status_text", apply: statusTextRule},
}

func inferStatus(sig statusSignals) fic.Status {
	for _, rule := range statusRules {
		if status, ok := rule.apply(sig); ok {
			return status
		}
	}
	return fic.StatusUnknown
}

func abandonedTagRule(sig statusSignals) (fic.Status, bool) {
	for _, tag := range sig.FreeformTags {
		if containsLower(tag, "abandoned") {
			return fic.StatusAbandoned, true
		}
	}
	return "", false
}

func completeIconRule(sig statusSignals) (fic.Status, bool) {
	if sig.CompleteIcon == nil {
		return "", false
	}
	if *sig.CompleteIcon {
		return fic.StatusComplete, true
	}
	return fic.StatusInProgress, true
}

var chapterProgressPattern = regexp.MustCompile(`^\s*([\d,]+)\s*/\s*([\d,]+|\?)\s*$`)

func chapterProgressRule(sig statusSignals) (fic.Status, bool) {
	match := chapterProgressPattern.FindStringSubmatch(sig.Chapters)
	if match == nil {
		return "", false
	}
	current, err := strconv.Atoi(stripThousands(match[1]))
	if err != nil {
		return "", false
	}
	if match[2] == "?" {
		return fic.StatusInProgress, true
	}
	total, err := strconv.Atoi(stripThousands(match[2]))
	if err != nil {
		return "", false
	}
	if current == total && total > 0 {
		return fic.StatusComplete, true
	}
	return fic.StatusInProgress, true
}

func completedDateRule(sig statusSignals) (fic.Status, bool) {
	if sig.CompletedDate == nil {
		return "", false
	}
	if strings.TrimSpace(*sig.CompletedDate) != "" {
		return fic.StatusComplete, true
	}
	return fic.StatusInProgress, true
}

var statusSynonyms = []struct {
	phrase string
	status fic.Status
}{
	{"abandoned", fic.StatusAbandoned},
	{"discontinued", fic.StatusAbandoned},
	{"complete", fic.StatusComplete},
	{"completed", fic.StatusComplete},
	{"finished", fic.StatusComplete},
	{"in progress", fic.StatusInProgress},
	{"in-progress", fic.StatusInProgress},
	{"ongoing", fic.StatusInProgress},
	{"wip", fic.StatusInProgress},
	{"work in progress", fic.StatusInProgress},
}

func statusTextRule(sig statusSignals) (fic.Status, bool) {
	text := strings.ToLower(strings.TrimSpace(sig.StatusText))
	if text == "" {
		return "", false
	}
	for _, syn := range statusSynonyms {
		if strings.Contains(text, syn.phrase) {
			return syn.status, true
		}
	}
	return "", false
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
