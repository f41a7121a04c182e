package dom

import "strings"

// matchAttrs are the attributes a target description is compared against.
var matchAttrs = []string{"id", "name", "aria-label", "placeholder", "title", "value", "data-testid"}

// MatchElement locates the interactive element best matching a free-form
// target description. Strategy: case-insensitive substring against visible
// text and attributes first; fuzzy token overlap as fallback. Among
// substring matches the highest element confidence wins.
func MatchElement(elements []Element, target string) (Element, bool) {
	needle := strings.ToLower(strings.TrimSpace(target))
	if needle == "" || len(elements) == 0 {
		return Element{}, false
	}

	best := -1
	for i, el := range elements {
		if !substringMatch(el, needle) {
			continue
		}
		if best == -1 || el.Confidence > elements[best].Confidence {
			best = i
		}
	}
	if best >= 0 {
		return elements[best], true
	}

	// Fuzzy fallback: token overlap between the description and the
	// element's text/attributes. More than half the target tokens must hit.
	targetTokens := tokens(needle)
	if len(targetTokens) == 0 {
		return Element{}, false
	}

	bestScore := 0.0
	for i, el := range elements {
		score := tokenOverlap(targetTokens, elementTokens(el))
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 && bestScore > 0.5 {
		return elements[best], true
	}
	return Element{}, false
}

func substringMatch(el Element, needle string) bool {
	if strings.Contains(strings.ToLower(el.Text), needle) {
		return true
	}
	for _, attr := range matchAttrs {
		if v := el.Attributes[attr]; v != "" && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func elementTokens(el Element) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokens(strings.ToLower(el.Text)) {
		set[tok] = true
	}
	for _, attr := range matchAttrs {
		for _, tok := range tokens(strings.ToLower(el.Attributes[attr])) {
			set[tok] = true
		}
	}
	set[el.Tag] = true
	set[string(el.Type)] = true
	return set
}

func tokenOverlap(target []string, have map[string]bool) float64 {
	hits := 0
	for _, tok := range target {
		if have[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(target))
}

func tokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		// Generic filler words carry no locating signal.
		switch f {
		case "the", "a", "an", "on", "in", "to", "of":
			continue
		}
		out = append(out, f)
	}
	return out
}
