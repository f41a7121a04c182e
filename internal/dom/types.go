// Package dom extracts the interactive surface of a live page and executes
// concrete actions against elements located by description.
package dom

import "math"

// ElementType buckets an interactive element by how it is operated.
type ElementType string

const (
	TypeButton    ElementType = "button"
	TypeTextInput ElementType = "text_input"
	TypeCheckbox  ElementType = "checkbox"
	TypeRadio     ElementType = "radio"
	TypeSelect    ElementType = "select"
	TypeLink      ElementType = "link"
	TypeOther     ElementType = "other"
)

// Element is one interactive candidate extracted from the page.
type Element struct {
	Tag         string            `json:"tag"`
	Text        string            `json:"text"`
	Type        ElementType       `json:"element_type"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	XPath       string            `json:"xpath"`
	Selector    string            `json:"selector"`
	Interactive bool              `json:"is_interactive"`
	Confidence  float64           `json:"confidence"`
}

// FormField describes one input inside a form.
type FormField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

// Form captures a form's method, action, and fields.
type Form struct {
	Method string      `json:"method"`
	Action string      `json:"action"`
	Fields []FormField `json:"fields"`
}

// Analysis is the structured snapshot of a page's interactive surface.
type Analysis struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Interactive   []Element `json:"interactive_elements"`
	Forms         []Form    `json:"forms"`
	Navigation    []Element `json:"navigation_elements"`
	Content       []Element `json:"content_elements"`
	TotalElements int       `json:"total_elements"`
	// Confidence scores how analyzable the page is, not how well any single
	// element matched. Kept separate from element confidence on purpose.
	Confidence float64 `json:"analysis_confidence"`
}

// Complexity buckets a page by its interactive surface size.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// PageComplexity buckets by interactive-element count and form count.
func (a Analysis) PageComplexity() Complexity {
	n := len(a.Interactive)
	switch {
	case n > 20 || len(a.Forms) > 2:
		return ComplexityComplex
	case n > 8 || len(a.Forms) > 0:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

const (
	baseElementConfidence = 0.3
	identAttrBonus        = 0.2
	visibleTextBonus      = 0.15
	interactiveTagBonus   = 0.15
	maxVisibleTextLen     = 80
)

var interactiveTags = map[string]bool{
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"a":        true,
}

// ScoreElement computes the element confidence: 0.3 baseline, +0.2 for each
// of id/name/aria-label, +0.15 for short visible text, +0.15 for a
// recognized interactive tag, capped at 1.0.
func ScoreElement(tag, text string, attrs map[string]string) float64 {
	score := baseElementConfidence
	for _, attr := range []string{"id", "name", "aria-label"} {
		if attrs[attr] != "" {
			score += identAttrBonus
		}
	}
	if text != "" && len(text) <= maxVisibleTextLen {
		score += visibleTextBonus
	}
	if interactiveTags[tag] {
		score += interactiveTagBonus
	}
	return math.Min(score, 1.0)
}

// ElementTypeOf maps tag + type attribute + role onto an ElementType.
func ElementTypeOf(tag, typeAttr, role string) ElementType {
	switch tag {
	case "button":
		return TypeButton
	case "select":
		return TypeSelect
	case "a":
		return TypeLink
	case "textarea":
		return TypeTextInput
	case "input":
		switch typeAttr {
		case "checkbox":
			return TypeCheckbox
		case "radio":
			return TypeRadio
		case "button", "submit", "reset", "image":
			return TypeButton
		case "", "text", "email", "password", "search", "tel", "url", "number":
			return TypeTextInput
		default:
			return TypeOther
		}
	default:
		if role == "button" {
			return TypeButton
		}
		return TypeOther
	}
}

// PageConfidence is the weighted page score, clipped to [0,1]:
// 0.4 x interactive density + 0.25 x form presence + 0.15 x navigation
// density + 0.2 x mean of the top-k element confidences.
func PageConfidence(interactive []Element, formCount, navCount int) float64 {
	score := 0.4 * math.Min(1, float64(len(interactive))/5)
	if formCount > 0 {
		score += 0.25
	}
	score += 0.15 * math.Min(1, float64(navCount)/3)

	if k := min(10, len(interactive)); k > 0 {
		top := topConfidences(interactive, k)
		var sum float64
		for _, c := range top {
			sum += c
		}
		score += 0.2 * (sum / float64(k))
	}

	return math.Max(0, math.Min(score, 1.0))
}

func topConfidences(elements []Element, k int) []float64 {
	confs := make([]float64, 0, len(elements))
	for _, el := range elements {
		confs = append(confs, el.Confidence)
	}
	// Selection by repeated max; k is at most 10.
	top := make([]float64, 0, k)
	for i := 0; i < k; i++ {
		best := 0
		for j := 1; j < len(confs); j++ {
			if confs[j] > confs[best] {
				best = j
			}
		}
		top = append(top, confs[best])
		confs[best] = -1
	}
	return top
}
