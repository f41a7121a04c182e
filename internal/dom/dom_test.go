package dom

import (
	"strings"
	"testing"
)

func TestScoreElement(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		text  string
		attrs map[string]string
		want  float64
	}{
		{"bare div", "div", "", nil, 0.3},
		{"button with text", "button", "Submit", nil, 0.6},
		{"input with id and name", "input", "", map[string]string{"id": "user", "name": "user"}, 0.85},
		{"fully identified button", "button", "Log in", map[string]string{"id": "login", "name": "login", "aria-label": "Log in"}, 1.0},
		{"long text no bonus", "button", strings.Repeat("x", 100), nil, 0.45},
	}
	for _, tt := range tests {
		if got := ScoreElement(tt.tag, tt.text, tt.attrs); !floatEq(got, tt.want) {
			t.Errorf("%s: ScoreElement = %.2f, want %.2f", tt.name, got, tt.want)
		}
	}
}

func floatEq(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestScoreElementCapped(t *testing.T) {
	attrs := map[string]string{"id": "x", "name": "x", "aria-label": "x"}
	if got := ScoreElement("button", "ok", attrs); got > 1.0 {
		t.Errorf("score must cap at 1.0, got %.2f", got)
	}
}

func TestElementTypeOf(t *testing.T) {
	tests := []struct {
		tag, typeAttr, role string
		want                ElementType
	}{
		{"button", "", "", TypeButton},
		{"select", "", "", TypeSelect},
		{"a", "", "", TypeLink},
		{"textarea", "", "", TypeTextInput},
		{"input", "text", "", TypeTextInput},
		{"input", "", "", TypeTextInput},
		{"input", "checkbox", "", TypeCheckbox},
		{"input", "radio", "", TypeRadio},
		{"input", "submit", "", TypeButton},
		{"input", "color", "", TypeOther},
		{"div", "", "button", TypeButton},
		{"div", "", "", TypeOther},
	}
	for _, tt := range tests {
		if got := ElementTypeOf(tt.tag, tt.typeAttr, tt.role); got != tt.want {
			t.Errorf("ElementTypeOf(%q, %q, %q) = %s, want %s", tt.tag, tt.typeAttr, tt.role, got, tt.want)
		}
	}
}

func TestPageConfidenceRange(t *testing.T) {
	if got := PageConfidence(nil, 0, 0); got != 0 {
		t.Errorf("empty page confidence = %.2f, want 0", got)
	}

	rich := make([]Element, 25)
	for i := range rich {
		rich[i] = Element{Confidence: 1.0}
	}
	got := PageConfidence(rich, 2, 5)
	if got < 0 || got > 1 {
		t.Errorf("confidence out of range: %.2f", got)
	}
	if got != 1.0 {
		t.Errorf("saturated page should score 1.0, got %.2f", got)
	}
}

func TestPageConfidenceComponents(t *testing.T) {
	// Five elements saturate the density term; forms and nav add their share.
	els := []Element{{Confidence: 0.5}, {Confidence: 0.5}, {Confidence: 0.5}, {Confidence: 0.5}, {Confidence: 0.5}}

	noForms := PageConfidence(els, 0, 0)
	withForms := PageConfidence(els, 1, 0)
	if !floatEq(withForms-noForms, 0.25) {
		t.Errorf("form presence should add 0.25, added %.2f", withForms-noForms)
	}

	withNav := PageConfidence(els, 0, 3)
	if !floatEq(withNav-noForms, 0.15) {
		t.Errorf("saturated navigation should add 0.15, added %.2f", withNav-noForms)
	}
}

func TestPageComplexity(t *testing.T) {
	many := make([]Element, 21)
	some := make([]Element, 9)

	tests := []struct {
		analysis Analysis
		want     Complexity
	}{
		{Analysis{}, ComplexitySimple},
		{Analysis{Interactive: some}, ComplexityModerate},
		{Analysis{Forms: []Form{{}}}, ComplexityModerate},
		{Analysis{Interactive: many}, ComplexityComplex},
		{Analysis{Forms: []Form{{}, {}, {}}}, ComplexityComplex},
	}
	for i, tt := range tests {
		if got := tt.analysis.PageComplexity(); got != tt.want {
			t.Errorf("case %d: complexity = %s, want %s", i, got, tt.want)
		}
	}
}

func TestMatchElementSubstring(t *testing.T) {
	elements := []Element{
		{Tag: "button", Text: "Cancel", Confidence: 0.6},
		{Tag: "button", Text: "Submit order", Confidence: 0.8},
		{Tag: "input", Attributes: map[string]string{"placeholder": "Search products"}, Confidence: 0.7},
	}

	el, ok := MatchElement(elements, "submit")
	if !ok || el.Text != "Submit order" {
		t.Errorf("expected submit button, got %+v ok=%v", el, ok)
	}

	el, ok = MatchElement(elements, "search products")
	if !ok || el.Tag != "input" {
		t.Errorf("expected search input via placeholder, got %+v ok=%v", el, ok)
	}
}

func TestMatchElementPrefersHigherConfidence(t *testing.T) {
	elements := []Element{
		{Tag: "a", Text: "submit feedback", Confidence: 0.4},
		{Tag: "button", Text: "Submit", Confidence: 0.9},
	}
	el, ok := MatchElement(elements, "submit")
	if !ok || el.Tag != "button" {
		t.Errorf("expected the higher-confidence match, got %+v", el)
	}
}

func TestMatchElementFuzzy(t *testing.T) {
	elements := []Element{
		{Tag: "button", Text: "Add item to shopping cart", Confidence: 0.7},
		{Tag: "button", Text: "Checkout", Confidence: 0.7},
	}
	// No substring hit for the full phrase; token overlap should find it.
	el, ok := MatchElement(elements, "shopping cart add")
	if !ok || !strings.Contains(el.Text, "shopping cart") {
		t.Errorf("expected fuzzy match, got %+v ok=%v", el, ok)
	}
}

func TestMatchElementNone(t *testing.T) {
	elements := []Element{{Tag: "button", Text: "Cancel", Confidence: 0.6}}
	if _, ok := MatchElement(elements, "frobnicate the veeblefetzer"); ok {
		t.Error("expected no match")
	}
	if _, ok := MatchElement(nil, "anything"); ok {
		t.Error("expected no match on empty element list")
	}
	if _, ok := MatchElement(elements, "  "); ok {
		t.Error("expected no match on blank target")
	}
}

func TestBuildAnalysis(t *testing.T) {
	rp := RawPage{
		URL:   "https://example.com/login",
		Title: "Login",
		Total: 120,
		Elements: []RawElement{
			{Tag: "input", TypeAttr: "text", Attrs: map[string]string{"id": "user", "name": "user"}, Selector: "#user"},
			{Tag: "input", TypeAttr: "password", Attrs: map[string]string{"id": "pass"}, Selector: "#pass"},
			{Tag: "button", Text: "Log in", Selector: "#submit"},
			{Tag: "a", Text: "Home", Navigation: true},
		},
		Forms: []RawForm{{Method: "post", Action: "/login"}},
	}

	a := BuildAnalysis(rp)
	if len(a.Interactive) != 3 {
		t.Errorf("expected 3 interactive elements, got %d", len(a.Interactive))
	}
	if len(a.Navigation) != 1 {
		t.Errorf("expected 1 navigation element, got %d", len(a.Navigation))
	}
	if len(a.Forms) != 1 {
		t.Errorf("expected 1 form, got %d", len(a.Forms))
	}
	if a.Confidence <= 0 || a.Confidence > 1 {
		t.Errorf("analysis confidence out of range: %.2f", a.Confidence)
	}
	if a.Interactive[0].Type != TypeTextInput {
		t.Errorf("expected text input, got %s", a.Interactive[0].Type)
	}
}

func TestFormatForAIStable(t *testing.T) {
	a := Analysis{
		URL:   "https://example.com",
		Title: "Example",
		Interactive: []Element{
			{Tag: "button", Text: "B", Confidence: 0.5},
			{Tag: "button", Text: "A", Confidence: 0.9},
			{Tag: "input", Attributes: map[string]string{"id": "q"}, Confidence: 0.9},
		},
		Forms:      []Form{{Method: "get", Action: "/s", Fields: []FormField{{Name: "q", Type: "text"}}}},
		Confidence: 0.72,
	}

	first := FormatForAI(a, 10)
	if first != FormatForAI(a, 10) {
		t.Error("output must be deterministic")
	}

	// Highest confidence first; equal confidences keep extraction order.
	idxA := strings.Index(first, `text="A"`)
	idxQ := strings.Index(first, `id="q"`)
	idxB := strings.Index(first, `text="B"`)
	if idxA == -1 || idxQ == -1 || idxB == -1 {
		t.Fatalf("missing elements in output:\n%s", first)
	}
	if !(idxA < idxQ && idxQ < idxB) {
		t.Errorf("unexpected ordering:\n%s", first)
	}
	if !strings.Contains(first, "Analysis confidence: 0.72") {
		t.Errorf("missing confidence line:\n%s", first)
	}
}

func TestFormatForAILimit(t *testing.T) {
	a := Analysis{Interactive: make([]Element, 30)}
	out := FormatForAI(a, 5)
	if !strings.Contains(out, "(5 shown of 30)") {
		t.Errorf("limit not honored:\n%s", out)
	}
}
