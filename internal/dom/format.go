package dom

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForAI renders a deterministic textual summary of an analysis: the
// limit highest-confidence interactive elements (ties broken by extraction
// order), a forms section, and the overall confidence. The output feeds LLM
// prompts, so it stays compact and stable across runs.
func FormatForAI(a Analysis, limit int) string {
	if limit <= 0 {
		limit = 10
	}

	idx := make([]int, len(a.Interactive))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return a.Interactive[idx[i]].Confidence > a.Interactive[idx[j]].Confidence
	})
	if len(idx) > limit {
		idx = idx[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s (%s)\n", a.Title, a.URL)
	fmt.Fprintf(&b, "Interactive elements (%d shown of %d):\n", len(idx), len(a.Interactive))
	for rank, i := range idx {
		el := a.Interactive[i]
		fmt.Fprintf(&b, "%2d. <%s> type=%s confidence=%.2f", rank+1, el.Tag, el.Type, el.Confidence)
		if el.Text != "" {
			fmt.Fprintf(&b, " text=%q", truncate(el.Text, 60))
		}
		for _, attr := range []string{"id", "name", "aria-label", "placeholder", "href"} {
			if v := el.Attributes[attr]; v != "" {
				fmt.Fprintf(&b, " %s=%q", attr, truncate(v, 60))
			}
		}
		b.WriteByte('\n')
	}

	if len(a.Forms) > 0 {
		fmt.Fprintf(&b, "Forms (%d):\n", len(a.Forms))
		for i, form := range a.Forms {
			fmt.Fprintf(&b, "  form %d: method=%s action=%q fields=", i+1, form.Method, form.Action)
			names := make([]string, 0, len(form.Fields))
			for _, f := range form.Fields {
				name := f.Name
				if name == "" {
					name = f.Type
				}
				names = append(names, name)
			}
			b.WriteString(strings.Join(names, ", "))
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "Analysis confidence: %.2f\n", a.Confidence)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
