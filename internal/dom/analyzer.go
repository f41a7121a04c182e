package dom

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
)

// Analyzer turns an already-loaded page into an Analysis.
type Analyzer struct {
	log zerolog.Logger
}

func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{log: log.With().Str("component", "dom").Logger()}
}

// RawElement is the browser-side view of one candidate, before scoring.
type RawElement struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	TypeAttr   string            `json:"type_attr"`
	Role       string            `json:"role"`
	Attrs      map[string]string `json:"attrs"`
	XPath      string            `json:"xpath"`
	Selector   string            `json:"selector"`
	Navigation bool              `json:"navigation"`
}

// RawForm mirrors a form element and its fields.
type RawForm struct {
	Method string `json:"method"`
	Action string `json:"action"`
	Fields []struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Label string `json:"label"`
	} `json:"fields"`
}

// RawPage is everything the extraction script reports in one round trip.
type RawPage struct {
	URL      string       `json:"url"`
	Title    string       `json:"title"`
	Total    int          `json:"total"`
	Elements []RawElement `json:"elements"`
	Forms    []RawForm    `json:"forms"`
	Content  []RawElement `json:"content"`
}

// Analyze extracts the interactive surface of the current page.
func (a *Analyzer) Analyze(page *rod.Page) (Analysis, error) {
	res, err := page.Eval(extractionJS)
	if err != nil {
		return Analysis{}, fmt.Errorf("page extraction failed: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal extraction result: %w", err)
	}

	var rp RawPage
	if err := json.Unmarshal(raw, &rp); err != nil {
		return Analysis{}, fmt.Errorf("decode extraction result: %w", err)
	}

	analysis := BuildAnalysis(rp)
	a.log.Debug().
		Str("url", analysis.URL).
		Int("interactive", len(analysis.Interactive)).
		Int("forms", len(analysis.Forms)).
		Float64("confidence", analysis.Confidence).
		Msg("page analyzed")
	return analysis, nil
}

// BuildAnalysis scores raw extraction output into an Analysis. Pure: element
// order follows extraction order, scoring follows ScoreElement and
// PageConfidence.
func BuildAnalysis(rp RawPage) Analysis {
	analysis := Analysis{
		URL:           rp.URL,
		Title:         rp.Title,
		TotalElements: rp.Total,
	}

	for _, re := range rp.Elements {
		el := Element{
			Tag:         re.Tag,
			Text:        re.Text,
			Type:        ElementTypeOf(re.Tag, re.TypeAttr, re.Role),
			Attributes:  re.Attrs,
			XPath:       re.XPath,
			Selector:    re.Selector,
			Interactive: true,
			Confidence:  ScoreElement(re.Tag, re.Text, re.Attrs),
		}
		if re.Navigation {
			analysis.Navigation = append(analysis.Navigation, el)
		} else {
			analysis.Interactive = append(analysis.Interactive, el)
		}
	}

	for _, rf := range rp.Forms {
		form := Form{Method: rf.Method, Action: rf.Action}
		for _, f := range rf.Fields {
			form.Fields = append(form.Fields, FormField{Name: f.Name, Type: f.Type, Label: f.Label})
		}
		analysis.Forms = append(analysis.Forms, form)
	}

	for _, rc := range rp.Content {
		analysis.Content = append(analysis.Content, Element{Tag: rc.Tag, Text: rc.Text, Type: TypeOther})
	}

	analysis.Confidence = PageConfidence(analysis.Interactive, len(analysis.Forms), len(analysis.Navigation))
	return analysis
}

// extractionJS reports interactive candidates, forms, navigation, and a
// bounded content sample in a single evaluation.
const extractionJS = `
() => {
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && parts.length < 5) {
			let part = node.tagName.toLowerCase();
			if (node.id) {
				parts.unshift('#' + CSS.escape(node.id));
				break;
			}
			const parent = node.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (siblings.length > 1) {
					part += ':nth-of-type(' + (siblings.indexOf(node) + 1) + ')';
				}
			}
			parts.unshift(part);
			node = parent;
		}
		return parts.join(' > ');
	};

	const xPath = (el) => {
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1) {
			let idx = 1;
			let sib = node.previousElementSibling;
			while (sib) {
				if (sib.tagName === node.tagName) idx++;
				sib = sib.previousElementSibling;
			}
			parts.unshift(node.tagName.toLowerCase() + '[' + idx + ']');
			node = node.parentElement;
		}
		return '/' + parts.join('/');
	};

	const keepAttrs = ['id', 'name', 'aria-label', 'placeholder', 'type', 'value', 'href', 'title', 'role', 'data-testid'];
	const attrsOf = (el) => {
		const out = {};
		for (const name of keepAttrs) {
			const v = el.getAttribute(name);
			if (v) out[name] = v;
		}
		return out;
	};

	const visible = (el) => {
		const rect = el.getBoundingClientRect();
		const style = getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	};

	const selector = 'button, input:not([type="hidden"]), select, textarea, a[href], [role="button"]';
	const navRoots = new Set();
	document.querySelectorAll('nav, header, [role="navigation"]').forEach(n => navRoots.add(n));
	const inNav = (el) => {
		for (const root of navRoots) {
			if (root.contains(el)) return true;
		}
		return false;
	};

	const elements = [];
	document.querySelectorAll(selector).forEach(el => {
		if (!visible(el)) return;
		elements.push({
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').replace(/\s+/g, ' ').trim().substring(0, 120),
			type_attr: (el.getAttribute('type') || '').toLowerCase(),
			role: (el.getAttribute('role') || '').toLowerCase(),
			attrs: attrsOf(el),
			xpath: xPath(el),
			selector: cssPath(el),
			navigation: el.tagName === 'A' && inNav(el)
		});
	});

	const forms = [];
	document.querySelectorAll('form').forEach(form => {
		const fields = [];
		form.querySelectorAll('input:not([type="hidden"]), select, textarea').forEach(f => {
			let label = '';
			if (f.id) {
				const lab = document.querySelector('label[for="' + CSS.escape(f.id) + '"]');
				if (lab) label = lab.innerText.trim().substring(0, 60);
			}
			fields.push({
				name: f.getAttribute('name') || f.id || '',
				type: (f.getAttribute('type') || f.tagName.toLowerCase()),
				label: label
			});
		});
		forms.push({
			method: (form.getAttribute('method') || 'get').toLowerCase(),
			action: form.getAttribute('action') || '',
			fields: fields
		});
	});

	const content = [];
	document.querySelectorAll('h1, h2, h3, main p').forEach(el => {
		if (content.length >= 20) return;
		const text = (el.innerText || '').replace(/\s+/g, ' ').trim();
		if (text) content.push({ tag: el.tagName.toLowerCase(), text: text.substring(0, 200) });
	});

	return {
		url: window.location.href,
		title: document.title,
		total: document.querySelectorAll('*').length,
		elements: elements,
		forms: forms,
		content: content
	};
}
`
