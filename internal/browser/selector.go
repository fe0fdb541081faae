// internal/browser/selector.go
package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Strategy selects how a Selector matches elements.
type Strategy string

const (
	// StrategyCSS matches a plain CSS query.
	StrategyCSS Strategy = "css"
	// StrategyHasText matches elements whose text contains Text, ignoring case.
	StrategyHasText Strategy = "has-text"
	// StrategyContainsText is the case-sensitive variant of StrategyHasText.
	StrategyContainsText Strategy = "contains-text"
	// StrategyAttr matches elements whose attribute Attr equals Value exactly.
	StrategyAttr Strategy = "attr"
)

// Selector is a declarative element query. Every strategy starts from the CSS
// query in Query and then filters the matches.
type Selector struct {
	Strategy Strategy `json:"strategy"`
	Query    string   `json:"query"`
	Text     string   `json:"text,omitempty"`
	Attr     string   `json:"attr,omitempty"`
	Value    string   `json:"value,omitempty"`
}

func CSS(query string) Selector {
	return Selector{Strategy: StrategyCSS, Query: query}
}

func HasText(query, text string) Selector {
	return Selector{Strategy: StrategyHasText, Query: query, Text: text}
}

func ContainsText(query, text string) Selector {
	return Selector{Strategy: StrategyContainsText, Query: query, Text: text}
}

// Attr matches query elements whose attribute equals value. Values are compared
// verbatim, so names with quotes or brackets need no escaping.
func Attr(query, attr, value string) Selector {
	return Selector{Strategy: StrategyAttr, Query: query, Attr: attr, Value: value}
}

// String renders the selector for logs, e.g. span:has-text("Chats").
func (s Selector) String() string {
	switch s.Strategy {
	case StrategyHasText:
		return fmt.Sprintf("%s:has-text(%q)", s.Query, s.Text)
	case StrategyContainsText:
		return fmt.Sprintf("%s:text(%q)", s.Query, s.Text)
	case StrategyAttr:
		return fmt.Sprintf("%s[%s=%q]", s.Query, s.Attr, s.Value)
	default:
		return s.Query
	}
}

// findVisibleJS evaluates to the first visible element matching the selector
// argument, or null.
const findVisibleJS = `(function(sel) {
	let nodes;
	try {
		nodes = Array.from(document.querySelectorAll(sel.query));
	} catch (e) {
		return null;
	}
	const lowered = (sel.text || '').toLowerCase();
	const matches = (el) => {
		switch (sel.strategy) {
		case 'has-text':
			return (el.textContent || '').toLowerCase().includes(lowered);
		case 'contains-text':
			return (el.textContent || '').includes(sel.text);
		case 'attr':
			return el.getAttribute(sel.attr) === sel.value;
		default:
			return true;
		}
	};
	const visible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) return false;
		const style = window.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
	};
	return nodes.find((el) => matches(el) && visible(el)) || null;
})`

// expression wraps body so that it runs with `el` bound to the first visible match.
// body must evaluate to a JSON-serializable value; `el` may be null.
func (s Selector) expression(body string) (string, error) {
	arg, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode selector %s: %w", s, err)
	}
	return fmt.Sprintf("(() => { const el = %s(%s); %s })()", findVisibleJS, arg, body), nil
}

// Validate rejects selectors that can never match.
func (s Selector) Validate() error {
	if s.Query == "" {
		return fmt.Errorf("selector query is empty")
	}
	switch s.Strategy {
	case StrategyCSS:
	case StrategyHasText, StrategyContainsText:
		if s.Text == "" {
			return fmt.Errorf("selector %s: text strategy requires text", s)
		}
	case StrategyAttr:
		if s.Attr == "" {
			return fmt.Errorf("selector %s: attribute strategy requires an attribute name", s)
		}
	default:
		return fmt.Errorf("selector %s: unknown strategy %q", s, s.Strategy)
	}
	return nil
}
