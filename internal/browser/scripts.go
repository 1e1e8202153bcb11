package browser

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/harvester/internal/interfaces"
)

// pageResult is returned by every in-page helper.
type pageResult struct {
	Found bool   `json:"found"`
	HTML  string `json:"html"`
	Error string `json:"error"`
}

const extractTemplate = `(() => {
	const el = document.querySelector(%s);
	if (!el) { return {found: false, html: "", error: ""}; }
	return {found: true, html: el.outerHTML, error: ""};
})()`

const setValueTemplate = `(() => {
	const el = document.querySelector(%s);
	if (!el) { return {found: false, html: "", error: ""}; }
	el.focus();
	el.value = %s;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	el.blur();
	return {found: true, html: "", error: ""};
})()`

const clickTemplate = `(() => {
	const el = document.querySelector(%s);
	if (!el) { return {found: false, html: "", error: ""}; }
	if (el.disabled) { return {found: true, html: "", error: "element is disabled"}; }
	el.scrollIntoView({block: "center"});
	el.click();
	return {found: true, html: "", error: ""};
})()`

const submitTemplate = `(() => {
	const el = document.querySelector(%s);
	if (!el) { return {found: false, html: "", error: ""}; }
	const form = el.tagName === "FORM" ? el : el.form;
	if (!form) { el.click(); return {found: true, html: "", error: ""}; }
	if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
	return {found: true, html: "", error: ""};
})()`

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func extractScript(spec interfaces.ExtractSpec) string {
	return fmt.Sprintf(extractTemplate, jsString(spec.Selector))
}

func actionScript(action interfaces.Action) (string, error) {
	selector := jsString(action.Selector)
	switch action.Kind {
	case interfaces.ActionSetValue:
		return fmt.Sprintf(setValueTemplate, selector, jsString(action.Value)), nil
	case interfaces.ActionClick:
		return fmt.Sprintf(clickTemplate, selector), nil
	case interfaces.ActionSubmit:
		return fmt.Sprintf(submitTemplate, selector), nil
	default:
		return "", fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}
