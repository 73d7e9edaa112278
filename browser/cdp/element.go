package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/lukemcguire/primal/browser"
)

// element addresses a DOM node by the registry id Query assigned to it.
type element struct {
	s  *Session
	id string
}

// eval runs body as a function of the element. body sees the node as el.
func (e *element) eval(ctx context.Context, body string, out any) error {
	script, err := resolveScript(e.id, body)
	if err != nil {
		return err
	}
	return e.s.Evaluate(ctx, script, out)
}

// resolveScript looks id up in the registry and runs body against it,
// failing once the node is collected or detached.
func resolveScript(id, body string) (string, error) {
	key, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`((el) => {
  if (!el || !el.isConnected) throw new Error("element is no longer attached");
  %s
})((() => { const ref = %s.els.get(%s); return ref && ref.deref(); })())`, body, registryJS, key), nil
}

const describeBody = `const r = el.getBoundingClientRect();
  const st = window.getComputedStyle(el);
  return {
    tag: el.tagName.toLowerCase(),
    type: (el.getAttribute("type") || "").toLowerCase(),
    visible: r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none",
    options: el.tagName === "SELECT" ? el.options.length : 0,
  };`

// Describe implements browser.Element.
func (e *element) Describe(ctx context.Context) (browser.ElementInfo, error) {
	var info struct {
		Tag     string `json:"tag"`
		Type    string `json:"type"`
		Visible bool   `json:"visible"`
		Options int    `json:"options"`
	}
	if err := e.eval(ctx, describeBody, &info); err != nil {
		return browser.ElementInfo{}, fmt.Errorf("describe element: %w", err)
	}
	return browser.ElementInfo{
		Tag:     info.Tag,
		Type:    info.Type,
		Visible: info.Visible,
		Options: info.Options,
	}, nil
}

// Fill implements browser.Element. It sets the value directly and fires the
// input and change events frameworks listen for.
func (e *element) Fill(ctx context.Context, value string) error {
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(`if (el.disabled || el.readOnly) throw new Error("element is not editable");
  el.focus();
  el.value = %s;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;`, v)
	if err := e.eval(ctx, body, nil); err != nil {
		return fmt.Errorf("fill element: %w", err)
	}
	return nil
}

// Check implements browser.Element.
func (e *element) Check(ctx context.Context) error {
	const body = `if (el.disabled) throw new Error("element is disabled");
  if (!el.checked) el.click();
  return el.checked;`
	if err := e.eval(ctx, body, nil); err != nil {
		return fmt.Errorf("check element: %w", err)
	}
	return nil
}

// SelectIndex implements browser.Element.
func (e *element) SelectIndex(ctx context.Context, index int) error {
	body := fmt.Sprintf(`if (%d >= el.options.length) throw new Error("option index out of range");
  el.selectedIndex = %d;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;`, index, index)
	if err := e.eval(ctx, body, nil); err != nil {
		return fmt.Errorf("select option: %w", err)
	}
	return nil
}

const centerBody = `el.scrollIntoView({ block: "center", inline: "center" });
  const r = el.getBoundingClientRect();
  if (r.width === 0 || r.height === 0) throw new Error("element is not visible");
  return { x: r.left + r.width / 2, y: r.top + r.height / 2 };`

// Click implements browser.Element with a real mouse click at the element's
// center, bounded by the session's action timeout.
func (e *element) Click(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.s.actionTimeout)
	defer cancel()
	var at struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := e.eval(ctx, centerBody, &at); err != nil {
		return fmt.Errorf("click element: %w", err)
	}
	if err := e.s.run(ctx, chromedp.MouseClickXY(at.X, at.Y)); err != nil {
		return fmt.Errorf("click element: %w", err)
	}
	return nil
}
