package fuzz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/lukemcguire/primal/browser"
)

// Fixed literals used for controls whose value format is strict.
const (
	DateValue          = "2024-01-01"
	DateTimeLocalValue = "2024-01-01T00:00"
	TextAreaPrefix     = "Random Text "
)

// Control is a form control as observed on the live page.
type Control struct {
	Element browser.Element
	Tag     string
	Type    string
	Visible bool
	Options int
}

// Describe reads el's current tag, type and visibility. Inputs without a
// type attribute are reported as "text".
func Describe(ctx context.Context, el browser.Element) (Control, error) {
	info, err := el.Describe(ctx)
	if err != nil {
		return Control{}, fmt.Errorf("describe element: %w", err)
	}
	typ := info.Type
	if typ == "" && info.Tag == "input" {
		typ = "text"
	}
	return Control{
		Element: el,
		Tag:     info.Tag,
		Type:    typ,
		Visible: info.Visible,
		Options: info.Options,
	}, nil
}

// InputFuzzer fills one form control at a time with a random value that
// matches the control's type.
type InputFuzzer struct {
	rand   *Rand
	logger *slog.Logger
}

// NewInputFuzzer creates an InputFuzzer. A nil logger discards output.
func NewInputFuzzer(r *Rand, logger *slog.Logger) *InputFuzzer {
	if r == nil {
		r = TimeSeeded()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InputFuzzer{rand: r, logger: logger}
}

// FuzzOne perturbs c. Failures are logged and dropped so a caller iterating
// many controls is never interrupted.
func (f *InputFuzzer) FuzzOne(ctx context.Context, c Control) {
	if err := f.fuzz(ctx, c); err != nil {
		f.logger.DebugContext(ctx, "fuzz control failed", "tag", c.Tag, "type", c.Type, "err", err)
	}
}

func (f *InputFuzzer) fuzz(ctx context.Context, c Control) error {
	if c.Element == nil {
		return nil
	}
	switch c.Tag {
	case "select":
		if c.Options == 0 {
			return nil
		}
		return c.Element.SelectIndex(ctx, f.rand.IntN(c.Options))
	case "textarea":
		return c.Element.Fill(ctx, TextAreaPrefix+f.rand.Alnum(6))
	case "input":
		return f.fuzzInput(ctx, c)
	}
	return nil
}

func (f *InputFuzzer) fuzzInput(ctx context.Context, c Control) error {
	switch c.Type {
	case "checkbox", "radio":
		if f.rand.Chance(0.5) {
			return c.Element.Check(ctx)
		}
		return nil
	}
	value, ok := f.Value(c.Type)
	if !ok {
		return nil
	}
	return c.Element.Fill(ctx, value)
}

// Value returns a random fill value for an input of the given type, or
// false when the type is not filled by text.
func (f *InputFuzzer) Value(inputType string) (string, bool) {
	switch inputType {
	case "text", "search", "tel", "password":
		return f.rand.Alnum(10), true
	case "url":
		return "https://example.com/" + f.rand.Alnum(8), true
	case "email":
		return fmt.Sprintf("test%d@example.com", f.rand.IntN(1000)), true
	case "number":
		return strconv.Itoa(f.rand.IntN(100)), true
	case "date":
		return DateValue, true
	case "datetime-local":
		return DateTimeLocalValue, true
	}
	return "", false
}
