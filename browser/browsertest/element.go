package browsertest

import (
	"context"
	"sync"

	"github.com/lukemcguire/primal/browser"
)

// Element is a fake browser.Element that records every interaction.
type Element struct {
	Info browser.ElementInfo

	DescribeErr error
	FillErr     error
	CheckErr    error
	SelectErr   error
	ClickErr    error
	// OnClick runs after a successful click.
	OnClick func()

	mu       sync.Mutex
	value    string
	checked  bool
	selected int
	clicks   int
	actions  int
}

// NewElement returns a visible element with the given tag and type.
func NewElement(tag, typ string) *Element {
	return &Element{
		Info:     browser.ElementInfo{Tag: tag, Type: typ, Visible: true},
		selected: -1,
	}
}

// Hidden marks the element invisible and returns it.
func (e *Element) Hidden() *Element {
	e.Info.Visible = false
	return e
}

// WithOptions sets the option count of a select element and returns it.
func (e *Element) WithOptions(n int) *Element {
	e.Info.Options = n
	return e
}

// Describe implements browser.Element.
func (e *Element) Describe(ctx context.Context) (browser.ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return browser.ElementInfo{}, err
	}
	if e.DescribeErr != nil {
		return browser.ElementInfo{}, e.DescribeErr
	}
	return e.Info, nil
}

// Fill implements browser.Element.
func (e *Element) Fill(_ context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions++
	if e.FillErr != nil {
		return e.FillErr
	}
	e.value = value
	return nil
}

// Check implements browser.Element.
func (e *Element) Check(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions++
	if e.CheckErr != nil {
		return e.CheckErr
	}
	e.checked = true
	return nil
}

// SelectIndex implements browser.Element.
func (e *Element) SelectIndex(_ context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions++
	if e.SelectErr != nil {
		return e.SelectErr
	}
	e.selected = index
	return nil
}

// Click implements browser.Element.
func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	e.actions++
	if e.ClickErr != nil {
		e.mu.Unlock()
		return e.ClickErr
	}
	e.clicks++
	onClick := e.OnClick
	e.mu.Unlock()
	if onClick != nil {
		onClick()
	}
	return nil
}

// Value returns the last filled value.
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Checked reports whether Check succeeded.
func (e *Element) Checked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checked
}

// Selected returns the selected option index, or -1.
func (e *Element) Selected() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Clicks returns the number of successful clicks.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Actions counts every interaction attempt, failed or not.
func (e *Element) Actions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actions
}
