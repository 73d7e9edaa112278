package explorer

import (
	"github.com/lukemcguire/primal/result"
)

// Failure is the verdict of a failed run. Message enumerates the evidence;
// Err holds the underlying cause when there is one.
type Failure struct {
	Category result.Category
	Message  string
	Evidence []string
	Err      error
}

// Sentinels for matching a Failure's category with errors.Is.
var (
	ErrNavigation    = &Failure{Category: result.CategoryNavigation}
	ErrVisibility    = &Failure{Category: result.CategoryVisibility}
	ErrAccessibility = &Failure{Category: result.CategoryAccessibility}
	ErrConsole       = &Failure{Category: result.CategoryConsole}
	ErrTraffic       = &Failure{Category: result.CategoryTraffic}
)

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Category) + " failure"
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches any *Failure of the same category.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Category == f.Category
}

func fail(cat result.Category, msg string, evidence []string, err error) *Failure {
	return &Failure{Category: cat, Message: msg, Evidence: evidence, Err: err}
}
