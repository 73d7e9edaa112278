package suite

import (
	"github.com/lukemcguire/primal/result"
)

// Event reports progress after one target has finished.
type Event struct {
	Record  result.Record
	Done    int // targets finished so far
	Total   int // targets in the suite
	Failed  int // failed runs so far
	Skipped int // skipped runs so far
}
