package traffic

import (
	"fmt"
	"time"
)

// Kind names the threshold an issue violated.
type Kind string

const (
	KindSlowRequest  Kind = "slow_request"
	KindLargePayload Kind = "large_payload"
)

// Issue is one threshold violation.
type Issue struct {
	Kind     Kind          `json:"kind"`
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration,omitempty"`
	Bytes    int64         `json:"bytes,omitempty"`
}

func (i Issue) String() string {
	switch i.Kind {
	case KindSlowRequest:
		return fmt.Sprintf("Slow request detected: %s (%.2fms)", i.URL, float64(i.Duration)/float64(time.Millisecond))
	case KindLargePayload:
		return fmt.Sprintf("Large payload detected: %s (%d bytes)", i.URL, i.Bytes)
	}
	return fmt.Sprintf("%s: %s", i.Kind, i.URL)
}
