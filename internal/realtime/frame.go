package realtime

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// lastEventID guarantees monotonically increasing event ids even when two
// events fall inside the same millisecond.
var lastEventID atomic.Int64

// nextEventID returns a timestamp-based id that never repeats or decreases.
func nextEventID(now time.Time) string {
	candidate := now.UnixMilli()
	for {
		prev := lastEventID.Load()
		if candidate <= prev {
			candidate = prev + 1
		}
		if lastEventID.CompareAndSwap(prev, candidate) {
			return fmt.Sprintf("%d", candidate)
		}
	}
}

// formatEvent renders the three-line SSE event frame terminated by a blank
// line:
//
//	id: <id>
//	event: <name>
//	data: <JSON>
func formatEvent(id, event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", id, event, payload)), nil
}

// formatHeartbeat renders the comment-only keep-alive frame. SSE clients
// never surface comment lines as events.
func formatHeartbeat(now time.Time) []byte {
	return []byte(fmt.Sprintf(": heartbeat %s\n\n", now.UTC().Format(time.RFC3339)))
}
