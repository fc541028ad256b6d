package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// SSEEvent is one parsed Server-Sent Event from a recorded response body.
type SSEEvent struct {
	Type string // event: value
	Data string // data: value, multi-line data joined with \n
}

// ParseSSEEvents parses the wire format the chat handlers emit
// ("event: <type>\ndata: <json>\n\n") into structured events. Multi-line
// data blocks are joined with newlines, data without an explicit event
// line gets the "message" default type, and ":" comment lines are
// skipped. Malformed input fails the test.
//
//	events := testutil.ParseSSEEvents(t, rec.Body.String())
//	if events[0].Type != "chunk" {
//		t.Errorf("first event = %q, want chunk", events[0].Type)
//	}
func ParseSSEEvents(t *testing.T, body string) []SSEEvent {
	t.Helper()

	var events []SSEEvent
	scanner := bufio.NewScanner(strings.NewReader(body))

	var current SSEEvent
	var dataLines []string
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			if current.Type != "" && len(dataLines) > 0 {
				t.Fatalf("sse line %d: new event before previous one terminated (got %q)", lineNum, line)
			}
			current.Type = strings.TrimPrefix(line, "event: ")

		case strings.HasPrefix(line, "data: "):
			if current.Type == "" {
				current.Type = "message"
			}
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))

		case line == "":
			// Blank line terminates the event. Data-less events are valid.
			if current.Type != "" {
				current.Data = strings.Join(dataLines, "\n")
				events = append(events, current)
				current = SSEEvent{}
				dataLines = nil
			}

		default:
			if !strings.HasPrefix(line, ":") {
				t.Fatalf("sse line %d: unexpected line %q", lineNum, line)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("sse scan: %v", err)
	}

	if current.Type != "" {
		t.Fatalf("sse stream ended mid-event %q (missing blank line)", current.Type)
	}

	return events
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []SSEEvent, eventType string) *SSEEvent {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

// FindAllEvents returns every event of the given type in stream order.
func FindAllEvents(events []SSEEvent, eventType string) []SSEEvent {
	var found []SSEEvent
	for _, e := range events {
		if e.Type == eventType {
			found = append(found, e)
		}
	}
	return found
}
