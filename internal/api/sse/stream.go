package sse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/provisioner/internal/model"
)

const (
	// Time between keepalive comments
	pingPeriod = 15 * time.Second

	// Reconnect delay advertised to clients
	retryMillis = 3000

	// EventDone is sent once the task's stream has ended
	EventDone = "done"
)

// Serve streams events as server-sent events until the channel closes or the
// client disconnects. Each message is named after the event's step, falling back to its type.
func Serve(w http.ResponseWriter, r *http.Request, events <-chan model.Event, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("retry: " + strconv.Itoa(retryMillis) + "\n\n"))
	_, _ = w.Write(formatSSEMessage("connected", `{"status":"connected"}`))
	flusher.Flush()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_, _ = w.Write(formatSSEMessage(EventDone, `{"status":"done"}`))
				flusher.Flush()
				logger.Debug("sse stream finished", slog.Int("events", sent))
				return
			}
			msg, err := encodeEvent(ev)
			if err != nil {
				logger.Warn("sse event not encodable",
					slog.String("step", string(ev.Step)),
					slog.String("error", err.Error()))
				continue
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
			sent++

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// EventName is the SSE event name used for ev
func EventName(ev model.Event) string {
	if ev.Step != "" {
		return string(ev.Step)
	}
	return string(ev.Type)
}

func encodeEvent(ev model.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return formatSSEMessage(EventName(ev), string(data)), nil
}

// formatSSEMessage formats an SSE message with event name and data.
// Each line of data gets its own "data: " prefix.
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(eventName)
	b.WriteString("\n")
	for _, line := range splitLines(data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// splitLines splits on \n and drops \r, keeping at least one line
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}
