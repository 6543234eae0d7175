package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/provisioner/internal/model"
)

// Stream control messages that carry no progress event
const (
	sseConnected = "connected"
	sseDone      = "done"
)

func newEventsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Stream progress events from a task",
		Long: `Connect to the task's SSE endpoint and stream progress events in real-time.

The full event log is replayed first. The stream ends when the task finishes.
Each event is named after its step, for example:
  - batch_started / batch_completed: A phase began or ended
  - session_opened / session_closed: A shared browser session changed state
  - identity_succeeded / identity_failed: One registration finished
  - device_code_issued: A user code awaits approval
  - auth_succeeded / auth_failed: One token acquisition finished

Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(cmd.Context(), model.TaskID(args[0]), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")

	return cmd
}

func streamEvents(ctx context.Context, taskID model.TaskID, jsonOutput bool) error {
	endpoint := strings.TrimSuffix(cfg.ServerURL, "/") + "/api/v1/tasks/" + url.PathEscape(string(taskID)) + "/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	// No timeout for SSE
	httpClient := &http.Client{}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	out := NewOutput(cfg.Output)
	err = readEvents(resp.Body, func(name, data string) bool {
		switch name {
		case sseConnected:
			if !jsonOutput {
				out.PrintMessage(fmt.Sprintf("Connected to task %s", taskID))
			}
			return true
		case sseDone:
			return false
		}
		printEvent(out, data, jsonOutput)
		return true
	})
	if err != nil {
		// Context cancellation is expected
		if ctx.Err() != nil {
			if !jsonOutput {
				out.PrintMessage("\nDisconnected")
			}
			return nil
		}
		return fmt.Errorf("stream error: %w", err)
	}

	if !jsonOutput {
		out.PrintMessage("Disconnected")
	}
	return nil
}

// readEvents parses an SSE stream, calling handle for every named message until it
// returns false or the stream ends. Comments and retry hints are skipped.
func readEvents(r io.Reader, handle func(name, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var currentEvent string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			// End of event
			if currentEvent != "" {
				if !handle(currentEvent, strings.Join(dataLines, "\n")) {
					return nil
				}
			}
			currentEvent = ""
			dataLines = nil
		}
	}
	return scanner.Err()
}

func printEvent(out *Output, data string, jsonOutput bool) {
	if jsonOutput {
		fmt.Fprintln(out.w, data)
		return
	}
	var ev model.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		fmt.Fprintln(out.w, data)
		return
	}
	out.printEvent(ev)
}
