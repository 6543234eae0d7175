package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcoot/provisioner/internal/api/response"
	"github.com/mcoot/provisioner/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

// PrintLines writes export lines verbatim in either format
func (o *Output) PrintLines(lines []string) {
	for _, line := range lines {
		fmt.Fprintln(o.w, line)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Task:
		o.printTask(v)
	case response.TaskList:
		o.printTaskList(v)
	case response.Account:
		o.printAccount(v)
	case response.AccountList:
		o.printAccountList(v)
	case response.EventList:
		for _, ev := range v.Events {
			o.printEvent(ev)
		}
	case []model.Identity:
		o.printIdentities(v)
	case response.Health:
		o.printHealth(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printTask(t response.Task) {
	fmt.Fprintf(o.w, "Task: %s\n", t.ID)
	fmt.Fprintf(o.w, "Kind: %s\n", t.Kind)
	fmt.Fprintf(o.w, "State: %s\n", t.State)
	fmt.Fprintf(o.w, "Quantity: %d\n", t.Quantity)
	fmt.Fprintf(o.w, "Succeeded: %d\n", t.SuccessCount)
	fmt.Fprintf(o.w, "Failed: %d\n", t.FailCount)
	fmt.Fprintf(o.w, "Tokens: %d\n", t.TokenCount)
	fmt.Fprintf(o.w, "Started: %s\n", t.StartedAt.Format(time.DateTime))
	if t.EndedAt != nil {
		fmt.Fprintf(o.w, "Ended: %s\n", t.EndedAt.Format(time.DateTime))
	}
	if t.Error != "" {
		fmt.Fprintf(o.w, "Error: %s\n", t.Error)
	}
}

func (o *Output) printTaskList(l response.TaskList) {
	if len(l.Tasks) == 0 {
		fmt.Fprintln(o.w, "No tasks")
		return
	}
	for _, t := range l.Tasks {
		fmt.Fprintf(o.w, "%s  %-9s  %-9s  %d/%d ok, %d tokens  %s\n",
			t.ID, t.Kind, t.State, t.SuccessCount, t.Quantity, t.TokenCount, t.StartedAt.Format(time.DateTime))
	}
}

func (o *Output) printAccount(a response.Account) {
	fmt.Fprintf(o.w, "Account: %s\n", a.Email)
	fmt.Fprintf(o.w, "Name: %s %s\n", a.FirstName, a.LastName)
	fmt.Fprintf(o.w, "Birth Date: %s\n", a.BirthDate)
	fmt.Fprintf(o.w, "Authorized: %s\n", yesNo(a.Authorized))
	fmt.Fprintf(o.w, "Used: %s\n", yesNo(a.Used))
	if a.Method != "" {
		fmt.Fprintf(o.w, "Method: %s\n", a.Method)
	}
	if a.ClientID != "" {
		fmt.Fprintf(o.w, "Client ID: %s\n", a.ClientID)
	}
	if a.TaskID != "" {
		fmt.Fprintf(o.w, "Task: %s\n", a.TaskID)
	}
}

func (o *Output) printAccountList(l response.AccountList) {
	fmt.Fprintf(o.w, "Accounts (%d):\n", l.Total)
	for _, a := range l.Accounts {
		flags := []string{}
		if a.Authorized {
			flags = append(flags, "authorized")
		}
		if a.Used {
			flags = append(flags, "used")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintf(o.w, "  - %s (%s %s)%s\n", a.Email, a.FirstName, a.LastName, suffix)
	}
}

func (o *Output) printIdentities(ids []model.Identity) {
	for _, id := range ids {
		fmt.Fprintf(o.w, "%s----%s  %s %s  %s\n",
			id.Email, id.Password, id.FirstName, id.LastName, id.BirthDate.Format(time.DateOnly))
	}
}

func (o *Output) printHealth(h response.Health) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	if h.Storage != "" {
		fmt.Fprintf(o.w, "Storage: %s\n", h.Storage)
	}
	fmt.Fprintf(o.w, "Running tasks: %d\n", h.RunningTasks)
}

// printEvent renders one progress event as a single line
func (o *Output) printEvent(ev model.Event) {
	name := string(ev.Step)
	if name == "" {
		name = string(ev.Type)
	}
	fmt.Fprintf(o.w, "[%s] %-7s %s", ev.Timestamp.Format(time.TimeOnly), ev.Type, name)
	if ev.Email != "" {
		fmt.Fprintf(o.w, " %s", ev.Email)
	}
	if ev.Message != "" {
		fmt.Fprintf(o.w, ": %s", strings.ReplaceAll(ev.Message, "\n", " "))
	}
	fmt.Fprintln(o.w)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
