package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/yairfalse/snapwarden/executor"
)

// Progress prints engine events as one line each. Safe for concurrent use.
type Progress struct {
	mu sync.Mutex
	w  io.Writer
}

var _ executor.Progress = (*Progress)(nil)

// NewProgress creates a printer writing to w
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Emit prints ev
func (p *Progress) Emit(ev executor.Event) {
	line := FormatEvent(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}

// FormatEvent renders an event, or "" for events that print nothing
func FormatEvent(ev executor.Event) string {
	switch ev.Kind {
	case executor.EventAction:
		line := fmt.Sprintf("%s %s", actionVerb(ev.Action), IDStyle.Render(ev.ResourceID))
		if ev.Message != "" && ev.Message != ev.ResourceID {
			line += " " + MutedStyle.Render("("+ev.Message+")")
		}
		return "  " + line
	case executor.EventSkip:
		return fmt.Sprintf("  %s %s, %s", SkippedStyle.Render("Skipping"), ev.ResourceID, ev.Message)
	case executor.EventFailure:
		msg := ev.Message
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		if ev.Action != "" {
			return fmt.Sprintf("  %s %s %s: %s", FailedStyle.Render("Could not"), actionName(ev.Action), ev.ResourceID, msg)
		}
		return fmt.Sprintf("  %s %s: %s", FailedStyle.Render("Failed"), ev.ResourceID, msg)
	case executor.EventFinished:
		return HeaderStyle.Render("Finished") + " " + ev.Message
	default:
		return ""
	}
}

var actionVerbs = map[executor.Action]string{
	executor.ActionStop:           "Stopped",
	executor.ActionWaitStopped:    "Confirmed stopped",
	executor.ActionStart:          "Started",
	executor.ActionWaitRunning:    "Confirmed running",
	executor.ActionReboot:         "Rebooted",
	executor.ActionCreateSnapshot: "Created snapshot of",
	executor.ActionDeleteSnapshot: "Deleted snapshot",
	executor.ActionDetachVolume:   "Detached volume",
	executor.ActionWaitAvailable:  "Confirmed detached",
	executor.ActionDeleteVolume:   "Deleted volume",
	executor.ActionTerminate:      "Terminated",
}

func actionVerb(a executor.Action) string {
	if v, ok := actionVerbs[a]; ok {
		return SuccessStyle.Render(v)
	}
	return SuccessStyle.Render(string(a))
}

var actionNames = map[executor.Action]string{
	executor.ActionStop:           "stop",
	executor.ActionWaitStopped:    "wait for stop of",
	executor.ActionStart:          "start",
	executor.ActionWaitRunning:    "wait for start of",
	executor.ActionReboot:         "reboot",
	executor.ActionCreateSnapshot: "snapshot volume",
	executor.ActionDeleteSnapshot: "delete snapshot",
	executor.ActionDetachVolume:   "detach volume",
	executor.ActionWaitAvailable:  "wait for detach of",
	executor.ActionDeleteVolume:   "delete volume",
	executor.ActionTerminate:      "terminate",
}

func actionName(a executor.Action) string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return string(a)
}
