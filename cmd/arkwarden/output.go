package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/loykin/arkwarden/pkg/client"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)

	// Output writers (can be overridden for testing)
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func success(format string, a ...any) {
	_, _ = fmt.Fprintf(stdout, green.Sprint("✓")+" "+format+"\n", a...)
}

func info(format string, a ...any) {
	_, _ = fmt.Fprintf(stdout, cyan.Sprint("→")+" "+format+"\n", a...)
}

func warning(format string, a ...any) {
	_, _ = fmt.Fprintf(stderr, yellow.Sprint("⚠")+" "+format+"\n", a...)
}

func keyValue(key, value string) {
	_, _ = fmt.Fprintf(stdout, "  %s: %s\n", gray.Sprint(key), value)
}

func printJSON(v any) {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// formatStep renders one diagnostic step.
func formatStep(s client.Step) string {
	mark := green.Sprint("✓")
	if s.Status != "success" {
		mark = red.Sprint("✗")
	}
	details := strings.ReplaceAll(s.Details, "\n", "\n    ")
	return fmt.Sprintf("%s %s\n    %s", mark, bold.Sprint(s.Name), details)
}

// formatEvent renders a streamed event as a single terminal line.
func formatEvent(e client.Event) string {
	prefix := ""
	if e.InstanceID != "" {
		prefix = gray.Sprintf("[%s] ", e.InstanceID)
	}
	switch e.Type {
	case client.EventLogLine:
		return prefix + e.Line
	case client.EventManagerLine:
		return prefix + yellow.Sprint(e.Line)
	case client.EventMilestone:
		return prefix + green.Sprint("server is up and advertising for join")
	case client.EventMemorySample:
		if e.MemoryMB == nil {
			return prefix + "memory sample"
		}
		return prefix + cyan.Sprintf("memory %.1f MB", *e.MemoryMB)
	case client.EventPlayerJoined, client.EventPlayerLeft:
		verb := "joined"
		if e.Type == client.EventPlayerLeft {
			verb = "left"
		}
		if e.Player == nil {
			return prefix + "player " + verb
		}
		return prefix + fmt.Sprintf("%s (%s) %s", bold.Sprint(e.Player.Name), e.Player.ID, verb)
	case client.EventProcessExited:
		code := "unknown"
		if e.ExitCode != nil {
			code = fmt.Sprint(*e.ExitCode)
		}
		return prefix + red.Sprintf("server stopped (exit code %s)", code)
	case client.EventDiagnosticStep:
		if e.Step == nil {
			return prefix + "diagnostic step"
		}
		return formatStep(*e.Step)
	case client.EventDiagnosticFinished:
		return gray.Sprintf("diagnostic %s finished", e.OperationID)
	case client.EventMaintenanceLine:
		return gray.Sprintf("[%s] ", shortOp(e.OperationID)) + e.Line
	case client.EventMaintenanceFinished:
		if e.Success != nil && *e.Success {
			return green.Sprintf("[%s] %s", shortOp(e.OperationID), e.Line)
		}
		return red.Sprintf("[%s] %s", shortOp(e.OperationID), e.Line)
	default:
		return prefix + e.Type + " " + e.Line
	}
}

func shortOp(op string) string {
	if len(op) > 8 {
		return op[:8]
	}
	return op
}
