// Package output provides formatted terminal output for vmgate commands.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"vmgate/internal/config"
	"vmgate/internal/ops"
	"vmgate/internal/trace"
	"vmgate/pkg/hostfacts"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// Result prints the outcome line for one remote operation.
func (o *Output) Result(action string, ok bool, duration time.Duration) {
	indicator := o.color(colorGreen, "✓")
	if !ok {
		indicator = o.color(colorRed, "✗")
	}
	o.printf("%s %s %s\n", indicator, action,
		o.color(colorGray, fmt.Sprintf("(%.2fs)", duration.Seconds())))
}

// CommandOutput prints raw remote output, indented so it reads as a block.
func (o *Output) CommandOutput(text string) {
	text = strings.TrimRight(text, "\r\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		o.printf("  %s\n", strings.TrimRight(line, "\r"))
	}
}

// VMList prints known VMs with their run state.
// Format: [indicator] vmx path
func (o *Output) VMList(statuses []ops.VMStatus) {
	if len(statuses) == 0 {
		o.printf("%s\n", o.color(colorGray, "no VMs"))
		return
	}
	for _, s := range statuses {
		indicator := o.color(colorCyan, "○")
		state := o.color(colorGray, "stopped")
		if s.Running {
			indicator = o.color(colorGreen, "●")
			state = o.color(colorGreen, "running")
		}
		o.printf("  %s %s %s\n", indicator, s.VMX, state)
	}
}

// Paths prints one path per line.
func (o *Output) Paths(paths []string) {
	if len(paths) == 0 {
		o.printf("%s\n", o.color(colorGray, "none found"))
		return
	}
	for _, p := range paths {
		o.printf("  %s\n", p)
	}
}

// TraceTable prints the audit trail, newest first. Debug mode adds the
// recorded command and output under each row.
func (o *Output) TraceTable(entries []trace.Entry) {
	if len(entries) == 0 {
		o.printf("%s\n", o.color(colorGray, "trace is empty"))
		return
	}
	o.printf("%s\n", o.color(colorBold,
		fmt.Sprintf("%-5s %-19s %-10s %-4s %8s  %s", "ID", "TIME", "ACTION", "OK", "MS", "REQUEST")))
	for _, e := range entries {
		okText := o.color(colorGreen, "ok")
		if !e.OK {
			okText = o.color(colorRed, "no")
		}
		at := time.UnixMilli(e.At).Format("2006-01-02 15:04:05")
		o.printf("%-5d %-19s %-10s %-4s %8d  %s\n",
			e.ID, at, e.Action, okText, e.DurationMs, e.RequestID)
		if e.Error != "" {
			o.printf("      %s %s\n", o.color(colorRed, "error:"), e.Error)
		}
		if o.debug {
			if e.Command != "" {
				o.printf("      %s %s\n", o.color(colorGray, "cmd:"), e.Command)
			}
			if e.Output != "" {
				for _, line := range strings.Split(strings.TrimSpace(e.Output), "\n") {
					o.printf("        %s\n", line)
				}
			}
		}
	}
}

// Targets prints configured targets with their connection endpoints.
func (o *Output) Targets(targets []*config.Target) {
	if len(targets) == 0 {
		o.printf("%s\n", o.color(colorGray, "no targets"))
		return
	}
	for _, t := range targets {
		vms := ""
		if len(t.VMs) > 0 {
			vms = fmt.Sprintf(" (%d VMs)", len(t.VMs))
		}
		endpoint := fmt.Sprintf("%s@%s:%d%s", t.User, t.Host, t.GetPort(), vms)
		o.printf("  %-12s %s\n", t.Name, o.color(colorGray, endpoint))
	}
}

// HostFacts prints the gathered host facts as aligned key: value lines.
func (o *Output) HostFacts(f hostfacts.Facts) {
	rows := []struct{ label, value string }{
		{"hostname", f.Hostname},
		{"os", strings.TrimSpace(f.OSCaption + " " + f.OSVersion)},
		{"code page", f.CodePage},
		{"vmrun", f.VmrunPath},
		{"vmrun version", f.VmrunVersion},
	}
	for _, r := range rows {
		value := r.value
		if value == "" {
			value = o.color(colorGray, "unknown")
		}
		o.printf("  %-14s %s\n", r.label+":", value)
	}
}

// Section prints a section header.
func (o *Output) Section(name string) {
	o.printf("\n%s\n", o.color(colorBold, name))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
