package vmware

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"unicode/utf16"
)

// decodeEncodedCommand reverses the -EncodedCommand wrapping for assertions.
func decodeEncodedCommand(t *testing.T, cmd string) string {
	t.Helper()
	const marker = "-EncodedCommand "
	idx := strings.Index(cmd, marker)
	if idx < 0 {
		t.Fatalf("command lacks -EncodedCommand: %q", cmd)
	}
	raw, err := base64.StdEncoding.DecodeString(cmd[idx+len(marker):])
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])|uint16(raw[i+1])<<8)
	}
	return string(utf16.Decode(units))
}

func TestStartScriptContainsPollLoop(t *testing.T) {
	script := Start(`C:\VMs\box\box.vmx`, "")
	ps := decodeEncodedCommand(t, script.Command)

	if !strings.Contains(ps, "vmrun") {
		t.Error("script should locate vmrun")
	}
	if !strings.Contains(ps, `start 'C:\VMs\box\box.vmx' nogui`) {
		t.Errorf("script should start the vmx headless:\n%s", ps)
	}
	if !strings.Contains(ps, "$i -lt 15") {
		t.Error("script should poll up to 15 times")
	}
	if !strings.Contains(ps, "Start-Sleep -Seconds 1") {
		t.Error("script should sleep 1s between polls")
	}
	if !strings.Contains(ps, "exit 124") {
		t.Error("script should exit 124 when the VM never appears")
	}
	if strings.Contains(ps, "-vp") {
		t.Error("no -vp argument expected without a password")
	}
	if script.Redacted != script.Command {
		t.Error("without a secret the redacted command should be identical")
	}
}

func TestStartScriptRedactsPassword(t *testing.T) {
	const secret = "hunter2'with-quote"
	script := Start(`C:\VMs\box\box.vmx`, secret)

	real := decodeEncodedCommand(t, script.Command)
	if !strings.Contains(real, "-vp 'hunter2''with-quote'") {
		t.Errorf("runnable script should carry the escaped password:\n%s", real)
	}

	redacted := decodeEncodedCommand(t, script.Redacted)
	if strings.Contains(redacted, "hunter2") {
		t.Error("redacted script leaked the password")
	}
	if !strings.Contains(redacted, RedactedMarker) {
		t.Error("redacted script should carry the redaction marker")
	}
	if strings.Contains(script.Redacted, "hunter2") {
		t.Error("redacted command line leaked the password")
	}
}

func TestStopScript(t *testing.T) {
	script := Stop(`C:\VMs\it's.vmx`, StopHard, "pw")

	if !strings.Contains(script.Command, "stop 'C:\\VMs\\it''s.vmx' hard") {
		t.Errorf("stop command malformed:\n%s", script.Command)
	}
	if !strings.Contains(script.Command, "-vp 'pw'") {
		t.Error("stop command should carry the password")
	}
	if strings.Contains(script.Redacted, "'pw'") {
		t.Error("redacted stop command leaked the password")
	}
	if !strings.Contains(script.Redacted, RedactedMarker) {
		t.Error("redacted stop command should carry the marker")
	}
}

func TestCommandFlagQuoteEscaping(t *testing.T) {
	script := ListRunning()
	if !strings.HasPrefix(script.Command, "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -Command ") {
		t.Errorf("unexpected prefix: %q", script.Command)
	}
	// The locator's inner script is quote-free; the outer wrapper adds
	// exactly one leading and trailing double quote pair.
	if strings.Count(script.Command, `""""`) != 0 {
		t.Error("list script should not need embedded quote escaping")
	}
}

func TestParseStopMode(t *testing.T) {
	tests := []struct {
		in      string
		want    StopMode
		wantErr bool
	}{
		{"", StopSoft, false},
		{"soft", StopSoft, false},
		{"HARD", StopHard, false},
		{" soft ", StopSoft, false},
		{"nuke", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStopMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseStopMode(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStopMode(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStopMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRunList(t *testing.T) {
	output := "Total running VMs: 2\r\n" +
		`"C:\VMs\one\one.vmx"` + "\r\n" +
		`C:\VMs\two\two.vmx` + "\n" +
		"\n"
	got := ParseRunList(output)
	want := []string{`C:\VMs\one\one.vmx`, `C:\VMs\two\two.vmx`}
	if len(got) != len(want) {
		t.Fatalf("got %d paths, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseRunListEmpty(t *testing.T) {
	if got := ParseRunList("Total running VMs: 0\n"); len(got) != 0 {
		t.Errorf("expected no paths, got %v", got)
	}
}

func TestParseJSONStrings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "  \n ", nil},
		{"array", `["C:\\a.vmx","C:\\b.vmx"]`, []string{`C:\a.vmx`, `C:\b.vmx`}},
		{"single string", `"C:\\a.vmx"`, []string{`C:\a.vmx`}},
		{"leading blank lines", "\n\n[\"C:\\\\a.vmx\"]\n", []string{`C:\a.vmx`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONStrings(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("item %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseJSONStringsError(t *testing.T) {
	long := strings.Repeat("garbage ", 100)
	_, err := ParseJSONStrings(long)
	if err == nil {
		t.Fatal("expected parse error")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if len(parseErr.Preview) > 240 {
		t.Errorf("preview not bounded: %d bytes", len(parseErr.Preview))
	}
}

func TestScanScriptsEmitJSON(t *testing.T) {
	for _, script := range []Script{ScanDefault(), Scan(`["C:\\VMs"]`)} {
		ps := decodeEncodedCommand(t, script.Command)
		if !strings.Contains(ps, "ConvertTo-Json -Compress") {
			t.Errorf("scan script should emit compact JSON:\n%s", ps)
		}
		if !strings.Contains(ps, "Select-Object -First 500") {
			t.Error("scan script should cap results at 500")
		}
	}
}
