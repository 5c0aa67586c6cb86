// Package vmware generates the PowerShell invocations that drive vmrun on
// the remote Workstation host, and parses vmrun's output.
package vmware

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf16"
)

// RedactedMarker replaces password literals in the audit copy of a script.
const RedactedMarker = "<redacted>"

// StartPollAttempts and StartPollExitCode govern the post-start liveness
// poll embedded in the start script: up to 15 one-second checks of the
// running-VM list, exiting 124 if the VM never shows up.
const (
	StartPollAttempts = 15
	StartPollExitCode = 124
)

// StopMode selects vmrun's stop semantics.
type StopMode string

const (
	StopSoft StopMode = "soft"
	StopHard StopMode = "hard"
)

// ParseStopMode validates a user-supplied stop mode, defaulting to soft.
func ParseStopMode(s string) (StopMode, error) {
	switch StopMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", StopSoft:
		return StopSoft, nil
	case StopHard:
		return StopHard, nil
	default:
		return "", fmt.Errorf("invalid stop mode %q (want soft or hard)", s)
	}
}

// Script pairs the runnable command line with an audit-safe twin. The twin
// is built from its own script text with the redaction marker in place of
// the password; secrets are never scrubbed out of an existing string.
type Script struct {
	Command  string
	Redacted string
}

// locatorPS resolves vmrun.exe from the two stock Workstation install paths
// and throws if neither exists.
func locatorPS() string {
	return `$paths=@('C:\Program Files (x86)\VMware\VMware Workstation\vmrun.exe','C:\Program Files\VMware\VMware Workstation\vmrun.exe');$vmrun=$paths|Where-Object{Test-Path -LiteralPath $_}|Select-Object -First 1;if(-not $vmrun){throw 'vmrun.exe not found (check VMware Workstation install path)'}`
}

// quotePS escapes a string for a single-quoted PowerShell literal.
func quotePS(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// commandFlag wraps an inline script for `powershell -Command "..."`.
// Embedded double quotes have to survive both cmd.exe and PowerShell
// argument parsing, hence the quadrupling.
func commandFlag(ps string) string {
	return fmt.Sprintf(`powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -Command "%s"`,
		strings.ReplaceAll(ps, `"`, `""""`))
}

// encodedCommand wraps a multi-line script as base64 UTF-16LE for
// `powershell -EncodedCommand`, which sidesteps all quoting.
func encodedCommand(script string) string {
	trimmed := strings.TrimSpace(script)
	units := utf16.Encode([]rune(trimmed))
	raw := make([]byte, 0, len(units)*2)
	for _, u := range units {
		raw = append(raw, byte(u), byte(u>>8))
	}
	return "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -EncodedCommand " +
		base64.StdEncoding.EncodeToString(raw)
}

// vpFlag renders the -vp password argument, empty when no password applies.
func vpFlag(password string) string {
	if password == "" {
		return ""
	}
	return fmt.Sprintf("-vp '%s' ", quotePS(password))
}

// Encoded wraps an arbitrary secret-free PowerShell script for execution.
func Encoded(ps string) Script {
	cmd := encodedCommand(ps)
	return Script{Command: cmd, Redacted: cmd}
}

// ListRunning builds the command that lists running VMX paths.
func ListRunning() Script {
	ps := fmt.Sprintf(
		`& { %s ; $out = & $vmrun -T ws list 2>&1; if ($LASTEXITCODE -ne 0) { exit $LASTEXITCODE }; $out }`,
		locatorPS())
	cmd := commandFlag(ps)
	return Script{Command: cmd, Redacted: cmd}
}

// Start builds the command that starts a VM headless and then polls the
// running list until the VM appears, or fails with StartPollExitCode. An
// empty password omits the -vp argument.
func Start(vmxPath, password string) Script {
	return Script{
		Command:  encodedCommand(startPS(vmxPath, password)),
		Redacted: encodedCommand(startPS(vmxPath, redactionFor(password))),
	}
}

func redactionFor(password string) string {
	if password == "" {
		return ""
	}
	return RedactedMarker
}

func startPS(vmxPath, password string) string {
	vmx := quotePS(vmxPath)
	return fmt.Sprintf(`
%s
$out = & $vmrun -T ws %sstart '%s' nogui 2>&1
if ($LASTEXITCODE -ne 0) { $out; exit $LASTEXITCODE }
$up = $false
for ($i = 0; $i -lt %d; $i++) {
  $list = & $vmrun -T ws list 2>&1
  if ($LASTEXITCODE -eq 0 -and ($list | Where-Object { $_.Trim().Trim('"') -ieq '%s' })) { $up = $true; break }
  Start-Sleep -Seconds 1
}
if (-not $up) { exit %d }
$out
`, locatorPS(), vpFlag(password), vmx, StartPollAttempts, vmx, StartPollExitCode)
}

// Stop builds the command that stops a VM. An empty password omits the -vp
// argument.
func Stop(vmxPath string, mode StopMode, password string) Script {
	build := func(pw string) string {
		ps := fmt.Sprintf(
			`& { %s ; $out = & $vmrun -T ws %sstop '%s' %s 2>&1; if ($LASTEXITCODE -ne 0) { exit $LASTEXITCODE }; $out }`,
			locatorPS(), vpFlag(pw), quotePS(vmxPath), mode)
		return commandFlag(ps)
	}
	return Script{
		Command:  build(password),
		Redacted: build(redactionFor(password)),
	}
}

// ScanDefault builds the command that discovers .vmx files under the stock
// Workstation VM directories, capped at 500 results, emitted as JSON.
func ScanDefault() Script {
	ps := `
$ProgressPreference = 'SilentlyContinue'
$roots=@()
if($env:USERPROFILE){ $roots += (Join-Path $env:USERPROFILE 'Documents\Virtual Machines') }
if($env:PUBLIC){ $roots += (Join-Path $env:PUBLIC 'Documents\Shared Virtual Machines') }
$roots = $roots | Where-Object { $_ -and (Test-Path -LiteralPath $_) } | Select-Object -Unique

$paths=@()
foreach($root in $roots){
  $paths += Get-ChildItem -LiteralPath $root -Recurse -File -Filter *.vmx -ErrorAction SilentlyContinue |
    Where-Object { $_.Extension -ieq '.vmx' } |
    Select-Object -ExpandProperty FullName
}

$paths = $paths | Sort-Object -Unique | Select-Object -First 500
@($paths) | ConvertTo-Json -Compress
`
	cmd := encodedCommand(ps)
	return Script{Command: cmd, Redacted: cmd}
}

// Scan builds the command that discovers .vmx files under caller-supplied
// roots (environment variables in the roots are expanded remotely).
func Scan(rootsJSON string) Script {
	ps := fmt.Sprintf(`
$ProgressPreference = 'SilentlyContinue'
$inputRoots = '%s' | ConvertFrom-Json
$roots=@()
foreach($r in $inputRoots){
  if(-not $r){ continue }
  $roots += [string]$r
}
$roots = $roots | Select-Object -Unique

$expanded=@()
foreach($root in $roots){
  $resolved = $ExecutionContext.InvokeCommand.ExpandString($root)
  if($resolved -and (Test-Path -LiteralPath $resolved)){
    $expanded += $resolved
  }
}
$expanded = $expanded | Select-Object -Unique

$paths=@()
foreach($root in $expanded){
  $paths += Get-ChildItem -LiteralPath $root -Recurse -File -Filter *.vmx -ErrorAction SilentlyContinue |
    Where-Object { $_.Extension -ieq '.vmx' } |
    Select-Object -ExpandProperty FullName
}

$paths = $paths | Sort-Object -Unique | Select-Object -First 500
@($paths) | ConvertTo-Json -Compress
`, quotePS(rootsJSON))
	cmd := encodedCommand(ps)
	return Script{Command: cmd, Redacted: cmd}
}
