// Package hostfacts gathers basic facts about the remote Windows host:
// identity, OS version, console code page and the installed vmrun, emitted
// by one PowerShell script as key=value lines.
package hostfacts

import (
	"strings"
)

// Facts describes the remote host. Fields the script could not determine
// stay empty.
type Facts struct {
	Hostname     string
	OSCaption    string
	OSVersion    string
	CodePage     string
	VmrunPath    string
	VmrunVersion string
}

// Script returns the PowerShell text that emits the facts as key=value
// lines. Errors on individual probes are swallowed so partial facts still
// come back.
func Script() string {
	return `
$ErrorActionPreference = 'SilentlyContinue'
"hostname=$env:COMPUTERNAME"
$os = Get-CimInstance Win32_OperatingSystem
if ($os) {
  "os_caption=$($os.Caption)"
  "os_version=$($os.Version)"
}
$cp = (chcp) -replace '[^0-9]', ''
"code_page=$cp"
$paths=@('C:\Program Files (x86)\VMware\VMware Workstation\vmrun.exe','C:\Program Files\VMware\VMware Workstation\vmrun.exe')
$vmrun=$paths|Where-Object{Test-Path -LiteralPath $_}|Select-Object -First 1
if ($vmrun) {
  "vmrun_path=$vmrun"
  $ver = (& $vmrun 2>&1 | Select-Object -First 1)
  "vmrun_version=$ver"
}
`
}

// Parse turns key=value lines into Facts. Unknown keys and malformed lines
// are ignored.
func Parse(output string) Facts {
	var f Facts
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "hostname":
			f.Hostname = value
		case "os_caption":
			f.OSCaption = value
		case "os_version":
			f.OSVersion = value
		case "code_page":
			f.CodePage = value
		case "vmrun_path":
			f.VmrunPath = value
		case "vmrun_version":
			f.VmrunVersion = value
		}
	}
	return f
}
