package vmware

import (
	"encoding/json"
	"fmt"
	"strings"

	"vmgate/internal/trace"
)

// previewLen bounds how much unparsable text a ParseError carries.
const previewLen = 240

// ParseError reports structured output that could not be parsed, with a
// bounded preview so logs stay readable.
type ParseError struct {
	Preview string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON array from output (first line: %s)", e.Preview)
}

// ParseRunList extracts VMX paths from `vmrun list` output: one path per
// line, surrounding quotes stripped, the "Total running VMs" header skipped.
func ParseRunList(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "total ") {
			continue
		}
		paths = append(paths, strings.Trim(line, `"`))
	}
	return paths
}

// ParseJSONStrings parses the scan scripts' ConvertTo-Json output: an empty
// result, a JSON array of strings, or (for a single hit) a bare JSON string.
// The first non-empty line is the candidate; anything else on the stream is
// console noise.
func ParseJSONStrings(output string) ([]string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	for _, line := range strings.Split(trimmed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			candidate = line
			break
		}
	}

	var list []string
	if err := json.Unmarshal([]byte(candidate), &list); err == nil {
		return list, nil
	}

	var single string
	if err := json.Unmarshal([]byte(candidate), &single); err == nil {
		return []string{single}, nil
	}

	return nil, &ParseError{Preview: trace.Truncate(candidate, previewLen)}
}
