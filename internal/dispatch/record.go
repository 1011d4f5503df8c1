package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RecordTimeLayout is the timestamp layout in run record headings.
const RecordTimeLayout = "2006-01-02 15:04"

var recordHeading = regexp.MustCompile(`(?m)^> \[!quote\] (.+) — Report (\d+) at (\d{4}-\d{2}-\d{2} \d{2}:\d{2})\r?$`)

// Record is a run record heading found in a job body.
type Record struct {
	Name      string `json:"name"`
	Iteration int    `json:"iteration"`
	At        string `json:"at"`
}

// Records lists the run record headings in body, oldest first.
func Records(body string) []Record {
	matches := recordHeading.FindAllStringSubmatch(body, -1)
	out := make([]Record, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, Record{Name: m[1], Iteration: n, At: m[3]})
	}
	return out
}

// runRecord renders one attempt as a quote callout appended to the body.
func runRecord(name string, iteration int, at time.Time, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n> [!quote] %s — Report %d at %s\n", name, iteration, at.Format(RecordTimeLayout))
	b.WriteString(quote(content))
	b.WriteByte('\n')
	return b.String()
}

// workingMarker is the transient callout shown while the worker runs.
func workingMarker(name string, iteration int, at time.Time) string {
	return fmt.Sprintf("\n\n> [!info] %s — Working on report %d...\n> Started at %s\n", name, iteration, at.Format(RecordTimeLayout))
}

// quote prefixes every line with "> ", rendering empty lines as ">".
func quote(content string) string {
	lines := splitLines(content)
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}

// splitLines splits on line endings. A trailing line ending does not produce
// an extra empty line, and empty content has no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
