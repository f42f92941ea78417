// Package logparse extracts benchmark metrics from analyzer and compare logs.
//
// Each field has its own parser returning a Result that tells apart a value
// that was found, a line that was absent, and a line that matched but could
// not be converted. Callers decide per field whether absence is fatal.
package logparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrRuntimeNotFound is returned when an analyzer log has no TOTAL line.
var ErrRuntimeNotFound = errors.New("runtime not found in analyzer log")

// RaceWarningMarker is the literal tag the analyzer prints for each race warning.
const RaceWarningMarker = "[Warning][Race]"

// Status tags the outcome of a single field parser.
type Status int

const (
	// Absent means no line matched the field's pattern.
	Absent Status = iota
	// Found means a line matched and its captures were converted.
	Found
	// Malformed means a line matched but a capture could not be converted.
	Malformed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Found:
		return "found"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of parsing one field from a log.
type Result[T any] struct {
	Status Status
	Value  T
	// Line is the 1-based line number of the match, 0 when absent.
	Line int
	// Raw is the full matched text.
	Raw string
	// Err describes why a matched line was malformed.
	Err error
}

// Runtime is the total analyzer runtime as printed and as seconds.
type Runtime struct {
	Text    string
	Seconds float64
}

// ChangeInfo holds the incremental analysis function counts.
type ChangeInfo struct {
	Unchanged int
	Changed   int
	Added     int
	Removed   int
}

// Precision holds the outcome counts of a run comparison.
type Precision struct {
	Equal        int
	MorePrecise  int
	LessPrecise  int
	Incomparable int
	Total        int
}

var (
	runtimePattern    = regexp.MustCompile(`TOTAL[ ]+([0-9.]+) s`)
	changeInfoPattern = regexp.MustCompile(
		`change_info = \{ unchanged = ([0-9]*); changed = ([0-9]*); added = ([0-9]*); removed = ([0-9]*) \}`)
	precisionPattern = regexp.MustCompile(
		`equal: ([0-9]+), more precise: ([0-9]+), less precise: ([0-9]+), incomparable: ([0-9]+), total: ([0-9]+)`)
)

// firstMatch scans text line by line and returns the submatches of the first
// line matching re together with its 1-based line number.
func firstMatch(re *regexp.Regexp, text string) ([]string, int) {
	lineNo := 0

	for len(text) > 0 {
		lineNo++

		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = ""
		}

		if m := re.FindStringSubmatch(line); m != nil {
			return m, lineNo
		}
	}

	return nil, 0
}

// ParseRuntime finds the first TOTAL line.
func ParseRuntime(text string) Result[Runtime] {
	m, line := firstMatch(runtimePattern, text)
	if m == nil {
		return Result[Runtime]{Status: Absent}
	}

	res := Result[Runtime]{Line: line, Raw: m[0], Value: Runtime{Text: m[1]}}

	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		res.Status = Malformed
		res.Err = err

		return res
	}

	res.Status = Found
	res.Value.Seconds = seconds

	return res
}

// ParseChangeInfo finds the first change_info line.
func ParseChangeInfo(text string) Result[ChangeInfo] {
	m, line := firstMatch(changeInfoPattern, text)
	if m == nil {
		return Result[ChangeInfo]{Status: Absent}
	}

	res := Result[ChangeInfo]{Line: line, Raw: m[0]}

	counts, err := atoiAll(m[1:])
	if err != nil {
		res.Status = Malformed
		res.Err = err

		return res
	}

	res.Status = Found
	res.Value = ChangeInfo{
		Unchanged: counts[0],
		Changed:   counts[1],
		Added:     counts[2],
		Removed:   counts[3],
	}

	return res
}

// ParsePrecision finds the first comparison summary line.
func ParsePrecision(text string) Result[Precision] {
	m, line := firstMatch(precisionPattern, text)
	if m == nil {
		return Result[Precision]{Status: Absent}
	}

	res := Result[Precision]{Line: line, Raw: m[0]}

	counts, err := atoiAll(m[1:])
	if err != nil {
		res.Status = Malformed
		res.Err = err

		return res
	}

	res.Status = Found
	res.Value = Precision{
		Equal:        counts[0],
		MorePrecise:  counts[1],
		LessPrecise:  counts[2],
		Incomparable: counts[3],
		Total:        counts[4],
	}

	return res
}

// CountRaceWarnings counts race warning markers across the whole text.
func CountRaceWarnings(text string) int {
	return strings.Count(text, RaceWarningMarker)
}

func atoiAll(values []string) ([]int, error) {
	out := make([]int, len(values))

	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}

		out[i] = n
	}

	return out, nil
}
