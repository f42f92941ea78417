package logparse

import (
	"fmt"
	"os"
	"strconv"
)

// Field names exposed by AnalyzerRecord.Fields.
const (
	FieldRuntime      = "runtime"
	FieldUnchanged    = "unchanged"
	FieldChanged      = "changed"
	FieldAdded        = "added"
	FieldRemoved      = "removed"
	FieldRaceWarnings = "race_warnings"
)

// Field names exposed by PrecisionRecord.Fields.
const (
	FieldEqual        = "equal"
	FieldMorePrecise  = "more_precise"
	FieldLessPrecise  = "less_precise"
	FieldIncomparable = "incomparable"
	FieldTotal        = "total"
)

// AnalyzerRecord is the set of metrics extracted from one analyzer log.
type AnalyzerRecord struct {
	// Runtime is the runtime exactly as printed, e.g. "12.34".
	Runtime        string
	RuntimeSeconds float64
	ChangeInfo
	RaceWarnings int
}

// ChangedFunctions is the number of changed, added and removed functions.
func (r *AnalyzerRecord) ChangedFunctions() int {
	return r.Changed + r.Added + r.Removed
}

// Fields returns the record as a name to value mapping.
func (r *AnalyzerRecord) Fields() map[string]string {
	return map[string]string{
		FieldRuntime:      r.Runtime,
		FieldUnchanged:    strconv.Itoa(r.Unchanged),
		FieldChanged:      strconv.Itoa(r.Changed),
		FieldAdded:        strconv.Itoa(r.Added),
		FieldRemoved:      strconv.Itoa(r.Removed),
		FieldRaceWarnings: strconv.Itoa(r.RaceWarnings),
	}
}

// PrecisionRecord is the comparison summary extracted from a compare log.
type PrecisionRecord struct {
	Precision
}

// Fields returns the record as a name to value mapping.
func (r *PrecisionRecord) Fields() map[string]string {
	return map[string]string{
		FieldEqual:        strconv.Itoa(r.Equal),
		FieldMorePrecise:  strconv.Itoa(r.MorePrecise),
		FieldLessPrecise:  strconv.Itoa(r.LessPrecise),
		FieldIncomparable: strconv.Itoa(r.Incomparable),
		FieldTotal:        strconv.Itoa(r.Total),
	}
}

// ParseAnalyzerLog builds an AnalyzerRecord from log text. A missing runtime
// is an error wrapping ErrRuntimeNotFound, a missing change_info line means
// all four counts are zero.
func ParseAnalyzerLog(text string) (*AnalyzerRecord, error) {
	runtime := ParseRuntime(text)

	switch runtime.Status {
	case Absent:
		return nil, ErrRuntimeNotFound
	case Malformed:
		return nil, fmt.Errorf("malformed runtime %q on line %d: %w", runtime.Value.Text, runtime.Line, runtime.Err)
	}

	rec := &AnalyzerRecord{
		Runtime:        runtime.Value.Text,
		RuntimeSeconds: runtime.Value.Seconds,
		RaceWarnings:   CountRaceWarnings(text),
	}

	changes := ParseChangeInfo(text)

	switch changes.Status {
	case Found:
		rec.ChangeInfo = changes.Value
	case Malformed:
		return nil, fmt.Errorf("malformed change_info on line %d: %w", changes.Line, changes.Err)
	}

	return rec, nil
}

// ExtractAnalyzerLog reads the analyzer log at path and parses it.
func ExtractAnalyzerLog(path string) (*AnalyzerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading analyzer log: %w", err)
	}

	rec, err := ParseAnalyzerLog(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return rec, nil
}

// ExtractPrecision reads a compare log. It returns nil and no error when the
// log carries no comparison summary.
func ExtractPrecision(path string) (*PrecisionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compare log: %w", err)
	}

	res := ParsePrecision(string(data))

	switch res.Status {
	case Absent:
		return nil, nil
	case Malformed:
		return nil, fmt.Errorf("%s: malformed precision summary on line %d: %w", path, res.Line, res.Err)
	}

	return &PrecisionRecord{Precision: res.Value}, nil
}
