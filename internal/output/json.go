package output

import (
	"encoding/json"

	"github.com/catalogsync/catalogsync/internal/core"
)

// JSONFormatter renders reports as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatRun renders a run report as JSON.
func (f *JSONFormatter) FormatRun(run *core.SyncRun) (string, error) {
	if run == nil {
		return "", nil
	}
	return f.marshal(run)
}

// FormatRuns renders a run list as a JSON array.
func (f *JSONFormatter) FormatRuns(runs []*core.SyncRun) (string, error) {
	if runs == nil {
		runs = []*core.SyncRun{}
	}
	return f.marshal(runs)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
