package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/catalogsync/catalogsync/internal/core"
)

// YAMLFormatter renders reports as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatRun(run *core.SyncRun) (string, error) {
	if run == nil {
		return "", nil
	}
	return marshalYAML(run)
}

func (f *YAMLFormatter) FormatRuns(runs []*core.SyncRun) (string, error) {
	if runs == nil {
		runs = []*core.SyncRun{}
	}
	return marshalYAML(runs)
}

func marshalYAML(value any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
