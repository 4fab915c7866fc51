// Package report writes finished test results to disk as JSON and reads
// them back for inspection.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wesleyorama2/rampcheck/internal/performance/engine"
)

// FormatVersion is stored in every report so readers can reject documents
// they do not understand.
const FormatVersion = 1

// document is the on-disk form of a report.
type document struct {
	Version int `json:"version"`
	*engine.TestResult
}

// Encode writes result as indented JSON.
func Encode(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(document{Version: FormatVersion, TestResult: result}); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteJSON writes result to path, creating parent directories as needed.
// The file is written to a temporary name first and renamed into place so
// a failed write never leaves a truncated report behind.
func WriteJSON(result *engine.TestResult, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Encode(tmp, result); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
