package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`

	// Scenarios names every scenario run, in order. Unloadable files are
	// named by their base name.
	Scenarios []string          `json:"scenarios"`
	Failures  []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure names a failed scenario and why.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// OK reports whether every scenario passed.
func (r *SuiteResult) OK() bool {
	return r.Failed == 0
}

// FindScenarios returns the .yaml and .yml files directly under dir,
// sorted by name. A file path is returned as the only entry.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunAll loads and runs every scenario under path. Load and execution
// failures count as scenario failures; the error is set only when path
// cannot be read.
func RunAll(path string) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}
	return RunFiles(files), nil
}

// RunFiles runs the given scenario files in order.
func RunFiles(files []string) *SuiteResult {
	res := &SuiteResult{}
	for _, file := range files {
		res.Total++

		scenario, err := LoadScenario(file)
		if err != nil {
			res.Scenarios = append(res.Scenarios, filepath.Base(file))
			res.fail(filepath.Base(file), file, []string{err.Error()})
			continue
		}
		res.Scenarios = append(res.Scenarios, scenario.Name)
		out, err := Run(scenario)
		if err != nil {
			res.fail(scenario.Name, file, []string{err.Error()})
			continue
		}
		if !out.Pass {
			res.fail(scenario.Name, file, out.Errors)
			continue
		}
		res.Passed++
	}
	return res
}

func (r *SuiteResult) fail(name, path string, errs []string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
}
