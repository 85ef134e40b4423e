package score

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Artifact file names written into the scanned root.
const (
	ReportFile     = "task_analysis.json"
	ReferencesFile = "reference_scores.json"
)

// TitleScore is one reference_scores.json entry. The task, score and
// reasoning keys match the reference input format, so a previous run's
// file can seed the next one.
type TitleScore struct {
	File           string `json:"file"`
	Task           string `json:"task"`
	Type           string `json:"type"`
	Score          int    `json:"score"`
	Reasoning      string `json:"reasoning,omitempty"`
	SuggestedTitle string `json:"suggested_title,omitempty"`
	AccessTag      string `json:"access_tag,omitempty"`
	Source         string `json:"source,omitempty"`
}

// SortTitleScores orders entries by file, then task title.
func SortTitleScores(s []TitleScore) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].File != s[j].File {
			return s[i].File < s[j].File
		}
		return s[i].Task < s[j].Task
	})
}

// WriteReport writes r as indented JSON.
func WriteReport(fsys afero.Fs, path string, r *Report) error {
	return writeJSON(fsys, path, r)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(fsys afero.Fs, path string) (*Report, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}

// WriteTitleScores writes the reference_scores.json artifact.
func WriteTitleScores(fsys afero.Fs, path string, scores []TitleScore) error {
	if scores == nil {
		scores = []TitleScore{}
	}
	return writeJSON(fsys, path, scores)
}

func writeJSON(fsys afero.Fs, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
