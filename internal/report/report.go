// Package report collects branches that could not be merged, grouped by
// committer and failure subject.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"shipit.dev/shipit/internal/branchlist"
)

// DefaultFile is where structured reports are written
const DefaultFile = "failed_report.json"

// Well-known failure subjects
const (
	SubjectConflictedWithMaster = "Conflicted with master"
	SubjectDelayedDrop          = "In master - will be dropped next deploy"
)

// SubjectConflictedWith returns the subject for branches conflicting with a target
func SubjectConflictedWith(target string) string {
	return "Conflicted with " + target
}

// Format selects the structured encoding of a report file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a report format name
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown report format %q (must be json or yaml)", name)
}

// Entry is a single failed branch
type Entry struct {
	Branch   string `json:"branch" yaml:"branch"`
	CommitID string `json:"commit_id" yaml:"commit_id"`
	Reason   string `json:"reason" yaml:"reason"`
}

type subjectEntries struct {
	subject string
	entries []Entry
}

type committerEntries struct {
	committer string
	subjects  []*subjectEntries
}

// Report groups failures by committer and subject, keeping insertion order for
// text output
type Report struct {
	committers []*committerEntries
}

// New creates an empty report
func New() *Report {
	return &Report{}
}

// Collect records branches under a subject. Identical entries are only kept once.
func (r *Report) Collect(branches branchlist.List, subject string) {
	for _, b := range branches {
		group := r.subject(r.committer(b.Committer), subject)
		entry := Entry{Branch: b.Name, CommitID: b.CommitID, Reason: b.Reason}
		if !containsEntry(group.entries, entry) {
			group.entries = append(group.entries, entry)
		}
	}
}

// Empty reports whether nothing has been collected
func (r *Report) Empty() bool {
	return len(r.committers) == 0
}

// Document returns the structured form: committer -> subject -> entries
func (r *Report) Document() map[string]map[string][]Entry {
	doc := make(map[string]map[string][]Entry, len(r.committers))
	for _, c := range r.committers {
		subjects := make(map[string][]Entry, len(c.subjects))
		for _, s := range c.subjects {
			subjects[s.subject] = append([]Entry(nil), s.entries...)
		}
		doc[c.committer] = subjects
	}
	return doc
}

// Lines formats the report as grouped text lines
func (r *Report) Lines() []string {
	var lines []string
	for _, c := range r.committers {
		for _, s := range c.subjects {
			lines = append(lines, fmt.Sprintf("%s - %s", c.committer, s.subject))
			for _, e := range s.entries {
				lines = append(lines, fmt.Sprintf("- %s(%s): %s", e.Branch, e.CommitID, e.Reason))
			}
		}
	}
	return lines
}

// WriteFile writes the structured report to path. An empty report removes
// any previous file, so the presence of the file signals an unresolved run.
func (r *Report) WriteFile(path string, format Format) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove old report: %w", err)
	}
	if r.Empty() {
		return nil
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(r.Document())
	default:
		data, err = json.Marshal(r.Document())
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadFile reads a report written by WriteFile
func ReadFile(path string, format Format) (map[string]map[string][]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]map[string][]Entry)
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return doc, nil
}

func (r *Report) committer(name string) *committerEntries {
	for _, c := range r.committers {
		if c.committer == name {
			return c
		}
	}
	c := &committerEntries{committer: name}
	r.committers = append(r.committers, c)
	return c
}

func (r *Report) subject(c *committerEntries, subject string) *subjectEntries {
	for _, s := range c.subjects {
		if s.subject == subject {
			return s
		}
	}
	s := &subjectEntries{subject: subject}
	c.subjects = append(c.subjects, s)
	return s
}

func containsEntry(entries []Entry, entry Entry) bool {
	for _, e := range entries {
		if e == entry {
			return true
		}
	}
	return false
}
