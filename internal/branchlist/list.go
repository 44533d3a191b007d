package branchlist

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
)

// List is an ordered collection of branch records
type List []Branch

// Names returns the branch names in order
func (l List) Names() []string {
	names := make([]string, len(l))
	for i, b := range l {
		names[i] = b.Name
	}
	return names
}

// NameSet returns the set of branch names in the list
func (l List) NameSet() map[string]bool {
	set := make(map[string]bool, len(l))
	for _, b := range l {
		set[b.Name] = true
	}
	return set
}

// Contains reports whether a record with the same name and commit is present
func (l List) Contains(b Branch) bool {
	for _, existing := range l {
		if existing.Same(b) {
			return true
		}
	}
	return false
}

// Find returns the first record with the given name
func (l List) Find(name string) (Branch, bool) {
	for _, b := range l {
		if b.Name == name {
			return b, true
		}
	}
	return Branch{}, false
}

// Dedup drops repeated (name, commit) pairs, keeping the first occurrence
func (l List) Dedup() List {
	result := make(List, 0, len(l))
	for _, b := range l {
		if !result.Contains(b) {
			result = append(result, b)
		}
	}
	return result
}

// Without returns the records that are not present in other
func (l List) Without(other List) List {
	result := make(List, 0, len(l))
	for _, b := range l {
		if !other.Contains(b) {
			result = append(result, b)
		}
	}
	return result
}

// WithoutNames returns the records whose name is not in names
func (l List) WithoutNames(names map[string]bool) List {
	result := make(List, 0, len(l))
	for _, b := range l {
		if !names[b.Name] {
			result = append(result, b)
		}
	}
	return result
}

// Equal compares two lists by identity and order
func (l List) Equal(other List) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if !l[i].Same(other[i]) || l[i].Committer != other[i].Committer {
			return false
		}
	}
	return true
}

// IsAll reports whether the list is the "remove everything" request
func (l List) IsAll() bool {
	return len(l) == 1 && l[0].Name == AllMarker && l[0].CommitID == ""
}

// Clone returns a copy that can be modified independently
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	result := make(List, len(l))
	copy(result, l)
	return result
}

// Parse decodes a CSV branch list. Duplicate records are dropped.
func Parse(data []byte) (List, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse branch list: %w", err)
	}

	list := make(List, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		list = append(list, fromRow(row))
	}
	return list.Dedup(), nil
}

// Encode serializes a branch list as CSV. Duplicate records are dropped.
func Encode(l List) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	for _, b := range l.Dedup() {
		if err := writer.Write(b.Row()); err != nil {
			return nil, fmt.Errorf("failed to encode branch %s: %w", b.Name, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode branch list: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadFile reads a branch list file. A missing file is an empty list.
func ReadFile(path string) (List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return List{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// WriteFile writes a branch list file, replacing any previous content
func WriteFile(path string, l List) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
