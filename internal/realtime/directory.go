package realtime

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"pm-assistant/internal/protocol"
)

const defaultSearchLimit = 10

// Directory is the in-memory set of mentionable employees, tasks and
// projects the stub server searches.
type Directory struct {
	mu      sync.RWMutex
	entries []protocol.SearchResult
}

type directoryFile struct {
	Employees []directoryEntry `yaml:"employees"`
	Tasks     []directoryEntry `yaml:"tasks"`
	Projects  []directoryEntry `yaml:"projects"`
}

type directoryEntry struct {
	ID    interface{}            `yaml:"id"`
	Name  string                 `yaml:"name"`
	Extra map[string]interface{} `yaml:",inline"`
}

// NewDirectory creates a directory holding entries.
func NewDirectory(entries []protocol.SearchResult) *Directory {
	d := &Directory{}
	d.Replace(entries)
	return d
}

// DefaultDirectory returns a small built-in directory.
func DefaultDirectory() *Directory {
	return NewDirectory([]protocol.SearchResult{
		mustResult(protocol.ResultEmployee, 1, "Alice Martin", map[string]interface{}{"email": "alice@example.com"}),
		mustResult(protocol.ResultEmployee, 2, "Alan Brooks", map[string]interface{}{"email": "alan@example.com"}),
		mustResult(protocol.ResultEmployee, 3, "Beatriz Souza", map[string]interface{}{"email": "bea@example.com"}),
		mustResult(protocol.ResultTask, 101, "Write release notes", map[string]interface{}{"status": "open"}),
		mustResult(protocol.ResultTask, 102, "Fix login timeout", map[string]interface{}{"status": "in_progress"}),
		mustResult(protocol.ResultProject, "p-1", "Website relaunch", nil),
		mustResult(protocol.ResultProject, "p-2", "Annual planning", nil),
	})
}

// LoadDirectory reads a YAML (or JSON) file with employees, tasks and
// projects lists.
func LoadDirectory(path string) ([]protocol.SearchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}

	var out []protocol.SearchResult
	for _, group := range []struct {
		kind    string
		entries []directoryEntry
	}{
		{protocol.ResultEmployee, f.Employees},
		{protocol.ResultTask, f.Tasks},
		{protocol.ResultProject, f.Projects},
	} {
		for i, e := range group.entries {
			if e.Name == "" {
				return nil, fmt.Errorf("parse directory %s: %s #%d has no name", path, group.kind, i+1)
			}
			r, err := newResult(group.kind, e.ID, e.Name, e.Extra)
			if err != nil {
				return nil, fmt.Errorf("parse directory %s: %w", path, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// Reload replaces the entries with the contents of path. On error the
// current entries are kept.
func (d *Directory) Reload(path string) error {
	entries, err := LoadDirectory(path)
	if err != nil {
		return err
	}
	d.Replace(entries)
	return nil
}

// Replace swaps the entries.
func (d *Directory) Replace(entries []protocol.SearchResult) {
	cp := append([]protocol.SearchResult(nil), entries...)
	d.mu.Lock()
	d.entries = cp
	d.mu.Unlock()
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Search returns up to limit entries whose name contains term, ignoring
// case. Names starting with the term sort first. An empty term matches
// everything.
func (d *Directory) Search(term string, limit int) []protocol.SearchResult {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	needle := strings.ToLower(strings.TrimSpace(term))

	d.mu.RLock()
	var prefix, inner []protocol.SearchResult
	for _, e := range d.entries {
		name := strings.ToLower(e.Name)
		switch {
		case needle == "" || strings.HasPrefix(name, needle):
			prefix = append(prefix, e)
		case strings.Contains(name, needle):
			inner = append(inner, e)
		}
	}
	d.mu.RUnlock()

	sort.SliceStable(prefix, func(i, j int) bool { return prefix[i].Name < prefix[j].Name })
	sort.SliceStable(inner, func(i, j int) bool { return inner[i].Name < inner[j].Name })

	out := append(prefix, inner...)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []protocol.SearchResult{}
	}
	return out
}

func newResult(kind string, id interface{}, name string, extra map[string]interface{}) (protocol.SearchResult, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return protocol.SearchResult{}, fmt.Errorf("%s %q: id: %w", kind, name, err)
	}
	r := protocol.SearchResult{Type: kind, ID: rawID, Name: name}
	for k, v := range extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return protocol.SearchResult{}, fmt.Errorf("%s %q: field %s: %w", kind, name, k, err)
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage, len(extra))
		}
		r.Extra[k] = raw
	}
	return r, nil
}

func mustResult(kind string, id interface{}, name string, extra map[string]interface{}) protocol.SearchResult {
	r, err := newResult(kind, id, name, extra)
	if err != nil {
		panic(err)
	}
	return r
}
