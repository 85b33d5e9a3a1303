// ABOUTME: The variables-and-groups document, its normalization rules and its store
// ABOUTME: Guarantees the default group exists and every variable references a known group

package store

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ConfigDocumentName is the backend name of the variables document
const ConfigDocumentName = "config"

const (
	// DefaultGroupID is the id of the group that always exists
	DefaultGroupID = "default"

	// DefaultGroupName is the display name of the default group
	DefaultGroupName = "默认分组"
)

// Group partitions variables for display and management
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Variable is a named string value
type Variable struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	GroupID string `json:"groupId"`
}

// UnmarshalJSON accepts numbers, booleans and null for name and value, which
// hand-edited documents sometimes contain, and stores them as strings.
func (v *Variable) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    json.RawMessage `json:"name"`
		Value   json.RawMessage `json:"value"`
		GroupID json.RawMessage `json:"groupId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if v.Name, err = looseString(raw.Name); err != nil {
		return fmt.Errorf("variable name: %w", err)
	}
	if v.Value, err = looseString(raw.Value); err != nil {
		return fmt.Errorf("variable %q value: %w", v.Name, err)
	}
	if v.GroupID, err = looseString(raw.GroupID); err != nil {
		return fmt.Errorf("variable %q groupId: %w", v.Name, err)
	}
	return nil
}

func looseString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("expected a scalar, got %s", raw)
}

// Document is the persisted variables-and-groups document
type Document struct {
	Groups    []Group    `json:"groups"`
	Variables []Variable `json:"variables"`
}

// FreshDocument returns the document used on first start or after corruption:
// the default group and no variables.
func FreshDocument() Document {
	return Document{
		Groups:    []Group{{ID: DefaultGroupID, Name: DefaultGroupName}},
		Variables: []Variable{},
	}
}

// Clone returns a deep copy of d
func (d Document) Clone() Document {
	out := Document{
		Groups:    make([]Group, len(d.Groups)),
		Variables: make([]Variable, len(d.Variables)),
	}
	copy(out.Groups, d.Groups)
	copy(out.Variables, d.Variables)
	return out
}

// Normalize repairs a loaded document. Documents written before groups
// existed have no groups field; they get the default group and every variable
// is assigned to it. Variables pointing at missing groups move to default.
func (d *Document) Normalize() {
	if d.Variables == nil {
		d.Variables = []Variable{}
	}
	if d.Groups == nil {
		d.Groups = []Group{{ID: DefaultGroupID, Name: DefaultGroupName}}
		for i := range d.Variables {
			d.Variables[i].GroupID = DefaultGroupID
		}
		return
	}

	if d.GroupIndex(DefaultGroupID) < 0 {
		d.Groups = append([]Group{{ID: DefaultGroupID, Name: DefaultGroupName}}, d.Groups...)
	}
	for i := range d.Variables {
		if d.GroupIndex(d.Variables[i].GroupID) < 0 {
			d.Variables[i].GroupID = DefaultGroupID
		}
	}
}

// VariableIndex returns the position of the named variable, or -1
func (d *Document) VariableIndex(name string) int {
	for i := range d.Variables {
		if d.Variables[i].Name == name {
			return i
		}
	}
	return -1
}

// GroupIndex returns the position of the group with the given id, or -1
func (d *Document) GroupIndex(id string) int {
	if id == "" {
		return -1
	}
	for i := range d.Groups {
		if d.Groups[i].ID == id {
			return i
		}
	}
	return -1
}

// ConfigStore caches the variables-and-groups document
type ConfigStore = DocumentStore[Document]

// NewConfigStore creates the store for the variables document on backend
func NewConfigStore(backend Backend) *ConfigStore {
	return NewDocumentStore(backend, Options[Document]{
		Name:      ConfigDocumentName,
		Fresh:     FreshDocument,
		Normalize: (*Document).Normalize,
		Clone:     Document.Clone,
	})
}
