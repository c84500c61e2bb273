package domain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

//go:embed states.json
var defaultStatesJSON []byte

// State is one entry of the US state lookup resource.
type State struct {
	Abbr string `json:"abbr"`
	Name string `json:"name"`
}

// StateDirectory maps two-letter abbreviations to full state names.
type StateDirectory struct {
	states []State
	byAbbr map[string]string
}

// NewStateDirectory indexes states. Abbreviations are matched case-insensitively.
func NewStateDirectory(states []State) (*StateDirectory, error) {
	if len(states) == 0 {
		return nil, errors.New("state directory is empty")
	}
	d := &StateDirectory{
		states: make([]State, 0, len(states)),
		byAbbr: make(map[string]string, len(states)),
	}
	for _, s := range states {
		abbr := strings.ToUpper(strings.TrimSpace(s.Abbr))
		name := strings.TrimSpace(s.Name)
		if abbr == "" || name == "" {
			return nil, fmt.Errorf("state directory entry %+v is incomplete", s)
		}
		if _, dup := d.byAbbr[abbr]; dup {
			return nil, fmt.Errorf("state directory has duplicate abbreviation %q", abbr)
		}
		d.byAbbr[abbr] = name
		d.states = append(d.states, State{Abbr: abbr, Name: name})
	}
	return d, nil
}

// DecodeStateDirectory reads the JSON form: [{"abbr":"AL","name":"Alabama"}, ...].
func DecodeStateDirectory(r io.Reader) (*StateDirectory, error) {
	var states []State
	if err := json.NewDecoder(r).Decode(&states); err != nil {
		return nil, fmt.Errorf("decode state directory: %w", err)
	}
	return NewStateDirectory(states)
}

// DefaultStateDirectory returns the embedded 50 states plus DC.
func DefaultStateDirectory() *StateDirectory {
	d, err := DecodeStateDirectory(bytes.NewReader(defaultStatesJSON))
	if err != nil {
		panic(fmt.Sprintf("embedded state directory: %v", err))
	}
	return d
}

// FullName resolves an abbreviation such as "AL".
func (d *StateDirectory) FullName(abbr string) (string, bool) {
	name, ok := d.byAbbr[strings.ToUpper(abbr)]
	return name, ok
}

// Names lists full names in directory order.
func (d *StateDirectory) Names() []string {
	names := make([]string, len(d.states))
	for i, s := range d.states {
		names[i] = s.Name
	}
	return names
}

// Len is the number of states in the directory.
func (d *StateDirectory) Len() int { return len(d.states) }
