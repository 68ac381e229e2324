package portab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"portab/internal/model"
)

// Snapshot is the raw shape of live browser state handed over by whatever
// enumerated it. Field names follow the browser extension APIs so a dump of
// windows.getAll({populate:true}) and tabGroups.query({}) decodes as is.
// Nothing in a Snapshot is trusted; Build filters and normalizes it.
type Snapshot struct {
	Windows []RawWindow `json:"windows" yaml:"windows"`
	Groups  []RawGroup  `json:"groups" yaml:"groups"`
}

type RawWindow struct {
	ID        int      `json:"id" yaml:"id"`
	Focused   bool     `json:"focused" yaml:"focused"`
	Incognito bool     `json:"incognito" yaml:"incognito"`
	Tabs      []RawTab `json:"tabs" yaml:"tabs"`
}

type RawTab struct {
	ID         int      `json:"id" yaml:"id"`
	URL        string   `json:"url" yaml:"url"`
	Title      string   `json:"title" yaml:"title"`
	Pinned     bool     `json:"pinned" yaml:"pinned"`
	FavIconURL string   `json:"favIconUrl" yaml:"favIconUrl"`
	GroupID    GroupRef `json:"groupId" yaml:"groupId"`
}

type RawGroup struct {
	ID    GroupRef `json:"id" yaml:"id"`
	Title string   `json:"title" yaml:"title"`
	Color string   `json:"color" yaml:"color"`
}

// GroupRef is a group id that producers write either as a number or as a
// string. The empty ref means "no group"; browsers spell that -1.
type GroupRef string

// NoGroup is the absent group reference.
const NoGroup GroupRef = ""

func normalizeGroupRef(s string) GroupRef {
	s = strings.TrimSpace(s)
	if s == "-1" {
		return NoGroup
	}
	return GroupRef(s)
}

func (g *GroupRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*g = NoGroup
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = normalizeGroupRef(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("group id must be a number or a string: %w", err)
		}
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return fmt.Errorf("group id %s is not an integer", n)
		}
		*g = normalizeGroupRef(n.String())
	}
	return nil
}

func (g *GroupRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: group id must be a scalar", value.Line)
	}
	if value.Tag == "!!null" {
		*g = NoGroup
		return nil
	}
	*g = normalizeGroupRef(value.Value)
	return nil
}

// DecodeSnapshot reads a Snapshot from JSON or YAML. A bare JSON array is
// taken as the window list. Decoding problems are model.ErrValidation
// errors on field "snapshot".
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, model.Errorf(model.ErrValidation, "snapshot", "snapshot is empty")
	}

	var snap Snapshot
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &snap.Windows); err != nil {
			return nil, snapshotError(err)
		}
	case '{':
		if err := json.Unmarshal(trimmed, &snap); err != nil {
			return nil, snapshotError(err)
		}
	default:
		if err := yaml.Unmarshal(trimmed, &snap); err != nil {
			return nil, snapshotError(err)
		}
	}
	return &snap, nil
}

func snapshotError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &model.Error{Kind: model.ErrValidation, Field: "snapshot." + typeErr.Field, Err: err}
	}
	return &model.Error{Kind: model.ErrValidation, Field: "snapshot", Err: err}
}
