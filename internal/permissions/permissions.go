// Package permissions decodes the permission documents stored on user
// profiles and migrates older layouts to the current typed form.
//
// Three layouts exist in stored data:
//
//	v2  {"version":2,"stations":["S1"],"modules":{"drafts":"write"}}
//	v1  {"version":1,"stations":["S1"],"modules":{"drafts":["view","edit"]}}
//	v0  {"drafts":true,"sales_reports":"edit","stations":["S1"]}
//
// Anything that is not one of these is rejected with
// validation_invalid_permissions rather than read as "no permissions".
package permissions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"dfsportal/internal/types"
)

// CurrentVersion is the layout Encode writes.
const CurrentVersion = types.PermissionsVersion

// verbAccess maps the verbs used by v0 and v1 documents onto access levels.
var verbAccess = map[string]types.Access{
	"none":   types.AccessNone,
	"view":   types.AccessRead,
	"read":   types.AccessRead,
	"edit":   types.AccessWrite,
	"write":  types.AccessWrite,
	"create": types.AccessWrite,
	"update": types.AccessWrite,
	"delete": types.AccessWrite,
	"manage": types.AccessAdmin,
	"admin":  types.AccessAdmin,
}

type envelope struct {
	Version *int `json:"version"`
}

type v2Doc struct {
	Version  int                           `json:"version"`
	Stations []string                      `json:"stations"`
	Modules  map[types.Module]types.Access `json:"modules"`
}

type v1Doc struct {
	Version  int                 `json:"version"`
	Stations []string            `json:"stations"`
	Modules  map[string][]string `json:"modules"`
}

func invalid(msg string, err error) error {
	return types.NewAppError(types.ErrCodeValidationPermissions, msg, err)
}

// Parse decodes a stored permission document of any known version and
// returns it migrated to CurrentVersion. An empty or null document grants
// nothing.
func Parse(raw []byte) (types.Permissions, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return empty(), nil
	}
	if trimmed[0] != '{' {
		return types.Permissions{}, invalid("permissions must be a JSON object", nil)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return types.Permissions{}, invalid("permissions are not valid JSON", err)
	}

	if env.Version == nil {
		return parseV0(trimmed)
	}
	switch *env.Version {
	case 1:
		return parseV1(trimmed)
	case 2:
		return parseV2(trimmed)
	default:
		return types.Permissions{}, invalid(fmt.Sprintf("unsupported permissions version %d", *env.Version), nil)
	}
}

func empty() types.Permissions {
	return types.Permissions{Version: CurrentVersion, Modules: map[types.Module]types.Access{}}
}

func parseV2(raw []byte) (types.Permissions, error) {
	var doc v2Doc
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return types.Permissions{}, invalid("malformed v2 permissions", err)
	}

	p := empty()
	for m, a := range doc.Modules {
		if !m.IsKnown() {
			return types.Permissions{}, invalid(fmt.Sprintf("unknown module %q", m), nil)
		}
		if a != types.AccessNone {
			p.Modules[m] = a
		}
	}
	stations, err := cleanStations(doc.Stations)
	if err != nil {
		return types.Permissions{}, err
	}
	p.Stations = stations
	return p, nil
}

func parseV1(raw []byte) (types.Permissions, error) {
	var doc v1Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.Permissions{}, invalid("malformed v1 permissions", err)
	}

	p := empty()
	for name, verbs := range doc.Modules {
		level, err := levelFromVerbs(verbs)
		if err != nil {
			return types.Permissions{}, invalid(fmt.Sprintf("module %s", name), err)
		}
		grant(&p, name, level)
	}
	stations, err := cleanStations(doc.Stations)
	if err != nil {
		return types.Permissions{}, err
	}
	p.Stations = stations
	return p, nil
}

// parseV0 handles the original unversioned flat map. Values are booleans
// (true meaning edit rights), a single verb, or a list of verbs. The special
// keys "stations" and "admin" carry the station scope and a global admin
// flag.
func parseV0(raw []byte) (types.Permissions, error) {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return types.Permissions{}, invalid("malformed legacy permissions", err)
	}

	p := empty()
	for key, val := range flat {
		switch key {
		case "stations":
			var stations []string
			if err := json.Unmarshal(val, &stations); err != nil {
				return types.Permissions{}, invalid("stations must be a list of strings", err)
			}
			cleaned, err := cleanStations(stations)
			if err != nil {
				return types.Permissions{}, err
			}
			p.Stations = cleaned
			continue
		case "admin", "is_admin":
			var isAdmin bool
			if err := json.Unmarshal(val, &isAdmin); err != nil {
				return types.Permissions{}, invalid(key+" must be a boolean", err)
			}
			if isAdmin {
				for _, m := range types.KnownModules {
					p.Modules[m] = types.AccessAdmin
				}
			}
			continue
		}

		level, err := legacyLevel(val)
		if err != nil {
			return types.Permissions{}, invalid(fmt.Sprintf("module %s", key), err)
		}
		grant(&p, key, level)
	}
	return p, nil
}

func legacyLevel(val json.RawMessage) (types.Access, error) {
	var b bool
	if err := json.Unmarshal(val, &b); err == nil {
		if b {
			return types.AccessWrite, nil
		}
		return types.AccessNone, nil
	}
	var verb string
	if err := json.Unmarshal(val, &verb); err == nil {
		return levelFromVerbs([]string{verb})
	}
	var verbs []string
	if err := json.Unmarshal(val, &verbs); err == nil {
		return levelFromVerbs(verbs)
	}
	return types.AccessNone, errors.New("expected a boolean, a verb or a list of verbs")
}

func levelFromVerbs(verbs []string) (types.Access, error) {
	level := types.AccessNone
	for _, v := range verbs {
		a, ok := verbAccess[strings.ToLower(strings.TrimSpace(v))]
		if !ok {
			return types.AccessNone, fmt.Errorf("unknown verb %q", v)
		}
		level = max(level, a)
	}
	return level, nil
}

// grant records level for a module named in a legacy document. Modules that
// no longer exist are dropped; the higher of two grants wins.
func grant(p *types.Permissions, name string, level types.Access) {
	m := types.Module(strings.ToLower(name))
	if !m.IsKnown() || level == types.AccessNone {
		return
	}
	if level > p.Modules[m] {
		p.Modules[m] = level
	}
}

func cleanStations(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, invalid("stations must not contain empty entries", nil)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Encode writes p in the current layout.
func Encode(p types.Permissions) ([]byte, error) {
	p.Version = CurrentVersion
	if p.Modules == nil {
		p.Modules = map[types.Module]types.Access{}
	}
	return json.Marshal(p)
}
