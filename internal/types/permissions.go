package types

import (
	"fmt"
	"slices"
)

// Module names a functional area of the portal guarded by permissions.
type Module string

const (
	ModuleDrafts       Module = "drafts"
	ModuleSalesReports Module = "sales_reports"
	ModuleEmployees    Module = "employees"
	ModuleDeliveries   Module = "deliveries"
	ModuleLicenses     Module = "licenses"
	ModuleSMS          Module = "sms"
	ModuleStats        Module = "stats"
	ModuleSettings     Module = "settings"
)

// KnownModules lists every module a permission document may reference.
var KnownModules = []Module{
	ModuleDrafts,
	ModuleSalesReports,
	ModuleEmployees,
	ModuleDeliveries,
	ModuleLicenses,
	ModuleSMS,
	ModuleStats,
	ModuleSettings,
}

// IsKnown reports whether m is one of KnownModules.
func (m Module) IsKnown() bool {
	return slices.Contains(KnownModules, m)
}

// Access is an ordered access level. A higher level implies every lower one.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
	AccessAdmin
)

var accessNames = map[Access]string{
	AccessNone:  "none",
	AccessRead:  "read",
	AccessWrite: "write",
	AccessAdmin: "admin",
}

func (a Access) String() string {
	if s, ok := accessNames[a]; ok {
		return s
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// ParseAccess converts the canonical name of an access level.
func ParseAccess(s string) (Access, error) {
	for a, name := range accessNames {
		if name == s {
			return a, nil
		}
	}
	return AccessNone, fmt.Errorf("unknown access level %q", s)
}

// MarshalText implements encoding.TextMarshaler so Access encodes as its name.
func (a Access) MarshalText() ([]byte, error) {
	if _, ok := accessNames[a]; !ok {
		return nil, fmt.Errorf("invalid access level %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Access) UnmarshalText(b []byte) error {
	parsed, err := ParseAccess(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Permissions is the typed, versioned permission document attached to a
// user profile. An empty Stations list grants every station.
type Permissions struct {
	Version  int               `json:"version"`
	Stations []string          `json:"stations,omitempty"`
	Modules  map[Module]Access `json:"modules"`
}

// AllAccess returns a document granting admin on every module.
func AllAccess() Permissions {
	mods := make(map[Module]Access, len(KnownModules))
	for _, m := range KnownModules {
		mods[m] = AccessAdmin
	}
	return Permissions{Version: PermissionsVersion, Modules: mods}
}

// PermissionsVersion is the schema version produced by the current code.
const PermissionsVersion = 2

// Level returns the access granted on module.
func (p Permissions) Level(module Module) Access {
	return p.Modules[module]
}

// Allows reports whether the document grants at least want on module.
func (p Permissions) Allows(module Module, want Access) bool {
	if want == AccessNone {
		return true
	}
	return p.Modules[module] >= want
}

// CanAccessStation reports whether the document covers station.
func (p Permissions) CanAccessStation(station string) bool {
	if len(p.Stations) == 0 {
		return true
	}
	return slices.Contains(p.Stations, station)
}
