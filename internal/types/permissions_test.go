package types

import (
	"encoding/json"
	"testing"
)

func TestAccessOrdering(t *testing.T) {
	p := Permissions{Modules: map[Module]Access{ModuleDrafts: AccessWrite}}

	if !p.Allows(ModuleDrafts, AccessRead) {
		t.Error("write should imply read")
	}
	if !p.Allows(ModuleDrafts, AccessWrite) {
		t.Error("write should allow write")
	}
	if p.Allows(ModuleDrafts, AccessAdmin) {
		t.Error("write should not allow admin")
	}
	if p.Allows(ModuleStats, AccessRead) {
		t.Error("absent module should grant nothing")
	}
	if !p.Allows(ModuleStats, AccessNone) {
		t.Error("AccessNone is always allowed")
	}
}

func TestCanAccessStation(t *testing.T) {
	scoped := Permissions{Stations: []string{"S1", "S2"}}
	if !scoped.CanAccessStation("S2") {
		t.Error("S2 should be allowed")
	}
	if scoped.CanAccessStation("S3") {
		t.Error("S3 should be denied")
	}
	if !(Permissions{}).CanAccessStation("S3") {
		t.Error("empty station list grants every station")
	}
}

func TestAccessJSONEncoding(t *testing.T) {
	p := Permissions{
		Version: PermissionsVersion,
		Modules: map[Module]Access{ModuleDrafts: AccessAdmin},
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"version":2,"modules":{"drafts":"admin"}}`
	if string(b) != want {
		t.Errorf("Marshal = %s, want %s", b, want)
	}

	var back Permissions
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Modules[ModuleDrafts] != AccessAdmin {
		t.Errorf("round trip lost access: %+v", back)
	}

	if err := json.Unmarshal([]byte(`{"modules":{"drafts":"superuser"}}`), &back); err == nil {
		t.Error("unknown access level should fail to decode")
	}
}
