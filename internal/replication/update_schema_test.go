package replication_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"riftsync.gg/internal/replication"
	"riftsync.gg/internal/spatial"
)

// The wire shape of StateUpdate is consumed by external subscribers;
// pin it against the shipped schema document.
func TestStateUpdate_ConformsToSchema(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "state_update.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	u := replication.StateUpdate{
		PlayerID:  7,
		Name:      "kess",
		Position:  spatial.Vec3{X: 1, Y: 2, Z: -3},
		Health:    62,
		MaxHealth: 120,
		State:     "CROUCHED",
		Timestamp: time.Now().UTC(),
	}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
