package compat

import (
	"reflect"
	"testing"
)

func testMatrix() *Matrix {
	return NewMatrix([]VersionEntry{
		{
			Version:            "v1",
			SupportsUnmodified: nil,
			MigrateToNext: func(shape map[string]any) (map[string]any, error) {
				out := map[string]any{}
				for k, v := range shape {
					out[k] = v
				}
				out["schema"] = "v2"
				return out, nil
			},
		},
		{
			Version:            "v2",
			SupportsUnmodified: []string{"v1"},
			Deprecated:         true,
			MigrateToNext: func(shape map[string]any) (map[string]any, error) {
				out := map[string]any{}
				for k, v := range shape {
					out[k] = v
				}
				out["schema"] = "v3"
				return out, nil
			},
		},
		{Version: "v3"},
	})
}

func TestExactVersionMatchIsCompatible(t *testing.T) {
	rep := testMatrix().Check("v3", "v3")
	if !rep.IsValid || !rep.IsCompatible {
		t.Fatalf("expected exact match to be compatible, got %+v", rep)
	}
}

func TestSupportsUnmodifiedIsCompatible(t *testing.T) {
	rep := testMatrix().Check("v1", "v2")
	if !rep.IsCompatible {
		t.Fatalf("expected v1 to be compatible with v2 via SupportsUnmodified, got %+v", rep)
	}
	if len(rep.MigrationPath) != 0 {
		t.Fatalf("expected no migration path when already compatible, got %v", rep.MigrationPath)
	}
}

func TestIncompatibleProducesMigrationPath(t *testing.T) {
	rep := testMatrix().Check("v1", "v3")
	if rep.IsCompatible {
		t.Fatal("expected v1 against host v3 to be reported incompatible")
	}
	want := []string{"v2", "v3"}
	if !reflect.DeepEqual(rep.MigrationPath, want) {
		t.Fatalf("migration path = %v, want %v", rep.MigrationPath, want)
	}
}

func TestDeprecatedVersionWarns(t *testing.T) {
	rep := testMatrix().Check("v2", "v2")
	if !rep.IsDeprecated || len(rep.Warnings) == 0 {
		t.Fatalf("expected deprecation warning for v2, got %+v", rep)
	}
}

func TestUnknownVersionIsError(t *testing.T) {
	rep := testMatrix().Check("v99", "v3")
	if rep.IsValid {
		t.Fatal("expected unknown plugin apiVersion to be invalid")
	}
	if len(rep.Errors) == 0 {
		t.Fatal("expected an error for unknown apiVersion")
	}
}

func TestAbsentAPIVersionTreatedAsEarliest(t *testing.T) {
	rep := testMatrix().Check("", "v3")
	if !rep.IsValid {
		t.Fatalf("expected absent apiVersion to resolve to earliest known, got %+v", rep)
	}
	if len(rep.MigrationPath) != 2 {
		t.Fatalf("expected a 2-step migration path from earliest to latest, got %v", rep.MigrationPath)
	}
}

func TestMigrateAppliesPathInOrder(t *testing.T) {
	m := testMatrix()
	shape := map[string]any{"name": "orders"}
	out, err := m.Migrate("v1", shape, []string{"v2", "v3"})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if out["schema"] != "v3" {
		t.Fatalf("expected final schema v3, got %+v", out)
	}
	if out["name"] != "orders" {
		t.Fatalf("expected original fields preserved, got %+v", out)
	}
}

func TestMigrateMissingStepFails(t *testing.T) {
	m := testMatrix()
	_, err := m.Migrate("v3", map[string]any{}, []string{"v4"})
	if err == nil {
		t.Fatal("expected migrating past the latest version to fail")
	}
}

func TestNoBackwardMigrationPath(t *testing.T) {
	m := testMatrix()
	_, err := m.migrationPath("v3", "v1")
	if err == nil {
		t.Fatal("expected no backward migration path")
	}
}
