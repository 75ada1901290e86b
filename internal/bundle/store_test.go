package bundle

import (
	"fmt"
	"testing"

	"github.com/treykane/sshtunnel/internal/model"
)

func TestCreateListGetDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create("daily", []string{"db", "api", "db"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 || all[0].Name != "daily" {
		t.Fatalf("unexpected bundles: %+v", all)
	}

	got, err := Get("daily")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Tunnels) != 2 {
		t.Fatalf("expected duplicates dropped, got %v", got.Tunnels)
	}

	if err := Delete("daily"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = LoadAll()
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no bundles, got %d", len(all))
	}
	if err := Delete("daily"); err == nil {
		t.Fatal("expected error deleting a missing bundle")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Create("", []string{"db"}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := Create("x", nil); err == nil {
		t.Fatal("expected error for empty tunnel list")
	}
	if err := Create("x", []string{" "}); err == nil {
		t.Fatal("expected error for empty tunnel id")
	}
}

func TestRemoveTunnel(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Create("both", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := Create("only-a", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if err := RemoveTunnel("a"); err != nil {
		t.Fatal(err)
	}
	all, err := LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Name != "both" || len(all[0].Tunnels) != 1 || all[0].Tunnels[0] != "b" {
		t.Fatalf("unexpected bundles after removal: %+v", all)
	}
}

func TestResolve(t *testing.T) {
	def := Definition{Name: "x", Tunnels: []string{"a", "missing", "b"}}
	got, missing := Resolve(def, func(id string) (model.TunnelConfig, error) {
		if id == "missing" {
			return model.TunnelConfig{}, fmt.Errorf("tunnel %q not found", id)
		}
		return model.TunnelConfig{ID: id}, nil
	})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected resolved tunnels: %+v", got)
	}
	if _, ok := missing["missing"]; !ok || len(missing) != 1 {
		t.Fatalf("unexpected missing set: %+v", missing)
	}
}
