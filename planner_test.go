package assetpipe

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIncrementalPlannerNewBundleNeedsCompile(t *testing.T) {
	planner := NewIncrementalPlanner(t.TempDir(), false)
	b := &Bundle{NameHash: "nh1", Version: "v1", VersionedPath: "v1.js"}

	plan := planner.Plan([]*Bundle{b}, NewManifest())
	if !plan.NeedsCompile() || len(plan.ToCompile) != 1 {
		t.Fatal("a new bundle whose artifact doesn't exist yet should need compiling")
	}
}

func TestIncrementalPlannerNewNameHashReusesExistingArtifact(t *testing.T) {
	outDir := t.TempDir()
	versionedPath := "v1.js"
	if err := os.WriteFile(filepath.Join(outDir, versionedPath), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	planner := NewIncrementalPlanner(outDir, false)
	// nh2 is absent from the cached manifest (e.g. the manifest was discarded
	// while the compiled output stayed on disk), but its content version
	// matches a bundle already compiled on disk.
	b := &Bundle{NameHash: "nh2", Version: "v1", VersionedPath: versionedPath}

	plan := planner.Plan([]*Bundle{b}, NewManifest())
	if plan.NeedsCompile() {
		t.Error("a new name_hash should still skip compiling when its versioned artifact already exists")
	}
}

func TestIncrementalPlannerUpToDateSkipsCompile(t *testing.T) {
	outDir := t.TempDir()
	versionedPath := "v1.js"
	if err := os.WriteFile(filepath.Join(outDir, versionedPath), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cached := NewManifest()
	cached.Blocks["nh1"] = &BlockEntry{Version: "v1", VersionedPath: versionedPath}

	planner := NewIncrementalPlanner(outDir, false)
	b := &Bundle{NameHash: "nh1", Version: "v1", VersionedPath: versionedPath}

	plan := planner.Plan([]*Bundle{b}, cached)
	if plan.NeedsCompile() {
		t.Error("an unchanged bundle whose artifact exists should not need compiling")
	}
}

func TestIncrementalPlannerMissingArtifactNeedsCompile(t *testing.T) {
	outDir := t.TempDir()

	cached := NewManifest()
	cached.Blocks["nh1"] = &BlockEntry{Version: "v1", VersionedPath: "v1.js"}

	planner := NewIncrementalPlanner(outDir, false)
	b := &Bundle{NameHash: "nh1", Version: "v1", VersionedPath: "v1.js"}

	plan := planner.Plan([]*Bundle{b}, cached)
	if !plan.NeedsCompile() {
		t.Error("a matching version whose artifact was removed from disk should still need compiling")
	}
}

func TestIncrementalPlannerForceRecompilesEverything(t *testing.T) {
	outDir := t.TempDir()
	versionedPath := "v1.js"
	if err := os.WriteFile(filepath.Join(outDir, versionedPath), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cached := NewManifest()
	cached.Blocks["nh1"] = &BlockEntry{Version: "v1", VersionedPath: versionedPath}

	planner := NewIncrementalPlanner(outDir, true)
	b := &Bundle{NameHash: "nh1", Version: "v1", VersionedPath: versionedPath}

	plan := planner.Plan([]*Bundle{b}, cached)
	if !plan.NeedsCompile() || !plan.GlobalRecompile {
		t.Error("ForceRecompile should schedule every bundle and set GlobalRecompile")
	}
}
