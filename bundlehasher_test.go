package assetpipe

import "testing"

func TestBundleHasherNameHashOrderSensitive(t *testing.T) {
	bh := BundleHasher{}

	h1 := bh.NameHash([]string{"a.js", "b.js"})
	h2 := bh.NameHash([]string{"b.js", "a.js"})

	if h1 == h2 {
		t.Error("NameHash should be sensitive to member order")
	}

	h3 := bh.NameHash([]string{"a.js", "b.js"})
	if h1 != h3 {
		t.Error("NameHash should be deterministic for identical input")
	}
}

func TestBundleHasherVersionRequiresMemberVersions(t *testing.T) {
	bh := BundleHasher{}
	m := NewManifest()
	m.Assets["a.js"] = &Asset{Version: "aaa"}

	if _, err := bh.Version([]string{"a.js", "b.js"}, m); err == nil {
		t.Fatal("expected error when a member has no computed version")
	}

	m.Assets["b.js"] = &Asset{Version: "bbb"}
	v1, err := bh.Version([]string{"a.js", "b.js"}, m)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	v2, err := bh.Version([]string{"b.js", "a.js"}, m)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v1 == v2 {
		t.Error("bundle version should depend on member order")
	}
}

func TestBundleHasherHash(t *testing.T) {
	bh := BundleHasher{}
	m := NewManifest()
	m.Assets["a.js"] = &Asset{Version: "aaa"}
	m.Assets["b.js"] = &Asset{Version: "bbb"}

	b := &Bundle{Kind: BundleJS, Members: []string{"a.js", "b.js"}}
	if err := bh.Hash(b, m); err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if b.NameHash == "" || b.Version == "" {
		t.Fatal("Hash should populate NameHash and Version")
	}
	if b.VersionedPath != b.Version+".js" {
		t.Errorf("unexpected versioned path: %s", b.VersionedPath)
	}
}
