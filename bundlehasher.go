package assetpipe

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// BundleHasher computes the two identifiers a Bundle needs: a name_hash
// (identity, independent of content) and a content version (dependent on
// every member's recursive version).
type BundleHasher struct{}

// NameHash returns MD5(member1 + "\n" + member2 + ...), order-sensitive, so
// two templates declaring the same files in a different order produce
// distinct bundles.
func (BundleHasher) NameHash(members []string) string {
	sum := md5.Sum([]byte(strings.Join(members, "\n")))
	return hex.EncodeToString(sum[:])
}

// Version returns MD5(asset(m1).version || asset(m2).version || ...), the
// bundle's content identity. versions must already be populated by the
// Versioner for every member.
func (BundleHasher) Version(members []string, m *Manifest) (string, error) {
	h := md5.New()
	for _, member := range members {
		asset, ok := m.Assets[member]
		if !ok || asset.Version == "" {
			return "", &DependencyError{SourcePath: member}
		}
		h.Write([]byte(asset.Version))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VersionedPath returns the bundle's output filename: version + "." + ext.
func (BundleHasher) VersionedPath(version string, kind BundleKind) string {
	return version + "." + kind.OutputExt()
}

// Hash resolves NameHash, Version, and VersionedPath for a single Bundle and
// writes them back onto it.
func (bh BundleHasher) Hash(b *Bundle, m *Manifest) error {
	b.NameHash = bh.NameHash(b.Members)

	version, err := bh.Version(b.Members, m)
	if err != nil {
		return err
	}
	b.Version = version
	b.VersionedPath = bh.VersionedPath(version, b.Kind)
	return nil
}
