package assetpipe

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// mimeByExt is the fallback MIME table used when an inlined image's
// extension isn't one net/http's sniffing would reliably resolve on every
// platform, matching original_source/assetman/compilers.py's explicit map.
var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".webp": "image/webp",
	".otf":  "font/otf",
	".ttf":  "font/ttf",
	".eot":  "application/vnd.ms-fontobject",
	".woff": "font/woff",
	".json": "application/json",
}

// defaultMIMEType is the fallback used when an extension isn't in
// mimeByExt, matching the spec's "fall back" rather than skip-inlining.
const defaultMIMEType = "application/octet-stream"

var cssURLPattern = regexp.MustCompile(`url\(\s*["']?([^"')]+)["']?\s*\)`)

// ImageInliner rewrites small image url() references inside compiled CSS
// into base64 data URIs, dropping the network round-trip for icons/sprites
// that are always loaded alongside the stylesheet. Source files larger than
// MaxInlineFileSize are left alone, and if the encoded form would exceed
// MaxInlineDataURISize (IE8's URL length ceiling) the reference is also
// left alone.
type ImageInliner struct {
	staticDir string
	prefix    string
	log       *Logger
}

// NewImageInliner creates an ImageInliner rooted at cfg.StaticDir, stripping
// cfg.StaticURLPrefix from every url() reference before resolving it — the
// compiled CSS refers to assets by their prefixed URL (e.g. "/s/img/x.png"),
// not by their rel_path.
func NewImageInliner(cfg *Config, logger *Logger) *ImageInliner {
	return &ImageInliner{staticDir: cfg.StaticDir, prefix: cfg.StaticURLPrefix, log: logger}
}

// Inline rewrites every eligible url(...) reference in css.
func (inl *ImageInliner) Inline(css []byte) ([]byte, error) {
	text := string(css)
	seen := make(map[string]int)

	result := cssURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		ref := sub[1]

		if strings.HasPrefix(ref, "data:") || strings.Contains(ref, "://") {
			return match
		}

		seen[ref]++
		if seen[ref] > 1 {
			inl.log.Warnf("duplicate inline reference to %s, encoding it again", ref)
		}

		dataURI, ok := inl.encode(ref)
		if !ok {
			return match
		}
		return fmt.Sprintf("url(%q)", dataURI)
	})

	return []byte(result), nil
}

func (inl *ImageInliner) encode(ref string) (string, bool) {
	if inl.prefix != "" && strings.HasPrefix(ref, inl.prefix) {
		ref = strings.TrimPrefix(ref, inl.prefix)
	}
	absPath := filepath.Join(inl.staticDir, ref)

	info, err := os.Stat(absPath)
	if err != nil || info.Size() > MaxInlineFileSize {
		return "", false
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", false
	}

	mimeType, ok := mimeByExt[strings.ToLower(filepath.Ext(ref))]
	if !ok {
		mimeType = defaultMIMEType
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	uri := "data:" + mimeType + ";base64," + encoded
	if len(uri) > MaxInlineDataURISize {
		return "", false
	}
	return uri, true
}
