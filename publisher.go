package assetpipe

import (
	"bytes"
	"context"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// ObjectStore is the thin interface the Publisher needs from an S3-compatible
// backend. The concrete object store is an out-of-scope collaborator;
// minioObjectStore below is the production implementation, and tests supply
// an in-memory fake.
type ObjectStore interface {
	Head(ctx context.Context, key string) (exists bool, err error)
	Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) error
}

// minioObjectStore adapts minio-go/v7's client to ObjectStore.
type minioObjectStore struct {
	client *minio.Client
	bucket string
}

// NewMinioObjectStore dials an S3-compatible endpoint using the credentials
// in cfg.
func NewMinioObjectStore(cfg *Config) (ObjectStore, error) {
	client, err := minio.New(cfg.ObjectStoreEndpoint, &minio.Options{
		Creds:  credsFromConfig(cfg),
		Secure: cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &minioObjectStore{client: client, bucket: cfg.ObjectStoreBucket}, nil
}

func (s *minioObjectStore) Head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return false, nil
		}
		return false, &UploadError{Key: key, Op: "head", Err: err}
	}
	return true, nil
}

func (s *minioObjectStore) Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
		Expires:      time.Now().AddDate(DefaultExpiresYears, 0, 0),
		UserMetadata: map[string]string{"x-amz-acl": "public-read"},
	})
	if err != nil {
		return &UploadError{Key: key, Op: "put", Err: err}
	}
	return nil
}

// Publisher uploads every versioned asset and bundle artifact twice: once
// under its bare key (served from the CDN prefix) and once under
// "<LocalCDNPrefix>/<key>" (served by the origin as a proxy fallback). Each
// variant's reference rewriting is always computed from the artifact's
// original compiled bytes, never chained on top of the other variant's
// rewritten copy (spec's resolved open question).
type Publisher struct {
	cfg   *Config
	store ObjectStore
	log   *Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg *Config, store ObjectStore, logger *Logger) *Publisher {
	return &Publisher{cfg: cfg, store: store, log: logger}
}

// PublishAll uploads every publishable asset (see isPublishableAsset) and
// every bundle artifact in m, bounded to UploadWorkerCount concurrent
// workers.
func (pub *Publisher) PublishAll(ctx context.Context, m *Manifest) error {
	if pub.cfg.SkipUpload {
		pub.log.Infof("upload skipped (SkipUpload)")
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(UploadWorkerCount)

	for _, relPath := range m.SortedRelPaths() {
		if !isPublishableAsset(relPath) {
			continue
		}
		asset := m.Assets[relPath]
		relPath, asset := relPath, asset
		g.Go(func() error {
			original, err := os.ReadFile(filepath.Join(pub.cfg.StaticDir, relPath))
			if err != nil {
				return &DependencyError{SourcePath: relPath, Missing: []string{relPath}}
			}
			return pub.publishOne(ctx, asset.VersionedPath, original, m)
		})
	}

	for hash, block := range m.Blocks {
		hash, block := hash, block
		g.Go(func() error {
			original, err := os.ReadFile(filepath.Join(pub.cfg.OutputDir, block.VersionedPath))
			if err != nil {
				return &DependencyError{SourcePath: hash, Missing: []string{block.VersionedPath}}
			}
			return pub.publishOne(ctx, block.VersionedPath, original, m)
		})
	}

	return g.Wait()
}

// sourceExtensions are the bundle-member kinds that are never published
// directly: they're already emitted, compiled and versioned, as bundle
// artifacts, so re-uploading the raw source under its own versioned_path
// would just duplicate the bundle's content under a second key.
var sourceExtensions = map[string]bool{
	".js":   true,
	".css":  true,
	".less": true,
	".scss": true,
	".html": true,
}

// isPublishableAsset reports whether relPath belongs in the publish set —
// every asset except the bundle-source kinds above.
func isPublishableAsset(relPath string) bool {
	return !sourceExtensions[strings.ToLower(filepath.Ext(relPath))]
}

// publishOne uploads one artifact's CDN variant and local-proxy variant.
func (pub *Publisher) publishOne(ctx context.Context, key string, original []byte, m *Manifest) error {
	cdnBody := pub.rewriteReferences(original, m, false)
	if err := pub.uploadVariant(ctx, key, cdnBody); err != nil {
		return err
	}

	localKey := pub.cfg.LocalCDNPrefix + "/" + key
	localBody := pub.rewriteReferences(original, m, true)
	return pub.uploadVariant(ctx, localKey, localBody)
}

func (pub *Publisher) uploadVariant(ctx context.Context, key string, body []byte) error {
	if !pub.cfg.ForceUpload {
		exists, err := pub.store.Head(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			pub.log.Debugf("skip upload, already exists: %s", key)
			return nil
		}
	}

	contentType := contentTypeFor(key)
	if err := pub.store.Put(ctx, key, body, contentType, DefaultCacheControl); err != nil {
		return err
	}
	pub.log.Infof("uploaded %s", key)
	return nil
}

// rewriteReferences substitutes every url(...) reference in content whose
// target (with StaticURLPrefix stripped) is a manifest asset with that
// asset's versioned URL, resolved against either the CDN prefix set or the
// local proxy prefix. References outside url(...), such as static-prefixed
// string literals in JS, are left unchanged, as are targets not in the
// manifest.
func (pub *Publisher) rewriteReferences(content []byte, m *Manifest, local bool) []byte {
	text := string(content)
	result := cssURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		ref := sub[1]
		if pub.cfg.StaticURLPrefix != "" && strings.HasPrefix(ref, pub.cfg.StaticURLPrefix) {
			ref = strings.TrimPrefix(ref, pub.cfg.StaticURLPrefix)
		}
		url, err := m.ResolveURL(ref, local, pub.cfg.LocalCDNPrefix, pub.cfg.CDNPrefixes)
		if err != nil {
			return match
		}
		return "url(\"" + url + "\")"
	})
	return []byte(result)
}

// shardPrefix picks a CDN prefix for key using CRC32-mod-length sharding,
// matching original_source/assetman/tools.py:get_shard_from_list.
func shardPrefix(prefixes []string, key string) string {
	sum := crc32.ChecksumIEEE([]byte(key))
	return prefixes[int(sum)%len(prefixes)]
}

func contentTypeFor(key string) string {
	switch filepath.Ext(key) {
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func credsFromConfig(cfg *Config) *credentials.Credentials {
	return credentials.NewStaticV4(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, "")
}
