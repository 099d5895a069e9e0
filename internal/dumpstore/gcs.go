package dumpstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStorage implements Storage on a GCS bucket, used for dumps when
// the configured dump storage type is "gcs".
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	baseDir    string
	ctx        context.Context
}

// NewGCSStorage opens a GCS-backed dump target. baseDir is the
// resolved output_path's object prefix within bucketName.
func NewGCSStorage(ctx context.Context, bucketName, baseDir string) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("dumpstore: create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("dumpstore: access bucket %s: %w", bucketName, err)
	}
	return &GCSStorage{client: client, bucketName: bucketName, baseDir: baseDir, ctx: ctx}, nil
}

// Write uploads data to baseDir/path, tagging content type and cache
// control by artifact kind (chunklists must never cache, segments may).
func (s *GCSStorage) Write(path string, data []byte) error {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(path))
	w := obj.NewWriter(s.ctx)
	w.ContentType = contentType(path)
	w.CacheControl = cacheControl(path)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("dumpstore: write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("dumpstore: close GCS writer: %w", err)
	}
	return nil
}

// Read downloads baseDir/path in full.
func (s *GCSStorage) Read(path string) ([]byte, error) {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(path))
	r, err := obj.NewReader(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("dumpstore: read from GCS: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dumpstore: read GCS object body: %w", err)
	}
	return data, nil
}

// ReadSeeker downloads the object fully and wraps it as an
// io.ReadSeeker, since GCS objects aren't natively seekable over the
// reader API.
func (s *GCSStorage) ReadSeeker(path string) (io.ReadSeeker, error) {
	data, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return &bytesReadSeeker{data: data}, nil
}

// Exists checks for baseDir/path.
func (s *GCSStorage) Exists(path string) (bool, error) {
	_, err := s.client.Bucket(s.bucketName).Object(s.fullPath(path)).Attrs(s.ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dumpstore: check GCS object: %w", err)
	}
	return true, nil
}

// List enumerates non-directory objects under baseDir/dir.
func (s *GCSStorage) List(dir string) ([]string, error) {
	prefix := s.fullPath(dir)
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	it := s.client.Bucket(s.bucketName).Objects(s.ctx, &storage.Query{Prefix: prefix})

	var files []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dumpstore: list GCS objects: %w", err)
		}
		name := attrs.Name
		if len(name) > len(prefix) {
			name = name[len(prefix):]
		}
		if name != "" && name[len(name)-1] != '/' {
			files = append(files, name)
		}
	}
	return files, nil
}

// Close releases the underlying GCS client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) fullPath(path string) string {
	if s.baseDir == "" {
		return path
	}
	return s.baseDir + "/" + path
}

func contentType(path string) string {
	switch ext(path) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".m4s":
		return "video/iso.segment"
	default:
		return "application/octet-stream"
	}
}

func cacheControl(path string) string {
	if ext(path) == ".m3u8" {
		return "no-cache, no-store, must-revalidate"
	}
	return "public, max-age=3600"
}

func ext(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
