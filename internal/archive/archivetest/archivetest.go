// Package archivetest provides zip fixtures and an in-process extractor for tests.
package archivetest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Entry is one member of a fixture archive. Names ending in "/" are directories.
type Entry struct {
	Name    string
	Content string
}

// Build writes a zip archive at path and returns its member names in order.
func Build(t testing.TB, path string, entries ...Entry) []string {
	t.Helper()
	data, members := Bytes(t, entries...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return members
}

// Bytes returns an in-memory zip archive and its member names in order.
func Bytes(t testing.TB, entries ...Entry) ([]byte, []string) {
	t.Helper()
	var buf strings.Builder
	zw := zip.NewWriter(&buf)
	members := make([]string, 0, len(entries))
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.Name, err)
		}
		if !strings.HasSuffix(e.Name, "/") {
			if _, err := io.WriteString(w, e.Content); err != nil {
				t.Fatalf("write zip entry %s: %v", e.Name, err)
			}
		}
		members = append(members, e.Name)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return []byte(buf.String()), members
}

// Extractor unpacks archives with archive/zip. It does not recreate symlinks.
type Extractor struct {
	mu    sync.Mutex
	calls []string
}

// Calls returns the destination directories Extract was called with.
func (x *Extractor) Calls() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.calls...)
}

// Extract implements archive.Extractor.
func (x *Extractor) Extract(_ context.Context, archivePath, destDir string) error {
	x.mu.Lock()
	x.calls = append(x.calls, destDir)
	x.mu.Unlock()

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeMember(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeMember(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
