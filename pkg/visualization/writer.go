package visualization

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the index DirWriter appends to.
const ManifestFile = "summaries.yaml"

// ManifestEntry describes one image written by DirWriter.
type ManifestEntry struct {
	Tag    string `yaml:"tag"`
	Step   int64  `yaml:"step"`
	File   string `yaml:"file"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// DirWriter stores summary images as files under a log directory and keeps a
// YAML manifest of everything written.
type DirWriter struct {
	logDir string
	mu     sync.Mutex
}

// NewDirWriter creates logDir if needed.
func NewDirWriter(logDir string) (*DirWriter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}
	return &DirWriter{logDir: logDir}, nil
}

// AddSummary writes each value to <logDir>/<tag>/step_<step>.gif.
func (w *DirWriter) AddSummary(s *Summary, step int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, v := range s.Values {
		if v.Image == nil {
			continue
		}
		dir := filepath.Join(w.logDir, tagPath(v.Tag))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create tag directory: %w", err)
		}
		name := filepath.Join(dir, fmt.Sprintf("step_%06d.gif", step))
		if err := os.WriteFile(name, v.Image.EncodedImage, 0644); err != nil {
			return fmt.Errorf("failed to write summary image: %w", err)
		}

		rel, err := filepath.Rel(w.logDir, name)
		if err != nil {
			rel = name
		}
		entry := ManifestEntry{
			Tag:    v.Tag,
			Step:   step,
			File:   filepath.ToSlash(rel),
			Width:  v.Image.Width,
			Height: v.Image.Height,
		}
		if err := w.appendManifest(entry); err != nil {
			return err
		}
	}
	return nil
}

func (w *DirWriter) appendManifest(entry ManifestEntry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest entry: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(w.logDir, ManifestFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	if _, err := f.Write(append([]byte("---\n"), data...)); err != nil {
		f.Close()
		return fmt.Errorf("failed to append manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest loads every entry from the manifest in logDir.
func ReadManifest(logDir string) ([]ManifestEntry, error) {
	f, err := os.Open(filepath.Join(logDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []ManifestEntry
	dec := yaml.NewDecoder(f)
	for {
		var e ManifestEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// tagPath turns a slash-separated tag into a relative path that cannot
// leave the log directory.
func tagPath(tag string) string {
	var parts []string
	for _, p := range strings.Split(tag, "/") {
		if p == "" || p == "." || p == ".." {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "untagged"
	}
	return filepath.Join(parts...)
}
