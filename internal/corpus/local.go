package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

// maxFileSize skips files that are almost certainly dumps rather than incidents.
const maxFileSize = 20 << 20

// LocalSource reads logs, JSON error reports and notes from a directory tree.
type LocalSource struct {
	root       string
	extensions []string
}

// NewLocalSource creates a source over root. Extensions are matched
// case-insensitively and must include the dot.
func NewLocalSource(root string, extensions []string) *LocalSource {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &LocalSource{root: root, extensions: exts}
}

// Name implements Source.
func (s *LocalSource) Name() string { return "local:" + s.root }

// Root returns the directory being read.
func (s *LocalSource) Root() string { return s.root }

// Load walks the directory. A missing directory is created and yields nothing.
func (s *LocalSource) Load(ctx context.Context) ([]Document, error) {
	info, err := os.Stat(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		if mkErr := os.MkdirAll(s.root, 0o755); mkErr != nil {
			return nil, fixerrors.New(fixerrors.ErrCodeCorpusLoad, "failed to create data directory", mkErr)
		}
		return []Document{}, nil
	}
	if err != nil {
		return nil, fixerrors.New(fixerrors.ErrCodeCorpusLoad, "failed to stat data directory", err)
	}
	if !info.IsDir() {
		return nil, fixerrors.New(fixerrors.ErrCodeCorpusLoad, fmt.Sprintf("%s is not a directory", s.root), nil)
	}

	var docs []Document
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !slices.Contains(s.extensions, ext) {
			return nil
		}
		fi, err := d.Info()
		if err != nil || fi.Size() > maxFileSize {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		doc := Document{
			Source:   rel,
			Kind:     kindForExt(ext),
			Content:  string(raw),
			Metadata: map[string]string{"path": path},
		}
		if ext == ".json" {
			content, ok := renderReport(raw)
			if !ok {
				return nil
			}
			doc.Content = content
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fixerrors.New(fixerrors.ErrCodeCorpusLoad, "failed to read data directory", err)
	}
	return docs, nil
}

func kindForExt(ext string) store.ChunkKind {
	switch ext {
	case ".log":
		return store.KindLog
	case ".json":
		return store.KindJSONReport
	case ".md", ".markdown":
		return store.KindDoc
	default:
		return store.KindGeneric
	}
}

// renderReport turns a JSON error report into text. Known report fields are
// labelled in a fixed order; any other JSON value is pretty-printed.
// Malformed JSON is skipped.
func renderReport(raw []byte) (string, bool) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", false
	}

	if obj, ok := generic.(map[string]any); ok {
		var parts []string
		for _, f := range []struct{ key, label string }{
			{"error_message", "Error"},
			{"stack_trace", "Stack Trace"},
			{"previous_fix", "Solution"},
		} {
			if v, ok := obj[f.key]; ok {
				parts = append(parts, f.label+": "+fieldText(v))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), true
		}
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}

func fieldText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
