// Package loader turns a handbook directory (or a list of URLs) into the
// rag.Document values the pipeline ingests. Markdown and plain-text files are
// read as UTF-8; PDFs are converted to plain text with ledongthuc/pdf.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// DefaultExtensions lists the file types LoadDir reads when the caller does
// not name any.
var DefaultExtensions = []string{".md", ".txt", ".pdf"}

// LoadDir walks root in lexical order and returns one Document per matching
// file. exts filters by file extension (case-insensitive, leading dot
// optional); when empty, DefaultExtensions is used. Hidden directories are
// skipped.
//
// The Document ID is root joined with the file's path relative to root, so
// the same handbook loaded twice yields the same IDs in the same order.
// A missing or non-directory root is an error. An empty directory yields an
// empty slice.
func LoadDir(ctx context.Context, root string, exts ...string) ([]rag.Document, error) {
	log := logging.FromContext(ctx)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: %s is not a directory", root)
	}

	allowed := extensionSet(exts)
	var docs []rag.Document

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !allowed[ext] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		text, err := readFile(path, ext)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		docs = append(docs, rag.Document{ID: filepath.Join(root, rel), Text: text})
		log.Debug("loader: loaded document", slog.String("path", path), slog.Int("chars", len(text)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loader: walk %s: %w", root, err)
	}

	log.Info("loader: directory loaded", slog.String("root", root), slog.Int("documents", len(docs)))
	return docs, nil
}

// extensionSet normalises exts into a lookup set of lower-case dotted
// extensions.
func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// readFile returns the text content of path according to its extension.
func readFile(path, ext string) (string, error) {
	if ext == ".pdf" {
		return readPDF(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readPDF extracts the plain text of every page in the PDF at path.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
