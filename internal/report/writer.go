package report

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"node-reporter/internal/model"
)

// Token turns a node name into a file name component. Case is kept; every
// byte outside [A-Za-z0-9._-] becomes an underscore.
func Token(name string) string {
	if name == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Paths returns the report path of every record, in order. Records whose
// names map to the same token are told apart by their instance.
func Paths(dir string, records []model.NodeRecord) []string {
	tokens := make([]string, len(records))
	seen := make(map[string]int, len(records))
	for i, r := range records {
		tokens[i] = Token(r.Identity.DisplayName())
		seen[tokens[i]]++
	}
	paths := make([]string, len(records))
	for i, r := range records {
		tok := tokens[i]
		if seen[tok] > 1 {
			tok += "_" + Token(r.Identity.Instance)
		}
		paths[i] = filepath.Join(dir, "node_"+tok+".txt")
	}
	return paths
}

type Writer struct {
	dir    string
	logger *slog.Logger
}

func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// WriteAll renders and writes every record, replacing earlier reports. A
// failed file does not stop the others; all failures are returned joined.
func (w *Writer) WriteAll(records []model.NodeRecord) ([]model.NodeReport, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create reports dir %s: %w", model.ErrIO, w.dir, err)
	}

	paths := Paths(w.dir, records)
	reports := make([]model.NodeReport, 0, len(records))
	var errs []error
	for i, r := range records {
		text := Render(r)
		if err := writeFileAtomic(paths[i], []byte(text)); err != nil {
			werr := &model.WriteError{Node: r.Identity.DisplayName(), Path: paths[i], Err: err}
			w.logger.Error("report write failed", "node", r.Identity.DisplayName(), "path", paths[i], "error", err)
			errs = append(errs, werr)
			continue
		}
		w.logger.Info("report written", "node", r.Identity.DisplayName(), "instance", r.Identity.Instance, "path", paths[i])
		reports = append(reports, model.NodeReport{Record: r, Path: paths[i], Text: text})
	}
	return reports, errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".node_*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
