package local

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// Source reads the corpus from a local directory laid out as
// <root>/<group>/<expert>/<file>. Directory listings are name-sorted, so scan
// order and therefore first-insertion order of groups and experts is stable
// across passes.
type Source struct {
	root string
}

func NewSource(root string) (*Source, error) {
	if root == "" {
		root = "./data/corpus"
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "corpus root", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrConfiguration, "corpus root", fmt.Errorf("%s is not a directory", root))
	}
	return &Source{root: root}, nil
}

func (s *Source) Scan(ctx context.Context) ([]domain.CorpusFile, error) {
	groups, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read corpus root: %w", err)
	}

	var files []domain.CorpusFile
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !group.IsDir() || hidden(group.Name()) {
			continue
		}
		groupDir := filepath.Join(s.root, group.Name())
		experts, err := os.ReadDir(groupDir)
		if err != nil {
			return nil, fmt.Errorf("read group dir %s: %w", group.Name(), err)
		}
		for _, expert := range experts {
			if !expert.IsDir() || hidden(expert.Name()) {
				continue
			}
			expertDir := filepath.Join(groupDir, expert.Name())
			entries, err := os.ReadDir(expertDir)
			if err != nil {
				return nil, fmt.Errorf("read expert dir %s/%s: %w", group.Name(), expert.Name(), err)
			}
			for _, entry := range entries {
				if entry.IsDir() || hidden(entry.Name()) || !supportedExtension(entry.Name()) {
					continue
				}
				files = append(files, domain.CorpusFile{
					Group:  group.Name(),
					Expert: expert.Name(),
					Name:   entry.Name(),
					Path:   filepath.Join(expertDir, entry.Name()),
				})
			}
		}
	}
	return files, nil
}

func (s *Source) Extract(_ context.Context, file domain.CorpusFile) (string, error) {
	switch strings.ToLower(filepath.Ext(file.Name)) {
	case ".pdf":
		return extractPDF(file.Path)
	case ".txt", ".md":
		return extractPlaintext(file.Path)
	default:
		return "", fmt.Errorf("unsupported corpus format: %s", file.Name)
	}
}

func extractPlaintext(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read corpus file: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("corpus file %s is not valid UTF-8", filepath.Base(path))
	}
	return strings.TrimSpace(string(raw)), nil
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	content, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(content); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func supportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
