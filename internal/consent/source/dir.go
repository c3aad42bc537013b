// Package source reads the legal document repository checked out on disk.
//
// Each document lives in its own directory named after its slug:
//
//	<root>/<slug>/meta.yaml
//	<root>/<slug>/content.md
//	<root>/<slug>/content.<lang>.md
//
// meta.yaml describes the document and the version the directory holds.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cm "membership/internal/consent/models"
	"membership/internal/consent/service"
	mm "membership/internal/membership/models"
)

const (
	metaFile    = "meta.yaml"
	contentFile = "content.md"
)

type meta struct {
	Title                 string   `yaml:"title"`
	Type                  string   `yaml:"type"`
	RequiredForActivation bool     `yaml:"required_for_activation"`
	RequiredForRoles      []string `yaml:"required_for_roles"`
	DisplayOrder          int      `yaml:"display_order"`
	Version               string   `yaml:"version"`
	EffectiveDate         string   `yaml:"effective_date"`
	Changelog             string   `yaml:"changelog"`
	RequiresReConsent     bool     `yaml:"requires_re_consent"`
	ReConsentDeadline     string   `yaml:"re_consent_deadline"`
	Commit                string   `yaml:"commit"`
}

// Dir is a service.DocumentSource backed by a directory tree.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Documents reads every document directory under the root, sorted by slug.
func (d *Dir) Documents(ctx context.Context) ([]service.SourceDocument, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read document root: %w", err)
	}
	var out []service.SourceDocument
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		doc, err := d.read(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (d *Dir) read(slug string) (service.SourceDocument, error) {
	dir := filepath.Join(d.root, slug)
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return service.SourceDocument{}, fmt.Errorf("document %s: %w", slug, err)
	}
	var m meta
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return service.SourceDocument{}, fmt.Errorf("document %s: decode %s: %w", slug, metaFile, err)
	}
	if m.Title == "" || m.Version == "" {
		return service.SourceDocument{}, fmt.Errorf("document %s: title and version are required", slug)
	}
	content, err := os.ReadFile(filepath.Join(dir, contentFile))
	if err != nil {
		return service.SourceDocument{}, fmt.Errorf("document %s: %w", slug, err)
	}
	translations, err := readTranslations(dir)
	if err != nil {
		return service.SourceDocument{}, fmt.Errorf("document %s: %w", slug, err)
	}

	draft := service.VersionDraft{
		VersionNumber:     m.Version,
		Content:           string(content),
		Translations:      translations,
		Changelog:         m.Changelog,
		RequiresReConsent: m.RequiresReConsent,
		GitCommitSHA:      m.Commit,
		GitFilePath:       filepath.ToSlash(filepath.Join(slug, contentFile)),
	}
	if m.EffectiveDate != "" {
		if draft.EffectiveDate, err = time.Parse(time.DateOnly, m.EffectiveDate); err != nil {
			return service.SourceDocument{}, fmt.Errorf("document %s: effective_date: %w", slug, err)
		}
	}
	if m.ReConsentDeadline != "" {
		deadline, err := time.Parse(time.DateOnly, m.ReConsentDeadline)
		if err != nil {
			return service.SourceDocument{}, fmt.Errorf("document %s: re_consent_deadline: %w", slug, err)
		}
		draft.ReConsentDeadline = &deadline
	}

	roles := make([]mm.Role, 0, len(m.RequiredForRoles))
	for _, r := range m.RequiredForRoles {
		roles = append(roles, mm.Role(r))
	}
	docType := cm.DocumentType(m.Type)
	if docType == "" {
		docType = cm.DocumentOther
	}
	return service.SourceDocument{
		Slug:                  slug,
		Title:                 m.Title,
		Type:                  docType,
		RequiredForActivation: m.RequiredForActivation,
		RequiredForRoles:      roles,
		DisplayOrder:          m.DisplayOrder,
		Version:               draft,
	}, nil
}

// readTranslations collects content.<lang>.md files keyed by language.
func readTranslations(dir string) (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "content.*.md"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(matches))
	for _, path := range matches {
		lang := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "content."), ".md")
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out[lang] = string(text)
	}
	return out, nil
}
