// Package render turns structured resume data into a PDF on disk.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"

	"github.com/google/uuid"
)

// Renderer is the document rendering capability used by the generation stage.
type Renderer interface {
	RenderDocument(ctx context.Context, templateRef string, data map[string]interface{}) (string, error)
}

// Converter prints an HTML document to PDF bytes.
type Converter interface {
	Convert(ctx context.Context, html string) ([]byte, error)
}

type Config struct {
	TemplateDir string
	OutputDir   string
	Timeout     time.Duration
}

type PDFRenderer struct {
	config    Config
	converter Converter
	logger    logger.Logger
}

func NewPDFRenderer(config Config, converter Converter, log logger.Logger) *PDFRenderer {
	return &PDFRenderer{
		config:    config,
		converter: converter,
		logger:    log.WithFields(map[string]interface{}{"component": "render"}),
	}
}

var funcMap = template.FuncMap{
	"join": join,
}

// RenderDocument executes templateRef against data, prints it and returns
// the path of the written PDF.
func (r *PDFRenderer) RenderDocument(ctx context.Context, templateRef string, data map[string]interface{}) (string, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	html, err := r.executeTemplate(templateRef, data)
	if err != nil {
		return "", apperrors.NewFatal(apperrors.ErrCodeRenderFailed, "template execution failed", err)
	}

	pdf, err := r.converter.Convert(ctx, html)
	if err != nil {
		return "", apperrors.NewRetryable(apperrors.ErrCodeRenderFailed, "pdf conversion failed", err)
	}

	path := filepath.Join(r.config.OutputDir, fileName(data))
	if err := SaveToFile(pdf, path); err != nil {
		return "", apperrors.NewRetryable(apperrors.ErrCodeRenderFailed, "write pdf", err)
	}

	r.logger.Info("document rendered", map[string]interface{}{
		"template": templateRef,
		"path":     path,
		"bytes":    len(pdf),
	})
	return path, nil
}

func (r *PDFRenderer) executeTemplate(templateRef string, data map[string]interface{}) (string, error) {
	path := filepath.Join(r.config.TemplateDir, filepath.Clean("/" + templateRef))
	tmpl, err := template.New(filepath.Base(path)).Funcs(funcMap).ParseFiles(path)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// SaveToFile writes pdf, creating parent directories.
func SaveToFile(pdf []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return os.WriteFile(path, pdf, 0644)
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

func fileName(data map[string]interface{}) string {
	name, _ := data["name"].(string)
	slug := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "resume"
	}
	return fmt.Sprintf("%s-%s.pdf", slug, uuid.NewString()[:8])
}

// join accepts []string or the []interface{} produced by JSON decoding.
func join(v interface{}, sep string) string {
	switch items := v.(type) {
	case []string:
		return strings.Join(items, sep)
	case []interface{}:
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, fmt.Sprint(it))
		}
		return strings.Join(parts, sep)
	case string:
		return items
	}
	return ""
}
