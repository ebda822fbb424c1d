/*
 *    Copyright 2025 blockarchitech
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package view

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"go.uber.org/zap"
)

// Page templates.
const (
	LinkResultPage = "link_result.html"
)

//go:embed templates/*.html
var embedded embed.FS

// LinkResult is the data of LinkResultPage.
type LinkResult struct {
	Linked bool
	Email  string
	Error  string
}

// HTMLTemplateManager manages HTML templates.
type HTMLTemplateManager struct {
	logger    *zap.Logger
	templates map[string]*template.Template
}

// NewHTMLTemplateManager parses the templates bundled with the binary.
func NewHTMLTemplateManager(logger *zap.Logger) (*HTMLTemplateManager, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return NewHTMLTemplateManagerFS(logger, sub)
}

// NewHTMLTemplateManagerFS parses every *.html file at the root of fsys.
func NewHTMLTemplateManagerFS(logger *zap.Logger, fsys fs.FS) (*HTMLTemplateManager, error) {
	m := &HTMLTemplateManager{
		logger:    logger.Named("html_template_manager"),
		templates: make(map[string]*template.Template),
	}

	pages, err := fs.Glob(fsys, "*.html")
	if err != nil {
		m.logger.Error("Failed to glob for HTML templates", zap.Error(err))
		return nil, err
	}

	for _, page := range pages {
		name := path.Base(page)
		tmpl, err := template.New(name).ParseFS(fsys, page)
		if err != nil {
			m.logger.Error("Failed to parse HTML template", zap.String("template_file", page), zap.Error(err))
			return nil, err
		}
		m.templates[name] = tmpl
		m.logger.Debug("Successfully parsed template", zap.String("template_name", name))
	}

	m.logger.Info("HTML templates loaded successfully", zap.Int("count", len(m.templates)))
	return m, nil
}

// Render executes the named template with the given data and writes to the ResponseWriter.
func (m *HTMLTemplateManager) Render(w http.ResponseWriter, status int, name string, data interface{}) error {
	tmpl, ok := m.templates[name]
	if !ok {
		m.logger.Error("Template not found", zap.String("template_name", name))
		return fs.ErrNotExist
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		m.logger.Error("Failed to render template", zap.String("template_name", name), zap.Error(err))
		return err
	}
	return nil
}
