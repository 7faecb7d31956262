package webapp

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"sync"

	"github.com/abiosoft/mold"
)

// TemplateManager manages templates using mold for layout inheritance
type TemplateManager struct {
	engine  mold.Engine
	funcMap template.FuncMap
	mu      sync.RWMutex
}

// NewTemplateManager creates a new template manager using mold
func NewTemplateManager() *TemplateManager {
	return &TemplateManager{
		funcMap: template.FuncMap{},
	}
}

// NewTemplateManagerWithFuncMap creates a template manager, registers the
// function map and loads every layout and page from the filesystem.
func NewTemplateManagerWithFuncMap(fs embed.FS, funcMap template.FuncMap) (*TemplateManager, error) {
	tm := NewTemplateManager()
	tm.AddFuncMap(funcMap)
	if err := tm.LoadFromFS(fs); err != nil {
		return nil, err
	}
	return tm, nil
}

// LoadFromFS loads templates from an embedded filesystem
func (tm *TemplateManager) LoadFromFS(fs embed.FS) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Mold handles the layout/page relationship automatically once both
	// sides are parsed.
	engine, err := mold.New(fs,
		mold.WithRoot("templates"),
		mold.WithLayout("layouts/main_layout.html"),
		mold.WithFuncMap(tm.funcMap),
	)
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	tm.engine = engine
	return nil
}

// Render renders a page template (mold will automatically handle layout inheritance)
func (tm *TemplateManager) Render(w io.Writer, pageName string, data interface{}) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	return tm.engine.Render(w, pageName, data)
}

// AddFuncMap adds custom template functions
func (tm *TemplateManager) AddFuncMap(funcMap template.FuncMap) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for k, v := range funcMap {
		tm.funcMap[k] = v
	}
}
