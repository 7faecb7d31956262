package webapp

import (
	"embed"
	"html/template"
	"io"

	"github.com/russross/blackfriday/v2"
)

var (
	//go:embed templates/*
	templateFS embed.FS

	templateManager *TemplateManager = nil

	// TemplateFuncMap contains custom template functions available globally
	TemplateFuncMap = template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
		"markdown": func(text string) template.HTML {
			return template.HTML(blackfriday.Run([]byte(text)))
		},
	}
)

func init() {
	var err error
	templateManager, err = NewTemplateManagerWithFuncMap(templateFS, TemplateFuncMap)
	if err != nil {
		panic(err)
	}
}

// RenderPage renders a page template inside the main layout.
func RenderPage(w io.Writer, pageName string, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	return templateManager.Render(w, "pages/"+pageName, data)
}
