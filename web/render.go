// Package web holds the page templates and the gin renderer for them.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"time"

	"lending_portal/backend"

	"github.com/gin-gonic/gin/render"
)

//go:embed templates/*.html
var templates embed.FS

const layout = "base.html"

var funcs = template.FuncMap{
	"date": func(t any) string {
		switch v := t.(type) {
		case time.Time:
			if v.IsZero() {
				return ""
			}
			return v.Local().Format("2006-01-02 15:04")
		case *time.Time:
			if v == nil || v.IsZero() {
				return ""
			}
			return v.Local().Format("2006-01-02 15:04")
		}
		return ""
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"status": func(s backend.Status) string {
		switch s {
		case backend.StatusRequest:
			return "Pending"
		case backend.StatusApproved:
			return "On loan"
		case backend.StatusReturned:
			return "Returned"
		case backend.StatusRejected:
			return "Rejected"
		case backend.StatusCancelled:
			return "Cancelled"
		}
		return string(s)
	},
	"add": func(a, b int) int { return a + b },
	"sub": func(a, b int) int { return a - b },
	"list": func(v ...string) []string { return v },
}

// Renderer 每个页面一套模板：base.html + 页面本身
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	names, err := fs.Glob(templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: map[string]*template.Template{}}
	for _, n := range names {
		page := path.Base(n)
		if page == layout {
			continue
		}
		t, err := template.New(page).Funcs(funcs).ParseFS(templates, "templates/"+layout, n)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		r.pages[strings.TrimSuffix(page, ".html")] = t
	}
	return r, nil
}

// Instance 实现 gin 的 render.HTMLRender；name 不带 .html
func (r *Renderer) Instance(name string, data any) render.Render {
	t, ok := r.pages[name]
	if !ok {
		t = template.Must(template.New("missing").Parse(`missing page {{.}}`))
		return render.HTML{Template: t, Name: "missing", Data: name}
	}
	return render.HTML{Template: t, Name: layout, Data: data}
}

// Has reports whether a page template exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}
