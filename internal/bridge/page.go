package bridge

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	"sort"

	"github.com/tutu-network/anoncredits/internal/security"
)

//go:embed bridge.html
var pageSource string

var pageTemplate = template.Must(template.New("bridge").Parse(pageSource))

type pageData struct {
	AllowedOrigins []string
}

// RenderPage renders the bridge document for allow.
func RenderPage(allow *security.AllowList) ([]byte, error) {
	patterns := allow.Patterns()
	if patterns == nil {
		patterns = []string{}
	}
	sort.Strings(patterns)
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{AllowedOrigins: patterns}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PageHandler serves the bridge document. The page is rendered once.
func PageHandler(allow *security.AllowList) (http.Handler, error) {
	body, err := RenderPage(allow)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", "text/html; charset=utf-8")
		h.Set("Cache-Control", "no-store")
		h.Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}), nil
}
