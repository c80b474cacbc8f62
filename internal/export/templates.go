package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var studyTemplate = template.Must(template.New("study.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"inc":   func(i int) int { return i + 1 },
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"join": strings.Join,
}).ParseFS(templateFS, "templates/study.html"))

// RenderStudyHTML renders the printable questionnaire for snap.
func RenderStudyHTML(snap Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := studyTemplate.Execute(&buf, snap); err != nil {
		return "", err
	}
	return buf.String(), nil
}
