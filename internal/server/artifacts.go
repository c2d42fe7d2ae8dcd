package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/report"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
)

// artifactFiles are the images a test directory may hold.
var artifactFiles = map[string]string{
	"expected": compare.ExpectedFile,
	"actual":   compare.ActualFile,
	"diff":     compare.DiffFile,
}

// Artifacts serves the images and the run report of a test suite.
type Artifacts struct {
	root       string
	reportPath string
	logger     *slog.Logger
}

// NewArtifacts serves test directories below root. reportPath may be empty
// when no JSON report was written.
func NewArtifacts(root, reportPath string, logger *slog.Logger) *Artifacts {
	return &Artifacts{root: root, reportPath: reportPath, logger: logger}
}

// ImageHandler serves /tests/<name>/<expected|actual|diff>.png.
func (a *Artifacts) ImageHandler() http.Handler {
	return http.HandlerFunc(a.serveImage)
}

func (a *Artifacts) serveImage(w http.ResponseWriter, r *http.Request) {
	name, kind, ok := parseArtifactPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	fullPath := filepath.Join(a.root, filepath.FromSlash(name), artifactFiles[kind])
	if !fileExists(fullPath) {
		http.Error(w, "artifact not found: "+name+"/"+kind+".png", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, fullPath)
}

// ReportHandler serves the JSON run report. The file is read on every
// request so a new run shows up without restarting the server.
func (a *Artifacts) ReportHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep, err := a.loadReport()
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "no report", http.StatusNotFound)
			return
		}
		if err != nil {
			a.log().Error("failed to load report", "path", a.reportPath, "error", err)
			http.Error(w, "failed to load report", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			a.log().Error("failed to encode report", "error", err)
		}
	})
}

type indexPage struct {
	Totals   report.Totals
	Failures []runner.Result
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<title>renderdiff</title>
<h1>{{.Totals.Passed}} passed, {{.Totals.Failed}} failed, {{.Totals.Errored}} errored, {{.Totals.Skipped}} skipped</h1>
<table>
{{range .Failures}}<tr>
<td>{{.Name}}<br>{{.Reason}}</td>
<td><img src="/tests/{{.Name}}/expected.png" alt="expected"></td>
<td><img src="/tests/{{.Name}}/actual.png" alt="actual"></td>
<td><img src="/tests/{{.Name}}/diff.png" alt="diff"></td>
</tr>
{{end}}</table>
`))

// IndexHandler renders the failing tests of the last report side by side.
func (a *Artifacts) IndexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		var page indexPage
		if rep, err := a.loadReport(); err == nil {
			page.Totals = rep.Totals
			for _, res := range rep.Results {
				if failing(res) {
					page.Failures = append(page.Failures, res)
				}
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, page); err != nil {
			a.log().Error("failed to render index", "error", err)
		}
	})
}

func (a *Artifacts) loadReport() (*report.Report, error) {
	if a.reportPath == "" {
		return nil, fs.ErrNotExist
	}
	return report.Load(a.reportPath)
}

func (a *Artifacts) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

// parseArtifactPath splits /tests/<name>/<kind>.png. Names may contain
// slashes but never leave the suite root.
func parseArtifactPath(requestPath string) (name, kind string, ok bool) {
	rest, ok := strings.CutPrefix(requestPath, "/tests/")
	if !ok {
		return "", "", false
	}
	dir, file := path.Split(rest)
	kind, ok = strings.CutSuffix(file, ".png")
	if !ok {
		return "", "", false
	}
	if _, known := artifactFiles[kind]; !known {
		return "", "", false
	}
	name = strings.TrimSuffix(dir, "/")
	if name == "" || path.Clean(name) != name || !fs.ValidPath(name) {
		return "", "", false
	}
	return name, kind, true
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !st.IsDir()
}

// failing reports whether a result has artifacts worth looking at.
func failing(res runner.Result) bool {
	return res.Outcome == runner.Failed || res.Outcome == runner.Errored
}
