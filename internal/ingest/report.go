package ingest

import (
	"fmt"
	"html/template"
	"os"
)

// reportTmpl renders the run summary. Styling is deliberately minimal; the
// contract is the data: totals, per-file table, failures, mismatches, and
// duplicates.
var reportFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"verified": func(e *FileEntry) string {
		switch {
		case e.Verified == nil:
			return ""
		case *e.Verified:
			return "ok"
		default:
			return "MISMATCH"
		}
	},
}

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Ingest Report {{.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; font-size: 14px; }
th { background: #f0f0f0; }
.ok { color: #2a7a2a; }
.bad { color: #b03030; }
</style>
</head>
<body>
<h1>Ingest Report</h1>
<p>Run {{.RunID}}<br>
Source: {{.Source}}<br>
Project: {{.ProjectRoot}}<br>
Started: {{.StartedAt.Format "2006-01-02 15:04:05"}} &middot; Finished: {{.FinishedAt.Format "2006-01-02 15:04:05"}}<br>
Hash: {{.HashAlgorithm}} &middot; Verify: {{.VerifyMode}} &middot; Dedupe: {{.Dedupe}}</p>

<h2 class="{{if .SafeToFormat}}ok{{else}}bad{{end}}">
{{if .SafeToFormat}}SAFE TO FORMAT SOURCE{{else}}DO NOT FORMAT SOURCE{{end}}
</h2>

<h2>Totals</h2>
<table>
<tr><th>Files</th><th>Copied</th><th>Already present</th><th>Duplicates</th><th>Errors</th>
<th>Bytes copied</th><th>Bytes saved</th><th>Verified</th><th>Mismatches</th>
<th>Unreadable</th><th>Black frames</th></tr>
<tr><td>{{.Totals.Files}}</td><td>{{.Totals.Copied}}</td><td>{{.Totals.SkippedExists}}</td>
<td>{{.Totals.SkippedDuplicates}}</td><td>{{.Totals.Errors}}</td><td>{{.Totals.BytesCopied}}</td>
<td>{{.Totals.BytesSaved}}</td><td>{{.Totals.Verified}}</td><td>{{.Totals.VerifiedMismatch}}</td>
<td>{{.Totals.TriageUnreadable}}</td><td>{{.Totals.TriageBlackFrames}}</td></tr>
</table>

{{if .Failures}}
<h2>Failures</h2>
<table>
<tr><th>File</th><th>Error</th></tr>
{{range .Failures}}<tr><td>{{.Src}}</td><td>{{.Error}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Mismatches}}
<h2>Verification mismatches</h2>
<table>
<tr><th>File</th><th>Copy digest</th><th>Destination digest</th></tr>
{{range .Mismatches}}<tr><td>{{.Src}}</td><td>{{.Hash}}</td><td>{{.HashDest}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Duplicates}}
<h2>Duplicates</h2>
<table>
<tr><th>File</th><th>Duplicate of</th><th>Bytes saved</th></tr>
{{range .Duplicates}}<tr><td>{{.Src}}</td><td>{{.DuplicateOf}}</td><td>{{.Size}}</td></tr>
{{end}}
</table>
{{end}}

<h2>Files</h2>
<table>
<tr><th>#</th><th>Source</th><th>Status</th><th>Destination</th><th>Size</th><th>Digest</th><th>Verified</th><th>Triage</th></tr>
{{range $i, $e := .Files}}
<tr>
<td>{{inc $i}}</td>
<td>{{$e.Src}}</td>
<td>{{$e.Status}}</td>
<td>{{$e.Dst}}</td>
<td>{{$e.Size}}</td>
<td>{{$e.Hash}}</td>
<td>{{verified $e}}</td>
<td>{{range $e.Triage}}{{.Kind}} ({{printf "%.2f" .Confidence}}) {{end}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

type reportData struct {
	*Manifest
	Failures   []*FileEntry
	Mismatches []*FileEntry
	Duplicates []*FileEntry
}

// WriteHTMLReport renders the manifest as an HTML summary document.
func WriteHTMLReport(path string, m *Manifest) error {
	data := reportData{Manifest: m}
	for _, e := range m.Files {
		switch {
		case e.Status == StatusError:
			data.Failures = append(data.Failures, e)
		case e.Status == StatusSkippedDuplicate:
			data.Duplicates = append(data.Duplicates, e)
		}
		if e.Verified != nil && !*e.Verified {
			data.Mismatches = append(data.Mismatches, e)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := reportTmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
