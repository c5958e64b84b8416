package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/dpcore/statement-service/internal/domain"
)

// Builder renders the HTML document for a member that the render service
// turns into a PDF. One builder serves all tab types.
type Builder struct {
	statement *template.Template
	noPlay    *template.Template
}

// NewBuilder parses the document templates. Returns an error only when a
// template fails to parse, which indicates a build problem.
func NewBuilder() (*Builder, error) {
	statement, err := template.New("statement").Parse(statementTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse statement template: %w", err)
	}

	noPlay, err := template.New("no_play").Parse(noPlayTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse no-play template: %w", err)
	}

	return &Builder{statement: statement, noPlay: noPlay}, nil
}

type activityLine struct {
	Date        string
	Description string
	Amount      string
}

type documentData struct {
	Account         string
	Name            string
	StatementPeriod string
	NoPlayStatus    string
	GeneratedAt     string
	Activity        []activityLine
}

// BuildHTML produces the document markup for one member. Malformed
// player activity data is skipped rather than failing the member, since
// the legacy importer left some rows with partial JSON.
func (b *Builder) BuildHTML(tab domain.TabType, rec *domain.AccountRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("account record is required")
	}

	data := documentData{
		Account:         rec.Account,
		Name:            rec.Name,
		StatementPeriod: rec.StatementPeriod,
		NoPlayStatus:    rec.NoPlayStatus,
		GeneratedAt:     time.Now().UTC().Format("2006-01-02 15:04 MST"),
		Activity:        parseActivity(rec.PlayerData),
	}

	var tmpl *template.Template
	switch tab {
	case domain.TabStatement:
		tmpl = b.statement
	case domain.TabNoPlay:
		tmpl = b.noPlay
	default:
		return "", fmt.Errorf("unsupported tab type %q", tab)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render document template: %w", err)
	}

	return buf.String(), nil
}

type rawActivity struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

func parseActivity(raw []byte) []activityLine {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var entries []rawActivity
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	lines := make([]activityLine, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, activityLine{
			Date:        e.Date,
			Description: e.Description,
			Amount:      fmt.Sprintf("%.2f", e.Amount),
		})
	}
	return lines
}

const statementTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; margin: 40px; color: #1a1a1a; }
  h1 { font-size: 20px; border-bottom: 2px solid #333; padding-bottom: 8px; }
  .meta { margin: 16px 0; font-size: 13px; }
  .meta div { margin-bottom: 4px; }
  table { width: 100%; border-collapse: collapse; margin-top: 16px; font-size: 12px; }
  th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; }
  th { background: #f2f2f2; }
  td.amount { text-align: right; }
  .footer { margin-top: 32px; font-size: 10px; color: #777; }
</style>
</head>
<body>
  <h1>Player Statement</h1>
  <div class="meta">
    <div><strong>Account:</strong> {{.Account}}</div>
    <div><strong>Name:</strong> {{.Name}}</div>
    {{if .StatementPeriod}}<div><strong>Period:</strong> {{.StatementPeriod}}</div>{{end}}
  </div>
  {{if .Activity}}
  <table>
    <thead>
      <tr><th>Date</th><th>Description</th><th>Amount</th></tr>
    </thead>
    <tbody>
      {{range .Activity}}
      <tr><td>{{.Date}}</td><td>{{.Description}}</td><td class="amount">{{.Amount}}</td></tr>
      {{end}}
    </tbody>
  </table>
  {{else}}
  <p>No activity recorded for this period.</p>
  {{end}}
  <div class="footer">Generated {{.GeneratedAt}}</div>
</body>
</html>`

const noPlayTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; margin: 40px; color: #1a1a1a; }
  h1 { font-size: 20px; border-bottom: 2px solid #333; padding-bottom: 8px; }
  .meta { margin: 16px 0; font-size: 13px; }
  .meta div { margin-bottom: 4px; }
  .status { margin-top: 24px; padding: 12px; background: #f8f8f8; border-left: 4px solid #666; font-size: 13px; }
  .footer { margin-top: 32px; font-size: 10px; color: #777; }
</style>
</head>
<body>
  <h1>No-Play Confirmation</h1>
  <div class="meta">
    <div><strong>Account:</strong> {{.Account}}</div>
    <div><strong>Name:</strong> {{.Name}}</div>
    {{if .StatementPeriod}}<div><strong>Period:</strong> {{.StatementPeriod}}</div>{{end}}
  </div>
  <div class="status">
    This account recorded no gaming activity for the statement period.
    {{if .NoPlayStatus}}Status: {{.NoPlayStatus}}{{end}}
  </div>
  <div class="footer">Generated {{.GeneratedAt}}</div>
</body>
</html>`
