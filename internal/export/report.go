package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"taskhub/api/internal/store"
)

type reportRow struct {
	Name       string
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Percent    int
}

type reportData struct {
	GeneratedAt string
	Rows        []reportRow
}

// TeamProgressPDF renders the per-member progress table as a PDF report.
func TeamProgressPDF(rows []store.MemberProgress, generatedAt time.Time) (*Result, error) {
	data := reportData{
		GeneratedAt: generatedAt.Format("2 Jan 2006 15:04"),
	}
	for _, row := range rows {
		percent := 0
		if row.Total > 0 {
			percent = row.Completed * 100 / row.Total
		}
		data.Rows = append(data.Rows, reportRow{
			Name:       row.Name,
			Total:      row.Total,
			Pending:    row.Pending,
			InProgress: row.InProgress,
			Completed:  row.Completed,
			Percent:    percent,
		})
	}

	html, err := renderReport(data)
	if err != nil {
		return nil, err
	}
	return renderPDF(html, "team-progress")
}

func renderReport(data reportData) (string, error) {
	t := template.Must(template.New("report").Parse(teamProgressTemplate))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render progress report: %w", err)
	}
	return buf.String(), nil
}

const teamProgressTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Team Progress</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333; margin: 0; padding: 24px; }
        h1 { border-bottom: 2px solid #0066cc; padding-bottom: 8px; }
        .meta { color: #666; font-size: 12px; margin-bottom: 24px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 8px 12px; border-bottom: 1px solid #eee; }
        th { background: #f7f9fc; }
        td.num { text-align: right; }
    </style>
</head>
<body>
    <h1>Team Progress</h1>
    <p class="meta">Generated {{.GeneratedAt}}</p>

    <table>
        <tr>
            <th>Member</th>
            <th>Total</th>
            <th>Pending</th>
            <th>In Progress</th>
            <th>Completed</th>
            <th>Done</th>
        </tr>
        {{range .Rows}}
        <tr>
            <td>{{.Name}}</td>
            <td class="num">{{.Total}}</td>
            <td class="num">{{.Pending}}</td>
            <td class="num">{{.InProgress}}</td>
            <td class="num">{{.Completed}}</td>
            <td class="num">{{.Percent}}%</td>
        </tr>
        {{end}}
    </table>
</body>
</html>`
