package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a session and its records as a markdown document.
func ExportMarkdown(sess *Session, records []Record) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s\n\n", sess.Name))
	b.WriteString(fmt.Sprintf("- **Session:** %s\n", sess.ID))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", sess.Status))
	b.WriteString("\n---\n\n")

	for _, r := range records {
		b.WriteString(fmt.Sprintf("## $ %s\n\n", r.Command))
		if r.Output != "" {
			b.WriteString(fmt.Sprintf("```\n%s\n```\n\n", strings.TrimRight(r.Output, "\n")))
		}
		b.WriteString(fmt.Sprintf("- **Exit code:** %s\n", r.ExitCode))
		if r.ExpectString != "" {
			b.WriteString(fmt.Sprintf("- **Matched:** `%s`\n", r.ExpectString))
		}
		if r.FailureReason != "" {
			b.WriteString(fmt.Sprintf("- **Failure:** %s\n", r.FailureReason))
		}
		if r.Error != "" {
			b.WriteString(fmt.Sprintf("- **Error:** %s\n", r.Error))
		}
		b.WriteString(fmt.Sprintf("- **Duration:** %s\n\n", r.Duration))
	}

	return b.String()
}

// ExportJSON renders a session and its records as formatted JSON.
func ExportJSON(sess *Session, records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	export := struct {
		Session *Session `json:"session"`
		Records []Record `json:"records"`
	}{
		Session: sess,
		Records: records,
	}
	return json.MarshalIndent(export, "", "  ")
}
