// Package report turns a project audit into BigQuery dashboard rows.
//
// Run drives the full pipeline: asset inventory snapshot and SAIF
// guidance fetch (concurrently), markdown report generation, model
// reformatting of the report into structured finding rows, then the
// BigQuery upload and local report persistence (concurrently).
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"saifguard/internal/bigquery"
	"saifguard/internal/llm"
	"saifguard/internal/logging"
	"saifguard/internal/tools"
)

// Inserter streams finding rows to the dashboard table.
type Inserter interface {
	InsertRows(ctx context.Context, rows []bigquery.Row) error
	Table() string
}

// Saver persists the markdown report locally.
type Saver interface {
	SaveReport(projectID, markdown string, rowCount int) (string, error)
}

// Finding is one structured row extracted from the markdown report.
type Finding struct {
	Severity      string `json:"severity"`
	Vulnerability string `json:"vulnerability"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	Remediation   string `json:"remediation"`
}

// Result summarizes one pipeline run.
type Result struct {
	ReportID  string
	ProjectID string
	Markdown  string
	RowCount  int
}

// Pipeline wires the audit stages together.
type Pipeline struct {
	client    llm.Client
	inventory tools.InventoryLister
	inserter  Inserter
	saver     Saver
}

// New builds a pipeline. The client should be tuned for report
// generation. saver may be nil when local persistence is not wanted.
func New(client llm.Client, inventory tools.InventoryLister, inserter Inserter, saver Saver) *Pipeline {
	return &Pipeline{
		client:    client,
		inventory: inventory,
		inserter:  inserter,
		saver:     saver,
	}
}

// findingsSchema enforces the row shape on the reformatting call.
const findingsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "severity": {"type": "string", "enum": ["Critical", "High", "Medium"]},
      "vulnerability": {"type": "string"},
      "location": {"type": "string"},
      "description": {"type": "string"},
      "remediation": {"type": "string"}
    },
    "required": ["severity", "vulnerability", "description", "remediation"]
  }
}`

const findingsSystemPrompt = "You convert security audit reports into structured data. Extract every finding from the report exactly as written. Do not invent findings that are not in the report."

const findingsQueryPrompt = "Extract all vulnerabilities from the following security audit report as a JSON array of findings. Preserve severity (Critical, High or Medium), vulnerability, location, description and remediation for each.\n\nREPORT:\n"

// Run executes the full pipeline for one project.
func (p *Pipeline) Run(ctx context.Context, projectID string) (*Result, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is empty")
	}

	start := time.Now()
	logging.Report("Pipeline start: project=%s", projectID)

	// Inventory and guidance are independent fetches.
	var assetDump, guidance string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assetDump = tools.DumpInventory(gctx, p.inventory, projectID)
		return nil
	})
	g.Go(func() error {
		var err error
		guidance, err = tools.SearchGuidance(gctx, p.client)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gathering audit context: %w", err)
	}

	markdown, err := tools.AuditInventory(ctx, p.client, assetDump, guidance)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	logging.ReportDebug("Pipeline report generated: project=%s report_len=%d", projectID, len(markdown))

	findings, err := p.extractFindings(ctx, markdown)
	if err != nil {
		return nil, fmt.Errorf("extracting findings: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]bigquery.Row, len(findings))
	for i, f := range findings {
		rows[i] = bigquery.Row{
			"project_id":    projectID,
			"severity":      f.Severity,
			"vulnerability": f.Vulnerability,
			"location":      f.Location,
			"description":   f.Description,
			"remediation":   f.Remediation,
			"timestamp":     now,
		}
	}

	// Upload and persistence are independent sinks.
	result := &Result{ProjectID: projectID, Markdown: markdown, RowCount: len(rows)}
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.inserter.InsertRows(gctx, rows); err != nil {
			return fmt.Errorf("uploading to %s: %w", p.inserter.Table(), err)
		}
		return nil
	})
	g.Go(func() error {
		if p.saver == nil {
			return nil
		}
		id, err := p.saver.SaveReport(projectID, markdown, len(rows))
		if err != nil {
			return fmt.Errorf("persisting report: %w", err)
		}
		result.ReportID = id
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logging.Report("Pipeline done: project=%s rows=%d in %v", projectID, len(rows), time.Since(start))
	return result, nil
}

// extractFindings asks the model to reformat the markdown report into
// rows. Models without response schema support fall back to a plain
// JSON instruction.
func (p *Pipeline) extractFindings(ctx context.Context, markdown string) ([]Finding, error) {
	text, err := p.client.CompleteWithSchema(ctx, findingsSystemPrompt, findingsQueryPrompt+markdown, findingsSchema)
	if errors.Is(err, llm.ErrSchemaNotSupported) {
		logging.ReportDebug("Response schema unsupported, falling back to plain JSON instruction")
		text, err = p.client.CompleteWithSystem(ctx, findingsSystemPrompt,
			findingsQueryPrompt+markdown+"\n\nRespond with only the JSON array, no markdown fences.")
	}
	if err != nil {
		return nil, err
	}

	return parseFindings(text)
}

// parseFindings decodes the model's row array, tolerating markdown
// fences around the JSON.
func parseFindings(text string) ([]Finding, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var findings []Finding
	if err := json.Unmarshal([]byte(cleaned), &findings); err != nil {
		return nil, fmt.Errorf("parsing findings JSON: %w", err)
	}
	return findings, nil
}
