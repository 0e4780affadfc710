package tools

import (
	"context"
	"fmt"
	"strings"

	"saifguard/internal/llm"
	"saifguard/internal/logging"
)

// NewAnalyzeDocumentTool builds the document auditor. It pulls current
// SAIF guidance via grounded search, then runs one completion over the
// query prompt, the document itself, and the guidance text. Documents
// are referenced by GCS URI, which only the vertex backend can read.
func NewAnalyzeDocumentTool(client llm.Client) *Tool {
	return &Tool{
		Name:        "analyze_document",
		Description: "Analyze a document provided as a GCS uri.",
		Schema: ToolSchema{
			Required: []string{"gcs_uri"},
			Properties: map[string]Property{
				"gcs_uri": {
					Type:        "string",
					Description: "Document GCS uri",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			gcsURI, err := stringArg(args, "gcs_uri")
			if err != nil {
				return "", err
			}
			if !strings.HasPrefix(gcsURI, "gs://") {
				return "", fmt.Errorf("gcs_uri must start with gs://, got %q", gcsURI)
			}

			logging.Tools("analyze_document: uri=%s", gcsURI)

			guidance, err := FetchSAIFGuidance(ctx, client)
			if err != nil {
				return "", err
			}

			report, err := client.CompleteWithDocument(ctx,
				documentAuditorSystemPrompt,
				[]string{
					documentAuditQueryPrompt,
					"LATEST SAIF RECOMMENDATIONS:\n" + guidance,
				},
				gcsURI,
				"application/pdf",
			)
			if err != nil {
				return "", fmt.Errorf("document analysis failed: %w", err)
			}
			logging.Tools("analyze_document: report_len=%d", len(report))
			return report, nil
		},
	}
}
