package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"saifguard/internal/llm"
	"saifguard/internal/logging"
)

// InventoryLister enumerates a project's cloud resources. Each entry is
// the raw JSON of one resource search result.
type InventoryLister interface {
	ListResources(ctx context.Context, projectID string) ([]json.RawMessage, error)
}

// AuditProjectConfig tunes the project auditor.
type AuditProjectConfig struct {
	// DebugDumps writes the asset dump and guidance text to DumpDir for
	// troubleshooting prompt content.
	DebugDumps bool
	DumpDir    string
}

// NewAuditProjectTool builds the project auditor. It snapshots the
// project's asset inventory, pulls current SAIF guidance, and runs one
// completion under the deployment auditor prompt. The client should be
// tuned for report generation rather than chat turns.
func NewAuditProjectTool(client llm.Client, inventory InventoryLister, cfg AuditProjectConfig) *Tool {
	return &Tool{
		Name:        "audit_project",
		Description: "Analyze a GCP project referenced by a GCP project ID.",
		Schema: ToolSchema{
			Required: []string{"project_id"},
			Properties: map[string]Property{
				"project_id": {
					Type:        "string",
					Description: "GCP project ID",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			projectID, err := stringArg(args, "project_id")
			if err != nil {
				return "", err
			}

			logging.Tools("audit_project: project=%s", projectID)

			guidance, err := SearchGuidance(ctx, client)
			if err != nil {
				return "", err
			}

			assetDump := DumpInventory(ctx, inventory, projectID)

			if cfg.DebugDumps {
				writeDump(cfg.DumpDir, "asset_dump.txt", assetDump)
				writeDump(cfg.DumpDir, "saif_recommendations.txt", guidance)
			}

			report, err := AuditInventory(ctx, client, assetDump, guidance)
			if err != nil {
				return "", err
			}
			logging.Tools("audit_project: report_len=%d", len(report))
			return report, nil
		},
	}
}

// SearchGuidance fetches SAIF recommendations with a plain grounded
// query. The project auditor uses this short form rather than the
// site-pinned retrieval prompt.
func SearchGuidance(ctx context.Context, client llm.Client) (string, error) {
	text, _, err := client.CompleteGrounded(ctx, "latest Google SAIF recommendations")
	if err != nil {
		return "", fmt.Errorf("fetching SAIF guidance: %w", err)
	}
	return text, nil
}

// DumpInventory renders a project's resources as an indented JSON
// array. Inventory failures degrade to an empty dump with a logged
// error rather than failing the audit.
func DumpInventory(ctx context.Context, inventory InventoryLister, projectID string) string {
	resources, err := inventory.ListResources(ctx, projectID)
	if err != nil {
		logging.InventoryError("Listing resources for %s failed: %v", projectID, err)
		resources = nil
	}
	logging.Inventory("Asset inventory found %d resources for %s", len(resources), projectID)

	if len(resources) == 0 {
		return emptyInventoryText
	}
	dump, err := json.MarshalIndent(resources, "", "  ")
	if err != nil {
		logging.InventoryError("Rendering asset dump for %s failed: %v", projectID, err)
		return emptyInventoryText
	}
	return string(dump)
}

// AuditInventory runs the deployment auditor over an asset dump.
func AuditInventory(ctx context.Context, client llm.Client, assetDump, guidance string) (string, error) {
	prompt := deploymentAuditQueryPrompt +
		"\n\n" + assetDump +
		"\n\nLATEST SAIF RECOMMENDATIONS:\n" + guidance

	report, err := client.CompleteWithSystem(ctx, deploymentAuditorSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("project audit failed: %w", err)
	}
	return report, nil
}

func writeDump(dir, name, content string) {
	path := name
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.ToolsError("Creating dump dir %s failed: %v", dir, err)
			return
		}
		path = filepath.Join(dir, name)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		logging.ToolsError("Writing %s failed: %v", path, err)
	}
}
