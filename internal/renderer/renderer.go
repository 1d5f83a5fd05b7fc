// Package renderer defines the content-renderer boundary and ships a
// reference implementation that turns collected page data into a static HTML
// bundle. The dispatcher's obligation ends at handing over an aggregate that
// passed verification; everything past this interface is the renderer's own.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/util"
)

// ArtifactBundle describes a generated page bundle on disk.
type ArtifactBundle struct {
	// Dir is the bundle's working directory; attachment ownership transfers
	// here on successful generation.
	Dir string
	// IndexPath is the entry document of the bundle.
	IndexPath string
}

// Renderer turns a verified CollectedData aggregate into an artifact bundle.
type Renderer interface {
	Render(ctx context.Context, userID string, data *models.CollectedData) (*ArtifactBundle, error)
}

// HTMLRenderer is the reference Renderer: it assembles a markdown document
// from the aggregate and converts it to HTML with goldmark.
type HTMLRenderer struct {
	outputDir string
	md        goldmark.Markdown
}

// NewHTMLRenderer creates a renderer writing bundles under outputDir.
func NewHTMLRenderer(outputDir string) (*HTMLRenderer, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("renderer output directory not set")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create renderer output directory: %w", err)
	}
	return &HTMLRenderer{
		outputDir: outputDir,
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

// Render writes the HTML bundle for the collected data. Each generation gets
// its own directory so a retry never clobbers an earlier bundle.
func (r *HTMLRenderer) Render(ctx context.Context, userID string, data *models.CollectedData) (*ArtifactBundle, error) {
	dir := filepath.Join(r.outputDir, userID+"-"+util.GenerateBundleID())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	var html bytes.Buffer
	if err := r.md.Convert([]byte(buildMarkdown(data)), &html); err != nil {
		return nil, fmt.Errorf("failed to render page markdown: %w", err)
	}

	indexPath := filepath.Join(dir, "index.html")
	page := fmt.Sprintf(pageTemplate, pageTitle(data), styleBlock(data), html.String())
	if err := os.WriteFile(indexPath, []byte(page), 0644); err != nil {
		return nil, fmt.Errorf("failed to write bundle index: %w", err)
	}

	slog.Info("Renderer produced bundle", "userID", userID, "index", indexPath)
	return &ArtifactBundle{Dir: dir, IndexPath: indexPath}, nil
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title><style>%s</style></head>
<body>%s</body>
</html>
`

func pageTitle(data *models.CollectedData) string {
	if len(data.Items) > 0 && data.Items[0].Name != "" {
		return data.Items[0].Name
	}
	return "Landing Page"
}

// styleBlock prefers the enrichment suggestion; without one the renderer
// falls back to text-only style inference from the style field.
func styleBlock(data *models.CollectedData) string {
	accent := "#336699"
	font := "sans-serif"
	if data.Enrichment != nil {
		if len(data.Enrichment.Colors) > 0 {
			accent = data.Enrichment.Colors[0]
		}
		if len(data.Enrichment.Fonts) > 0 {
			font = data.Enrichment.Fonts[0]
		}
	} else if strings.Contains(strings.ToLower(data.GeneralInfo[models.FieldStyle]), "elegant") {
		font = "serif"
	}
	return fmt.Sprintf("body{font-family:%s;max-width:720px;margin:2rem auto}h1,h2{color:%s}", font, accent)
}

func buildMarkdown(data *models.CollectedData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", pageTitle(data))
	if goal := data.GeneralInfo[models.FieldGoal]; goal != "" {
		fmt.Fprintf(&sb, "%s\n\n", goal)
	}
	for i := range data.Items {
		item := &data.Items[i]
		if len(data.Items) > 1 {
			fmt.Fprintf(&sb, "## %s\n\n", item.Name)
		}
		if item.Description != "" {
			fmt.Fprintf(&sb, "%s\n\n", item.Description)
		}
		if item.SellingPoint != "" {
			fmt.Fprintf(&sb, "**%s**\n\n", item.SellingPoint)
		}
		for _, feature := range item.Features {
			fmt.Fprintf(&sb, "- %s\n", feature)
		}
		if len(item.Features) > 0 {
			sb.WriteString("\n")
		}
		if item.PriceBefore != "" && item.PriceAfter != "" {
			fmt.Fprintf(&sb, "~~%s~~ **%s**\n\n", item.PriceBefore, item.PriceAfter)
		} else if item.PriceAfter != "" {
			fmt.Fprintf(&sb, "**%s**\n\n", item.PriceAfter)
		}
	}
	for _, att := range data.Attachments {
		if att.Role == models.RolePrimaryImage {
			fmt.Fprintf(&sb, "![primary](attachments/%s)\n\n", filepath.Base(att.Path))
			break
		}
	}
	if org := data.GeneralInfo[models.FieldOrganizationInfo]; org != "" {
		fmt.Fprintf(&sb, "---\n\n%s\n", org)
	}
	return sb.String()
}
