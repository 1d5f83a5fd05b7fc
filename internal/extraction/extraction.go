package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PageSmith/PageSmith/internal/genai"
	"github.com/PageSmith/PageSmith/internal/models"
)

// Short field descriptions included in the schema hint sent to the gateway.
var fieldDescriptions = map[string]string{
	models.FieldGoal:                "what the page should achieve",
	models.FieldAudience:            "who the page is for",
	models.FieldStyle:               "desired visual style or mood",
	models.FieldPreferredColors:     "preferred color palette",
	models.FieldLanguage:            "language of the page copy",
	models.FieldNotificationChannel: "how the owner wants lead notifications (email/phone)",
	models.FieldNotificationTarget:  "address for lead notifications",
	models.FieldOrganizationInfo:    "short blurb about the organization",
	models.ItemFieldName:            "item name",
	models.ItemFieldDescription:     "item description",
	models.ItemFieldPriceBefore:     "original price before discount",
	models.ItemFieldPriceAfter:      "effective price",
	models.ItemFieldSellingPoint:    "unique selling point",
	models.ItemFieldCount:           "how many items the page will present",
}

// Pipeline merges deterministic extraction with LLM-assisted extraction.
type Pipeline struct {
	gateway genai.ClientInterface
}

// NewPipeline creates an extraction pipeline. The gateway may be nil, in which
// case only deterministic rules run.
func NewPipeline(gateway genai.ClientInterface) *Pipeline {
	return &Pipeline{gateway: gateway}
}

// Extract turns one utterance into a partial field update for the current
// stage. Deterministic rules run first; the gateway is invoked only when
// required fields remain unresolved, and its values never override
// deterministic ones.
//
// A malformed gateway reply degrades to deterministic-only extraction and is
// not an error. Gateway retry exhaustion is returned alongside the
// deterministic results so the caller can surface a retryable failure without
// losing already-extracted fields.
func (p *Pipeline) Extract(ctx context.Context, utterance string, stage models.Stage, mode models.Mode, data *models.CollectedData) (models.PartialUpdate, error) {
	var update models.PartialUpdate
	if strings.TrimSpace(utterance) == "" {
		return update, nil
	}

	switch stage {
	case models.StageGeneral:
		applyGeneralRules(utterance, &update)
	case models.StageItems:
		applyItemRules(utterance, &update)
	default:
		// Verification and generation turns carry confirmations, not data.
		return update, nil
	}

	missing := missingRequiredFields(stage, mode, data, &update)
	if len(missing) == 0 {
		slog.Debug("Extraction satisfied by deterministic rules, skipping LLM", "stage", stage, "general_fields", len(update.GeneralInfo), "item_fields", len(update.ItemFields))
		return update, nil
	}
	if p.gateway == nil {
		return update, nil
	}

	llmUpdate, err := p.gateway.ExtractFields(ctx, utterance, schemaHint(missing), knownFields(stage, data))
	if err != nil {
		if errors.Is(err, models.ErrGatewayExhausted) {
			slog.Error("LLM extraction exhausted retries", "error", err, "stage", stage)
			return update, err
		}
		slog.Warn("LLM extraction failed, continuing with deterministic results", "error", err, "stage", stage)
		return update, nil
	}
	update.Merge(filterToVocabulary(llmUpdate))
	return update, nil
}

// missingRequiredFields lists the stage's required fields still absent after
// considering both the collected data and the pending update.
func missingRequiredFields(stage models.Stage, mode models.Mode, data *models.CollectedData, update *models.PartialUpdate) []string {
	var missing []string
	switch stage {
	case models.StageGeneral:
		for _, field := range models.RequiredGeneralFields {
			if data.GeneralInfo[field] == "" && update.GeneralInfo[field] == "" {
				missing = append(missing, field)
			}
		}
	case models.StageItems:
		item := &models.Item{}
		if len(data.Items) > 0 {
			item = &data.Items[len(data.Items)-1]
		}
		for _, field := range models.RequiredItemFields {
			if item.Field(field) == "" && update.ItemFields[field] == "" {
				missing = append(missing, field)
			}
		}
		if mode == models.ModeMultiItem && data.ItemCount == 0 && update.ItemCount == 0 {
			missing = append(missing, models.ItemFieldCount)
		}
	}
	return missing
}

// schemaHint renders the missing-field schema sent to the gateway.
func schemaHint(missing []string) string {
	var sb strings.Builder
	for _, field := range missing {
		fmt.Fprintf(&sb, "- %s: %s\n", field, fieldDescriptions[field])
	}
	return sb.String()
}

// knownFields summarizes already-collected values for the gateway prompt.
func knownFields(stage models.Stage, data *models.CollectedData) map[string]string {
	known := make(map[string]string)
	switch stage {
	case models.StageGeneral:
		for k, v := range data.GeneralInfo {
			if v != "" {
				known[k] = v
			}
		}
	case models.StageItems:
		if len(data.Items) > 0 {
			item := &data.Items[len(data.Items)-1]
			for _, field := range []string{models.ItemFieldName, models.ItemFieldDescription, models.ItemFieldPriceBefore, models.ItemFieldPriceAfter, models.ItemFieldSellingPoint} {
				if v := item.Field(field); v != "" {
					known[field] = v
				}
			}
		}
	}
	return known
}

// filterToVocabulary drops any LLM-invented keys outside the fixed vocabulary.
func filterToVocabulary(update models.PartialUpdate) models.PartialUpdate {
	filtered := models.PartialUpdate{ItemCount: update.ItemCount}
	for k, v := range update.GeneralInfo {
		if _, known := fieldDescriptions[k]; known && v != "" {
			if filtered.GeneralInfo == nil {
				filtered.GeneralInfo = make(map[string]string)
			}
			filtered.GeneralInfo[k] = v
		}
	}
	for k, v := range update.ItemFields {
		if _, known := fieldDescriptions[k]; known && v != "" {
			if filtered.ItemFields == nil {
				filtered.ItemFields = make(map[string]string)
			}
			filtered.ItemFields[k] = v
		}
	}
	return filtered
}
