package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"

	"github.com/PageSmith/PageSmith/internal/models"
)

const extractionSystemPrompt = `You extract structured landing-page data from a single user message.
Reply with a single JSON object and nothing else. Use only the field names
listed in the schema. Omit any field the message does not clearly provide.
Never invent values and never repeat fields listed as already known.`

// extractionReply mirrors the JSON object the model is asked to produce.
type extractionReply struct {
	GeneralInfo map[string]string `json:"general_info,omitempty"`
	ItemFields  map[string]string `json:"item_fields,omitempty"`
	ItemCount   int               `json:"item_count,omitempty"`
}

// ExtractFields asks the model to pull structured field values out of one utterance.
func (c *Client) ExtractFields(ctx context.Context, utterance, schemaHint string, knownFields map[string]string) (models.PartialUpdate, error) {
	var sb strings.Builder
	sb.WriteString("Schema for this stage:\n")
	sb.WriteString(schemaHint)
	if len(knownFields) > 0 {
		sb.WriteString("\n\nAlready known (do not re-extract):\n")
		keys := make([]string, 0, len(knownFields))
		for k := range knownFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, knownFields[k])
		}
	}
	sb.WriteString("\n\nUser message:\n")
	sb.WriteString(utterance)

	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		return models.PartialUpdate{}, err
	}

	var reply extractionReply
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &reply); err != nil {
		slog.Warn("GenAI extraction reply was not valid JSON", "error", err, "content_length", len(content))
		return models.PartialUpdate{}, fmt.Errorf("failed to parse extraction reply: %w", err)
	}

	update := models.PartialUpdate{
		GeneralInfo: reply.GeneralInfo,
		ItemFields:  reply.ItemFields,
		ItemCount:   reply.ItemCount,
	}
	slog.Debug("GenAI extraction succeeded", "general_fields", len(update.GeneralInfo), "item_fields", len(update.ItemFields), "item_count", update.ItemCount)
	return update, nil
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON reply in one.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
