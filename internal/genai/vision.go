package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/openai/openai-go"

	"github.com/PageSmith/PageSmith/internal/models"
)

// Vision input constants.
const (
	// maxVisionWidth is the width images are downscaled to before upload.
	maxVisionWidth = 768
	// visionJPEGQuality is the re-encode quality for the uploaded image.
	visionJPEGQuality = 80
)

const visionSystemPrompt = `You are a visual designer. Given a product photo and its
description, suggest a landing-page visual style. Reply with a single JSON
object: {"colors": ["#rrggbb", ...], "fonts": ["font name", ...]}. Suggest two
to four colors drawn from the photo and one or two fonts matching its mood.
If the photo is unusable, reply with an empty JSON object.`

// styleReply mirrors the JSON object the vision model is asked to produce.
type styleReply struct {
	Colors []string `json:"colors,omitempty"`
	Fonts  []string `json:"fonts,omitempty"`
}

// AnalyzeImageStyle derives a style suggestion from the primary image.
func (c *Client) AnalyzeImageStyle(ctx context.Context, imagePath, itemName, description string) (*models.StyleSuggestion, error) {
	dataURL, err := encodeImageForUpload(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image for analysis: %w", err)
	}

	prompt := fmt.Sprintf("Item: %s\nDescription: %s", itemName, description)
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}

	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.visionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(visionSystemPrompt),
			openai.UserMessage(parts),
		},
	})
	if err != nil {
		return nil, err
	}

	var reply styleReply
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &reply); err != nil {
		slog.Warn("GenAI style reply was not valid JSON", "error", err)
		return nil, fmt.Errorf("failed to parse style reply: %w", err)
	}
	if len(reply.Colors) == 0 && len(reply.Fonts) == 0 {
		slog.Debug("GenAI declined to suggest a style", "imagePath", imagePath)
		return nil, nil
	}

	slog.Debug("GenAI style analysis succeeded", "colors", len(reply.Colors), "fonts", len(reply.Fonts))
	return &models.StyleSuggestion{Colors: reply.Colors, Fonts: reply.Fonts}, nil
}

// encodeImageForUpload downscales the image and encodes it as a JPEG data URL.
func encodeImageForUpload(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to open image %s: %w", path, err)
	}
	if img.Bounds().Dx() > maxVisionWidth {
		img = imaging.Resize(img, maxVisionWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: visionJPEGQuality}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
