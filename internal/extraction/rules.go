// Package extraction turns a single inbound utterance into a partial
// structured-field update. Deterministic rules run first; the LLM gateway is
// consulted only for required fields the rules could not resolve.
package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PageSmith/PageSmith/internal/models"
)

// Prefixed declaration patterns for general-info fields, e.g. "goal: sell candles".
var generalFieldPatterns = map[string]*regexp.Regexp{
	models.FieldGoal:             regexp.MustCompile(`(?i)\bgoal\s*[:\-]\s*(.+)`),
	models.FieldAudience:         regexp.MustCompile(`(?i)\baudience\s*[:\-]\s*(.+)`),
	models.FieldStyle:            regexp.MustCompile(`(?i)\bstyle\s*[:\-]\s*(.+)`),
	models.FieldPreferredColors:  regexp.MustCompile(`(?i)\bcolou?rs?\s*[:\-]\s*(.+)`),
	models.FieldLanguage:         regexp.MustCompile(`(?i)\blanguage\s*[:\-]\s*(.+)`),
	models.FieldOrganizationInfo: regexp.MustCompile(`(?i)\b(?:company|organization|about us)\s*[:\-]\s*(.+)`),
}

// Prefixed declaration patterns for item fields.
var itemFieldPatterns = map[string]*regexp.Regexp{
	models.ItemFieldName:         regexp.MustCompile(`(?i)\b(?:name|product|item)\s*[:\-]\s*(.+)`),
	models.ItemFieldDescription:  regexp.MustCompile(`(?i)\bdescription\s*[:\-]\s*(.+)`),
	models.ItemFieldSellingPoint: regexp.MustCompile(`(?i)\b(?:usp|selling point)\s*[:\-]\s*(.+)`),
}

var (
	// Price phrases. "now"/"price" values are the effective price, "was"/"before"
	// values the crossed-out one.
	priceAfterPattern  = regexp.MustCompile(`(?i)\b(?:price|costs?|now)\s*[:\-]?\s*([$€]?\s?\d+(?:[.,]\d{1,2})?)`)
	priceBeforePattern = regexp.MustCompile(`(?i)\b(?:was|before|old price|instead of)\s*[:\-]?\s*([$€]?\s?\d+(?:[.,]\d{1,2})?)`)

	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	phonePattern = regexp.MustCompile(`\+\d{7,15}\b`)

	itemCountPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(?:items|products|offers|positions)\b`)

	featureLinePattern = regexp.MustCompile(`(?m)^\s*[-*•]\s+(.+)$`)
)

// applyGeneralRules runs the deterministic matchers for the general stage.
func applyGeneralRules(utterance string, update *models.PartialUpdate) {
	for field, pattern := range generalFieldPatterns {
		if m := pattern.FindStringSubmatch(utterance); m != nil {
			setGeneral(update, field, cleanValue(m[1]))
		}
	}
	if m := emailPattern.FindString(utterance); m != "" {
		setGeneral(update, models.FieldNotificationChannel, "email")
		setGeneral(update, models.FieldNotificationTarget, m)
	} else if m := phonePattern.FindString(utterance); m != "" {
		setGeneral(update, models.FieldNotificationChannel, "phone")
		setGeneral(update, models.FieldNotificationTarget, m)
	}
}

// applyItemRules runs the deterministic matchers for the items stage.
func applyItemRules(utterance string, update *models.PartialUpdate) {
	for field, pattern := range itemFieldPatterns {
		if m := pattern.FindStringSubmatch(utterance); m != nil {
			setItem(update, field, cleanValue(m[1]))
		}
	}
	if m := priceBeforePattern.FindStringSubmatch(utterance); m != nil {
		setItem(update, models.ItemFieldPriceBefore, normalizePrice(m[1]))
	}
	if m := priceAfterPattern.FindStringSubmatch(utterance); m != nil {
		setItem(update, models.ItemFieldPriceAfter, normalizePrice(m[1]))
	}
	if m := itemCountPattern.FindStringSubmatch(utterance); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			update.ItemCount = n
		}
	}
	for _, m := range featureLinePattern.FindAllStringSubmatch(utterance, -1) {
		setItem(update, models.ItemFieldFeature, cleanValue(m[1]))
	}
}

func setGeneral(update *models.PartialUpdate, field, value string) {
	if value == "" {
		return
	}
	if update.GeneralInfo == nil {
		update.GeneralInfo = make(map[string]string)
	}
	if _, exists := update.GeneralInfo[field]; !exists {
		update.GeneralInfo[field] = value
	}
}

func setItem(update *models.PartialUpdate, field, value string) {
	if value == "" {
		return
	}
	if update.ItemFields == nil {
		update.ItemFields = make(map[string]string)
	}
	// Feature values accumulate newline-joined.
	if field == models.ItemFieldFeature {
		if existing, ok := update.ItemFields[field]; ok {
			update.ItemFields[field] = existing + "\n" + value
			return
		}
	}
	if _, exists := update.ItemFields[field]; !exists {
		update.ItemFields[field] = value
	}
}

// cleanValue trims a matched value down to its first line and strips
// surrounding punctuation.
func cleanValue(v string) string {
	if idx := strings.IndexByte(v, '\n'); idx >= 0 {
		v = v[:idx]
	}
	return strings.Trim(strings.TrimSpace(v), `"'.,;`)
}

// normalizePrice strips whitespace between a currency sign and the amount.
func normalizePrice(v string) string {
	return strings.ReplaceAll(strings.TrimSpace(v), " ", "")
}
