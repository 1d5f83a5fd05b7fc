// Package models defines the session aggregate and collected page data.
package models

import "time"

// Item is a single product/offer entry on the generated page.
type Item struct {
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	PriceBefore  string   `json:"price_before,omitempty"`
	PriceAfter   string   `json:"price_after,omitempty"`
	SellingPoint string   `json:"selling_point,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// Field returns the value of a named item field, empty if unset.
func (i *Item) Field(key string) string {
	switch key {
	case ItemFieldName:
		return i.Name
	case ItemFieldDescription:
		return i.Description
	case ItemFieldPriceBefore:
		return i.PriceBefore
	case ItemFieldPriceAfter:
		return i.PriceAfter
	case ItemFieldSellingPoint:
		return i.SellingPoint
	default:
		return ""
	}
}

// SetField assigns a named item field. Feature values append to the list.
func (i *Item) SetField(key, value string) {
	switch key {
	case ItemFieldName:
		i.Name = value
	case ItemFieldDescription:
		i.Description = value
	case ItemFieldPriceBefore:
		i.PriceBefore = value
	case ItemFieldPriceAfter:
		i.PriceAfter = value
	case ItemFieldSellingPoint:
		i.SellingPoint = value
	case ItemFieldFeature:
		i.Features = append(i.Features, value)
	}
}

// MissingFields lists required item fields that are still unset.
func (i *Item) MissingFields() []string {
	var missing []string
	for _, key := range RequiredItemFields {
		if i.Field(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// AttachmentRecord is a stored media file plus its classification.
type AttachmentRecord struct {
	Path        string         `json:"path"`
	Kind        MediaKind      `json:"kind"`
	Role        AttachmentRole `json:"role,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
}

// StyleSuggestion is the optional result of background image enrichment.
type StyleSuggestion struct {
	Colors []string `json:"colors,omitempty"`
	Fonts  []string `json:"fonts,omitempty"`
}

// CollectedData aggregates everything gathered during a dialogue.
type CollectedData struct {
	GeneralInfo map[string]string  `json:"general_info,omitempty"`
	ItemCount   int                `json:"item_count,omitempty"`
	Items       []Item             `json:"items,omitempty"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
	Enrichment  *StyleSuggestion   `json:"enrichment,omitempty"`
}

// HasPrimaryImage reports whether a primary image has been classified.
func (d *CollectedData) HasPrimaryImage() bool {
	return d.CountRole(RolePrimaryImage) > 0
}

// CountRole counts attachments holding the given role.
func (d *CollectedData) CountRole(role AttachmentRole) int {
	count := 0
	for _, a := range d.Attachments {
		if a.Role == role {
			count++
		}
	}
	return count
}

// CurrentItem returns the item record currently being filled, allocating the
// first one on demand. Multi-item sessions fill items strictly in order.
func (d *CollectedData) CurrentItem() *Item {
	if len(d.Items) == 0 {
		d.Items = append(d.Items, Item{})
	}
	last := &d.Items[len(d.Items)-1]
	if len(last.MissingFields()) == 0 && d.ItemCount > len(d.Items) {
		d.Items = append(d.Items, Item{})
		last = &d.Items[len(d.Items)-1]
	}
	return last
}

// Session is the complete per-user conversational and collected-data state.
type Session struct {
	UserID       string             `json:"user_id"`
	Mode         Mode               `json:"mode"`
	Stage        Stage              `json:"stage"`
	Data         CollectedData      `json:"data"`
	History      []ConversationTurn `json:"history,omitempty"`
	LastActivity time.Time          `json:"last_activity"`
	// EnrichmentStarted guards the at-most-once background enrichment trigger.
	EnrichmentStarted bool `json:"enrichment_started,omitempty"`
}

// NewSession creates a session in the initial stage for the given user.
func NewSession(userID string, mode Mode) *Session {
	return &Session{
		UserID:       userID,
		Mode:         mode,
		Stage:        StageGeneral,
		Data:         CollectedData{GeneralInfo: make(map[string]string)},
		LastActivity: time.Now(),
	}
}

// Touch updates the last-activity timestamp used by the idle reaper.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// AppendTurn records a conversation turn, evicting the oldest entries beyond
// the history cap. Truncation happens here, before serialization, so stored
// blobs stay bounded.
func (s *Session) AppendTurn(role TurnRole, content string) {
	s.History = append(s.History, ConversationTurn{Role: role, Content: content})
	if len(s.History) > MaxHistoryTurns {
		s.History = s.History[len(s.History)-MaxHistoryTurns:]
	}
}

// PartialUpdate is the result of one extraction pass over a single utterance.
// An empty update is valid and means extraction found nothing.
type PartialUpdate struct {
	GeneralInfo map[string]string `json:"general_info,omitempty"`
	ItemFields  map[string]string `json:"item_fields,omitempty"`
	ItemCount   int               `json:"item_count,omitempty"`
}

// IsEmpty reports whether the update carries no extracted values.
func (u *PartialUpdate) IsEmpty() bool {
	return len(u.GeneralInfo) == 0 && len(u.ItemFields) == 0 && u.ItemCount == 0
}

// Merge folds other into u without overwriting values u already holds.
// The caller decides precedence by merge order; deterministic results are
// merged first so they win over LLM-extracted values.
func (u *PartialUpdate) Merge(other PartialUpdate) {
	if len(other.GeneralInfo) > 0 && u.GeneralInfo == nil {
		u.GeneralInfo = make(map[string]string)
	}
	for k, v := range other.GeneralInfo {
		if _, exists := u.GeneralInfo[k]; !exists {
			u.GeneralInfo[k] = v
		}
	}
	if len(other.ItemFields) > 0 && u.ItemFields == nil {
		u.ItemFields = make(map[string]string)
	}
	for k, v := range other.ItemFields {
		if _, exists := u.ItemFields[k]; !exists {
			u.ItemFields[k] = v
		}
	}
	if u.ItemCount == 0 {
		u.ItemCount = other.ItemCount
	}
}
