// Package models defines the core data structures for PageSmith.
//
// It includes the session aggregate, collection stages, attachment roles,
// and the event types shared across modules.
package models

import (
	"errors"
)

// Mode selects which kind of page a session produces. It is immutable once set.
type Mode string

const (
	// ModeSingleItem produces a landing page for exactly one item.
	ModeSingleItem Mode = "single"
	// ModeMultiItem produces a catalog page for a declared number of items.
	ModeMultiItem Mode = "multi"
)

// IsValidMode checks if the given mode is one of the two supported modes.
func IsValidMode(m Mode) bool {
	switch m {
	case ModeSingleItem, ModeMultiItem:
		return true
	default:
		return false
	}
}

// Stage identifies one of the four ordered collection phases.
type Stage string

const (
	// StageGeneral collects general page information (goal, audience, style...).
	StageGeneral Stage = "general"
	// StageItems collects item records and attachments.
	StageItems Stage = "items"
	// StageVerification confirms the full aggregate before generation.
	StageVerification Stage = "verification"
	// StageGeneration is terminal; the aggregate is handed to the renderer.
	StageGeneration Stage = "generation"
)

// IsValidStage checks if the given stage is part of the collection pipeline.
func IsValidStage(s Stage) bool {
	switch s {
	case StageGeneral, StageItems, StageVerification, StageGeneration:
		return true
	default:
		return false
	}
}

// MediaKind distinguishes attachment media types at the transport boundary.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// AttachmentRole is the semantic tag assigned to an uploaded media file.
type AttachmentRole string

const (
	// RoleUnassigned marks an attachment not yet classified.
	RoleUnassigned AttachmentRole = ""
	// RolePrimaryImage is the hero image of the page. Exactly one per session.
	RolePrimaryImage AttachmentRole = "primary_image"
	// RoleGallery images appear in the product gallery block.
	RoleGallery AttachmentRole = "gallery"
	// RoleNarrative images illustrate the story/about block.
	RoleNarrative AttachmentRole = "narrative"
	// RoleTestimonial images accompany testimonial entries.
	RoleTestimonial AttachmentRole = "testimonial"
	// RoleSecondaryVideo is a supporting video shown below the fold.
	RoleSecondaryVideo AttachmentRole = "secondary_video"
)

// General-info field keys. The vocabulary is fixed; extraction never invents keys.
const (
	FieldGoal                = "goal"
	FieldAudience            = "audience"
	FieldStyle               = "style"
	FieldPreferredColors     = "preferredColors"
	FieldLanguage            = "language"
	FieldNotificationChannel = "notificationChannel"
	FieldNotificationTarget  = "notificationTarget"
	FieldOrganizationInfo    = "organizationInfo"
)

// Item field keys used by extraction and completeness checks.
const (
	ItemFieldName         = "name"
	ItemFieldDescription  = "description"
	ItemFieldPriceBefore  = "priceBefore"
	ItemFieldPriceAfter   = "priceAfter"
	ItemFieldSellingPoint = "sellingPoint"
	ItemFieldFeature      = "feature"
	ItemFieldCount        = "itemCount"
)

// RequiredGeneralFields must all be present before leaving the general stage.
var RequiredGeneralFields = []string{FieldGoal, FieldAudience, FieldStyle}

// RequiredItemFields must all be present on every item.
var RequiredItemFields = []string{ItemFieldName, ItemFieldDescription, ItemFieldPriceAfter}

// MaxHistoryTurns caps the conversation history kept per session.
// Truncation always drops the oldest turns.
const MaxHistoryTurns = 40

// Error variables for better error handling and testability.
var (
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrMissingMode      = errors.New("serialized session is missing mode")
	ErrUnknownMode      = errors.New("serialized session has unknown mode")
	ErrModeImmutable    = errors.New("session mode cannot be changed after creation")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionBusy      = errors.New("session is processing another turn")
	ErrInvalidStage     = errors.New("invalid stage")
	ErrGatewayExhausted = errors.New("gateway retries exhausted")
)

// TurnRole identifies the author of a conversation turn.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// ConversationTurn is a single exchange entry in the session history.
type ConversationTurn struct {
	Role    TurnRole `json:"role"`
	Content string   `json:"content"`
}

// IncomingAttachment describes a media file delivered with an inbound event.
// Path points at the transport's already-downloaded copy.
type IncomingAttachment struct {
	Path        string    `json:"path"`
	Kind        MediaKind `json:"kind"`
	DisplayName string    `json:"display_name,omitempty"`
}

// InboundEvent is a single transport-agnostic user turn handed to the dispatcher.
type InboundEvent struct {
	UserID      string               `json:"user_id"`
	Text        string               `json:"text,omitempty"`
	Attachments []IncomingAttachment `json:"attachments,omitempty"`
}

// Validate checks the minimal invariants of an inbound event.
func (e *InboundEvent) Validate() error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	return nil
}

// Reply is the dispatcher's outbound answer for one turn. Choices carry
// optional structured hints for transports that render selection UIs; the
// core treats them as opaque labels.
type Reply struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// CompletenessReport tells the caller whether a stage's requirements are met.
// Unmet requirements are data, never an error.
type CompletenessReport struct {
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing,omitempty"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt records a delivery status event from the transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a user, as emitted by
// a messaging service. Attachments have already been fetched to local paths.
type Response struct {
	From        string               `json:"from"`
	Body        string               `json:"body"`
	Attachments []IncomingAttachment `json:"attachments,omitempty"`
	Time        int64                `json:"time"`
}
