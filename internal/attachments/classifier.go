// Package attachments assigns semantic roles to uploaded media and owns
// their on-disk storage.
package attachments

import (
	"github.com/PageSmith/PageSmith/internal/models"
)

// Role caps. Once every capped role is exhausted, photos fall back to gallery.
const (
	GalleryCap     = 3
	NarrativeCap   = 5
	TestimonialCap = 3
)

// Classify assigns a semantic role to an incoming attachment. It is a pure
// function of the media kind, the current stage and the roles already
// assigned, so replaying the same sequence yields the same roles.
//
// The first attachment received during the items stage becomes the primary
// image regardless of kind. Primary assignment is scoped to the items stage;
// attachments arriving in other stages go through the ordinary distribution.
func Classify(kind models.MediaKind, stage models.Stage, existing []models.AttachmentRecord) models.AttachmentRole {
	if stage == models.StageItems && countRole(existing, models.RolePrimaryImage) == 0 {
		return models.RolePrimaryImage
	}

	if kind == models.MediaKindVideo {
		return models.RoleSecondaryVideo
	}

	switch {
	case countRole(existing, models.RoleGallery) < GalleryCap:
		return models.RoleGallery
	case countRole(existing, models.RoleNarrative) < NarrativeCap:
		return models.RoleNarrative
	case countRole(existing, models.RoleTestimonial) < TestimonialCap:
		return models.RoleTestimonial
	default:
		return models.RoleGallery
	}
}

func countRole(records []models.AttachmentRecord, role models.AttachmentRole) int {
	count := 0
	for _, r := range records {
		if r.Role == role {
			count++
		}
	}
	return count
}
