package attachments

import (
	"testing"

	"github.com/PageSmith/PageSmith/internal/models"
)

func withRoles(roles ...models.AttachmentRole) []models.AttachmentRecord {
	records := make([]models.AttachmentRecord, len(roles))
	for i, r := range roles {
		records[i] = models.AttachmentRecord{Path: "x", Kind: models.MediaKindImage, Role: r}
	}
	return records
}

func TestClassifyFirstItemsAttachmentIsPrimary(t *testing.T) {
	if got := Classify(models.MediaKindImage, models.StageItems, nil); got != models.RolePrimaryImage {
		t.Errorf("first items-stage image = %v, want primary", got)
	}
	// Even a video claims the primary slot when it arrives first.
	if got := Classify(models.MediaKindVideo, models.StageItems, nil); got != models.RolePrimaryImage {
		t.Errorf("first items-stage video = %v, want primary", got)
	}
}

func TestClassifyPrimaryScopedToItemsStage(t *testing.T) {
	if got := Classify(models.MediaKindImage, models.StageGeneral, nil); got != models.RoleGallery {
		t.Errorf("general-stage first image = %v, want gallery", got)
	}
	if got := Classify(models.MediaKindImage, models.StageVerification, nil); got != models.RoleGallery {
		t.Errorf("verification-stage first image = %v, want gallery", got)
	}
}

func TestClassifyVideoAfterPrimary(t *testing.T) {
	existing := withRoles(models.RolePrimaryImage)
	if got := Classify(models.MediaKindVideo, models.StageItems, existing); got != models.RoleSecondaryVideo {
		t.Errorf("video after primary = %v, want secondary video", got)
	}
}

func TestClassifyPhotoCascade(t *testing.T) {
	existing := withRoles(models.RolePrimaryImage)
	want := []models.AttachmentRole{
		models.RoleGallery, models.RoleGallery, models.RoleGallery,
		models.RoleNarrative, models.RoleNarrative, models.RoleNarrative, models.RoleNarrative, models.RoleNarrative,
		models.RoleTestimonial, models.RoleTestimonial, models.RoleTestimonial,
		// All caps exhausted: overflow lands back in the gallery.
		models.RoleGallery, models.RoleGallery,
	}
	for i, wantRole := range want {
		got := Classify(models.MediaKindImage, models.StageItems, existing)
		if got != wantRole {
			t.Fatalf("photo %d classified as %v, want %v", i+1, got, wantRole)
		}
		existing = append(existing, models.AttachmentRecord{Kind: models.MediaKindImage, Role: got})
	}
}

func TestClassifyIsPureAndReplayable(t *testing.T) {
	existing := withRoles(models.RolePrimaryImage, models.RoleGallery, models.RoleGallery)
	first := Classify(models.MediaKindImage, models.StageItems, existing)
	second := Classify(models.MediaKindImage, models.StageItems, existing)
	if first != second {
		t.Errorf("classification not deterministic: %v vs %v", first, second)
	}
	if len(existing) != 3 {
		t.Errorf("Classify mutated its input")
	}
}

func TestClassifyVideosDoNotConsumePhotoCaps(t *testing.T) {
	existing := withRoles(models.RolePrimaryImage,
		models.RoleSecondaryVideo, models.RoleSecondaryVideo, models.RoleSecondaryVideo)
	if got := Classify(models.MediaKindImage, models.StageItems, existing); got != models.RoleGallery {
		t.Errorf("photo = %v, want gallery (videos must not fill the gallery cap)", got)
	}
}
