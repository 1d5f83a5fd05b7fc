// Package flow owns the ordered pipeline of collection stages and the
// completeness predicates that drive forward transitions.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/PageSmith/PageSmith/internal/models"
)

// stageOrder fixes the forward ordering of stages.
var stageOrder = map[models.Stage]int{
	models.StageGeneral:      0,
	models.StageItems:        1,
	models.StageVerification: 2,
	models.StageGeneration:   3,
}

// forwardTransitions is the explicit transition table. Invalid stages are
// unrepresentable; invalid transitions simply have no entry.
var forwardTransitions = map[models.Stage]models.Stage{
	models.StageGeneral:      models.StageItems,
	models.StageItems:        models.StageVerification,
	models.StageVerification: models.StageGeneration,
}

// CheckStage evaluates the completeness predicate of the session's current
// stage. Unmet requirements come back as data; this never fails.
func CheckStage(s *models.Session) models.CompletenessReport {
	switch s.Stage {
	case models.StageGeneral:
		return generalReport(s)
	case models.StageItems:
		return itemsReport(s)
	case models.StageVerification:
		return verificationReport(s)
	default:
		return models.CompletenessReport{Complete: true}
	}
}

// Advance runs the per-turn transition loop: as long as the current stage's
// guard holds it moves forward, re-checking after every transition so a single
// turn can cascade through several stages. The final verification→generation
// transition is excluded; it happens only through ConfirmGeneration after the
// user confirms. Returns the stages entered and the report of the stage the
// session settled in.
func Advance(s *models.Session) ([]models.Stage, models.CompletenessReport) {
	var entered []models.Stage
	report := CheckStage(s)
	for report.Complete && s.Stage != models.StageVerification && s.Stage != models.StageGeneration {
		next := forwardTransitions[s.Stage]
		slog.Info("Stage transition", "userID", s.UserID, "from", s.Stage, "to", next)
		s.Stage = next
		entered = append(entered, next)
		report = CheckStage(s)
	}
	return entered, report
}

// ConfirmGeneration performs the verification→generation transition if the
// completeness predicate over the entire aggregate holds. Otherwise the
// session stays in place and the report lists what is missing.
func ConfirmGeneration(s *models.Session) models.CompletenessReport {
	if s.Stage != models.StageVerification {
		return models.CompletenessReport{Complete: false, Missing: []string{fmt.Sprintf("session is in the %s stage, not verification", s.Stage)}}
	}
	report := verificationReport(s)
	if report.Complete {
		slog.Info("Stage transition", "userID", s.UserID, "from", s.Stage, "to", models.StageGeneration)
		s.Stage = models.StageGeneration
	}
	return report
}

// ApplyEdit moves the session backward to the items or verification stage.
// Any other target, or a non-backward move, is rejected.
func ApplyEdit(s *models.Session, target models.Stage) error {
	if target != models.StageItems && target != models.StageVerification {
		return fmt.Errorf("%w: cannot edit into stage %s", models.ErrInvalidStage, target)
	}
	if stageOrder[target] >= stageOrder[s.Stage] {
		return fmt.Errorf("%w: edit must move backward (current %s, target %s)", models.ErrInvalidStage, s.Stage, target)
	}
	slog.Info("Stage edit transition", "userID", s.UserID, "from", s.Stage, "to", target)
	s.Stage = target
	return nil
}

func generalReport(s *models.Session) models.CompletenessReport {
	var missing []string
	for _, field := range models.RequiredGeneralFields {
		if s.Data.GeneralInfo[field] == "" {
			missing = append(missing, "general: "+field)
		}
	}
	return models.CompletenessReport{Complete: len(missing) == 0, Missing: missing}
}

func itemsReport(s *models.Session) models.CompletenessReport {
	var missing []string
	switch s.Mode {
	case models.ModeSingleItem:
		if len(s.Data.Items) == 0 {
			missing = append(missing, "item 1: "+models.ItemFieldName, "item 1: "+models.ItemFieldDescription, "item 1: "+models.ItemFieldPriceAfter)
			break
		}
		for _, field := range s.Data.Items[0].MissingFields() {
			missing = append(missing, "item 1: "+field)
		}
	case models.ModeMultiItem:
		if s.Data.ItemCount == 0 {
			missing = append(missing, "items: "+models.ItemFieldCount)
			break
		}
		for i := 0; i < s.Data.ItemCount; i++ {
			if i >= len(s.Data.Items) {
				missing = append(missing, fmt.Sprintf("item %d: not provided", i+1))
				continue
			}
			for _, field := range s.Data.Items[i].MissingFields() {
				missing = append(missing, fmt.Sprintf("item %d: %s", i+1, field))
			}
		}
	}
	return models.CompletenessReport{Complete: len(missing) == 0, Missing: missing}
}

// verificationReport checks the entire aggregate, including the
// primary-image requirement in single-item mode.
func verificationReport(s *models.Session) models.CompletenessReport {
	var missing []string
	missing = append(missing, generalReport(s).Missing...)
	missing = append(missing, itemsReport(s).Missing...)
	if s.Mode == models.ModeSingleItem && !s.Data.HasPrimaryImage() {
		missing = append(missing, "attachments: primary image")
	}
	return models.CompletenessReport{Complete: len(missing) == 0, Missing: missing}
}
