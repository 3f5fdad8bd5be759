package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"forecast-reconciliation/internal/repositories"
)

// ExclusionService toggles the excluded-from-matching flag on GL entries.
// Exclusion is a standing data correction: it writes no run log row and is
// audited through the exclusion reason itself.
type ExclusionService struct {
	glRepo repositories.GLEntryRepository
}

func NewExclusionService(glRepo repositories.GLEntryRepository) *ExclusionService {
	return &ExclusionService{glRepo: glRepo}
}

// SetExclusion flags or unflags the given GL entries. A reason is required
// when excluding and cleared when un-excluding. Excluding a currently-paired
// entry breaks the pairing on both sides. Returns the number of entries
// updated.
func (s *ExclusionService) SetExclusion(ctx context.Context, ids []int64, excluded bool, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, newValidationError("gl_entry_ids", "at least one GL entry id is required")
	}
	reason = strings.TrimSpace(reason)
	if excluded && reason == "" {
		return 0, newValidationError("exclusion_reason", "reason is required when excluding")
	}
	if !excluded {
		reason = ""
	}

	updated, err := s.glRepo.SetExclusion(ctx, ids, excluded, reason)
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"gl_entry_ids": ids,
		"is_excluded":  excluded,
		"updated":      updated,
	}).Info("GL entry exclusion updated")

	return updated, nil
}
