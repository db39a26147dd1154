package model

import (
	"strings"

	"therapy-chat-sync/internal/apperror"
)

const (
	pairSeparator = "|"
	maxIDLength   = 128
)

// PairKey derives the lookup key for a (patient, therapist) pair. The
// separator is rejected by ValidateID, so distinct valid pairs never collide.
func PairKey(patientID, therapistID string) string {
	return patientID + pairSeparator + therapistID
}

// ValidateID checks an externally supplied id. name is used in the message.
func ValidateID(name, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.Validation(name + " is required")
	}
	if id != strings.TrimSpace(id) {
		return apperror.Validation(name + " must not have surrounding whitespace")
	}
	if strings.Contains(id, pairSeparator) {
		return apperror.Validation(name + " must not contain '" + pairSeparator + "'")
	}
	if len(id) > maxIDLength {
		return apperror.Validation(name + " is too long")
	}
	return nil
}
