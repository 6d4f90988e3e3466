package transaction

import (
	"encoding/json"
	"fmt"
	"strings"
)

const previewLimit = 100

// Outcome is the result of an audited action, read from its context string
type Outcome string

const (
	OutcomeUnknown Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditOutcome classifies an audit context string
func AuditOutcome(context string) Outcome {
	lower := strings.ToLower(context)
	switch {
	case lower == "":
		return OutcomeUnknown
	case strings.Contains(lower, "success"):
		return OutcomeSuccess
	case strings.Contains(lower, "failure"), strings.Contains(lower, "failed"):
		return OutcomeFailure
	default:
		return OutcomeUnknown
	}
}

// PreviewText is the one-line summary shown for a transaction in a list
func PreviewText(tx Transaction) string {
	if tx.Data != nil {
		switch Classify(tx) {
		case CategoryKYC:
			if kyc, ok := tx.KYC(); ok {
				p := kyc.PersonalInformation
				nationality := p.Nationality
				if nationality == "" {
					nationality = "N/A"
				}
				return fmt.Sprintf("%s %s - %s", p.FirstName, p.LastName, nationality)
			}
		case CategoryAudit:
			if audit, ok := tx.Audit(); ok {
				if audit.AdditionalContext != "" {
					return audit.AdditionalContext
				}
				if audit.ActionName != "" {
					return audit.ActionName
				}
			}
			return "Audit event"
		}
		if raw, err := tx.Data.Raw(); err == nil {
			return truncate(string(raw), previewLimit)
		}
	}

	if tx.DataPreview != "" {
		var preview struct {
			AdditionalContext string `json:"additional_context"`
			ActionName        string `json:"action_name"`
		}
		if err := json.Unmarshal([]byte(tx.DataPreview), &preview); err != nil {
			return truncate(tx.DataPreview, previewLimit)
		}
		if preview.AdditionalContext != "" {
			return preview.AdditionalContext
		}
		if preview.ActionName != "" {
			return preview.ActionName
		}
	}

	return "No preview available"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
