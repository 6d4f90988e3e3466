package transaction

import (
	"encoding/json"
	"strings"
)

// Certificate type names used for classification
const (
	TypeAll   = "ALL"
	TypeKYC   = "KYC"
	TypeAudit = "AUDIT"
)

// Category is the classification of a transaction derived from its certificate type
type Category int

const (
	CategoryOther Category = iota
	CategoryKYC
	CategoryAudit
)

func (c Category) String() string {
	switch c {
	case CategoryKYC:
		return TypeKYC
	case CategoryAudit:
		return TypeAudit
	default:
		return "OTHER"
	}
}

// TypeInfo describes a certificate or artifact type
type TypeInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Transaction represents a single compliance record anchored on the chain.
// Values are treated as immutable once fetched.
type Transaction struct {
	TransactionID          string        `json:"transactionId"`
	ArtifactID             string        `json:"artifactId"`
	CertificateType        TypeInfo      `json:"certificateType"`
	ArtifactType           TypeInfo      `json:"artifactType"`
	PreviousTransactionID  *string       `json:"previousTransactionId"`
	PreviousArtifactState  int           `json:"previousArtifactState"`
	NewArtifactState       int           `json:"newArtifactState"`
	InsertedAt             string        `json:"insertedAt"`
	DataPreview            string        `json:"dataPreview"`
	Data                   *Payload      `json:"data"`
	RelatedTransactions    []Transaction `json:"relatedTransactions,omitempty"`
	BlockSignature         string        `json:"blockSignature,omitempty"`
	PreviousBlockSignature string        `json:"previousBlockSignature,omitempty"`
}

// UnmarshalJSON decodes the record and keeps only the payload shape that
// matches its certificate type
func (tx *Transaction) UnmarshalJSON(b []byte) error {
	type plain Transaction
	var decoded plain
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	*tx = Transaction(decoded)
	if tx.Data != nil {
		tx.Data.narrow(Classify(*tx))
	}
	return nil
}

// Page is the envelope returned by the transaction listing endpoint
type Page struct {
	Items      []Transaction `json:"items"`
	TotalCount int           `json:"totalCount,omitempty"`
	Page       int           `json:"page,omitempty"`
	PageSize   int           `json:"pageSize,omitempty"`
}

// Classify maps the certificate type name onto a category, ignoring case
func Classify(tx Transaction) Category {
	switch strings.ToUpper(tx.CertificateType.Name) {
	case TypeKYC:
		return CategoryKYC
	case TypeAudit:
		return CategoryAudit
	default:
		return CategoryOther
	}
}

// Category returns the classification of the transaction
func (tx Transaction) Category() Category {
	return Classify(tx)
}

// KYC returns the KYC payload when the transaction carries one
func (tx Transaction) KYC() (*KYCData, bool) {
	if tx.Data == nil || tx.Data.KYC == nil {
		return nil, false
	}
	return tx.Data.KYC, true
}

// Audit returns the audit payload when the transaction carries one
func (tx Transaction) Audit() (*AuditData, bool) {
	if tx.Data == nil || tx.Data.Audit == nil {
		return nil, false
	}
	return tx.Data.Audit, true
}

// PreviousID returns the back-link to the previous transaction, or "" when there is none
func (tx Transaction) PreviousID() string {
	if tx.PreviousTransactionID == nil {
		return ""
	}
	return *tx.PreviousTransactionID
}

// Stats holds per-category counts over a collection
type Stats struct {
	Total int `json:"total"`
	KYC   int `json:"kyc"`
	Audit int `json:"audit"`
	Other int `json:"other"`
}

// ComputeStats classifies every transaction in a single pass
func ComputeStats(transactions []Transaction) Stats {
	stats := Stats{Total: len(transactions)}
	for _, tx := range transactions {
		switch Classify(tx) {
		case CategoryKYC:
			stats.KYC++
		case CategoryAudit:
			stats.Audit++
		default:
			stats.Other++
		}
	}
	return stats
}

// CountFor returns the count shown next to a filter tab
func (s Stats) CountFor(filterType string) int {
	switch strings.ToUpper(filterType) {
	case TypeAll, "":
		return s.Total
	case TypeKYC:
		return s.KYC
	case TypeAudit:
		return s.Audit
	default:
		return s.Other
	}
}
