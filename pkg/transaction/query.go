package transaction

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SortOrder selects the direction of the insertion-time sort
type SortOrder string

const (
	Newest SortOrder = "newest"
	Oldest SortOrder = "oldest"
)

// ParseSortOrder accepts "newest" or "oldest" in any case
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case Newest:
		return Newest, nil
	case Oldest:
		return Oldest, nil
	default:
		return "", fmt.Errorf("invalid sort order %q: want %q or %q", s, Newest, Oldest)
	}
}

// Toggle flips between newest and oldest
func (o SortOrder) Toggle() SortOrder {
	if o == Oldest {
		return Newest
	}
	return Oldest
}

// insertedAtLayouts are tried in order when parsing insertedAt
var insertedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseInsertedAt parses an insertion timestamp. Zone-less values are read
// as UTC. Values that cannot be parsed yield the Unix epoch and false.
func ParseInsertedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s != "" {
		for _, layout := range insertedAtLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Unix(0, 0).UTC(), false
}

// Filter returns the transactions matching the certificate type and the
// search term. The type "ALL" or "" disables type filtering; an empty or
// blank term disables the search. The input is never modified.
func Filter(transactions []Transaction, filterType, searchTerm string) []Transaction {
	filtered := make([]Transaction, 0, len(transactions))
	term := strings.ToLower(strings.TrimSpace(searchTerm))
	byType := filterType != "" && !strings.EqualFold(filterType, TypeAll)

	for _, tx := range transactions {
		if byType && !strings.EqualFold(tx.CertificateType.Name, filterType) {
			continue
		}
		if term != "" && !Matches(tx, term) {
			continue
		}
		filtered = append(filtered, tx)
	}
	return filtered
}

// Matches reports whether any searchable field contains the lower-cased term
func Matches(tx Transaction, term string) bool {
	for _, field := range searchFields(tx) {
		if field != "" && strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// searchFields lists the searched fields in match order
func searchFields(tx Transaction) []string {
	var fullName, actor, context string
	if kyc, ok := tx.KYC(); ok {
		fullName = kyc.FullName()
	}
	if audit, ok := tx.Audit(); ok {
		actor = audit.ActorName
		context = audit.AdditionalContext
	}
	return []string{fullName, actor, tx.TransactionID, context, tx.DataPreview}
}

// Sort returns a copy ordered by insertedAt. Equal timestamps keep their
// input order; unparsable timestamps sort as the Unix epoch.
func Sort(transactions []Transaction, order SortOrder) []Transaction {
	type keyed struct {
		tx Transaction
		at time.Time
	}
	keys := make([]keyed, len(transactions))
	for i, tx := range transactions {
		at, _ := ParseInsertedAt(tx.InsertedAt)
		keys[i] = keyed{tx: tx, at: at}
	}

	slices.SortStableFunc(keys, func(a, b keyed) int {
		c := a.at.Compare(b.at)
		if order == Oldest {
			return c
		}
		return -c
	})

	sorted := make([]Transaction, len(keys))
	for i, k := range keys {
		sorted[i] = k.tx
	}
	return sorted
}

// Query applies Filter then Sort
func Query(transactions []Transaction, filterType, searchTerm string, order SortOrder) []Transaction {
	return Sort(Filter(transactions, filterType, searchTerm), order)
}

func joinNonEmpty(parts ...string) string {
	present := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			present = append(present, p)
		}
	}
	return strings.Join(present, " ")
}
