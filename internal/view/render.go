package view

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/example/compliance-viewer/pkg/transaction"
)

// Detail tabs
const (
	TabOverview   = "overview"
	TabBlockchain = "blockchain"
	TabRaw        = "raw"
)

// Tabs lists the detail tabs in display order
var Tabs = []string{TabOverview, TabBlockchain, TabRaw}

var filterTabs = []struct {
	label string
	value string
}{
	{"All", transaction.TypeAll},
	{"KYC", transaction.TypeKYC},
	{"Audit", transaction.TypeAudit},
}

const shortIDLength = 12

// RenderStats writes the stat cards and the filter tabs
func RenderStats(w io.Writer, v View) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Total", "KYC", "Audit", "Other"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.Append([]string{
		strconv.Itoa(v.Stats.Total),
		strconv.Itoa(v.Stats.KYC),
		strconv.Itoa(v.Stats.Audit),
		strconv.Itoa(v.Stats.Other),
	})
	table.Render()

	tabs := make([]string, 0, len(filterTabs))
	for _, tab := range filterTabs {
		label := fmt.Sprintf("%s (%d)", tab.label, v.Stats.CountFor(tab.value))
		if strings.EqualFold(v.FilterType, tab.value) {
			label = "[" + label + "]"
		}
		tabs = append(tabs, label)
	}
	fmt.Fprintln(w, strings.Join(tabs, "  "))
}

// RenderList writes the error banner, if any, and the visible transactions
func RenderList(w io.Writer, v View, now time.Time) {
	if v.Err != nil {
		fmt.Fprintf(w, "! failed to load transactions: %v\n", v.Err)
	}

	switch {
	case v.Loading && v.Total == 0:
		fmt.Fprintln(w, "Loading transactions...")
		return
	case len(v.Transactions) == 0 && v.IsFiltered():
		fmt.Fprintf(w, "No transactions match the current filters (%d total)\n", v.Total)
		return
	case len(v.Transactions) == 0:
		fmt.Fprintln(w, "No transactions found")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Type", "Transaction", "Preview", "Inserted"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for i, tx := range v.Transactions {
		marker := strconv.Itoa(i + 1)
		if v.Selected != nil && v.Selected.TransactionID == tx.TransactionID {
			marker = ">" + marker
		}
		table.Append([]string{
			marker,
			typeLabel(tx),
			shortID(tx.TransactionID),
			transaction.PreviewText(tx),
			FormatRelative(tx.InsertedAt, now),
		})
	}
	table.Render()

	if v.IsFiltered() {
		fmt.Fprintf(w, "Showing %d of %d transactions\n", len(v.Transactions), v.Total)
	} else {
		fmt.Fprintf(w, "%d transactions, %s first\n", v.Total, v.SortOrder)
	}
}

// RenderDetail writes one tab of a transaction's detail
func RenderDetail(w io.Writer, tx transaction.Transaction, tab string) error {
	fmt.Fprintf(w, "%s  %s\n", typeLabel(tx), tx.TransactionID)
	fmt.Fprintln(w, strings.Repeat("-", 60))

	switch tab {
	case TabOverview, "":
		renderOverview(w, tx)
	case TabBlockchain:
		renderBlockchain(w, tx)
	case TabRaw:
		b, err := json.MarshalIndent(tx, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode transaction: %w", err)
		}
		fmt.Fprintln(w, string(b))
	default:
		return fmt.Errorf("unknown tab %q: want one of %s", tab, strings.Join(Tabs, ", "))
	}
	return nil
}

func renderOverview(w io.Writer, tx transaction.Transaction) {
	section(w, "Transaction")
	field(w, "Transaction ID", tx.TransactionID)
	field(w, "Artifact ID", tx.ArtifactID)
	field(w, "Certificate", tx.CertificateType.Name)
	field(w, "Artifact type", tx.ArtifactType.Name)
	field(w, "State", fmt.Sprintf("%d -> %d", tx.PreviousArtifactState, tx.NewArtifactState))
	field(w, "Inserted", FormatDateTime(tx.InsertedAt))

	if kyc, ok := tx.KYC(); ok {
		renderKYC(w, kyc)
	}
	if audit, ok := tx.Audit(); ok {
		renderAudit(w, audit)
	}
	if tx.Data == nil && tx.DataPreview != "" {
		section(w, "Preview")
		fmt.Fprintln(w, tx.DataPreview)
	}
}

func renderKYC(w io.Writer, kyc *transaction.KYCData) {
	p := kyc.PersonalInformation
	section(w, "Personal information")
	field(w, "Full name", kyc.FullName())
	field(w, "Date of birth", FormatDate(p.DateOfBirth))
	field(w, "Gender", p.Gender)
	field(w, "Nationality", p.Nationality)
	if p.PlaceOfBirth != nil {
		pob := p.PlaceOfBirth
		field(w, "Place of birth", joinPresent(", ", pob.City, pob.StateOrProvince, pob.Country))
	}

	if c := kyc.ContactInformation; c != nil {
		section(w, "Contact information")
		field(w, "Email", c.Email)
		field(w, "Phone", c.PhoneNumber)
		field(w, "Alternate phone", c.AlternatePhoneNumber)
		if a := c.Address; a != nil {
			field(w, "Address", joinPresent(", ", a.Street, a.Apartment, a.City, a.State, a.PostalCode, a.Country))
		}
	}

	if len(kyc.IdentityDocuments) > 0 {
		section(w, "Identity documents")
		for _, doc := range kyc.IdentityDocuments {
			fmt.Fprintf(w, "  %s %s (%s) issued %s, expires %s\n",
				doc.DocumentType, doc.DocumentNumber, doc.IssuingCountry,
				FormatDate(doc.IssueDate), FormatDate(doc.ExpiryDate))
		}
	}

	if len(kyc.VaultDocuments) > 0 {
		section(w, "Vault documents")
		for _, doc := range kyc.VaultDocuments {
			fmt.Fprintf(w, "  %s  %s  %s  vault %s\n",
				doc.DocumentTitle, doc.DocumentFilename, doc.DocumentMimeType, shortID(doc.VaultID))
		}
	}
}

func renderAudit(w io.Writer, audit *transaction.AuditData) {
	section(w, "Audit event")
	outcome := string(transaction.AuditOutcome(audit.AdditionalContext))
	if outcome == "" {
		outcome = "-"
	}
	field(w, "Outcome", outcome)
	field(w, "Event", audit.Data)
	field(w, "Context", audit.AdditionalContext)

	section(w, "Actor")
	field(w, "Name", audit.ActorName)
	field(w, "ID", audit.ActorID)
	if audit.ActorRole != nil {
		field(w, "Role", *audit.ActorRole)
	}
	field(w, "IP address", audit.IPAddress)
	if audit.AuthenticationMethod != nil {
		field(w, "Authentication", *audit.AuthenticationMethod)
	}
	field(w, "Executed", FormatDateTime(audit.ExecutionDatetime))

	if audit.ActionID != "" {
		section(w, "Action")
		field(w, "Name", audit.ActionName)
		field(w, "ID", audit.ActionID)
	}
}

func renderBlockchain(w io.Writer, tx transaction.Transaction) {
	section(w, "Chain linkage")
	field(w, "Block signature", tx.BlockSignature)
	field(w, "Previous signature", tx.PreviousBlockSignature)
	field(w, "Previous transaction", tx.PreviousID())

	section(w, "State transition")
	field(w, "Previous state", strconv.Itoa(tx.PreviousArtifactState))
	field(w, "New state", strconv.Itoa(tx.NewArtifactState))
	field(w, "Inserted", FormatDateTime(tx.InsertedAt))

	if len(tx.RelatedTransactions) > 0 {
		section(w, "Related transactions")
		for _, rel := range tx.RelatedTransactions {
			fmt.Fprintf(w, "  %s  %s\n", typeLabel(rel), rel.TransactionID)
		}
	}
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", strings.ToUpper(title))
}

// field skips empty values
func field(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %-22s %s\n", label+":", value)
}

func typeLabel(tx transaction.Transaction) string {
	if tx.CertificateType.Name == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(tx.CertificateType.Name)
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength] + "..."
}

func joinPresent(sep string, parts ...string) string {
	present := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			present = append(present, p)
		}
	}
	return strings.Join(present, sep)
}

// FormatRelative renders an insertion time relative to now: minutes, hours
// or days ago within a week, a calendar date after that
func FormatRelative(insertedAt string, now time.Time) string {
	at, ok := transaction.ParseInsertedAt(insertedAt)
	if !ok {
		return "N/A"
	}
	diff := now.Sub(at)
	switch {
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	case at.Year() == now.Year():
		return at.Format("2 Jan")
	default:
		return at.Format("2 Jan 2006")
	}
}

// FormatDate renders a date as "2 Jan 2006"
func FormatDate(s string) string {
	if s == "" {
		return ""
	}
	at, ok := transaction.ParseInsertedAt(s)
	if !ok {
		return s
	}
	return at.Format("2 Jan 2006")
}

// FormatDateTime renders a timestamp as "2 Jan 2006, 15:04:05"
func FormatDateTime(s string) string {
	if s == "" {
		return "N/A"
	}
	at, ok := transaction.ParseInsertedAt(s)
	if !ok {
		return s
	}
	return at.Format("2 Jan 2006, 15:04:05")
}
