package transaction

import (
	"bytes"
	"encoding/json"
)

// Payload is the expanded data of a transaction. Its shape depends on the
// certificate type, so it is decoded by shape: KYC is set when personal
// information is present, Audit when any audit field is present. The raw
// bytes are kept so the received document can be shown verbatim.
type Payload struct {
	KYC   *KYCData
	Audit *AuditData

	raw json.RawMessage
}

// PersonalInformation is the identity section of a KYC record
type PersonalInformation struct {
	FirstName    string        `json:"first_name"`
	MiddleName   string        `json:"middle_name,omitempty"`
	LastName     string        `json:"last_name"`
	DateOfBirth  string        `json:"date_of_birth,omitempty"`
	Gender       string        `json:"gender,omitempty"`
	Nationality  string        `json:"nationality,omitempty"`
	PlaceOfBirth *PlaceOfBirth `json:"place_of_birth,omitempty"`
}

// PlaceOfBirth is where the KYC subject was born
type PlaceOfBirth struct {
	City            string `json:"city"`
	StateOrProvince string `json:"state_or_province,omitempty"`
	Country         string `json:"country"`
}

// ContactInformation is the contact section of a KYC record
type ContactInformation struct {
	Email                string   `json:"email,omitempty"`
	PhoneNumber          string   `json:"phone_number,omitempty"`
	AlternatePhoneNumber string   `json:"alternate_phone_number,omitempty"`
	Address              *Address `json:"address,omitempty"`
}

// Address is a postal address
type Address struct {
	Street     string `json:"street"`
	Apartment  string `json:"apartment,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IdentityDocument is an identity document attached to a KYC record
type IdentityDocument struct {
	DocumentType     string `json:"document_type"`
	DocumentNumber   string `json:"document_number"`
	IssuingCountry   string `json:"issuing_country"`
	IssuingAuthority string `json:"issuing_authority,omitempty"`
	IssueDate        string `json:"issue_date"`
	ExpiryDate       string `json:"expiry_date"`
}

// VaultDocument references a document held in a document vault
type VaultDocument struct {
	VaultID           string `json:"vault_id"`
	DocumentID        string `json:"document_id"`
	DocumentTitle     string `json:"document_title"`
	DocumentFilename  string `json:"document_filename"`
	DocumentMimeType  string `json:"document_mime_type"`
	DocumentSignature string `json:"document_signature"`
}

// KYCData is the payload of a KYC transaction
type KYCData struct {
	RequestID           string              `json:"request_id,omitempty"`
	CreatedDate         string              `json:"created_date,omitempty"`
	PersonalInformation PersonalInformation `json:"personal_information"`
	ContactInformation  *ContactInformation `json:"contact_information,omitempty"`
	IdentityDocuments   []IdentityDocument  `json:"identity_documents,omitempty"`
	VaultDocuments      []VaultDocument     `json:"vault_documents,omitempty"`
}

// FullName joins the present name parts with single spaces
func (k KYCData) FullName() string {
	p := k.PersonalInformation
	return joinNonEmpty(p.FirstName, p.MiddleName, p.LastName)
}

// AuditData is the payload of an audit log transaction
type AuditData struct {
	Data                 string  `json:"data,omitempty"`
	ActionName           string  `json:"action_name,omitempty"`
	ActionID             string  `json:"action_id,omitempty"`
	ActorName            string  `json:"actor_name,omitempty"`
	ActorID              string  `json:"actor_id,omitempty"`
	ActorRole            *string `json:"actor_role"`
	IPAddress            string  `json:"ip_address,omitempty"`
	ExecutionDatetime    string  `json:"execution_datetime,omitempty"`
	AuthenticationMethod *string `json:"authentication_method"`
	AdditionalContext    string  `json:"additional_context,omitempty"`
	CreatedDate          string  `json:"created_date,omitempty"`
}

// shapeProbe holds the top-level keys of a document. Values stay raw so an
// unexpected type in any field cannot fail the probe.
type shapeProbe map[string]json.RawMessage

var auditKeys = []string{"actor_name", "action_name", "action_id", "additional_context"}

func (p shapeProbe) has(key string) bool {
	v, ok := p[key]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (p shapeProbe) isKYC() bool {
	v := bytes.TrimSpace(p["personal_information"])
	return len(v) > 0 && v[0] == '{'
}

func (p shapeProbe) isAudit() bool {
	for _, key := range auditKeys {
		if p.has(key) {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes the payload by shape and keeps the raw bytes. It
// never fails: a document that does not fit the typed models is kept raw only.
func (p *Payload) UnmarshalJSON(b []byte) error {
	p.raw = append(p.raw[:0], b...)
	p.KYC = nil
	p.Audit = nil

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var probe shapeProbe
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil
	}
	if probe.isKYC() {
		var kyc KYCData
		if err := json.Unmarshal(b, &kyc); err == nil {
			p.KYC = &kyc
		}
	}
	if probe.isAudit() {
		var audit AuditData
		if err := json.Unmarshal(b, &audit); err == nil {
			p.Audit = &audit
		}
	}
	return nil
}

// narrow drops the typed parts that do not belong to the category. An
// unclassified transaction keeps a typed part only when the shape is unambiguous.
func (p *Payload) narrow(c Category) {
	switch c {
	case CategoryKYC:
		p.Audit = nil
	case CategoryAudit:
		p.KYC = nil
	default:
		if p.KYC != nil && p.Audit != nil {
			p.KYC, p.Audit = nil, nil
		}
	}
}

// MarshalJSON returns the received document when one was decoded
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.Raw()
}

// Raw returns the payload as JSON. Decoded payloads return their received
// bytes; payloads built in code are encoded from their typed parts.
func (p Payload) Raw() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	switch {
	case p.KYC != nil && p.Audit != nil:
		merged := map[string]json.RawMessage{}
		for _, part := range []any{p.Audit, p.KYC} {
			b, err := json.Marshal(part)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(b, &merged); err != nil {
				return nil, err
			}
		}
		return json.Marshal(merged)
	case p.KYC != nil:
		return json.Marshal(p.KYC)
	case p.Audit != nil:
		return json.Marshal(p.Audit)
	default:
		return []byte("null"), nil
	}
}
