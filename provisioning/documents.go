package provisioning

import (
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// DocumentType names one KYC document slot.
type DocumentType string

const (
	DocIdentityFront  DocumentType = "identity_front"
	DocIdentityBack   DocumentType = "identity_back"
	DocCodiceFiscale  DocumentType = "codice_fiscale"
	DocProofOfAddress DocumentType = "proof_of_address"
	DocVATCertificate DocumentType = "vat_certificate"
	DocVisuraCamerale DocumentType = "visura_camerale"
)

// RequiredDocuments must all be uploaded before the managed account is created.
var RequiredDocuments = []DocumentType{
	DocIdentityFront,
	DocIdentityBack,
	DocCodiceFiscale,
	DocProofOfAddress,
}

var optionalDocuments = []DocumentType{
	DocVATCertificate,
	DocVisuraCamerale,
}

// ParseDocumentType validates a document type name.
func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(s)
	for _, known := range append(append([]DocumentType{}, RequiredDocuments...), optionalDocuments...) {
		if t == known {
			return t, nil
		}
	}
	return "", errors.NewInvalidRequestf("unknown document type %q", s)
}

// DocumentStatus tracks a document through provider review.
type DocumentStatus string

const (
	DocumentUploaded  DocumentStatus = "uploaded"
	DocumentSubmitted DocumentStatus = "submitted_to_provider"
	DocumentVerified  DocumentStatus = "verified"
	DocumentRejected  DocumentStatus = "rejected"
)

// Document is one uploaded KYC file.
type Document struct {
	ID                 int64          `json:"id" yaml:"id"`
	RequestID          int64          `json:"request_id" yaml:"request_id"`
	Type               DocumentType   `json:"document_type" yaml:"document_type"`
	FileName           string         `json:"file_name" yaml:"file_name"`
	ContentType        string         `json:"content_type" yaml:"content_type"`
	Content            []byte         `json:"-" yaml:"-"`
	Size               int            `json:"size" yaml:"size"`
	Status             DocumentStatus `json:"status" yaml:"status"`
	ProviderDocumentID string         `json:"provider_document_id,omitempty" yaml:"provider_document_id,omitempty"`
	RejectionReason    string         `json:"rejection_reason,omitempty" yaml:"rejection_reason,omitempty"`
	UploadedAt         time.Time      `json:"uploaded_at" yaml:"uploaded_at"`
}

// MissingDocuments returns the required types not present in docs.
func MissingDocuments(docs []Document) []DocumentType {
	have := make(map[DocumentType]bool, len(docs))
	for _, d := range docs {
		if d.Status != DocumentRejected {
			have[d.Type] = true
		}
	}
	var missing []DocumentType
	for _, t := range RequiredDocuments {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}
