// Package provisioning drives one telephony provisioning request through
// managed-account creation, KYC submission, number ordering and activation.
//
// State lives in the provisioning_requests row. Every step is guarded by the
// upstream id it creates, so Run can be repeated after any failure and resumes
// at the first incomplete step. Status changes are conditional single-row
// updates; a write that finds the row in another state changes nothing.
package provisioning

import (
	"strings"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// Status is a request's position in the provisioning graph.
type Status string

const (
	StatusNew               Status = "new"
	StatusDocumentsUploaded Status = "documents_uploaded"
	StatusKYCSubmitted      Status = "kyc_submitted"
	StatusKYCApproved       Status = "kyc_approved"
	StatusNumberOrdered     Status = "number_ordered"
	StatusNumberActive      Status = "number_active"
	StatusRejected          Status = "rejected"
)

// Statuses lists every status in graph order.
var Statuses = []Status{
	StatusNew,
	StatusDocumentsUploaded,
	StatusKYCSubmitted,
	StatusKYCApproved,
	StatusNumberOrdered,
	StatusNumberActive,
	StatusRejected,
}

var transitions = map[Status][]Status{
	StatusNew:               {StatusDocumentsUploaded},
	StatusDocumentsUploaded: {StatusKYCSubmitted},
	StatusKYCSubmitted:      {StatusKYCApproved, StatusRejected},
	StatusKYCApproved:       {StatusNumberOrdered},
	StatusNumberOrdered:     {StatusNumberActive, StatusRejected},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.NewInvalidRequestf("unknown status %q", s)
	}
	return st, nil
}

// Providers
const (
	ProviderTelnyx     = "telnyx"
	ProviderMessagenet = "messagenet"
)

// manualProviders are activated by hand in the provider's portal; the
// workflow refuses to drive them.
var manualProviders = map[string]bool{
	ProviderMessagenet: true,
}

// IsManualProvider reports whether provider is provisioned outside the workflow.
func IsManualProvider(provider string) bool {
	return manualProviders[provider]
}

// BusinessDetails is the KYC metadata collected with a request.
type BusinessDetails struct {
	BusinessType string `json:"business_type,omitempty" yaml:"business_type,omitempty"`
	VATNumber    string `json:"vat_number,omitempty" yaml:"vat_number,omitempty"`
	FiscalCode   string `json:"fiscal_code,omitempty" yaml:"fiscal_code,omitempty"`
	LegalAddress string `json:"legal_address,omitempty" yaml:"legal_address,omitempty"`
	City         string `json:"city,omitempty" yaml:"city,omitempty"`
	Province     string `json:"province,omitempty" yaml:"province,omitempty"`
	PostalCode   string `json:"postal_code,omitempty" yaml:"postal_code,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty" yaml:"contact_phone,omitempty"`
	Notes        string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// fields returns the non-empty details keyed by requirement name, in a stable order.
func (d BusinessDetails) fields() [][2]string {
	all := [][2]string{
		{"business_type", d.BusinessType},
		{"vat_number", d.VATNumber},
		{"fiscal_code", d.FiscalCode},
		{"legal_address", d.LegalAddress},
		{"city", d.City},
		{"province", d.Province},
		{"postal_code", d.PostalCode},
		{"contact_phone", d.ContactPhone},
	}
	out := all[:0]
	for _, kv := range all {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	return out
}

// Request is one provisioning attempt.
type Request struct {
	ID                   int64           `json:"id" yaml:"id"`
	ConsultantID         string          `json:"consultant_id" yaml:"consultant_id"`
	Provider             string          `json:"provider" yaml:"provider"`
	Status               Status          `json:"status" yaml:"status"`
	BusinessName         string          `json:"business_name" yaml:"business_name"`
	ContactEmail         string          `json:"contact_email" yaml:"contact_email"`
	DesiredPrefix        string          `json:"desired_prefix,omitempty" yaml:"desired_prefix,omitempty"`
	DesiredNumber        string          `json:"desired_number,omitempty" yaml:"desired_number,omitempty"`
	AssignedNumber       string          `json:"assigned_number,omitempty" yaml:"assigned_number,omitempty"`
	ManagedAccountID     string          `json:"managed_account_id,omitempty" yaml:"managed_account_id,omitempty"`
	ManagedAccountAPIKey string          `json:"-" yaml:"-"`
	RequirementGroupID   string          `json:"requirement_group_id,omitempty" yaml:"requirement_group_id,omitempty"`
	NumberOrderID        string          `json:"number_order_id,omitempty" yaml:"number_order_id,omitempty"`
	Details              BusinessDetails `json:"business_details" yaml:"business_details"`
	ErrorLog             string          `json:"error_log,omitempty" yaml:"error_log,omitempty"`
	CreatedAt            time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" yaml:"updated_at"`
	ActivatedAt          *time.Time      `json:"activated_at,omitempty" yaml:"activated_at,omitempty"`
}

// Audit returns the parsed audit log.
func (r *Request) Audit() []AuditEntry {
	return ParseAuditLog(r.ErrorLog)
}

// NewRequest is the input to Create.
type NewRequest struct {
	ConsultantID  string          `json:"consultant_id"`
	Provider      string          `json:"provider"`
	BusinessName  string          `json:"business_name"`
	ContactEmail  string          `json:"contact_email"`
	DesiredPrefix string          `json:"desired_prefix"`
	DesiredNumber string          `json:"desired_number"`
	Details       BusinessDetails `json:"business_details"`
}

func (n *NewRequest) normalize() error {
	n.ConsultantID = strings.TrimSpace(n.ConsultantID)
	n.BusinessName = strings.TrimSpace(n.BusinessName)
	n.ContactEmail = strings.TrimSpace(n.ContactEmail)
	n.Provider = strings.ToLower(strings.TrimSpace(n.Provider))
	if n.Provider == "" {
		n.Provider = ProviderTelnyx
	}

	switch {
	case n.ConsultantID == "":
		return errors.NewInvalidRequestf("consultant_id is required")
	case n.BusinessName == "":
		return errors.NewInvalidRequestf("business_name is required")
	case n.ContactEmail == "" || !strings.Contains(n.ContactEmail, "@"):
		return errors.NewInvalidRequestf("contact_email %q is not a valid address", n.ContactEmail)
	}
	if n.Provider != ProviderTelnyx && !IsManualProvider(n.Provider) {
		return errors.NewInvalidRequestf("unknown provider %q", n.Provider)
	}
	return nil
}
