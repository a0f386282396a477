package provider

import "time"

// Credentials authenticate the master account.
type Credentials struct {
	APIKey                 string `json:"-" yaml:"-"`
	ConnectionID           string `json:"connection_id" yaml:"connection_id"`
	OutboundVoiceProfileID string `json:"outbound_voice_profile_id" yaml:"outbound_voice_profile_id"`
}

// Requirement group statuses reported by the provider.
const (
	RequirementGroupUnapproved      = "unapproved"
	RequirementGroupPendingApproval = "pending-approval"
	RequirementGroupApproved        = "approved"
	RequirementGroupActionRequired  = "action-required"
	RequirementGroupRejected        = "rejected"
	RequirementGroupDeclined        = "declined"
)

// Number order statuses reported by the provider.
const (
	NumberOrderPending = "pending"
	NumberOrderSuccess = "success"
	NumberOrderFailure = "failure"
)

// ManagedAccount is a sub-account created for one consultant.
type ManagedAccount struct {
	ID           string `json:"id"`
	APIKey       string `json:"api_key"`
	BusinessName string `json:"business_name"`
	Email        string `json:"email"`
}

// CreateManagedAccountParams is the body of POST /v2/managed_accounts.
type CreateManagedAccountParams struct {
	BusinessName string `json:"business_name"`
	Email        string `json:"email,omitempty"`
}

// RequirementValue fills one regulatory requirement, either with text or a document id.
type RequirementValue struct {
	RequirementID string `json:"requirement_id"`
	FieldValue    string `json:"field_value"`
	Status        string `json:"status,omitempty"`
}

// RequirementGroup bundles the KYC material for one jurisdiction and number type.
type RequirementGroup struct {
	ID                     string             `json:"id"`
	Status                 string             `json:"status"`
	CountryCode            string             `json:"country_code"`
	PhoneNumberType        string             `json:"phone_number_type"`
	Action                 string             `json:"action"`
	CustomerReference      string             `json:"customer_reference"`
	RegulatoryRequirements []RequirementValue `json:"regulatory_requirements"`
}

// CreateRequirementGroupParams is the body of POST /v2/requirement_groups.
type CreateRequirementGroupParams struct {
	CountryCode       string `json:"country_code"`
	PhoneNumberType   string `json:"phone_number_type"`
	Action            string `json:"action"`
	CustomerReference string `json:"customer_reference,omitempty"`
}

// UpdateRequirementGroupParams is the body of PATCH /v2/requirement_groups/{id}.
type UpdateRequirementGroupParams struct {
	CustomerReference      string             `json:"customer_reference,omitempty"`
	RegulatoryRequirements []RequirementValue `json:"regulatory_requirements"`
}

// SearchNumbersParams filters GET /v2/available_phone_numbers.
type SearchNumbersParams struct {
	CountryCode string
	Prefix      string // national destination code, e.g. "02" for Milan
	NumberType  string
	Limit       int
}

// RegionInformation describes where a number is located.
type RegionInformation struct {
	RegionType string `json:"region_type"`
	RegionName string `json:"region_name"`
}

// CostInformation is the provider's price for a number.
type CostInformation struct {
	UpfrontCost string `json:"upfront_cost"`
	MonthlyCost string `json:"monthly_cost"`
	Currency    string `json:"currency"`
}

// AvailableNumber is one search result.
type AvailableNumber struct {
	PhoneNumber       string              `json:"phone_number"`
	RegionInformation []RegionInformation `json:"region_information"`
	CostInformation   CostInformation     `json:"cost_information"`
}

// Locality returns the first locality-like region name, if any.
func (n AvailableNumber) Locality() string {
	for _, r := range n.RegionInformation {
		if r.RegionType == "location" || r.RegionType == "rate_center" {
			return r.RegionName
		}
	}
	return ""
}

// OrderedNumber is one number inside a number order.
type OrderedNumber struct {
	ID                 string `json:"id,omitempty"`
	PhoneNumber        string `json:"phone_number"`
	Status             string `json:"status,omitempty"`
	RequirementGroupID string `json:"requirement_group_id,omitempty"`
}

// NumberOrder is the provider's unit of work for provisioning numbers.
type NumberOrder struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	PhoneNumbers      []OrderedNumber `json:"phone_numbers"`
	RequirementsMet   bool            `json:"requirements_met"`
	CustomerReference string          `json:"customer_reference"`
}

// FirstPhoneNumber returns the first non-empty number in the order.
func (o NumberOrder) FirstPhoneNumber() string {
	for _, n := range o.PhoneNumbers {
		if n.PhoneNumber != "" {
			return n.PhoneNumber
		}
	}
	return ""
}

// CreateNumberOrderParams places an order. RequirementGroupID binds every
// number to an approved group when set.
type CreateNumberOrderParams struct {
	PhoneNumbers       []string
	ConnectionID       string
	RequirementGroupID string
	CustomerReference  string
}

// Document is an uploaded KYC file.
type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the master account's balance.
type Balance struct {
	Balance         string `json:"balance" yaml:"balance"`
	CreditLimit     string `json:"credit_limit" yaml:"credit_limit"`
	AvailableCredit string `json:"available_credit" yaml:"available_credit"`
	Currency        string `json:"currency" yaml:"currency"`
}
