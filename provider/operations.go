package provider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// Requirement group actions.
const (
	ActionOrdering = "ordering"
	ActionPorting  = "porting"
)

// CreateManagedAccount creates a sub-account. Not idempotent.
func (c *Client) CreateManagedAccount(ctx context.Context, p CreateManagedAccountParams) (*ManagedAccount, error) {
	if p.BusinessName == "" {
		return nil, errors.NewInvalidRequestf("business name is required")
	}
	var acct ManagedAccount
	if err := c.call(ctx, "create_managed_account", http.MethodPost, "/v2/managed_accounts", p, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreateRequirementGroup opens a KYC bundle for one country, number type and action. Not idempotent.
func (c *Client) CreateRequirementGroup(ctx context.Context, p CreateRequirementGroupParams) (*RequirementGroup, error) {
	if p.CountryCode == "" || p.PhoneNumberType == "" {
		return nil, errors.NewInvalidRequestf("country code and phone number type are required")
	}
	if p.Action == "" {
		p.Action = ActionOrdering
	}
	var group RequirementGroup
	if err := c.call(ctx, "create_requirement_group", http.MethodPost, "/v2/requirement_groups", p, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateRequirementGroup attaches documents and business metadata.
func (c *Client) UpdateRequirementGroup(ctx context.Context, id string, p UpdateRequirementGroupParams) (*RequirementGroup, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestf("requirement group id is required")
	}
	var group RequirementGroup
	if err := c.call(ctx, "update_requirement_group", http.MethodPatch, "/v2/requirement_groups/"+url.PathEscape(id), p, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// SubmitRequirementGroup sends the group for regulatory approval. Not idempotent.
func (c *Client) SubmitRequirementGroup(ctx context.Context, id string) (*RequirementGroup, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestf("requirement group id is required")
	}
	var group RequirementGroup
	endpoint := "/v2/requirement_groups/" + url.PathEscape(id) + "/submit_for_approval"
	if err := c.call(ctx, "submit_requirement_group", http.MethodPost, endpoint, nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// GetRequirementGroup polls a group's status.
func (c *Client) GetRequirementGroup(ctx context.Context, id string) (*RequirementGroup, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestf("requirement group id is required")
	}
	var group RequirementGroup
	if err := c.call(ctx, "get_requirement_group", http.MethodGet, "/v2/requirement_groups/"+url.PathEscape(id), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// SearchNumbers lists purchasable numbers.
func (c *Client) SearchNumbers(ctx context.Context, p SearchNumbersParams) ([]AvailableNumber, error) {
	if p.CountryCode == "" {
		return nil, errors.NewInvalidRequestf("country code is required")
	}
	q := url.Values{}
	q.Set("filter[country_code]", p.CountryCode)
	if p.Prefix != "" {
		q.Set("filter[national_destination_code]", p.Prefix)
	}
	if p.NumberType != "" {
		q.Set("filter[phone_number_type]", p.NumberType)
	}
	if p.Limit > 0 {
		q.Set("filter[limit]", strconv.Itoa(p.Limit))
	}

	var numbers []AvailableNumber
	if err := c.call(ctx, "search_numbers", http.MethodGet, "/v2/available_phone_numbers?"+q.Encode(), nil, &numbers); err != nil {
		return nil, err
	}
	return numbers, nil
}

type numberOrderBody struct {
	PhoneNumbers      []OrderedNumber `json:"phone_numbers"`
	ConnectionID      string          `json:"connection_id,omitempty"`
	CustomerReference string          `json:"customer_reference,omitempty"`
}

// CreateNumberOrder orders numbers, bound to a requirement group when one is given. Not idempotent.
func (c *Client) CreateNumberOrder(ctx context.Context, p CreateNumberOrderParams) (*NumberOrder, error) {
	if len(p.PhoneNumbers) == 0 {
		return nil, errors.NewInvalidRequestf("at least one phone number is required")
	}
	body := numberOrderBody{
		ConnectionID:      p.ConnectionID,
		CustomerReference: p.CustomerReference,
	}
	for _, n := range p.PhoneNumbers {
		body.PhoneNumbers = append(body.PhoneNumbers, OrderedNumber{
			PhoneNumber:        n,
			RequirementGroupID: p.RequirementGroupID,
		})
	}
	var order NumberOrder
	if err := c.call(ctx, "create_number_order", http.MethodPost, "/v2/number_orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetNumberOrder polls an order's status.
func (c *Client) GetNumberOrder(ctx context.Context, id string) (*NumberOrder, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestf("number order id is required")
	}
	var order NumberOrder
	if err := c.call(ctx, "get_number_order", http.MethodGet, "/v2/number_orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UploadDocument uploads one KYC file and returns the provider's document record.
func (c *Client) UploadDocument(ctx context.Context, filename, contentType string, content io.Reader) (*Document, error) {
	if filename == "" {
		return nil, errors.NewInvalidRequestf("file name is required")
	}
	var doc Document
	if err := c.upload(ctx, "upload_document", "/v2/documents", nil, "file", filename, contentType, content, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetBalance returns the authenticated account's balance.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.call(ctx, "get_balance", http.MethodGet, "/v2/balance", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// AllocateOutboundChannels sets the managed account's global outbound channel limit.
func (c *Client) AllocateOutboundChannels(ctx context.Context, managedAccountID string, channels int) (*ManagedAccount, error) {
	if managedAccountID == "" {
		return nil, errors.NewInvalidRequestf("managed account id is required")
	}
	if channels <= 0 {
		return nil, errors.NewInvalidRequestf("channels must be positive, got %d", channels)
	}
	body := map[string]int{"channel_limit": channels}
	endpoint := "/v2/managed_accounts/" + url.PathEscape(managedAccountID) + "/update_global_channel_limit"
	var acct ManagedAccount
	if err := c.call(ctx, "allocate_outbound_channels", http.MethodPatch, endpoint, body, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}
