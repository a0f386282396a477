package provisioning

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
)

// Defaults for number searches and requirement groups.
const (
	DefaultCountryCode = "IT"
	DefaultNumberType  = "local"
	DefaultSearchLimit = 10
)

// errLostRace means a conditional write found the row already moved by
// another writer.
var errLostRace = errors.New("request changed concurrently")

// Options tunes how requests are submitted to the provider.
type Options struct {
	CountryCode string
	NumberType  string
	// Requirements maps document types and business fields to provider
	// requirement ids. Missing keys are sent unchanged.
	Requirements map[string]string
}

// Workflow drives requests through the provisioning graph.
type Workflow struct {
	store  *Store
	client *provider.Client
	opts   Options
	now    func() time.Time
	logger *zap.SugaredLogger
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowLogger sets the logger.
func WithWorkflowLogger(l *zap.SugaredLogger) WorkflowOption {
	return func(w *Workflow) {
		w.logger = logger.OrNop(l)
	}
}

// WithWorkflowClock replaces time.Now for activation timestamps.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorkflow returns a workflow over store that calls the provider through client.
func NewWorkflow(store *Store, client *provider.Client, opts Options, wopts ...WorkflowOption) *Workflow {
	if opts.CountryCode == "" {
		opts.CountryCode = DefaultCountryCode
	}
	if opts.NumberType == "" {
		opts.NumberType = DefaultNumberType
	}
	w := &Workflow{
		store:  store,
		client: client,
		opts:   opts,
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range wopts {
		opt(w)
	}
	return w
}

// Store returns the request store.
func (w *Workflow) Store() *Store {
	return w.store
}

// Client returns the master-account provider client.
func (w *Workflow) Client() *provider.Client {
	return w.client
}

// Create records a new request.
func (w *Workflow) Create(ctx context.Context, in NewRequest) (*Request, error) {
	req, err := w.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	w.log(ctx, req.ID).Infow("Provisioning request created",
		logger.FieldConsultantID, req.ConsultantID,
		logger.FieldProvider, req.Provider)
	return req, nil
}

// Get loads a request.
func (w *Workflow) Get(ctx context.Context, id int64) (*Request, error) {
	return w.store.Get(ctx, id)
}

// AddDocument stores a KYC file. Documents can only be added before KYC is submitted.
func (w *Workflow) AddDocument(ctx context.Context, requestID int64, docType DocumentType, fileName, contentType string, content []byte) (*Document, error) {
	req, err := w.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusNew && req.Status != StatusDocumentsUploaded {
		return nil, errors.NewConflictf("request %d is %s; documents can no longer be added", requestID, req.Status)
	}
	if _, err := ParseDocumentType(string(docType)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, errors.NewInvalidRequestf("file name is required")
	}
	if len(content) == 0 {
		return nil, errors.NewInvalidRequestf("document %s is empty", fileName)
	}

	doc, err := w.store.AddDocument(ctx, Document{
		RequestID:   requestID,
		Type:        docType,
		FileName:    fileName,
		ContentType: contentType,
		Content:     content,
	})
	if err != nil {
		return nil, err
	}
	if err := w.store.AppendAudit(ctx, requestID, fmt.Sprintf("document %s uploaded: %s (%d bytes)", docType, fileName, doc.Size)); err != nil {
		w.log(ctx, requestID).Warnw("Audit append failed", logger.FieldError, err)
	}
	return doc, nil
}

// Run advances a request as far as it can go without waiting on the provider.
// It is safe to call repeatedly: each step is skipped when its upstream id is
// already recorded. It stops at kyc_submitted and at any later status.
func (w *Workflow) Run(ctx context.Context, id int64) (*Request, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkManual(req); err != nil {
		return req, err
	}

	for {
		var (
			step string
			err  error
		)
		prev := req.Status
		switch req.Status {
		case StatusNew:
			step, err = "create managed account", w.createAccount(ctx, req)
		case StatusDocumentsUploaded:
			step, err = "submit kyc", w.submitKYC(ctx, req)
		default:
			return req, nil
		}

		if err != nil && !errors.Is(err, errLostRace) {
			if errors.IsInvalidRequest(err) {
				return req, err
			}
			return req, w.recordFailure(ctx, req, step, err)
		}

		if req, err = w.store.Get(ctx, id); err != nil {
			return nil, err
		}
		if req.Status == prev {
			return req, errors.NewConflictf("request %d did not leave %s", id, prev)
		}
	}
}

func (w *Workflow) createAccount(ctx context.Context, req *Request) error {
	docs, err := w.store.ListDocuments(ctx, req.ID)
	if err != nil {
		return err
	}
	if missing := MissingDocuments(docs); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		return errors.WithHintf(
			errors.NewInvalidRequestf("request %d is missing required documents", req.ID),
			"upload: %s", strings.Join(names, ", "))
	}

	acct, err := w.client.CreateManagedAccount(ctx, provider.CreateManagedAccountParams{
		BusinessName: req.BusinessName,
		Email:        req.ContactEmail,
	})
	if err != nil {
		return err
	}

	ok, err := w.store.Update(ctx, req.ID,
		Condition{Status: StatusNew, Unset: "managed_account_id"},
		Fields{
			"status":                  StatusDocumentsUploaded,
			"managed_account_id":      acct.ID,
			"managed_account_api_key": acct.APIKey,
		},
		fmt.Sprintf("managed account %s created; %d documents ready", acct.ID, len(docs)))
	if err != nil || !ok {
		return w.orphaned(ctx, req, "managed account", acct.ID, err)
	}
	w.transitioned(ctx, req, StatusDocumentsUploaded)
	return nil
}

func (w *Workflow) submitKYC(ctx context.Context, req *Request) error {
	sub := w.clientFor(req)

	docs, err := w.store.ListDocuments(ctx, req.ID)
	if err != nil {
		return err
	}
	for i, d := range docs {
		if d.ProviderDocumentID != "" || d.Status == DocumentRejected {
			continue
		}
		uploaded, err := sub.UploadDocument(ctx, d.FileName, d.ContentType, bytes.NewReader(d.Content))
		if err != nil {
			return errors.Wrapf(err, "upload document %s", d.Type)
		}
		ok, err := w.store.MarkDocumentSubmitted(ctx, d.ID, uploaded.ID)
		if err != nil || !ok {
			return w.orphaned(ctx, req, "document", uploaded.ID, err)
		}
		docs[i].ProviderDocumentID = uploaded.ID
		docs[i].Status = DocumentSubmitted
	}

	groupID := req.RequirementGroupID
	if groupID == "" {
		group, err := sub.CreateRequirementGroup(ctx, provider.CreateRequirementGroupParams{
			CountryCode:       w.opts.CountryCode,
			PhoneNumberType:   w.opts.NumberType,
			Action:            provider.ActionOrdering,
			CustomerReference: customerReference(req.ID),
		})
		if err != nil {
			return err
		}
		ok, err := w.store.Update(ctx, req.ID,
			Condition{Status: StatusDocumentsUploaded, Unset: "requirement_group_id"},
			Fields{"requirement_group_id": group.ID},
			fmt.Sprintf("requirement group %s created (%s %s)", group.ID, w.opts.CountryCode, w.opts.NumberType))
		if err != nil || !ok {
			return w.orphaned(ctx, req, "requirement group", group.ID, err)
		}
		groupID = group.ID
	}

	if _, err := sub.UpdateRequirementGroup(ctx, groupID, provider.UpdateRequirementGroupParams{
		CustomerReference:      customerReference(req.ID),
		RegulatoryRequirements: w.requirementValues(req, docs),
	}); err != nil {
		return err
	}
	group, err := sub.SubmitRequirementGroup(ctx, groupID)
	if err != nil {
		return err
	}

	ok, err := w.store.Transition(ctx, req.ID, StatusDocumentsUploaded, StatusKYCSubmitted, nil,
		fmt.Sprintf("KYC submitted: requirement group %s is %s", groupID, group.Status))
	if err != nil {
		return err
	}
	if !ok {
		return errLostRace
	}
	w.transitioned(ctx, req, StatusKYCSubmitted)
	return nil
}

func (w *Workflow) requirementValues(req *Request, docs []Document) []provider.RequirementValue {
	var values []provider.RequirementValue
	for _, d := range docs {
		if d.ProviderDocumentID == "" {
			continue
		}
		values = append(values, provider.RequirementValue{
			RequirementID: w.requirementID(string(d.Type)),
			FieldValue:    d.ProviderDocumentID,
		})
	}

	fields := append([][2]string{
		{"business_name", req.BusinessName},
		{"contact_email", req.ContactEmail},
	}, req.Details.fields()...)
	for _, kv := range fields {
		values = append(values, provider.RequirementValue{
			RequirementID: w.requirementID(kv[0]),
			FieldValue:    kv[1],
		})
	}
	return values
}

func (w *Workflow) requirementID(key string) string {
	if id, ok := w.opts.Requirements[key]; ok && id != "" {
		return id
	}
	return key
}

// ReconcileKYC polls the request's requirement group and applies its status.
func (w *Workflow) ReconcileKYC(ctx context.Context, req *Request) (bool, error) {
	if req.RequirementGroupID == "" {
		return false, nil
	}
	group, err := w.clientFor(req).GetRequirementGroup(ctx, req.RequirementGroupID)
	if err != nil {
		return false, w.auditCheckFailure(ctx, req, "kyc status check", err)
	}
	return w.ApplyRequirementGroupStatus(ctx, req, group)
}

// ApplyRequirementGroupStatus moves a kyc_submitted request according to the
// provider's group status. It reports whether this call made the transition;
// a row that already moved is left alone.
func (w *Workflow) ApplyRequirementGroupStatus(ctx context.Context, req *Request, group *provider.RequirementGroup) (bool, error) {
	var (
		to      Status
		message string
		docs    DocumentStatus
		reason  string
	)
	switch group.Status {
	case provider.RequirementGroupApproved:
		to, docs = StatusKYCApproved, DocumentVerified
		message = fmt.Sprintf("KYC approved: requirement group %s", group.ID)
	case provider.RequirementGroupActionRequired, provider.RequirementGroupRejected, provider.RequirementGroupDeclined:
		to, docs = StatusRejected, DocumentRejected
		reason = rejectionReason(group)
		message = fmt.Sprintf("KYC %s: requirement group %s: %s", group.Status, group.ID, reason)
	default:
		return false, nil
	}

	ok, err := w.store.Transition(ctx, req.ID, StatusKYCSubmitted, to, nil, message)
	if err != nil || !ok {
		return false, err
	}
	if err := w.store.SetDocumentsStatus(ctx, req.ID, docs, reason); err != nil {
		w.log(ctx, req.ID).Warnw("Document status update failed", logger.FieldError, err)
	}
	w.transitioned(ctx, req, to)
	return true, nil
}

func rejectionReason(group *provider.RequirementGroup) string {
	var parts []string
	for _, r := range group.RegulatoryRequirements {
		if r.Status != "" && r.Status != provider.RequirementGroupApproved {
			parts = append(parts, r.RequirementID+"="+r.Status)
		}
	}
	if len(parts) == 0 {
		return "no reason given"
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// OrderNumber orders number (or the desired number when empty) for a
// kyc_approved request. The order is placed at most once per request.
func (w *Workflow) OrderNumber(ctx context.Context, id int64, number string) (*Request, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkManual(req); err != nil {
		return req, err
	}
	if req.NumberOrderID != "" {
		return req, errors.NewConflictf("request %d already has number order %s", id, req.NumberOrderID)
	}
	if req.Status != StatusKYCApproved {
		return req, errors.WithHint(
			errors.NewConflictf("request %d is %s; numbers can only be ordered once KYC is approved", id, req.Status),
			"the poller moves requests to kyc_approved once the provider approves the requirement group")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		number = req.DesiredNumber
	}
	if number == "" {
		return req, errors.NewInvalidRequestf("no number given and request %d has no desired number", id)
	}

	order, err := w.placeOrder(ctx, req, number)
	if err != nil {
		return req, w.recordFailure(ctx, req, "order number", err)
	}

	if req, err = w.store.Get(ctx, id); err != nil {
		return nil, err
	}
	// Some orders complete synchronously.
	if order.Status == provider.NumberOrderSuccess || order.Status == provider.NumberOrderFailure {
		if _, err := w.ApplyNumberOrderStatus(ctx, req, order); err != nil {
			return req, err
		}
		return w.store.Get(ctx, id)
	}
	return req, nil
}

func (w *Workflow) placeOrder(ctx context.Context, req *Request, number string) (*provider.NumberOrder, error) {
	creds, err := w.client.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	order, err := w.clientFor(req).CreateNumberOrder(ctx, provider.CreateNumberOrderParams{
		PhoneNumbers:       []string{number},
		ConnectionID:       creds.ConnectionID,
		RequirementGroupID: req.RequirementGroupID,
		CustomerReference:  customerReference(req.ID),
	})
	if err != nil {
		return nil, err
	}

	ok, err := w.store.Update(ctx, req.ID,
		Condition{Status: StatusKYCApproved, Unset: "number_order_id"},
		Fields{
			"status":          StatusNumberOrdered,
			"number_order_id": order.ID,
			"desired_number":  number,
		},
		fmt.Sprintf("number order %s placed for %s", order.ID, number))
	if err != nil || !ok {
		return nil, w.orphaned(ctx, req, "number order", order.ID, err)
	}
	w.transitioned(ctx, req, StatusNumberOrdered)
	return order, nil
}

// ReconcileOrder polls the request's number order and applies its status.
func (w *Workflow) ReconcileOrder(ctx context.Context, req *Request) (bool, error) {
	if req.NumberOrderID == "" {
		return false, nil
	}
	order, err := w.clientFor(req).GetNumberOrder(ctx, req.NumberOrderID)
	if err != nil {
		return false, w.auditCheckFailure(ctx, req, "number order check", err)
	}
	return w.ApplyNumberOrderStatus(ctx, req, order)
}

// ApplyNumberOrderStatus moves a number_ordered request according to the
// order status. On success the assigned number is the provider's, falling
// back to the desired number.
func (w *Workflow) ApplyNumberOrderStatus(ctx context.Context, req *Request, order *provider.NumberOrder) (bool, error) {
	var (
		to      Status
		fields  Fields
		message string
	)
	switch order.Status {
	case provider.NumberOrderSuccess:
		to = StatusNumberActive
		fields = Fields{"activated_at": w.now()}
		number := order.FirstPhoneNumber()
		if number == "" {
			number = req.DesiredNumber
		}
		if number != "" {
			fields["assigned_number"] = number
			message = fmt.Sprintf("number %s active (order %s)", number, order.ID)
		} else {
			message = fmt.Sprintf("order %s succeeded without a number", order.ID)
		}
	case provider.NumberOrderFailure:
		to = StatusRejected
		message = fmt.Sprintf("number order %s failed", order.ID)
	default:
		return false, nil
	}

	ok, err := w.store.Transition(ctx, req.ID, StatusNumberOrdered, to, fields, message)
	if err != nil || !ok {
		return false, err
	}
	w.transitioned(ctx, req, to)
	return true, nil
}

// SearchNumbers lists numbers the request could order. prefix defaults to the
// request's desired prefix.
func (w *Workflow) SearchNumbers(ctx context.Context, id int64, prefix string, limit int) ([]provider.AvailableNumber, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, errors.NewConflictf("request %d is %s", id, req.Status)
	}
	if prefix == "" {
		prefix = req.DesiredPrefix
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return w.clientFor(req).SearchNumbers(ctx, provider.SearchNumbersParams{
		CountryCode: w.opts.CountryCode,
		Prefix:      strings.TrimSpace(prefix),
		NumberType:  w.opts.NumberType,
		Limit:       limit,
	})
}

// AllocateOutbound sets the outbound channel limit of an active request's
// managed account. The status does not change.
func (w *Workflow) AllocateOutbound(ctx context.Context, id int64, channels int) (*Request, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusNumberActive {
		return req, errors.NewConflictf("request %d is %s; outbound channels need an active number", id, req.Status)
	}
	if req.ManagedAccountID == "" {
		return req, errors.NewConflictf("request %d has no managed account", id)
	}
	if _, err := w.client.AllocateOutboundChannels(ctx, req.ManagedAccountID, channels); err != nil {
		if errors.IsInvalidRequest(err) {
			return req, err
		}
		return req, w.recordFailure(ctx, req, "allocate outbound channels", err)
	}
	if err := w.store.AppendAudit(ctx, id, fmt.Sprintf("outbound channels allocated: %d", channels)); err != nil {
		return req, err
	}
	return w.store.Get(ctx, id)
}

// clientFor authenticates as the request's managed account once it exists.
func (w *Workflow) clientFor(req *Request) *provider.Client {
	if req.ManagedAccountAPIKey != "" {
		return w.client.WithAPIKey(req.ManagedAccountAPIKey)
	}
	return w.client
}

// orphaned reports an upstream resource that was created but could not be
// recorded locally. The id goes into the error so it lands in the audit log.
func (w *Workflow) orphaned(ctx context.Context, req *Request, kind, upstreamID string, cause error) error {
	w.log(ctx, req.ID).Errorw("Upstream resource created but not recorded",
		"kind", kind,
		logger.FieldUpstreamID, upstreamID,
		logger.FieldError, cause)
	if cause == nil {
		cause = errors.NewConflictf("request %d changed concurrently", req.ID)
	}
	return errors.WithDetailf(
		errors.Wrapf(cause, "orphaned %s %s", kind, upstreamID),
		"upstream %s %s exists at the provider but is not linked to request %d", kind, upstreamID, req.ID)
}

// recordFailure appends the error to the audit log and returns it wrapped.
func (w *Workflow) recordFailure(ctx context.Context, req *Request, step string, err error) error {
	log := w.log(ctx, req.ID)
	if auditErr := w.store.AppendAudit(ctx, req.ID, step+" failed: "+err.Error()); auditErr != nil {
		log.Warnw("Audit append failed", logger.FieldError, auditErr)
	}
	log.Errorw("Provisioning step failed",
		logger.FieldOperation, step,
		logger.FieldStatus, req.Status,
		logger.FieldError, err)
	return errors.Wrapf(err, "%s for request %d", step, req.ID)
}

// auditCheckFailure records a failed status check on the request, leaving its
// state alone. A cancelled check is not recorded.
func (w *Workflow) auditCheckFailure(ctx context.Context, req *Request, check string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if auditErr := w.store.AppendAudit(ctx, req.ID, check+" failed: "+err.Error()); auditErr != nil {
		w.log(ctx, req.ID).Warnw("Audit append failed", logger.FieldError, auditErr)
	}
	return err
}

func (w *Workflow) transitioned(ctx context.Context, req *Request, to Status) {
	metrics.RecordTransition(string(to))
	w.log(ctx, req.ID).Infow("Provisioning request transitioned",
		logger.FieldFromStatus, req.Status,
		logger.FieldToStatus, to)
}

func (w *Workflow) log(ctx context.Context, id int64) *zap.SugaredLogger {
	return logger.FromContext(logger.WithRequestID(ctx, id), w.logger)
}

func checkManual(req *Request) error {
	if !IsManualProvider(req.Provider) {
		return nil
	}
	return errors.WithHintf(
		errors.NewConflictf("request %d uses %s, which is provisioned manually", req.ID, req.Provider),
		"activate the number in the %s portal; the workflow only drives telnyx requests", req.Provider)
}

func customerReference(id int64) string {
	return fmt.Sprintf("coachale-%d", id)
}
