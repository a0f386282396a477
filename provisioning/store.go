package provisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// Store persists requests and their documents. Times are unix milliseconds.
// There is no delete: requests are kept for their audit trail.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock replaces time.Now for timestamps and audit lines.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a store over a migrated database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

const requestColumns = `id, consultant_id, provider, status, business_name, contact_email,
	desired_prefix, desired_number, assigned_number, managed_account_id, managed_account_api_key,
	requirement_group_id, number_order_id, business_details, error_log,
	created_at, updated_at, activated_at`

// Create inserts a request in status new.
func (s *Store) Create(ctx context.Context, in NewRequest) (*Request, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	details, err := json.Marshal(in.Details)
	if err != nil {
		return nil, errors.Wrap(err, "encode business details")
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO provisioning_requests (
			consultant_id, provider, status, business_name, contact_email,
			desired_prefix, desired_number, business_details, error_log, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ConsultantID, in.Provider, StatusNew, in.BusinessName, in.ContactEmail,
		in.DesiredPrefix, in.DesiredNumber, string(details),
		auditLine(now, "request created for "+in.BusinessName+" via "+in.Provider),
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "insert provisioning request")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "read provisioning request id")
	}
	return s.Get(ctx, id)
}

// Get loads one request; unknown ids are ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM provisioning_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundf("provisioning request %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get provisioning request %d", id)
	}
	return r, nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	ConsultantID string
	Status       Status
	Limit        int
}

// List returns requests newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Request, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ConsultantID != "" {
		where = append(where, "consultant_id = ?")
		args = append(args, f.ConsultantID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM provisioning_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.query(ctx, "list provisioning requests", query, args...)
}

// ListAwaitingKYC returns kyc_submitted requests that have a requirement group, oldest first.
func (s *Store) ListAwaitingKYC(ctx context.Context) ([]*Request, error) {
	return s.query(ctx, "list requests awaiting kyc",
		`SELECT `+requestColumns+` FROM provisioning_requests
		 WHERE status = ? AND requirement_group_id != '' ORDER BY id`, StatusKYCSubmitted)
}

// ListAwaitingOrder returns number_ordered requests that have an order id, oldest first.
func (s *Store) ListAwaitingOrder(ctx context.Context) ([]*Request, error) {
	return s.query(ctx, "list requests awaiting order",
		`SELECT `+requestColumns+` FROM provisioning_requests
		 WHERE status = ? AND number_order_id != '' ORDER BY id`, StatusNumberOrdered)
}

func (s *Store) query(ctx context.Context, what, query string, args ...interface{}) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, what)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, what)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), what)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(sc scanner) (*Request, error) {
	var (
		r                    Request
		status, details      string
		errorLog             sql.NullString
		createdAt, updatedAt int64
		activatedAt          sql.NullInt64
	)
	err := sc.Scan(&r.ID, &r.ConsultantID, &r.Provider, &status, &r.BusinessName, &r.ContactEmail,
		&r.DesiredPrefix, &r.DesiredNumber, &r.AssignedNumber, &r.ManagedAccountID, &r.ManagedAccountAPIKey,
		&r.RequirementGroupID, &r.NumberOrderID, &details, &errorLog,
		&createdAt, &updatedAt, &activatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.ErrorLog = errorLog.String
	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updatedAt)
	if activatedAt.Valid {
		t := time.UnixMilli(activatedAt.Int64)
		r.ActivatedAt = &t
	}
	if details != "" {
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, errors.Wrapf(err, "decode business details of request %d", r.ID)
		}
	}
	return &r, nil
}

// Fields are column updates applied by Update. Only the columns below may be set.
type Fields map[string]interface{}

var updatableColumns = map[string]bool{
	"status":                  true,
	"desired_number":          true,
	"assigned_number":         true,
	"managed_account_id":      true,
	"managed_account_api_key": true,
	"requirement_group_id":    true,
	"number_order_id":         true,
	"activated_at":            true,
}

// guardColumns may be used as Condition.Unset.
var guardColumns = map[string]bool{
	"managed_account_id":   true,
	"requirement_group_id": true,
	"number_order_id":      true,
}

// Condition is what the row must still look like for Update to apply.
type Condition struct {
	Status Status
	// Unset names an upstream id column that must still be empty.
	Unset string
}

// Update applies fields and appends message to the audit log in one
// statement, only if the row matches cond. It reports whether the row was
// written; false means another writer moved the row first.
func (s *Store) Update(ctx context.Context, id int64, cond Condition, fields Fields, message string) (bool, error) {
	if cond.Status == "" {
		return false, errors.AssertionFailedf("update of request %d without an expected status", id)
	}
	if cond.Unset != "" && !guardColumns[cond.Unset] {
		return false, errors.AssertionFailedf("column %q cannot guard an update", cond.Unset)
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return false, errors.AssertionFailedf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if v, ok := fields["assigned_number"]; ok && v == "" {
		return false, errors.NewInvalidRequestf("assigned number cannot be cleared")
	}

	now := s.now()
	var (
		set  []string
		args []interface{}
	)
	for _, col := range cols {
		set = append(set, col+" = ?")
		args = append(args, columnValue(fields[col]))
	}
	set = append(set, "updated_at = ?", "error_log = COALESCE(error_log, '') || ?")
	args = append(args, now.UnixMilli(), auditLine(now, message))

	query := `UPDATE provisioning_requests SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, cond.Status)
	if cond.Unset != "" {
		query += " AND " + cond.Unset + " = ''"
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "update provisioning request %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "update provisioning request %d", id)
	}
	return n == 1, nil
}

func columnValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli()
	case Status:
		return string(t)
	default:
		return v
	}
}

// Transition moves a request from one status to the next, checking the graph.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status, fields Fields, message string) (bool, error) {
	if !CanTransition(from, to) {
		return false, errors.NewConflictf("request %d cannot move from %s to %s", id, from, to)
	}
	all := Fields{"status": to}
	for k, v := range fields {
		all[k] = v
	}
	return s.Update(ctx, id, Condition{Status: from}, all, message)
}

// AppendAudit adds a line to the request's audit log without other changes.
func (s *Store) AppendAudit(ctx context.Context, id int64, message string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_requests
		 SET error_log = COALESCE(error_log, '') || ?, updated_at = ?
		 WHERE id = ?`,
		auditLine(now, message), now.UnixMilli(), id)
	return errors.Wrapf(err, "append audit to request %d", id)
}

// AddDocument stores an uploaded file for a request.
func (s *Store) AddDocument(ctx context.Context, d Document) (*Document, error) {
	if d.ContentType == "" {
		d.ContentType = "application/octet-stream"
	}
	d.Status = DocumentUploaded
	d.UploadedAt = time.UnixMilli(s.now().UnixMilli())
	d.Size = len(d.Content)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO provisioning_documents (request_id, document_type, file_name, content_type, content, status, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.RequestID, d.Type, d.FileName, d.ContentType, d.Content, d.Status, d.UploadedAt.UnixMilli())
	if err != nil {
		return nil, errors.Wrapf(err, "insert document for request %d", d.RequestID)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "read document id")
	}
	return &d, nil
}

// ListDocuments returns a request's documents with their content, in upload order.
func (s *Store) ListDocuments(ctx context.Context, requestID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, document_type, file_name, content_type, content, status,
		        provider_document_id, rejection_reason, uploaded_at
		 FROM provisioning_documents WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, errors.Wrapf(err, "list documents of request %d", requestID)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d          Document
			docType    string
			status     string
			uploadedAt int64
		)
		if err := rows.Scan(&d.ID, &d.RequestID, &docType, &d.FileName, &d.ContentType, &d.Content,
			&status, &d.ProviderDocumentID, &d.RejectionReason, &uploadedAt); err != nil {
			return nil, errors.Wrapf(err, "scan document of request %d", requestID)
		}
		d.Type = DocumentType(docType)
		d.Status = DocumentStatus(status)
		d.Size = len(d.Content)
		d.UploadedAt = time.UnixMilli(uploadedAt)
		docs = append(docs, d)
	}
	return docs, errors.Wrapf(rows.Err(), "list documents of request %d", requestID)
}

// MarkDocumentSubmitted records the provider's id for a document that has none yet.
func (s *Store) MarkDocumentSubmitted(ctx context.Context, docID int64, providerDocumentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_documents SET provider_document_id = ?, status = ?
		 WHERE id = ? AND provider_document_id = ''`,
		providerDocumentID, DocumentSubmitted, docID)
	if err != nil {
		return false, errors.Wrapf(err, "mark document %d submitted", docID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "mark document %d submitted", docID)
	}
	return n == 1, nil
}

// SetDocumentsStatus moves every submitted document of a request to status.
func (s *Store) SetDocumentsStatus(ctx context.Context, requestID int64, status DocumentStatus, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_documents SET status = ?, rejection_reason = ?
		 WHERE request_id = ? AND status = ?`,
		status, reason, requestID, DocumentSubmitted)
	return errors.Wrapf(err, "set documents of request %d to %s", requestID, status)
}
