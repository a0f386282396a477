package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
)

// requestDetail is the GET /api/provisioning/requests/{id} body.
type requestDetail struct {
	Request   *provisioning.Request       `json:"request"`
	Documents []provisioning.Document     `json:"documents"`
	Audit     []provisioning.AuditEntry   `json:"audit"`
	Missing   []provisioning.DocumentType `json:"missing_documents,omitempty"`
}

type orderBody struct {
	PhoneNumber string `json:"phone_number"`
}

type outboundBody struct {
	Channels int `json:"channels"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in provisioning.NewRequest
	if err := readJSON(w, r, &in); err != nil {
		return
	}
	req, err := s.deps.Workflow.Create(r.Context(), in)
	if err != nil {
		writeWrappedError(w, s.logger, err, "create provisioning request")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := provisioning.ListFilter{ConsultantID: q.Get("consultant_id")}
	if raw := q.Get("status"); raw != "" {
		status, err := provisioning.ParseStatus(raw)
		if err != nil {
			writeWrappedError(w, s.logger, err, "list provisioning requests")
			return
		}
		filter.Status = status
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeWrappedError(w, s.logger, err, "list provisioning requests")
		return
	}
	filter.Limit = limit

	reqs, err := s.deps.Workflow.Store().List(r.Context(), filter)
	if err != nil {
		writeWrappedError(w, s.logger, err, "list provisioning requests")
		return
	}
	if reqs == nil {
		reqs = []*provisioning.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := s.deps.Workflow.Get(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "get provisioning request")
		return
	}
	docs, err := s.deps.Workflow.Store().ListDocuments(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "list documents")
		return
	}
	if docs == nil {
		docs = []provisioning.Document{}
	}
	audit := req.Audit()
	if audit == nil {
		audit = []provisioning.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, requestDetail{
		Request:   req,
		Documents: docs,
		Audit:     audit,
		Missing:   provisioning.MissingDocuments(docs),
	})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	docType, err := provisioning.ParseDocumentType(strings.TrimSpace(r.FormValue("document_type")))
	if err != nil {
		writeWrappedError(w, s.logger, err, "upload document")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	doc, err := s.deps.Workflow.AddDocument(r.Context(), id, docType, header.Filename, header.Header.Get("Content-Type"), content)
	if err != nil {
		writeWrappedError(w, s.logger, err, "upload document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	ctx := logger.WithRequestID(r.Context(), id)
	req, err := s.deps.Workflow.Run(ctx, id)
	if err != nil {
		writeWrappedError(w, logger.FromContext(ctx, s.logger), err, "advance provisioning request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSearchNumbers(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeWrappedError(w, s.logger, err, "search numbers")
		return
	}
	numbers, err := s.deps.Workflow.SearchNumbers(r.Context(), id, r.URL.Query().Get("prefix"), limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "search numbers")
		return
	}
	writeJSON(w, http.StatusOK, numbers)
}

func (s *Server) handleOrderNumber(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body orderBody
	if err := readJSON(w, r, &body); err != nil {
		return
	}
	ctx := logger.WithRequestID(r.Context(), id)
	req, err := s.deps.Workflow.OrderNumber(ctx, id, strings.TrimSpace(body.PhoneNumber))
	if err != nil {
		writeWrappedError(w, logger.FromContext(ctx, s.logger), err, "order number")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAllocateOutbound(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body outboundBody
	if err := readJSON(w, r, &body); err != nil {
		return
	}
	req, err := s.deps.Workflow.AllocateOutbound(r.Context(), id, body.Channels)
	if err != nil {
		writeWrappedError(w, s.logger, err, "allocate outbound channels")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
