package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/kyc"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

// KYCHandlers lets an account assemble and submit its verification
type KYCHandlers struct {
	kyc  kyc.Service
	errs *httputil.ErrorMapper
}

// NewKYCHandlers creates producer KYC handlers
func NewKYCHandlers(kyc kyc.Service, errs *httputil.ErrorMapper) *KYCHandlers {
	return &KYCHandlers{kyc: kyc, errs: errs}
}

// RegisterRoutes registers KYC routes
func (h *KYCHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/kyc/submissions", h.createSubmission).Methods("POST")
	router.HandleFunc("/kyc/submissions", h.listSubmissions).Methods("GET")
	router.HandleFunc("/kyc/submissions/{id}", h.getSubmission).Methods("GET")
	router.HandleFunc("/kyc/submissions/{id}/submit", h.submit).Methods("POST")

	// Documents are uploaded as the raw request body
	router.HandleFunc("/kyc/submissions/{id}/documents/{kind}", h.uploadDocument).Methods("PUT")
	router.HandleFunc("/kyc/submissions/{id}/documents/{doc_id:[0-9]+}", h.downloadDocument).Methods("GET")
}

func (h *KYCHandlers) createSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.kyc.CreateSubmission(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

func (h *KYCHandlers) listSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.kyc.ListSubmissions(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*kyc.Submission{}
	}
	httputil.WriteSuccess(w, subs)
}

func (h *KYCHandlers) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (h *KYCHandlers) submit(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	sub, err := h.kyc.Submit(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// uploadDocument handles PUT /kyc/submissions/{id}/documents/{kind}
func (h *KYCHandlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	kind, err := httputil.ParsePathString(r, "kind")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if r.ContentLength > kyc.MaxDocumentSize {
		h.errs.WriteServiceError(w, r, kyc.ErrDocumentTooLarge)
		return
	}

	doc, err := h.kyc.UploadDocument(r.Context(), contextkeys.GetAccountID(r.Context()), id, kyc.DocumentKind(kind), r.Body)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, doc)
}

// downloadDocument handles GET /kyc/submissions/{id}/documents/{doc_id}
func (h *KYCHandlers) downloadDocument(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	streamDocument(w, r, h.kyc, h.errs, sub.ID)
}

// load fetches the path's submission, scoped to the caller's account
func (h *KYCHandlers) load(w http.ResponseWriter, r *http.Request) (*kyc.Submission, bool) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return nil, false
	}
	sub, err := h.kyc.GetSubmission(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return nil, false
	}
	return sub, true
}

// KYCReviewHandlers serves platform reviewers. Routes must be mounted behind
// the admin scope.
type KYCReviewHandlers struct {
	kyc  kyc.Service
	errs *httputil.ErrorMapper
}

// NewKYCReviewHandlers creates admin KYC handlers
func NewKYCReviewHandlers(kyc kyc.Service, errs *httputil.ErrorMapper) *KYCReviewHandlers {
	return &KYCReviewHandlers{kyc: kyc, errs: errs}
}

// RegisterRoutes registers KYC review routes
func (h *KYCReviewHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/kyc/pending", h.listPending).Methods("GET")
	router.HandleFunc("/kyc/submissions/{id}/review", h.review).Methods("POST")
	router.HandleFunc("/kyc/submissions/{id}/documents/{doc_id:[0-9]+}", h.downloadDocument).Methods("GET")
}

// listPending handles GET /kyc/pending?limit=, oldest submission first
func (h *KYCReviewHandlers) listPending(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	subs, err := h.kyc.ListPending(r.Context(), limit)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*kyc.Submission{}
	}
	httputil.WriteSuccess(w, subs)
}

func (h *KYCReviewHandlers) review(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req kyc.ReviewRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	sub, err := h.kyc.Review(r.Context(), contextkeys.GetAccountID(r.Context()), id, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (h *KYCReviewHandlers) downloadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	streamDocument(w, r, h.kyc, h.errs, id)
}

// streamDocument writes a stored document with its sniffed content type
func streamDocument(w http.ResponseWriter, r *http.Request, svc kyc.Service, errs *httputil.ErrorMapper, submissionID int64) {
	docID, err := httputil.ParsePathInt64(r, "doc_id")
	if err != nil {
		errs.WriteServiceError(w, r, err)
		return
	}

	doc, content, err := svc.OpenDocument(r.Context(), submissionID, docID)
	if err != nil {
		errs.WriteServiceError(w, r, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, content); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("document_id", doc.ID).Warn("Failed to stream kyc document")
	}
}
