package kyc

import (
	"context"
	"errors"
	"io"
	"time"
)

// Status is the review state of a submission
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// DocumentKind is the type of an identity document
type DocumentKind string

const (
	DocumentIDFront             DocumentKind = "id_front"
	DocumentIDBack              DocumentKind = "id_back"
	DocumentSelfie              DocumentKind = "selfie"
	DocumentProofOfAddress      DocumentKind = "proof_of_address"
	DocumentCompanyRegistration DocumentKind = "company_registration"
)

// Valid reports whether k is a known document kind
func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentIDFront, DocumentIDBack, DocumentSelfie, DocumentProofOfAddress, DocumentCompanyRegistration:
		return true
	}
	return false
}

// RequiredDocuments must be present before a submission can be reviewed
var RequiredDocuments = []DocumentKind{DocumentIDFront, DocumentSelfie}

// MaxDocumentSize is the largest accepted upload
const MaxDocumentSize = 10 << 20

// AllowedContentTypes are the accepted document formats
var AllowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

var (
	ErrSubmissionNotFound = errors.New("kyc submission not found")
	ErrDocumentNotFound   = errors.New("kyc document not found")
	ErrNotEditable        = errors.New("kyc submission can no longer be changed")
	ErrNotReviewable      = errors.New("kyc submission is not awaiting review")
	ErrMissingDocuments   = errors.New("kyc submission is missing required documents")
	ErrInvalidKind        = errors.New("unknown document kind")
	ErrDocumentTooLarge   = errors.New("document exceeds 10 MiB")
	ErrUnsupportedType    = errors.New("document must be a JPEG, PNG or PDF")
	ErrEmptyDocument      = errors.New("document is empty")
	ErrInvalidDecision    = errors.New("review decision must be approved or rejected")
)

// Document is one uploaded file of a submission
type Document struct {
	ID           int64        `json:"id"`
	SubmissionID int64        `json:"submission_id"`
	Kind         DocumentKind `json:"kind"`
	ObjectKey    string       `json:"-"`
	SHA256       string       `json:"sha256"`
	ContentType  string       `json:"content_type"`
	Size         int64        `json:"size_bytes"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Submission is an account's request to be verified
type Submission struct {
	ID           int64       `json:"id"`
	AccountID    int64       `json:"account_id"`
	Status       Status      `json:"status"`
	Documents    []*Document `json:"documents"`
	ReviewerNote string      `json:"reviewer_note,omitempty"`
	ReviewedBy   *int64      `json:"reviewed_by,omitempty"`
	SubmittedAt  *time.Time  `json:"submitted_at,omitempty"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ReviewRequest is an admin's decision on a pending submission
type ReviewRequest struct {
	Decision Status `json:"decision" validate:"required,oneof=approved rejected"`
	Note     string `json:"note" validate:"max=2000"`
}

// Publisher receives kyc.reviewed notifications
type Publisher interface {
	Publish(ctx context.Context, accountID int64, eventType string, data interface{})
}

// Service manages KYC submissions
type Service interface {
	CreateSubmission(ctx context.Context, accountID int64) (*Submission, error)
	GetSubmission(ctx context.Context, accountID, submissionID int64) (*Submission, error)
	ListSubmissions(ctx context.Context, accountID int64) ([]*Submission, error)
	ListPending(ctx context.Context, limit int) ([]*Submission, error)
	UploadDocument(ctx context.Context, accountID, submissionID int64, kind DocumentKind, content io.Reader) (*Document, error)
	OpenDocument(ctx context.Context, submissionID, documentID int64) (*Document, io.ReadCloser, error)
	Submit(ctx context.Context, accountID, submissionID int64) (*Submission, error)
	Review(ctx context.Context, reviewerID, submissionID int64, req *ReviewRequest) (*Submission, error)
}
