package kyc

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/producers"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

// EventReviewed is published to the account when a review completes
const EventReviewed = "kyc.reviewed"

const submissionColumns = `id, account_id, status, reviewer_note, reviewed_by, submitted_at, reviewed_at, created_at`
const documentColumns = `id, submission_id, kind, object_key, sha256, content_type, size_bytes, created_at`

// PostgresService implements Service with documents in an object store
type PostgresService struct {
	db        *sql.DB
	store     storage.ObjectStore
	accounts  producers.Service
	publisher Publisher
	logger    *observability.Logger
}

var _ Service = (*PostgresService)(nil)

// NewPostgresService creates a KYC service. publisher may be nil.
func NewPostgresService(db *sql.DB, store storage.ObjectStore, accounts producers.Service, publisher Publisher, logger *observability.Logger) *PostgresService {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PostgresService{
		db:        db,
		store:     store,
		accounts:  accounts,
		publisher: publisher,
		logger:    logger.WithField("component", "kyc"),
	}
}

// CreateSubmission opens a draft submission for documents
func (s *PostgresService) CreateSubmission(ctx context.Context, accountID int64) (*Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`INSERT INTO kyc_submissions (account_id, status) VALUES ($1, $2) RETURNING `+submissionColumns,
		accountID, StatusDraft))
	if err != nil {
		return nil, fmt.Errorf("failed to create kyc submission: %w", err)
	}
	sub.Documents = []*Document{}
	return sub, nil
}

// GetSubmission retrieves an account's submission with its documents
func (s *PostgresService) GetSubmission(ctx context.Context, accountID, submissionID int64) (*Submission, error) {
	sub, err := s.getSubmission(ctx, s.db, accountID, submissionID, false)
	if err != nil {
		return nil, err
	}
	if sub.Documents, err = s.documents(ctx, s.db, sub.ID); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *PostgresService) getSubmission(ctx context.Context, q storage.Querier, accountID, submissionID int64, lock bool) (*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM kyc_submissions WHERE id = $1`
	args := []interface{}{submissionID}
	if accountID > 0 {
		query += ` AND account_id = $2`
		args = append(args, accountID)
	}
	if lock {
		query += ` FOR UPDATE`
	}
	sub, err := scanSubmission(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kyc submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions lists an account's submissions, newest first
func (s *PostgresService) ListSubmissions(ctx context.Context, accountID int64) ([]*Submission, error) {
	return s.list(ctx, `SELECT `+submissionColumns+` FROM kyc_submissions WHERE account_id = $1 ORDER BY id DESC`, accountID)
}

// ListPending lists submissions awaiting review, oldest first
func (s *PostgresService) ListPending(ctx context.Context, limit int) ([]*Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+submissionColumns+` FROM kyc_submissions WHERE status = $1 ORDER BY submitted_at LIMIT $2`,
		StatusPending, limit)
}

func (s *PostgresService) list(ctx context.Context, query string, args ...interface{}) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kyc submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kyc submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresService) documents(ctx context.Context, q storage.Querier, submissionID int64) ([]*Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM kyc_documents WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list kyc documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kyc document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UploadDocument stores a document on a draft submission, replacing any
// earlier upload of the same kind. The content type is sniffed from the
// bytes, not taken from the client.
func (s *PostgresService) UploadDocument(ctx context.Context, accountID, submissionID int64, kind DocumentKind, content io.Reader) (*Document, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(data) > MaxDocumentSize {
		return nil, ErrDocumentTooLarge
	}
	contentType := http.DetectContentType(data)
	if !AllowedContentTypes[contentType] {
		return nil, ErrUnsupportedType
	}

	sub, err := s.getSubmission(ctx, s.db, accountID, submissionID, false)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusDraft {
		return nil, ErrNotEditable
	}

	key := fmt.Sprintf("kyc/%d/%d/%s", accountID, submissionID, uuid.NewString())
	info, err := s.store.Put(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	var doc *Document
	var replaced string
	err = storage.InTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := s.getSubmission(ctx, tx, accountID, submissionID, true)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return ErrNotEditable
		}
		err = tx.QueryRowContext(ctx,
			`SELECT object_key FROM kyc_documents WHERE submission_id = $1 AND kind = $2`, submissionID, kind,
		).Scan(&replaced)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check existing document: %w", err)
		}
		doc, err = scanDocument(tx.QueryRowContext(ctx, `
			INSERT INTO kyc_documents (submission_id, kind, object_key, sha256, content_type, size_bytes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (submission_id, kind) DO UPDATE
			SET object_key = EXCLUDED.object_key, sha256 = EXCLUDED.sha256,
				content_type = EXCLUDED.content_type, size_bytes = EXCLUDED.size_bytes, created_at = NOW()
			RETURNING `+documentColumns,
			submissionID, kind, info.Key, info.SHA256, contentType, info.Size))
		if err != nil {
			return fmt.Errorf("failed to record document: %w", err)
		}
		return nil
	})
	if err != nil {
		s.deleteObject(ctx, key)
		return nil, err
	}
	if replaced != "" {
		s.deleteObject(ctx, replaced)
	}
	return doc, nil
}

func (s *PostgresService) deleteObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.WithError(err).WithField("object_key", key).Warn("Failed to delete kyc object")
	}
}

// OpenDocument returns a document and its content for review
func (s *PostgresService) OpenDocument(ctx context.Context, submissionID, documentID int64) (*Document, io.ReadCloser, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM kyc_documents WHERE id = $1 AND submission_id = $2`, documentID, submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get kyc document: %w", err)
	}
	rc, err := s.store.Get(ctx, doc.ObjectKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open kyc document: %w", err)
	}
	return doc, rc, nil
}

// Submit sends a draft for review. The account moves to pending KYC unless
// it is already approved.
func (s *PostgresService) Submit(ctx context.Context, accountID, submissionID int64) (*Submission, error) {
	var sub *Submission
	err := storage.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if sub, err = s.getSubmission(ctx, tx, accountID, submissionID, true); err != nil {
			return err
		}
		if sub.Status != StatusDraft {
			return ErrNotEditable
		}
		if sub.Documents, err = s.documents(ctx, tx, sub.ID); err != nil {
			return err
		}
		if missing := missingDocuments(sub.Documents); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrMissingDocuments, missing)
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE kyc_submissions SET status = $1, submitted_at = $2 WHERE id = $3`,
			StatusPending, now, sub.ID); err != nil {
			return fmt.Errorf("failed to submit kyc: %w", err)
		}
		sub.Status = StatusPending
		sub.SubmittedAt = &now

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET kyc_status = $1, updated_at = NOW() WHERE id = $2 AND kyc_status <> $3`,
			producers.KYCStatusPending, accountID, producers.KYCStatusApproved); err != nil {
			return fmt.Errorf("failed to update account kyc status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Review approves or rejects a pending submission and sets the account's KYC
// status in the same transaction
func (s *PostgresService) Review(ctx context.Context, reviewerID, submissionID int64, req *ReviewRequest) (*Submission, error) {
	var accountStatus producers.KYCStatus
	switch req.Decision {
	case StatusApproved:
		accountStatus = producers.KYCStatusApproved
	case StatusRejected:
		accountStatus = producers.KYCStatusRejected
	default:
		return nil, ErrInvalidDecision
	}

	var sub *Submission
	err := storage.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if sub, err = s.getSubmission(ctx, tx, 0, submissionID, true); err != nil {
			return err
		}
		if sub.Status != StatusPending {
			return ErrNotReviewable
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE kyc_submissions
			SET status = $1, reviewer_note = $2, reviewed_by = $3, reviewed_at = $4
			WHERE id = $5
		`, req.Decision, req.Note, reviewerID, now, sub.ID); err != nil {
			return fmt.Errorf("failed to review kyc: %w", err)
		}
		sub.Status = req.Decision
		sub.ReviewerNote = req.Note
		sub.ReviewedBy = &reviewerID
		sub.ReviewedAt = &now

		return s.accounts.SetKYCStatus(ctx, tx, sub.AccountID, accountStatus)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"submission_id": sub.ID,
		"account_id":    sub.AccountID,
		"decision":      sub.Status,
	}).Info("KYC submission reviewed")

	if s.publisher != nil {
		s.publisher.Publish(ctx, sub.AccountID, EventReviewed, map[string]interface{}{
			"submission_id": sub.ID,
			"status":        sub.Status,
			"note":          sub.ReviewerNote,
		})
	}
	return sub, nil
}

func missingDocuments(docs []*Document) []DocumentKind {
	have := make(map[DocumentKind]bool, len(docs))
	for _, d := range docs {
		have[d.Kind] = true
	}
	var missing []DocumentKind
	for _, kind := range RequiredDocuments {
		if !have[kind] {
			missing = append(missing, kind)
		}
	}
	return missing
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	sub := &Submission{}
	var reviewedBy sql.NullInt64
	var submittedAt, reviewedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.AccountID, &sub.Status, &sub.ReviewerNote, &reviewedBy,
		&submittedAt, &reviewedAt, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if reviewedBy.Valid {
		sub.ReviewedBy = &reviewedBy.Int64
	}
	if submittedAt.Valid {
		sub.SubmittedAt = &submittedAt.Time
	}
	if reviewedAt.Valid {
		sub.ReviewedAt = &reviewedAt.Time
	}
	return sub, nil
}

func scanDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	err := row.Scan(&d.ID, &d.SubmissionID, &d.Kind, &d.ObjectKey, &d.SHA256, &d.ContentType, &d.Size, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}
