package producers

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/sellhub/pkg/storage"
)

// AccountStatus is the operational status of an account
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// KYCStatus is the verification state of an account
type KYCStatus string

const (
	KYCStatusNone     KYCStatus = "none"
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusApproved KYCStatus = "approved"
	KYCStatusRejected KYCStatus = "rejected"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrSlugTaken         = errors.New("account slug already taken")
	ErrSellerNotVerified = errors.New("seller has not passed KYC verification")
	ErrSellerSuspended   = errors.New("seller account is suspended")
	ErrInvalidStatus     = errors.New("invalid account status")
)

// Account is a tenant. The same account can act as producer, co-producer
// and affiliate on different products.
type Account struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug"`
	Email     string        `json:"email"`
	FeePlan   string        `json:"fee_plan"`
	Status    AccountStatus `json:"status"`
	KYCStatus KYCStatus     `json:"kyc_status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CanSell reports whether the account may receive checkouts
func (a *Account) CanSell() error {
	if a.Status != AccountStatusActive {
		return ErrSellerSuspended
	}
	if a.KYCStatus != KYCStatusApproved {
		return ErrSellerNotVerified
	}
	return nil
}

// CreateAccountRequest represents request to create an account
type CreateAccountRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Slug    string `json:"slug,omitempty" validate:"omitempty,max=100"`
	Email   string `json:"email" validate:"required,email"`
	FeePlan string `json:"fee_plan,omitempty"`
}

// UpdateAccountRequest represents request to update an account
type UpdateAccountRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

// Service defines account management
type Service interface {
	CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountBySlug(ctx context.Context, slug string) (*Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]*Account, error)
	UpdateAccount(ctx context.Context, id int64, req *UpdateAccountRequest) (*Account, error)
	SetStatus(ctx context.Context, id int64, status AccountStatus) error
	SetFeePlan(ctx context.Context, id int64, plan string) error

	// SetKYCStatus runs on q so the KYC review can update the account in
	// the same transaction as the submission
	SetKYCStatus(ctx context.Context, q storage.Querier, id int64, status KYCStatus) error
}
