package api

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/kyc"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/orders"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/producers"
)

// mockOrders is a mock implementation of OrderService for testing
type mockOrders struct {
	offerFunc         func(slug string) (*catalog.Offer, error)
	quoteFunc         func(slug string, req *orders.QuoteRequest, sessionID string) (*orders.Preview, error)
	checkoutFunc      func(req *orders.CheckoutRequest) (*orders.CheckoutResult, error)
	statusFunc        func(id string) (*orders.OrderStatus, error)
	getFunc           func(producerID int64, id string) (*orders.Order, error)
	listFunc          func(producerID int64, filter orders.ListFilter) ([]*orders.Order, error)
	applyFunc         func(ev processor.Event) (*orders.EventResult, error)
	requestRefundFunc func(producerID int64, orderID string, amount money.Cents) (*processor.Charge, error)
}

func (m *mockOrders) Offer(ctx context.Context, slug string) (*catalog.Offer, error) {
	if m.offerFunc != nil {
		return m.offerFunc(slug)
	}
	return nil, catalog.ErrOfferNotFound
}

func (m *mockOrders) Quote(ctx context.Context, slug string, req *orders.QuoteRequest, sessionID string) (*orders.Preview, error) {
	if m.quoteFunc != nil {
		return m.quoteFunc(slug, req, sessionID)
	}
	return nil, catalog.ErrOfferNotFound
}

func (m *mockOrders) Checkout(ctx context.Context, req *orders.CheckoutRequest) (*orders.CheckoutResult, error) {
	if m.checkoutFunc != nil {
		return m.checkoutFunc(req)
	}
	return nil, catalog.ErrOfferNotFound
}

func (m *mockOrders) Status(ctx context.Context, id string) (*orders.OrderStatus, error) {
	if m.statusFunc != nil {
		return m.statusFunc(id)
	}
	return nil, orders.ErrNotFound
}

func (m *mockOrders) Get(ctx context.Context, producerID int64, id string) (*orders.Order, error) {
	if m.getFunc != nil {
		return m.getFunc(producerID, id)
	}
	return nil, orders.ErrNotFound
}

func (m *mockOrders) List(ctx context.Context, producerID int64, filter orders.ListFilter) ([]*orders.Order, error) {
	if m.listFunc != nil {
		return m.listFunc(producerID, filter)
	}
	return nil, nil
}

func (m *mockOrders) ApplyPaymentEvent(ctx context.Context, ev processor.Event) (*orders.EventResult, error) {
	if m.applyFunc != nil {
		return m.applyFunc(ev)
	}
	return &orders.EventResult{Outcome: orders.OutcomeUnmatched}, nil
}

func (m *mockOrders) RequestRefund(ctx context.Context, producerID int64, orderID string, amount money.Cents) (*processor.Charge, error) {
	if m.requestRefundFunc != nil {
		return m.requestRefundFunc(producerID, orderID, amount)
	}
	return nil, orders.ErrNotRefundable
}

// mockCatalog implements the catalog reads used by the handlers under test
type mockCatalog struct {
	catalog.Service
	products map[int64]*catalog.Product
	offers   map[string]*catalog.Offer
}

func (m *mockCatalog) GetProduct(ctx context.Context, producerID, productID int64) (*catalog.Product, error) {
	p, ok := m.products[productID]
	if !ok || p.ProducerID != producerID {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *mockCatalog) GetProductByID(ctx context.Context, productID int64) (*catalog.Product, error) {
	p, ok := m.products[productID]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *mockCatalog) ListProducts(ctx context.Context, producerID int64) ([]*catalog.Product, error) {
	var out []*catalog.Product
	for _, p := range m.products {
		if p.ProducerID == producerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) CreateProduct(ctx context.Context, producerID int64, req *catalog.CreateProductRequest) (*catalog.Product, error) {
	p := &catalog.Product{ID: int64(len(m.products) + 1), ProducerID: producerID, Name: req.Name, Active: true}
	m.products[p.ID] = p
	return p, nil
}

func (m *mockCatalog) CreateOffer(ctx context.Context, producerID int64, req *catalog.CreateOfferRequest) (*catalog.Offer, error) {
	if !req.PriceCents.Valid() {
		return nil, fmt.Errorf("%w: %d", catalog.ErrInvalidPrice, req.PriceCents)
	}
	o := &catalog.Offer{ID: int64(len(m.offers) + 100), ProductID: req.ProductID, ProducerID: producerID,
		Slug: req.Slug, Title: req.Title, PriceCents: req.PriceCents, Currency: req.Currency, Active: true}
	m.offers[o.Slug] = o
	return o, nil
}

func (m *mockCatalog) GetOfferBySlug(ctx context.Context, slug string) (*catalog.Offer, error) {
	o, ok := m.offers[slug]
	if !ok {
		return nil, catalog.ErrOfferNotFound
	}
	return o, nil
}

func (m *mockCatalog) ListOffers(ctx context.Context, producerID int64) ([]*catalog.Offer, error) {
	var out []*catalog.Offer
	for _, o := range m.offers {
		if o.ProducerID == producerID {
			out = append(out, o)
		}
	}
	return out, nil
}

// mockAffiliates serves affiliations by code
type mockAffiliates struct {
	affiliates.Service
	byCode map[string]*affiliates.Affiliation
}

func (m *mockAffiliates) GetByCode(ctx context.Context, code string) (*affiliates.Affiliation, error) {
	a, ok := m.byCode[code]
	if !ok {
		return nil, affiliates.ErrNotFound
	}
	return a, nil
}

// mockClicks records tracked clicks
type mockClicks struct {
	err    error
	clicks []*affiliates.Click
}

func (m *mockClicks) Track(ctx context.Context, aff *affiliates.Affiliation, product *catalog.Product, sessionID string, at time.Time) (*affiliates.Click, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !aff.Eligible(product) {
		return nil, affiliates.ErrAffiliationNotActive
	}
	click := &affiliates.Click{ID: "click-1", AffiliationID: aff.ID, ProductID: product.ID, SessionID: sessionID, OccurredAt: at}
	m.clicks = append(m.clicks, click)
	return click, nil
}

// mockAccounts serves fixed accounts
type mockAccounts struct {
	producers.Service
	accounts map[int64]*producers.Account
}

func (m *mockAccounts) GetAccount(ctx context.Context, id int64) (*producers.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, producers.ErrNotFound
	}
	return a, nil
}

// mockTokens maps plaintext tokens to auth contexts
type mockTokens struct {
	auth.TokenStore
	tokens  map[string]*auth.AuthContext
	created []*auth.CreateTokenRequest
}

func (m *mockTokens) Validate(ctx context.Context, token string) (*auth.AuthContext, error) {
	ac, ok := m.tokens[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return ac, nil
}

func (m *mockTokens) Create(ctx context.Context, accountID int64, req *auth.CreateTokenRequest) (*auth.CreateTokenResponse, error) {
	m.created = append(m.created, req)
	return &auth.CreateTokenResponse{
		Token:    "sh_new",
		APIToken: &auth.APIToken{ID: 9, AccountID: accountID, Name: req.Name, Scopes: req.Scopes},
	}, nil
}

// mockLedger serves fixed entries and balances
type mockLedger struct {
	entries  map[string][]*ledger.Entry
	balances map[int64][]*ledger.Balance
}

func (m *mockLedger) Entries(ctx context.Context, orderID string) ([]*ledger.Entry, error) {
	return m.entries[orderID], nil
}

func (m *mockLedger) Balances(ctx context.Context, accountID int64) ([]*ledger.Balance, error) {
	return m.balances[accountID], nil
}

// mockKYC serves submissions and in-memory documents
type mockKYC struct {
	kyc.Service
	submissions map[int64]*kyc.Submission
	documents   map[int64]string
	reviewed    []*kyc.ReviewRequest
	reviewerID  int64
}

func (m *mockKYC) GetSubmission(ctx context.Context, accountID, submissionID int64) (*kyc.Submission, error) {
	sub, ok := m.submissions[submissionID]
	if !ok || sub.AccountID != accountID {
		return nil, kyc.ErrSubmissionNotFound
	}
	return sub, nil
}

func (m *mockKYC) OpenDocument(ctx context.Context, submissionID, documentID int64) (*kyc.Document, io.ReadCloser, error) {
	content, ok := m.documents[documentID]
	if !ok {
		return nil, nil, kyc.ErrDocumentNotFound
	}
	doc := &kyc.Document{ID: documentID, SubmissionID: submissionID, ContentType: "application/pdf", Size: int64(len(content))}
	return doc, io.NopCloser(strings.NewReader(content)), nil
}

func (m *mockKYC) Review(ctx context.Context, reviewerID, submissionID int64, req *kyc.ReviewRequest) (*kyc.Submission, error) {
	sub, ok := m.submissions[submissionID]
	if !ok {
		return nil, kyc.ErrSubmissionNotFound
	}
	if sub.Status != kyc.StatusPending {
		return nil, kyc.ErrNotReviewable
	}
	m.reviewed = append(m.reviewed, req)
	m.reviewerID = reviewerID
	reviewed := *sub
	reviewed.Status = req.Decision
	return &reviewed, nil
}

// mockCoupons only exists to satisfy Deps
type mockCoupons struct {
	coupons.Service
}
