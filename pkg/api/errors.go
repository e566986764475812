package api

import (
	"net/http"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/kyc"
	"github.com/platinummonkey/sellhub/pkg/orders"
	"github.com/platinummonkey/sellhub/pkg/pricing"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/producers"
	"github.com/platinummonkey/sellhub/pkg/split"
)

// newErrorMapper maps domain sentinel errors to HTTP statuses
func newErrorMapper() *httputil.ErrorMapper {
	return httputil.NewErrorMapper().
		Map(http.StatusBadRequest,
			processor.ErrInvalidEvent,
		).
		Map(http.StatusUnauthorized,
			processor.ErrInvalidSignature,
			processor.ErrStaleSignature,
		).
		Map(http.StatusNotFound,
			catalog.ErrProductNotFound,
			catalog.ErrOfferNotFound,
			catalog.ErrBumpNotFound,
			coupons.ErrNotFound,
			affiliates.ErrNotFound,
			producers.ErrNotFound,
			kyc.ErrSubmissionNotFound,
			kyc.ErrDocumentNotFound,
			orders.ErrNotFound,
			processor.ErrChargeNotFound,
			auth.ErrTokenNotFound,
		).
		Map(http.StatusConflict,
			catalog.ErrSlugTaken,
			catalog.ErrDuplicateBump,
			coupons.ErrCodeTaken,
			coupons.ErrCouponExhausted,
			affiliates.ErrAlreadyAffiliated,
			producers.ErrSlugTaken,
			kyc.ErrNotEditable,
			kyc.ErrNotReviewable,
		).
		Map(http.StatusRequestEntityTooLarge,
			kyc.ErrDocumentTooLarge,
		).
		Map(http.StatusUnprocessableEntity,
			catalog.ErrInvalidSlug,
			catalog.ErrInvalidCurrency,
			catalog.ErrBumpSameProduct,
			catalog.ErrBumpForeignProduct,
			catalog.ErrInvalidCommission,
			catalog.ErrInvalidWindow,
			catalog.ErrInvalidPrice,
			coupons.ErrInvalidCoupon,
			coupons.ErrCouponInactive,
			coupons.ErrCouponNotStarted,
			coupons.ErrCouponExpired,
			coupons.ErrCouponNotApplicable,
			affiliates.ErrSelfAffiliation,
			affiliates.ErrAffiliationDisabled,
			affiliates.ErrAffiliationNotActive,
			affiliates.ErrInvalidStatus,
			affiliates.ErrInvalidCommission,
			producers.ErrSellerNotVerified,
			producers.ErrSellerSuspended,
			producers.ErrInvalidStatus,
			kyc.ErrMissingDocuments,
			kyc.ErrInvalidKind,
			kyc.ErrUnsupportedType,
			kyc.ErrEmptyDocument,
			kyc.ErrInvalidDecision,
			orders.ErrOfferUnavailable,
			orders.ErrAmountMismatch,
			orders.ErrNotRefundable,
			orders.ErrRefundExceeds,
			orders.ErrInvalidAmount,
			orders.ErrInvalidStatus,
			pricing.ErrNegativePrice,
			pricing.ErrDuplicateBump,
			pricing.ErrUnknownBump,
			pricing.ErrInactiveBump,
			pricing.ErrInvalidCoupon,
			pricing.ErrCouponMinimumNotMet,
			pricing.ErrCurrencyRequired,
			pricing.ErrSubtotalOutOfBounds,
			split.ErrInvalidCommission,
			split.ErrInvalidShare,
			split.ErrSharesExceedTotal,
			split.ErrSelfShare,
			split.ErrDuplicateParty,
			processor.ErrDeclined,
			processor.ErrRefundExceeds,
			processor.ErrNotRefundable,
			auth.ErrInvalidScope,
		).
		Map(http.StatusServiceUnavailable,
			processor.ErrUnavailable,
		)
}
