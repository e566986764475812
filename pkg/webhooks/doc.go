// Package webhooks notifies producers about their orders and KYC reviews.
//
// Producers register endpoints for any of order.paid, order.failed,
// order.refunded and kyc.reviewed. The order and KYC services publish through
// the Dispatcher after their transactions commit:
//
//	dispatcher.Publish(ctx, order.ProducerID, string(webhooks.EventOrderPaid), order)
//
// Each delivery is a JSON POST signed with the endpoint secret:
//
//	X-Sellhub-Signature: sha256=<hex hmac-sha256(body)>
//
// Receivers check it with VerifySignature. Deliveries are rate limited per
// endpoint and recorded in a bounded in-memory log exposed through the
// producer API. A failed delivery is logged and not retried.
package webhooks
