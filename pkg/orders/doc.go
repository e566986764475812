// Package orders places checkouts and settles them against the payment
// processor.
//
// # Lifecycle
//
// An order is created pending with its coupon reserved, then moves on
// processor events:
//
//	pending            -> paid | failed | expired
//	failed, expired    -> paid   (late payment)
//	paid               -> partially_refunded | refunded
//	partially_refunded -> partially_refunded | refunded
//
// Each event is applied in one transaction with the order row locked. Event
// ids are claimed first, so redeliveries are no-ops. Events that do not fit
// the current status are recorded as stale.
//
// # Settlement
//
// On payment the affiliate is resolved as of the order's creation, the total
// is split between platform, affiliate, co-producers and producer, the split
// is written to the ledger and the coupon use is committed. Refund events
// carry the cumulative refunded amount; only the increment is reversed.
//
// # Reconciliation
//
// ExpireStale and ReconcilePending run from the reconciler. Polled charge
// states are applied as synthetic events, so a state seen by both the poll
// and the processor's own event is applied once per distinct event id and
// the status guard drops the second.
package orders
