// Package cli provides the sellhub-cli administration commands.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	sellhub-cli migrate
//
// quote: Price a checkout and show the payment split offline
//
//	sellhub-cli quote \
//		--price 97.90 \
//		--bump "Workbook=19.90" \
//		--coupon-percent 10 \
//		--affiliate-bps 4000 \
//		--coproducer 7:3000
//
// token create: Issue an API token for an account
//
//	sellhub-cli token create --account 42 --name ci --scope write --expires 720h
//
// reconcile: Run one expiry and processor reconciliation pass
//
//	sellhub-cli reconcile
//
// # Configuration
//
// Commands that touch the database read the same SELLHUB_* environment
// variables as the server. quote only reads the optional fee schedule.
package cli
