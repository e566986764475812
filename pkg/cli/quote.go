package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/pricing"
	"github.com/platinummonkey/sellhub/pkg/split"
)

// Account ids used for the parties of an offline quote
const (
	quoteProducerID  = 1
	quoteAffiliateID = 2
)

type quoteOptions struct {
	title         string
	price         string
	currency      string
	bumps         []string
	couponCode    string
	couponPercent string
	couponAmount  string
	couponMinimum string
	couponBumps   bool
	plan          string
	feeSchedule   string
	affiliateBps  int64
	coProducers   []string
	jsonOutput    bool
}

// QuoteResult is the machine-readable output of quote
type QuoteResult struct {
	Quote *pricing.Quote `json:"quote"`
	Plan  string         `json:"fee_plan"`
	Split []split.Share  `json:"split"`
}

func newQuoteCommand() *cobra.Command {
	opts := &quoteOptions{}

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a checkout and show the payment split",
		Long: "Price a checkout offline with the same rules the server uses, then split the total " +
			"between the platform, the producer, an optional affiliate and co-producers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runQuote(opts)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return printQuote(cmd.OutOrStdout(), result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.title, "title", "Main product", "Main item title")
	f.StringVar(&opts.price, "price", "", "Main item price, e.g. 97.90")
	f.StringVar(&opts.currency, "currency", "USD", "Currency code")
	f.StringArrayVar(&opts.bumps, "bump", nil, "Selected order bump as TITLE=PRICE (repeatable)")
	f.StringVar(&opts.couponCode, "coupon-code", "CLI", "Coupon code shown on the quote")
	f.StringVar(&opts.couponPercent, "coupon-percent", "", "Percentage discount, e.g. 12.5")
	f.StringVar(&opts.couponAmount, "coupon-amount", "", "Fixed discount, e.g. 10.00")
	f.StringVar(&opts.couponMinimum, "coupon-min", "", "Minimum subtotal for the coupon")
	f.BoolVar(&opts.couponBumps, "coupon-bumps", false, "Apply the coupon to bumps as well")
	f.StringVar(&opts.plan, "plan", "", "Fee plan (default plan of the schedule when empty)")
	f.StringVar(&opts.feeSchedule, "fee-schedule", "", "YAML fee schedule (built-in schedule when empty)")
	f.Int64Var(&opts.affiliateBps, "affiliate-bps", 0, "Affiliate commission in basis points")
	f.StringSliceVar(&opts.coProducers, "coproducer", nil, "Co-producer as ACCOUNT:BPS (repeatable)")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func runQuote(opts *quoteOptions) (*QuoteResult, error) {
	price, err := money.ParseAmount(opts.price)
	if err != nil {
		return nil, fmt.Errorf("--price: %w", err)
	}

	in := pricing.Input{
		Currency: opts.currency,
		Main:     pricing.Item{ProductID: 1, Title: opts.title, PriceCents: price},
	}
	for i, raw := range opts.bumps {
		title, amount, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("--bump %q: expected TITLE=PRICE", raw)
		}
		cents, err := money.ParseAmount(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("--bump %q: %w", raw, err)
		}
		id := int64(i + 1)
		in.Bumps = append(in.Bumps, pricing.BumpOption{ID: id, ProductID: id + 1, Title: strings.TrimSpace(title), PriceCents: cents, Active: true})
		in.SelectedBumpIDs = append(in.SelectedBumpIDs, id)
	}

	in.Coupon, err = couponTerms(opts)
	if err != nil {
		return nil, err
	}

	quote, err := pricing.Compute(in)
	if err != nil {
		return nil, err
	}

	schedule := config.DefaultFeeSchedule()
	if opts.feeSchedule != "" {
		if schedule, err = config.LoadFeeSchedule(opts.feeSchedule); err != nil {
			return nil, err
		}
	}
	plan := opts.plan
	if plan == "" {
		plan = schedule.DefaultPlan
	}
	fee, err := schedule.Rule(plan)
	if err != nil {
		return nil, err
	}

	policy := split.Policy{ProducerID: quoteProducerID, Fee: fee}
	if opts.affiliateBps > 0 {
		policy.Affiliate = &split.Affiliate{AccountID: quoteAffiliateID, CommissionBps: money.BasisPoints(opts.affiliateBps)}
	}
	for _, raw := range opts.coProducers {
		cp, err := parseCoProducer(raw)
		if err != nil {
			return nil, err
		}
		policy.CoProducers = append(policy.CoProducers, cp)
	}

	shares, err := split.Compute(quote.Total, policy)
	if err != nil {
		return nil, err
	}

	return &QuoteResult{Quote: quote, Plan: plan, Split: shares}, nil
}

func couponTerms(opts *quoteOptions) (*pricing.CouponTerms, error) {
	if opts.couponPercent == "" && opts.couponAmount == "" {
		return nil, nil
	}
	terms := &pricing.CouponTerms{Code: opts.couponCode, ApplyToBumps: opts.couponBumps}

	if opts.couponPercent != "" {
		bps, err := parsePercent(opts.couponPercent)
		if err != nil {
			return nil, fmt.Errorf("--coupon-percent: %w", err)
		}
		terms.PercentBps = bps
	}
	if opts.couponAmount != "" {
		cents, err := money.ParseAmount(opts.couponAmount)
		if err != nil {
			return nil, fmt.Errorf("--coupon-amount: %w", err)
		}
		terms.AmountCents = cents
	}
	if opts.couponMinimum != "" {
		cents, err := money.ParseAmount(opts.couponMinimum)
		if err != nil {
			return nil, fmt.Errorf("--coupon-min: %w", err)
		}
		terms.MinSubtotalCents = cents
	}

	if err := terms.Validate(); err != nil {
		return nil, err
	}
	return terms, nil
}

// parsePercent converts "12.5" to 1250 basis points
func parsePercent(s string) (money.BasisPoints, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q", s)
	}
	bps := d.Shift(2)
	if !bps.IsInteger() || bps.IsNegative() || bps.GreaterThan(decimal.NewFromInt(int64(money.FullRate))) {
		return 0, fmt.Errorf("percentage %q must be between 0 and 100 with at most two decimals", s)
	}
	return money.BasisPoints(bps.IntPart()), nil
}

func parseCoProducer(raw string) (split.CoProducer, error) {
	account, bps, ok := strings.Cut(raw, ":")
	if !ok {
		return split.CoProducer{}, fmt.Errorf("--coproducer %q: expected ACCOUNT:BPS", raw)
	}
	id, err := strconv.ParseInt(account, 10, 64)
	if err != nil {
		return split.CoProducer{}, fmt.Errorf("--coproducer %q: invalid account", raw)
	}
	share, err := strconv.ParseInt(bps, 10, 64)
	if err != nil {
		return split.CoProducer{}, fmt.Errorf("--coproducer %q: invalid share", raw)
	}
	return split.CoProducer{AccountID: id, ShareBps: money.BasisPoints(share)}, nil
}

func printQuote(w io.Writer, r *QuoteResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	q := r.Quote

	fmt.Fprintln(tw, "LINE\tTITLE\tAMOUNT\tDISCOUNT\tNET")
	for _, l := range q.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.Kind, l.Title, money.Format(l.Amount), money.Format(l.Discount), money.Format(l.Net))
	}
	fmt.Fprintf(tw, "\tSubtotal\t%s\t\t\n", money.Format(q.Subtotal))
	fmt.Fprintf(tw, "\tDiscount\t%s\t\t\n", money.Format(q.Discount))
	fmt.Fprintf(tw, "\tTotal (%s)\t%s\t\t\n", q.Currency, money.Format(q.Total))
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "PARTY\tACCOUNT\tAMOUNT\t(fee plan %s)\t\n", r.Plan)
	for _, s := range r.Split {
		fmt.Fprintf(tw, "%s\t%d\t%s\t\t\n", s.Party, s.AccountID, money.Format(s.Amount))
	}
	return tw.Flush()
}
