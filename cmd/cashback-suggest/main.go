// Cashwise - Pay with the card that earns the most.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command cashback-suggest prints the best account for one purchase,
// reading the rule files directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/opensource-finance/cashwise/internal/advice"
	"github.com/opensource-finance/cashwise/internal/corpus"
	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/opensource-finance/cashwise/internal/rules"
	"github.com/shopspring/decimal"
)

const cliTenant = "cli"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cashback-suggest", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		rulesDir = fs.String("rules-dir", "cashback", "Directory with monthly rule files")
		pattern  = fs.String("pattern", "*.yaml", "Rule file glob inside -rules-dir")
		date     = fs.String("date", time.Now().Format(time.DateOnly), "Purchase date, YYYY-MM-DD")
		amount   = fs.String("amount", "", "Purchase amount (required)")
		currency = fs.String("currency", advice.DefaultCurrency, "Purchase currency")
		category = fs.String("category", "", "Purchase category")
		merchant = fs.String("merchant", "", "Merchant name")
		mcc      = fs.Int("mcc", 0, "Merchant category code, 0 when unknown")
		accounts = fs.String("accounts", "", "Comma-separated candidate account names (required)")
		all      = fs.Bool("all", false, "Print every matching pairing, best first")
		asJSON   = fs.Bool("json", false, "Print the recommendation as JSON")
		verbose  = fs.Bool("v", false, "Report skipped rule files")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *amount == "" {
		return errors.New("-amount is required")
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount %q: %w", *amount, err)
	}
	candidates := splitAccounts(*accounts)
	if len(candidates) == 0 {
		return errors.New("-accounts is required")
	}

	req := &advice.SuggestRequest{
		TenantID: cliTenant,
		Date:     *date,
		Amount:   value,
		Currency: *currency,
		Category: category,
		Merchant: merchant,
		Accounts: candidates,
	}
	if *mcc != 0 {
		req.MCC = mcc
	}

	provider := corpus.NewProvider(domain.RulesConfig{Dir: *rulesDir, Pattern: *pattern, LoaderWorkers: 4}, nil)
	snap, err := provider.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if *verbose {
		printSkipped(out, snap.Skipped)
	}

	rec, err := advice.NewService(loaded{snap}, nil, nil, 0).Suggest(ctx, req)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	printRecommendation(out, rec, strings.ToUpper(*currency), *all)
	return nil
}

// loaded serves the snapshot read at startup so the files are parsed once.
type loaded struct {
	snap *corpus.Snapshot
}

func (l loaded) Current(context.Context) (*corpus.Snapshot, error) {
	return l.snap, nil
}

func splitAccounts(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func printRecommendation(out io.Writer, rec *domain.Recommendation, currency string, all bool) {
	if !rec.Matched() {
		color.New(color.FgYellow).Fprintln(out, domain.NoMatchMessage)
		return
	}

	label := color.New(color.Bold).SprintFunc()
	best := rec.Best

	fmt.Fprintf(out, "%s %s\n", label("Account:"), color.GreenString(best.Account))
	fmt.Fprintf(out, "%s %s (%s)\n", label("Rule:"), best.RuleTitle, best.RuleID)
	fmt.Fprintf(out, "%s %s %s\n", label("Estimated cashback:"), color.GreenString(best.EstimatedAmount.StringFixed(rules.EstimatePlaces)), currency)
	fmt.Fprintf(out, "%s %s\n", label("Reason:"), best.Reason)

	if !all || len(rec.Alternatives) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, label("Alternatives:"))
	for i, alt := range rec.Alternatives {
		fmt.Fprintf(out, "  %d. %-20s %10s %s  %s (%s)\n", i+2, alt.Account,
			alt.EstimatedAmount.StringFixed(rules.EstimatePlaces), currency, alt.RuleTitle, alt.RuleID)
	}
}

func printSkipped(out io.Writer, skipped []rules.SkippedSource) {
	warn := color.New(color.FgYellow)
	for _, s := range skipped {
		warn.Fprintf(out, "skipped %s: %s\n", s.Name, s.Error)
	}
}
