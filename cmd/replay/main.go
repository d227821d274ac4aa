// Replay tool for measuring cashwise against a purchase history.
//
// Usage:
//
//	go run ./cmd/replay -csv purchases.csv -accounts "Alfa,Tinkoff Black" -url http://localhost:8080
//
// The CSV has a header row with the columns date,amount,currency,category,merchant,mcc
// (currency, category, merchant and mcc may be empty). Every row is sent to
// POST /suggest and the tool reports latency percentiles, how many purchases
// matched a rule and the cashback each account would have earned.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

// Purchase is one row of the history.
type Purchase struct {
	Line     int
	Date     string
	Amount   decimal.Decimal
	Currency string
	Category string
	Merchant string
	MCC      int
}

// SuggestRequest is the cashwise API request format.
type SuggestRequest struct {
	Date     string          `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Category *string         `json:"category,omitempty"`
	Merchant *string         `json:"merchant,omitempty"`
	MCC      *int            `json:"mcc,omitempty"`
	Accounts []string        `json:"accounts,omitempty"`
}

// SuggestResponse is the part of the cashwise API response the replay needs.
type SuggestResponse struct {
	Best *struct {
		Account         string          `json:"account"`
		RuleID          string          `json:"ruleId"`
		EstimatedAmount decimal.Decimal `json:"estimatedAmount"`
	} `json:"best"`
	Metadata struct {
		Cached bool `json:"cached"`
	} `json:"metadata"`
}

// Metrics tracks replay results.
type Metrics struct {
	mu sync.Mutex

	Processed int
	Matched   int
	Cached    int
	Errors    int

	Latencies []time.Duration
	ByAccount map[string]*AccountTotal
	ByRule    map[string]int
}

// AccountTotal sums the cashback recommended for one account.
type AccountTotal struct {
	Purchases int
	Cashback  decimal.Decimal
}

func newMetrics() *Metrics {
	return &Metrics{
		ByAccount: make(map[string]*AccountTotal),
		ByRule:    make(map[string]int),
	}
}

func (m *Metrics) record(elapsed time.Duration, resp *SuggestResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Processed++
	m.Latencies = append(m.Latencies, elapsed)

	if err != nil {
		m.Errors++
		return
	}
	if resp.Metadata.Cached {
		m.Cached++
	}
	if resp.Best == nil {
		return
	}

	m.Matched++
	m.ByRule[resp.Best.RuleID]++
	total, ok := m.ByAccount[resp.Best.Account]
	if !ok {
		total = &AccountTotal{}
		m.ByAccount[resp.Best.Account] = total
	}
	total.Purchases++
	total.Cashback = total.Cashback.Add(resp.Best.EstimatedAmount)
}

// Percentile returns the p-th percentile (0-100) latency by nearest rank.
func (m *Metrics) Percentile(p float64) time.Duration {
	if len(m.Latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(m.Latencies)
	slices.Sort(sorted)

	rank := int(p/100*float64(len(sorted))+0.5) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

func main() {
	csvPath := flag.String("csv", "", "Path to the purchase history CSV")
	baseURL := flag.String("url", "http://localhost:8080", "cashwise base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	accounts := flag.String("accounts", "", "Comma-separated candidate accounts (empty uses the tenant's registered cards)")
	limit := flag.Int("limit", 0, "Maximum purchases to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each purchase result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv purchases.csv [-url http://localhost:8080] [-accounts A,B]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		color.Red("cashwise not reachable at %s: %v", *baseURL, err)
		os.Exit(1)
	}

	purchases, skipped, err := readPurchases(*csvPath, *limit)
	if err != nil {
		color.Red("failed to read CSV: %v", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d purchases (%d malformed rows skipped)\n", len(purchases), skipped)

	start := time.Now()
	m := runReplay(purchases, *baseURL, *tenantID, splitList(*accounts), *workers, *verbose)
	printResults(os.Stdout, m, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readPurchases parses the history. Rows with an unreadable amount or mcc are counted and skipped.
func readPurchases(path string, limit int) ([]Purchase, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return parsePurchases(file, limit)
}

func parsePurchases(r io.Reader, limit int) ([]Purchase, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"date", "amount"} {
		if _, ok := colIndex[required]; !ok {
			return nil, 0, fmt.Errorf("missing %q column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var (
		purchases []Purchase
		skipped   int
		line      = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			skipped++
			continue
		}

		amount, err := decimal.NewFromString(field(record, "amount"))
		if err != nil {
			skipped++
			continue
		}
		var mcc int
		if s := field(record, "mcc"); s != "" {
			if mcc, err = strconv.Atoi(s); err != nil {
				skipped++
				continue
			}
		}

		purchases = append(purchases, Purchase{
			Line:     line,
			Date:     field(record, "date"),
			Amount:   amount,
			Currency: field(record, "currency"),
			Category: field(record, "category"),
			Merchant: field(record, "merchant"),
			MCC:      mcc,
		})

		if limit > 0 && len(purchases) >= limit {
			break
		}
	}

	return purchases, skipped, nil
}

func runReplay(purchases []Purchase, baseURL, tenantID string, accounts []string, numWorkers int, verbose bool) *Metrics {
	m := newMetrics()
	if numWorkers < 1 {
		numWorkers = 1
	}

	work := make(chan Purchase, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for p := range work {
				start := time.Now()
				resp, err := suggest(client, baseURL, tenantID, accounts, p)
				m.record(time.Since(start), resp, err)

				if verbose {
					printPurchase(p, resp, err)
				}
			}
		}()
	}

	for _, p := range purchases {
		work <- p
	}
	close(work)
	wg.Wait()

	return m
}

func suggest(client *http.Client, baseURL, tenantID string, accounts []string, p Purchase) (*SuggestResponse, error) {
	req := SuggestRequest{
		Date:     p.Date,
		Amount:   p.Amount,
		Currency: p.Currency,
		Accounts: accounts,
	}
	if p.Category != "" {
		req.Category = &p.Category
	}
	if p.Merchant != "" {
		req.Merchant = &p.Merchant
	}
	if p.MCC != 0 {
		req.MCC = &p.MCC
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/suggest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result SuggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printPurchase(p Purchase, resp *SuggestResponse, err error) {
	switch {
	case err != nil:
		color.Red("line %d: %v", p.Line, err)
	case resp.Best == nil:
		fmt.Printf("line %-5d %s %12s %-20s -> no match\n", p.Line, p.Date, p.Amount.StringFixed(2), p.Category)
	default:
		fmt.Printf("line %-5d %s %12s %-20s -> %s (+%s)\n", p.Line, p.Date, p.Amount.StringFixed(2), p.Category,
			color.GreenString(resp.Best.Account), resp.Best.EstimatedAmount.StringFixed(2))
	}
}

func printResults(out io.Writer, m *Metrics, duration time.Duration) {
	bold := color.New(color.Bold)

	bold.Fprintln(out, "\nREPLAY RESULTS")
	fmt.Fprintf(out, "   Processed:  %d\n", m.Processed)
	fmt.Fprintf(out, "   Matched:    %d\n", m.Matched)
	fmt.Fprintf(out, "   Memo hits:  %d\n", m.Cached)
	fmt.Fprintf(out, "   Errors:     %d\n", m.Errors)
	if ok := m.Processed - m.Errors; ok > 0 {
		fmt.Fprintf(out, "   Hit rate:   %.2f%%\n", 100*float64(m.Matched)/float64(ok))
	}

	bold.Fprintln(out, "\nCASHBACK BY ACCOUNT")
	names := make([]string, 0, len(m.ByAccount))
	for name := range m.ByAccount {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := m.ByAccount[names[i]], m.ByAccount[names[j]]
		if !a.Cashback.Equal(b.Cashback) {
			return a.Cashback.GreaterThan(b.Cashback)
		}
		return names[i] < names[j]
	})
	grand := decimal.Zero
	for _, name := range names {
		t := m.ByAccount[name]
		grand = grand.Add(t.Cashback)
		fmt.Fprintf(out, "   %-24s %6d purchases %12s\n", name, t.Purchases, t.Cashback.StringFixed(2))
	}
	fmt.Fprintf(out, "   %-24s %16s %12s\n", "Total", "", grand.StringFixed(2))

	bold.Fprintln(out, "\nPERFORMANCE")
	fmt.Fprintf(out, "   Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(out, "   p50:        %v\n", m.Percentile(50))
	fmt.Fprintf(out, "   p95:        %v\n", m.Percentile(95))
	fmt.Fprintf(out, "   p99:        %v\n", m.Percentile(99))
	if m.Processed > 0 && duration > 0 {
		fmt.Fprintf(out, "   Throughput: %.2f req/sec\n", float64(m.Processed)/duration.Seconds())
	}
	fmt.Fprintln(out)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
