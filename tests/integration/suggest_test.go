//go:build integration

// Package integration provides end-to-end tests against a running cashwise server.
//
// Start the server on the sample corpus, then run the tests:
//
//	CASHWISE_RULES_DIR=./cashback go run ./cmd/cashwise
//	go test -tags=integration -v ./tests/integration/...
//
// The sample corpus (cashback/2024-05.yaml) contains:
//
//	| Rule ID                      | Account       | Reward           | Condition                 |
//	|------------------------------|---------------|------------------|---------------------------|
//	| tinkoff-taxi-2024-05         | Tinkoff Black | 5%, cap 300      | category Такси            |
//	| alfa-supermarkets-2024-05    | Alfa          | 3%               | mcc 5411 or 5499          |
//	| alfa-base-2024-05            | Alfa          | 1%               | none                      |
//	| tinkoff-weekend-fuel-2024-05 | Tinkoff Black | fixed 100        | lukoil/gazprom on weekend |
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("CASHWISE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "integration-" + time.Now().Format("150405.000"),
	}
}

// SuggestRequest is the purchase sent to POST /suggest
type SuggestRequest struct {
	Date     string   `json:"date"`
	Amount   string   `json:"amount"`
	Category string   `json:"category,omitempty"`
	Merchant string   `json:"merchant,omitempty"`
	MCC      int      `json:"mcc,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
}

// Estimate is one account/rule pairing
type Estimate struct {
	Account         string          `json:"account"`
	RuleID          string          `json:"ruleId"`
	EstimatedAmount decimal.Decimal `json:"estimatedAmount"`
	Reason          string          `json:"reason"`
}

// SuggestResponse is what POST /suggest returns
type SuggestResponse struct {
	Best         *Estimate  `json:"best"`
	Alternatives []Estimate `json:"alternatives"`
	Message      string     `json:"message"`
	Metadata     struct {
		TraceID       string `json:"traceId"`
		CorpusVersion string `json:"corpusVersion"`
	} `json:"metadata"`
}

func call(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func suggest(t *testing.T, config TestConfig, req SuggestRequest) SuggestResponse {
	t.Helper()

	status, body := call(t, config, http.MethodPost, "/suggest", req)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result SuggestResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func TestTaxiPrefersTinkoff(t *testing.T) {
	config := getTestConfig()

	result := suggest(t, config, SuggestRequest{
		Date:     "2024-05-10",
		Amount:   "2000",
		Category: "Такси",
		Accounts: []string{"Alfa", "Tinkoff Black"},
	})

	if result.Best == nil || result.Best.Account != "Tinkoff Black" {
		t.Fatalf("Expected Tinkoff Black, got %+v", result.Best)
	}
	if got := result.Best.EstimatedAmount.StringFixed(2); got != "100.00" {
		t.Errorf("Expected 100.00 (5%% of 2000), got %s", got)
	}
	if len(result.Alternatives) != 1 || result.Alternatives[0].RuleID != "alfa-base-2024-05" {
		t.Errorf("Expected the Alfa base rule as the alternative, got %+v", result.Alternatives)
	}
	if result.Metadata.CorpusVersion == "" {
		t.Error("Expected corpus version in metadata")
	}
}

func TestTaxiCapApplies(t *testing.T) {
	config := getTestConfig()

	result := suggest(t, config, SuggestRequest{
		Date:     "2024-05-10",
		Amount:   "20000",
		Category: "Такси",
		Accounts: []string{"Tinkoff Black"},
	})

	if result.Best == nil || result.Best.EstimatedAmount.StringFixed(2) != "300.00" {
		t.Errorf("Expected the 300 cap to apply, got %+v", result.Best)
	}
}

func TestSupermarketByMCC(t *testing.T) {
	config := getTestConfig()

	result := suggest(t, config, SuggestRequest{
		Date:     "2024-05-15",
		Amount:   "1000",
		MCC:      5411,
		Accounts: []string{"Tinkoff Black", "Alfa"},
	})

	if result.Best == nil || result.Best.RuleID != "alfa-supermarkets-2024-05" {
		t.Fatalf("Expected the Alfa supermarket rule, got %+v", result.Best)
	}
	if got := result.Best.EstimatedAmount.StringFixed(2); got != "30.00" {
		t.Errorf("Expected 30.00, got %s", got)
	}
}

func TestWeekendFuelExpression(t *testing.T) {
	config := getTestConfig()

	// 2024-05-11 is a Saturday, 2024-05-13 a Monday.
	weekend := suggest(t, config, SuggestRequest{
		Date:     "2024-05-11",
		Amount:   "3000",
		Merchant: "LUKOIL #42",
		Accounts: []string{"Tinkoff Black", "Alfa"},
	})
	if weekend.Best == nil || weekend.Best.RuleID != "tinkoff-weekend-fuel-2024-05" {
		t.Errorf("Expected the weekend fuel rule, got %+v", weekend.Best)
	}

	weekday := suggest(t, config, SuggestRequest{
		Date:     "2024-05-13",
		Amount:   "3000",
		Merchant: "LUKOIL #42",
		Accounts: []string{"Tinkoff Black", "Alfa"},
	})
	if weekday.Best == nil || weekday.Best.Account != "Alfa" {
		t.Errorf("Expected Alfa on a weekday, got %+v", weekday.Best)
	}
}

func TestOutsideValidityHasNoMatch(t *testing.T) {
	config := getTestConfig()

	result := suggest(t, config, SuggestRequest{
		Date:     "2024-06-01",
		Amount:   "2000",
		Category: "Такси",
		Accounts: []string{"Alfa", "Tinkoff Black"},
	})

	if result.Best != nil {
		t.Errorf("Expected no match after the validity window, got %+v", result.Best)
	}
	if result.Message != "No matching rules; choose any card or default policy." {
		t.Errorf("Unexpected message %q", result.Message)
	}
}

func TestRegisteredCardsAreDefaultCandidates(t *testing.T) {
	config := getTestConfig()

	for _, name := range []string{"Alfa", "Tinkoff Black"} {
		status, body := call(t, config, http.MethodPost, "/accounts", map[string]string{"name": name})
		if status != http.StatusCreated {
			t.Fatalf("Expected status 201 registering %s, got %d: %s", name, status, string(body))
		}
	}

	result := suggest(t, config, SuggestRequest{
		Date:     "2024-05-10",
		Amount:   "500",
		Category: "Такси",
	})
	if result.Best == nil || result.Best.Account != "Tinkoff Black" {
		t.Errorf("Expected Tinkoff Black from the registry, got %+v", result.Best)
	}
}

func TestRulesEndpoints(t *testing.T) {
	config := getTestConfig()

	status, body := call(t, config, http.MethodGet, "/rules/tinkoff-taxi-2024-05", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	status, _ = call(t, config, http.MethodGet, "/rules/does-not-exist", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", status)
	}

	status, body = call(t, config, http.MethodPost, "/rules/reload", nil)
	if status != http.StatusOK {
		t.Errorf("Expected status 200 on reload, got %d: %s", status, string(body))
	}
}
