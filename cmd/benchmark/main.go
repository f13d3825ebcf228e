// Benchmark tool for scoring PaySim fraud data against a running Kestrel.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/paysim.csv -url http://localhost:8080
//
// This tool:
//  1. Reads PaySim transaction data (with fraud labels)
//  2. Sends each transaction to POST /detect
//  3. Compares the verdict with the fraud label
//  4. Optionally files the label via POST /report so GET /metrics reflects the run
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/reporting"
	"github.com/shopspring/decimal"
)

// PaySimTransaction represents a row from the PaySim dataset
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         float64
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	IsFraud        bool
}

// paySimChannels maps PaySim transaction types to a payment mode and channel.
var paySimChannels = map[string][2]string{
	"PAYMENT":  {domain.PaymentModeDebitCard, domain.ChannelPOS},
	"TRANSFER": {domain.PaymentModeBankTransfer, domain.ChannelWeb},
	"CASH_OUT": {domain.PaymentModeWallet, domain.ChannelMobileApp},
	"CASH_IN":  {domain.PaymentModeBankTransfer, domain.ChannelBranch},
	"DEBIT":    {domain.PaymentModeDebitCard, domain.ChannelATM},
}

// Counters tracks benchmark progress. Fields are updated atomically.
type Counters struct {
	domain.ConfusionMatrix

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64
	ReportErrors   int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	report := flag.Bool("report", false, "File each label via POST /report")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("==================================================")
	fmt.Println("     KESTREL BENCHMARK - PaySim Fraud Detection")
	fmt.Println("==================================================")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Printf("Report:      %v\n", *report)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
	transactions, err := readPaySimCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("ERROR: no transactions selected")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	counters := runBenchmark(transactions, *baseURL, *workers, *report, *verbose)
	duration := time.Since(startTime)

	printResults(counters, duration)

	if *report {
		printServerMetrics(*baseURL)
	}
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

func readPaySimCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]PaySimTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, col := range []string{"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig", "namedest", "isfraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var transactions []PaySimTransaction
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["isfraud"]] == "1"

		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud transactions
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		step, _ := strconv.Atoi(record[colIndex["step"]])
		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		oldBalanceOrg, _ := strconv.ParseFloat(record[colIndex["oldbalanceorg"]], 64)
		newBalanceOrig, _ := strconv.ParseFloat(record[colIndex["newbalanceorig"]], 64)

		transactions = append(transactions, PaySimTransaction{
			Step:           step,
			Type:           record[colIndex["type"]],
			Amount:         amount,
			NameOrig:       record[colIndex["nameorig"]],
			OldBalanceOrg:  oldBalanceOrg,
			NewBalanceOrig: newBalanceOrig,
			NameDest:       record[colIndex["namedest"]],
			IsFraud:        isFraud,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []PaySimTransaction, baseURL string, numWorkers int, report, verbose bool) *Counters {
	c := &Counters{}

	work := make(chan int, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for idx := range work {
				tx := transactions[idx]
				txID := fmt.Sprintf("paysim-%d-%s", idx, tx.NameOrig)

				start := time.Now()
				result, err := detect(client, baseURL, txID, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&c.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&c.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&c.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", txID, err)
					}
					continue
				}

				if tx.IsFraud {
					atomic.AddInt64(&c.TotalFraud, 1)
				} else {
					atomic.AddInt64(&c.TotalNonFraud, 1)
				}

				predicted, actual := result.IsFraud, tx.IsFraud
				switch {
				case predicted && actual:
					atomic.AddInt64(&c.TruePositive, 1)
				case predicted && !actual:
					atomic.AddInt64(&c.FalsePositive, 1)
				case !predicted && !actual:
					atomic.AddInt64(&c.TrueNegative, 1)
				default:
					atomic.AddInt64(&c.FalseNegative, 1)
				}

				if report {
					if err := fileReport(client, baseURL, txID, actual); err != nil {
						atomic.AddInt64(&c.ReportErrors, 1)
						if verbose {
							fmt.Printf("REPORT ERROR: %s -> %v\n", txID, err)
						}
					}
				}

				if verbose {
					status := "ok "
					if predicted != actual {
						status = "MISS"
					}
					fmt.Printf("%s %-24s | Type: %-8s | Amount: %12.2f | Fraud: %-5v | Score: %.3f (%s)\n",
						status,
						txID,
						tx.Type,
						tx.Amount,
						tx.IsFraud,
						result.CombinedScore,
						result.Diagnostics.FraudSource,
					)
				}
			}
		}()
	}

	for i := range transactions {
		work <- i
	}
	close(work)

	wg.Wait()

	return c
}

func toRequest(txID string, tx PaySimTransaction) api.TransactionRequest {
	mode, channel := domain.PaymentModeBankTransfer, domain.ChannelWeb
	if mc, ok := paySimChannels[tx.Type]; ok {
		mode, channel = mc[0], mc[1]
	}

	return api.TransactionRequest{
		TransactionID: txID,
		Amount:        decimal.NewFromFloat(tx.Amount),
		PayerID:       tx.NameOrig,
		PayeeID:       tx.NameDest,
		PaymentMode:   mode,
		Channel:       channel,
		AdditionalData: map[string]any{
			"paysim_type":     tx.Type,
			"step":            tx.Step,
			"old_balance":     tx.OldBalanceOrg,
			"new_balance":     tx.NewBalanceOrig,
			"account_drained": tx.NewBalanceOrig == 0 && tx.OldBalanceOrg > 0,
		},
	}
}

func detect(client *http.Client, baseURL, txID string, tx PaySimTransaction) (*api.DetectResponse, error) {
	var result api.DetectResponse
	if err := post(client, baseURL+"/detect", toRequest(txID, tx), http.StatusOK, &result); err != nil {
		return nil, err
	}
	if result.ScoringResult == nil {
		return nil, fmt.Errorf("empty response")
	}
	return &result, nil
}

func fileReport(client *http.Client, baseURL, txID string, isFraud bool) error {
	req := api.ReportRequest{
		TransactionID:     txID,
		IsFraud:           &isFraud,
		ReportingEntityID: "paysim-benchmark",
	}
	return post(client, baseURL+"/report", req, http.StatusCreated, nil)
}

func post(client *http.Client, url string, body any, want int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(c *Counters, duration time.Duration) {
	fmt.Println("\n==================================================")
	fmt.Println("                BENCHMARK RESULTS")
	fmt.Println("==================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", c.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", c.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", c.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", c.TotalErrors)
	if c.ReportErrors > 0 {
		fmt.Printf("   Report Errors:    %d\n", c.ReportErrors)
	}

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   Fraud     Legit")
	fmt.Printf("   Actual  Fraud  %8d  %8d   (TP, FN)\n", c.TruePositive, c.FalseNegative)
	fmt.Printf("           Legit  %8d  %8d   (FP, TN)\n", c.FalsePositive, c.TrueNegative)

	m := reporting.Compute(c.ConfusionMatrix)
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", m.Precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", m.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", m.F1Score)
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy)

	if c.TotalNonFraud > 0 {
		falseAlarmRate := float64(c.FalsePositive) / float64(c.TotalNonFraud) * 100
		fmt.Printf("   False Alarms: %d / %d (%.2f%%)\n", c.FalsePositive, c.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if c.TotalProcessed > 0 {
		avgMs := float64(c.ProcessingTimeMs) / float64(c.TotalProcessed)
		tps := float64(c.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	fmt.Println()
}

// printServerMetrics shows GET /metrics, which also counts earlier runs.
func printServerMetrics(baseURL string) {
	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		fmt.Printf("ERROR: failed to fetch server metrics: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var m domain.Metrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		fmt.Printf("ERROR: failed to decode server metrics: %v\n", err)
		return
	}

	fmt.Printf("SERVER METRICS (all reported transactions)\n")
	fmt.Printf("   Reported:   %d\n", m.Total)
	fmt.Printf("   Precision:  %.4f\n", m.Precision)
	fmt.Printf("   Recall:     %.4f\n", m.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", m.F1Score)
	fmt.Println()
}
