package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Concurrent-sale probe against a running server: fires more unit sales than
// there is stock and checks that exactly initial-stock of them succeed.
const (
	productID     = "stress-item"
	initialStock  = 20
	totalRequests = 50
)

type mutateRequest struct {
	ProductID     string `json:"product_id"`
	Delta         int64  `json:"delta"`
	Cause         string `json:"cause,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

type stockSnapshot struct {
	ProductID string `json:"product_id"`
	Stock     int64  `json:"stock"`
}

func main() {
	baseURL := os.Getenv("STRESS_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	// Reset the product to a known stock via an adjustment.
	snap, err := readStock(client, baseURL)
	if err != nil {
		log.Fatalf("failed to read initial stock: %v", err)
	}
	if snap.Stock != initialStock {
		if _, err := mutate(client, baseURL, initialStock-snap.Stock, "adjustment"); err != nil {
			log.Fatalf("failed to reset stock: %v", err)
		}
	}

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := mutate(client, baseURL, -1, "sale")
			switch {
			case err != nil:
				errorCount.Add(1)
			case status == http.StatusOK:
				successCount.Add(1)
			case status == http.StatusConflict:
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()
	failed := errorCount.Load()

	fmt.Println("========== STRESS RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("====================================")

	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d sales succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	snap, err = readStock(client, baseURL)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", snap.Stock)
	if snap.Stock == 0 {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected stock 0, got %d\n", snap.Stock)
	}
}

func mutate(client *http.Client, baseURL string, delta int64, cause string) (int, error) {
	body, err := json.Marshal(mutateRequest{
		ProductID:     productID,
		Delta:         delta,
		Cause:         cause,
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		return 0, err
	}
	resp, err := client.Post(baseURL+"/api/stock/mutate", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func readStock(client *http.Client, baseURL string) (stockSnapshot, error) {
	resp, err := client.Get(baseURL + "/api/stock/" + productID)
	if err != nil {
		return stockSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stockSnapshot{}, fmt.Errorf("unexpected status %d (does %q exist?)", resp.StatusCode, productID)
	}
	var snap stockSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return stockSnapshot{}, err
	}
	return snap, nil
}
