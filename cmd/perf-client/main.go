package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/model"
)

// PerfConfig is read from PERF_* environment variables
type PerfConfig struct {
	BaseURL    string        `env:"BASE_URL,default=http://localhost:8080"`
	AdminToken string        `env:"ADMIN_TOKEN"`
	CampaignID int64         `env:"CAMPAIGN_ID"` // 0 creates a fresh campaign
	Codes      int32         `env:"CODES,default=5000"`
	Workers    int           `env:"WORKERS,default=50"`
	RPS        int           `env:"RPS,default=700"`
	Duration   time.Duration `env:"DURATION,default=30s"`
	Trusted    bool          `env:"TRUSTED,default=true"`
}

// PerfResult gathers aggregated metrics for the test run.
// LatencySum and P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	SoldOutCount  int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const defaultTimeout = 30 * time.Second

func main() {
	var env struct {
		Perf PerfConfig `env:",prefix=PERF_"`
	}
	if err := envconfig.Process(context.Background(), &env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := env.Perf

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 4,
		MaxIdleConnsPerHost: cfg.Workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: defaultTimeout}
	client := claimv1.NewClaimServiceClient(httpClient, cfg.BaseURL)

	campaignID := cfg.CampaignID
	if campaignID == 0 {
		id, err := createCampaign(client, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create campaign: %v\n", err)
			os.Exit(1)
		}
		campaignID = id
		fmt.Printf("created campaign %d with %d codes\n", campaignID, cfg.Codes)
	}

	fmt.Println("==========================================")
	fmt.Println("claim load test")
	fmt.Println("==========================================")
	fmt.Printf("campaign : %d\n", campaignID)
	fmt.Printf("rps      : %d\n", cfg.RPS)
	fmt.Printf("duration : %v\n", cfg.Duration)
	fmt.Printf("trusted  : %v\n", cfg.Trusted)
	fmt.Println("==========================================")

	burst := cfg.RPS / cfg.Workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var (
		result   PerfResult
		seq      atomic.Int64
		wg       sync.WaitGroup
		trackerW sync.WaitGroup
	)

	latencyChan := make(chan time.Duration, 4096)
	trackerW.Add(1)
	go func() {
		defer trackerW.Done()
		trackP95(latencyChan, &result)
	}()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				doRequest(client, cfg, campaignID, seq.Add(1), &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done()
	wg.Wait()
	close(latencyChan)
	trackerW.Wait()
	totalDur := time.Since(start)

	fmt.Println("==========================================")
	fmt.Println("results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed        : %.2fs\n", totalDur.Seconds())
	fmt.Printf("requests       : %d\n", result.TotalRequests)
	fmt.Printf("claimed        : %d\n", result.SuccessCount)
	fmt.Printf("sold out       : %d\n", result.SoldOutCount)
	fmt.Printf("errors         : %d\n", result.ErrorCount)

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	fmt.Printf("throughput     : %.2f req/s\n", float64(result.TotalRequests)/totalDur.Seconds())
	fmt.Printf("avg latency    : %v\n", avgLatency)
	fmt.Printf("p95 latency    : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	if err := verifyConsistency(client, campaignID, cfg.Trusted, result.SuccessCount); err != nil {
		fmt.Printf("consistency check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("consistency check passed")
}

func adminRequest[T any](cfg PerfConfig, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if cfg.AdminToken != "" {
		req.Header().Set("Authorization", "Bearer "+cfg.AdminToken)
	}
	return req
}

func createCampaign(client *claimv1.ClaimServiceClient, cfg PerfConfig) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	resp, err := client.CreateCampaign(ctx, adminRequest(cfg, &claimv1.CreateCampaignRequest{
		Name:          fmt.Sprintf("load test %s", time.Now().Format(time.RFC3339)),
		DiscountType:  model.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		Tiers: model.Tiers{
			{CodeCount: int(cfg.Codes / 10), DiscountValue: decimal.NewFromInt(30)},
			{CodeCount: int(cfg.Codes / 5), DiscountValue: decimal.NewFromInt(20)},
			{CodeCount: 0, DiscountValue: decimal.NewFromInt(10)},
		},
		TotalCodes:  cfg.Codes,
		ExpiryHours: 24,
	}))
	if err != nil {
		return 0, fmt.Errorf("create campaign failed: %w", err)
	}
	return resp.Msg.Campaign.ID, nil
}

// doRequest claims with a fresh identity per call so eligibility rules and
// the per-IP limiter do not dominate the result
func doRequest(client *claimv1.ClaimServiceClient, cfg PerfConfig, campaignID, n int64, result *PerfResult, latencyChan chan<- time.Duration) {
	// independent of the run context so in-flight calls finish
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := adminRequest(cfg, &claimv1.ClaimRequest{
		CampaignID: campaignID,
		Email:      fmt.Sprintf("load-%d@example.com", n),
		IP:         fmt.Sprintf("10.%d.%d.%d", (n>>16)&0xff, (n>>8)&0xff, n&0xff),
		Trusted:    cfg.Trusted,
	})

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.Claim(ctx, req)
	latency := time.Since(start)

	switch {
	case err != nil && claimv1.ErrorCode(err) == "sold_out":
		atomic.AddInt64(&result.SoldOutCount, 1)
	case err != nil:
		atomic.AddInt64(&result.ErrorCount, 1)
	case cfg.Trusted && resp.Msg.IssuedCode == "":
		atomic.AddInt64(&result.ErrorCount, 1)
	default:
		atomic.AddInt64(&result.SuccessCount, 1)
		atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
		select {
		case latencyChan <- latency:
		default:
		}
	}
}

// trackP95 keeps a bounded sample of latencies and refreshes the P95
// estimate every 100 samples
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)
	var seen int64

	for lat := range latencies {
		seen++
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			buf[seen%size] = lat.Nanoseconds()
		}

		if seen%100 == 0 {
			sorted := slices.Clone(buf)
			slices.Sort(sorted)
			idx := int(float64(len(sorted)) * 0.95)
			if idx >= len(sorted) {
				idx = len(sorted) - 1
			}
			atomic.StoreInt64(&result.P95Latency, sorted[idx])
		}
	}
}

// verifyConsistency compares the campaign counter with what the run saw.
// Claimed codes never exceed the pool; with trusted claims every success
// is one code.
func verifyConsistency(client *claimv1.ClaimServiceClient, campaignID int64, trusted bool, succeeded int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.GetCampaignStatus(ctx, connect.NewRequest(&claimv1.GetCampaignStatusRequest{CampaignID: campaignID}))
	if err != nil {
		return fmt.Errorf("failed to get campaign status: %w", err)
	}

	status := resp.Msg
	taken := int64(status.TotalCodes - status.CodesRemaining)
	fmt.Printf("total codes    : %d\n", status.TotalCodes)
	fmt.Printf("remaining      : %d\n", status.CodesRemaining)
	fmt.Printf("status         : %s\n", status.Status)

	if status.CodesRemaining < 0 {
		return fmt.Errorf("negative codes remaining: %d", status.CodesRemaining)
	}
	if taken > int64(status.TotalCodes) {
		return fmt.Errorf("oversold: taken=%d > total=%d", taken, status.TotalCodes)
	}
	if trusted && taken != succeeded {
		return fmt.Errorf("mismatch: server=%d, client=%d", taken, succeeded)
	}
	return nil
}
