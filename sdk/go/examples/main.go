package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"time"

	"SwarmQuarry/internal/api"
	"SwarmQuarry/internal/auth"
	"SwarmQuarry/internal/swarm"
	"SwarmQuarry/sdk/go/quarry"
)

// A small simulation: three workers share one swarm against an in-process
// coordinator until every shaft is excavated.
func main() {
	svc := swarm.NewService(swarm.NewRegistry())
	server := api.NewServer(":0", svc, auth.NewGate(auth.Config{Token: "demo", IPLock: true}))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := quarry.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetToken("demo")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := client.CreateSwarm(ctx, "demo-pit", 8, 8)
	if err != nil {
		panic(err)
	}
	fmt.Printf("swarm created with %d shafts\n", count)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			runWorker(ctx, client, workerID)
		}(fmt.Sprint(i))
	}
	wg.Wait()

	stats, err := client.Stats(ctx, "demo-pit")
	if err != nil {
		panic(err)
	}
	fmt.Printf("done=%d/%d finished=%v\n", stats.Done, stats.Total, stats.Finished)
}

func runWorker(ctx context.Context, client *quarry.Client, workerID string) {
	pos := quarry.Point{}
	for {
		claim, err := client.ClaimShaft(ctx, "demo-pit", workerID)
		if err != nil {
			fmt.Printf("worker %s: claim failed: %v\n", workerID, err)
			return
		}
		if claim.Exhausted {
			return
		}
		dest := quarry.Point{X: claim.Shaft.X, Z: claim.Shaft.Z}

		for {
			admitted, err := client.Travel(ctx, "demo-pit", workerID, pos, dest)
			if err != nil {
				fmt.Printf("worker %s: travel failed: %v\n", workerID, err)
				return
			}
			if admitted {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		pos = dest
		if _, err := client.TravelDone(ctx, "demo-pit", workerID); err != nil {
			fmt.Printf("worker %s: release failed: %v\n", workerID, err)
			return
		}
		if err := client.FinishShaft(ctx, "demo-pit", dest.X, dest.Z); err != nil {
			fmt.Printf("worker %s: finish failed: %v\n", workerID, err)
			return
		}
		fmt.Printf("worker %s finished shaft (%d,%d), %d left\n", workerID, dest.X, dest.Z, claim.Remaining)
	}
}
