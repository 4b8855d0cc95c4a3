package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/MENT2022/studio"
)

func main() {
	flow, err := studio.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, readings, closeReadings := studio.NewChannelStore("fanout", 32)
	defer closeReadings()

	go fanoutWorker("ingest", readings)

	if err := flow.Run(ctx, studio.StreamOutStore(store)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, readings <-chan studio.Reading) {
	var n int
	for r := range readings {
		n++
		fmt.Printf("[%s] #%d source=%q fields=%d at %s\n", name, n, r.SourceID, len(r.Fields), time.Now().Format(time.RFC3339))
	}
}
