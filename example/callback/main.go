package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/MENT2022/studio/pkg/studio"
)

func main() {
	flow, err := studio.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, r studio.Reading) error {
		if len(r.Fields) == 0 {
			fmt.Printf("%s topic=%s unrecognized payload (%d bytes)\n",
				r.CapturedAt.Format(time.RFC3339Nano), r.Topic, len(r.Payload))
			return nil
		}
		fmt.Printf("%s topic=%s source=%q fields=%v\n",
			r.CapturedAt.Format(time.RFC3339Nano),
			r.Topic,
			r.SourceID,
			r.Sample().Values(),
		)
		return nil
	}

	if err := flow.Run(ctx, studio.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
