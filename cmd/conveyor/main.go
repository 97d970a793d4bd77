// Command conveyor pushes stdin lines into Kinesis, SQS, Firehose, Kafka or
// Redis Streams, and starts and waits on Athena queries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erfanmomeniii/conveyor/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRoot(cli.DefaultDeps()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "conveyor:", err)
		stop()
		os.Exit(1)
	}
}
