package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/lk2023060901/danmu-garden-connhub/application"
	zlog "github.com/lk2023060901/danmu-garden-connhub/pkg/log"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(zlog.S().Infof)); err != nil {
		zlog.S().Warnf("failed to set GOMAXPROCS: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := application.New().Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connhub: %+v\n", err)
		os.Exit(1)
	}
}
