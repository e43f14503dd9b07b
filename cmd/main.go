package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/pkg/runtime"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	srv, err := runtime.New(configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	// Terminal input drives the session directly: prompt text generates a
	// motion, keywords (default, last, list, clear, status, up) are commands.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			srv.Controller().HandleInput(scanner.Text())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case err := <-errCh:
		if err != nil {
			fallback, _ := zap.NewProduction()
			defer fallback.Sync()
			fallback.Fatal("server error", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
