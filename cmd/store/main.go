package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commonlog "rtc_server/server/common/log"
	storeapp "rtc_server/server/store/app"
)

func main() {
	cfg := storeapp.LoadConfig()

	server, err := storeapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize store server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start store http server on :%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run store http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown store server gracefully: %v", err)
		os.Exit(1)
	}
}
