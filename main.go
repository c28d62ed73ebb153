package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/putto11262002/chatsync/app"
)

func main() {
	// .env is optional, environment variables win either way
	godotenv.Load()

	ctx, _ := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	a, err := app.New(ctx, nil)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	if err := a.Start(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
