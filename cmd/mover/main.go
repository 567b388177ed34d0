package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "mover", "client name")
		walkSpeed = flag.Float64("walk_speed", 8, "avatar walk speed in grid units per second at speed 1")
		buildTime = flag.Duration("build_time", 0, "construction time after arrival at speed 1 (0 uses the server's duration_ms)")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "jitter seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mover] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := newMover(conn, Options{
		Name:      *name,
		WalkSpeed: *walkSpeed,
		BuildTime: *buildTime,
		Seed:      *seed,
	}, logger)
	if err := m.Run(ctx); err != nil {
		logger.Printf("stopped: %v", err)
	}
}
