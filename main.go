package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"avatar_space/config"
	"avatar_space/engine"
	"avatar_space/network"
	"avatar_space/rtc"
	"avatar_space/storage"
)

func main() {
	mode := flag.String("mode", "relay", "relay or client")
	path := flag.String("config", "", "config file (json or yaml)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "relay":
		err = runRelay(ctx, cfg)
	case "client":
		err = runClient(ctx, stop, cfg)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	opts := network.RoomOptions{
		HistoryLimit: cfg.Server.ChatHistory,
		ChatPerSec:   cfg.Server.ChatPerSec,
		ChatBurst:    cfg.Server.ChatBurst,
	}
	if cfg.Server.ChatDB != "" {
		store, err := storage.Open(cfg.Server.ChatDB)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.History = store
	}

	rooms := network.NewRoomManager(cfg.Server.DefaultRoom, opts)
	defer rooms.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", rooms)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK %s\n", strings.Join(rooms.ListRooms(), ","))
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Printf("relay listening on %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runClient(ctx context.Context, stop func(), cfg *config.Config) error {
	conn, err := network.Dial(ctx, cfg.Client.URL, cfg.Client.Room)
	if err != nil {
		return err
	}
	defer conn.Close()

	opts := engine.Options{Console: os.Stdout}
	if cfg.Client.CaptureIVF != "" {
		opts.Capture = rtc.NewIVFCapture(cfg.Client.CaptureIVF)
	}
	eng := engine.New(cfg, conn, opts)

	go func() {
		err := conn.Run(ctx, func(env network.Envelope) {
			eng.Post(func() { eng.HandleMessage(env) })
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("connection lost: %v", err)
		}
		stop()
	}()
	if err := eng.Join(); err != nil {
		return err
	}
	go func() {
		if err := engine.RunConsole(ctx, os.Stdin, eng, stop); err != nil {
			log.Printf("console: %v", err)
		}
	}()

	log.Printf("connected to %s as %s", cfg.Client.URL, cfg.Client.Name)
	return eng.Run(ctx)
}
