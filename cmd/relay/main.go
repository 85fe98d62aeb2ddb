package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
	"github.com/turtlesoup-online/turtlesoup/pkg/relay"
)

const (
	releaseVersion = "0.2.0"
)

func serve(ctx context.Context, cfg *Config) error {
	var store directory.Directory
	if cfg.dbPath != "" {
		db, err := directory.OpenSQLite(cfg.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
		log.Printf("Using SQLite storage at %s", cfg.dbPath)
	} else {
		store = directory.NewMemory()
		log.Printf("Using in-memory storage")
	}

	server := relay.NewServer(store)
	server.SetMaxTTL(cfg.roomTTL)

	// Drop expired room records on an interval so abandoned invites
	// don't accumulate.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepRooms(sweepCtx, store, cfg)

	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websockets stay open
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Relay listening on %s", addr)
		if cfg.tlsCert != "" {
			errCh <- httpServer.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server: %w", err)
	}
}

func sweepRooms(ctx context.Context, store directory.Directory, cfg *Config) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			codes, err := store.ListExpiredRooms(time.Now())
			if err != nil {
				log.Printf("Expired room sweep failed: %v", err)
				continue
			}
			for _, code := range codes {
				if err := store.DeleteRoom(code); err != nil {
					log.Printf("Failed to delete expired room %s: %v", code, err)
				}
			}
			if cfg.verbose && len(codes) > 0 {
				log.Printf("Swept %d expired room(s)", len(codes))
			}
		}
	}
}

func main() {
	log.SetFlags(0)
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
