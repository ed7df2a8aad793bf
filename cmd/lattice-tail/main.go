// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Lattice-tail follows the rooms of a Matrix account and prints
// incoming messages to stdout, one line per event.
//
// On startup it restores the previous session (access token and sync
// cursor) from the state database when one exists, falling back to a
// password login. On shutdown it checkpoints the session and a
// snapshot of every room, so the next run resumes the incremental sync
// instead of replaying the initial one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/lattice-im/lattice/lib/config"
	"github.com/lattice-im/lattice/lib/ref"
	"github.com/lattice-im/lattice/lib/secret"
	"github.com/lattice-im/lattice/messaging"
	"github.com/lattice-im/lattice/statestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		roomFilter string
		verbose    bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the lattice.yaml config file (default: $LATTICE_CONFIG)")
	pflag.StringVar(&roomFilter, "room", "", "only print messages from this room id")
	pflag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	pflag.Parse()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var onlyRoom ref.RoomID
	if roomFilter != "" {
		onlyRoom, err = ref.ParseRoomID(roomFilter)
		if err != nil {
			return fmt.Errorf("invalid --room: %w", err)
		}
	}

	store, err := statestore.Open(statestore.Config{
		Path:   cfg.Paths.StateDB,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		ServerName:    cfg.Homeserver.ServerName,
		DeviceName:    cfg.Identity.DeviceName,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := openSession(ctx, client, store, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	session.OnRoomUpdate(func(room *messaging.Room) {
		if !onlyRoom.IsZero() && room.ID() != onlyRoom {
			room.DrainTimeline()
			return
		}
		printMessages(room)
	})

	if err := session.StartSync(ctx, messaging.SyncConfig{
		Timeout: cfg.Sync.PollTimeout,
		Filter:  cfg.Sync.Filter,
	}); err != nil {
		return err
	}

	logger.Info("following rooms",
		"user_id", session.UserID(),
		"homeserver", cfg.Homeserver.URL,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	session.StopSync()

	return checkpoint(session, store, logger)
}

// openSession restores a persisted session when one exists and still
// works, and logs in with the configured password otherwise.
func openSession(ctx context.Context, client *messaging.Client, store *statestore.Store, cfg *config.Config, logger *slog.Logger) (*messaging.Session, error) {
	if state, found, err := store.LoadSession(ctx); err != nil {
		return nil, err
	} else if found {
		session, err := messaging.SessionFromToken(client, state.UserID.String(), state.AccessToken, state.DeviceID)
		if err != nil {
			return nil, err
		}
		if _, err := session.WhoAmI(ctx); err == nil {
			session.SetNextBatch(state.NextBatch)
			logger.Info("resumed session", "user_id", state.UserID, "device_id", state.DeviceID)
			return session, nil
		}
		logger.Warn("persisted session rejected by homeserver, logging in again")
		session.Close()
	}

	if cfg.Identity.TokenFile != "" {
		token, err := secret.ReadFromPath(cfg.Identity.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading token file: %w", err)
		}
		defer token.Close()
		return messaging.SessionFromToken(client, cfg.Identity.User, token.String(), "")
	}

	if cfg.Identity.PasswordFile == "" {
		return nil, fmt.Errorf("no persisted session and no identity.password_file configured")
	}
	password, err := secret.ReadFromPath(cfg.Identity.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}
	defer password.Close()

	session, err := messaging.NewSession(client, cfg.Identity.User)
	if err != nil {
		return nil, err
	}
	if err := session.Login(ctx, password); err != nil {
		return nil, err
	}

	if err := store.SaveSession(ctx, statestore.SessionState{
		UserID:      session.UserID(),
		DeviceID:    session.DeviceID(),
		AccessToken: session.AccessToken(),
	}); err != nil {
		logger.Warn("failed to persist session", "error", err)
	}
	return session, nil
}

// printMessages drains a room's fresh timeline events and prints the
// m.room.message bodies, oldest first.
func printMessages(room *messaging.Room) {
	fresh := room.DrainTimeline()
	for i := len(fresh) - 1; i >= 0; i-- {
		event := fresh[i]
		if event.Type != "m.room.message" {
			continue
		}
		body, _ := event.Content["body"].(string)
		if body == "" {
			continue
		}
		name := room.Name()
		if name == "" {
			name = room.ID().String()
		}
		timestamp := time.UnixMilli(event.OriginServerTS).Format("15:04:05")
		fmt.Printf("%s %s <%s> %s\n", timestamp, name, event.Sender, strings.TrimRight(body, "\n"))
	}
}

// checkpoint persists the sync cursor and a snapshot of every room so
// the next run resumes where this one stopped.
func checkpoint(session *messaging.Session, store *statestore.Store, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.SaveSession(ctx, statestore.SessionState{
		UserID:      session.UserID(),
		DeviceID:    session.DeviceID(),
		AccessToken: session.AccessToken(),
		NextBatch:   session.NextBatch(),
	}); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	rooms := session.Rooms()
	snapshots := make([]statestore.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snapshots = append(snapshots, statestore.SnapshotRoom(room))
	}
	if err := store.SaveRoomSnapshots(ctx, snapshots); err != nil {
		return fmt.Errorf("persisting room snapshots: %w", err)
	}

	logger.Info("checkpoint saved",
		"next_batch", session.NextBatch(),
		"rooms", len(snapshots),
	)
	return nil
}
