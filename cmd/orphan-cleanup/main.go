// Command orphan-cleanup deletes provider-side subscriptions that point at
// our webhook callback but have no declared intent in the database. Orphans
// accumulate when a process crashes between registering a subscription and
// persisting its topic, and they eat into the provider's subscription quota.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/subpulse/internal/database"
	"github.com/pscheid92/subpulse/internal/eventsub"
	"github.com/pscheid92/subpulse/internal/helixapi"
)

func main() {
	var (
		callbackURL = flag.String("callback", os.Getenv("WEBHOOK_CALLBACK_URL"), "Webhook callback URL to match (or set WEBHOOK_CALLBACK_URL env)")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Database URL (or set DATABASE_URL env)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (don't delete anything)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *callbackURL == "" {
		log.Fatal("Callback URL required (--callback or WEBHOOK_CALLBACK_URL env)")
	}
	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}
	clientID := os.Getenv("TWITCH_CLIENT_ID")
	clientSecret := os.Getenv("TWITCH_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET env vars required")
	}

	// Configure logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()

	pool, err := database.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	api, err := helixapi.NewClient(helixapi.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, clockwork.NewRealClock())
	if err != nil {
		log.Fatalf("Failed to create provider client: %v", err)
	}

	if err := cleanupOrphans(ctx, api, database.NewIntentRepo(pool), *callbackURL, *dryRun); err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}

	slog.Info("Cleanup complete")
}

func cleanupOrphans(ctx context.Context, api eventsub.ProviderClient, store eventsub.IntentStore, callbackURL string, dryRun bool) error {
	start := time.Now()
	slog.Info("Starting orphan cleanup", "callback", callbackURL, "dry_run", dryRun)

	declared, err := store.List(ctx)
	if err != nil {
		return err
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d.Topic.LogicalID()] = true
	}

	remotes, err := api.ListSubscriptions(ctx)
	if err != nil {
		return err
	}

	var scanned, deleted, kept int
	for _, remote := range remotes {
		if remote.Transport.Method != "webhook" || remote.Transport.Callback != callbackURL {
			continue
		}
		scanned++

		logicalID := remote.Topic().LogicalID()
		if declaredSet[logicalID] {
			kept++
			slog.Debug("Keeping declared subscription", "subscription_id", remote.ID, "logical_id", logicalID)
			continue
		}

		if dryRun {
			slog.Info("Would delete orphan subscription", "subscription_id", remote.ID, "logical_id", logicalID)
			deleted++
			continue
		}

		if err := api.DeleteSubscription(ctx, remote.ID); err != nil {
			slog.Error("Failed to delete orphan subscription", "subscription_id", remote.ID, "error", err)
			continue
		}
		slog.Info("Deleted orphan subscription", "subscription_id", remote.ID, "logical_id", logicalID)
		deleted++
	}

	slog.Info("Orphan cleanup finished",
		"scanned", scanned,
		"deleted", deleted,
		"kept", kept,
		"duration", time.Since(start))
	return nil
}
