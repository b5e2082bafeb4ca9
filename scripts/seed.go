// Seed script for creating demo content in Veracity.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Harshitk-cp/veracity/internal/config"
	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/Harshitk-cp/veracity/internal/store"
	"go.uber.org/zap"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	logger := zap.NewNop()

	backend, err := store.OpenBackend(ctx, store.BackendConfig{
		Kind:           config.StoreBackend(),
		DatabaseURL:    config.DatabaseURL(),
		MigrationsPath: config.MigrationsPath(),
		SQLitePath:     config.SQLitePath(),
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Close()

	fmt.Printf("Connected to %s store\n", config.StoreBackend())

	signals := service.NewSignalService(backend.Signals, config.SignalPriority(), logger)

	content := []struct {
		id    string
		specs []domain.SignalSpec
	}{
		{"demo-news-001", nil},
		{"demo-news-002", nil},
		{"demo-research-001", []domain.SignalSpec{
			{Key: domain.SignalTruth, InitialValue: 50},
			{Key: domain.SignalRelevance, InitialValue: 50},
			{Key: domain.SignalInformativeness, InitialValue: 50},
			{Key: "rigor", Name: "Rigor", InitialValue: 40},
		}},
		{"demo-opinion-001", []domain.SignalSpec{
			{Key: domain.SignalRelevance, InitialValue: 60},
			{Key: "civility", Name: "Civility", InitialValue: 70},
		}},
	}

	for _, c := range content {
		coll, err := signals.Register(ctx, c.id, c.specs)
		switch {
		case errors.Is(err, service.ErrContentConflict):
			fmt.Printf("Content %s already exists, skipping\n", c.id)
		case err != nil:
			log.Printf("Warning: Failed to register %s: %v", c.id, err)
		default:
			fmt.Printf("Registered %s with %d signals\n", c.id, len(coll.Signals))
		}
	}

	apiKey := generateAPIKey()
	epoch := domain.CurrentEpoch(time.Now())

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nTo require auth, start the server with:")
	fmt.Printf("API_KEYS=%s\n", apiKey)
	fmt.Println("\nTo submit a belief in the open epoch:")
	fmt.Printf("curl -X POST -H 'Authorization: Bearer %s' http://localhost:8080/v1/content/demo-news-001/submissions \\\n", apiKey)
	fmt.Println(`  -d '{"participant_id":"p1","beliefs":{"truth":{"my_belief":80,"others_belief":60}},"stake":"10"}'`)
	fmt.Printf("\nEpoch %d closes at %s\n", epoch.Number, epoch.End.Format("2006-01-02 15:04 MST"))
}

func generateAPIKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}
	return "vr_" + base64.URLEncoding.EncodeToString(b)[:40]
}
