package bootstrap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/cardiopredict/riskdash/internal/infra/config"
	"github.com/cardiopredict/riskdash/internal/infra/kvslot"
	"github.com/cardiopredict/riskdash/internal/infra/predictionstore"
)

// OpenSlot builds the kv slot behind the fallback list. An unreachable valkey
// degrades to the file slot. The returned cleanup releases the connection.
func OpenSlot(cfg config.SlotConfig, logger *slog.Logger) (kvslot.Slot, func()) {
	noop := func() {}
	switch strings.ToLower(cfg.Kind) {
	case "valkey":
		opt, err := buildValkeyOptions(cfg.Addr)
		if err != nil {
			logger.Error("invalid valkey configuration, falling back to file slot", "error", err)
			break
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			logger.Error("failed to create valkey client, falling back to file slot", "error", err)
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
			logger.Error("valkey ping failed, falling back to file slot", "error", err)
			client.Close()
			break
		}
		logger.Info("valkey slot enabled", "addr", cfg.Addr)
		return kvslot.NewValkeySlot(client, cfg.Prefix), client.Close
	case "memory":
		logger.Warn("memory slot selected, fallback history will not survive restarts")
		return kvslot.NewMemorySlot(), noop
	}
	return kvslot.NewFileSlot(cfg.FilePath), noop
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	if strings.Contains(addr, "://") {
		return valkey.ParseURL(addr)
	}
	return valkey.ClientOption{InitAddress: []string{addr}}, nil
}

// OpenStore selects the prediction store backend for cfg on top of slot.
func OpenStore(ctx context.Context, cfg config.StoreConfig, slot kvslot.Slot, logger *slog.Logger) (*predictionstore.Store, error) {
	return predictionstore.Open(ctx, predictionstore.Options{
		Driver:           cfg.Driver,
		SQLitePath:       cfg.SQLitePath,
		PostgresDSN:      cfg.Postgres.DSN,
		PostgresMaxConns: cfg.Postgres.MaxConns,
		Slot:             slot,
		FallbackKey:      cfg.FallbackKey,
		LegacyKey:        cfg.LegacyKey,
		SettingsKey:      cfg.SettingsKey,
		FallbackLimit:    cfg.FallbackLimit,
		Logger:           logger,
	})
}
