package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trustedcircle/api"
	"trustedcircle/circle"
	"trustedcircle/config"
	"trustedcircle/observability/logging"
	"trustedcircle/storage"
	"trustedcircle/validator"
)

const bootstrappedKey = "circle/bootstrapped"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis seed file (overrides GenesisFile in config)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CIRCLE_ENV"))
	logger := logging.Setup("circled", env)

	if err := run(*configFile, *genesisFlag, logger); err != nil {
		logger.Error("circled exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string, logger *slog.Logger) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	c, err := bootstrap(db, cfg, genesisFlag, logger)
	if err != nil {
		return fmt.Errorf("bootstrap circle: %w", err)
	}
	c.SetEmitter(logging.NewEmitter(logger))

	server := api.New(api.Config{Circle: c})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("circled listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("circled shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}

// bootstrap loads the trusted circle's on-chain Config from the node's
// database, seeding it from the genesis file on first start. A circle that
// already has a persisted Config is resumed as-is; the genesis file is
// consumed once, matching config.Genesis's "initial roster" contract.
func bootstrap(db storage.Database, cfg *config.Config, genesisFlag string, logger *slog.Logger) (*circle.Circle, error) {
	seeded, err := db.Has([]byte(bootstrappedKey))
	if err != nil {
		return nil, fmt.Errorf("check bootstrap marker: %w", err)
	}

	vcfg := validator.Config{
		EpochLength:   24 * time.Hour,
		MinWeight:     1,
		MaxValidators: 100,
		Scaling:       1,
		AutoUnjail:    true,
	}

	if seeded {
		ccfg, err := circle.LoadConfig(db)
		if err != nil {
			return nil, fmt.Errorf("load persisted circle config: %w", err)
		}
		logger.Info("resuming existing circle", slog.String("name", ccfg.Name))
		return circle.New(db, ccfg, vcfg, ccfg.Rules.VotingPeriod()), nil
	}

	genesisPath := strings.TrimSpace(genesisFlag)
	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	if genesisPath == "" {
		return nil, errors.New("no genesis file provided for a fresh circle; supply --genesis or GenesisFile in config")
	}

	genesis, err := config.LoadGenesis(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	ccfg, err := circle.ConfigFromGenesis(genesis, cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("build circle config from genesis: %w", err)
	}
	members, err := circle.GenesisMembers(genesis)
	if err != nil {
		return nil, fmt.Errorf("decode genesis members: %w", err)
	}

	c := circle.New(db, ccfg, vcfg, ccfg.Rules.VotingPeriod())
	if _, err := c.UpdateMembers(ccfg.Admin, members, nil, 0); err != nil {
		return nil, fmt.Errorf("seed genesis members: %w", err)
	}
	if err := circle.SaveConfig(db, ccfg); err != nil {
		return nil, fmt.Errorf("persist circle config: %w", err)
	}
	if err := db.Put([]byte(bootstrappedKey), []byte{1}); err != nil {
		return nil, fmt.Errorf("write bootstrap marker: %w", err)
	}
	logger.Info("seeded new circle from genesis", slog.String("name", ccfg.Name), slog.Int("members", len(members)))
	return c, nil
}
