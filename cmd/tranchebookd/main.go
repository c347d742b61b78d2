package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"tranchebook/config"
	"tranchebook/gateway/routes"
	"tranchebook/indexer"
	"tranchebook/native/lending"
	"tranchebook/observability/logging"
	"tranchebook/rpc"
	"tranchebook/storage"
	"tranchebook/storage/ledgerstore"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logger *slog.Logger
	if strings.TrimSpace(cfg.LogFile) != "" {
		logger = logging.SetupWithFile("tranchebookd", cfg.Environment, cfg.LogFile)
	} else {
		logger = logging.Setup("tranchebookd", cfg.Environment)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := ledgerstore.New(db)
	engine := lending.NewEngine(cfg.Lending)
	engine.SetState(store)
	engine.SetToken(lending.NewMemoryToken())
	if treasury := strings.TrimSpace(cfg.AddonTreasury); treasury != "" {
		if !common.IsHexAddress(treasury) {
			logger.Error("Invalid addon treasury address", slog.String("address", treasury))
			os.Exit(1)
		}
		engine.SetAddonTreasury(common.HexToAddress(treasury))
	}
	if err := bindProgramCollaborators(engine, store); err != nil {
		logger.Error("Failed to bind program collaborators", slog.Any("error", err))
		os.Exit(1)
	}

	indexDB, err := gorm.Open(sqlite.Open(cfg.IndexPath), &gorm.Config{})
	if err != nil {
		logger.Error("Failed to open index database", slog.Any("error", err))
		os.Exit(1)
	}
	ix, err := indexer.New(indexDB, store)
	if err != nil {
		logger.Error("Failed to initialise indexer", slog.Any("error", err))
		os.Exit(1)
	}
	if applied, err := ix.Sync(); err != nil {
		logger.Error("Indexer catch-up failed", slog.Any("error", err))
		os.Exit(1)
	} else if applied > 0 {
		logger.Info("Indexer caught up", slog.Int("applied", applied))
	}

	gatewayHandler := routes.New(routes.Config{Engine: engine, Store: store})
	go func() {
		logger.Info("Starting gateway", slog.String("addr", cfg.GatewayAddress))
		if err := http.ListenAndServe(cfg.GatewayAddress, gatewayHandler); err != nil {
			logger.Error("Gateway stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	server := rpc.NewServer(engine, store, cfg.RPCAuthToken)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// bindProgramCollaborators rebinds no-op collaborator hooks for every stored
// program, so loans on existing programs keep working across restarts.
func bindProgramCollaborators(engine *lending.Engine, store *ledgerstore.Store) error {
	ids, err := store.ProgramIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, err := store.GetProgram(id)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}
		engine.RegisterCreditLine(p.CreditLine, lending.NoopCreditLine{})
		engine.RegisterLiquidityPool(p.LiquidityPool, lending.NoopLiquidityPool{})
	}
	return nil
}
