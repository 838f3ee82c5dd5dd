package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nftmarket/internal/api"
	"nftmarket/internal/chain"
	"nftmarket/internal/config"
	"nftmarket/internal/contract"
	"nftmarket/internal/feetx"
	"nftmarket/internal/market"
	"nftmarket/internal/queue"
	"nftmarket/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}

	feePayer, err := loadFeePayer(cfg.FeePayerKeystore, cfg.FeePayerPassword, cfg.FeePayerKey)
	if err != nil {
		return err
	}

	// A missing contract deployment is not fatal here; trade endpoints
	// answer with a contract-missing result until the artifacts appear.
	binding, err := contract.LoadArtifacts(cfg.ContractABI, cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("load contract artifacts: %w", err)
	}
	if binding == nil {
		logger.Warn("contract artifacts not found, trade operations disabled",
			zap.String("abi", cfg.ContractABI),
			zap.String("address", cfg.ContractAddress),
		)
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	broker, err := queue.NewRedisBroker(ctx, queue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer broker.Close()

	producer := queue.NewProducer(broker, queue.NamesForPrefix(cfg.QueuePrefix), logger)

	gas := feetx.DefaultGasTable()
	if cfg.GasLimit > 0 {
		for _, method := range []string{"listForSale", "cancelSale", "purchase", "transferToken"} {
			gas[method] = cfg.GasLimit
		}
	}

	resolver := feetx.NewResolver(chainClient, cfg.PollInterval, cfg.ConfirmTimeout, logger)
	submitter := feetx.NewSubmitter(chainClient, resolver, feePayer, chainID, gas, logger)

	service := market.NewService(store, producer, submitter, resolver, binding, chainClient, logger)
	server := api.NewServer(cfg.ListenAddr, service, logger)

	logger.Info("marketd serve start",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("fee_payer", feePayer.Address.Hex()),
		zap.String("queue_prefix", cfg.QueuePrefix),
	)

	return server.Run(ctx)
}
