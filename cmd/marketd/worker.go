package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nftmarket/internal/chain"
	"nftmarket/internal/config"
	"nftmarket/internal/contract"
	"nftmarket/internal/feetx"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/market"
	"nftmarket/internal/model"
	"nftmarket/internal/queue"
	"nftmarket/internal/storage/postgres"
)

func runWorker(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWorker(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.IPFSEndpoint == "" {
		return fmt.Errorf("ipfs-endpoint is required")
	}

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

	if balance, err := chainClient.BalanceAt(ctx, feePayer.Address); err != nil {
		logger.Warn("fee payer balance check failed", zap.Error(err))
	} else {
		logger.Info("fee payer balance", zap.String("balance", balance.String()))
		if balance.Sign() == 0 {
			logger.Warn("fee payer has no funds, mints will fail",
				zap.String("fee_payer", feePayer.Address.Hex()),
			)
		}
	}

	// The worker cannot mint without a deployed contract, so unlike the
	// API it refuses to start without the artifacts.
	binding, err := contract.LoadArtifacts(cfg.ContractABI, cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("load contract artifacts: %w", err)
	}
	if binding == nil {
		return fmt.Errorf("contract artifacts not found (abi %s, address %s)", cfg.ContractABI, cfg.ContractAddress)
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

	gas := feetx.DefaultGasTable()
	if cfg.GasMint > 0 {
		gas["mintWithTokenURI"] = cfg.GasMint
	}

	resolver := feetx.NewResolver(chainClient, cfg.PollInterval, cfg.ConfirmTimeout, logger)
	submitter := feetx.NewSubmitter(chainClient, resolver, feePayer, chainID, gas, logger)
	pinner := ipfs.NewClient(cfg.IPFSEndpoint, cfg.IPFSToken, cfg.IPFSTimeout, logger)

	pipeline := market.NewMintPipeline(pinner, binding, submitter, store, logger)

	names := queue.NamesForPrefix(cfg.QueuePrefix)
	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Concurrency:  cfg.Concurrency,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		JobTimeout:   cfg.JobTimeout,
		PollTimeout:  cfg.PopTimeout,
	}, broker, names, pipeline.HandleJob, logger)

	// Items advance to QUEUED_FOR_MINT the moment stage 1 hands their
	// job to the execution queue.
	consumer.OnRelay = func(ctx context.Context, job model.MintJob) {
		if job.ItemID == 0 {
			return
		}
		if err := store.SetMintState(ctx, job.ItemID, model.MintStateQueuedMint); err != nil {
			logger.Warn("mark queued for mint failed",
				zap.Int64("item_id", job.ItemID),
				zap.Error(err),
			)
		}
	}

	logger.Info("marketd worker start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("fee_payer", feePayer.Address.Hex()),
		zap.String("queue_prefix", cfg.QueuePrefix),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("max_attempts", cfg.MaxAttempts),
	)

	return consumer.Run(ctx)
}
