package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nftmarket/internal/keyring"
)

func main() {
	root := &cobra.Command{
		Use:          "marketd",
		Short:        "Fee-delegated NFT marketplace backend",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("rpc-url", "", "chain RPC URL")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address")
	serveCmd.Flags().String("redis-password", "", "Redis password")
	serveCmd.Flags().Int("redis-db", 0, "Redis database")
	serveCmd.Flags().String("queue-prefix", "nftmarket", "queue name prefix")
	serveCmd.Flags().String("contract-abi", "./deployed/abi.json", "contract ABI artifact path")
	serveCmd.Flags().String("contract-address", "./deployed/address.txt", "contract address artifact path")
	serveCmd.Flags().String("fee-payer-keystore", "", "fee payer keystore JSON path")
	serveCmd.Flags().String("fee-payer-password", "", "fee payer keystore password")
	serveCmd.Flags().String("fee-payer-key", "", "fee payer raw private key (hex)")
	serveCmd.Flags().Uint64("gas-limit", 0, "gas limit override for trade methods")
	serveCmd.Flags().Duration("poll-interval", time.Second, "receipt poll interval")
	serveCmd.Flags().Duration("confirm-timeout", 2*time.Minute, "receipt confirmation timeout")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the mint worker",
		RunE:  runWorker,
	}

	workerCmd.Flags().String("rpc-url", "", "chain RPC URL")
	workerCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	workerCmd.Flags().String("redis-addr", "localhost:6379", "Redis address")
	workerCmd.Flags().String("redis-password", "", "Redis password")
	workerCmd.Flags().Int("redis-db", 0, "Redis database")
	workerCmd.Flags().String("queue-prefix", "nftmarket", "queue name prefix")
	workerCmd.Flags().Int("concurrency", 4, "mint workers")
	workerCmd.Flags().Int("max-attempts", 5, "attempts before dead-lettering a job")
	workerCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	workerCmd.Flags().Duration("pop-timeout", 5*time.Second, "blocking pop timeout")
	workerCmd.Flags().Duration("job-timeout", 5*time.Minute, "per-job deadline")
	workerCmd.Flags().String("contract-abi", "./deployed/abi.json", "contract ABI artifact path")
	workerCmd.Flags().String("contract-address", "./deployed/address.txt", "contract address artifact path")
	workerCmd.Flags().String("fee-payer-keystore", "", "fee payer keystore JSON path")
	workerCmd.Flags().String("fee-payer-password", "", "fee payer keystore password")
	workerCmd.Flags().String("fee-payer-key", "", "fee payer raw private key (hex)")
	workerCmd.Flags().Uint64("gas-mint", 0, "gas limit override for minting")
	workerCmd.Flags().Duration("poll-interval", time.Second, "receipt poll interval")
	workerCmd.Flags().Duration("confirm-timeout", 2*time.Minute, "receipt confirmation timeout")
	workerCmd.Flags().String("ipfs-endpoint", "", "metadata pinning service endpoint")
	workerCmd.Flags().String("ipfs-token", "", "metadata pinning service API token")
	workerCmd.Flags().Duration("ipfs-timeout", 30*time.Second, "metadata pinning request timeout")
	workerCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(workerCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// loadFeePayer prefers a raw hex key when given, otherwise decrypts the
// keystore file.
func loadFeePayer(keystorePath, password, rawKey string) (keyring.Keyring, error) {
	if rawKey != "" {
		return keyring.FromPrivateKey(rawKey)
	}
	if keystorePath == "" {
		return keyring.Keyring{}, fmt.Errorf("fee payer keystore or raw key is required")
	}
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return keyring.Keyring{}, fmt.Errorf("read fee payer keystore: %w", err)
	}
	return keyring.DecryptKeystore(data, password)
}
