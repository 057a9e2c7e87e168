// Package cli implements the chronolock CLI commands.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/spf13/cobra"

	"github.com/rcliao/chronolock/internal/capsule"
	"github.com/rcliao/chronolock/internal/config"
	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/ipfs"
	"github.com/rcliao/chronolock/internal/metrics"
	"github.com/rcliao/chronolock/internal/simulator"
	"github.com/rcliao/chronolock/internal/store"
	"github.com/rcliao/chronolock/internal/timelock"
)

var (
	configPath string
	dbPath     string
	formatFlag string
	ownerFlag  string
	metricsOut string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "chronolock",
	Short: "Encrypted time-locked memories",
	Long: "Record a message, encrypt it, pin the ciphertext to IPFS and lock it behind an " +
		"Algorand time-lock contract. Falls back to a local simulated mode when the account is unfunded or offline.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.chronolock/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $CHRONOLOCK_DB or ~/.chronolock/memories.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Owner address (default: the account of $CHRONOLOCK_MNEMONIC)")
	RootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile on exit")
}

// app is everything a command needs, built from config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	svc       *capsule.Service
	collector *metrics.PrometheusCollector
	account   *crypto.Account
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return cfg
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.GetBackend() {
	case config.BackendRedis:
		return store.NewRedisStore(store.RedisOptions{URL: cfg.Store.RedisURL})
	default:
		return store.NewSQLiteStore(cfg.Store.GetPath())
	}
}

// newApp wires the service. The signing account is optional for read-only
// commands.
func newApp() *app {
	cfg := loadConfig()
	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}

	node, err := timelock.NewAlgodNode(cfg.Ledger.AlgodURL, cfg.Ledger.AlgodToken)
	if err != nil {
		exitErr("ledger node", err)
	}
	idx, err := timelock.NewAlgoIndexer(cfg.Ledger.IndexerURL, cfg.Ledger.IndexerToken)
	if err != nil {
		exitErr("ledger indexer", err)
	}

	ledger := timelock.NewClient(node, idx, logger,
		timelock.WithReadTimeout(cfg.Ledger.GetReadTimeout()),
		timelock.WithConfirmTimeout(cfg.Ledger.GetConfirmTimeout()))

	collector := metrics.NewPrometheusCollector()
	svc := capsule.New(capsule.Deps{
		Content: ipfs.NewClient(ipfs.Config{
			APIURL:          cfg.IPFS.APIURL,
			GatewayURL:      cfg.IPFS.GatewayURL,
			JWT:             cfg.IPFS.JWT,
			UploadTimeout:   cfg.IPFS.GetUploadTimeout(),
			RetrieveTimeout: cfg.IPFS.GetRetrieveTimeout(),
		}, nil, logger),
		Ledger:    ledger,
		Simulator: simulator.New(st, simulator.WithLogger(logger)),
		Store:     st,
	}, capsule.WithLogger(logger), capsule.WithMetrics(collector))

	a := &app{cfg: cfg, logger: logger, store: st, svc: svc, collector: collector}
	if cfg.Ledger.Mnemonic != "" {
		acct, err := loadAccount(cfg.Ledger.Mnemonic)
		if err != nil {
			exitErr("load account", err)
		}
		a.account = acct
	}
	return a
}

// owner resolves the address commands act for.
func (a *app) owner() string {
	if ownerFlag != "" {
		return ownerFlag
	}
	if a.account != nil {
		return a.account.Address.String()
	}
	a.close()
	exitErr("owner", errors.New("no owner: pass --owner or set CHRONOLOCK_MNEMONIC"))
	return ""
}

func (a *app) close() {
	if metricsOut != "" {
		if err := a.collector.WriteTextfile(metricsOut); err != nil {
			a.logger.Warn("write metrics textfile", "path", metricsOut, "error", err)
		}
	}
	a.store.Close()
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(exitCode(err))
}

// exitCode distinguishes expected outcomes from failures for scripts.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindStillLocked:
		return 3
	case errs.KindInsufficientBalance:
		return 4
	case errs.KindUserCancelled:
		return 5
	default:
		return 1
	}
}
