// Command indexer is the process launcher of spec §1/§6: reads the required
// environment variables, loads config and ABI, wires one supervisor per
// configured chain, starts the metrics HTTP server, and runs until a signal
// requests shutdown.
//
// Grounded on the original main.rs's startup sequence (env -> config -> db
// -> logger -> per-chain supervisor fan-out -> metrics server -> signal
// wait), expressed here over github.com/urfave/cli for argument handling
// (the teacher's own CLI dependency, even though this command takes no
// flags beyond --help/--version) and a fatih/color + olekukonko/tablewriter
// startup banner listing the chains and endpoints that were loaded.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	"go.uber.org/multierr"

	"github.com/mrzigha/evm-indexer/internal/abi"
	"github.com/mrzigha/evm-indexer/internal/config"
	"github.com/mrzigha/evm-indexer/internal/httpserver"
	"github.com/mrzigha/evm-indexer/internal/indexererr"
	"github.com/mrzigha/evm-indexer/internal/logger"
	"github.com/mrzigha/evm-indexer/internal/metrics"
	"github.com/mrzigha/evm-indexer/internal/store"
	"github.com/mrzigha/evm-indexer/internal/supervisor"
)

func main() {
	app := cli.NewApp()
	app.Name = "evm-indexer"
	app.Usage = "watch configured EVM chains for contract log events and index them"
	app.Version = "0.1.0"
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(*cli.Context) error {
	logPath, ok := os.LookupEnv("EVM_INDEXER_LOG_PATH")
	if !ok || logPath == "" {
		return errExit(indexererr.ErrMissingEnvVar, "EVM_INDEXER_LOG_PATH")
	}
	log, err := logger.NewProduction(logPath)
	if err != nil {
		return errExit(err, "initializing logger")
	}
	defer log.Sync()
	logger.SetGlobal(log)

	abiPath, ok := os.LookupEnv("EVM_INDEXER_ABI_PATH")
	if !ok || abiPath == "" {
		return errExit(indexererr.ErrMissingEnvVar, "EVM_INDEXER_ABI_PATH")
	}
	decoder, err := abi.Load(abiPath)
	if err != nil {
		return errExit(err, "loading ABI")
	}

	cfg, err := config.Load()
	if err != nil {
		return errExit(err, "loading configuration")
	}

	eventStore, err := store.Dial(context.Background(), cfg.Database)
	if err != nil {
		return errExit(err, "connecting to database")
	}

	printStartupBanner(*cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsServer, err := httpserver.New(cfg.General, log)
	if err != nil {
		return errExit(err, "starting metrics server")
	}

	var joined error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := metricsServer.Run(ctx); err != nil {
			joined = multierr.Append(joined, err)
		}
	}()

	supervisors := make([]*supervisor.Supervisor, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		sink := metrics.NewSink(chainCfg.Name, "")
		sup := supervisor.New(chainCfg, decoder, eventStore, sink, log.With("chain", chainCfg.Name))
		supervisors = append(supervisors, sup)
	}

	chainDone := make(chan error, len(supervisors))
	for _, sup := range supervisors {
		sup := sup
		go func() { chainDone <- sup.Run(ctx) }()
	}
	for range supervisors {
		if err := <-chainDone; err != nil {
			joined = multierr.Append(joined, err)
		}
	}

	<-ctx.Done()
	<-done

	if err := eventStore.Close(context.Background()); err != nil {
		joined = multierr.Append(joined, err)
	}
	return joined
}

func printStartupBanner(cfg config.Config) {
	color.Cyan("evm-indexer starting with %d configured chain(s)", len(cfg.Chains))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Chain", "Contract", "Endpoint", "Type", "Priority"})
	for _, chain := range cfg.Chains {
		for _, rpc := range chain.Rpcs {
			table.Append([]string{chain.Name, chain.ContractAddress, rpc.URL, string(rpc.RpcType), fmt.Sprintf("%d", rpc.Priority)})
		}
	}
	table.Render()
}

func errExit(err error, context string) error {
	return fmt.Errorf("%s: %w", context, err)
}
