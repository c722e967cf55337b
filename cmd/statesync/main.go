// Command statesync is a reference demo wiring the coordinator, the
// bbolt-backed executor proxy, and the in-memory network harness into a
// two-node state sync: a seeded "full node" and an empty "joiner" that
// catches up to it, reporting progress as it goes.
//
// Grounded on the teacher's own cmd-wires-flags-then-a-Client pattern
// (inferred from its alexflint/go-arg dependency; the teacher repo's own
// demo binaries live under examples/ rather than cmd/, but the flags
// library is the same one this command uses).
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/webhacking/statesync/coordinator"
	"github.com/webhacking/statesync/executorproxy"
	"github.com/webhacking/statesync/metrics"
	"github.com/webhacking/statesync/netsim"
	"github.com/webhacking/statesync/peermanager"
	"github.com/webhacking/statesync/types"
)

type demoArgs struct {
	coordinator.Config
	SeedVersions uint64 `arg:"--seed-versions" default:"50" help:"number of transactions the full node starts with"`
	LatencyMs    uint64 `arg:"--latency-ms" default:"10" help:"simulated one-way network latency"`
	DataDir      string `arg:"--data-dir" help:"directory for the two nodes' bbolt files; defaults to a temp dir"`
}

func main() {
	var cliArgs demoArgs
	cliArgs.Config = coordinator.DefaultConfig()
	arg.MustParse(&cliArgs)

	logger := log.Default
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cliArgs, logger); err != nil {
		logger.Levelf(log.Error, "statesync demo: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cliArgs demoArgs, logger log.Logger) error {
	dataDir := cliArgs.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = os.MkdirTemp("", "statesync-demo")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dataDir)
	}

	validators := []types.PeerID{"validator-1", "validator-2", "validator-3", "validator-4"}

	seedProxy, err := executorproxy.Open(filepath.Join(dataDir, "seed.db"), executorproxy.Config{
		EpochLength: 25,
		Validators:  validators,
	})
	if err != nil {
		return err
	}
	defer seedProxy.Close()

	seedTxns := make([]types.Transaction, cliArgs.SeedVersions)
	for i := range seedTxns {
		seedTxns[i] = types.Transaction{Version: types.Version(i + 1), Payload: []byte("tx-" + humanize.Comma(int64(i+1)))}
	}
	if err := seedProxy.Seed(seedTxns); err != nil {
		return err
	}

	joinerProxy, err := executorproxy.Open(filepath.Join(dataDir, "joiner.db"), executorproxy.Config{
		EpochLength: 25,
		Validators:  validators,
	})
	if err != nil {
		return err
	}
	defer joinerProxy.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	seedCfg := cliArgs.Config
	seedCoord := coordinator.New(coordinator.Option{
		Config:   seedCfg,
		Role:     peermanager.FullNode,
		Executor: seedProxy,
		Logger:   logger.WithNames("seed"),
		Metrics:  m,
	})

	joinCfg := cliArgs.Config
	joinCfg.UpstreamPeers = []types.PeerID{"seed"}
	joinCoord := coordinator.New(coordinator.Option{
		Config:   joinCfg,
		Role:     peermanager.FullNode,
		Executor: joinerProxy,
		Logger:   logger.WithNames("joiner"),
		Metrics:  m,
	})

	if err := seedCoord.Start(ctx); err != nil {
		return err
	}
	if err := joinCoord.Start(ctx); err != nil {
		return err
	}

	net := netsim.New(time.Duration(cliArgs.LatencyMs) * time.Millisecond)
	if err := net.Join(ctx, "seed", seedCoord.Network(), 0); err != nil {
		return err
	}
	if err := net.Join(ctx, "joiner", joinCoord.Network(), 0); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = seedCoord.Run(runCtx) }()
	go func() { _ = joinCoord.Run(runCtx) }()

	target, err := seedProxy.GetLatestLedgerInfo(ctx)
	if err != nil {
		return err
	}

	recv, err := joinCoord.Request(ctx, target)
	if err != nil {
		return err
	}

	select {
	case res := <-recv:
		if res.Err != nil {
			logger.Levelf(log.Error, "sync failed: %v", res.Err)
			return res.Err
		}
		logger.Levelf(log.Info, "joiner caught up to version %d", target.Ver)
	case <-ctx.Done():
		return ctx.Err()
	}

	stateRecv, err := joinCoord.GetState(ctx)
	if err != nil {
		return err
	}
	v := <-stateRecv
	logger.Levelf(log.Info, "joiner known_version is now %d", v)
	return nil
}
