package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"marketdata/internal/common"
	"marketdata/internal/exchange"
	"marketdata/internal/mainutil"
	"marketdata/internal/provider"
	"marketdata/internal/runtime"
	"marketdata/internal/symbolconfig"
)

var Options struct {
	DumpPath     string `traits:"nz"`
	SymbolConfig string `traits:"nz"`
	Duration     int    `traits:"gt=0"`
	Blocks       int    `traits:"gt=0"`
	Depth        int    `traits:"gt=0"`
	Exchanges    string `traits:"nz"`
	LogFile      string
	Debug        bool
	Help         bool
}

var flags flag.FlagSet

func init() {
	flags.StringVarP(&Options.DumpPath, "dump-path", "", "", "root directory for prices/trades CSV output")
	flags.StringVarP(&Options.SymbolConfig, "symbol-config", "", "", "path to the symbol-mapping JSON file")
	flags.IntVarP(&Options.Duration, "duration", "", 480, "minutes per dump block")
	flags.IntVarP(&Options.Blocks, "blocks", "", 1, "number of blocks to collect before exiting")
	flags.IntVarP(&Options.Depth, "depth", "", 10, "order book depth to request/dump")
	flags.StringVarP(&Options.Exchanges, "exchanges", "", "coinbase,bitfinex,bitmex,kraken", "comma-separated exchange list")
	flags.StringVarP(&Options.LogFile, "log-file", "", "", "rotate operational logs to this file instead of stderr")
	flags.BoolVarP(&Options.Debug, "debug", "", false, "enable debug-level logging")
	flags.BoolVarP(&Options.Help, "help", "", false, "this help message")
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)
}

func parseExchanges(s string) ([]exchange.Tag, error) {
	var tags []exchange.Tag
	var seen []string
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if common.ContainsString(seen, name) {
			continue
		}
		tag, err := exchange.ParseTag(name)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
		seen = append(seen, name)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("no exchanges given")
	}
	return tags, nil
}

func run() (err error, ret int) {
	_ = godotenv.Load()

	if _, err := mainutil.ParseArgs(&flags); err != nil {
		if err == flag.ErrHelp {
			Options.Help = true
		} else {
			return err, 1
		}
	}
	if Options.Help {
		fmt.Fprint(os.Stderr, flags.FlagUsages())
		return nil, 1
	}
	if err := mainutil.Validate(Options); err != nil {
		return err, 1
	}

	allowed, err := parseExchanges(Options.Exchanges)
	if err != nil {
		return err, 1
	}

	symbol, err := symbolconfig.Load(Options.SymbolConfig, allowed, Options.Depth)
	if err != nil {
		return err, 1
	}

	life := runtime.New(Options.LogFile, Options.Debug)
	defer life.Close()

	prov, err := provider.New(symbol,
		provider.OptionLogger(life.Logger),
		provider.OptionDepth(Options.Depth),
		provider.OptionDump(true, Options.DumpPath, Options.Duration),
		provider.OptionQueueCapacity(4096),
	)
	if err != nil {
		return err, 1
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := prov.Run(life.Context()); err != nil {
			life.Logger.Error().Err(err).Msg("provider run exited")
		}
	}()

	runProgress(life, Options.Blocks, Options.Duration)

	<-done
	prov.Close()
	return nil, 0
}

// runProgress blocks for blocks*duration minutes (or until the lifecycle
// context is cancelled), rendering a progress bar over completed blocks
// when stderr is a terminal, then triggers shutdown.
func runProgress(life *runtime.Lifecycle, blocks, duration int) {
	defer life.Cancel()

	bar := mainutil.NewProgressBar(blocks)
	period := time.Duration(duration) * time.Minute
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for i := 0; i < blocks; i++ {
		select {
		case <-ticker.C:
			bar.Add(1)
		case <-life.Context().Done():
			return
		}
	}
}

func main() {
	err, ret := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if ret != 0 {
		os.Exit(ret)
	}
}
