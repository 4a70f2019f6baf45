package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vsariola/soundmachine/cmd"
	"github.com/vsariola/soundmachine/oto"
	"github.com/vsariola/soundmachine/store"
	"github.com/vsariola/soundmachine/tracker"
	"github.com/vsariola/soundmachine/version"
	"github.com/vsariola/soundmachine/vm"
)

var (
	configFile       = flag.String("config", "", "read settings from YAML `file`")
	dbPath           = flag.String("db", "", "recovery database `file`, overrides dbPath of the config")
	metricsAddr      = flag.String("metrics", "", "serve Prometheus metrics at `address`, e.g. :9090")
	recoveryInterval = flag.Duration("recovery-interval", 30*time.Second, "how often the recovery snapshot is written")
	midiInput        = flag.String("midi-input", "", "connect MIDI input to matching device name prefix")
	noAudio          = flag.Bool("no-audio", false, "do not open the audio device")
	cpuprofile       = flag.String("cpuprofile", "", "write cpu profile to `file`")
	memprofile       = flag.String("memprofile", "", "write memory profile to `file`")
	versionFlag      = flag.Bool("v", false, "print version")
)

func main() {
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
		}()
	}
	cfg, err := readConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg.Logger = logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := tracker.NewMetrics(reg)

	var st *store.Store
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			log.Fatal("could not create database directory: ", err)
		}
		if st, err = store.Open(cfg.DBPath); err != nil {
			log.Fatal(err)
		}
		defer st.Close()
	}

	broker := tracker.NewBroker()
	model, err := tracker.NewModel(cfg, vm.NewRegistry(), broker, metrics, st)
	if err != nil {
		log.Fatal("could not create the default project: ", err)
	}
	if a := flag.Args(); len(a) > 0 {
		if err := model.LoadFile(a[0]); err != nil {
			logger.Error("could not load project", "path", a[0], "err", err)
		}
	} else if st != nil {
		if err := model.LoadRecovery(); err != nil && !errors.Is(err, store.ErrNoRecovery) {
			logger.Warn("could not restore the recovery snapshot", "err", err)
		}
	}
	graph := model.ProcessorGraph().Graph()

	midiContext := cmd.NewMidiInput()
	defer midiContext.Close()
	if *midiInput != "" {
		if err := midiContext.Open(*midiInput, graph.SendMidi); err != nil {
			logger.Warn("could not open MIDI input", "prefix", *midiInput, "devices", midiContext.Devices(), "err", err)
		}
	}

	if !*noAudio {
		output, err := oto.Open(graph, cfg.SampleRate, cfg.BlockSize)
		if err != nil {
			log.Fatal(err)
		}
		defer output.Close()
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer server.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	broker.Post(model.Start)
	if st != nil {
		ticker := time.NewTicker(*recoveryInterval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					broker.Post(func() { saveRecovery(model, logger) })
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	logger.Info("soundmachine running", "version", version.VersionOrHash, "sampleRate", cfg.SampleRate, "blockSize", cfg.BlockSize)
	runErr := make(chan error, 1)
	go func() { runErr <- broker.Run(ctx) }()
	<-ctx.Done()
	err, ok := tracker.TimeoutReceive(runErr, 3*time.Second)
	if !ok {
		logger.Error("model did not stop in time, skipping the final recovery snapshot")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("broker stopped", "err", err)
	}
	// the broker has returned, so the model is ours again
	model.Stop()
	if st != nil {
		saveRecovery(model, logger)
	}
	if *memprofile != "" {
		writeHeapProfile(*memprofile)
	}
}

func readConfig() (tracker.Config, error) {
	cfg := tracker.DefaultConfig()
	if *configFile != "" {
		f, err := os.Open(*configFile)
		if err != nil {
			return cfg, fmt.Errorf("could not open config: %w", err)
		}
		defer f.Close()
		if cfg, err = tracker.LoadConfig(f); err != nil {
			return cfg, err
		}
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if cfg.DBPath == "" && *configFile == "" {
		if configDir, err := os.UserConfigDir(); err == nil {
			cfg.DBPath = filepath.Join(configDir, "SoundMachine", "soundmachine.db")
		}
	}
	return cfg, nil
}

func saveRecovery(model *tracker.Model, logger *slog.Logger) {
	if err := model.SaveRecovery(); err != nil {
		logger.Warn("could not save recovery snapshot", "err", err)
	}
}

func writeHeapProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
