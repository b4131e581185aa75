package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tickcore.dev/internal/persistence/indexdb"
	persistlog "tickcore.dev/internal/persistence/log"
	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/server"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/engine"
	"tickcore.dev/internal/sim/world"
	"tickcore.dev/internal/transport/observer"
	"tickcore.dev/internal/transport/ws"
	"tickcore.dev/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (tick/audit/snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		archiveEvery  = flag.Int64("archive_every_ticks", 0, "archive snapshots at multiples of this tick (0 to disable)")
		keepSnapshots = flag.Int("keep_snapshots", 0, "rolling snapshots to keep (0 keeps all)")

		enablePprof = flag.Bool("pprof", false, "serve /debug/pprof")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "tickcore.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}

	eng, err := buildEngine(tune, snapshotToLoad)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	if snapshotToLoad != "" {
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), eng.LastTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	wsSrv := ws.NewServer(ws.Config{
		ReliableQueue: tune.Transport.ReliableQueue,
		SampleQueue:   tune.Transport.SampleQueue,
	}, logger)
	defer wsSrv.Close()

	srv := server.New(server.Config{
		TickRateHz:         tune.TickRateHz,
		MaxCatchUpTicks:    tune.MaxCatchUpTicks,
		ResumeGraceTicks:   tune.ResumeGraceTicks,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		Ingress: server.Ingress{
			CommandsPerSecond: tune.Ingress.CommandsPerSecond,
			CommandsBurst:     tune.Ingress.CommandsBurst,
			PingsPerSecond:    tune.Ingress.PingsPerSecond,
		},
	}, eng, wsSrv, logger)

	if snapshotToLoad != "" {
		if n := srv.DespawnOrphans(); n > 0 {
			logger.Printf("despawning %d entities owned by previous connections", n)
		}
	}

	tickLog := persistlog.NewTickLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer tickLog.Close()
	defer auditLog.Close()

	var tickIdx server.TickLogger
	var auditIdx server.AuditLogger
	var snapIdx snapshotRecorder
	if idx != nil {
		tickIdx, auditIdx, snapIdx = idx, idx, idx
	}
	srv.SetTickLogger(multiTickLogger{a: tickLog, b: tickIdx})
	srv.SetAuditLogger(multiAuditLogger{a: auditLog, b: auditIdx})

	snaps := newSnapshotWriter(*dataDir, retention{ArchiveEveryTicks: *archiveEvery, Keep: *keepSnapshots}, snapIdx, logger)
	go snaps.Run(ctx)
	srv.SetSnapshotSink(snaps)

	obsSrv := observer.NewServer(logger)
	srv.SetObserver(obsSrv)

	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		if err := srv.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("sim stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, obsSrv, wsSrv, snaps, idx)
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/debug/state", obsSrv.StateHandler())
	mux.HandleFunc("/debug/ws", obsSrv.WSHandler())
	if *enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tick_rate=%dHz", *addr, tune.TickRateHz)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-simDone
}

// buildEngine creates a fresh engine from tuning, or restores one from a
// snapshot. A restored world keeps the dimensions it was saved with.
func buildEngine(tune tuning.Tuning, snapPath string) (*engine.Engine, error) {
	cfg := engine.Config{
		Buffer: command.BufferConfig{
			MaxPastTicks:   tune.MaxPastTicks,
			MaxFutureTicks: tune.MaxFutureTicks,
			MaxStoredTicks: tune.MaxStoredTicks,
		},
		StableSampleOrder: tune.StableSampleOrder,
		NotifyQueue:       256,
		SpawnHP:           tune.SpawnHP,
	}
	if snapPath == "" {
		return engine.New(cfg, world.New(world.Config{
			Width:               tune.World.Width,
			Height:              tune.World.Height,
			FlowProgressPerTick: tune.FlowProgressPerTick,
			FlowMaxStage:        tune.FlowMaxStage,
		}))
	}

	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	eng, err := engine.New(cfg, world.New(engine.WorldConfigFromSnapshot(snap)))
	if err != nil {
		return nil, err
	}
	if err := eng.RestoreSnapshot(snap); err != nil {
		return nil, err
	}
	return eng, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func writeMetrics(rw http.ResponseWriter, obs *observer.Server, wsSrv *ws.Server, snaps *snapshotWriter, idx *indexdb.SQLiteIndex) {
	if sum, ok := obs.Latest(); ok {
		fmt.Fprintf(rw, "# HELP tickcore_tick Last completed tick.\n")
		fmt.Fprintf(rw, "# TYPE tickcore_tick gauge\n")
		fmt.Fprintf(rw, "tickcore_tick %d\n", sum.Tick)

		fmt.Fprintf(rw, "# HELP tickcore_entities Entities in the world.\n")
		fmt.Fprintf(rw, "# TYPE tickcore_entities gauge\n")
		fmt.Fprintf(rw, "tickcore_entities %d\n", len(sum.Entities))

		fmt.Fprintf(rw, "# HELP tickcore_sessions Welcomed sessions.\n")
		fmt.Fprintf(rw, "# TYPE tickcore_sessions gauge\n")
		fmt.Fprintf(rw, "tickcore_sessions %d\n", sum.Sessions)

		fmt.Fprintf(rw, "# HELP tickcore_ops Ops emitted by the last tick per lane.\n")
		fmt.Fprintf(rw, "# TYPE tickcore_ops gauge\n")
		fmt.Fprintf(rw, "tickcore_ops{lane=%q} %d\n", "reliable", sum.ReliableOps)
		fmt.Fprintf(rw, "tickcore_ops{lane=%q} %d\n", "sample", sum.SampleOps)
	}

	fmt.Fprintf(rw, "# HELP tickcore_connections Open websocket connections.\n")
	fmt.Fprintf(rw, "# TYPE tickcore_connections gauge\n")
	fmt.Fprintf(rw, "tickcore_connections %d\n", wsSrv.Connections())

	fmt.Fprintf(rw, "# HELP tickcore_observers Observer subscribers.\n")
	fmt.Fprintf(rw, "# TYPE tickcore_observers gauge\n")
	fmt.Fprintf(rw, "tickcore_observers %d\n", obs.Subscribers())

	fmt.Fprintf(rw, "# HELP tickcore_snapshots_dropped_total Snapshots skipped because the writer was busy.\n")
	fmt.Fprintf(rw, "# TYPE tickcore_snapshots_dropped_total counter\n")
	fmt.Fprintf(rw, "tickcore_snapshots_dropped_total %d\n", snaps.Dropped())

	if idx != nil {
		fmt.Fprintf(rw, "# HELP tickcore_index_dropped_total Index rows dropped because the writer queue was full.\n")
		fmt.Fprintf(rw, "# TYPE tickcore_index_dropped_total counter\n")
		fmt.Fprintf(rw, "tickcore_index_dropped_total %d\n", idx.Dropped())
	}
}
