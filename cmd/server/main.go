package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"clobcore/api/grpcserver"
	pb "clobcore/api/pb"
	_ "clobcore/api/rpccodec"

	"clobcore/bus"
	"clobcore/collaborators"
	"clobcore/config"
	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/engine"
	"clobcore/gateway"
	"clobcore/infra/broadcaster"
	"clobcore/infra/kafka"
	"clobcore/infra/memory"
	"clobcore/infra/sequence"
	entrywal "clobcore/infra/wal/entry"
	exitwal "clobcore/infra/wal/exit"
	"clobcore/logging"
	"clobcore/metrics"
	"clobcore/publisher"
	"clobcore/snapshot"
)

func main() {
	cfg := config.Load("")

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	_ = metrics.New(reg)

	// ---------------- Ledger ----------------

	ledgerStore, err := ledger.NewStore(cfg.LedgerDBPath)
	if err != nil {
		log.Fatal("ledger store init failed", zap.Error(err))
	}
	defer ledgerStore.Close()

	led, err := ledger.New(ledgerStore)
	if err != nil {
		log.Fatal("ledger warm start failed", zap.Error(err))
	}

	// ---------------- Exit WAL + Broadcaster ----------------

	exitWAL, err := exitwal.Open(cfg.WALDir + "/exit")
	if err != nil {
		log.Fatal("exit WAL init failed", zap.Error(err))
	}
	defer exitWAL.Close()

	bc, err := broadcaster.New(exitWAL, cfg.SaramaBrokers, cfg.SaramaOutboxTopic, log)
	if err != nil {
		log.Fatal("broadcaster init failed", zap.Error(err))
	}
	defer bc.Close()
	bc.Start(ctx)

	// ---------------- Market-data bus + Kafka sink ----------------

	busInst := bus.New(cfg.SubscriberBufferSize)

	kafkaProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaMarketTopic)
	defer kafkaProducer.Close()
	marketSink := kafka.NewSink(kafkaProducer, cfg.QueueDepth, log)
	go marketSink.Run(ctx)

	// ---------------- Gateway ----------------

	auth := collaborators.NewStaticAuthResolver(map[string]uint64{})
	kyc := collaborators.NewStaticKycPolicy(collaborators.Limits{MaxOrderNotional: 1 << 40, MaxLeverage: 20})

	orderSeq := sequence.New(0)
	gw := gateway.New(led, auth, kyc, orderSeq, log)

	// ---------------- Memory reclamation ----------------

	pool := memory.NewPool(func() *orderbook.Order { return &orderbook.Order{} })
	ring := memory.NewRetireRing(1 << 18)
	reader := snapshot.NewReader()

	// ---------------- Per-symbol engines ----------------

	var engines []*engine.Engine
	var maxReplaySeq uint64
	for _, sc := range cfg.Symbols {
		sym := orderbook.Symbol{
			Base: sc.Base, Quote: sc.Quote,
			PriceTick: sc.PriceTick, QtyStep: sc.QtyStep,
			PriceTickSize: sc.PriceTickSize, QtyStepSize: sc.QtyStepSize,
			MakerFeeRateBps: sc.MakerFeeRateBps, TakerFeeRateBps: sc.TakerFeeRateBps,
		}

		pub := publisher.New(sym.String(), 0, bus.NewSink(busInst, sym.String()), bc, marketSink)

		eng := engine.New(sym, led, pub, orderSeq, cfg.QueueDepth, log)

		symDir := cfg.WALDir + "/" + symbolDirName(sym.String())
		walEntry, err := entrywal.Open(entrywal.Config{
			Dir:             symDir,
			SegmentSize:     2 * 1024 * 1024,
			SegmentDuration: time.Minute,
		})
		if err != nil {
			log.Fatal("entry WAL init failed", zap.Error(err), zap.String("symbol", sym.String()))
		}
		eng.WithWAL(walEntry)
		eng.WithSnapshots(&snapshot.Writer{Dir: cfg.SnapshotDir}, cfg.SnapshotInterval)

		replaySeq, err := eng.Bootstrap(cfg.SnapshotDir, symDir, pool)
		if err != nil {
			log.Fatal("engine bootstrap failed", zap.Error(err), zap.String("symbol", sym.String()))
		}
		if replaySeq > maxReplaySeq {
			maxReplaySeq = replaySeq
		}

		gw.RegisterSymbol(eng)
		engines = append(engines, eng)
	}

	// orderSeq is shared by the gateway (order IDs) and every engine
	// (WAL record seq, Order.CreatedSeq): it must jump past every
	// symbol's replayed high-water mark before anything can issue a
	// new ID, or a post-restart order could reuse a seq value a
	// pre-restart order or WAL record already owns.
	orderSeq.Reset(maxReplaySeq)

	for _, eng := range engines {
		go eng.Run(ctx)
	}

	// ---------------- Epoch reclamation ----------------

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				memory.AdvanceEpochAndReclaim(ring, pool, reader.Epoch())
			}
		}
	}()

	// ---------------- Metrics endpoint ----------------

	httpSrv := &http.Server{Addr: ":9090", Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("listen failed", zap.Error(err))
	}

	grpcSrv := grpc.NewServer()
	pb.RegisterOrderGatewayServer(grpcSrv, grpcserver.NewServer(gw, busInst, log))

	log.Info("clobcore engine starting", zap.String("addr", cfg.GRPCAddr), zap.Int("symbols", len(engines)))

	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("gRPC server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	grpcSrv.GracefulStop()
	_ = httpSrv.Shutdown(context.Background())
}

// symbolDirName sanitizes a symbol ("BTC/USD") into a directory-safe
// name, mirroring snapshot.BookPath's own filename convention.
func symbolDirName(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}
