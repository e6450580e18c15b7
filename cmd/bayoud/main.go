// bayoud hosts the document control engine: it wires up storage, the
// cluster lock, the change exporter, and the document directory, then
// opens the configured Preload documents and keeps them live until
// SIGINT/SIGTERM. It has no request surface: transport (HTTP/WS), auth,
// and routing are deliberately out of
// scope here; grounded on collab_server/main.go's wiring shape with
// those layers stripped.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	redis "github.com/redis/go-redis/v9"

	"bayou/internal/clusterlock"
	"bayou/internal/config"
	"bayou/internal/directory"
	"bayou/internal/doccomplex"
	"bayou/internal/events"
	"bayou/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bayoud: config: %v", err)
	}
	log.Printf("bayoud: config: %+v", cfg)

	var store storage.Store
	switch cfg.Storage.Backend {
	case "bolt":
		bolt, err := storage.OpenBoltStore(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("bayoud: open bolt store: %v", err)
		}
		defer bolt.Close()
		store = bolt
	default:
		store = storage.NewMemStore()
	}

	var locker clusterlock.Locker = clusterlock.NewLocalLocker()
	if cfg.ClusterLock.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("bayoud: connect redis: %v", err)
		}
		defer rdb.Close()
		locker = clusterlock.NewRedisLocker(rdb)
	}

	var exporter *events.Exporter
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("bayoud: connect kafka: %v", err)
		}
		defer producer.Close()
		exporter = events.NewExporter(producer, cfg.Kafka.Topic, events.DefaultExporterOptions)
	}

	var dir *directory.Directory
	if cfg.Mysql.DSN != "" {
		dir, err = directory.Open(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("bayoud: open directory: %v", err)
		}
	}

	registry := doccomplex.NewRegistry(store, doccomplex.Options{
		FormatVersion: cfg.FormatVersion,
		IdleThreshold: cfg.Caret.IdleThreshold,
		ReapInterval:  cfg.Caret.ReapInterval,
		Locker:        locker,
		LockTTL:       cfg.ClusterLock.LeaseTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, docId := range cfg.Preload {
		dc, err := registry.Open(ctx, docId)
		if err != nil {
			log.Printf("bayoud: preload %s: %v", docId, err)
			continue
		}
		log.Printf("bayoud: preloaded %s, status=%s", docId, dc.Status)
		if exporter != nil {
			publishLifecycleEvent(ctx, exporter, docId, "opened")
		}
	}
	if dir != nil {
		log.Printf("bayoud: document directory connected")
	}

	log.Printf("bayoud: engine ready, storage=%s, preloaded=%d", cfg.Storage.Backend, len(cfg.Preload))

	<-ctx.Done()
	log.Printf("bayoud: shutting down")

	for _, docId := range cfg.Preload {
		registry.Evict(context.Background(), docId)
	}
}

func publishLifecycleEvent(ctx context.Context, exporter *events.Exporter, docId, kind string) {
	if err := exporter.Publish(ctx, events.ChangeEvent{DocId: docId, Stream: kind, Timestamp: time.Now().UnixMilli()}); err != nil {
		log.Printf("bayoud: publish %s event for %s: %v", kind, docId, err)
	}
}
