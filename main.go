package main

import (
	"context"
	"log"
	"path/filepath"

	"github.com/joho/godotenv"

	"llhls/config"
	"llhls/httpServer"
	"llhls/internal/auth"
	"llhls/internal/dump"
	"llhls/internal/dumpstore"
	"llhls/internal/masterplaylist"
	"llhls/internal/metrics"
	"llhls/internal/registry"
	"llhls/internal/rtmp"
	"llhls/internal/stream"
)

func main() {
	log.Println("Starting LL-HLS publisher...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.Load()
	log.Printf("HTTP server: %s", cfg.HTTPAddr)
	log.Printf("RTMP ingest: %s (public: %s)", cfg.RTMPAddr, cfg.RTMPIngestAddr)

	m := metrics.New()
	log.Println("Prometheus metrics initialized")

	opener := dumpStorageOpener(cfg)

	reg := registry.New(opener, nil)
	reg.SetMetrics(m)
	reg.SetMaxStreams(cfg.MaxConcurrentStreams)
	log.Println("Stream registry initialized")

	authManager := auth.New(cfg.DefaultTokenExpiration, cfg.MaxTokenExpiration)
	log.Println("Auth manager initialized")

	streamConfig := stream.Config{
		ChunkDurationMs:        cfg.ChunkDurationMs,
		SegmentDurationMs:      cfg.SegmentDurationMs,
		MaxSegments:            cfg.MaxSegments,
		ConfiguredPartHoldBack: cfg.PartHoldBackSec,
		ChunklistPathDepth:     masterplaylist.PathDepth(cfg.ChunklistPathDepth),
	}

	httpSrv := httpServer.New(reg, authManager, m, cfg.RTMPIngestAddr)
	log.Printf("HTTP server ready to start on %s", cfg.HTTPAddr)

	rtmpSrv := rtmp.New(cfg.RTMPAddr, reg, authManager, streamConfig)
	rtmpSrv.SetMetrics(m)
	go func() {
		log.Printf("Starting RTMP ingest server on %s...", cfg.RTMPAddr)
		if err := rtmpSrv.ListenAndServe(); err != nil {
			log.Fatalf("RTMP server failed: %v", err)
		}
	}()

	log.Println("LL-HLS publisher started successfully")
	log.Println("---")
	log.Println("HTTP endpoints:")
	log.Println("  GET    /api/ping")
	log.Println("  POST   /api/v1/publish")
	log.Println("  GET    /api/v1/streams")
	log.Println("  GET    /api/v1/streams/:app/:name")
	log.Println("  POST   /api/v1/streams/:app/:name/stop")
	log.Println("  POST   /api/v1/streams/:app/:name/dumps")
	log.Println("  DELETE /api/v1/streams/:app/:name/dumps/:id")
	log.Println("  GET    /metrics")
	log.Println("---")

	if err := httpSrv.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

// dumpStorageOpener builds the dump.StorageOpener for cfg's configured
// backend: GCS dumps resolve output_path as an object-name prefix
// within the configured bucket, local dumps are rooted under
// cfg.DumpLocalRoot.
func dumpStorageOpener(cfg *config.Config) dump.StorageOpener {
	return func(outputPath string) (dumpstore.Storage, error) {
		if cfg.DumpStorageType == "gcs" {
			return dumpstore.NewGCSStorage(context.Background(), cfg.GCSBucketName, outputPath)
		}
		return dumpstore.NewLocalStorage(filepath.Join(cfg.DumpLocalRoot, outputPath))
	}
}
