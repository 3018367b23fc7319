package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ferris-cabinet/internal/api"
	"ferris-cabinet/internal/config"
	"ferris-cabinet/internal/display"
	"ferris-cabinet/internal/game"
	"ferris-cabinet/internal/nfc"
	"ferris-cabinet/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🦀 ================================")
	log.Println("🦀  FERRIS CABINET")
	log.Println("🦀  NFC identification + scene")
	log.Println("🦀 ================================")

	appConfig := config.Load()
	sceneCfg := appConfig.Scene
	nfcCfg := appConfig.NFC
	serverCfg := appConfig.Server

	log.Printf("🎮 Config: %d TPS, %dx%d world", sceneCfg.TickRate, sceneCfg.Width, sceneCfg.Height)

	// Identification: reader + directory
	var (
		reader    nfc.TagReader
		tapper    api.TagTapper
		directory nfc.UserDirectory
		users     api.UserStore
		localDir  *store.SQLiteDirectory
		onChange  func(tag nfc.TagID)
		dirStats  func() nfc.CacheStats
	)

	switch nfcCfg.Reader {
	case config.ReaderManual:
		manual := nfc.NewManualReader()
		reader, tapper = manual, manual
		log.Println("🏷️ NFC reader: manual (POST /api/nfc/tap)")
	case config.ReaderAgent:
		reader = nfc.NewAgentReader(nfc.AgentReaderConfig{URL: nfcCfg.AgentURL})
		log.Printf("🏷️ NFC reader: agent at %s", nfcCfg.AgentURL)
	case config.ReaderOff:
		log.Println("⚠️ NFC identification disabled")
	default:
		log.Fatalf("Unknown NFC_READER %q (manual, agent, off)", nfcCfg.Reader)
	}

	if reader != nil {
		switch nfcCfg.Directory {
		case config.DirectorySQLite:
			dir, err := store.OpenSQLiteDirectory(nfcCfg.DBPath)
			if err != nil {
				log.Fatalf("Failed to open directory: %v", err)
			}
			localDir = dir
			directory, users = dir, dir
			log.Printf("📇 Directory: sqlite (%s)", nfcCfg.DBPath)
		case config.DirectoryHTTP:
			if nfcCfg.DirectoryURL == "" {
				log.Fatal("DIRECTORY_URL is required for the http directory")
			}
			directory = nfc.NewHTTPDirectory(nfcCfg.DirectoryURL, nfcCfg.DirectoryToken)
			log.Printf("📇 Directory: http (%s)", nfcCfg.DirectoryURL)
		default:
			log.Fatalf("Unknown DIRECTORY %q (sqlite, http)", nfcCfg.Directory)
		}

		if nfcCfg.CacheTTL > 0 {
			cached := nfc.NewCachedDirectory(directory, nfcCfg.CacheTTL)
			directory = cached
			onChange = cached.Invalidate
			dirStats = cached.Stats
			log.Printf("📇 Directory cache: %v", nfcCfg.CacheTTL)
		}
	}

	// WebSocket hub is shared by the engine (display pushes) and the API
	hub := api.NewWebSocketHub(api.NewOriginPolicy(serverCfg.CORSOrigins))

	engineCfg := game.EngineConfig{
		TickRate:        sceneCfg.TickRate,
		WorldWidth:      float64(sceneCfg.Width),
		WorldHeight:     float64(sceneCfg.Height),
		Observer:        api.NFCMetrics{},
		OnDisplayChange: hub.PublishDisplay,
		OnTick:          api.RecordTick,
	}
	if reader != nil {
		engineCfg.Identification = nfc.NewDriver(reader, directory, nfc.DriverConfig{
			ScanWindow:    nfcCfg.ScanWindow,
			LookupTimeout: nfcCfg.LookupTimeout,
		})
		log.Printf("🏷️ Scan window %v, lookup timeout %v", nfcCfg.ScanWindow, nfcCfg.LookupTimeout)
	}
	engine := game.NewEngine(engineCfg)

	// Start event log
	if err := engine.StartEventLog(nfcCfg.EventLogPath); err != nil {
		log.Printf("⚠️ Event log disabled: %v", err)
	} else if nfcCfg.EventLogPath != "" {
		log.Printf("📝 Event log: %s", nfcCfg.EventLogPath)
	}

	// Start debug server
	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = serverCfg.DebugEnabled
	debugCfg.ListenAddr = serverCfg.DebugAddr
	if err := api.StartDebugServer(debugCfg); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	// Display frame
	var renderer api.FrameRenderer
	if r, err := display.NewRenderer(display.RendererConfig{
		Width:   sceneCfg.Width,
		Height:  sceneCfg.Height,
		Avatars: display.NewAvatarCache(display.DefaultMaxAvatars),
	}); err != nil {
		log.Printf("⚠️ Display frame disabled: %v", err)
	} else {
		renderer = r
	}

	server := api.NewServer(api.RouterConfig{
		Engine:         engine,
		Tapper:         tapper,
		Users:          users,
		OnUserChange:   onChange,
		DirectoryStats: dirStats,
		Renderer:       renderer,
		AdminToken:     serverCfg.AdminToken,
		CORSOrigins:    serverCfg.CORSOrigins,
		StaticFilesDir: serverCfg.StaticFilesDir,
	}, hub)

	// Start engine
	engine.Start()
	log.Println("✅ Engine started")

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Cabinet ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	engine.Stop()
	engine.StopEventLog()
	if reader != nil {
		reader.Close()
	}
	if localDir != nil {
		localDir.Close()
	}
	log.Println("👋 Goodbye!")
}
