package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrixtest"
	"github.com/StayAlive96/Bitrix-task-bot/internal/config"
	"github.com/StayAlive96/Bitrix-task-bot/internal/logger"
)

var (
	addr          = flag.String("addr", "127.0.0.1:8081", "Listen address.")
	resolved      = flag.Bool("resolved", false, "Return file ID right away instead of uploadUrl.")
	rejectCreator = flag.Bool("reject-creator", false, "Reject tasks with CREATED_BY.")
	verbose       = flag.Bool("v", false, "Enable debug logging.")
)

// Локальный портал Bitrix24 для ручной проверки бота и diskupload.
func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger.SetupDefault(config.Logger{Level: level, Plaintext: true})

	portal := bitrixtest.New()
	if *resolved {
		portal.SetSlotMode(bitrixtest.SlotResolved)
	}
	portal.RejectCreatedBy(*rejectCreator)

	server := &http.Server{
		Addr:              *addr,
		Handler:           logger.HTTPLogging(slog.Default(), portal),
		ReadHeaderTimeout: 3 * time.Second,
	}

	slog.Info("fake bitrix started", "addr", *addr, "webhook", portal.WebhookBase("http://"+*addr))
	log.Fatal(server.ListenAndServe())
}
