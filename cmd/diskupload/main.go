package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
	"github.com/StayAlive96/Bitrix-task-bot/internal/config"
	"github.com/StayAlive96/Bitrix-task-bot/internal/loader"
	"github.com/StayAlive96/Bitrix-task-bot/internal/logger"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
	"github.com/StayAlive96/Bitrix-task-bot/internal/uploader"
)

const maxDownloadBytes = 200 * 1024 * 1024

var (
	folderID = flag.Int64("folder", 0, "Bitrix24 disk folder ID (default BITRIX_DISK_FOLDER_ID).")
	attempts = flag.Int("attempts", 0, "Max attempts per file (default BITRIX_UPLOAD_MAX_ATTEMPTS).")
	parallel = flag.Int("parallel", 0, "Files uploaded at once (default BITRIX_UPLOAD_PARALLELISM).")
	verbose  = flag.Bool("v", false, "Enable debug logging.")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] FILE|URL...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "files or URLs required")
		flag.Usage()
		os.Exit(1)
	}

	godotenv.Load()

	cfg, err := config.LoadTool()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if *verbose {
		cfg.Logger.Level = slog.LevelDebug
	}
	slog.SetDefault(logger.New(cfg.Logger, os.Stderr))

	if *folderID != 0 {
		cfg.Bitrix.DiskFolderID = *folderID
	}
	if cfg.Bitrix.DiskFolderID == 0 {
		fmt.Fprintln(os.Stderr, "folder ID required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	files, cleanup, err := collect(ctx, args)
	if err != nil {
		log.Fatalln(err)
	}
	defer cleanup()

	client, err := bitrix.New(bitrix.Config{
		WebhookBase: cfg.Bitrix.WebhookBase,
		Timeout:     cfg.Bitrix.HTTPTimeout,
		RateLimit:   cfg.Bitrix.RateLimit,
		RateBurst:   cfg.Bitrix.RateBurst,
	})
	if err != nil {
		log.Fatalf("create bitrix client failed: %v", err)
	}
	defer client.CloseIdleConnections()

	upl := uploader.New(client, uploader.Config{
		UploadTimeout:    cfg.Upload.Timeout,
		UploadURLTimeout: cfg.Upload.URLTimeout,
		ProbeTimeout:     cfg.Upload.ProbeTimeout,
		FinalTimeout:     cfg.Upload.FinalTimeout,
		MaxAttempts:      cfg.Upload.MaxAttempts,
		Parallelism:      cfg.Upload.Parallelism,
	})

	outcome := upl.Upload(ctx, uploader.Batch{
		FolderID:    cfg.Bitrix.DiskFolderID,
		Files:       files,
		MaxAttempts: *attempts,
		Parallelism: *parallel,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(outcome); err != nil {
		log.Fatalf("write outcome failed: %v", err)
	}

	if len(outcome.Failed) > 0 {
		cleanup()
		os.Exit(2)
	}
}

// collect собирает файлы для загрузки: локальные пути берутся как есть,
// URL скачиваются во временный каталог.
func collect(ctx context.Context, args []string) ([]model.RemoteFile, func(), error) {
	var (
		files []model.RemoteFile
		reqs  []loader.Request
		index []int // позиции скачиваемых файлов в files
	)

	tmpDir, err := os.MkdirTemp("", "diskupload-")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir failed: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			index = append(index, len(files))
			files = append(files, model.RemoteFile{})
			reqs = append(reqs, loader.Request{URL: arg, Dir: tmpDir})
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("stat file failed: %w", err)
		}
		if info.IsDir() {
			cleanup()
			return nil, nil, fmt.Errorf("%s is a directory", arg)
		}
		files = append(files, model.RemoteFile{
			LocalPath:   arg,
			DisplayName: filepath.Base(arg),
			Size:        info.Size(),
		})
	}

	if len(reqs) > 0 {
		ldr := loader.New(http.DefaultClient, maxDownloadBytes)
		saved, err := ldr.SaveAll(ctx, reqs)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("download failed: %w", err)
		}
		for i, f := range saved {
			files[index[i]] = f
		}
	}

	return files, cleanup, nil
}
