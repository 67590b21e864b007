// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/vidshrink/internal/api"
	"github.com/ZSC714725/vidshrink/internal/config"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg"
	"github.com/ZSC714725/vidshrink/internal/history"
	"github.com/ZSC714725/vidshrink/internal/job"
	"github.com/ZSC714725/vidshrink/internal/logger"
	"github.com/ZSC714725/vidshrink/internal/runlock"
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML or TOML config file")
	bind := flag.String("bind", "", "Bind address (overrides config)")
	ffmpegBin := flag.String("ffmpeg", "", "FFmpeg binary path (overrides config)")
	ffprobeBin := flag.String("ffprobe", "", "FFprobe binary path (overrides config)")
	noHistory := flag.Bool("no-history", false, "Do not record results in the history database")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Load config: %v", err)
		}
	}

	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if *ffmpegBin != "" {
		cfg.FFmpeg.Path = *ffmpegBin
	}
	if *ffprobeBin != "" {
		cfg.FFmpeg.FFprobe = *ffprobeBin
	}

	logger, err := logger.NewWithConfig("vidshrink", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Logger: %v", err)
	}

	validator, err := ffmpeg.NewValidator(cfg.FFmpeg.InputAllow, cfg.FFmpeg.InputBlock)
	if err != nil {
		log.Fatalf("Input validator: %v", err)
	}

	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:         cfg.FFmpeg.Path,
		ProbeBinary:    cfg.FFmpeg.FFprobe,
		MaxLogLines:    cfg.FFmpeg.MaxLogLines,
		StaleTimeout:   cfg.FFmpeg.StaleTimeoutDuration(),
		ValidatorInput: validator,
	})
	if err != nil {
		log.Fatalf("FFmpeg init: %v", err)
	}

	settings := cfg.Shrink.Settings()
	encoder := shrink.NewEncoder(ff, settings, logger.With("module", "encoder"))
	shrinker, err := shrink.New(ff, encoder, settings, logger.With("module", "shrink"))
	if err != nil {
		log.Fatalf("Shrinker: %v", err)
	}

	var hist *history.Store
	if !*noHistory {
		if err := cfg.EnsureStateDir(); err != nil {
			log.Fatalf("State dir: %v", err)
		}
		hist, err = history.Open(cfg.HistoryPath())
		if err != nil {
			log.Fatalf("History: %v", err)
		}
		defer hist.Close()
	}

	jobCfg := job.Config{
		Shrinker:         shrinker,
		ValidateInput:    ff.ValidateInput,
		HWAccelAvailable: func() bool { return ff.HWAccelAvailable(settings.HWVideoCodec) },
		Active:           encoder.Active,
		Lock:             runlock.New(cfg.LockPath()),
		Logger:           logger.With("module", "job"),
		LogLines:         cfg.FFmpeg.MaxLogLines,
	}
	var lister api.HistoryLister
	if hist != nil {
		jobCfg.Recorder = hist
		lister = hist
	}
	store, err := job.NewStore(jobCfg)
	if err != nil {
		log.Fatalf("Job store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go store.Run(ctx)

	handler := api.NewHandler(store, ff, settings, lister, logger.With("module", "api"))

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors.Default())
	handler.Register(r)

	srv := &http.Server{Addr: cfg.Server.Bind, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("VidShrink listening on %s (ffmpeg %s, hwaccel usable: %t)",
		cfg.Server.Bind, ff.Skills().FFmpeg.Version, ff.HWAccelAvailable(settings.HWVideoCodec))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server: %v", err)
		os.Exit(1)
	}
}
