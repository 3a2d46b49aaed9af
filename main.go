package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"script2video-pipeline/config"
	"script2video-pipeline/gen"
	"script2video-pipeline/media"
	"script2video-pipeline/pipeline"
	"script2video-pipeline/ratelimit"
	"script2video-pipeline/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline config file")
	scriptPath := flag.String("script", "", "path to a finished script (script-to-video mode)")
	idea := flag.String("idea", "", "one-line idea to write a script from (idea-to-video mode)")
	requirement := flag.String("requirement", "", "extra creative requirements passed to every planning step")
	flag.Parse()

	// .env is local dev convenience; real deployments set the variables
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	if (*scriptPath == "") == (*idea == "") {
		log.Fatal().Msg("exactly one of -script or -idea is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	runID := uuid.NewString()[:8]
	log = log.With().Str("run_id", runID).Logger()

	ws, err := store.Open(cfg.WorkingDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open working dir")
	}
	log.Info().Str("working_dir", ws.Root()).Msg("pipeline starting")

	text, err := gen.NewTextGenerator(cfg.ChatModel, limiterFor(cfg.ChatModel, "chat", log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct text generator")
	}
	images, err := gen.NewImageGenerator(cfg.ImageGenerator, limiterFor(cfg.ImageGenerator, "image", log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct image generator")
	}
	videos, err := gen.NewVideoGenerator(cfg.VideoGenerator, limiterFor(cfg.VideoGenerator, "video", log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct video generator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, ws, text, images, videos, &media.FFmpeg{}, log)

	started := time.Now()
	var finalPath string
	if *idea != "" {
		finalPath, err = p.IdeaToVideo(ctx, *idea, *requirement)
	} else {
		script, readErr := os.ReadFile(*scriptPath)
		if readErr != nil {
			log.Fatal().Err(readErr).Msg("failed to read script")
		}
		finalPath, err = p.Run(ctx, string(script), *requirement)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline failed")
	}

	log.Info().Str("path", finalPath).Dur("elapsed", time.Since(started)).Msg("final video ready")
	fmt.Println(finalPath)
}

func limiterFor(svc config.ServiceConfig, name string, log zerolog.Logger) *ratelimit.RateLimiter {
	return ratelimit.New(svc.MaxRequestsPerMinute, svc.MaxRequestsPerDay, log.With().Str("limiter", name).Logger())
}
