package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"callcoach/audio"
	"callcoach/config"
	"callcoach/conversation"
	"callcoach/doctor"
	"callcoach/log"
	"callcoach/server"
	"callcoach/shutdown"
	"callcoach/suggest"
	"callcoach/transcriber"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		config.Usage(os.Stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.Version {
		fmt.Printf("callcoach %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if cfg.Verbose {
		log.MirrorTo(os.Stderr)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if cfg.Profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", cfg.Profile)
			if err := http.ListenAndServe(cfg.Profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if cfg.Doctor {
		return doctor.Run(cfg)
	}

	for _, w := range cfg.Warnings() {
		log.Warn(w)
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	var actx audio.Context
	if cfg.TestAudio != "" {
		actx, err = audio.NewFakeContextFromWAV(cfg.TestAudio, true)
	} else {
		actx, err = audio.NewContext()
	}
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	dg := transcriber.NewDeepgram(cfg.DeepgramKey, transcriber.StreamConfig{
		SampleRate:    audio.SampleRate,
		Channels:      audio.Channels,
		Language:      cfg.Language,
		Model:         cfg.DeepgramModel,
		EndpointingMs: cfg.EndpointingMs,
		Diarize:       true,
	})

	var svc suggest.Service
	if cfg.GeminiKey != "" {
		g, err := suggest.NewGemini(context.Background(), suggest.GeminiConfig{
			APIKey: cfg.GeminiKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			log.Errorf("suggestions disabled: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: suggestions disabled: %v\n", err)
		} else {
			go g.Warm()
			svc = g
		}
	}

	asst := newAssistant(assistantConfig{
		Audio:     actx,
		Dial:      dg.Dial,
		Provider:  dg.Name(),
		Suggester: svc,
		Buffer: conversation.NewBuffer(conversation.Config{
			Window:             cfg.Window,
			TriggerPhrases:     cfg.TriggerPhrases(),
			DisableSpeakerRule: !cfg.SpeakerRule,
		}),
		Device:            cfg.Device,
		FrameDuration:     cfg.FrameDuration,
		Gain:              cfg.Gain,
		Playbook:          cfg.Playbook,
		MaxItems:          cfg.MaxSuggestions,
		SuggestTimeout:    cfg.SuggestTimeout,
		Cooldown:          cfg.Cooldown,
		MinTextLen:        cfg.MinTextLen,
		ContextUtterances: cfg.ContextUtterances,
	})
	srv := server.New(asst, server.Config{})
	asst.events = srv

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe(cfg.Addr) }()
	fmt.Fprintf(os.Stderr, "callcoach %s listening on ws://%s/ws\n", version, cfg.Addr)

	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)

	code := 0
	select {
	case s := <-sig:
		log.Infof("received %v, shutting down", s)
	case err := <-serveErr:
		if err != nil {
			log.Errorf("server: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
		}
	}

	asst.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("server shutdown: %v", err)
	}
	return code
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}
