package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/veliu/trackcache/internal/audio"
	"github.com/veliu/trackcache/internal/config"
	"github.com/veliu/trackcache/internal/engine"
	"github.com/veliu/trackcache/internal/model"
)

func main() {
	// Command line flags
	var (
		idFlag      = flag.String("id", "", "Track id to resolve")
		sourceFlag  = flag.String("source", "", "Track source (youtube, audius, jamendo, archive; empty tries all)")
		configFlag  = flag.String("config", "", "Path to config file")
		cacheFlag   = flag.String("cache-dir", "", "Cache directory (overrides config)")
		titleFlag   = flag.String("title", "", "Track title for ID3 tagging")
		artistFlag  = flag.String("artist", "", "Track artist for ID3 tagging")
		waitFlag    = flag.Bool("wait", false, "Wait until the track is fully cached before exiting")
		exportFlag  = flag.String("export", "", "Export a playlist of cached tracks after resolving (m3u or pls)")
		cleanupFlag = flag.Bool("cleanup", false, "Delete the session cache on exit")
		verboseFlag = flag.Bool("verbose", false, "Show verbose output")
	)

	flag.Parse()

	// Accept a positional "source:id" as well
	if *idFlag == "" && flag.NArg() > 0 {
		source, id, found := strings.Cut(flag.Arg(0), ":")
		if found {
			*sourceFlag = source
			*idFlag = id
		} else {
			*idFlag = flag.Arg(0)
		}
	}

	if *idFlag == "" {
		fmt.Println("trackcache - Resolve and progressively cache audio streams")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  trackcache-cli -id <track-id> [-source <source>] [options]")
		fmt.Println("  trackcache-cli <source>:<track-id> [options]")
		fmt.Println()
		fmt.Println("For interactive mode, use: trackcache-tui")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	key := model.TrackKey{ID: *idFlag, Source: model.Source(*sourceFlag)}
	switch key.Source {
	case model.SourceYouTube, model.SourceAudius, model.SourceJamendo, model.SourceArchive, model.SourceUnknown:
	default:
		fmt.Fprintf(os.Stderr, "Unknown source %q\n", *sourceFlag)
		os.Exit(1)
	}

	// Load config
	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *cacheFlag != "" {
		settings.CacheDirCandidates = append([]string{*cacheFlag}, settings.CacheDirCandidates...)
	}

	// Handle interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, cancelling...")
		cancel()
	}()

	logger := zerolog.Nop()
	if *verboseFlag {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	eng, err := engine.New(settings, logger, func(event engine.StatusEvent) {
		if event.Level == engine.LevelVerbose && !*verboseFlag {
			return
		}

		prefix := "   "
		switch event.Level {
		case engine.LevelError:
			prefix = " x "
		case engine.LevelWarning:
			prefix = " ! "
		case engine.LevelSuccess:
			prefix = " + "
		case engine.LevelInfo:
			prefix = " > "
		}

		fmt.Println(prefix + event.Message)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	if *cleanupFlag {
		defer eng.Shutdown(context.Background())
	}

	meta := model.TrackMeta{Title: *titleFlag, Artist: *artistFlag}

	uri, err := eng.ResolveAudioURI(ctx, key, meta, nil)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nCancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error resolving %s: %v\n", key, err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(uri)

	if *waitFlag && strings.HasPrefix(uri, eng.CacheDir()) {
		if err := waitForCache(ctx, eng, key); err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nCancelled.")
				os.Exit(130)
			}
			fmt.Fprintf(os.Stderr, "Error while caching: %v\n", err)
			os.Exit(1)
		}
	}

	if *exportFlag != "" {
		format := audio.FormatM3U
		if strings.EqualFold(*exportFlag, "pls") {
			format = audio.FormatPLS
		}
		path, err := eng.ExportPlaylist(format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting playlist: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Playlist written to %s\n", path)
	}
}

// waitForCache polls cache progress until the track is complete. The engine's
// stall monitor handles resumption; this loop only reports.
func waitForCache(ctx context.Context, eng *engine.Engine, key model.TrackKey) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info := eng.GetCacheInfo(key)
		if info.IsFullyCached {
			fmt.Printf("\rFully cached (%s)          \n", humanize.Bytes(uint64(info.FileSize)))
			return nil
		}
		if !info.IsDownloading && info.Percentage == 0 && info.FileSize == 0 {
			return errors.New("download did not start")
		}

		speed := ""
		if info.DownloadSpeed > 0 {
			speed = fmt.Sprintf(" at %s/s", humanize.Bytes(uint64(info.DownloadSpeed)))
		}
		fmt.Printf("\r%5.1f%%  %s of ~%s%s          ",
			info.Percentage,
			humanize.Bytes(uint64(info.FileSize)),
			humanize.Bytes(uint64(info.TotalFileSize)),
			speed,
		)
	}
}
