package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/simracekit/pitwall/internal/cache"
	"github.com/simracekit/pitwall/internal/config"
	"github.com/simracekit/pitwall/internal/db"
	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/ingest"
	"github.com/simracekit/pitwall/internal/lap"
	"github.com/simracekit/pitwall/internal/live"
	"github.com/simracekit/pitwall/internal/udp"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "pitwall",
		Usage:   "Sim-racing lap telemetry ingestion",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(database, cfg),
			scanCmd(database, cfg),
			importCmd(database, cfg),
			lapsCmd(database),
			tracksCmd(database),
			statusCmd(database, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd starts the ingestion loop and the UDP listener.
func runCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the ingestion loop and (if enabled) the live UDP listener until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "Telemetry root to watch (overrides config)"},
			&cli.IntFlag{Name: "udp-port", Usage: "UDP listen port (overrides config)"},
			&cli.BoolFlag{Name: "no-udp", Usage: "Disable the live UDP listener"},
		},
		Action: func(c *cli.Context) error {
			runCfg := *cfg
			if root := c.String("root"); root != "" {
				runCfg.TelemetryRoot = root
			}
			if port := c.Int("udp-port"); port != 0 {
				runCfg.UDPPort = port
			}
			udpEnabled := runCfg.UDPListenerEnabled() && !c.Bool("no-udp")

			if runCfg.TelemetryRoot == "" && !udpEnabled {
				return outputError(errors.NewInvalidRequest("nothing to run: no telemetry root configured and UDP disabled"))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			state := live.New()
			var wg sync.WaitGroup
			var listener *udp.Listener
			var svc *ingest.Service

			if udpEnabled {
				l, err := udp.NewListener(runCfg.UDPPort, state)
				if err != nil {
					return outputError(err)
				}
				listener = l
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.Run(ctx); err != nil {
						fmt.Fprintf(os.Stderr, "udp listener stopped: %v\n", err)
						stop()
					}
				}()
			}

			if runCfg.TelemetryRoot != "" {
				store, err := cache.New(database, runCfg.CacheDir, runCfg.CacheKeepVersions)
				if err != nil {
					return outputError(err)
				}
				svc = ingest.New(database, &runCfg, store, state)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := svc.Run(ctx); err != nil {
						fmt.Fprintf(os.Stderr, "ingest loop stopped: %v\n", err)
						stop()
					}
				}()
			}

			wg.Wait()

			summary := map[string]any{}
			if svc != nil {
				summary["run_id"] = svc.RunID()
				summary["ingest"] = svc.Counters()
			}
			if listener != nil {
				summary["udp"] = listener.Counters()
			}
			return outputJSON(summary)
		},
	}
}

// scanCmd runs one discovery cycle.
func scanCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Run one discovery cycle over the telemetry root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "Telemetry root to scan (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			scanCfg := *cfg
			if root := c.String("root"); root != "" {
				scanCfg.TelemetryRoot = root
			}
			if scanCfg.TelemetryRoot == "" {
				return outputError(errors.NewInvalidRequest("no telemetry root configured"))
			}

			store, err := cache.New(database, scanCfg.CacheDir, scanCfg.CacheKeepVersions)
			if err != nil {
				return outputError(err)
			}
			svc := ingest.New(database, &scanCfg, store, nil)

			// Two cycles so files stable since before the first are
			// ingested, not just observed
			for i := 0; i < 2; i++ {
				if err := svc.ScanOnce(c.Context); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(map[string]any{
				"run_id": svc.RunID(),
				"ingest": svc.Counters(),
			})
		},
	}
}

// importCmd ingests a single file immediately.
func importCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import one export file now, bypassing the stability window",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("import requires exactly one file argument"))
			}
			absPath, err := filepath.Abs(c.Args().First())
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			store, err := cache.New(database, cfg.CacheDir, cfg.CacheKeepVersions)
			if err != nil {
				return outputError(err)
			}
			svc := ingest.New(database, cfg, store, nil)

			rec, err := svc.ImportFile(absPath, rootRelative(cfg.TelemetryRoot, absPath))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(rec)
		},
	}
}

// lapsCmd queries the lap store.
func lapsCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "laps",
		Usage: "List persisted laps ordered by timestamp",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "track", Aliases: []string{"t"}, Usage: "Filter by track name"},
			&cli.StringFlag{Name: "driver", Aliases: []string{"d"}, Usage: "Filter by driver name"},
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Filter by session type: r|q|p"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum rows returned"},
		},
		Action: func(c *cli.Context) error {
			filter := db.LapFilter{
				Track:  c.String("track"),
				Driver: c.String("driver"),
				Limit:  c.Int("limit"),
			}
			if s := c.String("session"); s != "" {
				st := lap.SessionType(strings.ToUpper(s))
				switch st {
				case lap.SessionRace, lap.SessionQualifying, lap.SessionPractice:
					filter.SessionType = st
				default:
					return outputError(errors.NewInvalidRequest("session must be one of r, q, p"))
				}
			}

			laps, err := db.ListLaps(database, filter)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(laps)
		},
	}
}

// tracksCmd lists distinct tracks with lap counts.
func tracksCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "List tracks with their lap counts",
		Action: func(c *cli.Context) error {
			counts, err := db.TrackCounts(database)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(counts)
		},
	}
}

// statusCmd summarizes the store and cache index.
func statusCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show store and cache index totals",
		Action: func(c *cli.Context) error {
			lapCount, err := db.CountLaps(database)
			if err != nil {
				return outputError(err)
			}
			cacheStats, err := db.CachedFileStats(database)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"laps":           lapCount,
				"cache":          cacheStats,
				"telemetry_root": cfg.TelemetryRoot,
				"udp_enabled":    cfg.UDPListenerEnabled(),
				"udp_port":       cfg.UDPPort,
			})
		},
	}
}

// rootRelative derives the index path for a file: relative to the
// telemetry root when it lives under it, else just its base name.
func rootRelative(root, absPath string) string {
	if root != "" {
		if absRoot, err := filepath.Abs(root); err == nil {
			if rel, err := filepath.Rel(absRoot, absPath); err == nil && !strings.HasPrefix(rel, "..") {
				return filepath.ToSlash(rel)
			}
		}
	}
	return filepath.Base(absPath)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if pErr, ok := err.(*errors.PitwallError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
