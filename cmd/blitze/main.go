// Command blitze mounts a folder of .tar.gz archives as a read-only FUSE
// filesystem and/or serves it over a line-oriented TCP query surface,
// wiring together the Catalog, Extraction Cache, and VFS Adapter.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/blitze-fs/blitze/internal/catalog"
	"github.com/blitze-fs/blitze/internal/config"
	"github.com/blitze-fs/blitze/internal/extract"
	"github.com/blitze-fs/blitze/internal/indexer"
	"github.com/blitze-fs/blitze/internal/logger"
	"github.com/blitze-fs/blitze/internal/metrics"
	"github.com/blitze-fs/blitze/internal/query"
	"github.com/blitze-fs/blitze/internal/store"
	"github.com/blitze-fs/blitze/internal/tcpserver"
	"github.com/blitze-fs/blitze/internal/vfsadapter"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "blitze input-folder mount-point",
	Short: "Mount a folder of tar.gz archives as a read-only filesystem",
	Long: `blitze exposes the contents of a directory of gzipped tar archives as a
read-only, browsable hierarchy -- both through a kernel-mounted FUSE
filesystem and through a line-oriented TCP protocol -- without ever
pre-extracting anything to disk.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	if err := config.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	mountPoint := ""
	if len(args) == 2 {
		mountPoint = args[1]
	}
	cfg, err := config.Load(cfgFile, args[0], mountPoint)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.LogFormat, cfg.LogSeverity, cfg.LogFile, logger.DefaultRotateConfig()); err != nil {
		return err
	}
	log := logger.Slog()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("blitze: opening store: %w", err)
	}
	defer s.Close()

	cat := catalog.New(s, cfg.InputFolder, log)
	cache, err := extract.New(cfg.CacheDir, log)
	if err != nil {
		return fmt.Errorf("blitze: opening extraction cache: %w", err)
	}

	m := metrics.New()
	cache.OnHit = m.CacheHits.Inc
	cache.OnMiss = m.CacheMisses.Inc

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := indexExistingArchives(cat, cfg.InputFolder, m, log); err != nil {
		log.Error("blitze: initial index pass failed", "error", err)
	}

	indexLoop := indexer.New(cat, log)
	indexLoop.OnIndexed(func(desc catalog.ArchiveDescriptor, n int) {
		m.ArchivesIndexed.Inc()
		m.EntriesIndexed.Add(float64(n))
		if stats, err := cat.Stats(); err == nil {
			m.LastIno.Set(float64(stats.LastIno))
		}
	})
	changes, err := watchFolder(ctx, cfg.InputFolder, 500*time.Millisecond, log)
	if err != nil {
		log.Error("blitze: watch folder failed, changes will not be picked up", "error", err)
	} else {
		go indexLoop.Run(ctx, changes)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("blitze: metrics listener failed", "error", err)
			}
		}()
	}

	var tcpSrv *tcpserver.Server
	if !cfg.OnlyFUSE {
		handler := query.New(cat, cache, log)
		tcpSrv = tcpserver.New(cfg.TCPAddr, handler, log)
		tcpSrv.OnCommand = func(command string) { m.TCPCommands.WithLabelValues(command).Inc() }
		go func() {
			if err := tcpSrv.ListenAndServe(); err != nil {
				log.Error("blitze: tcp server stopped", "error", err)
			}
		}()
	}

	if cfg.OnlyTCP {
		<-ctx.Done()
		if tcpSrv != nil {
			_ = tcpSrv.Close()
		}
		return nil
	}

	if err := os.MkdirAll(cfg.MountPoint, 0o755); err != nil {
		return fmt.Errorf("blitze: creating mount point: %w", err)
	}

	adapter := vfsadapter.New(cat, cache, log)
	mountCfg := &fuse.MountConfig{
		FSName:   "blitze",
		Subtype:  "blitze",
		ReadOnly: true,
	}

	mfs, err := fuse.Mount(cfg.MountPoint, fuseutil.NewFileSystemServer(adapter), mountCfg)
	if err != nil {
		return fmt.Errorf("blitze: mount: %w", err)
	}

	go func() {
		<-ctx.Done()
		// jacobsa/fuse exposes no public Unmount call; shelling out to
		// fusermount is what it does internally on Linux to tear down a
		// mount, so the shutdown path does the same.
		if err := exec.Command("fusermount", "-u", cfg.MountPoint).Run(); err != nil {
			log.Error("blitze: unmount failed", "error", err)
		}
	}()

	return mfs.Join(context.Background())
}

// indexExistingArchives walks the input folder once at startup so archives
// already present before the watcher starts are catalogued immediately.
func indexExistingArchives(cat *catalog.Catalog, inputFolder string, m *metrics.Metrics, log *slog.Logger) error {
	entries, err := os.ReadDir(inputFolder)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(inputFolder, e.Name())
		desc, err := cat.Catalog(path)
		if err != nil {
			var skip *catalog.SkipError
			if errors.As(err, &skip) {
				log.Warn("blitze: skipped at startup", "path", path, "reason", skip.Reason)
				continue
			}
			log.Error("blitze: initial catalog failed", "path", path, "error", err)
			continue
		}
		members, err := cat.Entries(desc.LeafName)
		if err != nil {
			continue
		}
		m.ArchivesIndexed.Inc()
		m.EntriesIndexed.Add(float64(len(members)))
	}
	if stats, err := cat.Stats(); err == nil {
		m.LastIno.Set(float64(stats.LastIno))
	}
	return nil
}
