// Command recordlogd keeps the last N newline-terminated records received
// over TCP and replies to every record with the retained history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fluxorio/recordlog/pkg/admin"
	"github.com/fluxorio/recordlog/pkg/appendlog"
	"github.com/fluxorio/recordlog/pkg/config"
	"github.com/fluxorio/recordlog/pkg/core"
	"github.com/fluxorio/recordlog/pkg/logsocket"
	"github.com/fluxorio/recordlog/pkg/observability/prometheus"
	"github.com/fluxorio/recordlog/pkg/recordlog"
	"github.com/fluxorio/recordlog/pkg/relay"
	"github.com/fluxorio/recordlog/pkg/tcp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML or JSON config file")
		daemonMode  = flag.Bool("d", false, "run as a service: production logging only")
		addr        = flag.String("addr", "", "socket listen address, overrides the config")
		printConfig = flag.Bool("print-config", false, "print the effective config as YAML and exit")
	)
	flag.Parse()

	cfg, err := config.LoadDaemon(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recordlogd: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Socket.Addr = *addr
	}
	if *daemonMode {
		cfg.Logging.Development = false
	}
	if *printConfig {
		if err := config.WriteYAML(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "recordlogd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := core.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recordlogd: logger: %v\n", err)
		os.Exit(1)
	}
	defer core.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Errorf("recordlogd: %v", err)
		core.Sync(logger)
		os.Exit(1)
	}
	if err := d.run(ctx); err != nil {
		logger.Errorf("recordlogd: %v", err)
		core.Sync(logger)
		os.Exit(1)
	}
}

// daemon wires the record log to its socket, admin, mirror and relay.
type daemon struct {
	cfg    config.Daemon
	logger core.Logger

	metrics *prometheus.Metrics
	log     *recordlog.Log
	handle  *recordlog.Handle
	store   *appendlog.FSStore
	mirror  *appendlog.Mirror
	relay   *relay.Relay
	socket  *logsocket.Server

	admin   *admin.Server
	adminLn net.Listener
}

func newDaemon(cfg config.Daemon, logger core.Logger) (d *daemon, err error) {
	d = &daemon{cfg: cfg, logger: logger, metrics: prometheus.NewMetrics()}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	observers := recordlog.MultiObserver{d.metrics}

	if cfg.Mirror.Enabled {
		storeCfg := appendlog.DefaultFSStoreConfig(cfg.Mirror.Dir)
		storeCfg.MaxSegmentBytes = cfg.Mirror.SegmentBytes
		storeCfg.Observer = d.metrics
		if cfg.Mirror.Fsync {
			storeCfg.Durability = appendlog.DurabilityFsync
		}
		if d.store, err = appendlog.NewFSStore(storeCfg); err != nil {
			return d, fmt.Errorf("mirror: %w", err)
		}
		d.mirror = appendlog.NewMirror(d.store, logger)
		observers = append(observers, d.mirror)
	}

	if cfg.Relay.Enabled {
		d.relay, err = relay.Connect(relay.Config{
			URL:       cfg.Relay.URL,
			Subject:   cfg.Relay.Subject,
			Name:      "recordlogd",
			OnPublish: d.metrics.RecordRelayPublish,
		}, logger)
		if err != nil {
			return d, fmt.Errorf("relay: %w", err)
		}
		observers = append(observers, d.relay)
	}

	d.log, err = recordlog.New(recordlog.Config{
		Capacity:      cfg.Log.Capacity,
		MaxRecordSize: cfg.Log.MaxRecordSize,
		Terminator:    cfg.Log.TerminatorByte(),
	}, recordlog.WithLogger(logger), recordlog.WithObserver(observers))
	if err != nil {
		return d, err
	}
	if d.handle, err = d.log.Open(); err != nil {
		return d, err
	}
	d.metrics.RegisterLog(d.log, time.Second)

	serverCfg := tcp.DefaultServerConfig(cfg.Socket.Addr)
	serverCfg.Workers = cfg.Socket.Workers
	serverCfg.MaxQueue = cfg.Socket.MaxQueue
	serverCfg.MaxConns = cfg.Socket.MaxConns
	serverCfg.ReadTimeout = cfg.Socket.ReadTimeout.Std()
	serverCfg.WriteTimeout = cfg.Socket.WriteTimeout.Std()
	d.socket = logsocket.New(d.handle, logsocket.Config{
		Server:            serverCfg,
		TimestampInterval: cfg.Socket.TimestampInterval.Std(),
	}, logger)
	d.metrics.RegisterSocket(d.socket.Metrics)

	if cfg.Admin.Enabled {
		if d.adminLn, err = net.Listen("tcp", cfg.Admin.Addr); err != nil {
			return d, fmt.Errorf("admin: %w", err)
		}
		adminCfg := admin.DefaultConfig(cfg.Admin.Addr)
		adminCfg.Terminator = d.log.Config().Terminator
		adminCfg.MaxRecordSize = d.log.Config().MaxRecordSize
		d.admin = admin.New(adminCfg, d.handle, d.metrics, d.socket.Metrics, logger)
	}
	return d, nil
}

// run serves until ctx is done or a server fails, then tears everything down.
func (d *daemon) run(ctx context.Context) error {
	defer d.close()

	if d.mirror != nil && d.cfg.Mirror.Replay {
		n, err := d.mirror.Replay(ctx, d.handle, d.cfg.Log.Capacity)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		d.logger.Infof("recordlogd: restored %d records", n)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2)
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.socket.Serve(ctx); err != nil {
			errs <- fmt.Errorf("socket: %w", err)
			cancel()
		}
	}()
	if d.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.logger.Infof("recordlogd: admin listening on %s", d.adminLn.Addr())
			if err := d.admin.Serve(d.adminLn); err != nil {
				errs <- fmt.Errorf("admin: %w", err)
				cancel()
			}
		}()
	}

	d.logger.Infof("recordlogd: started (capacity %d, max record %d bytes)", d.cfg.Log.Capacity, d.cfg.Log.MaxRecordSize)
	<-ctx.Done()
	d.logger.Info("recordlogd: shutting down")

	if d.admin != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.admin.Shutdown(shutdownCtx); err != nil {
			d.logger.Warnf("recordlogd: admin shutdown: %v", err)
		}
		cancelShutdown()
	}
	wg.Wait()
	close(errs)

	var err error
	for e := range errs {
		err = errors.Join(err, e)
	}
	return err
}

// close releases everything newDaemon acquired. It is safe on a partially
// built daemon.
func (d *daemon) close() {
	if d.adminLn != nil {
		// Already closed when the admin server shut down.
		_ = d.adminLn.Close()
	}
	if d.handle != nil {
		d.handle.Close()
	}
	if d.log != nil {
		d.log.Destroy()
	}
	if d.relay != nil {
		if err := d.relay.Close(); err != nil {
			d.logger.Warnf("recordlogd: relay close: %v", err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warnf("recordlogd: mirror close: %v", err)
		}
	}
}
