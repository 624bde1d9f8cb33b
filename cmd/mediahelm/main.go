package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("mediahelm v%s\n", version)
	fmt.Println("Remote control daemon for media applications over SSH")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  mediahelm [OPTIONS]")
	fmt.Println("  mediahelm discover [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that drives media applications on a remote macOS host by")
	fmt.Println("  executing AppleScript over SSH, reconciling reported state into a")
	fmt.Println("  local model served to clients over WebSocket and a Unix-socket IPC.")
	fmt.Println()
	fmt.Println("  The 'discover' subcommand runs one Bonjour scan for controllable")
	fmt.Println("  hosts and prints the results.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Config file path (default %q)\n", DefaultConfigPath())
	fmt.Println()
	fmt.Println("  -host string")
	fmt.Println("        Host address to control (overrides config)")
	fmt.Println()
	fmt.Println("  -port int")
	fmt.Println("        SSH port (overrides config)")
	fmt.Println()
	fmt.Println("  -user string")
	fmt.Println("        SSH user (overrides config)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (overrides config)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("CREDENTIALS:")
	fmt.Println("  The SSH password is read from the OS keychain (service name from")
	fmt.Println("  host.keychain_service) or from the MEDIAHELM_PASSWORD environment")
	fmt.Println("  variable. It is never written to config or logs.")
}

func main() {
	args := os.Args[1:]
	discoverMode := len(args) > 0 && args[0] == "discover"
	if discoverMode {
		args = args[1:]
	}

	fs := flag.NewFlagSet("mediahelm", flag.ExitOnError)
	fs.Usage = printUsage
	var (
		configPath  = fs.String("config", "", "config file path")
		hostFlag    = fs.String("host", "", "host address to control")
		portFlag    = fs.Int("port", 0, "SSH port")
		userFlag    = fs.String("user", "", "SSH user")
		logLevel    = fs.String("log-level", "", "log level")
		showVersion = fs.Bool("version", false, "print version and exit")
	)
	_ = fs.Parse(args)

	if *showVersion {
		printVersion()
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *hostFlag != "" {
		cfg.Host.Addr = *hostFlag
	}
	if *portFlag != 0 {
		cfg.Host.Port = *portFlag
	}
	if *userFlag != "" {
		cfg.Host.User = *userFlag
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if discoverMode {
		if err := runDiscover(ctx, cfg, logger); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runDaemon(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.Host.Addr == "" || cfg.Host.User == "" {
		return fmt.Errorf("host.addr and host.user must be configured (or passed via -host/-user)")
	}

	password := os.Getenv("MEDIAHELM_PASSWORD")
	if password == "" {
		creds := NewKeychainStore(cfg.Host.KeychainService)
		pw, err := creds.Password(cfg.Host.User)
		if err != nil {
			return fmt.Errorf("no password for %s: %w", cfg.Host.User, err)
		}
		password = pw
	}

	exec := NewSSHExecutor(cfg.Host.Addr, cfg.Host.Port, cfg.Host.User, password)
	if err := exec.Connect(ctx); err != nil {
		return err
	}
	defer exec.Close()
	logger.Info("connected", "host", cfg.Host.Addr, "port", cfg.Host.Port)

	store := NewFileSettingsStore(cfg.Settings.Path)
	catalog := NewCatalog(knownPlatforms(), store, logger)
	syncr := NewSynchronizer(catalog, exec, cfg.SyncConfig(), logger)

	disco := NewDiscoverer(
		cfg.Discovery.ServiceType,
		cfg.Discovery.Domain,
		time.Duration(cfg.Discovery.ScanWindowMS)*time.Millisecond,
		time.Duration(cfg.Discovery.ResolveWindowMS)*time.Millisecond,
		time.Duration(cfg.Discovery.CoolDownMS)*time.Millisecond,
		logger,
	)

	stateServer := NewStateServer(logger, syncr.Snapshot)
	syncr.SetSnapshotSink(stateServer.Hub().BroadcastSnapshot)

	mux := http.NewServeMux()
	stateServer.Register(mux, "/state")
	httpServer := &http.Server{Addr: cfg.StateWS.ListenAddr, Handler: mux}

	handle := func(ctx context.Context, platform string, action Action) (any, error) {
		switch a := action.(type) {
		case SetVolume:
			syncr.SetHostVolume(ctx, a.Level)
			return nil, nil
		case TogglePlatform:
			_, err := syncr.TogglePlatform(a.ID)
			return nil, err
		case StartScan:
			// Explicit request: the cool-down only gates automatic rescans.
			disco.StartScan()
			return nil, nil
		case ListPlatforms:
			return catalog.Infos(), nil
		default:
			if platform == "" {
				return nil, fmt.Errorf("action requires a platform target")
			}
			return nil, syncr.Dispatch(ctx, platform, action)
		}
	}

	errc := make(chan error, 3)

	go stateServer.Hub().Run(ctx)
	go syncr.Run(ctx)
	go func() {
		errc <- runIPCServer(ctx, cfg.IPC.SocketPath, handle, logger)
	}()
	go func() {
		logger.Info("state ws listening", "addr", cfg.StateWS.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		disco.StopScan()
		return nil
	case err := <-errc:
		return err
	}
}

// runDiscover runs one scan session and prints what it found.
func runDiscover(ctx context.Context, cfg Config, logger *slog.Logger) error {
	window := time.Duration(cfg.Discovery.ScanWindowMS) * time.Millisecond
	disco := NewDiscoverer(
		cfg.Discovery.ServiceType,
		cfg.Discovery.Domain,
		window,
		time.Duration(cfg.Discovery.ResolveWindowMS)*time.Millisecond,
		time.Duration(cfg.Discovery.CoolDownMS)*time.Millisecond,
		logger,
	)

	disco.StartScan()
	select {
	case <-ctx.Done():
		disco.StopScan()
	case <-time.After(window + 500*time.Millisecond):
	}
	disco.StopScan()

	if disco.Phase() == ScanFailed {
		return fmt.Errorf("scan failed: %s", disco.Err())
	}

	results := disco.Results()
	if len(results) == 0 {
		fmt.Println("no controllable hosts found")
		return nil
	}
	for _, svc := range results {
		addr := "(unresolved)"
		if svc.Addr != nil {
			addr = svc.Addr.String()
		}
		fmt.Printf("%-30s %-25s %s:%d\n", svc.Name, svc.Host, addr, svc.Port)
	}
	return nil
}
