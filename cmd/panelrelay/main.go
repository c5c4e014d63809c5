package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sammck-go/panelrelay/pkg/config"
	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/panel"
	"github.com/sammck-go/panelrelay/pkg/veyon"
	prshare "github.com/sammck-go/panelrelay/share"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	debug    bool
)

func main() {
	root := &cobra.Command{
		Use:          "panelrelay",
		Short:        "Veyon operator panel and relay server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.panelrelay/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: error, warning, info, debug or trace")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(serverCmd())
	root.AddCommand(panelCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(viewCmd())
	root.AddCommand(methodsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level := logger.StringToLogLevel(cfg.LogLevel)
	if level == logger.LogLevelUnknown {
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	if debug {
		level = logger.LogLevelDebug
	}
	lg, err := logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithLogLevel(level),
		logger.WithPrefix("panelrelay"),
	)
	if err != nil {
		return nil, nil, err
	}
	return cfg, lg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serverCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the relay server next to the Veyon WebAPI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.Server.Host
			}
			if host == "" {
				host, err = prshare.DetectHostAddress(cfg.Server.NetPrefix)
				if err != nil {
					return err
				}
			}
			if port == 0 {
				port = cfg.Server.Port
			}
			publicHost := cfg.Server.PublicHost
			if publicHost == "" {
				publicHost = host + ":" + strconv.Itoa(port)
			}

			s, err := prshare.NewServer(lg.Fork("server"), &prshare.ServerConfig{
				VendorAddr: cfg.Server.VendorAddr,
				StaticDir:  cfg.Server.StaticDir,
				Auth:       cfg.Server.Auth,
				PublicHost: publicHost,
				Debug:      debug || lg.GetLogLevel() >= logger.LogLevelDebug,

				TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			err = s.Run(ctx, host, port)
			if err == context.Canceled {
				err = nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen address (default: detected external IPv4)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default 8080)")
	return cmd
}

// newClient builds a WebAPI client that goes through the configured relay
func newClient(cfg *config.Config, lg logger.Logger) (*veyon.Client, error) {
	relay, err := veyon.NewProxyRelay(cfg.Relay.URL, nil)
	if err != nil {
		return nil, err
	}
	if user, pass := prshare.ParseAuth(cfg.Relay.Auth); user != "" {
		relay.SetBasicAuth(user, pass)
	}
	return veyon.NewClient(lg.Fork("veyon"), relay), nil
}

func authMethod(cfg *config.Config) (veyon.AuthMethod, error) {
	return veyon.ParseAuthMethod(cfg.Veyon.Method)
}

// newController builds a panel controller whose displays write to outDir.
// store may be nil.
func newController(cfg *config.Config, lg logger.Logger, client *veyon.Client, outDir string, store *panel.Store) (*panel.Controller, error) {
	method, err := authMethod(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	return panel.NewController(lg.Fork("panel"), client, panel.Config{
		Method:           method,
		Username:         cfg.Veyon.Username,
		Password:         cfg.Veyon.Password,
		Lookahead:        cfg.Panel.Lookahead,
		AdmitInterval:    cfg.Panel.AdmitInterval,
		PollInterval:     cfg.Panel.PollInterval,
		MetadataRetries:  cfg.Panel.MetadataRetries,
		MetadataCooldown: cfg.Panel.MetadataCooldown,
		MessageLauncher:  panel.MshtaLauncher(cfg.Relay.URL),
	}, newFileDisplayFactory(lg.Fork("display"), outDir), panel.AlwaysVisible{}, store), nil
}

func panelCmd() *cobra.Command {
	var useSaved bool
	var outDir string

	cmd := &cobra.Command{
		Use:   "panel [address|range]...",
		Short: "Connect to endpoints and keep their previews and metadata current",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			addresses, err := expandTargets(args)
			if err != nil {
				return err
			}
			client, err := newClient(cfg, lg)
			if err != nil {
				return err
			}
			store, err := panel.NewStore(lg.Fork("saved"), cfg.Panel.SavedPath)
			if err != nil {
				return err
			}
			if useSaved {
				addresses = append(store.Load(), addresses...)
			}
			if outDir == "" {
				outDir = cfg.Panel.OutputDir
			}
			ctrl, err := newController(cfg, lg, client, outDir, store)
			if err != nil {
				return err
			}

			for _, a := range addresses {
				ctrl.Enqueue(a)
			}

			ctx, cancel := signalContext()
			defer cancel()

			sub, err := prshare.NewSubscriber(lg.Fork("messages"), &prshare.SubscriberConfig{
				Server:        cfg.Relay.URL,
				Auth:          cfg.Relay.Auth,
				MaxRetryCount: -1,
			}, func(m *prshare.Message) {
				if !ctrl.Deliver(m.Address, m.Text) {
					lg.ILogf("Message from %s (no panel): %s", m.Address, m.Text)
				}
			})
			if err != nil {
				return err
			}
			go func() {
				if err := sub.Run(ctx); err != nil && err != context.Canceled {
					lg.WLogf("Message subscription ended: %s", err)
				}
			}()

			err = ctrl.Run(ctx)
			if err == context.Canceled {
				err = nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&useSaved, "saved", false, "also connect to previously saved endpoints")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for frames and journals (default: panels)")
	return cmd
}

func sendCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "send <address> <text>",
		Short: "Show a message on one endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg, lg)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Panel.OutputDir
			}
			ctrl, err := newController(cfg, lg, client, outDir, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			defer ctrl.CloseAll(ctx)

			address, text := args[0], args[1]
			ctrl.Enqueue(address)
			ctrl.Queue().Tick(ctx)
			ctrl.Queue().Wait()
			if _, ok := ctrl.Registry().Session(address); !ok {
				return fmt.Errorf("unable to connect to %s", address)
			}
			return ctrl.SendMessage(ctx, address, text)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory for the panel journal (default: panels)")
	return cmd
}

func viewCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "view <host> <uid> <validUntil>",
		Short: "Follow one endpoint at full size using a saved connection uid",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			validUntil, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad validUntil %q: %w", args[2], err)
			}
			client, err := newClient(cfg, lg)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Panel.OutputDir
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			host := args[0]
			s := veyon.NewSession(client, args[1], validUntil, host)
			display := newFileDisplayFactory(lg.Fork("display"), outDir)(host)

			ctx, cancel := signalContext()
			defer cancel()
			err = panel.View(ctx, lg.Fork("view: %s", host), s, display, panel.AlwaysVisible{}, 0)
			if err == context.Canceled {
				err = nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory for frames and journals (default: panels)")
	return cmd
}

func methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods <address>",
		Short: "List the authentication methods an endpoint accepts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg, lg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			methods, err := client.AuthMethods(ctx, args[0])
			if err != nil {
				return err
			}
			for _, m := range methods {
				fmt.Println(veyon.AuthMethodName(m))
			}
			return nil
		},
	}
}
