// ABOUTME: Entry point for the Kantera development renderer
// ABOUTME: Serves test pattern scenes to players until interrupted
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/kantera-live/kantera-player/internal/devrenderer"
	"github.com/kantera-live/kantera-player/internal/logging"
	"github.com/kantera-live/kantera-player/internal/version"
	"github.com/spf13/cobra"
)

var (
	addr       string
	path       string
	name       string
	noMDNS     bool
	script     string
	scriptFile string
	audioSpec  string
	renderDir  string
	logLevel   string
	logFile    string

	rootCmd = &cobra.Command{
		Use:          "kantera-devrenderer",
		Short:        "Serve test scenes over the Kantera live stream protocol",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         execute,
	}
)

func init() {
	rootCmd.Version = version.Version

	f := rootCmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.StringVar(&path, "path", devrenderer.DefaultPath, "WebSocket path")
	f.StringVar(&name, "name", "", "mDNS instance name (default: hostname-kantera-devrenderer)")
	f.BoolVar(&noMDNS, "no-mdns", false, "disable mDNS advertisement")
	f.StringVar(&script, "script", "", "scene script started for every player")
	f.StringVar(&scriptFile, "script-file", "", "read the scene script from a file")
	f.StringVar(&audioSpec, "audio", "", "audio for the default scene: none, tone[:hz], wav:PATH or mp3:PATH")
	f.StringVar(&renderDir, "render-dir", "tmp", "directory for rendered files")
	f.StringVar(&logLevel, "log-level", "info", "log level: "+strings.Join(logging.Levels, ", "))
	f.StringVar(&logFile, "log-file", "kantera-devrenderer.log", "log file path (empty disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func execute(cmd *cobra.Command, _ []string) error {
	f, err := logging.Configure(logLevel, logFile, false)
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
	}

	if scriptFile != "" {
		data, err := os.ReadFile(scriptFile)
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		script = string(data)
	}
	if script == "" && audioSpec != "" {
		script = fmt.Sprintf("{audio: %s}", strconv.Quote(audioSpec))
	}
	if script != "" {
		// Fail at startup rather than once per session
		if _, err := devrenderer.ParseScene(script); err != nil {
			return fmt.Errorf("invalid scene script: %w", err)
		}
	}

	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = hostname + "-kantera-devrenderer"
	}

	srv := devrenderer.New(devrenderer.Config{
		Addr:       addr,
		Path:       path,
		Name:       name,
		EnableMDNS: !noMDNS,
		Script:     script,
		RenderDir:  renderDir,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Received signal, shutting down", "signal", sig)
		srv.Stop()
	}()

	log.Info("Starting renderer", "name", name, "version", version.Version)
	return srv.Start()
}
