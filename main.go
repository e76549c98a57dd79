package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flashcat/flashcat/src/archive"
	"github.com/flashcat/flashcat/src/config"
	"github.com/flashcat/flashcat/src/crypto"
	"github.com/flashcat/flashcat/src/qrcode"
	"github.com/flashcat/flashcat/src/ratelimit"
	"github.com/flashcat/flashcat/src/receiver"
	"github.com/flashcat/flashcat/src/relay"
	"github.com/flashcat/flashcat/src/sender"
	"github.com/flashcat/flashcat/src/sessionlog"
	"github.com/flashcat/flashcat/src/walk"

	"github.com/spf13/cobra"
)

var (
	Version  = "dev"
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "flashcat",
	Short:   "Share-code based end-to-end encrypted file transfer",
	Long:    "flashcat transfers files and directories between two machines under a short share code, encrypting every chunk end to end and preferring a direct LAN path over the public relay when one is available.",
	Version: Version,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the public rendezvous relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		externalIP, _ := cmd.Flags().GetString("external-ip")
		logFile, _ := cmd.Flags().GetString("log-file")

		logger, closeLog := createLogger(logLevel, logFile)
		defer closeLog()

		server := relay.NewServer(logger)
		server.ExternalIP = externalIP

		dbPath, err := config.Dir()
		if err == nil {
			logPath := filepath.Join(dbPath, "sessions.db")
			if sl, slErr := sessionlog.Open(logPath, logger); slErr == nil {
				server.SessionLog = sl
			} else {
				logger.Warn("session log disabled", "error", slErr)
			}
		}
		server.JoinLimiter = ratelimit.NewJoinLimiter()

		defer server.Stop()

		logger.Info("relay starting", "port", port)
		return server.Start(port)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send FILE...",
	Short: "Send one or more files or directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relayFlag, _ := cmd.Flags().GetString("relay")
		zip, _ := cmd.Flags().GetBool("zip")
		logger, closeLog := createLogger(logLevel, "")
		defer closeLog()

		cfg, _ := config.Load()
		relayAddr, forced := config.ResolveRelayAddress(relayFlag, cfg)

		inputs := args
		if zip {
			archivePath, err := zipInputs(args)
			if err != nil {
				return err
			}
			defer os.Remove(archivePath)
			inputs = []string{archivePath}
		}

		collector, err := walk.Collect(inputs)
		if err != nil {
			return fmt.Errorf("flashcat: %w", err)
		}

		shareCode, err := crypto.GenerateShareCode()
		if err != nil {
			return err
		}

		fmt.Printf("Share code: %s\n", shareCode)
		fmt.Printf("On the other machine, run:\n\n  flashcat recv %s\n\n", shareCode)
		qrcode.PrintHalfBlock(os.Stdout, shareCode, 2)

		eng, err := sender.New(shareCode, relayAddr, collector, logger)
		if err != nil {
			return err
		}
		eng.ForceRelay = forced

		ctx, cancel := signalContext()
		defer cancel()

		go printSenderEvents(eng)

		if err := eng.Run(ctx); err != nil {
			return fmt.Errorf("flashcat: send failed: %w", err)
		}
		return nil
	},
}

var recvCmd = &cobra.Command{
	Use:   "recv SHARE_CODE",
	Short: "Receive files sent under a share code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		shareCode := args[0]
		relayFlag, _ := cmd.Flags().GetString("relay")
		outDir, _ := cmd.Flags().GetString("output")
		autoAccept, _ := cmd.Flags().GetBool("yes")
		lan, _ := cmd.Flags().GetBool("lan")
		logger, closeLog := createLogger(logLevel, "")
		defer closeLog()

		cfg, _ := config.Load()
		relayAddr, forced := config.ResolveRelayAddress(relayFlag, cfg)

		if outDir == "" {
			outDir = "."
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("flashcat: create output dir: %w", err)
		}

		eng, err := receiver.New(shareCode, relayAddr, outDir, logger)
		if err != nil {
			return err
		}
		eng.AutoAccept = autoAccept
		eng.LANMode = lan
		eng.ForceRelay = forced

		ctx, cancel := signalContext()
		defer cancel()

		go printReceiverEvents(eng)

		if err := eng.Run(ctx); err != nil {
			return fmt.Errorf("flashcat: receive failed: %w", err)
		}
		return nil
	},
}

func zipInputs(inputs []string) (string, error) {
	if len(inputs) != 1 {
		return "", fmt.Errorf("flashcat: --zip accepts exactly one directory")
	}
	target := inputs[0] + ".zip"
	if err := archive.CreateZipFromDirectory(inputs[0], target); err != nil {
		return "", fmt.Errorf("flashcat: zip %s: %w", inputs[0], err)
	}
	return target, nil
}

func printSenderEvents(eng *sender.Engine) {
	for ev := range eng.Events {
		switch ev.Kind {
		case sender.EventReceiverReject:
			fmt.Println("receiver declined the transfer")
		case sender.EventError:
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case sender.EventBreakPoint:
			fmt.Printf("resuming file %d from byte %d\n", ev.FileID, ev.Position)
		case sender.EventCompleted:
			fmt.Println("transfer complete")
		}
	}
}

func printReceiverEvents(eng *receiver.Engine) {
	for ev := range eng.Events {
		switch ev.Kind {
		case receiver.EventSendFilesRequest:
			fmt.Printf("incoming: %d file(s), %d bytes\n", ev.NumFiles, ev.TotalSize)
		case receiver.EventFileDuplication:
			fmt.Printf("file already exists: %s\n", ev.Path)
		case receiver.EventBreakPointDetected:
			fmt.Printf("resumable file %d: %d%% already saved\n", ev.FileID, ev.PercentX100/100)
		case receiver.EventReceiveDone:
			fmt.Println("transfer complete")
		case receiver.EventShareCodeNotFound:
			fmt.Fprintln(os.Stderr, "share code not found")
		case receiver.EventError:
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func createLogger(level, logFile string) (*slog.Logger, func()) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	out := os.Stderr
	closer := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			out = f
			closer = func() { f.Close() }
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	return slog.New(slog.NewTextHandler(out, opts)), closer
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	relayCmd.Flags().IntP("port", "p", 3001, "Port to listen on")
	relayCmd.Flags().String("external-ip", "", "External IP announced for LAN dial-back")
	relayCmd.Flags().String("log-file", "", "Write relay logs to this file instead of stderr")

	sendCmd.Flags().String("relay", "", "Relay address (host:port); overrides saved config and FLASH_CAT_RELAY")
	sendCmd.Flags().Bool("zip", false, "Archive the given directory into a single zip before sending")

	recvCmd.Flags().String("relay", "", "Relay address (host:port); overrides saved config and FLASH_CAT_RELAY")
	recvCmd.Flags().StringP("output", "o", ".", "Directory to write received files into")
	recvCmd.Flags().BoolP("yes", "y", false, "Automatically accept the transfer and overwrite existing files")
	recvCmd.Flags().BoolP("lan", "l", false, "Prefer a LAN relay advertised by the sender when reachable")

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(recvCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
