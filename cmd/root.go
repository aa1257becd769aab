// Package cmd implements the command-line interface for the win-autotype application.
package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joncrangle/win-autotype/internal/autotype"
	"github.com/joncrangle/win-autotype/internal/config"
	"github.com/joncrangle/win-autotype/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfg        = &config.Config{}
	configPath string

	// stdin is swapped in tests.
	stdin io.Reader = os.Stdin
)

var rootCmd = &cobra.Command{
	Use:   "win-autotype",
	Short: "Type credentials into the focused Windows application",
	Long: `Win-Autotype types usernames and passwords into whatever window has focus
and identifies that window for a credential manager, either from the command
line or through a localhost bridge running in the background.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg.ExplicitFlags = make(map[string]bool)
		cmd.Flags().Visit(func(f *pflag.Flag) {
			cfg.ExplicitFlags[f.Name] = true
		})
		if configPath == "" {
			return nil
		}
		return config.LoadFile(configPath, cfg, cfg.FlagSet)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display version information for win-autotype",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("win-autotype version %s\n", rootCmd.Version)
		fmt.Println("Autotype for Windows desktop applications")
		fmt.Println("https://github.com/joncrangle/win-autotype")
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the autotype bridge",
	Long:  "Start the autotype bridge and shortcut listener in the background",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return startService()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the autotype bridge",
	Long:  "Stop the running autotype bridge process",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := service.Stop(); err != nil {
			return fmt.Errorf("❌ %v", err)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the autotype bridge",
	Long:  "Display whether the bridge process is running and answering on its port",
	RunE: func(_ *cobra.Command, _ []string) error {
		running, pid, info, err := service.GetEnhancedStatus(cfg.Port)
		if err != nil {
			return fmt.Errorf("❌ %v", err)
		}

		if !running {
			fmt.Println("❌ Service not running")
			return nil
		}

		fmt.Printf("✅ Service running (PID %d)\n", pid)
		if info != nil {
			if info.BridgeReachable {
				fmt.Printf("   🌐 Bridge: ws://127.0.0.1:%d (%s)\n", info.Port, info.BridgeState)
			} else {
				fmt.Printf("   ⚠️  Bridge not answering on port %d: %s\n", info.Port, info.BridgeError)
			}
		}
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Toggle the autotype bridge",
	Long:  "Start the autotype bridge if it's not running, or stop it if it's currently running",
	RunE: func(_ *cobra.Command, _ []string) error {
		running, _, _, err := service.GetEnhancedStatus(cfg.Port)
		if err != nil {
			return fmt.Errorf("❌ %v", err)
		}

		if running {
			return service.Stop()
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		return startService()
	},
}

var runCmd = &cobra.Command{
	Use:    "run",
	Short:  "Internal command to run the autotype bridge",
	Hidden: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		svc, err := service.NewService(cfg)
		if err != nil {
			return err
		}
		return svc.Run()
	},
}

var typeCmd = &cobra.Command{
	Use:   "type [text...]",
	Short: "Type text into the focused window",
	Long: `Type text into the window that has focus once the start delay has passed.
With --stdin the text is read from standard input instead of the arguments.
Typing stops quietly if focus moves to another window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStdin, _ := cmd.Flags().GetBool("stdin")
		text, err := textInput(args, fromStdin)
		if err != nil {
			return err
		}
		at, err := newAutotype()
		if err != nil {
			return err
		}
		waitStartDelay()
		return at.SendText(text)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Type a username, Tab and a password",
	Long: `Type the username, press Tab and type the password into the focused window.
The password is read from the first line of standard input unless --password
is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if !cmd.Flags().Changed("password") {
			line, err := readLine(stdin)
			if err != nil {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password = line
		}
		at, err := newAutotype()
		if err != nil {
			return err
		}
		waitStartDelay()
		return at.SendLogin(username, password)
	},
}

var releaseModifiersCmd = &cobra.Command{
	Use:   "release-modifiers",
	Short: "Release Shift, Ctrl, Alt and Caps Lock",
	RunE: func(_ *cobra.Command, _ []string) error {
		at, err := newAutotype()
		if err != nil {
			return err
		}
		return at.ReleaseModifiers()
	},
}

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Identify application windows",
}

var windowActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Print the identity of the focused window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		at, err := newAutotype()
		if err != nil {
			return err
		}
		id, err := at.ActiveWindow()
		if err != nil {
			return err
		}
		return printIdentity(cmd, id)
	},
}

var windowNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the identity of the next visible window below the focused one",
	Long: `Print the identity of the next visible window in Z-order below the focused
window. Run from a terminal this is usually the window used just before it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		at, err := newAutotype()
		if err != nil {
			return err
		}
		id, err := at.NextWindow()
		if err != nil {
			return err
		}
		return printIdentity(cmd, id)
	},
}

func startService() error {
	if cfg.Debug {
		fmt.Println("🔧 Starting service in debug mode (foreground)")
	}

	if err := service.Start(cfg); err != nil {
		return fmt.Errorf("❌ %v", err)
	}

	if !cfg.Debug {
		fmt.Printf("🌐 Autotype bridge available at: ws://127.0.0.1:%d\n", bridgePort())
		if cfg.Hotkey != "" {
			fmt.Printf("⌨️  Shortcut: %s\n", cfg.Hotkey)
		}
		fmt.Println("✅ Service started successfully")
	}
	return nil
}

func bridgePort() int {
	if cfg.Port == 0 {
		return config.DefaultPort
	}
	return cfg.Port
}

func newAutotype() (*service.Autotype, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := config.InitLogger(cfg)
	return service.NewAutotype(autotype.NewPlatform(), logger, cfg), nil
}

func waitStartDelay() {
	if d := cfg.StartDelay(); d > 0 {
		time.Sleep(d)
	}
}

func textInput(args []string, fromStdin bool) (string, error) {
	if fromStdin {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read text from stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	if len(args) == 0 {
		return "", errors.New("no text given (pass it as arguments or use --stdin)")
	}
	return strings.Join(args, " "), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printIdentity(cmd *cobra.Command, id autotype.WindowIdentity) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	if !asJSON {
		_, err := fmt.Fprintln(out, id.URL())
		return err
	}
	return json.NewEncoder(out).Encode(struct {
		Executable string `json:"executable"`
		Title      string `json:"title"`
		URL        string `json:"url"`
	}{id.Executable, id.Title, id.URL()})
}

// addLogFlags adds the logging flags shared by every command.
func addLogFlags(cmd *cobra.Command, includeShortcuts bool) {
	if includeShortcuts {
		cmd.Flags().BoolVarP(&cfg.Debug, "debug", "d", false, "Run in foreground with debug logging")
	} else {
		cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Debug mode")
	}
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text or json)")
	cmd.Flags().StringVar(&cfg.LogFile, "log-file", "", "Log file path (empty for no file logging)")
	cmd.Flags().BoolVar(&cfg.LogRotate, "log-rotate", false, "Enable log file rotation")
	cmd.Flags().IntVar(&cfg.MaxLogSize, "max-log-size", 10, "Maximum log file size in MB")
	cmd.Flags().IntVar(&cfg.MaxLogAge, "max-log-age", 30, "Maximum log file age in days")
}

// addAutotypeFlags adds the injection and inspection tuning flags.
func addAutotypeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&cfg.KeyDelayMs, "key-delay", 0, "Delay after each injected key event (milliseconds)")
	cmd.Flags().IntVar(&cfg.MaxWindowWalk, "max-window-walk", config.DefaultMaxWindowWalk, "Maximum windows examined when looking for the next visible window")
}

// addServiceFlags adds the flags of the background bridge.
func addServiceFlags(cmd *cobra.Command, includeShortcuts bool) {
	addLogFlags(cmd, includeShortcuts)
	addAutotypeFlags(cmd)
	if includeShortcuts {
		cmd.Flags().IntVarP(&cfg.Port, "port", "p", config.DefaultPort, "Autotype bridge port")
	} else {
		cmd.Flags().IntVar(&cfg.Port, "port", config.DefaultPort, "Autotype bridge port")
	}
	cmd.Flags().StringVar(&cfg.Hotkey, "hotkey", config.DefaultHotkey, "Global autotype shortcut (empty to disable)")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (TOML, YAML or JSON)")

	addServiceFlags(startCmd, true)
	addServiceFlags(toggleCmd, true)
	addServiceFlags(runCmd, false)

	statusCmd.Flags().IntVarP(&cfg.Port, "port", "p", config.DefaultPort, "Autotype bridge port")

	for _, c := range []*cobra.Command{typeCmd, loginCmd} {
		addLogFlags(c, false)
		addAutotypeFlags(c)
		c.Flags().IntVar(&cfg.StartDelayMs, "start-delay", 3000, "Wait before typing so the target window can be focused (milliseconds)")
	}
	typeCmd.Flags().Bool("stdin", false, "Read the text from standard input")
	loginCmd.Flags().StringP("username", "u", "", "Username to type before Tab")
	loginCmd.Flags().String("password", "", "Password to type after Tab (read from stdin when omitted)")

	addLogFlags(releaseModifiersCmd, false)

	for _, c := range []*cobra.Command{windowActiveCmd, windowNextCmd} {
		addLogFlags(c, false)
		addAutotypeFlags(c)
		c.Flags().Bool("json", false, "Print the identity as JSON")
	}
	windowCmd.AddCommand(windowActiveCmd)
	windowCmd.AddCommand(windowNextCmd)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(typeCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(releaseModifiersCmd)
	rootCmd.AddCommand(windowCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
