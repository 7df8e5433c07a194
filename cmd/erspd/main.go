package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/creack/pty"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/epiphany-tools/erspd/pkg/config"
	"github.com/epiphany-tools/erspd/pkg/gdbserver"
	"github.com/epiphany-tools/erspd/pkg/logflags"
	"github.com/epiphany-tools/erspd/pkg/target/meshsim"
	"github.com/epiphany-tools/erspd/pkg/version"
)

var (
	listenAddr   string
	logEnabled   bool
	logFlagsStr  string
	haltOnAttach bool
	ttyOutPath   string
	rows, cols   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "erspd",
		Short: "erspd serves the GDB remote serial protocol for an Epiphany-style mesh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", ":51000", "TCP address to listen for a GDB client on.")
	rootCmd.PersistentFlags().BoolVar(&logEnabled, "log", false, "Enable server logging.")
	rootCmd.PersistentFlags().StringVar(&logFlagsStr, "log-flags", "", "Comma separated subset of wire,stop-resume,trap-rsp,ctrlc,tran-detail.")
	rootCmd.PersistentFlags().BoolVar(&haltOnAttach, "halt-on-attach", false, "Halt the target as soon as a client connects.")
	rootCmd.PersistentFlags().StringVar(&ttyOutPath, "tty-out", "", "File or 'pty' to receive semihosted printf output.")
	rootCmd.PersistentFlags().IntVar(&rows, "rows", 4, "Mesh rows (used by the built in simulator when no real target is wired).")
	rootCmd.PersistentFlags().IntVar(&cols, "cols", 4, "Mesh columns (used by the built in simulator when no real target is wired).")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("erspd " + version.ServerVersion.String())
			fmt.Println(version.BuildInfo())
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command) error {
	cfg := config.LoadConfig()
	applyConfigDefaults(cmd, cfg)

	if err := logflags.Setup(logEnabled, logFlagsStr); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("couldn't start listener: %w", err)
	}
	defer listener.Close()

	ttyOut, cleanup, err := openTTYOut(ttyOutPath)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	mesh := meshsim.New(rows, cols)

	srv := gdbserver.NewServer(&gdbserver.Config{
		Listener:     listener,
		Target:       mesh,
		TTYOut:       ttyOut,
		HaltOnAttach: haltOnAttach,
		Aliases:      monitorAliasesFromConfig(cfg),
	})

	printBanner(listener.Addr().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		srv.Stop()
	}()

	return srv.Run()
}

// openTTYOut resolves --tty-out: empty disables the sink, "pty" asks
// creack/pty for a fresh pseudo-terminal pair and prints the slave path
// so the user can `cat` it, and anything else is treated as a path to
// open for appending.
func openTTYOut(spec string) (*os.File, func(), error) {
	if spec == "" {
		return nil, nil, nil
	}
	if spec == "pty" {
		ptmx, tty, err := pty.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("allocating pty: %w", err)
		}
		fmt.Fprintf(os.Stderr, "semihosted output available at %s\n", tty.Name())
		return ptmx, func() { ptmx.Close(); tty.Close() }, nil
	}
	f, err := os.OpenFile(spec, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening tty-out %s: %w", spec, err)
	}
	return f, func() { f.Close() }, nil
}

func monitorAliasesFromConfig(cfg *config.Config) map[string][]string {
	return cfg.Aliases
}

// applyConfigDefaults lets config.yml values fill in flags the user did
// not set on the command line, without overriding an explicit flag.
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if cfg.ListenAddr != "" && !flags.Changed("listen") {
		listenAddr = cfg.ListenAddr
	}
	if cfg.HaltOnAttach && !flags.Changed("halt-on-attach") {
		haltOnAttach = true
	}
	if cfg.TTYOut != "" && !flags.Changed("tty-out") {
		ttyOutPath = cfg.TTYOut
	}
	if cfg.LogFlags != "" && !flags.Changed("log-flags") {
		logFlagsStr = cfg.LogFlags
	}
	if cfg.Rows > 0 && !flags.Changed("rows") {
		rows = cfg.Rows
	}
	if cfg.Cols > 0 && !flags.Changed("cols") {
		cols = cfg.Cols
	}
}

func printBanner(addr string) {
	out := os.Stdout
	var w = colorable.NewColorable(out)
	if isatty.IsTerminal(out.Fd()) {
		fmt.Fprintf(w, "\x1b[32merspd\x1b[0m listening on %s\n", addr)
		return
	}
	fmt.Fprintf(w, "erspd listening on %s\n", addr)
}
