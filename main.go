package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"laneway/config"
	"laneway/log"
	"laneway/queue"
	"laneway/scheduler"
	"laneway/sysexec"
	"laneway/ui"
)

var (
	version = "1.0.0"

	lanesFlag  int
	windowFlag int
	shellFlag  string
	ptyFlag    bool
	widthFlag  int
	titleFlag  string
	fileFlag   string

	rootCmd = &cobra.Command{
		Use:   "laneway [command ...]",
		Short: "Laneway - run commands concurrently with live status lanes",
		Long: `Laneway executes a batch of shell commands across a fixed number of
concurrent lanes, decoding the transaction frames they emit on stdout and
displaying live windowed metrics per lane and in aggregate.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			cfg := config.LoadConfig()
			if lanesFlag > 0 {
				cfg.Lanes = lanesFlag
			}
			if windowFlag > 0 {
				cfg.WindowSeconds = windowFlag
			}
			if shellFlag != "" {
				cfg.DefaultShell = shellFlag
			}
			if ptyFlag {
				cfg.UsePTY = true
			}
			if widthFlag > 0 {
				cfg.DisplayWidth = widthFlag
			}

			items, err := workItems(args)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("no commands given; pass them as arguments or via --file")
			}

			window := time.Duration(cfg.WindowSeconds) * time.Second
			monitors := make([]*ui.Monitor, cfg.Lanes)
			for i := range monitors {
				monitors[i] = ui.NewMonitor(window)
			}
			log.InfoLog.Printf("dispatching %d commands across %d lanes", len(items), cfg.Lanes)

			return scheduler.Dispatch(scheduler.Options{
				Queue:        queue.NewStatic(items),
				Plan:         shellPlan(cfg.DefaultShell, cfg.UsePTY),
				Control:      ui.NewTermControl(os.Stdout, cfg.DisplayWidth),
				Monitors:     monitors,
				Summary:      ui.NewMonitor(window),
				Title:        titleFlag,
				Launcher:     sysexec.NewSystem(),
				Window:       window,
				PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			})
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("laneway version %s\n", version)
		},
	}
)

// workItems combines command lines given as arguments with lines read from
// --file, one command per line.
func workItems(args []string) ([]scheduler.WorkItem, error) {
	items := make([]scheduler.WorkItem, 0, len(args))
	for _, a := range args {
		items = append(items, a)
	}
	if fileFlag == "" {
		return items, nil
	}

	f, err := os.Open(fileFlag)
	if err != nil {
		return nil, fmt.Errorf("open command file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read command file: %w", err)
	}
	return items, nil
}

// shellPlan expands one command line into a single-process spec chain.
func shellPlan(shell string, usePTY bool) scheduler.Plan {
	return func(item scheduler.WorkItem) scheduler.SpecCursor {
		line := fmt.Sprint(item)
		return scheduler.Specs(scheduler.ProcessSpec{
			Category:   "run",
			Dimensions: []string{line},
			Channel:    line,
			Command: sysexec.Command{
				Path: shell,
				Args: []string{"-c", line},
				PTY:  usePTY,
			},
		})
	}
}

func init() {
	rootCmd.Flags().IntVarP(&lanesFlag, "lanes", "n", 0, "Number of concurrent lanes (overrides config)")
	rootCmd.Flags().IntVarP(&windowFlag, "window", "w", 0, "Metrics window in seconds (overrides config)")
	rootCmd.Flags().StringVarP(&shellFlag, "shell", "s", "", "Shell used to run each command (overrides config)")
	rootCmd.Flags().BoolVar(&ptyFlag, "pty", false, "Run commands on a pseudo-terminal")
	rootCmd.Flags().IntVar(&widthFlag, "width", 0, "Display width in columns (overrides config)")
	rootCmd.Flags().StringVarP(&titleFlag, "title", "t", "laneway", "Summary line title")
	rootCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Read commands from a file, one per line")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
