package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/config"
	"github.com/san-kum/lorenzonet/internal/experiment"
	"github.com/san-kum/lorenzonet/internal/physics"
	"github.com/san-kum/lorenzonet/internal/storage"
	"github.com/san-kum/lorenzonet/internal/train"
	"github.com/san-kum/lorenzonet/internal/tui"
	"github.com/san-kum/lorenzonet/internal/viz"
)

var (
	savePath   string
	configFile string
	preset     string
	seed       int64
	epochs     int
	plotDir    string
	backend    string
	workers    int
	modelName  string
	live       bool
	// sweep grid
	sweepLRs    string
	sweepGammas string
	sweepEpochs int
)

// main registers the commands and exits with status 1 when the command
// returns an error.
func main() {
	rootCmd := &cobra.Command{
		Use:           "lorenzonet",
		Short:         "physics-informed DeepONet surrogate for the Lorenz system",
		Args:          cobra.NoArgs,
		RunE:          runExperiment,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&savePath, "save_path", config.DefaultSavePath, "directory models are saved under")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "start from a named preset")
	pf.Int64Var(&seed, "seed", 0, "random seed (0 draws one from the clock)")
	pf.StringVar(&plotDir, "plot_dir", config.DefaultPlotDir, "directory plots are written to")
	pf.StringVar(&backend, "backend", "cpu", "compute backend")
	pf.IntVar(&workers, "workers", 0, "worker goroutines (0 uses the physical core count)")
	pf.StringVar(&modelName, "name", config.DefaultModelName, "saved model name")

	rootCmd.Flags().IntVar(&epochs, "epochs", 0, "override the number of training epochs")
	rootCmd.Flags().BoolVar(&live, "live", false, "show training in a live terminal view")

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "reload a saved model, evaluate it against RK4 and plot",
		Args:  cobra.NoArgs,
		RunE:  evalModel,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved models",
		Args:  cobra.NoArgs,
		RunE:  listModels,
	}

	historyCmd := &cobra.Command{
		Use:   "history [name]",
		Short: "show the loss history of a saved model",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showHistory,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, name := range config.ListPresets() {
				fmt.Fprintf(w, "%s\t%s\n", name, config.Presets[name].Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Println(viz.Separator(40))
			fmt.Println(viz.KV("systems", "%s", strings.Join(physics.Names(), ", ")))
			fmt.Println(viz.KV("integrators", "%s", strings.Join(experiment.NewRegistry().ListIntegrators(), ", ")))
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "grid search of learning rate and decay factor with short runs",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&sweepLRs, "lr", "1e-4,1e-3,1e-2", "comma-separated learning rates")
	sweepCmd.Flags().StringVar(&sweepGammas, "gamma", "0.5,0.9", "comma-separated decay factors")
	sweepCmd.Flags().IntVar(&sweepEpochs, "sweep_epochs", 500, "epochs per trial")

	initConfigCmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "write the resolved configuration as yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(evalCmd, listCmd, historyCmd, presetsCmd, sweepCmd, initConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, viz.StatusFailed.Render("error:"), err)
		os.Exit(1)
	}
}

// resolveConfig layers defaults, the preset, the config file and the flags
// the user actually set, in that order.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		p, err := config.GetPreset(preset)
		if err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, config.ListPresets())
		}
		cfg = p
	}

	if configFile != "" {
		if err := config.LoadInto(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("save_path") {
		cfg.Output.SavePath = savePath
	}
	if flags.Changed("plot_dir") {
		cfg.Output.PlotDir = plotDir
	}
	if flags.Changed("name") {
		cfg.Output.ModelName = modelName
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("epochs") {
		cfg.Training.Epochs = epochs
	}
	return cfg, nil
}

func setupExperiment(cmd *cobra.Command) (*experiment.Experiment, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	exp := experiment.New(cfg)
	if err := exp.Setup(); err != nil {
		return nil, err
	}
	return exp, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	exp, err := setupExperiment(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()
	cfg := exp.Config()

	ctx, stop := signalContext()
	defer stop()

	fmt.Println(viz.Title.Render("lorenzonet") + " " + viz.Subtle.Render(cfg.Model.String()))
	fmt.Println(viz.KV("system", "%s", cfg.System) + "   " + viz.KV("seed", "%d", exp.Seed()))
	fmt.Println(viz.KV("backend", "%s", exp.Backend().Describe()))
	fmt.Println(viz.KV("samples", "Q=%d N=%d", cfg.Sampling.Q, cfg.Sampling.N) + "   " +
		viz.KV("epochs", "%d", cfg.Training.Epochs) + "   " +
		viz.KV("batch", "%d", cfg.Training.BatchSize))
	fmt.Println()

	start := time.Now()
	var run *experiment.Run
	if live {
		title := fmt.Sprintf("training %s", cfg.Output.ModelName)
		_, err = tui.Run(ctx, title, cfg.Training.Epochs, func(ctx context.Context, obs train.Observer) (*train.Result, error) {
			exp.AddObserver(obs)
			var err error
			run, err = exp.Train(ctx)
			if run == nil {
				return nil, err
			}
			return run.Result, err
		})
	} else {
		exp.AddObserver(train.ObserverFunc(printProgress))
		run, err = exp.Train(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("\ntrained in %v, final loss %.6e\n", time.Since(start).Round(time.Millisecond), run.Result.Final.Loss)
	fmt.Printf("saved %s (id %s)\n\n", exp.Store().Dir(cfg.Output.ModelName), run.Meta.ID)

	ev, err := exp.Evaluate(ctx, run.Model, run.Samples, run.Result.History)
	if err != nil {
		return err
	}
	printEvaluation(cfg.Residual.Outputs, ev)
	return nil
}

func printProgress(p train.Progress) {
	fmt.Printf("epoch %7d/%d  loss %.6e  residual %.3e  initial %.3e  lr %.3e  %s\n",
		p.Epoch, p.Epochs, p.Loss, p.Residual, p.Initial, p.LR, p.Elapsed.Round(time.Second))
}

func printEvaluation(labels []string, ev *experiment.Evaluation) {
	_, cols := ev.Predicted.Dims()
	for i := 0; i < cols && i < len(labels); i++ {
		approx := mat.Col(nil, i, ev.Predicted)
		ref := mat.Col(nil, i, ev.Reference)
		fmt.Println(viz.ChannelPreview(approx, ref, labels[i]+"(t)"))
		fmt.Println()
	}
	if cols >= 3 {
		fmt.Println(viz.Panel.Render(viz.RenderAttractor(ev.Predicted, viz.DefaultCamera(), 40, 12)))
	}

	fmt.Println(viz.Separator(60))
	fmt.Println(viz.Header.Render("metrics"))
	names := make([]string, 0, len(ev.Metrics))
	for name := range ev.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println("  " + viz.KV(fmt.Sprintf("%-24s", name), "%.6g", ev.Metrics[name]))
	}

	fmt.Println()
	for _, f := range ev.Files {
		fmt.Println(viz.Subtle.Render("wrote " + f))
	}
}

func evalModel(cmd *cobra.Command, args []string) error {
	exp, err := setupExperiment(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()
	ctx, stop := signalContext()
	defer stop()

	ev, meta, err := exp.EvaluateSaved(ctx)
	if err != nil {
		return err
	}
	fmt.Println(viz.KV("model", "%s", meta.Name) + "   " +
		viz.KV("id", "%s", meta.ID) + "   " +
		viz.KV("seed", "%d", meta.Seed))
	fmt.Println(viz.KV("trained", "%s", meta.Timestamp.Format("2006-01-02 15:04:05")) + "   " +
		viz.KV("final loss", "%.6e", meta.FinalLoss))
	fmt.Println()

	printEvaluation(exp.Config().Residual.Outputs, ev)
	return nil
}

func listModels(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	models, err := storage.New(cfg.Output.SavePath).List()
	if err != nil {
		return err
	}

	if len(models) == 0 {
		fmt.Println("no models found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tSYSTEM\tTIME\tEPOCHS\tPARAMS\tLOSS\tRMSE_X")

	for _, m := range models {
		rmse := "-"
		if v, ok := m.Metrics["rmse_x"]; ok {
			rmse = fmt.Sprintf("%.4g", v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.4e\t%s\n",
			m.Name,
			shortID(m.ID),
			m.System,
			m.Timestamp.Format("2006-01-02 15:04:05"),
			m.Epochs,
			m.Params,
			m.FinalLoss,
			rmse,
		)
	}

	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	name := cfg.Output.ModelName
	if len(args) > 0 {
		name = args[0]
	}

	history, err := storage.New(cfg.Output.SavePath).LoadHistory(name)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no history recorded")
		return nil
	}

	loss := make([]float64, len(history))
	for i, p := range history {
		loss[i] = p.Loss
	}
	fmt.Println(viz.LossCurve(loss, 70, 12))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EPOCH\tLOSS\tRESIDUAL\tINITIAL\tLR\tELAPSED")
	for _, p := range history[max(0, len(history)-10):] {
		fmt.Fprintf(w, "%d\t%.6e\t%.3e\t%.3e\t%.3e\t%s\n",
			p.Epoch, p.Loss, p.Residual, p.Initial, p.LR, p.Elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}

func runSweep(cmd *cobra.Command, args []string) error {
	lrs, err := parseFloats(sweepLRs)
	if err != nil {
		return fmt.Errorf("--lr: %w", err)
	}
	gammas, err := parseFloats(sweepGammas)
	if err != nil {
		return fmt.Errorf("--gamma: %w", err)
	}

	exp, err := setupExperiment(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()
	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("sweeping %d x %d grid, %d epochs per trial, seed %d\n\n", len(lrs), len(gammas), sweepEpochs, exp.Seed())
	best, score, trials, err := exp.Sweep(ctx, lrs, gammas, sweepEpochs)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LR\tGAMMA\tTEST LOSS\tERROR")
	for _, tr := range trials {
		errText := ""
		if tr.Err != nil {
			errText = tr.Err.Error()
		}
		fmt.Fprintf(w, "%.3e\t%.3f\t%.6e\t%s\n", tr.Params["lr"], tr.Params["gamma"], tr.Score, errText)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if best == nil {
		return fmt.Errorf("every trial failed")
	}
	fmt.Printf("\n%s\n", viz.KV("best", "lr=%.3e gamma=%.3f loss=%.6e", best["lr"], best["gamma"], score))
	return nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no values in %q", s)
	}
	return out, nil
}
