package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skillsense/internal/activation"
	"skillsense/internal/config"
	"skillsense/internal/embedding"
	"skillsense/internal/indexer"
	"skillsense/internal/logging"
	"skillsense/internal/rules"
	"skillsense/internal/store"
)

var (
	// Global flags
	verbose bool
	dataDir string

	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "skillsense",
	Short: "skillsense - context-aware skill activation for coding assistants",
	Long: `skillsense keeps an embedded index of SKILL.md capability files and
decides, per assistant lifecycle event, which skills should be active in
the current session.

Activation policy is an operator-editable ruleset script evaluated in a
sandboxed runtime with access to session history and semantic search
over the skill index.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if dataDir == "" {
			dataDir = config.DefaultDataDir()
		}
		cfg, err = config.Load(config.ConfigPath(dataDir))
		if err != nil {
			return err
		}
		// Keep a default-derived ruleset path inside the effective data
		// dir when --data-dir moves it.
		if cfg.Rules.RulesetPath == config.DefaultRulesetPath(config.DefaultDataDir()) {
			cfg.Rules.RulesetPath = config.DefaultRulesetPath(dataDir)
		}
		cfg.DataDir = dataDir

		return logging.Initialize(dataDir, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode || verbose,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var initIfNeeded bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, config, database, and default ruleset",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := config.ConfigPath(cfg.DataDir)
		if _, err := os.Stat(cfgPath); err == nil && initIfNeeded {
			logger.Debug("already initialized", zap.String("config", cfgPath))
			return openAndCloseStore()
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(cfgPath); err != nil {
			return err
		}

		rulesetPath := cfg.Rules.RulesetPath
		if _, err := os.Stat(rulesetPath); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(rulesetPath), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(rulesetPath, []byte(defaultRuleset), 0644); err != nil {
				return err
			}
			logger.Info("wrote default ruleset", zap.String("path", rulesetPath))
		}

		if err := openAndCloseStore(); err != nil {
			return err
		}

		fmt.Printf("Initialized %s\n", cfg.DataDir)
		return nil
	},
}

func openAndCloseStore() error {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	return st.Close()
}

var (
	indexForce bool
	indexQuick bool
	indexWatch bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan skill sources and refresh the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()

		engine, err := embedding.NewEngine(embeddingConfig())
		if err != nil {
			// Indexing without vectors is still useful for exact-name
			// activation.
			logger.Warn("embedding engine unavailable, indexing without vectors", zap.Error(err))
			engine = nil
		}

		ix := indexer.New(st, engine, cfg.Sources)

		if indexWatch {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if _, err := ix.Index(ctx, indexMode()); err != nil {
				return err
			}
			err := ix.Watch(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		}

		report, err := ix.Index(cmd.Context(), indexMode())
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d, skipped %d, removed %d, failed %d in %s (pass %s)\n",
			report.Indexed, report.Skipped, report.Removed, report.Failed,
			report.Duration.Round(time.Millisecond), report.PassID)
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "  failed: %v\n", &f)
		}
		return nil
	},
}

func indexMode() indexer.Mode {
	switch {
	case indexForce:
		return indexer.ModeFull
	case indexQuick:
		return indexer.ModeQuick
	default:
		return indexer.ModeDefault
	}
}

var (
	selSession        string
	selWorkspace      string
	selHook           string
	selTool           string
	selContent        string
	selDeactivateOnly bool
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Evaluate the ruleset for an event and reconcile skill state",
	Long: `Runs the activation ruleset against the given lifecycle event,
updates session skill state, and prints the outcome as JSON. Event
content is taken from --content or, when absent, from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSelectFlags(selSession, selWorkspace); err != nil {
			return err
		}

		content := selContent
		if content == "" && !isTerminal(os.Stdin) {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			content = string(data)
		}

		o, st, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := o.HandleEvent(cmd.Context(), activation.Event{
			SessionID:      selSession,
			Workspace:      selWorkspace,
			Hook:           activation.Hook(selHook),
			ToolName:       selTool,
			Content:        content,
			DeactivateOnly: selDeactivateOnly,
		})
		if err != nil {
			return err
		}

		out := selectOutput{
			Activated:     res.Activated,
			AlreadyActive: res.AlreadyActive,
			Deactivated:   res.Deactivated,
			Active:        res.ActiveSkills,
			Sequence:      res.Sequence,
		}
		if res.ActivationErr != nil {
			out.Warnings = append(out.Warnings, res.ActivationErr.Error())
		}
		if res.DeactivationErr != nil {
			out.Warnings = append(out.Warnings, res.DeactivationErr.Error())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func requireSelectFlags(session, workspace string) error {
	if session == "" {
		return fmt.Errorf("--session is required")
	}
	if workspace == "" {
		return fmt.Errorf("--workspace is required")
	}
	return nil
}

type selectOutput struct {
	Activated     []string `json:"activated"`
	AlreadyActive []string `json:"already_active"`
	Deactivated   []string `json:"deactivated"`
	Active        []string `json:"active"`
	Sequence      int      `json:"sequence"`
	Warnings      []string `json:"warnings,omitempty"`
}

var (
	logSession string
	logEvent   string
	logTool    string
	logContent string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record an event in the session message log without evaluating rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logSession == "" {
			return fmt.Errorf("--session is required")
		}
		if logEvent == "" {
			return fmt.Errorf("--event is required")
		}

		content := logContent
		if content == "" && !isTerminal(os.Stdin) {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			content = string(data)
		}

		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()

		engine, err := embedding.NewEngine(embeddingConfig())
		if err != nil {
			engine = nil
		}

		// No ruleset needed; logging never evaluates rules.
		o := activation.New(st, engine, nil, cfg.Rules.Params, cfg.EvalTimeout())
		res, err := o.LogEvent(cmd.Context(), activation.Event{
			SessionID: logSession,
			Hook:      activation.Hook(logEvent),
			ToolName:  logTool,
			Content:   content,
		})
		if err != nil {
			return err
		}
		logger.Debug("event logged", zap.Int("sequence", res.Sequence))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and session statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats()
		if err != nil {
			return err
		}
		skills, err := st.ListSkills()
		if err != nil {
			return err
		}
		fmt.Println(renderStatus(cfg, stats, skills))
		return nil
	},
}

func buildOrchestrator() (*activation.Orchestrator, *store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}

	engine, err := embedding.NewEngine(embeddingConfig())
	if err != nil {
		logger.Warn("embedding engine unavailable, rulesets get no semantic search", zap.Error(err))
		engine = nil
	}

	rs, err := rules.FromFile(cfg.Rules.RulesetPath)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	o := activation.New(st, engine, rs, cfg.Rules.Params, cfg.EvalTimeout())
	return o, st, nil
}

func embeddingConfig() embedding.Config {
	return embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Dimensions:     cfg.Embedding.Dimensions,
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.skillsense)")

	initCmd.Flags().BoolVar(&initIfNeeded, "if-needed", false, "Skip when already initialized")

	indexCmd.Flags().BoolVar(&indexForce, "force", false, "Re-embed every file regardless of stored hashes")
	indexCmd.Flags().BoolVar(&indexQuick, "quick", false, "Skip the deletion scan")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "Keep running and re-index on file changes")

	selectCmd.Flags().StringVar(&selSession, "session", "", "Session identifier")
	selectCmd.Flags().StringVar(&selWorkspace, "workspace", "", "Workspace path")
	selectCmd.Flags().StringVar(&selHook, "hook", string(activation.HookUserPromptSubmit), "Lifecycle hook type")
	selectCmd.Flags().StringVar(&selTool, "tool", "", "Tool name (for post_tool_use events)")
	selectCmd.Flags().StringVar(&selContent, "content", "", "Event content (stdin when omitted)")
	selectCmd.Flags().BoolVar(&selDeactivateOnly, "deactivate-only", false, "Run only the deactivation pass")

	logCmd.Flags().StringVar(&logSession, "session", "", "Session identifier")
	logCmd.Flags().StringVar(&logEvent, "event", "", "Event type")
	logCmd.Flags().StringVar(&logTool, "tool", "", "Tool name")
	logCmd.Flags().StringVar(&logContent, "content", "", "Event content (stdin when omitted)")

	rootCmd.AddCommand(initCmd, indexCmd, selectCmd, logCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
