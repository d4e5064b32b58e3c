// Package main provides the testcraft command line tool. It runs the
// generate, enhance and feedback flows against a YAML request file without
// the HTTP server, using the same store and abuse policy.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/testcraft/internal/config"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/flow"
)

func main() {
	if err := rootCmd(geminiCompleter).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	userID   string
	logLevel string
	progress bool
}

func rootCmd(newCompleter completerFactory) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "testcraft",
		Short:         "Generate manual test cases from a requirements file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.userID, "user", "local", "Identity used for abuse tracking")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.progress, "progress", false, "Print stage progress to stderr")

	cmd.AddCommand(
		generateCmd(&opts, newCompleter),
		enhanceCmd(&opts, newCompleter),
		feedbackCmd(&opts, newCompleter),
		statusCmd(&opts, newCompleter),
	)
	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// withApp loads configuration, opens the app and runs fn.
func withApp(cmd *cobra.Command, opts *options, newCompleter completerFactory, fn func(*app) error) error {
	logger := newLogger(opts.logLevel)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, newCompleter, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("Failed to close store", "error", closeErr)
		}
	}()
	return fn(a)
}

func progressFunc(cmd *cobra.Command, opts *options) flow.ProgressFunc {
	if !opts.progress {
		return nil
	}
	return func(s flow.Stage) {
		fmt.Fprintf(cmd.ErrOrStderr(), "stage: %s\n", s)
	}
}

func generateCmd(opts *options, newCompleter completerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <request.yaml>",
		Short: "Generate, review and merge test cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}
			if err := req.requireQuery(); err != nil {
				return err
			}
			return withApp(cmd, opts, newCompleter, func(a *app) error {
				images, err := a.stageImages(req.Images)
				if err != nil {
					return err
				}
				res, err := a.flows.Generate(cmd.Context(), flow.GenerateRequest{
					UserID:         opts.userID,
					Background:     req.Background,
					Requirements:   req.Requirements,
					AdditionalInfo: flow.CombineAdditionalInfo(req.AdditionalInfo, req.MockInstructions),
					Images:         images,
					Progress:       progressFunc(cmd, opts),
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func enhanceCmd(opts *options, newCompleter completerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "enhance <request.yaml>",
		Short: "Rewrite a request into a clearer query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}
			if err := req.requireQuery(); err != nil {
				return err
			}
			return withApp(cmd, opts, newCompleter, func(a *app) error {
				q, err := a.flows.Enhance(cmd.Context(), flow.EnhanceRequest{
					UserID:         opts.userID,
					Background:     req.Background,
					Requirements:   req.Requirements,
					AdditionalInfo: req.AdditionalInfo,
					Progress:       progressFunc(cmd, opts),
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), q)
			})
		},
	}
}

func feedbackCmd(opts *options, newCompleter completerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <request.yaml>",
		Short: "Revise test cases with human feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}
			if err := req.requireFeedback(); err != nil {
				return err
			}
			return withApp(cmd, opts, newCompleter, func(a *app) error {
				list, err := a.flows.ApplyFeedback(cmd.Context(), flow.FeedbackRequest{
					UserID:    opts.userID,
					TestCases: domain.TestCaseList{TestCases: req.TestCases},
					Feedback:  req.Feedback,
					Progress:  progressFunc(cmd, opts),
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), list)
			})
		},
	}
}

func statusCmd(opts *options, newCompleter completerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the block status of the current identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, newCompleter, func(a *app) error {
				status, err := a.flows.CheckBlockStatus(cmd.Context(), opts.userID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), struct {
					UserID         string `json:"userId"`
					IsBlocked      bool   `json:"isBlocked"`
					RemainingHours int64  `json:"remainingHours"`
					ViolationCount int    `json:"violationCount"`
				}{opts.userID, status.IsBlocked, status.RemainingHours(), status.ViolationCount})
			})
		},
	}
}
