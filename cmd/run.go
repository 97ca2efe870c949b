// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/adb"
	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Execute a single natural-language instruction against the device.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		ag, err := buildAgent(nil, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := ag.ExecuteInstruction(ctx, "cli", args[0])
		if err != nil {
			return err
		}

		if result.Result != "" {
			fmt.Println(result.Result)
		}
		logger.Info("Run finished",
			zap.Bool("completed", result.Completed),
			zap.Int("turns", result.Turns))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// buildAgent wires the device bridge, the model gateway and the session store
// into an Agent. sink may be nil for quiet one-shot runs.
func buildAgent(sink schemas.EventSink, logger *zap.Logger) (*agent.Agent, error) {
	bridge, err := adb.New(cfg.Device, logger)
	if err != nil {
		return nil, err
	}

	llm, err := llmclient.NewGeminiClient(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(cfg.Agent.HistorySize)
	return agent.New(cfg.Agent, bridge, llm, sessions, sink, logger), nil
}
