// File: cmd/serve.go
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/server"
	"github.com/xkilldash9x/droidpilot/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over a local WebSocket endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		hub := server.NewHub(logger)
		ag, err := buildAgent(hub, logger)
		if err != nil {
			return err
		}
		hub.BindRunner(&agentRunner{agent: ag})

		srv := server.New(cfg.Server, hub, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// agentRunner adapts *agent.Agent to the hub's runner interface.
type agentRunner struct {
	agent *agent.Agent
}

var _ server.InstructionRunner = (*agentRunner)(nil)

func (r *agentRunner) ExecuteInstruction(ctx context.Context, conversationID, instruction string) error {
	_, err := r.agent.ExecuteInstruction(ctx, conversationID, instruction)
	return err
}

func (r *agentRunner) ClearSession(conversationID string) {
	if sess, ok := r.agent.Sessions().Get(conversationID); ok {
		sess.Clear()
	}
}

func (r *agentRunner) History(conversationID string) interface{} {
	sess, ok := r.agent.Sessions().Get(conversationID)
	if !ok {
		return []session.HistoryItem{}
	}
	return sess.History()
}

func (r *agentRunner) HistoryByID(conversationID, historyID string) (interface{}, bool) {
	sess, ok := r.agent.Sessions().Get(conversationID)
	if !ok {
		return nil, false
	}
	item, ok := sess.HistoryByID(historyID)
	if !ok {
		return nil, false
	}
	return item, true
}

func (r *agentRunner) DeleteHistory(conversationID, historyID string) bool {
	sess, ok := r.agent.Sessions().Get(conversationID)
	if !ok {
		return false
	}
	return sess.DeleteHistoryByID(historyID)
}
