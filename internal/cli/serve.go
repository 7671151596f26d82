package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/analyst/api"
	"github.com/malbeclabs/analyst/api/handlers"
	"github.com/malbeclabs/analyst/api/metrics"
	"github.com/malbeclabs/analyst/pkg/chat"
	"github.com/malbeclabs/analyst/pkg/dashboard"
	"github.com/malbeclabs/analyst/pkg/notify"
)

type ServeCmd struct {
	info BuildInfo
}

func NewServeCmd(info BuildInfo) *ServeCmd {
	return &ServeCmd{info: info}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat, dashboard and WebSocket API",
		RunE: withApp(func(ctx context.Context, log *slog.Logger, app *App, cmd *cobra.Command, args []string) error {
			metrics.BuildInfo.WithLabelValues(c.info.Version, c.info.Commit, c.info.Date).Set(1)
			s := app.settings

			p, err := app.Pipeline()
			if err != nil {
				return err
			}

			hub, err := chat.NewHub(&chat.HubConfig{Logger: log})
			if err != nil {
				return fmt.Errorf("failed to create chat hub: %w", err)
			}
			defer hub.Close()

			if s.SlackBotToken != "" {
				notifier, err := notify.NewSlackNotifier(&notify.SlackConfig{
					Logger:  log,
					Client:  notify.NewSlackClient(s.SlackBotToken),
					Channel: s.SlackChannel,
				})
				if err != nil {
					return fmt.Errorf("failed to create slack notifier: %w", err)
				}
				hub.Register(notifier)
				log.Info("serve: slack notifications enabled", "channel", s.SlackChannel)
			}

			chatSvc, err := chat.NewService(&chat.ServiceConfig{
				Logger:    log,
				Processor: p,
				Hub:       hub,
			})
			if err != nil {
				return fmt.Errorf("failed to create chat service: %w", err)
			}
			dashSvc, err := dashboard.NewService(&dashboard.ServiceConfig{
				Logger:  log,
				Dataset: app.Dataset,
			})
			if err != nil {
				return fmt.Errorf("failed to create dashboard service: %w", err)
			}

			origins := s.AllowedOrigins
			if len(origins) == 0 {
				origins = api.DefaultAllowedOrigins
			}
			h, err := handlers.New(&handlers.Config{
				Logger:         log,
				Chat:           chatSvc,
				Dashboard:      dashSvc,
				AllowedOrigins: origins,
			})
			if err != nil {
				return fmt.Errorf("failed to create handlers: %w", err)
			}

			server, err := api.NewServer(&api.Config{
				Logger:         log,
				Handlers:       h,
				Addr:           ":" + s.Port,
				AllowedOrigins: origins,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			log.Info("serve: starting",
				"version", c.info.Version,
				"engine", app.Engine.Name(),
				"llm", s.LLM,
				"model", s.Model,
				"code_evaluation", s.EnableCodeEvaluation,
			)
			return server.Run(ctx)
		}),
	}
	cmd.Flags().String("port", defaultPort, "listen port (env: PORT)")
	cmd.Flags().Bool("evaluate", false, "score generated code before answering (env: ENABLE_CODE_EVALUATION)")
	cmd.Flags().Bool("regenerate", false, "rewrite low-scoring answers automatically (env: ANALYST_REGENERATE)")
	return cmd
}
