// Command opsdeskd runs the conversational IT helpdesk daemon: the
// REST API, the chat connectors, and the timed background jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opsdesk-io/opsdesk/internal/alerts"
	apiPkg "github.com/opsdesk-io/opsdesk/internal/api"
	"github.com/opsdesk-io/opsdesk/internal/config"
	"github.com/opsdesk-io/opsdesk/internal/connector"
	slackconn "github.com/opsdesk-io/opsdesk/internal/connector/slack"
	"github.com/opsdesk-io/opsdesk/internal/connector/telegram"
	"github.com/opsdesk-io/opsdesk/internal/dialogue"
	"github.com/opsdesk-io/opsdesk/internal/logbuf"
	"github.com/opsdesk-io/opsdesk/internal/nlu"
	"github.com/opsdesk-io/opsdesk/internal/provider"
	"github.com/opsdesk-io/opsdesk/internal/routing"
	"github.com/opsdesk-io/opsdesk/internal/scheduler"
	"github.com/opsdesk-io/opsdesk/internal/search"
	"github.com/opsdesk-io/opsdesk/internal/session"
	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("opsdeskd starting", "desk_id", cfg.Desk.ID)

	// 1. Providers
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			providers[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithModel(pcfg.Model))
			}
			providers[name] = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}

	nluProvName := cfg.NLU.Provider
	if nluProvName == "" {
		nluProvName = "default"
	}
	nluProv, ok := providers[nluProvName]
	if !ok {
		logger.Error("nlu provider not configured", "name", nluProvName)
		os.Exit(1)
	}
	var nluOpts []nlu.Option
	if cfg.NLU.Model != "" {
		nluOpts = append(nluOpts, nlu.WithModel(cfg.NLU.Model))
	}
	nluOpts = append(nluOpts, nlu.WithLogger(logger.With("component", "nlu")))
	understander := nlu.New(nluProv, nluOpts...)

	// 2. Stores
	os.MkdirAll(cfg.Desk.DataDir, 0o755)
	store, err := ticket.NewSQLiteStore(cfg.Desk.DataDir + "/tickets.db")
	if err != nil {
		logger.Error("failed to open ticket store", "error", err)
		os.Exit(1)
	}

	kb, err := search.NewKBIndex(cfg.Desk.DataDir+"/kb.db", logger.With("component", "kb"))
	if err != nil {
		logger.Error("failed to open kb index", "error", err)
		os.Exit(1)
	}

	alertSvc := alerts.NewService(cfg.Alerts, logger.With("component", "alerts"))

	// 3. Information tiers + routing graph
	var wiki search.Searcher
	if cfg.Search.WikiURL != "" {
		wiki = search.NewWikiClient(cfg.Search.WikiURL, logger.With("component", "wiki"))
	}
	web := search.NewWebSearcher(cfg.Search.BraveAPIKey, logger.With("component", "web"))
	graph := routing.NewGraph(understander, alertSvc, wiki, kb, web, logger.With("component", "routing"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Scheduler + session controller
	sched := scheduler.New(logger.With("component", "scheduler"))
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	engine := dialogue.NewEngine(understander, alertSvc, logger.With("component", "dialogue"))
	controller := session.NewController(
		session.NewMemoryStore(), engine, graph, store, sched,
		session.Options{CloseDelay: cfg.CloseDelay(), IdleTimeout: cfg.IdleTimeout()},
		logger.With("component", "session"),
	)
	if _, err := sched.Every("@every 1m", controller.EvictIdle); err != nil {
		logger.Error("failed to register eviction sweep", "error", err)
		os.Exit(1)
	}

	// 5. Connectors
	if cfg.Connectors.Telegram != nil {
		tgConn, err := telegram.New(telegram.Config{
			Token:     cfg.Connectors.Telegram.Token,
			AllowFrom: cfg.Connectors.Telegram.AllowFrom,
		}, chatHandler(controller), logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
	}
	if cfg.Connectors.Slack != nil {
		slConn, err := slackconn.New(slackconn.Config{
			BotToken: cfg.Connectors.Slack.BotToken,
			AppToken: cfg.Connectors.Slack.AppToken,
		}, chatHandler(controller), logger.With("connector", "slack"))
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "slack", func() { slConn.Start(ctx) })
	}

	// 6. API server
	apiSrv := apiPkg.NewServer(controller, store, alertSvc, kb, logBuf, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"))
	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	kb.Close()
	logger.Info("opsdeskd stopped")
}

// chatHandler adapts the session controller to the connector handler:
// platform messages become chat turns, commands map to session
// actions, and the assistant's newest turn is the reply.
func chatHandler(controller *session.Controller) connector.InboundHandler {
	return func(ctx context.Context, msg connector.InboundMessage) (string, error) {
		req := protocol.ChatTurnRequest{
			SessionID: msg.Channel + ":" + msg.ChatID,
			Message:   msg.Content,
			Action:    protocol.ActionContinue,
		}
		switch {
		case msg.Content == "/start":
			req.Action = protocol.ActionStart
			req.Message = ""
		case msg.Content == "/new" || strings.HasPrefix(msg.Content, "/new "):
			req.Action = protocol.ActionReset
			req.Message = ""
		}

		resp, err := controller.HandleTurn(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Turns) == 0 {
			return "", nil
		}
		last := resp.Turns[len(resp.Turns)-1]
		if last.Role != protocol.RoleAssistant {
			return "", nil
		}
		return last.Content, nil
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
