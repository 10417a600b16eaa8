// Package main provides the relay server: WebSocket clients, room registry,
// game kinds and the admin API behind one HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/config"
	"github.com/cory-johannsen/roomrelay/internal/frontend/admin"
	"github.com/cory-johannsen/roomrelay/internal/frontend/websocket"
	"github.com/cory-johannsen/roomrelay/internal/game"
	"github.com/cory-johannsen/roomrelay/internal/game/cardgame"
	"github.com/cory-johannsen/roomrelay/internal/game/dice"
	"github.com/cory-johannsen/roomrelay/internal/identity"
	"github.com/cory-johannsen/roomrelay/internal/observability"
	"github.com/cory-johannsen/roomrelay/internal/room"
	"github.com/cory-johannsen/roomrelay/internal/router"
	"github.com/cory-johannsen/roomrelay/internal/scripting"
	"github.com/cory-johannsen/roomrelay/internal/server"
	"github.com/cory-johannsen/roomrelay/internal/session"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server", zap.String("addr", cfg.Server.Addr()))

	a, err := build(cfg, logger)
	if err != nil {
		logger.Fatal("building relay", zap.Error(err))
	}
	defer a.scripts.Close()

	httpSvc := server.NewHTTPService(cfg.Server, a.mux, logger)
	reaper := room.NewReaper(a.rooms, cfg.Rooms.ReapInterval, cfg.Rooms.EmptyRoomGrace, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("reaper", &server.FuncService{
		StartFn: reaper.Start,
		StopFn:  reaper.Stop,
	})
	lifecycle.Add("http", &server.FuncService{
		StartFn: httpSvc.Start,
		StopFn: func() {
			// Sessions first: Shutdown does not wait for hijacked connections.
			a.ws.Stop()
			httpSvc.Stop()
		},
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("game_kinds", a.games.Names()),
		zap.String("websocket", fmt.Sprintf("%s%s", cfg.Server.Addr(), websocket.Path)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// app holds the wired relay components.
type app struct {
	games   *game.Registry
	scripts *scripting.Manager
	conns   *session.Registry
	rooms   *room.Registry
	router  *router.Router
	ws      *websocket.Handler
	mux     *http.ServeMux
}

// build wires every relay component from cfg.
//
// Postcondition: Returns a ready app or an error if a game kind fails to load.
func build(cfg config.Config, logger *zap.Logger) (*app, error) {
	src := dice.NewCryptoSource()

	games := game.NewRegistry()
	if err := games.Register(cardgame.Kind(src)); err != nil {
		return nil, err
	}

	scripts := scripting.NewManager(src, cfg.Games.InstructionLimit, logger.Named("scripting"))
	if cfg.Games.Catalogue != "" {
		cat, err := game.LoadCatalogue(cfg.Games.Catalogue)
		if err != nil {
			return nil, err
		}
		if err := scripts.Register(games, cat); err != nil {
			scripts.Close()
			return nil, err
		}
	}
	if _, err := games.Kind(cfg.Games.DefaultKind); err != nil {
		scripts.Close()
		return nil, fmt.Errorf("games.default_kind: %w", err)
	}

	var ident identity.Provider
	if len(cfg.Identity.StaticTokens) > 0 {
		logger.Warn("using static identity tokens", zap.Int("tokens", len(cfg.Identity.StaticTokens)))
		ident = identity.NewStaticProviderFromConfig(cfg.Identity.StaticTokens)
	} else {
		ident = identity.NewHTTPProvider(cfg.Identity.Endpoint, cfg.Identity.Timeout, logger.Named("identity"))
	}

	conns := session.NewRegistry(logger.Named("session"))
	rooms := room.NewRegistry(room.Limits{
		LobbyID:       cfg.Rooms.LobbyID,
		LobbyCapacity: cfg.Rooms.LobbyCapacity,
		ChatCapacity:  cfg.Rooms.ChatCapacity,
		GameCapacity:  cfg.Rooms.GameCapacity,
		MaxCapacity:   cfg.Rooms.MaxCapacity,
	}, conns, logger.Named("room"), room.WithGames(games))

	rt := router.New(rooms, conns, ident, games, cfg.Games.DefaultKind, logger.Named("router"))
	ws := websocket.NewHandler(cfg.Session, rt, logger.Named("websocket"))

	mux := http.NewServeMux()
	mux.Handle(websocket.Path, ws)
	admin.NewHandler(rooms, conns, admin.CounterFunc(ws.Active), logger.Named("admin")).Register(mux)

	return &app{
		games:   games,
		scripts: scripts,
		conns:   conns,
		rooms:   rooms,
		router:  rt,
		ws:      ws,
		mux:     mux,
	}, nil
}
