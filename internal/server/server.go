package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/battexec/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	tickTimeout time.Duration
	rootContext *actor.RootContext
	masterActor *actor.PID
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID) *Server {
	// manual ticks may run up to the tick timeout before answering
	tickTimeout := cfg.Control.TickTimeout() + 10*time.Second
	return &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		httpLog:     cfg.HttpLog,
		tickTimeout: tickTimeout,
	}
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID) *http.Server {
	NewServer := newServer(cfg, rootContext, masterActor)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: NewServer.tickTimeout + 10*time.Second,
	}

	return server
}
