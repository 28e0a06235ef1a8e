package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fairdraw/raffled/internal/core/application"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Port uint32
}

func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("missing port")
	}
	return nil
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

type service struct {
	config Config
	appSvc application.Service
	server *http.Server
	hub    *hub
	done   chan struct{}
}

func NewService(svcConfig Config, appSvc application.Service) (*service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}

	svc := &service{
		config: svcConfig,
		appSvc: appSvc,
		hub:    newHub(),
		done:   make(chan struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := newHandler(appSvc)
	api := router.Group("/v1")
	{
		api.GET("/raffle", h.getRaffle)
		api.POST("/raffle/entries", h.enter)
		api.GET("/raffle/entries/:index", h.getEntry)
		api.GET("/raffle/upkeep", h.checkUpkeep)
		api.POST("/raffle/upkeep", h.performUpkeep)
		api.GET("/raffle/events", svc.streamEvents)
		api.GET("/rounds/:id", h.getRound)
	}

	svc.server = &http.Server{
		Addr:    svcConfig.address(),
		Handler: router,
	}

	return svc, nil
}

func (s *service) Start() error {
	if err := s.appSvc.Start(); err != nil {
		return fmt.Errorf("failed to start app service: %s", err)
	}

	go s.forwardNotifications()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to serve")
		}
	}()

	log.Infof("listening on %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to shutdown server")
	}

	s.appSvc.Stop()
	s.hub.close()
}

func (s *service) forwardNotifications() {
	for {
		select {
		case <-s.done:
			return
		case notification, ok := <-s.appSvc.Notifications():
			if !ok {
				return
			}
			s.hub.broadcast(notification)
		}
	}
}
