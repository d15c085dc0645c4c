package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	commonauth "rtc_server/server/common/auth"
	"rtc_server/server/common/infra/cache"
	realtimeapi "rtc_server/server/realtime/api"
	"rtc_server/server/realtime/service"
)

type Server struct {
	HTTPServer *http.Server

	coord     *service.Coordinator
	publisher *service.NotifyPublisher
}

func NewServer(cfg Config) (*Server, error) {
	storeClient := service.NewStoreClient(cfg.StoreEndpoints...)
	redisClient := cache.NewClient(cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	recorder := service.NewRecorder(storeClient, redisClient)

	var publisher *service.NotifyPublisher
	var notifier service.NotificationPublisher
	if cfg.UseMQ {
		p, err := service.NewNotifyPublisher(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			return nil, err
		}
		publisher = p
		notifier = p
	}

	media := service.NewMediaTokens(cfg.MediaAppID, cfg.MediaAppSecret, cfg.MediaTokenTTL)
	coord := service.NewCoordinator(storeClient, recorder, notifier, media, service.CoordinatorConfig{
		CallDurationLimit: cfg.CallDurationLimit,
	})

	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	h := realtimeapi.NewHandler(coord, auth)

	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, coord: coord, publisher: publisher}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Close()
	}
	s.coord.Close()
	return s.HTTPServer.Shutdown(ctx)
}
