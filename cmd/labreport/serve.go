package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/labreport"
	"github.com/a-h/labreport/auth"
	generatepost "github.com/a-h/labreport/handlers/generate/post"
	"github.com/a-h/labreport/models"
	"github.com/a-h/respond"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type ServeCommand struct {
	Pipeline       PipelineFlags `embed:""`
	ListenAddr     string        `help:"The address to listen on." env:"LISTEN_ADDR" default:"localhost:9020"`
	TLSCertFile    string        `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile     string        `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	APIKeysFile    string        `help:"The file containing a JSON map of API keys to usernames. Authentication is disabled when empty." env:"API_KEYS_FILE" default:""`
	TempDir        string        `help:"The directory uploads are written to while a report is generated." env:"TEMP_DIR" default:""`
	MaxUploadBytes int64         `help:"The maximum size of an upload request in bytes." env:"MAX_UPLOAD_BYTES" default:"33554432"`
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.Pipeline.LogLevel)

	p, err := c.Pipeline.newPipeline(log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	mux := http.NewServeMux()

	gph := generatepost.New(log, p, c.TempDir, c.MaxUploadBytes)
	mux.Handle("POST /generate", gph)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.WithJSON(w, models.HealthResponse{Status: "ok", Version: labreport.Version}, http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if c.APIKeysFile != "" {
		apiKeyToUserName, err := auth.LoadFromFile(c.APIKeysFile)
		if err != nil {
			return fmt.Errorf("failed to load API keys: %w", err)
		}
		handler = auth.New(apiKeyToUserName, mux, "/healthz", "/metrics")
	} else {
		log.Warn("API key authentication is disabled")
	}
	withCORS := cors.AllowAll().Handler(handler)

	log.Info("Listening", slog.String("addr", c.ListenAddr))
	s := &http.Server{
		Addr:    c.ListenAddr,
		Handler: withCORS,
	}
	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down", slog.Any("error", err))
		}
	}()
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		err = s.ListenAndServeTLS(c.TLSCertFile, c.TLSKeyFile)
	} else {
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
