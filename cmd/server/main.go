package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tutorlane/tutorlane/internal/classroom"
	"github.com/tutorlane/tutorlane/internal/config"
	"github.com/tutorlane/tutorlane/internal/database"
	"github.com/tutorlane/tutorlane/internal/handlers"
	"github.com/tutorlane/tutorlane/internal/turn"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/acme/autocert"
)

const AppVersion = "1.0.0"

func main() {
	httpOnly := flag.Bool("http-only", false, "Run without TLS (use behind a reverse proxy or for development)")
	selfSigned := flag.Bool("self-signed", false, "Enable HTTPS using a generated self-signed certificate")
	flag.Parse()

	cfg := config.Load(httpOnly)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	logger.Info(fmt.Sprintf("Tutorlane Server v%s", AppVersion))

	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return
	}

	turnServer, err := turn.Initialize(cfg.TURNPort, cfg.TURNRealm, logger)
	if err != nil {
		logger.Error("failed to initialize TURN server", "error", err)
		return
	}
	defer turnServer.Close()

	logger.Info(fmt.Sprintf("TURN server started at port %d", cfg.TURNPort))

	rooms := newRoomStore(cfg, logger)

	h := handlers.New(db, cfg, turnServer, rooms, logger)

	router := setupRouter(h, cfg, logger)

	startServer(router, cfg, *selfSigned, logger)
}

// newRoomStore wires the default in-memory store. Rooms persist for the
// process lifetime unless a TTL is configured; then a half-TTL sweep evicts
// abandoned ones.
func newRoomStore(cfg *config.Config, logger *slog.Logger) classroom.RoomStore {
	if cfg.RoomTTLMinutes <= 0 {
		return classroom.NewMemoryRoomStore()
	}
	ttl := time.Duration(cfg.RoomTTLMinutes) * time.Minute
	logger.Info(fmt.Sprintf("classroom room TTL enabled: %s", ttl))
	return classroom.NewMemoryRoomStoreTTL(ttl, ttl/2)
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(slogGinLogger(logger), gin.Recovery())

	// CORS middleware (for web app)
	router.Use(func(c *gin.Context) {
		origin := "*"
		if cfg.HTTPOnly && cfg.FrontendURI != "" {
			origin = cfg.FrontendURI
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := router.Group("/api")
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
		api.GET("/push/vapid-public-key", h.GetVAPIDPublicKey)

		authed := api.Group("")
		authed.Use(h.AuthMiddleware())
		{
			authed.GET("/auth/me", h.GetMe)
			authed.GET("/turn-config", h.GetTURNConfig)

			authed.POST("/bookings", h.CreateBooking)
			authed.GET("/bookings", h.ListBookings)
			authed.POST("/bookings/:booking_id/cancel", h.CancelBooking)

			authed.POST("/push/subscribe", h.SubscribePush)
			authed.POST("/push/unsubscribe", h.UnsubscribePush)

			room := authed.Group("/classroom/:room_id")
			{
				room.POST("/offer", h.PublishOffer)
				room.GET("/offer", h.FetchOffer)
				room.POST("/answer", h.PublishAnswer)
				room.GET("/answer", h.FetchAnswer)
				room.POST("/candidate", h.PublishCandidate)
				room.GET("/candidates", h.FetchCandidates)
				room.POST("/chat", h.PublishChat)
				room.GET("/chat", h.FetchChat)
				room.POST("/state", h.PublishPresence)
				room.GET("/state", h.FetchPresence)
			}
		}
	}

	return router
}

func startServer(router *gin.Engine, cfg *config.Config, selfSigned bool, logger *slog.Logger) {
	if cfg.HTTPOnly {
		startHTTP(router, cfg, logger)
		return
	}

	if selfSigned {
		startSelfSignedHTTPS(router, cfg, logger)
		return
	}

	// Normal mode: HTTPS with Let's Encrypt.
	certsDir := config.GetCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("failed to create certs directory", "error", err)
		return
	}

	normalizedDomain := normalizeDomain(cfg.Domain)
	logger.Info(fmt.Sprintf("Configured domain: %s (normalized: %s)", cfg.Domain, normalizedDomain))

	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if normalizeDomain(host) != normalizedDomain {
				// Silently reject - avoids log spam from bots/scanners.
				return fmt.Errorf("host %q not configured (expected %q)", host, normalizedDomain)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// HTTP on port 80 serves ACME challenges and redirects everything else.
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
			m.HTTPHandler(nil).ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})

	errorLog := log.New(newTLSErrorWriter(logger), "", log.LstdFlags)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}

	httpsServer := &http.Server{
		Addr:         ":" + cfg.HTTPSPort,
		Handler:      router,
		TLSConfig:    m.TLSConfig(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}

	go func() {
		logger.Info(fmt.Sprintf("HTTP server (ACME challenge & redirects) starting on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info(fmt.Sprintf("HTTPS server starting on port %s for domain: %s", cfg.HTTPSPort, normalizedDomain))
	if normalizedDomain == "localhost" || normalizedDomain == "127.0.0.1" {
		logger.Warn("Let's Encrypt will not work for localhost. Use --self-signed for local development.")
	}

	if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start HTTPS server", "error", err)
	}
}

func startHTTP(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("Starting HTTP server", "port", cfg.HTTPPort)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start HTTP server", "error", err)
	}
}

func startSelfSignedHTTPS(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	logger.Info("Self-signed TLS enabled - generating self-signed certificate")

	hosts := []string{"localhost"}
	if cfg.Domain != "" {
		hosts = []string{cfg.Domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		logger.Error("failed to generate self-signed certificate", "error", err)
		return
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logger.Error("failed to load self-signed certificate", "error", err)
		return
	}

	httpsServer := &http.Server{
		Addr:    ":" + cfg.HTTPSPort,
		Handler: router,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		redirectHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.Host
			if idx := strings.Index(host, ":"); idx != -1 {
				host = host[:idx]
			}
			target := "https://" + host + ":" + cfg.HTTPSPort + r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})
		httpServer := &http.Server{
			Addr:    ":" + cfg.HTTPPort,
			Handler: redirectHandler,
		}
		logger.Info(fmt.Sprintf("HTTP redirect server starting on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil {
			logger.Error("HTTP redirect server error", "error", err)
		}
	}()

	logger.Info(fmt.Sprintf("HTTPS server (self-signed) starting on port %s", cfg.HTTPSPort))

	if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start HTTPS server", "error", err)
	}
}

// normalizeDomain lowercases, trims and strips a www. prefix so host
// comparisons are stable.
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "www.")
	return domain
}

// generateSelfSignedCert creates a self-signed certificate for local development.
func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	dnsNames := make([]string, 0, len(hosts))
	ipAddrs := make([]net.IP, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if idx := strings.Index(h, ":"); idx != -1 {
			h = h[:idx]
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}

	commonName := "localhost"
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else if len(ipAddrs) > 0 {
		commonName = ipAddrs[0].String()
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Tutorlane Development"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certBuffer := new(bytes.Buffer)
	if err := pem.Encode(certBuffer, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyBuffer := new(bytes.Buffer)
	if err := pem.Encode(keyBuffer, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return certBuffer.Bytes(), keyBuffer.Bytes(), nil
}
