package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/fitauth/internal/authkit"
	"github.com/tyemirov/fitauth/internal/authkitpg"
	"github.com/tyemirov/fitauth/internal/events"
	"github.com/tyemirov/fitauth/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

// buildTokenValidator returns the validator and the issuers it accepts for the configured identity issuer.
var buildTokenValidator = func(ctx context.Context, issuer string) (authkit.TokenValidator, []string, error) {
	if isGoogleIssuer(issuer) {
		validator, err := authkit.NewGoogleTokenValidator(ctx)
		if err != nil {
			return nil, nil, err
		}
		return validator, authkit.GoogleIssuers, nil
	}
	validator, err := authkit.NewOIDCTokenValidator(ctx, issuer)
	if err != nil {
		return nil, nil, err
	}
	return validator, []string{issuer}, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "fitauth",
		Short:   "Google sign-in gateway with ID token verification, profile persistence, and fitness account linking",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID (also the ID token audience)")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("google_redirect_url", "", "Redirect URL registered for /oauth2callback")
	rootCmd.Flags().String("identity_issuer", "", "OIDC issuer URL; empty for Google")
	rootCmd.Flags().String("fitness_client_id", "", "Fitness provider client ID; empty disables linking")
	rootCmd.Flags().String("fitness_client_secret", "", "Fitness provider client secret")
	rootCmd.Flags().String("fitness_redirect_url", "", "Redirect URL registered for /auth/fitness/callback")
	rootCmd.Flags().String("fitness_auth_url", authkit.DefaultFitnessAuthURL, "Fitness provider authorization endpoint")
	rootCmd.Flags().String("fitness_token_url", authkit.DefaultFitnessTokenURL, "Fitness provider token endpoint")
	rootCmd.Flags().String("fitness_success_redirect", "", "Where to send the browser after a successful link; empty returns JSON")
	rootCmd.Flags().String("database_url", "", "Profile store URL (postgres://, sqlite://, mongodb://; leave empty for in-memory store)")
	rootCmd.Flags().String("store_driver", storeDriverGORM, "SQL store driver for postgres URLs: gorm or pgx")
	rootCmd.Flags().String("mongo_database", "fitauth", "MongoDB database name")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Float64("rate_limit_rps", 10, "Per-client requests per second; 0 disables rate limiting")
	rootCmd.Flags().Int("rate_limit_burst", 20, "Per-client burst size")
	rootCmd.Flags().String("amqp_url", "", "RabbitMQ URL for user events; empty disables publishing")
	rootCmd.Flags().String("amqp_exchange", "fitauth.events", "RabbitMQ topic exchange for user events")
	rootCmd.Flags().Duration("request_timeout", 10*time.Second, "Deadline applied to each request")

	for _, flagName := range []string{
		"listen_addr", "google_client_id", "google_client_secret", "google_redirect_url", "identity_issuer",
		"fitness_client_id", "fitness_client_secret", "fitness_redirect_url", "fitness_auth_url", "fitness_token_url",
		"fitness_success_redirect", "database_url", "store_driver", "mongo_database", "enable_cors",
		"cors_allowed_origins", "rate_limit_rps", "rate_limit_burst", "amqp_url", "amqp_exchange", "request_timeout",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	storeDriverGORM = "gorm"
	storeDriverPGX  = "pgx"

	configCodeMissingGoogleClientID     = "config.missing_google_client_id"
	configCodeMissingGoogleClientSecret = "config.missing_google_client_secret"
	configCodeMissingGoogleRedirectURL  = "config.missing_google_redirect_url"
	configCodeIncompleteFitnessConfig   = "config.incomplete_fitness_config"
	configCodeInvalidStoreDriver        = "config.invalid_store_driver"
	configCodeInvalidRateLimit          = "config.invalid_rate_limit"
	configCodeInvalidRequestTimeout     = "config.invalid_request_timeout"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
	configCodeTokenValidatorInit        = "config.token_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates settings bound through viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	googleClientID := strings.TrimSpace(viper.GetString("google_client_id"))
	if googleClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}
	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientSecret, "google_client_secret must be provided")
	}
	googleRedirectURL := viper.GetString("google_redirect_url")
	if googleRedirectURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleRedirectURL, "google_redirect_url must be provided")
	}

	serverConfig := authkit.ServerConfig{
		GoogleClientID:         googleClientID,
		GoogleClientSecret:     googleClientSecret,
		GoogleRedirectURL:      googleRedirectURL,
		IdentityIssuer:         strings.TrimSpace(viper.GetString("identity_issuer")),
		FitnessClientID:        viper.GetString("fitness_client_id"),
		FitnessClientSecret:    viper.GetString("fitness_client_secret"),
		FitnessRedirectURL:     viper.GetString("fitness_redirect_url"),
		FitnessAuthURL:         viper.GetString("fitness_auth_url"),
		FitnessTokenURL:        viper.GetString("fitness_token_url"),
		FitnessSuccessRedirect: viper.GetString("fitness_success_redirect"),
		RequestTimeout:         viper.GetDuration("request_timeout"),
	}

	fitnessProvided := 0
	for _, value := range []string{serverConfig.FitnessClientID, serverConfig.FitnessClientSecret, serverConfig.FitnessRedirectURL} {
		if value != "" {
			fitnessProvided++
		}
	}
	if fitnessProvided != 0 && fitnessProvided != 3 {
		return authkit.ServerConfig{}, configError(configCodeIncompleteFitnessConfig, "fitness_client_id, fitness_client_secret, and fitness_redirect_url must be provided together")
	}

	if storeDriver := viper.GetString("store_driver"); storeDriver != "" && storeDriver != storeDriverGORM && storeDriver != storeDriverPGX {
		return authkit.ServerConfig{}, configError(configCodeInvalidStoreDriver, "store_driver must be gorm or pgx")
	}
	if viper.GetFloat64("rate_limit_rps") < 0 || viper.GetInt("rate_limit_burst") < 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRateLimit, "rate_limit_rps and rate_limit_burst must not be negative")
	}
	if viper.GetFloat64("rate_limit_rps") > 0 && viper.GetInt("rate_limit_burst") < 1 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRateLimit, "rate_limit_burst must be at least 1 when rate limiting is enabled")
	}
	if serverConfig.RequestTimeout <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}
	return serverConfig, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	rateLimitRPS := viper.GetFloat64("rate_limit_rps")
	rateLimitBurst := viper.GetInt("rate_limit_burst")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	profileStore, closeStore, storeErr := openProfileStore(commandContext, logger)
	if storeErr != nil {
		return storeErr
	}
	defer closeStore()

	validator, allowedIssuers, validatorErr := buildTokenValidator(commandContext, serverConfig.IdentityIssuer)
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeTokenValidatorInit, validatorErr)
	}
	verifier, verifierErr := authkit.NewIdentityVerifier(validator, allowedIssuers, logger)
	if verifierErr != nil {
		return verifierErr
	}

	exchanger, exchangerErr := authkit.NewCredentialExchanger(authkit.ExchangerConfig{
		ClientID:     serverConfig.GoogleClientID,
		ClientSecret: serverConfig.GoogleClientSecret,
		RedirectURL:  serverConfig.GoogleRedirectURL,
	})
	if exchangerErr != nil {
		return exchangerErr
	}

	var fitnessExchanger authkit.LinkExchanger
	if serverConfig.FitnessEnabled() {
		built, fitnessErr := authkit.NewFitnessExchanger(authkit.FitnessConfig{
			ClientID:     serverConfig.FitnessClientID,
			ClientSecret: serverConfig.FitnessClientSecret,
			RedirectURL:  serverConfig.FitnessRedirectURL,
			AuthURL:      serverConfig.FitnessAuthURL,
			TokenURL:     serverConfig.FitnessTokenURL,
		})
		if fitnessErr != nil {
			return fitnessErr
		}
		fitnessExchanger = built
	} else {
		logger.Info("fitness linking disabled", zap.String("code", "link.disabled"))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eventMetrics, metricsErr := authkit.NewPrometheusMetrics(registry)
	if metricsErr != nil {
		return metricsErr
	}
	httpMetrics, metricsErr := web.NewHTTPMetrics(registry)
	if metricsErr != nil {
		return metricsErr
	}

	publisher, publisherErr := openPublisher(logger)
	if publisherErr != nil {
		return publisherErr
	}
	defer func() { _ = publisher.Close() }()

	gateway, gatewayErr := authkit.NewGateway(authkit.GatewayDependencies{
		Exchanger: exchanger,
		Verifier:  verifier,
		Profiles:  profileStore,
		Fitness:   fitnessExchanger,
		Audience:  serverConfig.GoogleClientID,
		Metrics:   eventMetrics,
		Publisher: publisher,
		Logger:    logger,
	})
	if gatewayErr != nil {
		return gatewayErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	router.Use(httpMetrics.Middleware())

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}
	if rateLimitRPS > 0 {
		router.Use(web.RateLimiter(shutdownCtx, logger, rateLimitRPS, rateLimitBurst))
	}
	router.Use(web.RequestTimeout(serverConfig.RequestTimeout))

	authkit.MountAuthRoutes(router, serverConfig, gateway, logger)
	router.GET("/api/users/:user_id", web.HandleProfileLookup(logger, gateway))
	router.GET("/metrics", web.MetricsHandler(registry))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// openProfileStore selects the backend from database_url and store_driver and returns its release func.
func openProfileStore(ctx context.Context, logger *zap.Logger) (authkit.ProfileStore, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		logger.Info("using in-memory profile store")
		return authkit.NewMemoryProfileStore(), func() {}, nil
	}

	scheme := ""
	if parsed, err := url.Parse(databaseURL); err == nil {
		scheme = strings.ToLower(parsed.Scheme)
	}
	switch {
	case scheme == "mongodb" || scheme == "mongodb+srv":
		store, err := authkit.NewMongoProfileStore(ctx, databaseURL, viper.GetString("mongo_database"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using persistent profile store", zap.String("driver", store.Driver()))
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}, nil
	case viper.GetString("store_driver") == storeDriverPGX && (scheme == "postgres" || scheme == "postgresql"):
		pool, err := authkitpg.BuildPool(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := authkitpg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store := authkitpg.NewPostgresProfileStore(pool)
		logger.Info("using persistent profile store", zap.String("driver", store.Driver()))
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := authkit.NewDatabaseProfileStore(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using persistent profile store", zap.String("driver", store.Driver()))
		return store, func() { _ = store.Close() }, nil
	}
}

func openPublisher(logger *zap.Logger) (events.Publisher, error) {
	amqpURL := viper.GetString("amqp_url")
	if amqpURL == "" {
		return events.NewNoop(), nil
	}
	publisher, err := events.NewRabbitPublisher(amqpURL, viper.GetString("amqp_exchange"))
	if err != nil {
		return nil, err
	}
	logger.Info("publishing user events", zap.String("exchange", viper.GetString("amqp_exchange")))
	return publisher, nil
}

func isGoogleIssuer(issuer string) bool {
	if issuer == "" {
		return true
	}
	for _, googleIssuer := range authkit.GoogleIssuers {
		if strings.TrimSuffix(issuer, "/") == googleIssuer {
			return true
		}
	}
	return false
}

const requestIDHeader = "X-Request-ID"

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		requestID := contextGin.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		contextGin.Header(requestIDHeader, requestID)
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("request_id", requestID),
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
