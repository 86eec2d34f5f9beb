package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"doubtdesk/internal/api"
	"doubtdesk/internal/config"
	"doubtdesk/internal/controller"
	"doubtdesk/internal/doubts"
	"doubtdesk/internal/localstore"
	"doubtdesk/internal/logger"
	"doubtdesk/internal/realtime"
	"doubtdesk/internal/session"
	"doubtdesk/pkg/interfaces"
)

const module = "app"

// Application owns every long-lived client object. Views borrow from it
// instead of reaching for package globals.
type Application struct {
	config *config.Config
	logger logger.ILogger

	local   *localstore.Store
	jar     http.CookieJar
	apiURL  *url.URL
	rtURL   *url.URL
	client  *api.Client
	mentor  *api.MentorClient
	admin   *api.AdminClient
	session *session.Store
	doubts  *doubts.Store
	channel *realtime.Channel

	mu        sync.Mutex
	loggedOut bool
	stopped   bool
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Local store → Cookie jar → REST clients → Stores → Realtime channel
func NewApplication(cfg *config.Config, log logger.ILogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	apiURL, _ := url.Parse(cfg.API.BaseURL)
	rtURL, _ := url.Parse(cfg.Realtime.URL)

	// STEP 1: Open the local preference and cookie store
	local, err := localstore.Open(cfg.Storage.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// STEP 2: Build the shared cookie jar, restoring the saved session first
	// so an explicit cookie from configuration overrides it
	jar, err := api.NewJar()
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	for _, u := range []*url.URL{apiURL, rtURL} {
		if err := local.RestoreJar(context.Background(), jar, u); err != nil {
			log.Warn(module, "saved session cookies unreadable", map[string]interface{}{"host": u.Host, "error": err})
		}
	}
	if cfg.API.SessionCookie != "" {
		cookie, err := api.ParseCookie(cfg.API.SessionCookie)
		if err != nil {
			local.Close()
			return nil, err
		}
		api.SeedCookie(jar, cookie, apiURL, rtURL)
	}

	// STEP 3: REST resource clients over the jar
	client, err := api.NewClient(api.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Jar:     jar,
	}, log)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to initialize API client: %w", err)
	}

	// STEP 4: Client-side state
	sessionStore := session.NewStore(api.NewAuthClient(client), log)
	doubtStore := doubts.NewStore(log)

	// STEP 5: The realtime channel, dialing transports in configured order
	transports, err := buildTransports(cfg.Realtime)
	if err != nil {
		local.Close()
		return nil, err
	}
	channel, err := realtime.NewChannel(realtime.Options{
		Endpoint:    cfg.Realtime.URL,
		Transports:  transports,
		Jar:         jar,
		DialTimeout: cfg.Realtime.DialTimeout,
		QueueSize:   cfg.Realtime.BufferSize,
		Reconnect:   reconnectPolicy(cfg.Realtime.Reconnect),
	}, log)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to initialize realtime channel: %w", err)
	}

	return &Application{
		config:  cfg,
		logger:  log,
		local:   local,
		jar:     jar,
		apiURL:  apiURL,
		rtURL:   rtURL,
		client:  client,
		mentor:  api.NewMentorClient(client, cfg.API.CacheTTL),
		admin:   api.NewAdminClient(client),
		session: sessionStore,
		doubts:  doubtStore,
		channel: channel,
	}, nil
}

// reconnectPolicy maps the config section; a missing section disables reconnection
func reconnectPolicy(rc *config.ReconnectConfig) realtime.ReconnectPolicy {
	if rc == nil {
		return realtime.ReconnectPolicy{}
	}
	return realtime.ReconnectPolicy{
		Enabled:         rc.Enabled,
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
		Multiplier:      rc.Multiplier,
		Jitter:          rc.Jitter,
		MaxRetries:      rc.MaxRetries,
	}
}

func buildTransports(cfg *config.RealtimeConfig) ([]interfaces.Transport, error) {
	var transports []interfaces.Transport
	for _, name := range cfg.Transports {
		switch name {
		case "websocket":
			transports = append(transports, realtime.NewWebSocketTransport(
				cfg.PingInterval, cfg.ReadTimeout, cfg.WriteTimeout, cfg.BufferSize))
		case "polling":
			transports = append(transports, realtime.NewPollingTransport(
				nil, cfg.ReadTimeout, cfg.WriteTimeout, cfg.BufferSize))
		default:
			return nil, fmt.Errorf("unknown realtime transport %q", name)
		}
	}
	if len(transports) == 0 {
		return nil, realtime.ErrNoTransports
	}
	return transports, nil
}

// Start warms the backend up and resolves who is signed in.
// Neither step fails the start; an unreachable backend leaves the
// session unauthenticated.
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Health probe wakes backends that idle out
	if err := app.client.Health(ctx); err != nil {
		app.logger.Warn(module, "backend health probe failed", map[string]interface{}{
			"base_url": app.apiURL.String(),
			"error":    err,
		})
	}

	// STEP 2: Resolve the current session
	app.session.FetchSession(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := app.session.Snapshot()
	details := map[string]interface{}{"authenticated": snap.Authenticated}
	if snap.Principal != nil {
		details["user_id"] = snap.Principal.ID
		details["role"] = snap.Principal.Role
	}
	app.logger.Info(module, "application started", details)
	return nil
}

// Logout ends the session on the backend and forgets the saved cookies
// and the doubts loaded for the previous user
func (app *Application) Logout(ctx context.Context) {
	app.channel.Disconnect()
	app.session.Logout(ctx)
	app.doubts.Reset()

	app.mu.Lock()
	app.loggedOut = true
	app.mu.Unlock()

	for _, u := range []*url.URL{app.apiURL, app.rtURL} {
		if err := app.local.ClearCookies(ctx, u.Host); err != nil {
			app.logger.Warn(module, "failed to clear saved cookies", map[string]interface{}{"host": u.Host, "error": err})
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: Realtime → Cookie persistence → Local store
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	if app.stopped {
		app.mu.Unlock()
		return nil
	}
	app.stopped = true
	persist := !app.loggedOut
	app.mu.Unlock()

	// STEP 1: Drop the realtime connection and every subscription
	app.channel.Disconnect()

	// STEP 2: Save the jar so the next invocation reuses the session
	if persist {
		for _, u := range []*url.URL{app.apiURL, app.rtURL} {
			if err := app.local.PersistJar(ctx, app.jar, u); err != nil {
				app.logger.Warn(module, "failed to save session cookies", map[string]interface{}{"host": u.Host, "error": err})
			}
		}
	}

	// STEP 3: Close the local store
	if err := app.local.Close(); err != nil {
		app.logger.Error(module, "local store shutdown error", map[string]interface{}{"error": err})
		return err
	}

	app.logger.Debug(module, "application shutdown complete", nil)
	return nil
}

// Deps bundles the shared objects for view controllers
func (app *Application) Deps() controller.Deps {
	return controller.Deps{
		Session: app.session,
		Doubts:  app.doubts,
		Channel: app.channel,
		Mentor:  app.mentor,
		Admin:   app.admin,
		Logger:  app.logger,
	}
}

func (app *Application) Config() *config.Config { return app.config }
func (app *Application) Logger() logger.ILogger { return app.logger }
func (app *Application) Session() *session.Store { return app.session }
func (app *Application) Doubts() *doubts.Store { return app.doubts }
func (app *Application) Channel() *realtime.Channel { return app.channel }
func (app *Application) Mentor() *api.MentorClient { return app.mentor }
func (app *Application) Admin() *api.AdminClient { return app.admin }
func (app *Application) LocalStore() *localstore.Store { return app.local }
