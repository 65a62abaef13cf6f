// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/config"
	"github.com/crosswire-im/crosswire/dispatch"
	"github.com/crosswire-im/crosswire/gateway"
	"github.com/crosswire-im/crosswire/ipc"
	"github.com/crosswire-im/crosswire/matrix"
	"github.com/crosswire-im/crosswire/rooms"
	"github.com/crosswire-im/crosswire/store"
)

// drainTimeout bounds the listener drain during shutdown. Events still
// queued past the deadline are lost; the homeserver retries its
// transaction and the dedup log absorbs the replay.
const drainTimeout = 10 * time.Second

// Options configures a Bridge. Config and RegistrationPath are
// mandatory; the rest are injection points with production defaults.
type Options struct {
	// Config is the merged bridge configuration (file plus any CLI
	// overlay). Run validates it as its first transition.
	Config *config.Config

	// RegistrationPath is the registration descriptor file written by
	// "crosswire registration generate".
	RegistrationPath string

	// Logger receives all process logging. Nil means slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the transport used for homeserver calls.
	// Nil means http.DefaultClient.
	HTTPClient *http.Client

	// DialGateway overrides how the Discord client is built. Nil
	// means gateway.DialDiscord.
	DialGateway gateway.DialFunc

	// OnState observes every state transition, called on the Run
	// goroutine in order. Tests use it to assert sequencing.
	OnState func(State)
}

// Bridge owns the full process assembly. Create with New, drive with
// Run; Run blocks until its context is cancelled and performs the
// shutdown itself before returning.
type Bridge struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	startedAt time.Time

	registration *appservice.Registration
	clients      *matrix.ClientFactory
	stores       *store.Stores
	channels     *rooms.Handler
	bot          *gateway.Bot
	controller   *dispatch.Controller
	listener     *appservice.Server

	adminCancel context.CancelFunc
	adminDone   chan error
}

// New validates the options and builds an unstarted bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, errors.New("bridge: Config is required")
	}
	if opts.RegistrationPath == "" {
		return nil, errors.New("bridge: RegistrationPath is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{opts: opts, logger: opts.Logger}, nil
}

// State returns the highest startup state entered so far.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ListenerAddr returns the appservice listener's bound address, nil
// before StateListenerStarted. Useful with port 0.
func (b *Bridge) ListenerAddr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Run executes the startup sequence, then blocks until ctx is
// cancelled and shuts the bridge down in reverse order. A transition
// failure aborts startup, releases everything already acquired, and
// returns the transition's error; the caller maps that to a non-zero
// exit.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.loadConfig(); err != nil {
		return b.abort(err)
	}
	if err := b.loadRegistration(); err != nil {
		return b.abort(err)
	}
	if err := b.buildClientFactory(); err != nil {
		return b.abort(err)
	}
	if err := b.wireController(); err != nil {
		return b.abort(err)
	}
	if err := b.initStores(ctx); err != nil {
		return b.abort(err)
	}
	b.startAdminSocket()
	if err := b.startListener(); err != nil {
		return b.abort(err)
	}
	if err := b.startGateway(ctx); err != nil {
		return b.abort(err)
	}
	b.enterRunning()

	<-ctx.Done()
	b.logger.Info("shutdown signal received")
	return b.shutdown()
}

// setState records entry into a state and notifies the observer.
// Called only from the Run goroutine; startup is strictly sequential.
func (b *Bridge) setState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	b.logger.Debug("startup state entered", "state", state)
	if b.opts.OnState != nil {
		b.opts.OnState(state)
	}
}

// abort handles a failed transition: log against the last state that
// was successfully entered, release partial state, and hand the
// original error back for the exit path.
func (b *Bridge) abort(err error) error {
	b.logger.Error("startup failed", "state", b.State(), "error", err)
	if cleanupErr := b.shutdown(); cleanupErr != nil {
		b.logger.Error("cleanup after failed startup", "error", cleanupErr)
	}
	return err
}

// loadConfig validates the merged configuration. Loading and merging
// happened in the CLI; this transition is the sequencer's gate on the
// result.
func (b *Bridge) loadConfig() error {
	if err := b.opts.Config.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}
	b.setState(StateConfigLoaded)
	return nil
}

// loadRegistration parses the registration descriptor. Fails before
// any network or storage resource is touched, so a broken descriptor
// never leaves stray state behind.
func (b *Bridge) loadRegistration() error {
	reg, err := appservice.LoadRegistration(b.opts.RegistrationPath)
	if err != nil {
		return err
	}
	b.registration = reg
	b.logger.Info("registration loaded",
		"path", b.opts.RegistrationPath,
		"fingerprint", reg.Fingerprint(),
		"bot_user_id", reg.BotUserID(b.opts.Config.Bridge.Domain),
	)
	b.setState(StateRegistrationLoaded)
	return nil
}

func (b *Bridge) buildClientFactory() error {
	cfg := b.opts.Config
	botUserID, err := matrix.ParseUserID(b.registration.BotUserID(cfg.Bridge.Domain))
	if err != nil {
		return fmt.Errorf("deriving bot user ID: %w", err)
	}
	clients, err := matrix.NewClientFactory(matrix.ClientFactoryConfig{
		AppServiceUserID: botUserID,
		AccessToken:      b.registration.ASToken,
		HomeserverURL:    cfg.Bridge.HomeserverURL,
		HTTPClient:       b.opts.HTTPClient,
		Logger:           b.logger,
	})
	if err != nil {
		return err
	}
	b.clients = clients
	b.setState(StateClientFactoryBuilt)
	return nil
}

// wireController constructs the handler-owning components and binds
// them into the dispatch controller. Everything here is local work:
// token resolution reads files, store and bot construction do no I/O.
// After this transition the dispatch surface is complete and
// immutable, which is what permits starting the listener later.
func (b *Bridge) wireController() error {
	cfg := b.opts.Config

	token, err := cfg.Gateway.ResolveToken()
	if err != nil {
		return err
	}

	stores, err := store.New(store.Config{
		RoomPath: cfg.Database.RoomStorePath,
		UserPath: cfg.Database.UserStorePath,
		Logger:   b.logger,
	})
	if err != nil {
		return err
	}
	b.stores = stores

	bot, err := gateway.NewBot(gateway.BotConfig{
		Token:        token,
		Registration: b.registration,
		Domain:       cfg.Bridge.Domain,
		Clients:      b.clients,
		Stores:       stores,
		Dial:         b.opts.DialGateway,
		Logger:       b.logger,
	})
	if err != nil {
		return err
	}
	b.bot = bot

	channels, err := rooms.NewHandler(rooms.HandlerConfig{
		Stores:   stores,
		Resolver: bot,
		Logger:   b.logger,
	})
	if err != nil {
		return err
	}
	b.channels = channels

	controller, err := dispatch.NewController(&handlerSet{
		channels: channels,
		bot:      bot,
		logger:   b.logger,
	}, b.logger)
	if err != nil {
		return err
	}
	b.controller = controller

	b.setState(StateControllerWired)
	return nil
}

// initStores opens and migrates the stores through the handler-owning
// components' own initialization contract. Both components share one
// Stores and Init is idempotent, so the order between them does not
// matter.
func (b *Bridge) initStores(ctx context.Context) error {
	if err := b.channels.Init(ctx); err != nil {
		return err
	}
	if err := b.bot.Init(ctx); err != nil {
		return err
	}
	b.setState(StateStoreInitialized)
	return nil
}

// startAdminSocket serves the operator protocol when configured. Not a
// sequencer state: the bridge is fully functional without it, and its
// Serve error is collected at shutdown rather than failing startup.
func (b *Bridge) startAdminSocket() {
	socketPath := b.opts.Config.Admin.SocketPath
	if socketPath == "" {
		return
	}

	admin := ipc.NewServer(socketPath, b.logger)
	admin.Handle(ipc.ActionPing, b.handlePing)
	admin.Handle(ipc.ActionStatus, b.handleStatus)

	ctx, cancel := context.WithCancel(context.Background())
	b.adminCancel = cancel
	b.adminDone = make(chan error, 1)
	go func() {
		b.adminDone <- admin.Serve(ctx)
	}()
}

func (b *Bridge) startListener() error {
	listener, err := appservice.NewServer(appservice.ServerConfig{
		Port:         b.opts.Config.Bridge.Port,
		Registration: b.registration,
		Sink:         b.controller,
		RoomCreator:  b.clients.Bot(),
		Logger:       b.logger,
	})
	if err != nil {
		return err
	}
	if err := listener.Start(); err != nil {
		return err
	}
	b.listener = listener
	b.setState(StateListenerStarted)
	return nil
}

func (b *Bridge) startGateway(ctx context.Context) error {
	if err := b.bot.Run(ctx); err != nil {
		return err
	}
	b.setState(StateRemoteClientStarted)
	return nil
}

func (b *Bridge) enterRunning() {
	b.mu.Lock()
	b.startedAt = time.Now()
	b.mu.Unlock()
	b.setState(StateRunning)
	b.logger.Info("bridge running",
		"domain", b.opts.Config.Bridge.Domain,
		"listener", b.listener.Addr().String(),
	)
}

// shutdown releases resources in reverse acquisition order: gateway
// session, listener drain, admin socket, stores. Tolerates partially
// completed startup; members never acquired are skipped.
func (b *Bridge) shutdown() error {
	var errs []error

	if b.bot != nil {
		if err := b.bot.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing gateway session: %w", err))
		}
	}

	if b.listener != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := b.listener.Stop(drainCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	if b.adminCancel != nil {
		b.adminCancel()
		if err := <-b.adminDone; err != nil {
			b.logger.Error("admin socket error", "error", err)
		}
	}

	if b.stores != nil {
		if err := b.stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing stores: %w", err))
		}
	}

	return errors.Join(errs...)
}
