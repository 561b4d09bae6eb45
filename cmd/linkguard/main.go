package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Seann-Moser/linkguard"
	"github.com/Seann-Moser/linkguard/billing"
	"github.com/Seann-Moser/linkguard/config"
	"github.com/Seann-Moser/linkguard/oauth/oclient"
	"github.com/Seann-Moser/linkguard/provider"
	"github.com/Seann-Moser/linkguard/session"
	"github.com/Seann-Moser/linkguard/user"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var providerScopes = []struct {
	kind   provider.ProviderKind
	scopes []string
}{
	{provider.SearchConsole, []string{"https://www.googleapis.com/auth/webmasters.readonly"}},
	{provider.Analytics, []string{"https://www.googleapis.com/auth/analytics.readonly"}},
	{provider.PageSpeed, []string{"openid", "email"}},
}

// buildIntegrations gives every provider the shared Google OAuth client with
// its own scopes.
func buildIntegrations(google config.OAuthClient) []oclient.Integration {
	integrations := make([]oclient.Integration, 0, len(providerScopes))
	for _, p := range providerScopes {
		integrations = append(integrations, oclient.Integration{
			Provider:     string(p.kind),
			ClientID:     google.ClientID,
			ClientSecret: google.ClientSecret,
			AuthURL:      google.AuthURL,
			TokenURL:     google.TokenURL,
			RedirectURL:  google.RedirectURL,
			Scopes:       p.scopes,
		})
	}
	return integrations
}

type stores struct {
	links    oclient.Store
	states   oclient.StateStore
	users    user.Store
	accounts billing.Store
	close    func(context.Context) error
}

func main() {
	var (
		cfg *config.Config
		log *slog.Logger
	)

	root := &cobra.Command{
		Use:           "linkguard",
		Short:         "Provider connections and access gating for reporting tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return err
			}
			cfg = c
			log = cfg.Logger(os.Stdout)
			slog.SetDefault(log)
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, log)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep TENANT_ID...",
		Short: "Downgrade expired trials for the given tenants",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sweep(cmd.Context(), cfg, log, args, cmd.OutOrStdout())
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify-email USER_ID",
		Short: "Mark a user's email address as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyEmail(cmd.Context(), cfg, log, args[0])
		},
	}

	root.AddCommand(serveCmd, sweepCmd, verifyCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// sweep runs the trial sweep once per tenant and prints each result as a
// JSON line. Unknown tenants are reported and skipped.
func sweep(ctx context.Context, cfg *config.Config, log *slog.Logger, tenants []string, out io.Writer) error {
	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(context.Background()); err != nil {
			log.Warn("closing stores", "error", err)
		}
	}()

	sweeper := billing.NewSweeper(st.accounts, billing.WithSweeperLogger(log.With("component", "billing")))
	enc := json.NewEncoder(out)
	var failed int
	for _, id := range tenants {
		res, err := sweeper.Sweep(ctx, id)
		if errors.Is(err, billing.ErrAccountNotFound) {
			log.Warn("no billing account", "tenant_id", id)
			continue
		}
		if err != nil {
			log.Error("sweep failed", "tenant_id", id, "error", err)
			failed++
			continue
		}
		if err := enc.Encode(struct {
			TenantID string `json:"tenant_id"`
			billing.Result
		}{id, res}); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sweeps failed", failed, len(tenants))
	}
	return nil
}

func verifyEmail(ctx context.Context, cfg *config.Config, log *slog.Logger, userID string) error {
	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(context.Background()); err != nil {
			log.Warn("closing stores", "error", err)
		}
	}()
	return markVerified(ctx, st.users, log, userID)
}

// markVerified flags the user's email as verified. Already verified users are left untouched.
func markVerified(ctx context.Context, users user.Store, log *slog.Logger, userID string) error {
	u, err := users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("verify %s: %w", userID, err)
	}
	if u.EmailVerified {
		log.Info("email already verified", "user_id", userID, "email", u.Email)
		return nil
	}
	if err := users.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("verify %s: %w", userID, err)
	}
	log.Info("email verified", "user_id", userID, "email", u.Email)
	return nil
}

// trialOpener opens the configured paid trial for PAID_TRIAL signups.
func trialOpener(accounts billing.Store, plan billing.Plan, period time.Duration) user.SignupHook {
	return func(ctx context.Context, u *user.User) error {
		if u.SignupFlow != user.SignupPaidTrial {
			return nil
		}
		return accounts.SaveAccount(ctx, billing.NewTrial(u.TenantID, plan, time.Now().UTC(), period))
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	trialPlan, err := billing.ParsePlan(cfg.Billing.TrialPlan)
	if err != nil {
		return fmt.Errorf("billing.trial_plan: %w", err)
	}

	var sealer oclient.Sealer
	if cfg.Store.SealKey != "" {
		s, err := oclient.NewXChaChaSealerBase64(cfg.Store.SealKey)
		if err != nil {
			return err
		}
		sealer = s
	}

	st, err := openStores(ctx, cfg, sealer)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.close(cctx); err != nil {
			log.Warn("closing stores", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := linkguard.NewHTTPMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		return err
	}
	tokenMetrics := oclient.NewMetrics()
	if err := tokenMetrics.Register(reg); err != nil {
		return err
	}
	fetches := provider.NewFetchCounter()
	if err := reg.Register(fetches); err != nil {
		return err
	}

	integrations := buildIntegrations(cfg.OAuth.Google)
	exchanger := oclient.NewOAuth2Exchanger(integrations[0], cfg.OAuth.ExchangeTimeout)

	manager := oclient.NewManager(st.links, exchanger,
		oclient.WithExchangeTimeout(cfg.OAuth.ExchangeTimeout),
		oclient.WithLogger(log.With("component", "tokens")),
		oclient.WithMetrics(tokenMetrics),
	)
	connector := oclient.NewConnector(st.links, st.states, integrations,
		oclient.WithConnectorHTTPClient(&http.Client{Timeout: cfg.OAuth.ExchangeTimeout}),
		oclient.WithConnectorLogger(log.With("component", "connect")),
		oclient.WithStateTTL(cfg.OAuth.StateTTL),
	)

	httpClient := &http.Client{}
	pageSpeed := provider.NewPageSpeedAdapter(httpClient, cfg.Providers.Timeout)
	pageSpeed.Strategy = cfg.Providers.PageSpeedStrategy
	layer := provider.NewLayer(manager, provider.Adapters{
		SearchConsole: provider.NewSearchConsoleAdapter(httpClient, cfg.Providers.Timeout),
		Analytics:     provider.NewAnalyticsAdapter(httpClient, cfg.Providers.Timeout),
		PageSpeed:     pageSpeed,
	},
		provider.WithLinkReader(st.links),
		provider.WithLayerLogger(log.With("component", "provider")),
		provider.WithFetchCounter(fetches),
	)

	sweeper := billing.NewSweeper(st.accounts, billing.WithSweeperLogger(log.With("component", "billing")))
	sessions := session.NewClient([]byte(cfg.Server.SessionKey), cfg.Server.SessionTTL)
	signup := user.NewServer(st.users, sessions,
		user.WithSignupHook(trialOpener(st.accounts, trialPlan, cfg.Billing.TrialPeriod)),
		user.WithServerLogger(log.With("component", "accounts")),
	)
	gate := linkguard.NewGate(sessions, st.users, st.accounts,
		linkguard.WithSweeper(sweeper),
		linkguard.WithGateLogger(log.With("component", "gate")),
	)

	router := mux.NewRouter()
	router.Use(httpMetrics.Middleware)
	signup.RegisterRoutes(router)
	linkguard.NewHandler(gate, connector, layer, log).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// openStores builds the stores for the configured driver. Users and billing
// accounts live in Mongo unless the memory driver is selected.
func openStores(ctx context.Context, cfg *config.Config, sealer oclient.Sealer) (*stores, error) {
	var closers []func(context.Context) error
	st := &stores{}

	if cfg.Store.Driver == "memory" {
		st.links = oclient.NewMemoryStore()
		st.states = oclient.NewMemoryStateStore()
		st.users = user.NewMemoryStore()
		st.accounts = billing.NewMemoryStore()
		st.close = func(context.Context) error { return nil }
		return st, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	closers = append(closers, client.Disconnect)
	closeAll := func(ctx context.Context) error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c(ctx))
		}
		return errors.Join(errs...)
	}
	defer func() {
		if st.close == nil {
			_ = closeAll(context.Background())
		}
	}()
	db := client.Database(cfg.Mongo.Database)

	users := user.NewMongoDBStore(db, "users")
	accounts := billing.NewMongoStore(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("user indexes: %w", err)
	}
	if err := accounts.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("billing indexes: %w", err)
	}
	st.users, st.accounts = users, accounts

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Address},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closers = append(closers, func(context.Context) error { return rdb.Close() })
	st.states = oclient.NewRedisStateStore(rdb)

	switch cfg.Store.Driver {
	case "redis":
		st.links = oclient.NewRedisStore(rdb, sealer)
	default:
		links := oclient.NewMongoStore(db, sealer)
		if err := links.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("link indexes: %w", err)
		}
		st.links = links
	}

	st.close = closeAll
	return st, nil
}
