package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/victornm/quizduel/internal/api"
	"github.com/victornm/quizduel/internal/battle"
	"github.com/victornm/quizduel/internal/event"
	"github.com/victornm/quizduel/internal/grading"
	"github.com/victornm/quizduel/internal/journal"
	"github.com/victornm/quizduel/internal/matchmaking"
	"github.com/victornm/quizduel/internal/question"
	"github.com/victornm/quizduel/internal/reconcile"
	"github.com/victornm/quizduel/internal/rpc"
	"github.com/victornm/quizduel/internal/telemetry"
)

type Config struct {
	Log struct {
		Level string
	}

	HTTP struct {
		Port int32
	}

	Player struct {
		ID string
	}

	Arena struct {
		Addr string
	}

	Redis struct {
		Cache struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Content struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	// NATS replaces Redis pub/sub as the snapshot feed when URL is set.
	NATS struct {
		URL    string
		Prefix string
	}

	Journal struct {
		DSN string
	}

	Battle struct {
		RoundSeconds   int
		CountdownTicks int
		Dwell          time.Duration
		SubmitTimeout  time.Duration
	}
}

// DefaultConfig returns the config used for keys missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.Log.Level = "info"
	c.HTTP.Port = 8080
	c.Redis.Cache.Prefix = "quizduel"
	c.Redis.Pubsub.Prefix = "quizduel"
	c.NATS.Prefix = "quizduel"
	c.Journal.DSN = "file:journal.db?_journal_mode=WAL"

	b := battle.DefaultConfig()
	c.Battle.RoundSeconds = b.RoundSeconds
	c.Battle.CountdownTicks = b.CountdownTicks
	c.Battle.Dwell = b.Dwell
	c.Battle.SubmitTimeout = b.SubmitTimeout
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres struct {
			content *pgxpool.Pool
		}

		arena   *grpc.ClientConn
		nats    *nats.Conn
		journal *journal.Store
	}

	service struct {
		matchmaking *matchmaking.Client
		grading     *grading.Gateway
		questions   *question.Prefetcher
		listener    *reconcile.Listener
	}

	machine *battle.Machine
	api     *api.API
	http    *http.Server
}

func Init(c Config) (*Server, error) {
	if err := uuid.Validate(c.Player.ID); err != nil {
		return nil, fmt.Errorf("server: invalid player id %q: %w", c.Player.ID, err)
	}

	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initMachine()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := s.initArena(); err != nil {
		return fmt.Errorf("arena: %w", err)
	}

	if err := s.initNATS(); err != nil {
		return fmt.Errorf("nats: %w", err)
	}

	var err error
	s.infra.journal, err = journal.Open(journal.Config{DSN: s.c.Journal.DSN})
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect(s.c.Redis.Cache.Addrs, s.c.Redis.Cache.Pass)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	pg := s.c.Postgres.Content
	s.infra.postgres.content, err = connect(pg.Addr, pg.User, pg.Pass, pg.Name)
	if err != nil {
		return fmt.Errorf("content: %w", err)
	}

	return nil
}

func (s *Server) initArena() (err error) {
	s.infra.arena, err = grpc.NewClient(s.c.Arena.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		telemetry.GRPCClientInterceptor(),
	)
	return err
}

func (s *Server) initNATS() (err error) {
	if s.c.NATS.URL == "" {
		return nil
	}

	s.infra.nats, err = nats.Connect(s.c.NATS.URL,
		nats.Name("quizduel-"+s.c.Player.ID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats: reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats: async error", "subject", subject, "error", err)
		}),
	)
	return err
}

func (s *Server) initService() {
	arena := rpc.NewArenaClient(s.infra.arena)

	s.service.matchmaking = matchmaking.NewClient(matchmaking.Config{
		Arena:    arena,
		PlayerID: s.c.Player.ID,
	})

	s.service.grading = grading.NewGateway(grading.Config{
		Arena:    arena,
		PlayerID: s.c.Player.ID,
	})

	s.service.questions = question.NewPrefetcher(question.NewCache(question.CacheConfig{
		Source: question.NewPostgresSource(s.infra.postgres.content),
		Redis:  s.infra.redis.cache,
		Prefix: s.c.Redis.Cache.Prefix,
		TTL:    s.c.Redis.Cache.TTL,
	}))

	var feed reconcile.Feed = reconcile.NewRedisFeed(s.infra.redis.pubsub, s.c.Redis.Pubsub.Prefix)
	if s.infra.nats != nil {
		feed = reconcile.NewNATSFeed(s.infra.nats, s.c.NATS.Prefix)
	}

	s.service.listener = reconcile.NewListener(reconcile.Config{
		Feed: feed,
	})

	s.infra.journal.Subscribe(s.eb)
}

func (s *Server) initMachine() {
	s.machine = battle.NewMachine(battle.Config{
		Matchmaker:     s.service.matchmaking,
		Grader:         s.service.grading,
		Questions:      s.service.questions,
		Listener:       s.service.listener,
		EventBus:       s.eb,
		RoundSeconds:   s.c.Battle.RoundSeconds,
		CountdownTicks: s.c.Battle.CountdownTicks,
		Dwell:          s.c.Battle.Dwell,
		SubmitTimeout:  s.c.Battle.SubmitTimeout,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.api = api.New(api.Config{
		Router:   e,
		EventBus: s.eb,
		Machine:  s.machine,
		Journal:  s.infra.journal,
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           c.Handler(e),
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		return s.machine.Run(ctx)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}
	s.api.Close()

	// Stops timers and the listener of the current battle before the bus drains.
	s.machine.Close()
	s.eb.Stop()

	if s.infra.nats != nil {
		if err := s.infra.nats.Drain(); err != nil {
			slog.ErrorContext(ctx, "server: drain NATS failed", "error", err)
		}
	}

	closers := map[string]func() error{
		"arena":        s.infra.arena.Close,
		"redis cache":  s.infra.redis.cache.Close,
		"redis pubsub": s.infra.redis.pubsub.Close,
		"journal":      s.infra.journal.Close,
	}
	for name, c := range closers {
		if err := c(); err != nil {
			slog.ErrorContext(ctx, "server: close "+name+" failed", "error", err)
		}
	}
	s.infra.postgres.content.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
