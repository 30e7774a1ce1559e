package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowcore.dev/engine/api"
	"flowcore.dev/engine/authority"
	"flowcore.dev/engine/channel"
	"flowcore.dev/engine/common"
	"flowcore.dev/engine/controlbus"
	"flowcore.dev/engine/domain"
	"flowcore.dev/engine/durability"
	"flowcore.dev/engine/graph"
	"flowcore.dev/engine/migration"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/reader"
	"flowcore.dev/engine/replay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the domain executors and their HTTP/control-plane surface",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.Int("domains", 1, "number of local domains to run")
	flags.Int("shards-per-domain", 1, "shards per domain")
	flags.String("addr", ":8080", "HTTP listen address for the admin/read surface")
	flags.String("directory-file", "flowcore-directory.json", "path to the remote-domain address directory")
	flags.String("durability-dir", "./flowcore-data", "directory for per-table durability logs")
	flags.String("amqp-url", "", "RabbitMQ URL for the control bus; control messages are dropped if empty")
	flags.String("redis-url", "", "Redis URL for leader election; a single-instance deployment skips this if empty")
	flags.Duration("replay-timeout", 30*time.Second, "pending replay timeout")
	flags.String("jwt-secret", "", "signing key for the HTTP read surface's bearer tokens; the read surface is disabled if empty")

	viper.BindPFlag("domains", flags.Lookup("domains"))
	viper.BindPFlag("shards_per_domain", flags.Lookup("shards-per-domain"))
	viper.BindPFlag("addr", flags.Lookup("addr"))
	viper.BindPFlag("directory_file", flags.Lookup("directory-file"))
	viper.BindPFlag("durability_dir", flags.Lookup("durability-dir"))
	viper.BindPFlag("amqp_url", flags.Lookup("amqp-url"))
	viper.BindPFlag("redis_url", flags.Lookup("redis-url"))
	viper.BindPFlag("replay_timeout", flags.Lookup("replay-timeout"))
	viper.BindPFlag("jwt_secret", flags.Lookup("jwt-secret"))

	viper.SetEnvPrefix("FLOWCORE")
	viper.AutomaticEnv()
}

// engine bundles one process's running domains together with the
// infrastructure they share, so shutdown can tear them down in the
// opposite order they were brought up.
type engine struct {
	log        *logrus.Logger
	domains    map[node.Address]*domain.Domain
	durability map[string]*durability.Log
	bus        *controlbus.Bus
	consumers  []*controlbus.Consumer
	lease      *authority.Lease
	tracker    *migration.Tracker
	assembler  *graph.Assembler
	views      *api.ViewRegistry
}

// RegisterView exposes the Reader node living at addr/local under name
// on the HTTP read surface. Called by whatever code committed that
// Reader node via eng.assembler.Commit, once it knows the node's
// placement -- the read surface has no way to discover view names on
// its own, since nothing maps a NodeSpec's Name to its placement.
func (e *engine) RegisterView(name string, addr node.Address, local node.LocalIndex) error {
	d, ok := e.domains[addr]
	if !ok {
		return fmt.Errorf("serve: no domain running at %s", addr)
	}
	r, ok := d.Reader(local)
	if !ok {
		return fmt.Errorf("serve: node %v at %s has no materialized state", local, addr)
	}
	getter := reader.NewGetter(localOnlyDirectory{addr: addr, r: r}, nil, addr)
	e.views.Register(name, getter)
	return nil
}

// localOnlyDirectory resolves only the single address it was built
// for, the shape a single-process deployment needs until a real
// channel-backed reader.Directory is wired in for multi-process reads.
type localOnlyDirectory struct {
	addr node.Address
	r    *reader.Reader
}

func (d localOnlyDirectory) Resolve(addr node.Address) (*reader.Reader, bool) {
	if addr != d.addr {
		return nil, false
	}
	return d.r, true
}

func runServe(cmd *cobra.Command, args []string) error {
	log := common.Logger

	numDomains := viper.GetInt("domains")
	shardsPerDomain := viper.GetInt("shards_per_domain")
	if numDomains <= 0 {
		numDomains = 1
	}
	if shardsPerDomain <= 0 {
		shardsPerDomain = 1
	}

	dir, err := channel.OpenDirectory(viper.GetString("directory_file"))
	if err != nil {
		return err
	}

	eng := &engine{log: log, domains: make(map[node.Address]*domain.Domain), durability: make(map[string]*durability.Log)}

	coord := channel.New(log, dir.Resolver(channel.DefaultRemoteConfig("")))

	registry := replay.NewRegistry()
	replayEngine := replay.NewEngine(registry, viper.GetDuration("replay_timeout"), log)

	if err := os.MkdirAll(viper.GetString("durability_dir"), 0o755); err != nil {
		return err
	}

	for domIdx := 0; domIdx < numDomains; domIdx++ {
		for shard := 0; shard < shardsPerDomain; shard++ {
			addr := node.Address{Domain: node.NewDomainIndex(domIdx), Shard: node.Shard(shard)}
			d := domain.New(domain.Config{
				Index: node.NewDomainIndex(domIdx),
				Shard: node.Shard(shard),
			}, coord, replayEngine, log)
			eng.domains[addr] = d
			go d.Run(context.Background())
		}
	}

	if amqpURL := viper.GetString("amqp_url"); amqpURL != "" {
		bus, err := controlbus.NewBus(amqpURL)
		if err != nil {
			return err
		}
		eng.bus = bus
		for addr, d := range eng.domains {
			consumer := controlbus.NewConsumer(bus.Channel(), addr, d, 4, log.WithField("component", "controlbus"))
			if err := consumer.Start(); err != nil {
				return err
			}
			eng.consumers = append(eng.consumers, consumer)
		}
	}

	if redisURL := viper.GetString("redis_url"); redisURL != "" {
		lease, err := authority.NewLease("graph-authority", authority.Config{RedisURL: redisURL})
		if err != nil {
			return err
		}
		eng.lease = lease
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go lease.Campaign(ctx,
			func() { log.Info("acquired graph authority lease") },
			func() { log.Warn("lost graph authority lease") },
		)
	}

	eng.tracker = migration.New(migration.Config{})

	// The Assembler is the only supported way to add nodes to the live
	// graph; this binary's embedders call eng.assembler.Commit (wrapped
	// in eng.tracker.Track) with their own compiled-in graph.NodeSpecs
	// from Go code, not from a config file -- an OperatorBuilder is a
	// closure and has no serializable form.
	eng.assembler = graph.NewAssembler(eng.domains, coord, replayEngine, registry, log)

	eng.views = api.NewViewRegistry()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	eng.tracker.RegisterRoutes(e.Group(""))
	if secret := viper.GetString("jwt_secret"); secret != "" {
		api.SetupRoutes(e, &api.Handlers{Views: eng.views, SigningKey: []byte(secret)})
	} else {
		log.Warn("jwt_secret not set, HTTP read surface disabled")
	}

	go func() {
		if err := e.Start(viper.GetString("addr")); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)

	for _, c := range eng.consumers {
		c.Stop()
	}
	if eng.bus != nil {
		_ = eng.bus.Close()
	}
	if eng.lease != nil {
		_ = eng.lease.Close()
	}
	for _, d := range eng.domains {
		d.Stop()
	}
	for _, l := range eng.durability {
		_ = l.Close()
	}
	return dir.Save()
}
