package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"go-restaurant-orderhub/config"
	"go-restaurant-orderhub/controllers"
	"go-restaurant-orderhub/database"
	"go-restaurant-orderhub/events"
	"go-restaurant-orderhub/helpers"
	"go-restaurant-orderhub/hub"
	"go-restaurant-orderhub/metrics"
	"go-restaurant-orderhub/receipts"
	"go-restaurant-orderhub/routes"
	"go-restaurant-orderhub/services"
	"go-restaurant-orderhub/store"
	"go-restaurant-orderhub/store/mongostore"
	"go-restaurant-orderhub/store/sqlstore"
)

func main() {
	app := &cli.App{
		Name:  "orderhub",
		Usage: "live order board for restaurant branches",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file read before the environment"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and websocket server",
				Action: serve,
			},
			{
				Name:      "hash-pin",
				Usage:     "print a bcrypt hash to use as ADMIN_PIN_HASH",
				ArgsUsage: "<pin>",
				Action:    hashPin,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func hashPin(c *cli.Context) error {
	pin := c.Args().First()
	if len(pin) < 4 {
		return cli.Exit("pin must be at least 4 characters", 2)
	}
	hash, err := helpers.HashPin(pin)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func serve(c *cli.Context) error {
	log.SetFormatter(&log.JSONFormatter{})
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	log.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orders, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, closeSinks, err := openEvents(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()
	defer pipeline.Close()

	viewers := hub.NewRegistry()
	dispatcher := hub.NewDispatcher(orders, viewers, m)
	svc := services.NewOrderService(orders, dispatcher, services.WithEvents(pipeline), services.WithMetrics(m))
	go dispatcher.Run(ctx, cfg.ResyncInterval)

	issuer := helpers.NewTokenIssuer(cfg.SecretKey, cfg.TokenTTL)
	admin, err := controllers.NewAdminController(issuer, cfg.AdminPin, cfg.AdminPinHash)
	if err != nil {
		return err
	}
	router := routes.NewRouter(routes.Handlers{
		Orders: controllers.NewOrderController(svc),
		Admin:  admin,
		Socket: controllers.NewSocketController(svc, dispatcher, viewers, m, controllers.SocketOptions{
			QueueSize:      cfg.SendQueueSize,
			WriteTimeout:   cfg.WriteTimeout,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		Tokens:         issuer,
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       reg,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"port": cfg.Port, "store": cfg.StoreDriver}).Info("order hub listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore hydrates the configured backend. The returned func releases
// its connections.
func openStore(ctx context.Context, cfg config.Config) (store.OrderStore, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite", "pgx", "mysql":
		st, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case "mongo":
		client, err := database.DBinstance(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		st, err := mongostore.Open(ctx, client, cfg.MongoDatabase)
		if err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}
		return st, func() { client.Disconnect(context.Background()) }, nil
	default:
		log.Warn("using the in-memory store, orders are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}

// openEvents connects the optional sinks. The pipeline must be closed
// before the returned func runs.
func openEvents(ctx context.Context, cfg config.Config) (*events.Pipeline, func(), error) {
	var sinks []events.Sink
	var closers []func() error
	if cfg.AMQPURL != "" {
		sink, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
	}
	if cfg.ReceiptsBucket != "" {
		sink, err := receipts.NewS3SinkFromEnv(ctx, cfg.AWSRegion, cfg.ReceiptsBucket, cfg.ReceiptsPrefix)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		sinks = append(sinks, sink)
	}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("close event sink")
			}
		}
	}
	return events.NewPipeline(cfg.EventQueueSize, 5*time.Second, sinks...), closeAll, nil
}
