package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"iot-systemv1/config"
	"iot-systemv1/internal/broker"
	"iot-systemv1/internal/bus"
	"iot-systemv1/internal/command"
	"iot-systemv1/internal/devcfg"
	"iot-systemv1/internal/gateway"
	"iot-systemv1/internal/metrics"
	"iot-systemv1/internal/model"
	"iot-systemv1/internal/notification"
	"iot-systemv1/internal/router"
	"iot-systemv1/internal/rules"
	redisstore "iot-systemv1/internal/store/redis"
	sqlitestore "iot-systemv1/internal/store/sqlite"
	"iot-systemv1/internal/tsdb"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[ingestor] starting...")

	cfg := config.Load()

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Rule store (durable snapshot) ----
	store := rules.NewStore(cfg.RulesFile)
	store.Load()
	health.SetRulesLoaded(store.Len())
	prom.RulesCount.Set(float64(store.Len()))

	// ---- Command journal (off hot path, best effort) ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	var journal command.Journal
	sqlJournal, err := sqlitestore.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Printf("[ingestor] WARNING: journal init failed: %v (continuing without journal)", err)
	} else {
		defer sqlJournal.Close()
		journal = sqlJournal
		health.SetJournalOK(true)
	}

	// ---- Live event gateway ----
	hub := gateway.NewHub(4096, 500)
	hub.OnOverflow = func() {
		prom.FanoutDropsTotal.WithLabelValues("gateway").Inc()
	}
	gwMux := http.NewServeMux()
	gwMux.HandleFunc("/ws", hub.HandleWS)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: gwMux}
	go func() {
		log.Printf("[ingestor] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[ingestor] gateway server error: %v", err)
		}
	}()

	// ---- Actuator command dispatcher ----
	cache := devcfg.New()
	disp := command.New(command.Config{APIBase: cfg.APIBase}, cache, journal)
	disp.OnCommand = func(cmd command.Command) {
		result := "ok"
		if !cmd.OK {
			result = "error"
		}
		prom.CommandsTotal.WithLabelValues(result).Inc()
		hub.PublishCommand(cmd.DeviceID, cmd.ActuatorID, cmd.Value, cmd.OK)
	}
	disp.OnPulseStart = func() { prom.PulsesActive.Inc() }
	disp.OnPulseEnd = func() { prom.PulsesActive.Dec() }

	// ---- Transition alerts ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.AlertWebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.AlertWebhookURL)
		log.Printf("[ingestor] transition alerts -> %s", cfg.AlertWebhookURL)
	}

	// ---- Rule engine ----
	engine := rules.NewEngine(store, disp)
	engine.OnEvaluated = func() { prom.RuleEvalsTotal.Inc() }
	engine.OnTransition = func(ruleID string, active bool) {
		state := "inactive"
		if active {
			state = "active"
		}
		prom.TransitionsTotal.WithLabelValues(state).Inc()
		hub.PublishTransition(ruleID, active)
		go func() {
			if err := notifier.Send(ctx, notification.RuleTransition(ruleID, active)); err != nil {
				log.Printf("[ingestor] alert delivery failed: %v", err)
			}
		}()
	}

	// ---- TSDB writer ----
	writer, err := tsdb.New(tsdb.WriterConfig{
		URL:    cfg.TSDBURL,
		Token:  cfg.TSDBToken,
		Org:    cfg.TSDBOrg,
		Bucket: cfg.TSDBBucket,
	})
	if err != nil {
		log.Fatalf("[ingestor] tsdb init failed: %v", err)
	}
	defer writer.Close()
	health.SetTSDBOK(true)
	writer.OnWrite = func(points int) { prom.PointsWritten.Add(float64(points)) }
	writer.OnWriteErr = func() { prom.TSDBWriteErrors.Inc() }
	writer.OnFieldDrop = func() { prom.FieldsDropped.Inc() }
	log.Println("[ingestor] tsdb writer ready")

	// ---- Redis latest-reading mirror (optional) ----
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[ingestor] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
		log.Println("[ingestor] redis mirror ready")
	}

	// ---- Periodic liveness checks ----
	var journalDB = journalDBOrNil(sqlJournal)
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), journalDB, 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journalDB, 10*time.Second)
	}

	// ---- Fan-out readings to TSDB, Redis and gateway ----
	readingsCh := make(chan model.Reading, 10000)
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	tsdbCh := fanout.Subscribe()
	var redisCh <-chan model.Reading
	if redisWriter != nil {
		redisCh = fanout.Subscribe()
	}
	gatewayCh := fanout.Subscribe()

	go fanout.Run(ctx, readingsCh)
	go writer.Run(ctx, tsdbCh)
	if redisWriter != nil && redisCh != nil {
		go redisWriter.Run(ctx, redisCh)
	}
	go hub.Run(ctx, gatewayCh)

	// ---- Broker connection ----
	mq := broker.New(broker.Config{
		Host:     cfg.BrokerHost,
		Port:     cfg.BrokerPort,
		ClientID: cfg.ClientID,
	})
	mq.OnReconnect = func() { prom.BrokerReconnects.Inc() }
	mq.OnDrop = func() { prom.InboundDrops.Inc() }
	mq.OnConnected = func(up bool) { health.SetBrokerConnected(up) }

	// ---- Message router (HOT PATH, single consumer for FIFO) ----
	rt := router.New(store, engine, cache, mq, readingsCh)
	rt.OnReading = func() {
		prom.ReadingsTotal.Inc()
		health.SetLastReadingTime(time.Now())
	}
	rt.OnMalformed = func() { prom.MalformedTotal.Inc() }
	rt.OnReadingDrop = func() { prom.FanoutDropsTotal.WithLabelValues("pipeline").Inc() }
	rt.OnRuleMutation = func(op string) {
		n := store.Len()
		prom.RulesCount.Set(float64(n))
		health.SetRulesLoaded(n)
	}
	rt.OnEvalDone = func(d time.Duration) { prom.EvalDur.Observe(d.Seconds()) }
	go rt.Run(ctx, mq.Messages())

	connectCtx, connectCancel := context.WithTimeout(ctx, 60*time.Second)
	if err := mq.Connect(connectCtx); err != nil {
		log.Fatalf("[ingestor] broker connect failed: %v", err)
	}
	connectCancel()

	log.Printf("[ingestor] pipeline ready: [MQTT %s] -> [Router] -> [Engine + TSDB/Redis/Gateway]", cfg.BrokerURL())
	log.Printf("[ingestor] rules=%d commands=%s metrics=%s gateway=%s",
		store.Len(), cfg.APIBase, cfg.MetricsAddr, cfg.GatewayAddr)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[ingestor] shutdown signal received, cleaning up...")
	cancel()

	// In-flight pulses get the dispatcher's grace window, then everything
	// else flushes and closes.
	disp.Close()
	mq.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gwSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[ingestor] shutdown complete.")
}

// journalDBOrNil avoids handing a typed-nil *sql.DB to the health checker.
func journalDBOrNil(j *sqlitestore.Journal) *sql.DB {
	if j == nil {
		return nil
	}
	return j.DB()
}
