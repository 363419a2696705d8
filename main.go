package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/internal/adapter/binance"
	"tradeflow/internal/adapter/bybit"
	"tradeflow/internal/channel"
	"tradeflow/internal/history"
	"tradeflow/internal/store"
	"tradeflow/logger"
	"tradeflow/models"
)

// exchange is the surface main drives: a lifecycle around the embedded
// adapter. Both integrations satisfy it.
type exchange interface {
	Start(ctx context.Context, pairs []models.CurrencyPair) error
	Stop()
	Name() string
}

type runningExchange struct {
	ex    exchange
	pairs []models.CurrencyPair
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting tradeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(
			cfg.Logging.CloudWatch.Region,
			cfg.Logging.CloudWatch.Namespace,
			cfg.Logging.CloudWatch.Dashboard,
		)
	}
	if cfg.Logging.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	channels := channel.NewChannels(cfg.Channels.TradeBuffer, cfg.Channels.BookBuffer)

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize trade storage")
		os.Exit(1)
	}

	histOpts := history.Options{
		Step:           cfg.History.Window,
		RequestDelay:   cfg.History.RequestDelay,
		RateLimitDelay: cfg.History.RateLimitDelay,
	}

	exchanges, err := buildExchanges(cfg, histOpts, st, channels)
	if err != nil {
		log.WithError(err).Error("failed to build exchanges")
		os.Exit(1)
	}
	if len(exchanges) == 0 {
		log.Warn("no exchanges enabled, nothing to do")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		archiveTrades(ctx, channels.Trades, st, log)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		drainBooks(ctx, channels.Books)
	}()

	for _, re := range exchanges {
		if err := re.ex.Start(ctx, re.pairs); err != nil {
			log.WithError(err).WithFields(logger.Fields{"exchange": re.ex.Name()}).Error("exchange failed to start")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{
			"exchange": re.ex.Name(),
			"pairs":    len(re.pairs),
		}).Info("exchange started")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	for _, re := range exchanges {
		log.WithFields(logger.Fields{"exchange": re.ex.Name()}).Info("stopping exchange")
		re.ex.Stop()
	}

	// producers are down, let the consumers drain what is buffered
	channels.Close()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	closeStore()
	log.Info("tradeflow stopped")
}

func buildStore(ctx context.Context, cfg *config.Config) (store.TradeStore, func(), error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "s3":
		s3, err := store.NewS3Store(ctx, store.S3Config{
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			Prefix:          cfg.Storage.S3.Prefix,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, func() {}, nil
	case "kafka":
		k, err := store.NewKafkaStore(store.KafkaConfig{
			Brokers:      cfg.Storage.Kafka.Brokers,
			TradeTopic:   cfg.Storage.Kafka.TradeTopic,
			HistoryTopic: cfg.Storage.Kafka.HistoryTopic,
		})
		if err != nil {
			return nil, nil, err
		}
		return k, func() { _ = k.Close() }, nil
	default:
		// unreachable, validated at load time
		return store.NewMemoryStore(), func() {}, nil
	}
}

func buildExchanges(cfg *config.Config, histOpts history.Options, st store.TradeStore, channels *channel.Channels) ([]runningExchange, error) {
	var exchanges []runningExchange

	if ec := cfg.Exchanges.Binance; ec.Enabled {
		pairs, err := parsePairs(ec.Pairs)
		if err != nil {
			return nil, err
		}
		ex := binance.New(binance.Config{
			APIKey:      ec.Key,
			APISecret:   ec.Secret,
			RestURL:     ec.RestURL,
			StreamURL:   ec.StreamURL,
			HTTPTimeout: cfg.HTTP.Timeout,
			WSTimeout:   ec.WSTimeout(cfg.Websocket.Timeout),
			BrokerID:    ec.BrokerID,
			Proxies:     ec.Proxies,
			History:     histOpts,
		}, st, channels)
		exchanges = append(exchanges, runningExchange{ex: ex, pairs: pairs})
	}

	if ec := cfg.Exchanges.Bybit; ec.Enabled {
		pairs, err := parsePairs(ec.Pairs)
		if err != nil {
			return nil, err
		}
		ex := bybit.New(bybit.Config{
			APIKey:         ec.Key,
			APISecret:      ec.Secret,
			RestURL:        ec.RestURL,
			StreamURL:      ec.StreamURL,
			HTTPTimeout:    cfg.HTTP.Timeout,
			WSTimeout:      ec.WSTimeout(cfg.Websocket.Timeout),
			BrokerID:       ec.BrokerID,
			Proxies:        ec.Proxies,
			ContractValues: ec.ContractValues,
			History:        histOpts,
		}, st, channels)
		exchanges = append(exchanges, runningExchange{ex: ex, pairs: pairs})
	}

	return exchanges, nil
}

func parsePairs(raw []string) ([]models.CurrencyPair, error) {
	pairs := make([]models.CurrencyPair, 0, len(raw))
	for _, s := range raw {
		p, err := models.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

const (
	archiveBatchSize     = 500
	archiveFlushInterval = 5 * time.Second
)

// archiveTrades batches live trades off the channel and hands them to the
// trade store. A batch goes out when it is full or when the flush timer
// fires, whichever comes first.
func archiveTrades(ctx context.Context, trades <-chan models.Trade, st store.TradeStore, log *logger.Log) {
	clog := log.WithComponent("archiver")
	batch := make([]models.Trade, 0, archiveBatchSize)
	ticker := time.NewTicker(archiveFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := st.StoreTrades(context.Background(), batch); err != nil {
			clog.WithError(err).Warn("failed to archive trade batch")
		}
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case trade, ok := <-trades:
			if !ok {
				return
			}
			batch = append(batch, trade)
			if len(batch) >= archiveBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			return
		}
	}
}

// drainBooks keeps the book channel moving when no strategy consumer is
// attached. Updates carry no persistence obligation, dropping them here is
// fine.
func drainBooks(ctx context.Context, books <-chan models.OrderBookUpdate) {
	for {
		select {
		case _, ok := <-books:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
