package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"tradeflow/logger"
	"tradeflow/models"
)

// tradeRecord defines the parquet schema for archived trades.
type tradeRecord struct {
	TradeID  string  `parquet:"name=trade_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date     int64   `parquet:"name=date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Amount   float64 `parquet:"name=amount, type=DOUBLE"`
	Rate     float64 `parquet:"name=rate, type=DOUBLE"`
	Type     string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pair     string  `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee      float64 `parquet:"name=fee, type=DOUBLE"`
}

// in-memory parquet sink; batches are small enough to buffer whole
type memFile struct{ buffer *bytes.Buffer }

func newMemFile() *memFile { return &memFile{buffer: &bytes.Buffer{}} }

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store archives trade batches as parquet objects under
// <prefix>/<exchange>/<pair>/<date>/ and history records as JSON documents.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Log
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	log.WithComponent("s3_store").WithFields(logger.Fields{
		"region": cfg.Region,
		"bucket": cfg.Bucket,
	}).Debug("s3 store initialized")

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

func (s *S3Store) StoreTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	start := time.Now()
	data, err := s.createParquet(trades)
	if err != nil {
		s.log.WithComponent("s3_store").WithError(err).Error("create parquet failed")
		return err
	}

	first := trades[0]
	key := fmt.Sprintf("%strades/%s/%s/%s/trades_%d_%s.parquet",
		s.keyPrefix(), first.Exchange, first.Pair.Key(),
		first.Date.UTC().Format("2006-01-02"),
		first.Date.UnixMilli(), uuid.New().String()[:8])

	if err := s.upload(ctx, key, data, "application/octet-stream"); err != nil {
		s.log.WithComponent("s3_store").WithError(err).WithFields(logger.Fields{"s3_key": key}).Error("upload to s3 failed")
		return err
	}

	logger.IncrementStoreWrite(int64(len(data)))
	s.log.WithComponent("s3_store").WithFields(logger.Fields{
		"s3_key":      key,
		"records":     len(trades),
		"bytes":       len(data),
		"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
	}).Info("trade batch archived")
	return nil
}

func (s *S3Store) AddToHistory(ctx context.Context, record HistoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%shistory/%s/%s/%s.json",
		s.keyPrefix(), record.Exchange, record.Pair.Key(), record.BatchID)
	if err := s.upload(ctx, key, data, "application/json"); err != nil {
		s.log.WithComponent("s3_store").WithError(err).WithFields(logger.Fields{"s3_key": key}).Error("history record upload failed")
		return err
	}
	return nil
}

func (s *S3Store) createParquet(trades []models.Trade) ([]byte, error) {
	mf := newMemFile()
	pw, err := writer.NewParquetWriter(mf, new(tradeRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, t := range trades {
		rec := tradeRecord{
			TradeID:  t.TradeID,
			Date:     t.Date.UnixMilli(),
			Amount:   t.Amount,
			Rate:     t.Rate,
			Type:     string(t.Type),
			Pair:     t.Pair.String(),
			Exchange: t.Exchange,
			Fee:      t.Fee,
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

func (s *S3Store) upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Store) keyPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}
