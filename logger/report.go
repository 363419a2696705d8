package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

// Process-wide counters feeding the periodic runtime report. Warn and error
// counts accumulate per component via the Entry wrappers; the rest are bumped
// explicitly by the data path.
var (
	reconnects  int64
	storeWrites int64
	tradesIn    int64
	booksIn     int64
	warnCounts  sync.Map // component -> *int64
	errCounts   sync.Map
	channels    sync.Map // name -> *channelStat
)

func recordWarn(component string) {
	bumpComponent(&warnCounts, component)
}

func recordError(component string) {
	bumpComponent(&errCounts, component)
}

func bumpComponent(m *sync.Map, component string) {
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementReconnect counts one websocket reconnect attempt.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementStoreWrite counts one persisted batch of the given size.
func IncrementStoreWrite(bytes int64) {
	atomic.AddInt64(&storeWrites, 1)
	recordChannel("store_write", int(bytes))
}

// IncrementTrade counts one trade accepted into the output channels.
func IncrementTrade() {
	atomic.AddInt64(&tradesIn, 1)
}

// IncrementBook counts one order book update accepted into the output channels.
func IncrementBook() {
	atomic.AddInt64(&booksIn, 1)
}

// RecordChannelMessage tracks throughput per named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport logs a runtime report on the given interval and mirrors it to
// CloudWatch when the client is configured.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	bytesSent, bytesRecv := uint64(0), uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	warnData := componentCounts(&warnCounts)
	errData := componentCounts(&errCounts)

	fields := Fields{
		"reconnects":     atomic.LoadInt64(&reconnects),
		"store_writes":   atomic.LoadInt64(&storeWrites),
		"trades_in":      atomic.LoadInt64(&tradesIn),
		"books_in":       atomic.LoadInt64(&booksIn),
		"warns":          warnData,
		"errors":         errData,
		"channels":       channelData,
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&reconnects)))},
		{MetricName: aws.String("StoreWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&storeWrites)))},
		{MetricName: aws.String("TradesIn"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&tradesIn)))},
		{MetricName: aws.String("BooksIn"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&booksIn)))},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	for component, count := range errData {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Errors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(component)}},
			Value:      aws.Float64(float64(count)),
		})
	}
	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}
	publishMetrics(ctx, data)
}

func componentCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}
