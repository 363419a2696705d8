package logger

import (
	"io"
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCountsPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(io.Discard)
	before := componentCounts(&warnCounts)["warncount_test"]

	log.WithComponent("warncount_test").Warn("boom")
	log.WithComponent("warncount_test").Warn("boom again")

	after := componentCounts(&warnCounts)["warncount_test"]
	if after-before != 2 {
		t.Fatalf("warn count delta = %d, want 2", after-before)
	}
}

func TestRecordChannelAccumulates(t *testing.T) {
	RecordChannelMessage("report_test", 10)
	RecordChannelMessage("report_test", 5)

	v, ok := channels.Load("report_test")
	if !ok {
		t.Fatal("channel stat missing")
	}
	cs := v.(*channelStat)
	if cs.messages < 2 || cs.bytes < 15 {
		t.Fatalf("stat = %d msgs / %d bytes, want at least 2/15", cs.messages, cs.bytes)
	}
}
