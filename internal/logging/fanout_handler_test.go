package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerCollapses(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if TeeHandler(nil, inner) != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsChildLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := TeeHandler(
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee enabled for debug when any child accepts it")
	}

	logger := slog.New(h).With("engine", "neural")
	logger.Debug("frame classified")
	logger.Info("video scored")

	if strings.Contains(infoBuf.String(), "frame classified") {
		t.Fatalf("info handler received debug record: %q", infoBuf.String())
	}
	for _, want := range []string{"frame classified", "video scored", "engine=neural"} {
		if !strings.Contains(debugBuf.String(), want) {
			t.Fatalf("expected %q in debug output %q", want, debugBuf.String())
		}
	}
}
