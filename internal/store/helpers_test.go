package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/testutil"
)

var epoch = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

const (
	complaintTpl = "complaint_record_v1"
	recordID     = "CR-2025-0001"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openStore opens a store with deterministic time and ids.
func openStore(t *testing.T, cfg config.Config, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithLogger(quietLogger()),
		WithClock(testutil.NewDeterministicClock(epoch, time.Minute).Now),
		WithIDGenerator(testutil.NewSequentialIDs("op")),
	}
	s, err := Open(context.Background(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func complaint(status string, extra map[string]any) payload.Object {
	m := map[string]any{
		"product_name":   "ポンプA",
		"complaint_date": "2025-01-10",
		"status":         status,
	}
	for k, v := range extra {
		m[k] = v
	}
	return payload.MustObject(m)
}

func mustSave(t *testing.T, s *Store, data payload.Object) SaveResult {
	t.Helper()
	res, err := s.SaveRecord(context.Background(), SaveRequest{
		TemplateID: complaintTpl,
		RecordID:   recordID,
		Author:     "tanaka",
		Data:       data,
	})
	require.NoError(t, err)
	return res
}
