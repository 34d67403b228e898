package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/metrics"
	"github.com/roach88/atomledger/internal/store"
)

func TestWatchCatchesUpAndStops(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "", "register", writeDefs(t), "--db", db)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"watch", "--db", db, "--metrics-addr", "127.0.0.1:0"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Indexer running")

	st, err := store.OpenReadOnly(db)
	require.NoError(t, err)
	defer st.Close()

	n, err := st.CountEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	owner, _, err := st.LeaseHolder(context.Background())
	require.NoError(t, err)
	assert.Empty(t, owner, "lease is released on shutdown")
}

func TestWatchInvalidCron(t *testing.T) {
	t.Setenv("ATOMLEDGER_VERIFY_CRON", "every tuesday")
	_, err := execute(t, "", "watch", "--db", tempDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMetricsServerServesRegistry(t *testing.T) {
	m := metrics.New()
	m.Watermark.Set(7)
	srv := newMetricsServer("127.0.0.1:0", m)
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.InDelta(t, 7, testutil.ToFloat64(m.Watermark), 0)
	require.NotNil(t, srv.Handler)
}
