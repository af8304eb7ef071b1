package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StuartCAlexander88/World-Queries/internal/clients"
	"github.com/StuartCAlexander88/World-Queries/internal/config"
	"github.com/StuartCAlexander88/World-Queries/internal/launcher"
	"github.com/StuartCAlexander88/World-Queries/internal/telemetry"
	"github.com/StuartCAlexander88/World-Queries/internal/waiter"
)

// --- mock implementations ---

type fixedLocator struct {
	dir   string
	calls []string
}

func (l *fixedLocator) Locate(start string) string {
	l.calls = append(l.calls, start)
	return l.dir
}

type mockLauncher struct {
	out  launcher.Outcome
	dirs []string
}

func (m *mockLauncher) EnsureRunning(_ context.Context, dir string) launcher.Outcome {
	m.dirs = append(m.dirs, dir)
	return m.out
}

type mockHandle struct {
	rows     []string
	queryErr error
	closeErr error
	closed   int
}

func (h *mockHandle) FirstColumn(_ context.Context, _ string, _ int) ([]string, error) {
	if h.closed > 0 {
		return nil, errors.New("query on closed handle")
	}
	return h.rows, h.queryErr
}

func (h *mockHandle) Close() error {
	h.closed++
	return h.closeErr
}

// opener fails failFirst times before returning h, counting every call.
type opener struct {
	h         *mockHandle
	failFirst int
	calls     int
}

func (o *opener) open(_ context.Context) (Handle, error) {
	o.calls++
	if o.failFirst < 0 || o.calls <= o.failFirst {
		return nil, errors.New("connection refused")
	}
	return o.h, nil
}

type mockGate struct {
	name string
	err  error
	hits int
}

func (g *mockGate) Name() string { return g.name }
func (g *mockGate) Ping(_ context.Context) error {
	g.hits++
	return g.err
}

// --- helpers ---

func testConfig(maxAttempts int) *config.Config {
	return &config.Config{
		Deployment: config.DeploymentConfig{
			Driver: config.DriverMySQL, Host: "localhost", Port: 3306,
			Name: "SET08103", User: "app", Password: "pw",
		},
		Wait:   config.WaitConfig{MaxAttempts: maxAttempts},
		Verify: config.VerifyConfig{Table: "country"},
	}
}

func fixedWd(dir string) func() (string, error) {
	return func() (string, error) { return dir, nil }
}

func okLaunch() *mockLauncher {
	return &mockLauncher{out: launcher.Outcome{AttemptedPrimary: true, Succeeded: true}}
}

// --- tests ---

func TestRun_Success(t *testing.T) {
	t.Parallel()

	loc := &fixedLocator{dir: "/srv/world"}
	launch := okLaunch()
	h := &mockHandle{rows: []string{"ABW", "AFG"}}
	op := &opener{h: h, failFirst: 2}

	p := New(testConfig(3), Deps{
		Locator:  loc,
		Launcher: launch,
		Open:     op.open,
		Getwd:    fixedWd("/srv/world/app"),
	})

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, "/srv/world/app", result.WorkingDir)
	assert.Equal(t, "/srv/world", result.ComposeDir)
	assert.Equal(t, []string{"/srv/world/app"}, loc.calls)
	assert.Equal(t, []string{"/srv/world"}, launch.dirs)
	require.NotNil(t, result.Launch)
	assert.True(t, result.Launch.Succeeded)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, op.calls)
	assert.Equal(t, []string{"ABW", "AFG"}, result.Rows)
	assert.Equal(t, 1, h.closed)
	assert.True(t, result.Released)
	assert.Empty(t, result.Error)
}

func TestRun_LaunchFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	launch := &mockLauncher{out: launcher.Outcome{
		AttemptedPrimary:  true,
		AttemptedFallback: true,
		Err:               &launcher.LaunchError{Command: []string{"docker-compose", "up", "-d"}, ExitCode: 1},
	}}
	h := &mockHandle{rows: []string{"ABW"}}
	op := &opener{h: h}

	p := New(testConfig(3), Deps{
		Locator:  &fixedLocator{dir: "/srv"},
		Launcher: launch,
		Open:     op.open,
		Getwd:    fixedWd("/srv"),
	})

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	require.NotNil(t, result.Launch)
	assert.False(t, result.Launch.Succeeded)
	assert.True(t, result.Launch.AttemptedFallback)
	assert.Contains(t, result.Launch.Error, "exit status 1")
	assert.Equal(t, 1, op.calls)
}

func TestRun_ConnectionExhausted(t *testing.T) {
	t.Parallel()

	h := &mockHandle{}
	op := &opener{h: h, failFirst: -1}

	p := New(testConfig(5), Deps{
		Locator:  &fixedLocator{dir: "/srv"},
		Launcher: okLaunch(),
		Open:     op.open,
		Getwd:    fixedWd("/srv"),
	})

	result, err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, waiter.ErrConnectionExhausted)
	assert.Equal(t, 5, op.calls)
	assert.Equal(t, 5, result.Attempts)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, StageConnect, result.FailedStage)
	assert.Contains(t, result.Error, "connection refused")
	assert.Zero(t, h.closed, "no handle was acquired")
	assert.False(t, result.Released)
}

func TestRun_QueryErrorStillReleases(t *testing.T) {
	t.Parallel()

	h := &mockHandle{
		queryErr: &clients.QueryError{Table: "country", Err: errors.New("no such table")},
		closeErr: errors.New("already closed"),
	}
	op := &opener{h: h}

	p := New(testConfig(3), Deps{
		Locator:  &fixedLocator{dir: "/srv"},
		Launcher: okLaunch(),
		Open:     op.open,
		Getwd:    fixedWd("/srv"),
	})

	result, err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, clients.ErrQuery)
	assert.Equal(t, StageQuery, result.FailedStage)
	assert.Equal(t, 1, h.closed)
	assert.True(t, result.Released)
	assert.Nil(t, result.Rows)
}

func TestRun_SkipLaunch(t *testing.T) {
	t.Parallel()

	loc := &fixedLocator{dir: "/unused"}
	op := &opener{h: &mockHandle{}}

	p := New(testConfig(1), Deps{
		Locator: loc,
		Open:    op.open,
		Getwd:   fixedWd("/srv"),
	})

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, loc.calls)
	assert.Nil(t, result.Launch)
	assert.Empty(t, result.ComposeDir)
}

func TestRun_Gates(t *testing.T) {
	t.Parallel()

	t.Run("all gates pass before database", func(t *testing.T) {
		t.Parallel()

		redis := &mockGate{name: "redis cache:6379"}
		nats := &mockGate{name: "nats nats://bus:4222"}
		op := &opener{h: &mockHandle{}}

		p := New(testConfig(2), Deps{
			Open:  op.open,
			Gates: []Gate{redis, nats},
			Getwd: fixedWd("/srv"),
		})

		result, err := p.Run(context.Background())
		require.NoError(t, err)

		require.Len(t, result.Gates, 2)
		for _, g := range result.Gates {
			assert.Equal(t, StatusOK, g.Status)
			assert.Equal(t, 1, g.Attempts)
		}
		assert.Equal(t, 1, op.calls)
	})

	t.Run("exhausted gate stops before database", func(t *testing.T) {
		t.Parallel()

		redis := &mockGate{name: "redis cache:6379", err: errors.New("connection refused")}
		op := &opener{h: &mockHandle{}}

		p := New(testConfig(3), Deps{
			Open:  op.open,
			Gates: []Gate{redis},
			Getwd: fixedWd("/srv"),
		})

		result, err := p.Run(context.Background())

		assert.ErrorIs(t, err, waiter.ErrConnectionExhausted)
		assert.Equal(t, 3, redis.hits)
		assert.Zero(t, op.calls)
		assert.Equal(t, StageGate, result.FailedStage)
		require.Len(t, result.Gates, 1)
		assert.Equal(t, StatusError, result.Gates[0].Status)
	})
}

func TestRun_CancelledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	op := &opener{h: &mockHandle{}, failFirst: -1}
	cfg := testConfig(10)
	cfg.Wait.Interval = time.Hour

	p := New(cfg, Deps{
		Open:   op.open,
		Waiter: &waiter.Waiter{OnAttempt: func(context.Context, string, waiter.Attempt) { cancel() }},
		Getwd:  fixedWd("/srv"),
	})

	result, err := p.Run(ctx)

	assert.ErrorIs(t, err, waiter.ErrAborted)
	assert.Equal(t, 1, op.calls)
	assert.Equal(t, StageConnect, result.FailedStage)
}

func TestRun_WorkdirError(t *testing.T) {
	t.Parallel()

	op := &opener{h: &mockHandle{}}
	p := New(testConfig(1), Deps{
		Open:  op.open,
		Getwd: func() (string, error) { return "", errors.New("getwd: no such file") },
	})

	result, err := p.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StageWorkdir, result.FailedStage)
	assert.Zero(t, op.calls)
}

func TestResult_JSONShape(t *testing.T) {
	t.Parallel()

	r := Result{
		Status:     StatusOK,
		WorkingDir: "/srv",
		Attempts:   2,
		Released:   true,
		Rows:       []string{"ABW"},
	}

	data, err := json.Marshal(&r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, float64(2), got["attempts"])
	assert.Equal(t, []any{"ABW"}, got["rows"])
	for _, absent := range []string{"error", "failed_stage", "launch", "gates", "compose_dir"} {
		_, has := got[absent]
		assert.False(t, has, "%q should be omitted when empty", absent)
	}
}

// Not parallel: it swaps the default logger.
func TestRun_LogsWithoutCredentials(t *testing.T) {
	const (
		user     = "world_reader"
		password = "Zx9-s3cr3t-pw"
	)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(telemetry.NewRedactHandler(slog.NewJSONHandler(&buf, nil), password)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := testConfig(3)
	cfg.Deployment.User = user
	cfg.Deployment.Password = password
	op := &opener{h: &mockHandle{rows: []string{"ABW"}}, failFirst: 2}

	p := New(cfg, Deps{
		Locator:  &fixedLocator{dir: "/srv"},
		Launcher: okLaunch(),
		Open:     op.open,
		Getwd:    fixedWd("/srv"),
	})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	var (
		connecting map[string]any
		notReady   []map[string]any
		connected  map[string]any
	)
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		line := sc.Text()
		assert.NotContains(t, line, password)
		assert.NotContains(t, line, user)

		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), line)
		switch rec["msg"] {
		case "connecting to database":
			connecting = rec
		case "not ready":
			notReady = append(notReady, rec)
		case "connected":
			connected = rec
		}
	}
	require.NoError(t, sc.Err())

	require.NotNil(t, connecting)
	assert.Equal(t, clients.ConnectionURL(cfg.Deployment), connecting["url"])
	assert.NotContains(t, connecting["url"], "@")

	require.Len(t, notReady, 2)
	for i, rec := range notReady {
		assert.Equal(t, float64(i+1), rec["attempt"])
		assert.Equal(t, float64(3), rec["max_attempts"])
		assert.Equal(t, "connection refused", rec["error"])
	}
	require.NotNil(t, connected)
	assert.Equal(t, float64(3), connected["attempt"])
}
