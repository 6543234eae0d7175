package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/provisioner/internal/api"
	"github.com/mcoot/provisioner/internal/factory"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/oauth"
)

// cliRunner manages CLI binary execution
type cliRunner struct {
	binaryPath string
	serverURL  string
	home       string
	env        []string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()

	// Find project root (where go.mod is)
	projectRoot := findProjectRoot(t)

	// Build the CLI binary
	binaryPath := filepath.Join(projectRoot, "bin", "provisioner-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/provisioner")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	return &cliRunner{
		binaryPath: binaryPath,
		serverURL:  serverURL,
		// Isolated home so no user config file is picked up
		home: t.TempDir(),
	}
}

func (r *cliRunner) command(stdin string, args ...string) *exec.Cmd {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	cmd.Dir = r.home
	cmd.Env = append(os.Environ(), "HOME="+r.home)
	cmd.Env = append(cmd.Env, r.env...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd
}

func (r *cliRunner) run(args ...string) (string, error) {
	output, err := r.command("", args...).CombinedOutput()
	return string(output), err
}

// runSplit returns stdout and stderr separately
func (r *cliRunner) runSplit(stdin string, args ...string) (string, string, error) {
	cmd := r.command(stdin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// newTokenEndpoint serves password grants, rejecting any username in rejected
func newTokenEndpoint(t *testing.T, rejected ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		user := r.PostForm.Get("username")
		for _, u := range rejected {
			if u == user {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad password"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt-` + user + `","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testServer manages a real HTTP server for e2e tests
type testServer struct {
	server   *http.Server
	addr     string
	app      *factory.TestApp
	shutdown func()
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	tokens := newTokenEndpoint(t)

	// Create application with mocked session and registration collaborators
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := factory.Config{OAuth: oauth.DefaultConfig()}
	cfg.OAuth.Authority = tokens.URL
	cfg.OAuth.Mode = oauth.ModePassword
	app := factory.NewTestApp(cfg, logger)

	router := api.NewRouter(api.RouterConfig{
		Logger:      logger,
		Storage:     app.Storage,
		StorageType: app.StorageType,
		Clock:       app.Clock,
		Tasks:       app.Tasks,
		Pipeline:    app.Pipeline,
		OAuth:       app.Acquirer.Client(),
		Metrics:     app.Metrics,
	})

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	// Wait for server to be ready
	serverURL := "http://" + addr
	waitForServer(t, serverURL+"/api/v1/health")

	return &testServer{
		server: server,
		addr:   serverURL,
		app:    app,
		shutdown: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
			_ = app.Tasks.Shutdown(ctx)
		},
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

// Response types for JSON parsing
type taskResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	Quantity     int    `json:"quantity"`
	SuccessCount int    `json:"success_count"`
	TokenCount   int    `json:"token_count"`
}

type accountResponse struct {
	Email      string `json:"email"`
	Authorized bool   `json:"authorized"`
	Used       bool   `json:"used"`
	TaskID     string `json:"task_id"`
}

type accountListResponse struct {
	Accounts []accountResponse `json:"accounts"`
	Total    int               `json:"total"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// waitForTask polls the CLI until the task leaves the running state
func waitForTask(t *testing.T, cli *cliRunner, id string) taskResponse {
	t.Helper()

	var task taskResponse
	require.Eventually(t, func() bool {
		output, err := cli.run("tasks", "get", id)
		if err != nil {
			return false
		}
		if err := json.Unmarshal([]byte(output), &task); err != nil {
			return false
		}
		return task.State != string(model.TaskStateRunning)
	}, 10*time.Second, 100*time.Millisecond)
	return task
}

func provision(t *testing.T, cli *cliRunner, quantity int) taskResponse {
	t.Helper()

	output, err := cli.run("provision",
		"--quantity", fmt.Sprint(quantity),
		"--domain", "example.com",
		"--client-id", "client-1",
		"--concurrency", "2",
		"--session-share", "2")
	require.NoError(t, err, "output: %s", output)

	var task taskResponse
	require.NoError(t, json.Unmarshal([]byte(output), &task))
	assert.Equal(t, "provision", task.Kind)
	assert.Equal(t, quantity, task.Quantity)
	return task
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	output, err := cli.run("health")
	require.NoError(t, err, "output: %s", output)

	var resp healthResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "memory", resp.Storage)
}

func TestCLI_ProvisionAndExport(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	task := provision(t, cli, 3)
	done := waitForTask(t, cli, task.ID)
	assert.Equal(t, "completed", done.State)
	assert.Equal(t, 3, done.SuccessCount)
	assert.Equal(t, 3, done.TokenCount)

	// Accounts created by the task
	output, err := cli.run("accounts", "list", "--task", task.ID)
	require.NoError(t, err, "output: %s", output)
	var list accountListResponse
	require.NoError(t, json.Unmarshal([]byte(output), &list))
	require.Equal(t, 3, list.Total)
	for _, a := range list.Accounts {
		assert.True(t, a.Authorized)
		assert.Equal(t, task.ID, a.TaskID)
	}

	// Export lines
	output, err = cli.run("accounts", "export")
	require.NoError(t, err, "output: %s", output)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 3)
	first := list.Accounts[0].Email
	assert.Contains(t, lines, first+"|client-1|rt-"+first)

	// Used accounts drop out of the default export
	output, err = cli.run("accounts", "use", first)
	require.NoError(t, err, "output: %s", output)
	var used accountResponse
	require.NoError(t, json.Unmarshal([]byte(output), &used))
	assert.True(t, used.Used)

	output, err = cli.run("accounts", "export")
	require.NoError(t, err, "output: %s", output)
	assert.Len(t, strings.Split(strings.TrimSpace(output), "\n"), 2)

	output, err = cli.run("accounts", "export", "--all")
	require.NoError(t, err, "output: %s", output)
	assert.Len(t, strings.Split(strings.TrimSpace(output), "\n"), 3)

	// Delete
	output, err = cli.run("accounts", "delete", first)
	require.NoError(t, err, "output: %s", output)
	_, err = cli.run("accounts", "get", first)
	assert.Error(t, err)
}

func TestCLI_TaskEvents(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	task := provision(t, cli, 2)
	waitForTask(t, cli, task.ID)

	// Finished tasks replay their log and the stream ends
	stdout, stderr, err := cli.runSplit("", "events", task.ID, "--json")
	require.NoError(t, err, "stderr: %s", stderr)

	var steps []model.Step
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		var ev model.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line: %s", line)
		assert.Equal(t, model.TaskID(task.ID), ev.TaskID)
		steps = append(steps, ev.Step)
	}
	require.NotEmpty(t, steps)
	assert.Equal(t, model.StepBatchStarted, steps[0])
	assert.Contains(t, steps, model.StepSessionOpened)
	assert.Contains(t, steps, model.StepAuthSucceeded)

	// The same log as a single JSON document
	output, err := cli.run("tasks", "log", task.ID)
	require.NoError(t, err, "output: %s", output)
	var log struct {
		TaskID string        `json:"task_id"`
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &log))
	assert.Len(t, log.Events, len(steps))
}

func TestCLI_TasksListAndErrors(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	task := provision(t, cli, 1)
	waitForTask(t, cli, task.ID)

	output, err := cli.run("tasks", "list")
	require.NoError(t, err, "output: %s", output)
	var list struct {
		Tasks []taskResponse `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, task.ID, list.Tasks[0].ID)

	// Stopping a finished task is a no-op
	output, err = cli.run("tasks", "stop", task.ID)
	require.NoError(t, err, "output: %s", output)

	output, err = cli.run("tasks", "get", "missing")
	require.Error(t, err)
	assert.Contains(t, output, "TASK_NOT_FOUND")

	output, err = cli.run("provision", "--quantity", "0", "--domain", "example.com", "--client-id", "c")
	require.Error(t, err)
	assert.Contains(t, output, "INVALID_REQUEST")
}

func TestCLI_IdentitiesGenerate(t *testing.T) {
	cli := newCLIRunner(t, "http://127.0.0.1:1")

	output, err := cli.run("identities", "generate", "--count", "3", "--domain", "example.org")
	require.NoError(t, err, "output: %s", output)

	var ids []model.Identity
	require.NoError(t, json.Unmarshal([]byte(output), &ids))
	require.Len(t, ids, 3)
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.True(t, strings.HasSuffix(id.Email, "@example.org"), id.Email)
		assert.Len(t, id.Password, 12)
		seen[id.Email] = true
	}
	assert.Len(t, seen, 3)
}

func TestCLI_TokensAcquireLocally(t *testing.T) {
	tokens := newTokenEndpoint(t, "b@example.com")

	cli := newCLIRunner(t, "http://127.0.0.1:1")
	cli.env = []string{"PROVISIONER_OAUTH_AUTHORITY=" + tokens.URL}

	creds := "a@example.com----pw1\n# comment\nb@example.com----pw2\n"
	stdout, stderr, err := cli.runSplit(creds, "tokens", "acquire", "--client-id", "client-9", "--mode", "password")
	require.Error(t, err, "one credential is rejected")

	assert.Equal(t, "a@example.com|client-9|rt-a@example.com\n", stdout)
	assert.Contains(t, stderr, "1 of 2 tokens acquired")
	assert.Contains(t, stderr, "b@example.com")
}
