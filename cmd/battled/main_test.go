package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-fluency-battle/internal/auth"
	"github.com/tbourn/go-fluency-battle/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func baseEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"STORE_DRIVER":    config.DriverMemory,
		"AUTH_MODE":       config.AuthHeader,
		"LOG_LEVEL":       "error",
		"LOG_PRETTY":      "false",
		"GEMINI_API_KEY":  "",
		"REDIS_ADDR":      "",
		"OTEL_ENABLED":    "false",
		"CATALOG_PATH":    "",
		"SWAGGER_ENABLED": "false",
	} {
		t.Setenv(k, v)
	}
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestRoot_HelpListsCommands(t *testing.T) {
	baseEnv(t)
	out, err := run(t, "")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, c := range []string{"serve", "migrate", "score", "token"} {
		if !strings.Contains(out, c) {
			t.Errorf("help lacks %q:\n%s", c, out)
		}
	}
}

func TestLoadEnvFiles_ProcessEnvWins(t *testing.T) {
	t.Setenv("BATTLED_TEST_FROM_FILE", "")
	os.Unsetenv("BATTLED_TEST_FROM_FILE")
	t.Setenv("BATTLED_TEST_PRESET", "process")

	p := writeFile(t, "test.env", "BATTLED_TEST_FROM_FILE=file\nBATTLED_TEST_PRESET=file\n")
	if err := loadEnvFiles([]string{p}); err != nil {
		t.Fatalf("loadEnvFiles: %v", err)
	}
	if got := os.Getenv("BATTLED_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("from file = %q", got)
	}
	if got := os.Getenv("BATTLED_TEST_PRESET"); got != "process" {
		t.Fatalf("preset overridden: %q", got)
	}

	if err := loadEnvFiles([]string{filepath.Join(t.TempDir(), "missing.env")}); err == nil {
		t.Fatalf("explicit missing file should fail")
	}
}

func TestMigrate_SQLite(t *testing.T) {
	baseEnv(t)
	db := filepath.Join(t.TempDir(), "battle.db")
	t.Setenv("STORE_DRIVER", config.DriverSQLite)
	t.Setenv("DB_PATH", db)

	out, err := run(t, "", "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "sqlite store is up to date") {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(db); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	// idempotent
	if _, err := run(t, "", "migrate"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestMigrate_BadConfig(t *testing.T) {
	baseEnv(t)
	t.Setenv("STORE_DRIVER", "cassandra")
	if _, err := run(t, "", "migrate"); err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("err = %v", err)
	}
}

func TestScore_BotMatchWithSeed(t *testing.T) {
	baseEnv(t)
	host := writeFile(t, "host.txt", "I visited my grandmother last weekend.\n\nWe cooked a huge dinner together and talked for hours.\n")
	opp := writeFile(t, "bot.txt", "That sounds lovely.\nWhat did you cook?\n")

	out1, err := run(t, "", "score", host, opp, "--bot", "--seed", "7")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for _, want := range []string{"player1 (" + host + ")", "player2 (" + opp + ")", "Winner:", "handicap applied"} {
		if !strings.Contains(out1, want) {
			t.Errorf("output lacks %q:\n%s", want, out1)
		}
	}
	out2, err := run(t, "", "score", host, opp, "--bot", "--seed", "7")
	if err != nil || out1 != out2 {
		t.Fatalf("seeded runs differ (err=%v):\n%s\n%s", err, out1, out2)
	}
}

func TestScore_StdinSingleSide(t *testing.T) {
	baseEnv(t)
	out, err := run(t, "hello there\nhow are you today?\n", "score", "-")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !strings.Contains(out, "player1 (-)") || strings.Contains(out, "Winner:") {
		t.Fatalf("single side output:\n%s", out)
	}
	if _, err := run(t, "", "score"); err == nil {
		t.Fatalf("score without args should fail")
	}
}

func TestToken(t *testing.T) {
	baseEnv(t)
	if _, err := run(t, "", "token", "alice"); err == nil || !strings.Contains(err.Error(), "AUTH_MODE") {
		t.Fatalf("header mode err = %v", err)
	}

	t.Setenv("AUTH_MODE", config.AuthJWT)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_ISSUER", "battled-test")
	out, err := run(t, "", "token", "alice", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	v, err := auth.NewJWTVerifier(testSecret, "battled-test")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	sub, err := v.Verify(context.Background(), strings.TrimSpace(out))
	if err != nil || sub != "alice" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}
}

func TestRunServer_ServesAndDrains(t *testing.T) {
	baseEnv(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := "http://" + ln.Addr().String()
	lg := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, ln, true, &lg) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var ready bool
	for i := 0; i < 50 && !ready; i++ {
		if resp, err := client.Get(base + "/ready"); err == nil {
			ready = resp.StatusCode == http.StatusOK
			resp.Body.Close()
		}
		if !ready {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !ready {
		cancel()
		t.Fatalf("server never became ready")
	}

	req, _ := http.NewRequest(http.MethodPost, base+cfg.APIBasePath+"/rpc", strings.NewReader(`{"type":"warmup"}`))
	req.Header.Set("Authorization", "Bearer alice")
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("rpc: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("warmup = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer: %v", err)
		}
	case <-time.After(shutdownGrace):
		t.Fatalf("server did not stop")
	}
}

func Test_renderTable(t *testing.T) {
	if renderTable(nil, nil) != "" {
		t.Fatalf("empty headers should render nothing")
	}
	out := renderTable([]string{"Player", "Total"}, [][]string{{"player1"}, {"player2", "212"}}, 2)
	for _, want := range []string{"Player", "Total", "player1", "player2", "212"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "PLAYER") {
		t.Fatalf("headers were upper-cased:\n%s", out)
	}
}
