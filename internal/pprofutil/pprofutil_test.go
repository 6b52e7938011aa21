package pprofutil

import (
	"context"
	"net/http"
	"testing"
)

func TestIsLoopbackBind(t *testing.T) {
	cases := []struct {
		addr string
		ok   bool
	}{
		{addr: "127.0.0.1:6060", ok: true},
		{addr: "localhost:6060", ok: true},
		{addr: "[::1]:6060", ok: true},
		{addr: "0.0.0.0:6060", ok: false},
		{addr: "192.168.1.10:6060", ok: false},
		{addr: "bad-addr", ok: false},
	}
	for _, tc := range cases {
		if got := isLoopbackBind(tc.addr); got != tc.ok {
			t.Fatalf("isLoopbackBind(%q)=%v want %v", tc.addr, got, tc.ok)
		}
	}
}

func TestStartFromEnvDisabled(t *testing.T) {
	t.Setenv("ALLNET_PPROF", "")
	addr, err := StartFromEnv()
	if err != nil || addr != "" {
		t.Fatalf("expected disabled, got %q %v", addr, err)
	}
}

func TestStartRefusesPublic(t *testing.T) {
	if _, _, err := Start("0.0.0.0:0", false); err == nil {
		t.Fatalf("expected refusal for public bind")
	}
}

func TestStartServesIndex(t *testing.T) {
	addr, stop, err := Start("127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop(context.Background())
	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
