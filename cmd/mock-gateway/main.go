package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/mockgateway"
)

func main() {
	addr := defaultString("MOCK_GATEWAY_ADDR", ":8080")
	seedPath := defaultString("MOCK_GATEWAY_SEED", "")
	sessions := defaultString("MOCK_GATEWAY_SESSIONS", "")

	cfg := mockgateway.Config{
		SenderID:       defaultString("DBID", ""),
		SenderPassword: defaultString("DBPasswd", ""),
		CompanyID:      defaultString("Company", ""),
		UserID:         defaultString("WSUserID", ""),
		Password:       defaultString("WSPasswd", ""),
		UniqueField:    defaultString("MOCK_GATEWAY_UNIQUE_FIELD", "NAME"),
	}

	fs := flag.NewFlagSet("mock-gateway", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&seedPath, "seed", seedPath, "YAML file with initial objects and session ids")
	fs.StringVar(&sessions, "sessions", sessions, "Comma-separated session ids to accept without login (also supports env: MOCK_GATEWAY_SESSIONS)")
	fs.StringVar(&cfg.UniqueField, "unique-field", cfg.UniqueField, "Field that must be unique per object type")
	_ = fs.Parse(os.Args[1:])

	var seed *mockgateway.Seed
	if seedPath != "" {
		var err error
		seed, err = mockgateway.LoadSeed(seedPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
			os.Exit(1)
		}
	}

	srv := mockgateway.New(cfg, seed)
	for _, id := range splitCSV(sessions) {
		srv.AddSession(id)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-gateway listening on %s (seed=%s)\n", addr, valueOr(seedPath, "none"))
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
