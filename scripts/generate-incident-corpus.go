//go:build ignore

// Package main generates a synthetic incident corpus for trying fixrecall
// and for benchmarking reindex and analyze at scale.
// Usage: go run scripts/generate-incident-corpus.go -incidents 1000 -output testdata/incidents
//
// Output layout matches what a local source expects:
//
//	logs/      plain-text error logs with a resolution line
//	reports/   JSON error reports (message, stack, resolution)
//	postmortems/ markdown write-ups with Symptoms/Cause/Fix headings
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numIncidents = flag.Int("incidents", 500, "Number of incidents to generate")
	outputDir    = flag.String("output", "testdata/incidents", "Output directory")
	seed         = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// failure is one kind of incident with the fixes that resolved it.
type failure struct {
	exception string
	message   string
	fixes     []string
}

var failures = []failure{
	{"NullPointerException", "%s.%s dereferenced a nil %s", []string{
		"added a null check before calling %s",
		"initialized the %s client at startup instead of lazily",
	}},
	{"TimeoutException", "call to %s.%s exceeded 30s waiting on %s", []string{
		"raised the %s pool size and added a circuit breaker",
		"moved the slow %s query behind a cache",
	}},
	{"OutOfMemoryError", "%s.%s allocated unbounded %s buffers", []string{
		"streamed %s results instead of loading them into memory",
		"capped the %s batch size at 500",
	}},
	{"SQLIntegrityConstraintViolation", "%s.%s inserted a duplicate %s key", []string{
		"made the %s insert idempotent with ON CONFLICT DO NOTHING",
		"deduplicated %s events before writing",
	}},
	{"SSLHandshakeException", "%s.%s rejected the %s certificate", []string{
		"rotated the expired %s certificate",
		"added the internal CA to the %s trust store",
	}},
	{"ConnectionResetError", "%s.%s lost its connection to %s", []string{
		"enabled TCP keepalive on the %s connection",
		"retried %s requests with exponential backoff",
	}},
}

var (
	services   = []string{"PaymentService", "AuthService", "OrderService", "InventoryService", "NotificationService", "SearchService"}
	methods    = []string{"charge", "login", "refresh", "checkout", "reserve", "send", "query", "sync"}
	components = []string{"postgres", "redis", "kafka", "s3", "ldap", "smtp", "elasticsearch", "grpc"}
	hosts      = []string{"api-1", "api-2", "worker-1", "worker-3", "batch-2"}
)

func pick(pool []string) string { return pool[rand.Intn(len(pool))] }

type incident struct {
	id        int
	at        time.Time
	exception string
	service   string
	method    string
	component string
	message   string
	fix       string
}

func newIncident(id int, start time.Time) incident {
	f := failures[rand.Intn(len(failures))]
	in := incident{
		id:        id,
		at:        start.Add(time.Duration(rand.Intn(90*24)) * time.Hour),
		exception: f.exception,
		service:   pick(services),
		method:    pick(methods),
		component: pick(components),
	}
	in.message = fmt.Sprintf(f.message, in.service, in.method, in.component)
	in.fix = fmt.Sprintf(pick(f.fixes), in.component)
	return in
}

func main() {
	flag.Parse()
	rand.Seed(*seed)

	for _, sub := range []string{"logs", "reports", "postmortems"} {
		if err := os.MkdirAll(filepath.Join(*outputDir, sub), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", sub, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d incidents in %s...\n", *numIncidents, *outputDir)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	written := 0
	for i := 0; i < *numIncidents; i++ {
		in := newIncident(i, start)
		var err error
		switch i % 10 {
		case 0, 1, 2, 3, 4: // half logs
			err = writeLog(in)
		case 5, 6, 7: // a third reports
			err = writeReport(in)
		default:
			err = writePostmortem(in)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing incident %d: %v\n", i, err)
			continue
		}
		written++
	}

	fmt.Printf("Generated %d incidents successfully.\n", written)
}

func writeLog(in incident) error {
	var b strings.Builder
	ts := in.at
	for j := 0; j < 3+rand.Intn(5); j++ {
		fmt.Fprintf(&b, "%s INFO  [%s] %s.%s request ok\n", ts.Format(time.RFC3339), pick(hosts), in.service, in.method)
		ts = ts.Add(time.Duration(rand.Intn(5000)) * time.Millisecond)
	}
	fmt.Fprintf(&b, "%s ERROR [%s] %s: %s\n", ts.Format(time.RFC3339), pick(hosts), in.exception, in.message)
	fmt.Fprintf(&b, "\tat com.acme.%s.%s(%s.java:%d)\n", strings.ToLower(in.service), in.method, in.service, 40+rand.Intn(400))
	fmt.Fprintf(&b, "%s INFO  resolution: %s\n", ts.Add(2*time.Hour).Format(time.RFC3339), in.fix)

	name := fmt.Sprintf("%s-%04d.log", strings.ToLower(in.service), in.id)
	return os.WriteFile(filepath.Join(*outputDir, "logs", name), []byte(b.String()), 0o644)
}

func writeReport(in incident) error {
	report := map[string]any{
		"id":         fmt.Sprintf("INC-%04d", in.id),
		"timestamp":  in.at.Format(time.RFC3339),
		"service":    in.service,
		"exception":  in.exception,
		"message":    in.message,
		"stack":      []string{fmt.Sprintf("com.acme.%s.%s", strings.ToLower(in.service), in.method), "com.acme.http.Handler.serve"},
		"resolution": in.fix,
		"severity":   pick([]string{"sev1", "sev2", "sev3"}),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("inc-%04d.json", in.id)
	return os.WriteFile(filepath.Join(*outputDir, "reports", name), data, 0o644)
}

func writePostmortem(in incident) error {
	content := fmt.Sprintf(`# INC-%04d: %s in %s

Date: %s

## Symptoms

%s reported %s: %s.

## Cause

The %s dependency degraded and %s.%s had no protection against it.

## Fix

We %s.
`, in.id, in.exception, in.service, in.at.Format("2006-01-02"),
		in.service, in.exception, in.message,
		in.component, in.service, in.method,
		in.fix)

	name := fmt.Sprintf("inc-%04d.md", in.id)
	return os.WriteFile(filepath.Join(*outputDir, "postmortems", name), []byte(content), 0o644)
}
