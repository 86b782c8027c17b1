// docketsync-enqueue is the operator CLI for the queue control endpoints:
// it mints a short-lived admin token and enqueues, cancels, or inspects
// reconciliation jobs over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docketsync/docketsync/internal/webhook"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("DOCKETSYNC_BASE_URL", "http://127.0.0.1:8080"), "docketsync base URL")
	secret := flag.String("admin-secret", strings.TrimSpace(os.Getenv("DOCKETSYNC_ADMIN_JWT_SECRET")), "admin JWT signing secret")
	jobType := flag.String("type", "", "job type: judge, court, or decision")
	since := flag.String("since", "", "only reconcile records modified at or after this timestamp")
	remoteID := flag.String("remote-id", "", "reconcile a single upstream record")
	priority := flag.Int("priority", 0, "job priority; higher runs first")
	cancelID := flag.String("cancel", "", "cancel the job with this ID instead of enqueueing")
	cancelType := flag.String("cancel-type", "", "cancel all pending and running jobs of this type")
	stats := flag.Bool("stats", false, "print queue stats and exit")
	timeout := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		log.Fatalf("admin secret is required (--admin-secret or DOCKETSYNC_ADMIN_JWT_SECRET)")
	}

	token, err := webhook.MintAdminToken(*secret, []string{"jobs:read", "jobs:write"}, 5*time.Minute, time.Now())
	if err != nil {
		log.Fatalf("failed to mint admin token: %v", err)
	}
	cli := &controlClient{
		baseURL: strings.TrimRight(strings.TrimSpace(*baseURL), "/"),
		token:   token,
		http:    &http.Client{Timeout: *timeout},
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *stats:
		err = cli.do(ctx, http.MethodGet, "/v1/admin/jobs/stats", nil)
	case *cancelID != "":
		err = cli.do(ctx, http.MethodPost, "/v1/admin/jobs/cancel", map[string]any{"id": *cancelID})
	case *cancelType != "":
		err = cli.do(ctx, http.MethodPost, "/v1/admin/jobs/cancel", map[string]any{"type": *cancelType})
	case *jobType != "":
		options := map[string]string{}
		if *since != "" {
			options["since"] = *since
		}
		if *remoteID != "" {
			options["remote_id"] = *remoteID
		}
		err = cli.do(ctx, http.MethodPost, "/v1/admin/jobs", map[string]any{
			"type":     *jobType,
			"options":  options,
			"priority": *priority,
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

type controlClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *controlClient) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	out := strings.TrimSpace(string(data))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, out)
	}
	fmt.Println(out)
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
