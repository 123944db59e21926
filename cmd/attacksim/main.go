// Command attacksim drives failed logins at a loginshield instance from a
// spoofed client IP, to exercise threat detection and blocking end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"
)

type options struct {
	URL      string
	IP       string
	Attempts int
	Delay    time.Duration
	Username string
	Password string
}

type result struct {
	Sent    int
	Codes   map[int]int
	Blocked bool
}

func main() {
	log.SetFlags(0)
	var opts options
	flag.StringVar(&opts.URL, "url", "http://localhost:8080/api/auth/login", "Login endpoint")
	flag.StringVar(&opts.IP, "ip", "10.0.0.50", "Client IP sent in X-Forwarded-For")
	flag.IntVar(&opts.Attempts, "attempts", 10, "Number of login attempts")
	flag.DurationVar(&opts.Delay, "delay", 500*time.Millisecond, "Pause between attempts")
	flag.StringVar(&opts.Username, "username", "", "Username to try (random userN when empty)")
	flag.StringVar(&opts.Password, "password", "wrong_password", "Password to try")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := simulate(ctx, &http.Client{Timeout: 5 * time.Second}, opts, os.Stdout)
	if err != nil {
		log.Fatalf("attacksim: %v", err)
	}
	fmt.Printf("sent=%d codes=%v blocked=%t\n", res.Sent, res.Codes, res.Blocked)
}

// simulate posts failed logins until the attempts run out or the IP is
// blocked (403).
func simulate(ctx context.Context, client *http.Client, opts options, out io.Writer) (result, error) {
	res := result{Codes: make(map[int]int)}
	for i := 1; i <= opts.Attempts; i++ {
		username := opts.Username
		if username == "" {
			username = fmt.Sprintf("user%d", rand.IntN(100)+1)
		}
		code, msg, err := attempt(ctx, client, opts, username)
		if err != nil {
			return res, err
		}
		res.Sent++
		res.Codes[code]++
		fmt.Fprintf(out, "attempt %d: %d %s\n", i, code, msg)

		if code == http.StatusForbidden {
			res.Blocked = true
			fmt.Fprintf(out, "ip %s is blocked\n", opts.IP)
			return res, nil
		}
		if i < opts.Attempts && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return res, nil
}

func attempt(ctx context.Context, client *http.Client, opts options, username string) (int, string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": opts.Password})
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", opts.IP)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload.Message, nil
}
