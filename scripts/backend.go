// Backend is a simple test HTTP server used for gateway testing.
// It provides /health and catch-all echo endpoints, with flags to
// simulate failures and latency so circuit breaker behavior can be
// exercised by hand.
//
// Usage:
//
//	go run backend.go -port 8081 -name documents -fail-rate 30
//
// POST /admin/unhealthy makes /health return 500; POST /admin/healthy
// restores it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"
)

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "backend", "backend name echoed in responses")
	failRate := flag.Int("fail-rate", 0, "percentage of requests answered with HTTP 500")
	latency := flag.Duration("latency", 0, "artificial delay added to every response")
	flag.Parse()

	var unhealthy atomic.Bool

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintln(w, "unhealthy")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	mux.HandleFunc("POST /admin/unhealthy", func(w http.ResponseWriter, r *http.Request) {
		unhealthy.Store(true)
		log.Printf("[%s] health checks will now fail", *name)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /admin/healthy", func(w http.ResponseWriter, r *http.Request) {
		unhealthy.Store(false)
		log.Printf("[%s] health checks restored", *name)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *latency > 0 {
			time.Sleep(*latency)
		}

		log.Printf("[%s] %s %s from %s", *name, r.Method, r.URL.Path, r.RemoteAddr)

		if *failRate > 0 && rand.Intn(100) < *failRate {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "simulated failure",
				"backend": *name,
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"backend": *name,
			"method":  r.Method,
			"path":    r.URL.Path,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("[%s] listening on %s (fail-rate=%d%%, latency=%s)", *name, addr, *failRate, *latency)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
