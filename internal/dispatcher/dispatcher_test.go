package dispatcher_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/dispatcher"
	"github.com/angeloszaimis/api-gateway/internal/registry"
)

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}

var _ = Describe("Dispatcher", func() {
	var (
		backend  *httptest.Server
		breakers *circuitbreaker.Registry
		disp     *dispatcher.Dispatcher
	)

	newDispatcher := func(backendURL string, timeout time.Duration) *dispatcher.Dispatcher {
		descriptors := []registry.ServiceDescriptor{{
			Name:    "documents",
			BaseURL: mustParseURL(backendURL),
			Timeout: timeout,
		}}
		routes := dispatcher.NewRouteTable([]dispatcher.RouteEntry{
			{Prefix: "/api/documents", Service: "documents"},
		})
		return dispatcher.New(nil, routes, descriptors, breakers, nil)
	}

	BeforeEach(func() {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: 3,
			RecoveryTimeout:  time.Second,
			HalfOpenQuota:    2,
		}, nil)
	})

	AfterEach(func() {
		if backend != nil {
			backend.Close()
			backend = nil
		}
	})

	decodeError := func(body io.Reader) dispatcher.ErrorBody {
		var eb dispatcher.ErrorBody
		Expect(json.NewDecoder(body).Decode(&eb)).To(Succeed())
		return eb
	}

	Describe("Routing", func() {
		BeforeEach(func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			disp = newDispatcher(backend.URL, time.Second)
		})

		It("should return 404 with a structured body for unrouted paths", func() {
			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			eb := decodeError(rec.Body)
			Expect(eb.Category).To(Equal(dispatcher.CategoryRouteNotFound))
			// No backend was contacted, so the breaker saw nothing.
			Expect(breakers.GetState("documents").Stats.Requests).To(BeZero())
		})
	})

	Describe("Successful dispatch", func() {
		var gotPath, gotRequestID string

		BeforeEach(func() {
			gotPath, gotRequestID = "", ""
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotRequestID = r.Header.Get("X-Request-Id")
				w.Header().Set("X-Upstream", "yes")
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(`{"id":"42"}`))
			}))
			disp = newDispatcher(backend.URL, time.Second)
		})

		It("should forward the response verbatim and record a success", func() {
			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/42", nil))

			Expect(gotPath).To(Equal("/api/documents/42"))
			Expect(gotRequestID).NotTo(BeEmpty())
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(rec.Body.String()).To(Equal(`{"id":"42"}`))
			Expect(rec.Header().Get("X-Upstream")).To(Equal("yes"))
			Expect(rec.Header().Get("X-Gateway-Backend")).To(Equal("documents"))
			Expect(rec.Header().Get("X-Request-Id")).NotTo(BeEmpty())

			state := breakers.GetState("documents")
			Expect(state.Stats.Successes).To(Equal(uint64(1)))
			Expect(state.Stats.Failures).To(BeZero())
		})

		It("should propagate an existing request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/documents/42", nil)
			req.Header.Set("X-Request-Id", "req-123")
			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, req)

			Expect(rec.Header().Get("X-Request-Id")).To(Equal("req-123"))
		})
	})

	Describe("Backend error responses", func() {
		BeforeEach(func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("backend diagnostics"))
			}))
			disp = newDispatcher(backend.URL, time.Second)
		})

		It("should surface the 5xx body verbatim but record a failure", func() {
			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(Equal("backend diagnostics"))
			Expect(breakers.GetState("documents").Stats.Failures).To(Equal(uint64(1)))
		})

		It("should open the circuit after repeated 5xx responses", func() {
			for i := 0; i < 3; i++ {
				rec := httptest.NewRecorder()
				disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
			}
			Expect(breakers.Get("documents").Phase()).To(Equal(circuitbreaker.PhaseOpen))
		})
	})

	Describe("Unreachable backends", func() {
		BeforeEach(func() {
			disp = newDispatcher("http://127.0.0.1:1", time.Second)
		})

		It("should answer 502 with the failure class and backend name", func() {
			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			eb := decodeError(rec.Body)
			Expect(eb.Category).To(Equal(dispatcher.CategoryBackendUnreachable))
			Expect(eb.Backend).To(Equal("documents"))
			Expect(breakers.GetState("documents").Stats.Failures).To(Equal(uint64(1)))
		})
	})

	Describe("Backend timeouts", func() {
		BeforeEach(func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(500 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			}))
			disp = newDispatcher(backend.URL, 50*time.Millisecond)
		})

		It("should answer 504 and record a failure", func() {
			rec := httptest.NewRecorder()
			start := time.Now()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

			Expect(time.Since(start)).To(BeNumerically("<", 400*time.Millisecond))
			Expect(rec.Code).To(Equal(http.StatusGatewayTimeout))
			Expect(decodeError(rec.Body).Category).To(Equal(dispatcher.CategoryBackendTimeout))
			Expect(breakers.GetState("documents").Stats.Failures).To(Equal(uint64(1)))
		})
	})

	Describe("Client cancellation", func() {
		BeforeEach(func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			}))
			disp = newDispatcher(backend.URL, 5*time.Second)
		})

		It("should not count an abandoned call against the backend", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			req := httptest.NewRequest(http.MethodGet, "/api/documents", nil).WithContext(ctx)
			disp.ServeHTTP(httptest.NewRecorder(), req)

			// The backend was healthy and well within its own budget; an
			// impatient caller must leave the breaker untouched.
			state := breakers.GetState("documents")
			Expect(state.Stats.Requests).To(BeZero())
			Expect(state.Stats.Failures).To(BeZero())
		})

		It("should keep the circuit closed under repeated client aborts", func() {
			for i := 0; i < 5; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
				req := httptest.NewRequest(http.MethodGet, "/api/documents", nil).WithContext(ctx)
				disp.ServeHTTP(httptest.NewRecorder(), req)
				cancel()
			}

			Expect(breakers.Get("documents").Phase()).To(Equal(circuitbreaker.PhaseClosed))
			Expect(breakers.Get("documents").Allow()).To(BeTrue())
		})
	})

	Describe("Circuit guarding", func() {
		BeforeEach(func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			disp = newDispatcher(backend.URL, time.Second)
		})

		It("should fast-fail with 503 and a Retry-After hint while open", func() {
			for i := 0; i < 3; i++ {
				breakers.Get("documents").RecordFailure()
			}

			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			eb := decodeError(rec.Body)
			Expect(eb.Category).To(Equal(dispatcher.CategoryCircuitOpen))
			Expect(eb.Backend).To(Equal("documents"))

			retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
			Expect(err).NotTo(HaveOccurred())
			Expect(retryAfter).To(BeNumerically(">", 0))

			// Fast-fail means the breaker recorded no new attempt.
			Expect(breakers.GetState("documents").Stats.Requests).To(Equal(uint64(3)))
		})

		It("should let a probe through once the recovery timeout elapses", func() {
			for i := 0; i < 3; i++ {
				breakers.Get("documents").RecordFailure()
			}

			time.Sleep(1100 * time.Millisecond)

			rec := httptest.NewRecorder()
			disp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(breakers.Get("documents").Phase()).To(Equal(circuitbreaker.PhaseHalfOpen))
		})
	})
})
