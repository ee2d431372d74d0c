package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenQuota:    3,
		}, nil)
	})

	Describe("Get", func() {
		It("should create a breaker lazily on first reference", func() {
			cb := registry.Get("orders")
			Expect(cb).NotTo(BeNil())
			Expect(cb.Phase()).To(Equal(circuitbreaker.PhaseClosed))
		})

		It("should return the same breaker for the same name", func() {
			Expect(registry.Get("orders")).To(BeIdenticalTo(registry.Get("orders")))
		})

		It("should return distinct breakers for distinct names", func() {
			Expect(registry.Get("orders")).NotTo(BeIdenticalTo(registry.Get("billing")))
		})

		It("should be safe under concurrent first reference", func() {
			var wg sync.WaitGroup
			breakers := make([]*circuitbreaker.Breaker, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					breakers[i] = registry.Get("orders")
				}(i)
			}
			wg.Wait()
			for i := 1; i < 10; i++ {
				Expect(breakers[i]).To(BeIdenticalTo(breakers[0]))
			}
		})
	})

	Describe("Configure", func() {
		It("should apply per-backend overrides", func() {
			registry.Configure("flaky", circuitbreaker.Config{FailureThreshold: 2})

			cb := registry.Get("flaky")
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.Phase()).To(Equal(circuitbreaker.PhaseOpen))
		})

		It("should keep defaults for fields the override leaves zero", func() {
			registry.Configure("flaky", circuitbreaker.Config{RecoveryTimeout: time.Minute})

			cb := registry.Get("flaky")
			for i := 0; i < 4; i++ {
				cb.RecordFailure()
			}
			Expect(cb.Phase()).To(Equal(circuitbreaker.PhaseClosed))
			cb.RecordFailure()
			Expect(cb.Phase()).To(Equal(circuitbreaker.PhaseOpen))
		})
	})

	Describe("GetState", func() {
		It("should report implicit closed for a name never called", func() {
			state := registry.GetState("untouched")
			Expect(state.Phase).To(Equal("closed"))
			Expect(state.Stats.Requests).To(BeZero())
		})
	})

	Describe("AllStates", func() {
		It("should return snapshots sorted by name", func() {
			registry.Get("zeta")
			registry.Get("alpha")
			registry.Get("mid")

			states := registry.AllStates()
			Expect(states).To(HaveLen(3))
			Expect(states[0].Name).To(Equal("alpha"))
			Expect(states[1].Name).To(Equal("mid"))
			Expect(states[2].Name).To(Equal("zeta"))
		})
	})

	Describe("Reset and ResetAll", func() {
		BeforeEach(func() {
			registry.Configure("a", circuitbreaker.Config{FailureThreshold: 1})
			registry.Configure("b", circuitbreaker.Config{FailureThreshold: 1})
			registry.Get("a").RecordFailure()
			registry.Get("b").RecordFailure()
		})

		It("should reset a single breaker", func() {
			registry.Reset("a")
			Expect(registry.Get("a").Phase()).To(Equal(circuitbreaker.PhaseClosed))
			Expect(registry.Get("b").Phase()).To(Equal(circuitbreaker.PhaseOpen))
		})

		It("should reset every breaker", func() {
			registry.ResetAll()
			Expect(registry.Get("a").Phase()).To(Equal(circuitbreaker.PhaseClosed))
			Expect(registry.Get("b").Phase()).To(Equal(circuitbreaker.PhaseClosed))
		})
	})
})
