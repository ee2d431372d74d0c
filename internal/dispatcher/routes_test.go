package dispatcher_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/dispatcher"
)

func TestDispatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dispatcher Suite")
}

var _ = Describe("RouteTable", func() {
	var table *dispatcher.RouteTable

	BeforeEach(func() {
		table = dispatcher.NewRouteTable([]dispatcher.RouteEntry{
			{Prefix: "/api/documents", Service: "documents"},
			{Prefix: "/api/documents/archive", Service: "archive"},
			{Prefix: "/api/notifications", Service: "notifications"},
		})
	})

	Describe("Match", func() {
		It("should resolve an exact prefix", func() {
			name, ok := table.Match("/api/notifications")
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("notifications"))
		})

		It("should resolve paths below a prefix", func() {
			name, ok := table.Match("/api/documents/123")
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("documents"))
		})

		It("should prefer the longest matching prefix", func() {
			name, ok := table.Match("/api/documents/archive/2024")
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("archive"))
		})

		It("should not match across segment boundaries", func() {
			_, ok := table.Match("/api/documentsextra")
			Expect(ok).To(BeFalse())
		})

		It("should miss unrouted paths", func() {
			_, ok := table.Match("/api/reports")
			Expect(ok).To(BeFalse())
		})

		It("should support a catch-all root prefix", func() {
			catchAll := dispatcher.NewRouteTable([]dispatcher.RouteEntry{
				{Prefix: "/", Service: "fallback"},
				{Prefix: "/api/documents", Service: "documents"},
			})

			name, _ := catchAll.Match("/anything/else")
			Expect(name).To(Equal("fallback"))

			name, _ = catchAll.Match("/api/documents/1")
			Expect(name).To(Equal("documents"))
		})
	})
})
