package dispatcher

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("retryAfterSeconds", func() {
	It("should round partial seconds up", func() {
		Expect(retryAfterSeconds(time.Now().Add(1500 * time.Millisecond))).To(Equal(2))
	})

	It("should report a whole remaining window exactly", func() {
		Expect(retryAfterSeconds(time.Now().Add(3 * time.Second))).To(Equal(3))
	})

	It("should never hint below one second", func() {
		Expect(retryAfterSeconds(time.Now())).To(Equal(1))
		Expect(retryAfterSeconds(time.Now().Add(-time.Minute))).To(Equal(1))
	})
})
