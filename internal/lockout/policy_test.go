package lockout

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Policy", func() {
	var policy Policy

	BeforeEach(func() {
		policy = DefaultPolicy(KindLogin)
	})

	Context("defaults", func() {
		It("locks logins after five attempts for fifteen minutes", func() {
			Expect(policy.MaxAttempts).To(Equal(5))
			Expect(policy.WindowDuration).To(Equal(15 * time.Minute))
			Expect(policy.LockoutDuration).To(Equal(15 * time.Minute))
		})

		It("is stricter for password resets", func() {
			reset := DefaultPolicy(KindReset)
			Expect(reset.MaxAttempts).To(Equal(3))
			Expect(reset.WindowDuration).To(Equal(time.Hour))
		})

		It("covers every kind", func() {
			Expect(DefaultPolicies()).To(HaveLen(len(Kinds)))
		})
	})

	Context("ShouldLock", func() {
		It("does not lock below the threshold", func() {
			Expect(policy.ShouldLock(4)).To(BeFalse())
		})

		It("locks at the threshold", func() {
			Expect(policy.ShouldLock(5)).To(BeTrue())
			Expect(policy.ShouldLock(9)).To(BeTrue())
		})

		It("never locks when disabled", func() {
			policy.Enabled = false
			Expect(policy.ShouldLock(100)).To(BeFalse())
		})
	})

	Context("CalculateLockout", func() {
		It("is zero while unlocked", func() {
			Expect(policy.CalculateLockout(2)).To(BeZero())
		})

		It("is fixed without exponential backoff", func() {
			Expect(policy.CalculateLockout(5)).To(Equal(15 * time.Minute))
			Expect(policy.CalculateLockout(8)).To(Equal(15 * time.Minute))
		})

		It("doubles per extra attempt with exponential backoff", func() {
			policy.UseExponential = true
			Expect(policy.CalculateLockout(5)).To(Equal(15 * time.Minute))
			Expect(policy.CalculateLockout(6)).To(Equal(30 * time.Minute))
			Expect(policy.CalculateLockout(7)).To(Equal(time.Hour))
		})

		It("caps exponential backoff at a day", func() {
			policy.UseExponential = true
			Expect(policy.CalculateLockout(40)).To(Equal(24 * time.Hour))
		})
	})

	Context("RemainingAttempts", func() {
		It("counts down to zero", func() {
			Expect(policy.RemainingAttempts(0)).To(Equal(5))
			Expect(policy.RemainingAttempts(3)).To(Equal(2))
			Expect(policy.RemainingAttempts(5)).To(Equal(0))
			Expect(policy.RemainingAttempts(7)).To(Equal(0))
		})
	})

	Context("ParseKind", func() {
		It("accepts known kinds", func() {
			kind, err := ParseKind("verification")
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(KindVerification))
		})

		It("rejects unknown kinds", func() {
			_, err := ParseKind("mfa")
			Expect(err).To(HaveOccurred())
		})
	})
})
