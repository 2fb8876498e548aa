package backend_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"procodus.dev/telemetry-hub/internal/backend"
)

var _ = Describe("BcryptVerifier", func() {
	var hash string

	BeforeEach(func() {
		b, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
		Expect(err).NotTo(HaveOccurred())
		hash = string(b)
	})

	It("should reject an empty username", func() {
		_, err := backend.NewBcryptVerifier("", hash)
		Expect(err).To(MatchError("username cannot be empty"))
	})

	It("should reject a plaintext password in place of a hash", func() {
		_, err := backend.NewBcryptVerifier("admin", "correct horse")
		Expect(err).To(MatchError(ContainSubstring("invalid password hash")))
	})

	DescribeTable("Verify",
		func(username, password string, expected bool) {
			v, err := backend.NewBcryptVerifier("admin", hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Verify(username, password)).To(Equal(expected))
		},
		Entry("matching pair", "admin", "correct horse", true),
		Entry("wrong password", "admin", "battery staple", false),
		Entry("wrong username", "Admin", "correct horse", false),
		Entry("empty password", "admin", "", false),
		Entry("empty pair", "", "", false),
	)
})
