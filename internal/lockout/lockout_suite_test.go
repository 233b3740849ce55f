package lockout

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestLockout(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "lockout tests")
}
