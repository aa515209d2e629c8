package residual

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestResidual(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Residual Suite")
}
