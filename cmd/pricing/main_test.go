package main

import (
	"testing"

	_ "github.com/odyssey-erp/demand-pricing/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
