package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInTestMode(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"no":    false,
		"1":     true,
		"true":  true,
		" TRUE": true,
	}
	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv(TestModeEnv, value)
			assert.Equal(t, want, InTestMode())
		})
	}
}
