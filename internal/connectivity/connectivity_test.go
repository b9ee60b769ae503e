package connectivity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Policy
	}{
		{name: "empty defaults to wifi", in: "", want: PolicyWifi},
		{name: "explicit wifi", in: "wifi", want: PolicyWifi},
		{name: "any overrides", in: "any", want: PolicyAny},
		{name: "mixed case", in: "ANY", want: PolicyAny},
		{name: "unknown value defaults to wifi", in: "cellular", want: PolicyWifi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePolicy(tt.in))
		})
	}
}

func TestStaticChecker(t *testing.T) {
	assert.True(t, Static(true).PreferredNetworkUp(context.Background()))
	assert.False(t, Static(false).PreferredNetworkUp(context.Background()))
}

func TestInterfaceChecker_NoMatchingInterface(t *testing.T) {
	checker := NewInterfaceChecker([]string{"definitely-not-an-iface"}, "", 0)
	assert.False(t, checker.PreferredNetworkUp(context.Background()))
}
