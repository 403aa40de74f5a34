package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyAllowListAllowsEveryone(t *testing.T) {
	p := NewPolicyService("", "")
	assert.True(t, p.IsAllowed("573001112233"))
	assert.False(t, p.IsAdmin("573001112233"))
}

func TestAllowList(t *testing.T) {
	p := NewPolicyService("999", " +57 300 111 2233 , 42,,")

	tests := []struct {
		sender string
		want   bool
	}{
		{"573001112233", true},
		{"+573001112233", true},
		{"42", true},
		{"999", true},
		{"573009998877", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsAllowed(tt.sender))
		})
	}
	assert.Len(t, p.AllowedIDs, 2)
}

func TestAdmins(t *testing.T) {
	p := NewPolicyService("1, 2", "")
	assert.True(t, p.IsAdmin("1"))
	assert.True(t, p.IsAdmin(" 2"))
	assert.False(t, p.IsAdmin("3"))
}
