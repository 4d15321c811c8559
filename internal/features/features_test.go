package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("account"))
	assert.True(t, ValidName("account-id_2"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("account.id"))
	assert.False(t, ValidName("account id"))
}

func TestComputeMoveBefore(t *testing.T) {
	names := []string{"account", "user", "theme"}
	got := computeMove(names, "theme", Before, "user")
	assert.Equal(t, []string{"account", "theme", "user"}, got)
}

func TestComputeMoveAfter(t *testing.T) {
	names := []string{"account", "user", "theme"}
	got := computeMove(names, "account", After, "user")
	assert.Equal(t, []string{"user", "account", "theme"}, got)
}

func TestComputeMoveBeforeSelfIsNoop(t *testing.T) {
	names := []string{"account", "user", "theme"}
	got := computeMove(names, "user", Before, "user")
	assert.Equal(t, names, got)
}

func TestComputeMoveAfterSelfIsNoop(t *testing.T) {
	names := []string{"account", "user", "theme"}
	got := computeMove(names, "theme", After, "theme")
	assert.Equal(t, names, got)
}

func TestComputeMoveToFront(t *testing.T) {
	names := []string{"account", "user", "theme"}
	got := computeMove(names, "theme", Before, "account")
	assert.Equal(t, []string{"theme", "account", "user"}, got)
}

func TestComputeMoveToEnd(t *testing.T) {
	names := []string{"account", "user", "theme"}
	got := computeMove(names, "account", After, "theme")
	assert.Equal(t, []string{"user", "theme", "account"}, got)
}
