package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidCron(t *testing.T) {
	_, err := New("not a cron expr", false, func() {})
	require.Error(t, err)
}

func TestNewAcceptsStandardCron(t *testing.T) {
	s, err := New("*/5 * * * *", true, func() {})
	require.NoError(t, err)
	require.NotNil(t, s)
}
