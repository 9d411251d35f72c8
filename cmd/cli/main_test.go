package main

import (
	"context"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

type stubStopper struct {
	running  int // Abort calls that still find an orbit
	aborts   int
	disables int
	deadline bool
	err      error
}

func (s *stubStopper) Abort() bool {
	s.aborts++
	if s.running > 0 {
		s.running--
		return true
	}
	return false
}

func (s *stubStopper) Disable(ctx context.Context) error {
	s.disables++
	_, s.deadline = ctx.Deadline()
	return s.err
}

func TestHandleInterrupts(t *testing.T) {
	tests := []struct {
		name     string
		running  int
		signals  int
		err      error
		aborts   int
		disables int
		exits    []int
	}{
		{"idle exits after disable", 0, 1, nil, 1, 1, []int{1}},
		{"first aborts second exits", 1, 2, nil, 2, 1, []int{1}},
		{"abort only", 1, 1, nil, 1, 0, nil},
		{"disable failure still exits", 0, 1, errors.New("socket closed"), 1, 1, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubStopper{running: tt.running, err: tt.err}
			interrupts := make(chan os.Signal, tt.signals)
			for i := 0; i < tt.signals; i++ {
				interrupts <- os.Interrupt
			}
			close(interrupts)

			var exits []int
			handleInterrupts(interrupts, s, logging.NewTestLogger(t), func(code int) { exits = append(exits, code) })
			assert.Equal(t, tt.aborts, s.aborts)
			assert.Equal(t, tt.disables, s.disables)
			assert.Equal(t, tt.exits, exits)
			if tt.disables > 0 {
				assert.True(t, s.deadline, "disable is bounded")
			}
		})
	}
}
