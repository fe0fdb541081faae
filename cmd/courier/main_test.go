// File: cmd/courier/main_test.go
package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/courier-cli/cmd"
	"github.com/xkilldash9x/courier-cli/internal/failure"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	execute = cmd.Execute
}

func TestRun_ExitCodes(t *testing.T) {
	defer resetMocks()

	cases := map[string]struct {
		err  error
		want int
	}{
		"success":     {nil, cmd.ExitOK},
		"interrupted": {context.Canceled, cmd.ExitInterrupted},
		"not found":   {failure.New(failure.KindConversationNotFound, "locate-conversation", nil), cmd.ExitConversationNotFound},
		"generic":     {errors.New("boom"), cmd.ExitError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			execute = func(context.Context) error { return tc.err }
			assert.Equal(t, tc.want, run(context.Background()))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("WritesPanicLog", func(t *testing.T) {
		var written []byte
		var code = -1
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = data
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("something went wrong")
		}()

		require.NotNil(t, written)
		assert.Contains(t, string(written), "panic: something went wrong")
		assert.Contains(t, string(written), "goroutine")
		assert.Equal(t, 1, code)
	})

	t.Run("WriteFailureStillExits", func(t *testing.T) {
		var code = -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("again")
		}()
		assert.Equal(t, 1, code)
	})

	t.Run("NoPanicIsNoop", func(t *testing.T) {
		osExit = func(int) { t.Fatal("exit must not be called") }
		func() {
			defer handlePanic()
		}()
	})
}
