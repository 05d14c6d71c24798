//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndExitCode(t *testing.T) {
	p, err := Start(Spec{Executable: "/bin/sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	code, err := p.Wait()
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 3, *code)

	// second Wait returns the cached result
	code2, _ := p.Wait()
	assert.Equal(t, code, code2)
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(Spec{Executable: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	_, err = Start(Spec{})
	assert.Error(t, err)
}

func TestKillReportsNoExitCode(t *testing.T) {
	p, err := Start(Spec{Executable: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	require.NoError(t, p.Kill())

	select {
	case <-waitAsync(p):
	case <-time.After(5 * time.Second):
		t.Fatal("process survived kill")
	}
	code, err := p.Wait()
	require.NoError(t, err)
	assert.Nil(t, code)
}

func TestWorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	p, err := Start(Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", `printf "%s" "$ARK_MARK" > marker.txt`},
		WorkDir:    dir,
		Env:        []string{"ARK_MARK=island"},
	})
	require.NoError(t, err)
	_, err = p.Wait()
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "island", string(b))
}

func TestInspectSelf(t *testing.T) {
	st, err := Inspect(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, st.MemoryBytes, uint64(0))
}

func TestInspectGone(t *testing.T) {
	p, err := Start(Spec{Executable: "/bin/sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)
	_, _ = p.Wait()
	_, err = Inspect(p.PID())
	assert.Error(t, err)
}

func waitAsync(p *Process) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_, _ = p.Wait()
		close(done)
	}()
	return done
}
