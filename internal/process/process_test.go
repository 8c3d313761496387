package process_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/washlang/wash/internal/process"
)

func TestRunSynchronous(t *testing.T) {
	tbl := process.NewTable(nil)
	res, err := tbl.Run(context.Background(), []string{"true"}, nil, os.Stdout, os.Stderr)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 0, res.Code)
}

func TestRunFailureIsNotGoError(t *testing.T) {
	tbl := process.NewTable(nil)
	res, err := tbl.Run(context.Background(), []string{"false"}, nil, os.Stdout, os.Stderr)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotEqual(t, 0, res.Code)
}

func TestSpawnAndWait(t *testing.T) {
	tbl := process.NewTable(nil)
	id, err := tbl.Spawn(context.Background(), []string{"true"}, false)
	require.NoError(t, err)

	res, err := tbl.Wait(id)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestSpawnPipedExposesHandle(t *testing.T) {
	tbl := process.NewTable(nil)
	id, err := tbl.Spawn(context.Background(), []string{"echo", "hi"}, true)
	require.NoError(t, err)

	idStr := strconv.Itoa(id)
	deadline := time.Now().Add(2 * time.Second)
	var handle string
	for time.Now().Before(deadline) {
		if v, ok := tbl.PipeVar(idStr); ok {
			handle = v.Text()
			break
		}
	}
	require.NotEmpty(t, handle)

	_, err = tbl.Wait(id)
	require.NoError(t, err)

	r, ok := tbl.PipeOutput(handle)
	require.True(t, ok)
	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	require.Contains(t, string(buf[:n]), "hi")
}

func TestCleanJobsSweepsFinished(t *testing.T) {
	tbl := process.NewTable(nil)
	id, err := tbl.Spawn(context.Background(), []string{"true"}, false)
	require.NoError(t, err)
	_, _ = tbl.Wait(id)
	tbl.CleanJobs()

	for _, info := range tbl.GetJobs() {
		require.NotEqual(t, id, info.ID)
	}
}

