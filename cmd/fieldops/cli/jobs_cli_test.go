package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldops/jobs"
)

func newJobsCLI(t *testing.T) (*JobsCLI, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestJobsCLITriggerEnqueues(t *testing.T) {
	c, mr := newJobsCLI(t)
	ctx := context.Background()

	info, err := c.Trigger(ctx, jobs.TaskRBACCatalogSync, 0)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskRBACCatalogSync, info.Type)
	assert.Equal(t, jobs.QueueDefault, info.Queue)

	info, err = c.Trigger(ctx, jobs.TaskRBACCacheFlush, 7)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskRBACCacheFlush, info.Type)

	pending, err := mr.List("asynq:{" + jobs.QueueDefault + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestJobsCLITriggerRejects(t *testing.T) {
	c, _ := newJobsCLI(t)
	ctx := context.Background()

	_, err := c.Trigger(ctx, "finance:rebuild", 0)
	assert.ErrorContains(t, err, "unsupported job")

	_, err = c.Trigger(ctx, jobs.TaskRBACCacheFlush, -1)
	assert.ErrorContains(t, err, "invalid user id")

	var nilCLI *JobsCLI
	_, err = nilCLI.Trigger(ctx, jobs.TaskRBACCatalogSync, 0)
	assert.Error(t, err)
}
