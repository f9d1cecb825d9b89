package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	var pub Publisher = Noop{}

	repo, err := pub.Publish(context.Background(), Artifact{ID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "noop", repo.Provider)

	pipeline, err := pub.ConfigurePipeline(context.Background(), repo, Profile{
		Dependencies: []Dependency{{Name: "numpy", Version: "1.26"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "noop", pipeline.Provider)
}
