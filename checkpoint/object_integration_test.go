//go:build integration

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startMinio(t *testing.T) ObjectConfig {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return ObjectConfig{Endpoint: endpoint, AccessKey: "minioadmin", SecretKey: "minioadmin", Bucket: "darkhorses"}
}

func TestObjectStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewObjectStore(ctx, startMinio(t))
	require.NoError(t, err)

	cp, err := s.Load(ctx, "masters")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp = New("masters")
	require.NoError(t, cp.Advance(day("2024-01-03"), time.Now()))
	require.NoError(t, s.Save(ctx, cp))

	got, err := s.Load(ctx, "masters")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", got.LastCompletedDate)

	require.NoError(t, s.Reset(ctx, "masters"))
	got, err = s.Load(ctx, "masters")
	require.NoError(t, err)
	assert.Nil(t, got)
}
