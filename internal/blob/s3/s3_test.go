package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "archives"})
	require.Error(t, err)
}

func TestNewBuildsWriter(t *testing.T) {
	c, err := New(context.Background(), ClientConfig{
		Endpoint: "localhost:9000", Region: "us-east-1", Bucket: "archives",
		AccessKey: "k", SecretKey: "s", ForcePathStyle: true,
	})
	require.NoError(t, err)
	w := NewWriter(c)
	assert.Equal(t, "archives", w.bucket)
	assert.Equal(t, partSize, w.uploader.PartSize)
}
