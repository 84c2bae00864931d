package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(context.Background(), ClientConfig{Bucket: "archive"})
	assert.ErrorContains(t, err, "region")
}

func TestNewNormalisesPrefix(t *testing.T) {
	c, err := New(context.Background(), ClientConfig{
		Endpoint:       "localhost:9000",
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "minio",
		SecretKey:      "minio123",
		ForcePathStyle: true,
		Prefix:         "/prod",
	})
	require.NoError(t, err)
	assert.Equal(t, "prod/", c.Prefix())
	assert.Equal(t, "archive", c.Bucket())
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"minio:9000", true, "https://minio:9000"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, withScheme(tt.endpoint, tt.ssl), tt.endpoint)
	}
}
