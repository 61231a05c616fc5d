package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/config"
)

func TestNewObjectStoreParsesSchemeEndpoints(t *testing.T) {
	store, err := NewObjectStore(config.StorageConfig{
		Endpoint:      "https://s3.example.com",
		AccessKey:     "key",
		SecretKey:     "secret",
		BucketArchive: "mail-archive",
		Region:        "us-east-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail-archive", store.Bucket())
	assert.Equal(t, "s3.example.com", store.client.EndpointURL().Host)
	assert.Equal(t, "https", store.client.EndpointURL().Scheme)
}

func TestNewObjectStoreRejectsBadEndpoint(t *testing.T) {
	_, err := NewObjectStore(config.StorageConfig{Endpoint: "http://[::1"})
	assert.Error(t, err)
}
