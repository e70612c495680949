package gcp

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
)

func TestClientOptions(t *testing.T) {
	assert.Len(t, ClientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Len(t, ClientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Empty(t, ClientOptions(config.GCPConfig{CredentialsJSON: "  "}))
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/orders", ResourceName("p1", "topics", " orders "))
	assert.Equal(t, "projects/other/topics/orders", ResourceName("p1", "topics", "projects/other/topics/orders"))
	assert.Equal(t, "projects/p1/subscriptions/projects-sub", ResourceName("p1", "subscriptions", "projects-sub"))
	assert.Empty(t, ResourceName("", "topics", "orders"))
	assert.Empty(t, ResourceName("p1", "topics", ""))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", &googleapi.Error{Code: http.StatusNotFound})))
	assert.False(t, IsNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.True(t, IsNotFound(status.Error(codes.NotFound, "no topic")))
	assert.False(t, IsNotFound(status.Error(codes.Unavailable, "down")))
	assert.False(t, IsNotFound(nil))
}
