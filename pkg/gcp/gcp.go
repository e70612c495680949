// Package gcp holds the pieces every Google Cloud client in this repo
// shares: credentials, resource names and not-found detection.
package gcp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
)

// ErrProjectIDRequired is returned when no GCP project is configured.
var ErrProjectIDRequired = errors.New("gcp project id is required")

// ClientOptions picks credentials from cfg. Inline JSON wins over a file;
// with neither, the client falls back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(cfg.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(cfg.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// ResourceName expands a short id into projects/<project>/<kind>/<id>.
// Names that are already fully qualified for kind pass through unchanged.
func ResourceName(project, kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+kind+"/") {
		return id
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}

// IsNotFound reports a 404 from either the REST (googleapi) or the gRPC
// transport.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return status.Code(err) == codes.NotFound
}
