package mlflow

import (
	"fmt"
	"strings"
)

// LocalArtifactPath turns a file:// artifact URI (or a bare absolute path)
// into a local directory path.
func LocalArtifactPath(artifactURI string) (string, error) {
	switch {
	case strings.HasPrefix(artifactURI, "file://"):
		return strings.TrimPrefix(artifactURI, "file://"), nil
	case strings.HasPrefix(artifactURI, "/"):
		return artifactURI, nil
	default:
		return "", fmt.Errorf("artifact URI is not local: %s", artifactURI)
	}
}
