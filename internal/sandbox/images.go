package sandbox

// DefaultPythonImage runs candidates when no image is configured.
const DefaultPythonImage = "python:3.11-slim"

// GetDockerImage returns the image candidates run in.
// A custom image in config takes precedence.
func GetDockerImage(config Config) string {
	if config.DockerImage != "" {
		return config.DockerImage
	}
	return DefaultPythonImage
}
