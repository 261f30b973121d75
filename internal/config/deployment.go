package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BenDundee/ravana/internal/logging"
)

// ConnectionConfig describes where one process listens.
type ConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Endpoint string `yaml:"endpoint"`
	Debug    bool   `yaml:"debug"`
}

// URL renders http://host:port/endpoint?debug=<bool>.
func (c ConnectionConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/%s?debug=%t", c.Host, c.Port, strings.TrimPrefix(c.Endpoint, "/"), c.Debug)
}

// Addr renders host:port for net/http.
func (c ConnectionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DeploymentConfig holds the chat front end (App) and backend (API) endpoints.
type DeploymentConfig struct {
	API    ConnectionConfig
	App    ConnectionConfig
	APIURL string
	AppURL string
}

type deploymentFile struct {
	App *ConnectionConfig `yaml:"app"`
	API *ConnectionConfig `yaml:"api"`
}

// ConfigureDeployment reads deployment.yml, falling back to
// app=localhost:8080 and api=localhost:8081.
func (c *Configurator) ConfigureDeployment() (DeploymentConfig, error) {
	app := ConnectionConfig{Host: "localhost", Port: 8080}
	api := ConnectionConfig{Host: "localhost", Port: 8081, Endpoint: "chat"}

	path := filepath.Join(c.ConfigDir, DeploymentFile)
	if _, err := os.Stat(path); err == nil {
		logging.Configuration("Loading server config from %s", path)
		var f deploymentFile
		if err := readYAML(path, &f); err != nil {
			return DeploymentConfig{}, err
		}
		if f.App != nil {
			app = *f.App
		}
		if f.API != nil {
			api = *f.API
		}
	}

	return DeploymentConfig{
		API:    api,
		App:    app,
		APIURL: api.URL(),
		AppURL: app.URL(),
	}, nil
}
