// Package routing decides which Kafka cluster and topic a project's
// records go to. The routes file is JSON:
//
//	{
//	  "default_cluster": "main",
//	  "clusters": {"main": {"brokers": ["kafka:9092"]}},
//	  "topic_map": {"click": "tapistry.clicks"},
//	  "routes": [{"project_id": "acme", "cluster": "eu"}]
//	}
package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tapistry/shared/events"
)

type Cluster struct {
	Brokers  []string `json:"brokers"`
	ClientID string   `json:"client_id"`
}

type Route struct {
	ProjectID string `json:"project_id"`
	Cluster   string `json:"cluster"`
}

type Config struct {
	DefaultCluster string             `json:"default_cluster"`
	DefaultTopic   string             `json:"default_topic"`
	TopicMap       map[string]string  `json:"topic_map"`
	Clusters       map[string]Cluster `json:"clusters"`
	Routes         []Route            `json:"routes"`
}

type Resolver struct {
	Config   Config
	projects map[string]string
}

func Load(path string) (Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return Resolver{}, errors.New("routes config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Resolver{}, fmt.Errorf("read routes config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Resolver{}, fmt.Errorf("parse routes config: %w", err)
	}
	return New(cfg)
}

// New validates cfg and indexes its routes.
func New(cfg Config) (Resolver, error) {
	if len(cfg.Clusters) == 0 {
		return Resolver{}, errors.New("routes config must define clusters")
	}
	for name, cluster := range cfg.Clusters {
		if len(cluster.Brokers) == 0 {
			return Resolver{}, fmt.Errorf("cluster %q must define brokers", name)
		}
	}
	for kind := range cfg.TopicMap {
		if !events.Kind(kind).Valid() {
			return Resolver{}, fmt.Errorf("topic_map has unknown event type %q", kind)
		}
	}
	index := make(map[string]string, len(cfg.Routes))
	for _, route := range cfg.Routes {
		key := projectKey(route.ProjectID)
		if key == "" {
			return Resolver{}, errors.New("route must include project_id")
		}
		if _, ok := cfg.Clusters[route.Cluster]; !ok {
			return Resolver{}, fmt.Errorf("route references unknown cluster %q", route.Cluster)
		}
		if _, exists := index[key]; exists {
			return Resolver{}, fmt.Errorf("duplicate route for project_id=%q", route.ProjectID)
		}
		index[key] = route.Cluster
	}
	if cfg.DefaultCluster != "" {
		if _, ok := cfg.Clusters[cfg.DefaultCluster]; !ok {
			return Resolver{}, fmt.Errorf("default_cluster %q not found in clusters", cfg.DefaultCluster)
		}
	}
	return Resolver{Config: cfg, projects: index}, nil
}

// Single routes every project to one cluster. It is used when no routes
// file is configured.
func Single(name string, brokers []string, clientID string) Resolver {
	return Resolver{
		Config: Config{
			DefaultCluster: name,
			Clusters:       map[string]Cluster{name: {Brokers: brokers, ClientID: clientID}},
		},
		projects: map[string]string{},
	}
}

func (r Resolver) ResolveCluster(projectID string) (string, bool) {
	if v, ok := r.projects[projectKey(projectID)]; ok {
		return v, true
	}
	if r.Config.DefaultCluster != "" {
		return r.Config.DefaultCluster, true
	}
	return "", false
}

func (r Resolver) ResolveTopic(kind events.Kind) string {
	if v := strings.TrimSpace(r.Config.TopicMap[string(kind)]); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Config.DefaultTopic); v != "" {
		return v
	}
	return events.TopicEvents
}

func projectKey(projectID string) string {
	return strings.ToLower(strings.TrimSpace(projectID))
}

// DefaultRoutesPath looks for configs/<env>.collector.routes.json above the
// working directory.
func DefaultRoutesPath(env string) (string, error) {
	root, err := findRepoRoot()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(env) == "" {
		env = "dev"
	}
	return filepath.Join(root, "configs", env+".collector.routes.json"), nil
}

func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 8; i++ {
		if fi, err := os.Stat(filepath.Join(dir, "configs")); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("repo root not found")
}
