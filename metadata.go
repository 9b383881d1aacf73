package apmz

import (
	"maps"
	"os"
	"path/filepath"
	"runtime"
)

// Metadata describes the service, process and host that produced a batch of
// events. It is written once at the head of every payload stream.
type Metadata struct {
	Labels  map[string]any
	Service ServiceMetadata
	Process ProcessMetadata
	System  SystemMetadata
}

// ServiceMetadata identifies the monitored service and the agent.
type ServiceMetadata struct {
	Name            string
	Version         string
	Environment     string
	AgentName       string
	AgentVersion    string
	LanguageName    string
	LanguageVersion string
}

// ProcessMetadata identifies the monitored process.
type ProcessMetadata struct {
	Title string
	Argv  []string
	Pid   int
	Ppid  int
}

// SystemMetadata identifies the host.
type SystemMetadata struct {
	Hostname     string
	Architecture string
	Platform     string
}

// Kind implements Event.
func (*Metadata) Kind() EventKind {
	return KindMetadata
}

// NewMetadata gathers metadata for the running process.
func NewMetadata(cfg *Config) *Metadata {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Metadata{
		Labels: maps.Clone(cfg.DefaultLabels),
		Service: ServiceMetadata{
			Name:            cfg.ServiceName,
			Version:         cfg.ServiceVersion,
			Environment:     cfg.Environment,
			AgentName:       AgentName,
			AgentVersion:    Version,
			LanguageName:    "go",
			LanguageVersion: runtime.Version(),
		},
		Process: ProcessMetadata{
			Pid:   os.Getpid(),
			Ppid:  os.Getppid(),
			Title: filepath.Base(os.Args[0]),
			Argv:  os.Args,
		},
		System: SystemMetadata{
			Hostname:     hostname,
			Architecture: runtime.GOARCH,
			Platform:     runtime.GOOS,
		},
	}
}
