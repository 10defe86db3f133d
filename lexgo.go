// Package lexgo assembles a coordination server for legal-work agents from a
// YAML configuration: agent kinds, resources, tools, workflow definitions,
// schedules, and the security and audit setup around them.
package lexgo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexgo-dev/lexgo/internal/agent"
	"github.com/lexgo-dev/lexgo/internal/coordinator"
	"github.com/lexgo-dev/lexgo/internal/server"
	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/memory"
	"github.com/lexgo-dev/lexgo/pkg/observability"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

// Config is the top-level configuration.
type Config struct {
	Server        ServerDef                `yaml:"server"`
	Security      security.Policy          `yaml:"security,omitempty"`
	Audit         AuditDef                 `yaml:"audit,omitempty"`
	Memory        MemoryDef                `yaml:"memory,omitempty"`
	Agents        []AgentDef               `yaml:"agents,omitempty"`
	Resources     []ResourceDef            `yaml:"resources,omitempty"`
	Tools         []string                 `yaml:"tools,omitempty"`
	Workflows     []coordinator.Definition `yaml:"workflows,omitempty"`
	Schedules     []coordinator.Schedule   `yaml:"schedules,omitempty"`
	Observability ObservabilityDef         `yaml:"observability,omitempty"`
}

// ServerDef configures the server identity and limits.
type ServerDef struct {
	Name        string  `yaml:"name"`
	Version     string  `yaml:"version"`
	MaxAgents   int     `yaml:"max_agents,omitempty"`
	Strategy    string  `yaml:"strategy,omitempty"` // "round-robin" or "hierarchical"
	ManagerKind string  `yaml:"manager_kind,omitempty"`
	RateLimit   float64 `yaml:"rate_limit,omitempty"` // requests per second, 0 = unlimited
	RateBurst   int     `yaml:"rate_burst,omitempty"`
}

// AuditDef configures the audit trail.
type AuditDef struct {
	Level string `yaml:"level,omitempty"` // "full" or "summary"
	// Output is "stdout", "memory", or a file path.
	Output string `yaml:"output,omitempty"`
}

// MemoryDef configures the shared memory backend.
type MemoryDef struct {
	Backend    string             `yaml:"backend,omitempty"` // "memory" or "redis"
	MaxEntries int                `yaml:"max_entries,omitempty"`
	Redis      memory.RedisConfig `yaml:"redis,omitempty"`
}

// AgentDef registers a spawnable agent kind.
type AgentDef struct {
	Kind string `yaml:"kind"`
}

// ResourceDef registers one readable resource.
type ResourceDef struct {
	URI         string `yaml:"uri"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	MimeType    string `yaml:"mime_type,omitempty"`
	Text        string `yaml:"text"`
}

// ObservabilityDef configures the metrics and health endpoint.
type ObservabilityDef struct {
	Port int `yaml:"port,omitempty"` // 0 disables the endpoint
}

// FileReader reads files, seamable for tests.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile.
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path comes from trusted operator input
}

// ConfigLoader loads configuration from a file.
type ConfigLoader struct {
	fileReader FileReader
}

// NewConfigLoader creates a config loader.
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{fileReader: fr}
}

// LoadConfig reads, parses, and validates a config file, applying defaults.
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "lexgo"
	}
	if c.Server.Version == "" {
		c.Server.Version = "dev"
	}
	if c.Server.Strategy == "" {
		c.Server.Strategy = "round-robin"
	}
	if c.Audit.Level == "" {
		c.Audit.Level = string(audit.LevelFull)
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}
}

func (c *Config) validate() error {
	switch audit.Level(c.Audit.Level) {
	case audit.LevelFull, audit.LevelSummary:
	default:
		return fmt.Errorf("unknown audit level: %s", c.Audit.Level)
	}

	switch c.Memory.Backend {
	case "memory":
	case "redis":
		if c.Memory.Redis.Addr == "" {
			return fmt.Errorf("memory backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown memory backend: %s", c.Memory.Backend)
	}

	for _, name := range c.Tools {
		if _, ok := builtinTools[name]; !ok {
			return fmt.Errorf("unknown tool: %s", name)
		}
	}
	for _, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// builtinTools are the tools registrable by name from config.
var builtinTools = map[string]func() server.Tool{
	"echo": server.EchoTool,
}

// System is a fully wired server with its transport and optional scheduler
// and observability endpoint.
type System struct {
	Server    *server.Server
	Handler   *server.Handler
	Transport *server.Transport
	Scheduler *coordinator.Scheduler

	obs *observability.Server
}

// BuildSystem wires a System from config without starting it.
func BuildSystem(config *Config) (*System, error) {
	auditor, err := buildAuditor(config.Audit)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(config.Memory)
	if err != nil {
		return nil, err
	}

	opts := []server.Option{
		server.WithPolicy(config.Security),
		server.WithAuditLogger(auditor),
		server.WithMemoryStore(store),
		server.WithStrategy(coordinator.NewStrategy(config.Server.Strategy, config.Server.ManagerKind)),
	}
	if config.Server.MaxAgents > 0 {
		opts = append(opts, server.WithMaxAgents(config.Server.MaxAgents))
	}
	if config.Server.RateLimit > 0 {
		burst := config.Server.RateBurst
		if burst <= 0 {
			burst = int(config.Server.RateLimit)
		}
		opts = append(opts, server.WithRateLimiter(security.NewRateLimiter(config.Server.RateLimit, burst)))
	}

	srv := server.New(config.Server.Name, config.Server.Version, opts...)

	for _, def := range config.Agents {
		if err := srv.Manager().RegisterKind(def.Kind, agent.WorkerFactory(def.Kind)); err != nil {
			return nil, fmt.Errorf("register agent kind %s: %w", def.Kind, err)
		}
	}
	for _, res := range config.Resources {
		err := srv.Resources().Register(protocolResource(res), res.Text)
		if err != nil {
			return nil, fmt.Errorf("register resource %s: %w", res.URI, err)
		}
	}
	for _, name := range config.Tools {
		if err := srv.Tools().Register(builtinTools[name]()); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", name, err)
		}
	}
	for _, def := range config.Workflows {
		if err := srv.Coordinator().RegisterDefinition(def); err != nil {
			return nil, fmt.Errorf("register workflow %s: %w", def.Kind, err)
		}
	}

	sys := &System{
		Server:  srv,
		Handler: server.NewHandler(srv),
	}

	if len(config.Schedules) > 0 {
		sched, err := coordinator.NewScheduler(srv.Coordinator(), config.Schedules)
		if err != nil {
			return nil, err
		}
		sys.Scheduler = sched
	}
	if config.Observability.Port > 0 {
		sys.obs = observability.NewServer(config.Observability.Port, srv.Healthy)
	}
	return sys, nil
}

// Start brings the system up: server, transport, scheduler, metrics
// endpoint.
func (s *System) Start(ctx context.Context) error {
	if err := s.Server.Start(ctx); err != nil {
		return err
	}
	s.Transport = server.NewTransport(s.Handler)

	if s.Scheduler != nil {
		s.Scheduler.Start(ctx)
	}
	if s.obs != nil {
		go func() {
			if err := s.obs.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("warning: metrics endpoint: %v", err)
			}
		}()
	}
	return nil
}

// Stop tears the system down in reverse order of Start.
func (s *System) Stop(ctx context.Context) error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Transport != nil {
		if err := s.Transport.Close(); err != nil {
			log.Printf("warning: closing transport: %v", err)
		}
	}
	err := s.Server.Stop(ctx)
	if s.obs != nil {
		if serr := s.obs.Shutdown(ctx); serr != nil {
			log.Printf("warning: shutting down metrics endpoint: %v", serr)
		}
	}
	return err
}

func buildAuditor(def AuditDef) (audit.Logger, error) {
	level := audit.Level(def.Level)
	switch def.Output {
	case "stdout":
		return audit.NewJSONLogger(level), nil
	case "memory":
		return audit.NewMemoryLogger(level), nil
	default:
		f, err := os.OpenFile(def.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit log %s: %w", def.Output, err)
		}
		return audit.NewJSONLoggerTo(level, f), nil
	}
}

func buildStore(def MemoryDef) (memory.Store, error) {
	switch def.Backend {
	case "redis":
		return memory.NewRedisStore(def.Redis)
	default:
		return memory.NewInMemoryStore(def.MaxEntries), nil
	}
}

func protocolResource(def ResourceDef) protocol.Resource {
	return protocol.Resource{
		URI:         def.URI,
		Name:        def.Name,
		Description: def.Description,
		MimeType:    def.MimeType,
	}
}

// Run starts the system from a config file and blocks until interrupted.
func Run(configPath string) error {
	loader := NewConfigLoader(&OSFileReader{})
	config, err := loader.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return RunWithConfig(config)
}

// RunWithConfig starts the system from a parsed config and blocks until
// interrupted.
func RunWithConfig(config *Config) error {
	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("warning: failed to initialize tracing: %v", err)
	}

	sys, err := BuildSystem(config)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := sys.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sys.Stop(shutdownCtx); err != nil {
		log.Printf("warning: shutdown: %v", err)
	}
	observability.ShutdownTracing(shutdownCtx)
	return nil
}
