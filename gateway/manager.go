package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mstgnz/payflow/infra/logger"
)

// Manager holds the configured adapter instances by name
type Manager struct {
	registry *Registry
	log      *logger.SystemLogger
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewManager creates a manager backed by registry
func NewManager(registry *Registry, log *logger.SystemLogger) *Manager {
	if registry == nil {
		registry = DefaultRegistry
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		registry: registry,
		log:      log,
		adapters: make(map[string]Adapter),
	}
}

// Configure creates, validates and initialises the named adapter
func (m *Manager) Configure(name string, config map[string]string) error {
	adapter, err := m.registry.Create(name)
	if err != nil {
		return err
	}
	if err := ValidateConfig(name, config, adapter.RequiredConfig()); err != nil {
		return err
	}
	if err := adapter.Initialize(config); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", name, err)
	}
	m.Use(adapter)

	m.log.Info("Payment gateway configured", logger.LogContext{
		Gateway: name,
		Fields: map[string]any{
			"verify_webhook": adapter.Capabilities().VerifyWebhook,
			"parse_webhook":  adapter.Capabilities().ParseWebhook,
		},
	})
	return nil
}

// Use installs an already initialised adapter
func (m *Manager) Use(adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[adapter.Name()] = WithLogging(adapter, m.log)
}

// Get returns the adapter for name or a NotConfiguredError
func (m *Manager) Get(name string) (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adapter, ok := m.adapters[name]
	if !ok {
		return nil, &NotConfiguredError{Gateway: name}
	}
	return adapter, nil
}

// Names lists configured gateways
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
