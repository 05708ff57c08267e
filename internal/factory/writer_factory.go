package factory

import (
	"fmt"
	"log"
	"sort"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/model"
)

// WriterFactory builds a writer from its config entry.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the known writer types in sorted order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds every enabled writer listed in the config.
func Create(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer

	for i, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		log.Printf("Creating writer %d of type: '%s'", i, def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}

		w, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, w)
	}

	return writers, nil
}
