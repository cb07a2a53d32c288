// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entities

import (
	"fmt"

	"github.com/holomush/entitystore/internal/annotation"
	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/resource"
)

// AnnotateEntity checks every component of res and records what is wrong
// with each. Valid components are marked recognized.
func (s *Service) AnnotateEntity(res resource.Key) (*annotation.EntityAnnotation, error) {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return nil, err
	}

	count := e.ComponentCount()
	a := annotation.New(count)
	for i := range count {
		c, err := e.Component(i)
		if err != nil {
			return nil, err
		}
		for _, finding := range s.checkComponent(c) {
			if err := a.AddError(i, finding); err != nil {
				return nil, err
			}
		}
		if err := a.SetRecognized(i); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (s *Service) checkComponent(c map[string]any) []annotation.ComponentError {
	componentType, version, err := component.TypeOf(c)
	if err != nil {
		return []annotation.ComponentError{{
			Severity:    annotation.SeverityCritical,
			Message:     "Invalid component type",
			Description: err.Error(),
		}}
	}
	cfg, err := s.configs.GetComponentConfig(componentType)
	if err != nil {
		return []annotation.ComponentError{{
			Severity:    annotation.SeverityCritical,
			Message:     "Unknown component type",
			Description: fmt.Sprintf("Component type %q is not registered.", componentType),
		}}
	}

	// Data stored under another version is not checked against the
	// registered schema.
	if version != cfg.Version {
		return []annotation.ComponentError{{
			Severity:    annotation.SeverityWarning,
			Message:     "Component version mismatch",
			Description: fmt.Sprintf("Stored version %d, registered version %d.", version, cfg.Version),
		}}
	}
	if err := cfg.Validate(c); err != nil {
		return []annotation.ComponentError{{
			Severity:    annotation.SeverityError,
			Message:     "Invalid component data",
			Description: err.Error(),
		}}
	}
	return nil
}
