package model

import (
	"errors"
	"fmt"
)

// Slide is one onboarding slide.
type Slide struct {
	ID          string `json:"id"          yaml:"id"`
	Title       string `json:"title"       yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon"        yaml:"icon"`
}

// Module is a learning module shown on the home screen.
type Module struct {
	ID           string `json:"id"            yaml:"id"`
	Title        string `json:"title"         yaml:"title"`
	Icon         string `json:"icon"          yaml:"icon"`
	TotalLessons int    `json:"total_lessons" yaml:"total_lessons"`
	IsPremium    bool   `json:"is_premium"    yaml:"is_premium"`
}

// Reflection is the daily reflection card.
type Reflection struct {
	Title    string `json:"title"    yaml:"title"`
	Subtitle string `json:"subtitle" yaml:"subtitle"`
}

// Catalog is the static learning content served to the app.
type Catalog struct {
	Version    string     `json:"version"    yaml:"version"`
	Slides     []Slide    `json:"slides"     yaml:"slides"`
	Modules    []Module   `json:"modules"    yaml:"modules"`
	Reflection Reflection `json:"reflection" yaml:"reflection"`
}

// Validate checks the catalog is usable.
func (c *Catalog) Validate() error {
	if len(c.Slides) == 0 {
		return errors.New("catalog must contain at least one onboarding slide")
	}
	seen := make(map[string]bool, len(c.Slides)+len(c.Modules))
	for _, s := range c.Slides {
		if s.ID == "" || s.Title == "" {
			return errors.New("slides require id and title")
		}
		if seen["slide:"+s.ID] {
			return fmt.Errorf("duplicate slide id %q", s.ID)
		}
		seen["slide:"+s.ID] = true
	}
	for _, m := range c.Modules {
		if m.ID == "" || m.Title == "" {
			return errors.New("modules require id and title")
		}
		if m.TotalLessons <= 0 {
			return fmt.Errorf("module %q must have total_lessons > 0", m.ID)
		}
		if seen["module:"+m.ID] {
			return fmt.Errorf("duplicate module id %q", m.ID)
		}
		seen["module:"+m.ID] = true
	}
	return nil
}

// Module looks up a module by id.
func (c *Catalog) Module(id string) (Module, bool) {
	for _, m := range c.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}
