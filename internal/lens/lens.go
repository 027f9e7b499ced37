// Package lens holds the coaching-lens catalog. Every public lens is
// applied to each capture at once; there is no per-capture selection.
package lens

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Lens is one coaching perspective.
type Lens struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Prompt      string `yaml:"prompt" json:"prompt"`
	Public      bool   `yaml:"public" json:"public"`
}

type catalogFile struct {
	Lenses []Lens `yaml:"lenses"`
}

// Defaults returns the built-in lens set.
func Defaults() []Lens {
	return []Lens{
		{
			Name:        "Strategist",
			Description: "Connects the work to the Canon's pillars.",
			Prompt:      "Ask which pillar this moves and what would make the link measurable.",
			Public:      true,
		},
		{
			Name:        "Operator",
			Description: "Looks for blockers, owners and dates.",
			Prompt:      "Ask who owns each open item, what blocks it and when it lands.",
			Public:      true,
		},
		{
			Name:        "Skeptic",
			Description: "Challenges claims that lack evidence.",
			Prompt:      "Ask for the number or artifact behind each claim of progress.",
			Public:      true,
		},
		{
			Name:        "Customer",
			Description: "Speaks for the people the work is for.",
			Prompt:      "Ask how a customer would notice this change and when.",
			Public:      true,
		},
	}
}

// Load parses a YAML lens catalog.
func Load(path string) ([]Lens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lens catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Names must be unique and
// non-empty.
func Parse(data []byte) ([]Lens, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse lens catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Lenses))
	for i, l := range f.Lenses {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return nil, fmt.Errorf("lens[%d]: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("lens[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		f.Lenses[i].Name = name
	}
	return f.Lenses, nil
}

// Names returns the lens names in order.
func Names(lenses []Lens) []string {
	out := make([]string, len(lenses))
	for i, l := range lenses {
		out[i] = l.Name
	}
	return out
}

// JoinPrompts renders every lens as a prompt section, in order.
func JoinPrompts(lenses []Lens) string {
	var b strings.Builder
	for i, l := range lenses {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s\n%s", l.Name, l.Description, l.Prompt)
	}
	return b.String()
}

// Catalog is a reloadable lens set. The zero path serves Defaults.
type Catalog struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	lenses []Lens
}

// NewCatalog loads the catalog at path, or the defaults when path is empty.
func NewCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{path: path, logger: logger}
	if path == "" {
		c.lenses = Defaults()
		return c, nil
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Static returns a catalog over a fixed lens list.
func Static(lenses []Lens) *Catalog {
	return &Catalog{logger: zap.NewNop(), lenses: append([]Lens(nil), lenses...)}
}

// Public returns a snapshot of the public lenses in catalog order.
func (c *Catalog) Public() []Lens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Lens
	for _, l := range c.lenses {
		if l.Public {
			out = append(out, l)
		}
	}
	return out
}

// All returns a snapshot of every lens.
func (c *Catalog) All() []Lens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Lens(nil), c.lenses...)
}

// Reload re-reads the catalog file. On error the previous set is kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	lenses, err := Load(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lenses = lenses
	c.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// It blocks; run it in its own goroutine.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file by rename.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watch lens catalog: %w", err)
	}
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("lens catalog reload failed; keeping previous lenses",
					zap.String("path", c.path), zap.Error(err))
				continue
			}
			c.logger.Info("lens catalog reloaded", zap.String("path", c.path), zap.Int("lenses", len(c.All())))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("lens watcher error", zap.Error(err))
		}
	}
}
