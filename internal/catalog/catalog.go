// Package catalog resolves logical GraphQL operation names to the persisted-query identifiers of
// the web and mobile backends.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/heb-mcp/hebsession/internal/session"
	"gopkg.in/yaml.v3"
)

//go:embed catalogs.yaml
var embeddedCatalogs []byte

// Kind names one of the two catalogs.
type Kind string

const (
	KindWeb    Kind = "web"
	KindMobile Kind = "mobile"
)

// ErrUnknownOperation is matched by every *UnknownOperationError.
var ErrUnknownOperation = errors.New("catalog: unknown operation")

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// UnknownOperationError lists every name that was eligible for the requested mode.
type UnknownOperationError struct {
	Name      string
	Mode      session.AuthMode
	Available []string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("catalog: unknown operation %q for %s mode; available operations: %s",
		e.Name, e.Mode, strings.Join(e.Available, ", "))
}

// Is lets errors.Is match ErrUnknownOperation.
func (e *UnknownOperationError) Is(target error) bool {
	return target == ErrUnknownOperation
}

// Operation is a resolved persisted query.
type Operation struct {
	Name    string
	Hash    string
	Catalog Kind
}

type table struct {
	Version    string            `yaml:"version"`
	Operations map[string]string `yaml:"operations"`
}

type document struct {
	Web    table             `yaml:"web"`
	Mobile table             `yaml:"mobile"`
	Remap  map[string]string `yaml:"remap"`
}

// Catalogs is an immutable set of web and mobile catalogs plus the remap table.
type Catalogs struct {
	web    table
	mobile table
	remap  map[string]string
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalogs, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	for kind, t := range map[Kind]table{KindWeb: doc.Web, KindMobile: doc.Mobile} {
		if len(t.Operations) == 0 {
			return nil, fmt.Errorf("catalog: %s catalog is empty", kind)
		}
		for name, hash := range t.Operations {
			if !hashPattern.MatchString(hash) {
				return nil, fmt.Errorf("catalog: %s operation %q has malformed hash %q", kind, name, hash)
			}
		}
	}
	for from, to := range doc.Remap {
		if _, ok := doc.Mobile.Operations[to]; !ok {
			return nil, fmt.Errorf("catalog: remap %q points at missing mobile operation %q", from, to)
		}
	}
	return &Catalogs{web: doc.Web, mobile: doc.Mobile, remap: doc.Remap}, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *Catalogs
)

// Default returns the catalogs compiled into the binary. The embedded document is validated by
// the package tests, so a parse failure here is a build defect.
func Default() *Catalogs {
	defaultOnce.Do(func() {
		c, err := Parse(embeddedCatalogs)
		if err != nil {
			panic(err)
		}
		defaultSet = c
	})
	return defaultSet
}

// Resolve resolves name against the default catalogs.
func Resolve(name string, mode session.AuthMode) (Operation, error) {
	return Default().Resolve(name, mode)
}

// Resolve maps a logical operation name to a persisted query. Bearer mode tries the remapped
// name in the mobile catalog first and falls back to the original name in the web catalog;
// cookie mode only consults the web catalog.
func (c *Catalogs) Resolve(name string, mode session.AuthMode) (Operation, error) {
	if mode == session.ModeBearer {
		mobileName := name
		if remapped, ok := c.remap[name]; ok {
			mobileName = remapped
		}
		if hash, ok := c.mobile.Operations[mobileName]; ok {
			return Operation{Name: mobileName, Hash: hash, Catalog: KindMobile}, nil
		}
	}
	if hash, ok := c.web.Operations[name]; ok {
		return Operation{Name: name, Hash: hash, Catalog: KindWeb}, nil
	}
	return Operation{}, &UnknownOperationError{Name: name, Mode: mode, Available: c.eligible(mode)}
}

func (c *Catalogs) eligible(mode session.AuthMode) []string {
	seen := make(map[string]struct{}, len(c.web.Operations)+len(c.mobile.Operations))
	for name := range c.web.Operations {
		seen[name] = struct{}{}
	}
	if mode == session.ModeBearer {
		for name := range c.mobile.Operations {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Names lists the operations of one catalog, sorted.
func (c *Catalogs) Names(kind Kind) []string {
	t := c.table(kind)
	out := make([]string, 0, len(t.Operations))
	for name := range t.Operations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Version returns the version tag of one catalog.
func (c *Catalogs) Version(kind Kind) string {
	return c.table(kind).Version
}

func (c *Catalogs) table(kind Kind) table {
	if kind == KindMobile {
		return c.mobile
	}
	return c.web
}
