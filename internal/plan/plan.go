// Package plan declares deployment migrations and the literal constructor
// arguments each deployment is made with.
package plan

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Sentinel errors
var (
	ErrInvalidLiteral     = errors.New("plan: invalid literal")
	ErrDuplicateMigration = errors.New("plan: duplicate migration number")
	ErrInvalidMigration   = errors.New("plan: invalid migration")
)

//go:embed migrations/*.yaml
var builtinFS embed.FS

var fileNamePattern = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_\-]+)\.ya?ml$`)

// Deployment is a single contract deployment with its constructor arguments.
type Deployment struct {
	Contract string    `yaml:"contract" json:"contract"`
	Label    string    `yaml:"label,omitempty" json:"label,omitempty"`
	Args     []Literal `yaml:"args,omitempty" json:"args"`
}

// DisplayName returns the label if set, otherwise the contract name.
func (d *Deployment) DisplayName() string {
	if d.Label != "" {
		return d.Contract + "[" + d.Label + "]"
	}
	return d.Contract
}

// Migration is one numbered deployment step.
//
// When Await is set, every deployment is confirmed before the next one is
// sent. Otherwise all deployments are submitted up front and their
// confirmation order is unspecified.
type Migration struct {
	Number      uint64       `yaml:"number" json:"number"`
	Name        string       `yaml:"name" json:"name"`
	Await       bool         `yaml:"await" json:"await"`
	Deployments []Deployment `yaml:"deployments" json:"deployments"`

	Source string `yaml:"-" json:"source,omitempty"`
}

// ID returns "<number>_<name>".
func (m *Migration) ID() string {
	return fmt.Sprintf("%d_%s", m.Number, m.Name)
}

// Validate checks the migration and every literal it carries.
func (m *Migration) Validate() error {
	if m.Number == 0 {
		return fmt.Errorf("%w: %s: number must be positive", ErrInvalidMigration, m.Source)
	}
	if len(m.Deployments) == 0 {
		return fmt.Errorf("%w: %s: no deployments", ErrInvalidMigration, m.ID())
	}
	for i := range m.Deployments {
		d := &m.Deployments[i]
		if d.Contract == "" {
			return fmt.Errorf("%w: %s deployment %d: contract is required", ErrInvalidMigration, m.ID(), i+1)
		}
		for j, arg := range d.Args {
			if err := arg.Check(); err != nil {
				return fmt.Errorf("%s deployment %d (%s) arg %d: %w", m.ID(), i+1, d.Contract, j+1, err)
			}
		}
	}
	return nil
}

// Plan is an ordered set of migrations.
type Plan struct {
	Migrations []*Migration
}

// Placeholder locates a placeholder URI literal inside a plan.
type Placeholder struct {
	Migration string `json:"migration"`
	Contract  string `json:"contract"`
	Arg       int    `json:"arg"`
}

// Builtin returns the migrations embedded in the binary.
func Builtin() (*Plan, error) {
	sub, err := fs.Sub(builtinFS, "migrations")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads migrations from a directory on disk.
func LoadDir(dir string) (*Plan, error) {
	return Load(os.DirFS(dir))
}

// Load parses every migration file at the root of fsys and sorts them by number.
func Load(fsys fs.FS) (*Plan, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read plan dir: %w", err)
	}

	p := &Plan{}
	seen := make(map[uint64]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}

		var m Migration
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		m.Source = path.Base(e.Name())

		fileNumber, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMigration, m.Source, err)
		}
		if m.Number == 0 {
			m.Number = fileNumber
		} else if m.Number != fileNumber {
			return nil, fmt.Errorf("%w: %s declares number %d", ErrInvalidMigration, m.Source, m.Number)
		}
		if m.Name == "" {
			m.Name = match[2]
		}

		if prev, ok := seen[m.Number]; ok {
			return nil, fmt.Errorf("%w: %d in %s and %s", ErrDuplicateMigration, m.Number, prev, m.Source)
		}
		seen[m.Number] = m.Source

		p.Migrations = append(p.Migrations, &m)
	}

	sort.Slice(p.Migrations, func(i, j int) bool {
		return p.Migrations[i].Number < p.Migrations[j].Number
	})
	return p, nil
}

// Validate validates every migration in the plan.
func (p *Plan) Validate() error {
	for _, m := range p.Migrations {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the migrations numbered above last.
func (p *Plan) Pending(last uint64) []*Migration {
	var out []*Migration
	for _, m := range p.Migrations {
		if m.Number > last {
			out = append(out, m)
		}
	}
	return out
}

// Range returns the migrations numbered within [from, to]. A zero bound is open.
func (p *Plan) Range(from, to uint64) []*Migration {
	var out []*Migration
	for _, m := range p.Migrations {
		if from != 0 && m.Number < from {
			continue
		}
		if to != 0 && m.Number > to {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Get returns the migration with the given number, or nil.
func (p *Plan) Get(number uint64) *Migration {
	for _, m := range p.Migrations {
		if m.Number == number {
			return m
		}
	}
	return nil
}

// Contracts returns the distinct contract names the plan deploys, in first-use order.
func (p *Plan) Contracts() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range p.Migrations {
		for _, d := range m.Deployments {
			if !seen[d.Contract] {
				seen[d.Contract] = true
				out = append(out, d.Contract)
			}
		}
	}
	return out
}

// Placeholders lists every placeholder URI argument in the plan.
func (p *Plan) Placeholders() []Placeholder {
	var out []Placeholder
	for _, m := range p.Migrations {
		for _, d := range m.Deployments {
			for i, arg := range d.Args {
				if arg.Kind() == KindPlaceholderURI {
					out = append(out, Placeholder{
						Migration: m.ID(),
						Contract:  d.DisplayName(),
						Arg:       i + 1,
					})
				}
			}
		}
	}
	return out
}
