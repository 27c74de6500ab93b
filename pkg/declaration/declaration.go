/*
Copyright 2025 The Crossplane Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package declaration loads module descriptors, which declare the components
// a module contributes to the runtime.
package declaration

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"

	"github.com/crossplane/component-runtime/pkg/component"
)

const (
	errReadFile      = "cannot read module descriptor"
	errParse         = "cannot parse module descriptor"
	errReadDir       = "cannot read module descriptor directory"
	errNoName        = "module descriptor has no name"
	errFmtFile       = "module descriptor %s"
	errFmtDupModule  = "module %q is declared more than once"
	errFmtDupComp    = "module %q declares component %q more than once"
	errFmtComponent  = "module %q"
	defaultExtension = ".yaml"
)

// A ModuleDescriptor declares a module and its components.
type ModuleDescriptor struct {
	// Name of the module. Module names are unique within a runtime.
	Name string `json:"name"`

	// Version of the module.
	Version string `json:"version,omitempty"`

	// Components declared by the module.
	Components []component.Spec `json:"components,omitempty"`
}

// Module returns the module the descriptor declares.
func (d ModuleDescriptor) Module() component.Module {
	return component.Module{Name: d.Name, Version: d.Version}
}

// Validate returns an error if the descriptor is malformed.
func (d ModuleDescriptor) Validate() error {
	if d.Name == "" {
		return errors.New(errNoName)
	}
	names := sets.New[string]()
	for _, s := range d.Components {
		if err := s.Validate(); err != nil {
			return errors.Wrapf(err, errFmtComponent, d.Name)
		}
		if names.Has(s.Name) {
			return errors.Errorf(errFmtDupComp, d.Name, s.Name)
		}
		names.Insert(s.Name)
	}
	return nil
}

// An Option configures how descriptors are loaded.
type Option func(*Options)

// Options for loading descriptors.
type Options struct {
	// DefaultVersion is used for descriptors that declare no version.
	DefaultVersion string

	// Extensions of the files LoadDir reads.
	Extensions []string
}

// WithDefaultVersion sets the version of descriptors that declare none.
func WithDefaultVersion(v string) Option {
	return func(o *Options) {
		o.DefaultVersion = v
	}
}

// WithExtensions sets the file extensions LoadDir reads.
func WithExtensions(ext ...string) Option {
	return func(o *Options) {
		o.Extensions = ext
	}
}

// DefaultOptions returns the default Options.
func DefaultOptions() *Options {
	return &Options{
		DefaultVersion: "0.0.0",
		Extensions:     []string{defaultExtension, ".yml", ".json"},
	}
}

func options(o []Option) *Options {
	opts := DefaultOptions()
	for _, fn := range o {
		fn(opts)
	}
	return opts
}

// Parse a YAML or JSON module descriptor. Unknown fields are rejected.
func Parse(data []byte, o ...Option) (ModuleDescriptor, error) {
	opts := options(o)
	d := ModuleDescriptor{}
	if err := yaml.UnmarshalStrict(data, &d); err != nil {
		return ModuleDescriptor{}, errors.Wrap(err, errParse)
	}
	if d.Version == "" {
		d.Version = opts.DefaultVersion
	}
	if err := d.Validate(); err != nil {
		return ModuleDescriptor{}, err
	}
	return d, nil
}

// LoadFile loads the module descriptor at path.
func LoadFile(fs afero.Fs, path string, o ...Option) (ModuleDescriptor, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return ModuleDescriptor{}, errors.Wrap(err, errReadFile)
	}
	d, err := Parse(data, o...)
	return d, errors.Wrapf(err, errFmtFile, path)
}

// LoadDir loads every module descriptor in dir, ordered by file name.
// Subdirectories are not read.
func LoadDir(fs afero.Fs, dir string, o ...Option) ([]ModuleDescriptor, error) {
	opts := options(o)
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrap(err, errReadDir)
	}

	out := make([]ModuleDescriptor, 0, len(infos))
	seen := sets.New[string]()
	for _, fi := range infos {
		if fi.IsDir() || !slices.Contains(opts.Extensions, strings.ToLower(filepath.Ext(fi.Name()))) {
			continue
		}
		d, err := LoadFile(fs, filepath.Join(dir, fi.Name()), o...)
		if err != nil {
			return nil, err
		}
		if seen.Has(d.Name) {
			return nil, errors.Errorf(errFmtDupModule, d.Name)
		}
		seen.Insert(d.Name)
		out = append(out, d)
	}
	return out, nil
}

// Start starts every described module, in order. It stops at the first
// module that cannot be started.
func Start(rt *component.Runtime, ds []ModuleDescriptor) error {
	for _, d := range ds {
		if err := rt.OnModuleStarted(d.Module(), d.Components); err != nil {
			return err
		}
	}
	return nil
}
