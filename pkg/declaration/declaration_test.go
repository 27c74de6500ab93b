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

package declaration

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/crossplane/component-runtime/pkg/component"
	"github.com/crossplane/component-runtime/pkg/registry"
	"github.com/crossplane/component-runtime/pkg/test"
)

const office = `
name: office
version: 1.2.0
components:
- name: printer
  implementation: printer
  provides: [Printer]
  properties:
    dpi: 600
    trays: [a4, letter]
  references:
  - name: ink
    capability: Ink
    target: color in (black,cyan)
    cardinality: 0..1
    policy: dynamic
    bind: setInk
    unbind: unsetInk
- name: scanner
  implementation: scanner
  mode: delayed
  provides: [Scanner]
`

const shop = `{
  "name": "shop",
  "components": [
    {"name": "widget", "implementation": "widget", "mode": "factory", "factory": "widgets"}
  ]
}`

func TestParse(t *testing.T) {
	type want struct {
		d   ModuleDescriptor
		err error
	}
	cases := map[string]struct {
		reason string
		data   string
		o      []Option
		want   want
	}{
		"YAML": {
			reason: "A YAML descriptor should be parsed into component specs.",
			data:   office,
			want: want{d: ModuleDescriptor{
				Name:    "office",
				Version: "1.2.0",
				Components: []component.Spec{
					{
						Name:           "printer",
						Implementation: "printer",
						Provides:       []string{"Printer"},
						Properties:     component.Properties{"dpi": float64(600), "trays": []any{"a4", "letter"}},
						References: []component.ReferenceSpec{{
							Name:        "ink",
							Capability:  "Ink",
							Target:      "color in (black,cyan)",
							Cardinality: component.ZeroToOne,
							Policy:      component.Dynamic,
							Bind:        "setInk",
							Unbind:      "unsetInk",
						}},
					},
					{
						Name:           "scanner",
						Implementation: "scanner",
						Mode:           component.Delayed,
						Provides:       []string{"Scanner"},
					},
				},
			}},
		},
		"JSONWithDefaultVersion": {
			reason: "A descriptor without a version should get the default version.",
			data:   shop,
			o:      []Option{WithDefaultVersion("1.0.0")},
			want: want{d: ModuleDescriptor{
				Name:    "shop",
				Version: "1.0.0",
				Components: []component.Spec{
					{Name: "widget", Implementation: "widget", Mode: component.Factory, Factory: "widgets"},
				},
			}},
		},
		"NoName": {
			reason: "A descriptor must name its module.",
			data:   "version: 1.0.0",
			want:   want{err: errors.New(errNoName)},
		},
		"DuplicateComponent": {
			reason: "Component names must be unique within a module.",
			data: `
name: office
components:
- {name: printer, implementation: printer}
- {name: printer, implementation: laser}
`,
			want: want{err: errors.Errorf(errFmtDupComp, "office", "printer")},
		},
		"InvalidComponent": {
			reason: "Each component must be valid.",
			data: `
name: office
components:
- {name: printer}
`,
			want: want{err: errors.Wrapf(errors.Errorf("component %q: implementation is required", "printer"), errFmtComponent, "office")},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := Parse([]byte(tc.data), tc.o...)
			if diff := cmp.Diff(tc.want.err, err, test.EquateErrors()); diff != "" {
				t.Errorf("\n%s\nParse(...): -want error, +got error:\n%s", tc.reason, diff)
			}
			if diff := cmp.Diff(tc.want.d, d); diff != "" {
				t.Errorf("\n%s\nParse(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"UnknownField":       "name: office\nowner: me\n",
		"UnknownCardinality": "name: office\ncomponents:\n- name: p\n  implementation: p\n  references:\n  - {name: ink, capability: Ink, cardinality: 2..3}\n",
		"UnknownMode":        "name: office\ncomponents:\n- {name: p, implementation: p, mode: eager}\n",
		"NotYAML":            "name: [office",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Errorf("Parse(...): want error, got nil")
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/modules/office.yaml", []byte(office), 0o600)
	_ = afero.WriteFile(fs, "/modules/shop.json", []byte(shop), 0o600)
	_ = afero.WriteFile(fs, "/modules/README.md", []byte("# modules"), 0o600)
	_ = afero.WriteFile(fs, "/modules/nested/other.yaml", []byte("name: other"), 0o600)

	ds, err := LoadDir(fs, "/modules")
	if err != nil {
		t.Fatalf("LoadDir(...): %v", err)
	}
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		names = append(names, d.Module().String())
	}
	if diff := cmp.Diff([]string{"office@1.2.0", "shop@0.0.0"}, names); diff != "" {
		t.Errorf("LoadDir(...): -want, +got:\n%s", diff)
	}

	ds, err = LoadDir(fs, "/modules", WithExtensions(".json"))
	if err != nil || len(ds) != 1 || ds[0].Name != "shop" {
		t.Errorf("LoadDir(...) with extensions: want only shop, got %v (%v)", ds, err)
	}
}

func TestLoadDirErrors(t *testing.T) {
	cases := map[string]struct {
		reason string
		files  map[string]string
		want   error
	}{
		"Missing": {
			reason: "A missing directory should return an error.",
			want:   errors.Wrap(errors.New("open /modules: file does not exist"), errReadDir),
		},
		"DuplicateModule": {
			reason: "Module names must be unique across descriptors.",
			files: map[string]string{
				"/modules/a.yaml": "name: office",
				"/modules/b.yaml": "name: office",
			},
			want: errors.Errorf(errFmtDupModule, "office"),
		},
		"BadFile": {
			reason: "Errors should name the descriptor that caused them.",
			files:  map[string]string{"/modules/a.yaml": "version: 1.0.0"},
			want:   errors.Wrapf(errors.New(errNoName), errFmtFile, "/modules/a.yaml"),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			for path, data := range tc.files {
				_ = afero.WriteFile(fs, path, []byte(data), 0o600)
			}
			_, err := LoadDir(fs, "/modules")
			if diff := cmp.Diff(tc.want, err, test.EquateErrors()); diff != "" {
				t.Errorf("\n%s\nLoadDir(...): -want error, +got error:\n%s", tc.reason, diff)
			}
		})
	}
}

type printer struct{}

func TestStart(t *testing.T) {
	types := component.NewTypes()
	_ = component.Register(types, "widget", func() (*printer, error) { return &printer{}, nil })
	rt := component.New(registry.NewMemory(), types)

	d, err := Parse([]byte(shop))
	if err != nil {
		t.Fatalf("Parse(...): %v", err)
	}
	if err := Start(rt, []ModuleDescriptor{d}); err != nil {
		t.Fatalf("Start(...): %v", err)
	}
	if _, ok := rt.Declaration("shop", "widget"); !ok {
		t.Errorf("Start(...) should start the shop module")
	}
	if err := Start(rt, []ModuleDescriptor{d}); !errors.Is(err, component.ErrModuleStarted) {
		t.Errorf("Start(...) twice: want %v, got %v", component.ErrModuleStarted, err)
	}
}
