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

package registry

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"dario.cat/mergo"
	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/labels"
)

const (
	errMergeProperties = "cannot merge properties"
	errMarshalProps    = "cannot marshal properties"
	errApplyPatch      = "cannot apply merge patch"
	errUnmarshalProps  = "cannot unmarshal patched properties"
)

// Properties are the key/value pairs published with an entry. Values are
// scalars or homogeneous arrays of scalars.
type Properties map[string]any

// Copy returns a shallow copy of the properties. Array values are cloned.
func (p Properties) Copy() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && !rv.IsNil() {
			c := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
			reflect.Copy(c, rv)
			v = c.Interface()
		}
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with the supplied overrides. Later
// overrides win.
func (p Properties) Merge(overrides ...Properties) (Properties, error) {
	out := p.Copy()
	for _, o := range overrides {
		if err := mergo.Merge(&out, o.Copy(), mergo.WithOverride); err != nil {
			return nil, errors.Wrap(err, errMergeProperties)
		}
		// mergo skips empty values, but an explicit false, 0 or "" still
		// overrides.
		for k, v := range o {
			if _, ok := out[k]; !ok || v == nil || reflect.ValueOf(v).IsZero() {
				out[k] = v
			}
		}
	}
	return out, nil
}

// Labels renders the scalar properties as a label set so that they can be
// matched by a selector. Array values are omitted.
func (p Properties) Labels() labels.Set {
	s := make(labels.Set, len(p))
	for k, v := range p {
		if v == nil {
			continue
		}
		switch reflect.ValueOf(v).Kind() { //nolint:exhaustive // Only collections are skipped.
		case reflect.Slice, reflect.Array, reflect.Map:
			continue
		}
		s[k] = fmt.Sprint(v)
	}
	return s
}

// Keys returns the property keys in order.
func (p Properties) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// ApplyMergePatch applies an RFC 7386 JSON merge patch to the properties.
// Numeric values come back as float64.
func (p Properties) ApplyMergePatch(patch []byte) (Properties, error) {
	orig, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, errMarshalProps)
	}
	patched, err := jsonpatch.MergePatch(orig, patch)
	if err != nil {
		return nil, errors.Wrap(err, errApplyPatch)
	}
	out := Properties{}
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, errors.Wrap(err, errUnmarshalProps)
	}
	return out, nil
}
