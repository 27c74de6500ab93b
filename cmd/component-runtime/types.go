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

package main

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/crossplane/component-runtime/pkg/component"
	"github.com/crossplane/component-runtime/pkg/logging"
)

// A cartridge provides Ink of the colour it was created with.
type cartridge struct {
	color string
}

func (c *cartridge) Activate(ctx *component.Context) error {
	c.color = fmt.Sprint(ctx.Properties()["color"])
	return nil
}

func (c *cartridge) String() string { return c.color + " ink" }

// A printer prints with whatever ink it has.
type printer struct {
	log logging.Logger
	ink *cartridge
}

func (p *printer) Activate(_ *component.Context) error {
	p.log.Info("Printer ready", "ink", p.inkName())
	return nil
}

func (p *printer) Deactivate(_ *component.Context) error {
	p.log.Info("Printer stopped")
	return nil
}

func (p *printer) Bind(hook string, t component.Target) error {
	c, ok := t.Service.(*cartridge)
	if !ok {
		return errors.Errorf("%s: %T is not an ink cartridge", hook, t.Service)
	}
	p.ink = c
	p.log.Info("Ink inserted", "ink", p.inkName(), "entry", t.Entry.String())
	return nil
}

func (p *printer) Unbind(_ string, t component.Target) error {
	if c, ok := t.Service.(*cartridge); ok && c == p.ink {
		p.ink = nil
	}
	p.log.Info("Ink removed", "ink", fmt.Sprint(t.Service), "remaining", p.inkName())
	return nil
}

func (p *printer) inkName() string {
	if p.ink == nil {
		return "none"
	}
	return p.ink.String()
}

func demoTypes(log logging.Logger) *component.Types {
	ts := component.NewTypes()
	_ = component.Register(ts, "printer", func() (*printer, error) {
		return &printer{log: log.WithValues("demo", "printer")}, nil
	})
	_ = component.Register(ts, "cartridge", func() (*cartridge, error) {
		return &cartridge{}, nil
	})
	return ts
}
