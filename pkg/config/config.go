// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads a flow.Config (the process/connection topology
// spec §6 describes) from a YAML/JSON file on disk, the way the teacher's
// api/integration-api/config.InitConfig loads an AppConfig from viper —
// generalized from an env-file application config into a flow topology
// file, and from a single typed struct into a process registry lookup
// since flow.ProcDef.Proc is a live flow.Process, not data.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rapidaai/pkg/flow"
)

// ProcFactory builds a fresh flow.Process instance for one topology entry.
// Each process package (pacer, transportin, sttclient, ...) registers its
// own factory under a type name the file references.
type ProcFactory func() flow.Process

// Registry maps a topology file's "type" field to the factory that builds
// the corresponding process.
type Registry map[string]ProcFactory

// procEntry is one element of the file's "procs" list.
type procEntry struct {
	ID   string                 `mapstructure:"id" validate:"required"`
	Type string                 `mapstructure:"type" validate:"required"`
	Args map[string]interface{} `mapstructure:"args"`
}

// connEntry is one element of the file's "conns" list.
type connEntry struct {
	FromProc string `mapstructure:"from_proc" validate:"required"`
	FromPort string `mapstructure:"from_port" validate:"required"`
	ToProc   string `mapstructure:"to_proc" validate:"required"`
	ToPort   string `mapstructure:"to_port" validate:"required"`
}

// fileConfig is the on-disk shape of a flow topology definition.
type fileConfig struct {
	Procs []procEntry `mapstructure:"procs" validate:"required,dive"`
	Conns []connEntry `mapstructure:"conns" validate:"dive"`
}

var validate = validator.New()

// LoadFile reads the flow topology at path (YAML, JSON, or any format
// viper's extension-sniffing supports) and resolves it into a flow.Config
// using registry to build each named process type. Every procs[].type not
// present in registry is reported together in one error, matching the
// teacher's "collect every violated tag" validation style.
func LoadFile(path string, registry Registry) (flow.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return flow.Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return flow.Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := validate.Struct(&fc); err != nil {
		return flow.Config{}, fmt.Errorf("config: invalid topology in %s: %w", path, err)
	}

	procs := make([]flow.ProcDef, 0, len(fc.Procs))
	var unknownTypes []string
	for _, entry := range fc.Procs {
		factory, ok := registry[entry.Type]
		if !ok {
			unknownTypes = append(unknownTypes, entry.Type)
			continue
		}
		procs = append(procs, flow.ProcDef{ID: entry.ID, Proc: factory(), Args: entry.Args})
	}
	if len(unknownTypes) > 0 {
		return flow.Config{}, fmt.Errorf("config: %s: unregistered process types: %v", path, unknownTypes)
	}

	conns := make([]flow.Conn, 0, len(fc.Conns))
	for _, c := range fc.Conns {
		conns = append(conns, flow.Conn{FromProc: c.FromProc, FromPort: c.FromPort, ToProc: c.ToProc, ToPort: c.ToPort})
	}

	return flow.Config{Procs: procs, Conns: conns}, nil
}
