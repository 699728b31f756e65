// Package shard produces per-unit analyzer output directories ("shards")
// that the merge and normalize stages consume.
//
// A shard is the output directory of one analyzer invocation: its report
// files, its metadata.json and the invocation log. Shards are handed off
// only through those files.
package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/highwayhash"
)

// UnitKind distinguishes per-file from whole-program analysis.
type UnitKind int

const (
	// PerFile units analyze a single translation unit and are cached
	// independently.
	PerFile UnitKind = iota
	// WholeProgram units analyze several sources together with
	// cross-translation-unit analysis. Any source change invalidates the
	// whole unit; they are not incremental.
	WholeProgram
)

func (k UnitKind) String() string {
	if k == WholeProgram {
		return "whole-program"
	}
	return "per-file"
}

// Unit is one piece of cacheable analysis work. It always yields exactly
// one shard.
type Unit struct {
	Kind    UnitKind
	Sources []string
}

// PerFileUnit returns the unit analyzing source alone.
func PerFileUnit(source string) Unit {
	return Unit{Kind: PerFile, Sources: []string{source}}
}

// WholeProgramUnit returns the unit analyzing all sources together.
func WholeProgramUnit(sources ...string) Unit {
	return Unit{Kind: WholeProgram, Sources: sources}
}

// Validate checks that the unit can be named and analyzed.
func (u Unit) Validate() error {
	if len(u.Sources) == 0 {
		return errors.New("unit has no sources")
	}
	if u.Kind == PerFile && len(u.Sources) != 1 {
		return fmt.Errorf("per-file unit must have exactly one source, got %d", len(u.Sources))
	}
	for i, s := range u.Sources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("sources[%d] is empty", i)
		}
	}
	return nil
}

// hashKey is fixed so shard names are stable across runs and machines.
var hashKey = []byte("reportweaver-shard-name-key-0001")

// Name returns the shard name of u: a readable stem followed by 16 hex
// digits identifying the unit. Whole-program unit names do not depend on
// source order.
func (u Unit) Name() string {
	stem := "ctu"
	if u.Kind == PerFile && len(u.Sources) > 0 {
		stem = slugify(filepath.Base(u.Sources[0]))
	}
	if stem == "" {
		stem = "unit"
	}
	return fmt.Sprintf("%s_%016x", stem, u.identity())
}

func (u Unit) identity() uint64 {
	sources := append([]string(nil), u.Sources...)
	if u.Kind == WholeProgram {
		sort.Strings(sources)
	}

	var buf []byte
	writeField := func(data []byte) {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(data)))
		buf = append(buf, data...)
	}
	writeField([]byte(u.Kind.String()))
	for _, s := range sources {
		writeField([]byte(filepath.ToSlash(filepath.Clean(s))))
	}
	return highwayhash.Sum64(buf, hashKey)
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '-'
	}, s)
	return strings.Trim(s, "-")
}
