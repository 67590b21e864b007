// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	ErrInputBlocked = errors.New("input path not allowed")
	ErrInputMissing = errors.New("input file does not exist")
	ErrInputNotFile = errors.New("input is not a regular file")
	ErrInputEmpty   = errors.New("input file is empty")
)

// Validator checks whether a path is eligible as a shrink input
type Validator interface {
	Validate(path string) error
}

type validator struct {
	allow []*regexp.Regexp
	block []*regexp.Regexp
}

// NewValidator creates a new Validator. Empty expressions are ignored.
// With no allow expressions every path not blocked is allowed.
func NewValidator(allow, block []string) (Validator, error) {
	v := &validator{}

	var err error
	if v.allow, err = compileAll("allow", allow); err != nil {
		return nil, err
	}
	if v.block, err = compileAll("block", block); err != nil {
		return nil, err
	}
	return v, nil
}

func compileAll(kind string, exps []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, exp := range exps {
		exp = strings.TrimSpace(exp)
		if exp == "" {
			continue
		}
		re, err := regexp.Compile(exp)
		if err != nil {
			return nil, fmt.Errorf("invalid %s expression '%s': %w", kind, exp, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (v *validator) matches(path string) bool {
	for _, e := range v.block {
		if e.MatchString(path) {
			return false
		}
	}
	if len(v.allow) == 0 {
		return true
	}
	for _, e := range v.allow {
		if e.MatchString(path) {
			return true
		}
	}
	return false
}

func (v *validator) Validate(path string) error {
	if !v.matches(path) {
		return fmt.Errorf("%w: %s", ErrInputBlocked, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrInputMissing, path)
		}
		return fmt.Errorf("cannot access input file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrInputNotFile, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrInputEmpty, path)
	}
	return nil
}
