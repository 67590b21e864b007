// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package ffmpeg

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestValidatorAllowBlock(t *testing.T) {
	dir := t.TempDir()
	mp4 := filepath.Join(dir, "clip.mp4")
	mkv := filepath.Join(dir, "clip.mkv")
	private := filepath.Join(dir, "private_clip.mp4")
	writeFile(t, mp4, 10)
	writeFile(t, mkv, 10)
	writeFile(t, private, 10)

	v, err := NewValidator([]string{`(?i)\.mp4$`, " "}, []string{`private_`})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	if err := v.Validate(mp4); err != nil {
		t.Fatalf("expected mp4 allowed, got %v", err)
	}
	if err := v.Validate(mkv); !errors.Is(err, ErrInputBlocked) {
		t.Fatalf("expected mkv blocked by allow list, got %v", err)
	}
	if err := v.Validate(private); !errors.Is(err, ErrInputBlocked) {
		t.Fatalf("expected block list to win, got %v", err)
	}
}

func TestValidatorFileChecks(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	writeFile(t, empty, 0)

	v, _ := NewValidator(nil, nil)

	if err := v.Validate(filepath.Join(dir, "missing.mp4")); !errors.Is(err, ErrInputMissing) {
		t.Fatalf("expected ErrInputMissing, got %v", err)
	}
	if err := v.Validate(dir); !errors.Is(err, ErrInputNotFile) {
		t.Fatalf("expected ErrInputNotFile, got %v", err)
	}
	if err := v.Validate(empty); !errors.Is(err, ErrInputEmpty) {
		t.Fatalf("expected ErrInputEmpty, got %v", err)
	}
}

func TestValidatorRejectsBadExpression(t *testing.T) {
	if _, err := NewValidator([]string{"("}, nil); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestSidecarRequiresExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffprobe")
	writeFile(t, bin, 1)

	if _, ok := sidecar(dir, "ffprobe"); ok {
		t.Fatalf("non-executable file must not be used")
	}
	if err := os.Chmod(bin, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	got, ok := sidecar(dir, "ffprobe")
	if !ok || got != bin {
		t.Fatalf("expected sidecar %s, got %q (%v)", bin, got, ok)
	}
}

func TestResolveBinaryEmpty(t *testing.T) {
	if _, err := ResolveBinary("  "); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
