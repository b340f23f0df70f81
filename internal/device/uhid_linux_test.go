//go:build linux

package device

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenUHIDMissingNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uhid")
	_, err := openUHID(path)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("openUHID() error = %v, 期望 ErrNotExist", err)
	}
	if !strings.Contains(err.Error(), "uhid module") {
		t.Errorf("错误信息缺少提示: %v", err)
	}
}

func TestOpenUHIDRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uhid")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	rw, err := openUHID(path)
	if err != nil {
		t.Fatalf("openUHID() 返回错误: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("Close() 返回错误: %v", err)
	}
}
