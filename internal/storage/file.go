package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"SwarmQuarry/internal/swarm"
	"SwarmQuarry/pkg/logger"
)

// DefaultDataFile 是文件驱动的默认路径，与旧版 turtle 服务的数据文件保持一致。
const DefaultDataFile = "data.json"

// FileGateway 把全部 swarm 以单个 JSON 文档写入磁盘。
// 进程存活期间持有旁路锁文件，防止两个实例写同一份数据。
type FileGateway struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// NewFileGateway 打开数据文件并获取独占锁。
func NewFileGateway(path string) (*FileGateway, error) {
	if path == "" {
		path = DefaultDataFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取数据文件锁失败: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("数据文件 %s 已被其他实例占用", path)
	}
	return &FileGateway{path: path, lock: lock, logger: logger.Named("storage.file")}, nil
}

// Path 返回数据文件路径。
func (f *FileGateway) Path() string { return f.path }

// LoadAll 读取数据文件。文件不存在时返回空集合；文件损坏时将其改名保留并返回空集合。
func (f *FileGateway) LoadAll(ctx context.Context) (map[string]*swarm.Swarm, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.InfoContext(ctx, "数据文件不存在，使用空状态启动", slog.String("path", f.path))
		return make(map[string]*swarm.Swarm), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取数据文件失败: %w", err)
	}

	out := make(map[string]*swarm.Swarm)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
		if renameErr := os.Rename(f.path, aside); renameErr != nil {
			return nil, fmt.Errorf("数据文件损坏且无法移走: %w", errors.Join(err, renameErr))
		}
		f.logger.WarnContext(ctx, "数据文件损坏，已移走并使用空状态启动",
			slog.String("path", f.path),
			slog.String("moved_to", aside),
			slog.Any("error", err),
		)
		return make(map[string]*swarm.Swarm), nil
	}
	for id, s := range out {
		if s == nil {
			delete(out, id)
			continue
		}
		if s.ID == "" {
			s.ID = id
		}
	}
	return out, nil
}

// SaveAll 先写临时文件再原子替换，读者不会看到写了一半的文件。
func (f *FileGateway) SaveAll(_ context.Context, swarms map[string]*swarm.Swarm) error {
	encoded, err := json.MarshalIndent(swarms, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("替换数据文件失败: %w", err)
	}
	return nil
}

// Driver 返回驱动名。
func (f *FileGateway) Driver() string { return DriverFile }

// Close 释放文件锁。
func (f *FileGateway) Close() error {
	if f == nil || f.lock == nil {
		return nil
	}
	return f.lock.Unlock()
}

var _ Gateway = (*FileGateway)(nil)
