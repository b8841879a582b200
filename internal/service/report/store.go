package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/balance"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/spf13/afero"
)

type SnapshotReason string

const (
	SnapshotPeriodic  SnapshotReason = "periodic"
	SnapshotEmergency SnapshotReason = "emergency"
	SnapshotFinal     SnapshotReason = "final"
)

const timestampLayout = "20060102T150405.000000000Z"

var ErrNoSnapshot = errors.New("no snapshot found")

// Snapshot 可用于恢复会话的完整状态
type Snapshot struct {
	SessionID        string             `json:"session_id"`
	Reason           SnapshotReason     `json:"reason"`
	Detail           string             `json:"detail,omitempty"`
	SavedAt          time.Time          `json:"saved_at"`
	Balance          balance.Snapshot   `json:"balance"`
	OpenPositions    []trading.Position `json:"open_positions"`
	ClosedTradeCount int                `json:"closed_trade_count"`
	Counters         Counters           `json:"counters"`
	Report           *Report            `json:"report,omitempty"`
}

// SnapshotStore 原子写入：临时文件 -> fsync -> rename，失败时旧文件不受影响
type SnapshotStore struct {
	fs          afero.Fs
	dir         string
	fallbackDir string
	logger      *slog.Logger
}

func NewSnapshotStore(fs afero.Fs, dir, fallbackDir string, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	if fallbackDir == "" {
		fallbackDir = os.TempDir()
	}
	return &SnapshotStore{
		fs:          fs,
		dir:         dir,
		fallbackDir: fallbackDir,
		logger:      logger.With(slog.String("component", "snapshot_store")),
	}
}

func fileName(prefix string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, at.UTC().Format(timestampLayout), ext)
}

// Save 写入主目录
func (s *SnapshotStore) Save(snap Snapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	name := fileName("session_"+string(snap.Reason), snap.SavedAt, "json")
	path := filepath.Join(s.dir, name)
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	s.logger.Info("snapshot saved", "path", path, "reason", snap.Reason,
		"open_positions", len(snap.OpenPositions))
	return path, nil
}

// SaveEmergency 依次尝试主目录和备用目录，从不 panic，全部失败时返回空路径
func (s *SnapshotStore) SaveEmergency(snap Snapshot) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("emergency save panicked", "panic", r)
			path, err = "", fmt.Errorf("emergency save panicked: %v", r)
		}
	}()

	snap.Reason = SnapshotEmergency
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		s.logger.Error("marshal emergency snapshot failed", "error", err)
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	name := fileName("emergency_save", snap.SavedAt, "json")
	var errs []error
	for _, dir := range []string{s.dir, s.fallbackDir} {
		p := filepath.Join(dir, name)
		if werr := s.writeAtomic(p, data); werr != nil {
			s.logger.Error("emergency save failed", "path", p, "error", werr)
			errs = append(errs, werr)
			continue
		}
		s.logger.Warn("emergency snapshot saved", "path", p, "detail", snap.Detail)
		return p, nil
	}
	return "", errors.Join(errs...)
}

// SaveReport 同时写入文本和 JSON 两种格式
func (s *SnapshotStore) SaveReport(r Report) ([]string, error) {
	data, err := r.JSON()
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	files := map[string][]byte{
		filepath.Join(s.dir, fileName("report", r.GeneratedAt, "txt")):  []byte(r.Text()),
		filepath.Join(s.dir, fileName("report", r.GeneratedAt, "json")): data,
	}
	var paths []string
	for p, content := range files {
		if err := s.writeAtomic(p, content); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadLatest 读取主目录中最新的会话快照，文件名中的时间戳可直接按字典序比较
func (s *SnapshotStore) LoadLatest() (Snapshot, string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, "", ErrNoSnapshot
		}
		return Snapshot{}, "", fmt.Errorf("read snapshot dir: %w", err)
	}

	var (
		latest   string
		latestTs string
	)
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if !strings.HasPrefix(name, "session_") && !strings.HasPrefix(name, "emergency_save_") {
			continue
		}
		ts := name[strings.LastIndex(name, "_")+1:]
		if ts > latestTs {
			latest, latestTs = name, ts
		}
	}
	if latest == "" {
		return Snapshot{}, "", ErrNoSnapshot
	}

	path := filepath.Join(s.dir, latest)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return Snapshot{}, "", fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, "", fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, path, nil
}

func (s *SnapshotStore) writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = s.fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
