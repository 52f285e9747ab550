package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hitoshi/curator/internal/model"
)

// backupTimestampFormat はバックアップファイル名のタイムスタンプ形式。
const backupTimestampFormat = "20060102-150405"

// Store はデータセットのJSONファイル永続化を提供する。
// 書き込みは一時ファイルへの書き出しとリネームで行い、
// 上書き前に既存ファイルのタイムスタンプ付きバックアップを作成する。
type Store struct {
	path            string
	backupRetention int
	logger          *slog.Logger
	now             func() time.Time
}

// NewStore はStoreの新しいインスタンスを生成する。
// backupRetentionは保持するバックアップの最大件数。
func NewStore(path string, backupRetention int, logger *slog.Logger) *Store {
	if backupRetention <= 0 {
		backupRetention = 5
	}
	return &Store{
		path:            path,
		backupRetention: backupRetention,
		logger:          logger,
		now:             time.Now,
	}
}

// Path はデータセットファイルのパスを返す。
func (s *Store) Path() string {
	return s.path
}

// Load はデータセットファイルを読み込む。
// ファイルが存在しない場合は空のデータセットを返す（初回実行）。
func (s *Store) Load() (model.Dataset, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Dataset{}, nil
		}
		return model.Dataset{}, model.NewPersistenceError(fmt.Sprintf("データセットの読み込みに失敗しました: %s", err))
	}

	var ds model.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return model.Dataset{}, model.NewPersistenceError(fmt.Sprintf("データセットのパースに失敗しました: %s", err))
	}
	return ds, nil
}

// Save はデータセットをファイルに保存する。
//
// 上書き前に既存ファイルのバックアップを作成する（ベストエフォート、
// 失敗はログに記録するのみ）。本体の書き込みは一時ファイルへの
// 書き出しとリネームで行い、途中失敗で破損したファイルが
// 本体として見えることを防ぐ。保存後、保持上限を超えた
// 古いバックアップを削除する。
//
// 保存処理はコンテキストを受け取らない。開始された書き込みは
// 中断せず完了まで実行される（部分書き込みによる破損防止）。
func (s *Store) Save(ds model.Dataset) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return model.NewPersistenceError(fmt.Sprintf("ディレクトリの作成に失敗しました: %s", err))
	}

	s.backupCurrent()

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return model.NewPersistenceError(fmt.Sprintf("データセットのエンコードに失敗しました: %s", err))
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return model.NewPersistenceError(fmt.Sprintf("一時ファイルの書き込みに失敗しました: %s", err))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return model.NewPersistenceError(fmt.Sprintf("データセットファイルの置き換えに失敗しました: %s", err))
	}

	s.rotateBackups()

	s.logger.Info("データセットを保存しました",
		slog.String("path", s.path),
		slog.Int("items", len(ds.Items)),
	)
	return nil
}

// backupCurrent は既存の本体ファイルをタイムスタンプ付きでコピーする。
// バックアップの失敗は致命的エラーとせず、警告ログのみ記録する。
func (s *Store) backupCurrent() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("バックアップ対象の読み込みに失敗しました",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	backupPath := fmt.Sprintf("%s.%s.bak", s.path, s.now().Format(backupTimestampFormat))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		s.logger.Warn("バックアップの作成に失敗しました",
			slog.String("backup_path", backupPath),
			slog.String("error", err.Error()),
		)
	}
}

// rotateBackups は保持上限を超えた古いバックアップを削除する。
// タイムスタンプ付きファイル名の辞書順が時系列順に一致することを利用する。
func (s *Store) rotateBackups() {
	backups, err := filepath.Glob(s.path + ".*.bak")
	if err != nil || len(backups) <= s.backupRetention {
		return
	}

	sort.Strings(backups)
	for _, old := range backups[:len(backups)-s.backupRetention] {
		if err := os.Remove(old); err != nil {
			s.logger.Warn("古いバックアップの削除に失敗しました",
				slog.String("backup_path", old),
				slog.String("error", err.Error()),
			)
		}
	}
}
