package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileModePrivate rw------- 帳本資料只允許擁有者讀寫
const FileModePrivate fs.FileMode = 0600

// WAL 以 JSON Lines 追加寫入的 Write-Ahead Log
type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// Open 開啟或建立 WAL 檔案
// O_APPEND 每次寫入自動跳到檔尾，O_CREATE 不存在時建立
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Append 寫入一筆紀錄並 fsync，回傳後資料保證已落盤
func (w *WAL) Append(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	return w.file.Sync()
}

// Replay 從頭依序讀取每一筆紀錄
// callback 收到單筆 JSON，避免一次將所有資料載入記憶體
//
// 檔尾若是寫到一半就中斷的紀錄 (程序在 Append 途中掛掉) 會被截掉，
// 之後的 Append 接在最後一筆完整紀錄後面。檔案中段損毀則回傳錯誤。
func (w *WAL) Replay(callback func(raw json.RawMessage) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	var good int64
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, io.ErrUnexpectedEOF):
				return w.truncate(good)
			default:
				return err
			}
		}
		good = decoder.InputOffset()
		if err := callback(raw); err != nil {
			return err
		}
	}
}

// truncate 截斷到 offset 並補回換行，呼叫端需持有 mu
func (w *WAL) truncate(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate torn wal record: %w", err)
	}
	if offset > 0 {
		if _, err := w.file.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}
