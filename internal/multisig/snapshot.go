package multisig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

// Snapshot 将账本序列化为扁平的提案对象数组。
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	proposals := l.proposals
	if proposals == nil {
		proposals = []*Proposal{}
	}
	data, err := json.MarshalIndent(proposals, "", "  ")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化账本快照失败")
	}
	return data, nil
}

// Restore 用快照内容替换账本当前状态。
func (l *Ledger) Restore(data []byte) error {
	var proposals []*Proposal
	if err := json.Unmarshal(data, &proposals); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析账本快照失败")
	}

	index := make(map[string]*Proposal, len(proposals))
	for _, proposal := range proposals {
		if proposal.ID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "快照中存在缺少 ID 的提案")
		}
		if _, exists := index[proposal.ID]; exists {
			return xerrors.New(xerrors.CodeConflict,
				fmt.Sprintf("快照中提案 ID 重复: %s", proposal.ID))
		}
		index[proposal.ID] = proposal
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.proposals = proposals
	l.index = index
	return nil
}

// SaveFile 将账本快照写入文件。
func (l *Ledger) SaveFile(path string) error {
	data, err := l.Snapshot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建账本快照目录失败")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账本快照失败")
	}
	return nil
}

// LoadFile 从文件恢复账本快照。文件不存在视为空账本，不算错误。
func (l *Ledger) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账本快照失败")
	}
	return l.Restore(data)
}
