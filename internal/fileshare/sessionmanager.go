package fileshare

import (
	"fmt"
	"sync"
	"time"

	apperr "goshare-relay/internal/errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type TransferStatus int

const (
	PENDING TransferStatus = iota
	TRANSFERRING
	AWAITING_ACK
	COMPLETED
	FAILED
)

func (s TransferStatus) String() string {
	switch s {
	case PENDING:
		return "pending"
	case TRANSFERRING:
		return "transferring"
	case AWAITING_ACK:
		return "awaiting-ack"
	case COMPLETED:
		return "completed"
	case FAILED:
		return "failed"
	default:
		return "unknown"
	}
}

func (s TransferStatus) terminal() bool {
	return s == COMPLETED || s == FAILED
}

type TransferDirection int

const (
	SENDING TransferDirection = iota
	RECEIVING
)

type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"` // In bytes
	MimeType string `json:"mime_type,omitempty"`
}

type FileTransfer struct {
	ID               string
	FileInfo         FileInfo
	Peer             string
	Direction        TransferDirection
	Status           TransferStatus
	BytesTransferred int64
	StartTime        time.Time
	LastUpdateTime   time.Time
	Error            error
	Speed            float64
	Progress         float64
}

// SessionManager tracks the transfers of one client session. Outgoing
// transfers stay AWAITING_ACK until the relay confirms or rejects them.
type SessionManager struct {
	mu              sync.Mutex
	activeTransfers map[string]*FileTransfer
	order           []string
}

func NewSession() *SessionManager {
	return &SessionManager{
		activeTransfers: make(map[string]*FileTransfer),
	}
}

func (sm *SessionManager) CreateTransfer(info FileInfo, peer string, direction TransferDirection) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	transfer := &FileTransfer{
		ID:             uuid.New().String(),
		FileInfo:       info,
		Peer:           peer,
		Direction:      direction,
		Status:         PENDING,
		StartTime:      now,
		LastUpdateTime: now,
	}
	sm.activeTransfers[transfer.ID] = transfer
	sm.order = append(sm.order, transfer.ID)
	return transfer.ID
}

func (sm *SessionManager) UpdateTransferProgress(transferID string, bytestransferred int64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	transfer, exists := sm.activeTransfers[transferID]
	if !exists {
		return fmt.Errorf("transfer not found %s", transferID)
	}

	now := time.Now()
	if timediff := now.Sub(transfer.LastUpdateTime).Seconds(); timediff > 0 {
		transfer.Speed = float64(bytestransferred-transfer.BytesTransferred) / timediff
	}
	transfer.LastUpdateTime = now
	transfer.BytesTransferred = bytestransferred
	transfer.Progress = 100
	if transfer.FileInfo.Size > 0 {
		transfer.Progress = float64(bytestransferred) / float64(transfer.FileInfo.Size) * 100
	}
	if !transfer.Status.terminal() {
		transfer.Status = TRANSFERRING
	}
	logrus.WithFields(logrus.Fields{
		"function": "UpdateTransferProgress",
		"transfer": transferID,
		"file":     transfer.FileInfo.Filename,
		"progress": fmt.Sprintf("%.2f%%", transfer.Progress),
	}).Debug("Transfer progress")
	return nil
}

// MarkSent records that every byte of an outgoing transfer was written. The
// relay may already have acknowledged it, in which case nothing changes.
func (sm *SessionManager) MarkSent(transferID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	transfer, exists := sm.activeTransfers[transferID]
	if !exists {
		return fmt.Errorf("transfer not found %s", transferID)
	}
	if !transfer.Status.terminal() {
		transfer.Status = AWAITING_ACK
		transfer.Progress = 100
		transfer.LastUpdateTime = time.Now()
	}
	return nil
}

func (sm *SessionManager) CompleteTransfer(transferID string) error {
	return sm.setStatus(transferID, COMPLETED, nil)
}

func (sm *SessionManager) FailTransfer(transferID string, err error) error {
	return sm.setStatus(transferID, FAILED, err)
}

func (sm *SessionManager) setStatus(transferID string, status TransferStatus, err error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	transfer, exists := sm.activeTransfers[transferID]
	if !exists {
		return fmt.Errorf("transfer not found %s", transferID)
	}
	transfer.Status = status
	transfer.Error = err
	transfer.LastUpdateTime = time.Now()
	if status == COMPLETED {
		transfer.Progress = 100
	}
	return nil
}

// Acknowledge completes the oldest unfinished outgoing transfer of fileName.
// The ACK can overtake MarkSent, so transfers still marked TRANSFERRING match.
func (sm *SessionManager) Acknowledge(fileName string) (FileTransfer, bool) {
	return sm.resolve(fileName, "", COMPLETED, nil)
}

// Reject fails the oldest unfinished outgoing transfer of fileName to target.
func (sm *SessionManager) Reject(fileName, target string) (FileTransfer, bool) {
	return sm.resolve(fileName, target, FAILED, apperr.ErrTargetNotFound)
}

func (sm *SessionManager) resolve(fileName, peer string, status TransferStatus, err error) (FileTransfer, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, id := range sm.order {
		transfer := sm.activeTransfers[id]
		if transfer.Direction != SENDING || transfer.Status.terminal() ||
			transfer.FileInfo.Filename != fileName || (peer != "" && transfer.Peer != peer) {
			continue
		}
		transfer.Status = status
		transfer.Error = err
		transfer.LastUpdateTime = time.Now()
		return *transfer, true
	}
	return FileTransfer{}, false
}

func (sm *SessionManager) Get(transferID string) (FileTransfer, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	transfer, exists := sm.activeTransfers[transferID]
	if !exists {
		return FileTransfer{}, false
	}
	return *transfer, true
}

// List returns the transfers in creation order.
func (sm *SessionManager) List() []FileTransfer {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	transfers := make([]FileTransfer, 0, len(sm.order))
	for _, id := range sm.order {
		transfers = append(transfers, *sm.activeTransfers[id])
	}
	return transfers
}
