package mission

import (
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	mverrors "mavgateway/errors"
	"mavgateway/log"
	"mavgateway/timer"
)

// OutboundPort is the capability the Mission Transfer Engine needs of the
// facade. It is session.OutboundPort without RegisterPeriodic, defined
// locally so this package never imports session (no back-pointer, per the
// router/session/mission layering spec.md §9 asks for).
type OutboundPort interface {
	SendMessage(msg message.Message) bool
	RegisterTimeout(callback func(), after time.Duration) timer.Cookie
	RefreshTimer(cookie timer.Cookie)
	UnregisterTimer(cookie timer.Cookie)
	TargetSystemID() byte
	TargetComponentID() byte
}

// UploadResultFunc is delivered once, terminally, for an upload request.
type UploadResultFunc func(err error)

// DownloadResultFunc is delivered once, terminally, for a download request,
// carrying the assembled logical mission on success.
type DownloadResultFunc func(items []MissionItem, err error)

// ProgressFunc is delivered whenever a MISSION_CURRENT, or a not yet seen
// MISSION_ITEM_REACHED, changes the reported logical index; current is that
// logical index.
type ProgressFunc func(current, total int)

// SetCurrentResultFunc is delivered once, terminally, for a set-current
// request.
type SetCurrentResultFunc func(err error)

type phase int

const (
	phaseNone phase = iota
	phaseUploadSetMission
	phaseUploadSendingItems
	phaseDownloadRequested
	phaseDownloadReceivingItems
	phaseSetCurrent
)

// Engine implements C7: upload, download, progress monitoring and
// set-current against a single remote system, one transfer at a time.
type Engine struct {
	out            OutboundPort
	defaultTimeout time.Duration

	mu    sync.Mutex
	phase phase
	cookie timer.Cookie

	// upload state
	uploadWire    []wireItem
	uploadNext    int
	uploadResult  UploadResultFunc

	// download state
	downloadCount   int
	downloadItems   []*common.MessageMissionItemInt
	downloadResult  DownloadResultFunc

	// set-current state
	setCurrentWireSeq uint16
	setCurrentResult  SetCurrentResultFunc

	// progress monitoring, independent of transfer phase
	indexMap     []int // wire seq -> logical index, from the last successful expand/assemble
	onProgress   ProgressFunc
	lastReported int
	itemsReached map[uint16]bool
}

// NewEngine creates a mission Engine bound to out.
func NewEngine(out OutboundPort, defaultTimeout time.Duration) *Engine {
	return &Engine{out: out, defaultTimeout: defaultTimeout, itemsReached: make(map[uint16]bool), lastReported: -1}
}

// SetProgressHandler installs the callback invoked on progress changes
// (see ProgressFunc). There is no unregister; callers pass nil to silence it.
func (e *Engine) SetProgressHandler(fn ProgressFunc) {
	e.mu.Lock()
	e.onProgress = fn
	e.mu.Unlock()
}

// UploadAsync expands items and uploads them as a MISSION_COUNT/ITEM_INT
// exchange. Only one transfer (upload, download, or set-current) may be in
// flight at a time; a concurrent request is rejected with Busy.
func (e *Engine) UploadAsync(items []MissionItem, result UploadResultFunc) {
	wire := expand(items)
	if len(wire) > 65535 {
		result(mverrors.TooManyMissionItems)
		return
	}

	e.mu.Lock()
	if e.phase != phaseNone {
		e.mu.Unlock()
		result(mverrors.Busy)
		return
	}
	e.phase = phaseUploadSetMission
	e.uploadWire = wire
	e.uploadNext = 0
	e.uploadResult = result
	e.mu.Unlock()

	e.sendMissionCount(uint16(len(wire)))
}

func (e *Engine) sendMissionCount(count uint16) {
	msg := &common.MessageMissionCount{
		TargetSystem:    e.out.TargetSystemID(),
		TargetComponent: e.out.TargetComponentID(),
		Count:           count,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if !e.out.SendMessage(msg) {
		e.failUpload(mverrors.ConnectionError)
		return
	}
	if count == 0 {
		// an empty mission has no item exchange: the vehicle acks directly.
		e.armUploadTimeout()
		return
	}
	e.armUploadTimeout()
}

func (e *Engine) armUploadTimeout() {
	e.mu.Lock()
	e.cookie = e.out.RegisterTimeout(e.onUploadTimeout, e.defaultTimeout)
	e.mu.Unlock()
}

// HandleMissionRequestInt is registered with the router for
// MISSION_REQUEST_INT: the vehicle is pulling the item at req.Seq.
func (e *Engine) HandleMissionRequestInt(req *common.MessageMissionRequestInt) {
	e.mu.Lock()
	if e.phase != phaseUploadSetMission && e.phase != phaseUploadSendingItems {
		e.mu.Unlock()
		return
	}
	e.phase = phaseUploadSendingItems
	if int(req.Seq) >= len(e.uploadWire) {
		e.mu.Unlock()
		return
	}
	wi := e.uploadWire[req.Seq]
	e.out.RefreshTimer(e.cookie)
	e.mu.Unlock()

	e.out.SendMessage(wi.toMessage(e.out.TargetSystemID(), e.out.TargetComponentID(), req.Seq))
}

// HandleMissionAck is registered with the router for MISSION_ACK. It
// terminates an active upload; during a download it is ignored.
func (e *Engine) HandleMissionAck(ack *common.MessageMissionAck) {
	e.mu.Lock()
	switch e.phase {
	case phaseUploadSetMission, phaseUploadSendingItems:
		e.mu.Unlock()
		if ack.Type == common.MAV_MISSION_ACCEPTED {
			e.finishUpload(nil)
		} else if ack.Type == common.MAV_MISSION_NO_SPACE {
			e.finishUpload(mverrors.TooManyMissionItems)
		} else {
			e.finishUpload(mverrors.Generic)
		}
	case phaseDownloadRequested, phaseDownloadReceivingItems:
		// the vehicle may ack a download it considers complete; normal
		// completion happens in HandleMissionItemInt once count is reached.
		e.mu.Unlock()
	default:
		e.mu.Unlock()
	}
}

func (e *Engine) onUploadTimeout() {
	log.With(map[string]interface{}{"phase": "upload"}).Warn("mission transfer timed out")
	e.failUpload(mverrors.Timeout)
}

func (e *Engine) failUpload(err error) {
	e.mu.Lock()
	if e.phase != phaseUploadSetMission && e.phase != phaseUploadSendingItems {
		e.mu.Unlock()
		return
	}
	e.out.UnregisterTimer(e.cookie)
	result := e.uploadResult
	e.resetLocked()
	e.mu.Unlock()
	if result != nil {
		result(err)
	}
}

func (e *Engine) finishUpload(err error) {
	e.mu.Lock()
	e.out.UnregisterTimer(e.cookie)
	result := e.uploadResult
	wire := e.uploadWire
	e.resetLocked()
	if err == nil {
		e.indexMap = indexMapOf(wire)
		e.itemsReached = make(map[uint16]bool)
		e.lastReported = -1
	}
	e.mu.Unlock()
	if result != nil {
		result(err)
	}
}

// DownloadAsync requests the current mission from the vehicle and assembles
// the wire items back into logical form.
func (e *Engine) DownloadAsync(result DownloadResultFunc) {
	e.mu.Lock()
	if e.phase != phaseNone {
		e.mu.Unlock()
		result(nil, mverrors.Busy)
		return
	}
	e.phase = phaseDownloadRequested
	e.downloadItems = nil
	e.downloadCount = -1
	e.downloadResult = result
	e.mu.Unlock()

	msg := &common.MessageMissionRequestList{
		TargetSystem:    e.out.TargetSystemID(),
		TargetComponent: e.out.TargetComponentID(),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if !e.out.SendMessage(msg) {
		e.failDownload(mverrors.ConnectionError)
		return
	}
	e.mu.Lock()
	e.cookie = e.out.RegisterTimeout(e.onDownloadTimeout, e.defaultTimeout)
	e.mu.Unlock()
}

// HandleMissionCount is registered with the router for MISSION_COUNT, the
// vehicle's reply to MISSION_REQUEST_LIST.
func (e *Engine) HandleMissionCount(count *common.MessageMissionCount) {
	e.mu.Lock()
	if e.phase != phaseDownloadRequested {
		e.mu.Unlock()
		return
	}
	e.phase = phaseDownloadReceivingItems
	e.downloadCount = int(count.Count)
	e.out.RefreshTimer(e.cookie)
	e.mu.Unlock()

	if count.Count == 0 {
		e.finishDownload(nil, nil)
		return
	}
	e.requestItem(0)
}

func (e *Engine) requestItem(seq uint16) {
	e.out.SendMessage(&common.MessageMissionRequestInt{
		TargetSystem:    e.out.TargetSystemID(),
		TargetComponent: e.out.TargetComponentID(),
		Seq:             seq,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})
}

// HandleMissionItemInt is registered with the router for MISSION_ITEM_INT,
// delivered once per requested seq during a download.
func (e *Engine) HandleMissionItemInt(item *common.MessageMissionItemInt) {
	e.mu.Lock()
	if e.phase != phaseDownloadReceivingItems {
		e.mu.Unlock()
		return
	}
	e.downloadItems = append(e.downloadItems, item)
	e.out.RefreshTimer(e.cookie)
	received := len(e.downloadItems)
	total := e.downloadCount
	e.mu.Unlock()

	if received >= total {
		e.out.SendMessage(&common.MessageMissionAck{
			TargetSystem:    e.out.TargetSystemID(),
			TargetComponent: e.out.TargetComponentID(),
			Type:            common.MAV_MISSION_ACCEPTED,
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		})
		items, assembleErr := assemble(e.snapshotDownloadItems())
		if assembleErr != nil {
			e.finishDownload(nil, assembleErr)
			return
		}
		e.finishDownload(items, nil)
		return
	}
	e.requestItem(uint16(received))
}

func (e *Engine) snapshotDownloadItems() []*common.MessageMissionItemInt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*common.MessageMissionItemInt, len(e.downloadItems))
	copy(out, e.downloadItems)
	return out
}

func (e *Engine) onDownloadTimeout() {
	log.With(map[string]interface{}{"phase": "download"}).Warn("mission transfer timed out")
	e.failDownload(mverrors.Timeout)
}

func (e *Engine) failDownload(err error) {
	e.mu.Lock()
	if e.phase != phaseDownloadRequested && e.phase != phaseDownloadReceivingItems {
		e.mu.Unlock()
		return
	}
	e.out.UnregisterTimer(e.cookie)
	result := e.downloadResult
	e.resetLocked()
	e.mu.Unlock()
	if result != nil {
		result(nil, err)
	}
}

func (e *Engine) finishDownload(items []MissionItem, err error) {
	e.mu.Lock()
	e.out.UnregisterTimer(e.cookie)
	result := e.downloadResult
	wire := e.downloadItems
	e.resetLocked()
	if err == nil {
		e.indexMap = indexMapOfWire(wire)
		e.itemsReached = make(map[uint16]bool)
		e.lastReported = -1
		if len(items) == 0 {
			e.mu.Unlock()
			if result != nil {
				result(nil, mverrors.NoMissionAvailable)
			}
			return
		}
	}
	e.mu.Unlock()
	if result != nil {
		result(items, err)
	}
}

// SetCurrentAsync commands the vehicle to resume from the logical item at
// index, translating it to the corresponding wire seq via the index map
// produced by the last upload or download.
func (e *Engine) SetCurrentAsync(logicalIndex int, result SetCurrentResultFunc) {
	e.mu.Lock()
	if e.phase != phaseNone {
		e.mu.Unlock()
		result(mverrors.Busy)
		return
	}
	seq, ok := e.wireSeqForLogicalIndex(logicalIndex)
	if !ok {
		e.mu.Unlock()
		result(mverrors.Unsupported)
		return
	}
	e.phase = phaseSetCurrent
	e.setCurrentWireSeq = seq
	e.setCurrentResult = result
	e.cookie = e.out.RegisterTimeout(e.onSetCurrentTimeout, e.defaultTimeout)
	e.mu.Unlock()

	e.out.SendMessage(&common.MessageMissionSetCurrent{
		TargetSystem:    e.out.TargetSystemID(),
		TargetComponent: e.out.TargetComponentID(),
		Seq:             seq,
	})
}

func (e *Engine) wireSeqForLogicalIndex(logicalIndex int) (uint16, bool) {
	for seq, idx := range e.indexMap {
		if idx == logicalIndex {
			return uint16(seq), true
		}
	}
	return 0, false
}

func (e *Engine) onSetCurrentTimeout() {
	e.mu.Lock()
	if e.phase != phaseSetCurrent {
		e.mu.Unlock()
		return
	}
	result := e.setCurrentResult
	e.resetLocked()
	e.mu.Unlock()
	if result != nil {
		result(mverrors.Timeout)
	}
}

// HandleMissionCurrent is registered with the router for MISSION_CURRENT:
// it both resolves an in-flight set-current and drives progress reporting.
func (e *Engine) HandleMissionCurrent(cur *common.MessageMissionCurrent) {
	e.mu.Lock()
	if e.phase == phaseSetCurrent && cur.Seq == e.setCurrentWireSeq {
		e.out.UnregisterTimer(e.cookie)
		result := e.setCurrentResult
		e.resetLocked()
		e.mu.Unlock()
		if result != nil {
			result(nil)
		}
		return
	}

	logicalIndex := e.logicalIndexForWireSeqLocked(cur.Seq)
	changed := logicalIndex != e.lastReported
	e.lastReported = logicalIndex
	total := e.totalLogicalItemsLocked()
	cb := e.onProgress
	e.mu.Unlock()

	if changed && cb != nil {
		cb(logicalIndex, total)
	}
}

// HandleMissionItemReached is registered with the router for
// MISSION_ITEM_REACHED. It is a second, itemwise progress signal
// alongside MISSION_CURRENT: a vehicle may emit it once per waypoint
// crossed even when MISSION_CURRENT hasn't advanced yet (e.g. while
// still inside a NAV_LOITER_TIME item at the same wire seq).
func (e *Engine) HandleMissionItemReached(reached *common.MessageMissionItemReached) {
	e.mu.Lock()
	if e.itemsReached[reached.Seq] {
		e.mu.Unlock()
		return
	}
	e.itemsReached[reached.Seq] = true
	logicalIndex := e.logicalIndexForWireSeqLocked(reached.Seq)
	changed := logicalIndex != e.lastReported
	e.lastReported = logicalIndex
	total := e.totalLogicalItemsLocked()
	cb := e.onProgress
	e.mu.Unlock()

	if changed && cb != nil {
		cb(logicalIndex, total)
	}
}

func (e *Engine) logicalIndexForWireSeqLocked(seq uint16) int {
	if int(seq) < len(e.indexMap) {
		return e.indexMap[seq]
	}
	return int(seq)
}

func (e *Engine) totalLogicalItemsLocked() int {
	max := 0
	for _, idx := range e.indexMap {
		if idx+1 > max {
			max = idx + 1
		}
	}
	return max
}

// resetLocked returns the engine to phaseNone; callers must hold e.mu.
func (e *Engine) resetLocked() {
	e.phase = phaseNone
	e.uploadWire = nil
	e.uploadNext = 0
	e.uploadResult = nil
	e.downloadItems = nil
	e.downloadCount = 0
	e.downloadResult = nil
	e.setCurrentResult = nil
}

func indexMapOf(wire []wireItem) []int {
	out := make([]int, len(wire))
	for seq, wi := range wire {
		out[seq] = wi.logicalIndex
	}
	return out
}

func indexMapOfWire(items []*common.MessageMissionItemInt) []int {
	out := make([]int, len(items))
	logicalIndex := -1
	for i, it := range items {
		if it.Command == common.MAV_CMD_NAV_WAYPOINT {
			logicalIndex++
		}
		if logicalIndex < 0 {
			logicalIndex = 0
		}
		out[i] = logicalIndex
	}
	return out
}
