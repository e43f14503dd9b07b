package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/motion"
	"github.com/humanoid-lab/motion-bridge/internal/protocol"
	"github.com/humanoid-lab/motion-bridge/internal/session/fsm"
	"github.com/humanoid-lab/motion-bridge/internal/store"
	"github.com/humanoid-lab/motion-bridge/pkg/mogen"
)

// Generator produces a raw clip for a request. Implemented by mogen.Client.
type Generator interface {
	Generate(ctx context.Context, req motion.MotionRequest) (motion.RawClip, error)
}

// Commander sends fire-and-forget commands to the executor. Implemented by
// bridge.Bridge.
type Commander interface {
	Send(cmd protocol.Command) error
}

// MotionStore is the persistence surface the controller needs.
type MotionStore interface {
	Save(clip motion.DeployClip) (store.Record, error)
	Has(id string) bool
	List() []store.Info
	Retain(maxCount int, keep ...string) (int, error)
}

// State is a read-only snapshot of the session for observers.
type State struct {
	Phase       fsm.Phase `json:"phase"`
	ActiveID    string    `json:"active_id,omitempty"`
	LastID      string    `json:"last_id,omitempty"`
	UprightMode bool      `json:"upright_mode,omitempty"`
}

// Options configures a controller.
type Options struct {
	AutoDefaultOnComplete bool
	RetainCount           int
	GetUpClip             string

	// Request defaults applied to every text input.
	MotionLengthSec float64
	InferenceSteps  int
	Smoothing       motion.SmoothingOptions

	// Notify reports user-facing messages. Optional.
	Notify func(string)
	// OnState is called after every state change. Optional.
	OnState func(State)
}

// Controller is the single owner of session state. All three event sources
// (user input, generation outcomes, executor feedback) post into one ordered
// channel consumed by the Run loop; observers only ever see snapshots.
type Controller struct {
	opts      Options
	logger    *zap.Logger
	generator Generator
	commander Commander
	motions   MotionStore
	converter *motion.Converter
	machine   *fsm.Machine

	events chan event
	done   chan struct{}

	// Owned by the Run loop.
	runCtx    context.Context
	seq       uint64
	cancelGen context.CancelFunc
	activeID  string
	lastID    string
	upMode    bool

	mu       sync.RWMutex
	snapshot State
}

// New creates a controller. Run must be called before events are accepted.
func New(opts Options, generator Generator, commander Commander, motions MotionStore, converter *motion.Converter, logger *zap.Logger) *Controller {
	if opts.Notify == nil {
		opts.Notify = func(string) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		opts:      opts,
		logger:    logger,
		generator: generator,
		commander: commander,
		motions:   motions,
		converter: converter,
		machine:   fsm.New(),
		events:    make(chan event, 16),
		done:      make(chan struct{}),
	}
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// SubmitText enqueues a user prompt. Empty text is ignored.
func (c *Controller) SubmitText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.post(textEvent{Text: text})
}

// SubmitCommand enqueues a named user command.
func (c *Controller) SubmitCommand(name string) {
	c.post(commandEvent{Name: name})
}

// HandleInput dispatches one input line: known command keywords become
// commands, everything else is prompt text.
func (c *Controller) HandleInput(line string) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case CmdDefault, CmdLast, CmdList, CmdClear, CmdStatus, CmdUp:
		c.SubmitCommand(strings.ToLower(line))
	default:
		c.SubmitText(line)
	}
}

// HandleFeedback enqueues an executor event, stamped with the record active
// at receive time. Matches bridge.EventSink.
func (c *Controller) HandleFeedback(ev protocol.Event) {
	c.post(feedbackEvent{Event: ev, ForID: c.Snapshot().ActiveID})
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run consumes merged events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.publish()
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.invalidateGeneration()
			return ctx.Err()
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Controller) dispatch(ev event) {
	switch ev := ev.(type) {
	case textEvent:
		c.handleText(ev.Text)
	case commandEvent:
		c.handleCommand(ev.Name)
	case generationEvent:
		c.handleGeneration(ev)
	case feedbackEvent:
		c.handleFeedback(ev)
	}
}

// handleText starts a generation round trip. A previous outstanding call is
// cancelled and its eventual outcome invalidated; the newest text wins.
func (c *Controller) handleText(text string) {
	c.invalidateGeneration()
	c.seq++
	seq := c.seq

	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelGen = cancel

	req := motion.MotionRequest{
		Text:            text,
		MotionLengthSec: c.opts.MotionLengthSec,
		InferenceSteps:  c.opts.InferenceSteps,
		Seed:            rand.Int63n(1 << 31),
		Smoothing:       c.opts.Smoothing,
	}

	c.machine.OnGenerate()
	c.upMode = false
	c.publish()
	c.logger.Info("generation started", zap.Uint64("seq", seq), zap.String("text", text))

	go func() {
		clip, err := c.generator.Generate(ctx, req)
		cancel()
		c.post(generationEvent{Seq: seq, Clip: clip, Err: err})
	}()
}

// handleGeneration processes the outcome of a Generate call, converting,
// persisting and loading the clip on success.
func (c *Controller) handleGeneration(ev generationEvent) {
	if ev.Seq != c.seq {
		c.logger.Debug("stale generation outcome dropped",
			zap.Uint64("seq", ev.Seq), zap.Uint64("current", c.seq))
		return
	}
	c.cancelGen = nil

	if ev.Err != nil {
		c.reportGenerationError(ev.Err)
		c.machine.OnIdle()
		c.publish()
		return
	}

	c.machine.OnConvert()
	c.publish()

	deploy, err := c.converter.Convert(ev.Clip)
	if err != nil {
		c.opts.Notify(fmt.Sprintf("clip rejected: %v", err))
		c.logger.Warn("clip conversion failed", zap.Error(err))
		c.machine.OnIdle()
		c.publish()
		return
	}

	rec, err := c.motions.Save(deploy)
	if err != nil {
		c.opts.Notify(fmt.Sprintf("could not store motion: %v", err))
		c.logger.Error("store save failed", zap.Error(err))
		c.machine.OnIdle()
		c.publish()
		return
	}

	c.loadRecord(rec.ID)
	c.pruneStore()
}

// loadRecord sends LOAD for a stored record and marks it active. Loads are
// fire-and-forget; the phase moves to Executing as soon as the send succeeds.
func (c *Controller) loadRecord(id string) {
	c.machine.OnLoad()
	c.activeID = id
	c.lastID = id
	c.publish()

	if err := c.commander.Send(protocol.CommandLoad{ID: id}); err != nil {
		c.opts.Notify(fmt.Sprintf("executor unreachable: %v", err))
		c.logger.Error("load command failed", zap.String("id", id), zap.Error(err))
		c.activeID = ""
		c.machine.OnIdle()
		c.publish()
		return
	}

	c.machine.OnExecute()
	c.publish()
	c.opts.Notify(fmt.Sprintf("executing %s", id))
}

func (c *Controller) handleCommand(name string) {
	switch name {
	case CmdDefault:
		c.handleDefault()
	case CmdLast:
		c.handleLast()
	case CmdList:
		c.handleList()
	case CmdClear:
		c.handleClear()
	case CmdStatus:
		c.handleStatus()
	case CmdUp:
		c.handleUp()
	default:
		c.opts.Notify(fmt.Sprintf("unknown command %q", name))
	}
}

// handleDefault returns the robot to its default posture from any state. Any
// outstanding generation is abandoned; the last record id survives for replay.
func (c *Controller) handleDefault() {
	c.invalidateGeneration()
	c.upMode = false
	if err := c.commander.Send(protocol.CommandDefault{}); err != nil {
		c.opts.Notify(fmt.Sprintf("executor unreachable: %v", err))
	}
	c.activeID = ""
	c.machine.OnIdle()
	c.publish()
}

// handleLast replays the most recent record. Valid only while idle.
func (c *Controller) handleLast() {
	if c.machine.Phase() != fsm.PhaseIdle {
		c.opts.Notify("session busy, send default first")
		return
	}
	if c.lastID == "" || !c.motions.Has(c.lastID) {
		c.opts.Notify("no previous motion to replay")
		return
	}
	c.loadRecord(c.lastID)
}

func (c *Controller) handleList() {
	infos := c.motions.List()
	if len(infos) == 0 {
		c.opts.Notify("no stored motions")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d stored motions:", len(infos))
	for _, info := range infos {
		fmt.Fprintf(&b, "\n  %s  %s", info.ID, info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	c.opts.Notify(b.String())
}

func (c *Controller) handleClear() {
	removed, err := c.motions.Retain(c.opts.RetainCount, c.activeID, c.lastID)
	if err != nil {
		c.opts.Notify(fmt.Sprintf("cleanup failed: %v", err))
		return
	}
	c.opts.Notify(fmt.Sprintf("removed %d old motions", removed))
}

func (c *Controller) handleStatus() {
	s := c.Snapshot()
	msg := fmt.Sprintf("phase=%s", s.Phase)
	if s.ActiveID != "" {
		msg += " active=" + s.ActiveID
	}
	if s.LastID != "" {
		msg += " last=" + s.LastID
	}
	if s.UprightMode {
		msg += " upright-monitoring"
	}
	c.opts.Notify(msg)
}

// handleUp plays the configured get-up asset and arms upright monitoring.
// The executor reports UPRIGHT_SUCCESS once the robot is back on its feet.
func (c *Controller) handleUp() {
	if c.opts.GetUpClip == "" {
		c.opts.Notify("no get-up clip configured")
		return
	}
	c.invalidateGeneration()
	c.activeID = ""
	if err := c.commander.Send(protocol.CommandLoadAsset{Name: c.opts.GetUpClip}); err != nil {
		c.opts.Notify(fmt.Sprintf("executor unreachable: %v", err))
		return
	}
	if err := c.commander.Send(protocol.CommandStartUprightMonitoring{}); err != nil {
		c.opts.Notify(fmt.Sprintf("executor unreachable: %v", err))
		return
	}
	c.upMode = true
	c.machine.Force(fsm.PhaseExecuting)
	c.publish()
	c.opts.Notify("get-up sequence started")
}

func (c *Controller) handleFeedback(ev feedbackEvent) {
	switch ev.Event.(type) {
	case protocol.EventMotionComplete:
		c.handleMotionComplete(ev.ForID)
	case protocol.EventUprightSuccess:
		c.handleUprightSuccess()
	}
}

// handleMotionComplete closes out the active clip. A completion is matched
// against the record that was active when the event was received (forID);
// events received for a superseded record, in any non-executing phase, or
// after the active id was cleared are stale or duplicate and produce no
// transition.
func (c *Controller) handleMotionComplete(forID string) {
	if c.upMode {
		// Get-up finished without the upright monitor firing. Leave it to
		// the operator rather than auto-defaulting from an unknown pose.
		c.logger.Warn("get-up clip finished but robot not detected upright")
		c.opts.Notify("get-up finished but robot not upright; check the robot or send a command")
		c.upMode = false
		c.machine.OnIdle()
		c.publish()
		return
	}
	if c.machine.Phase() != fsm.PhaseExecuting || c.activeID == "" || forID != c.activeID {
		c.logger.Debug("stale motion complete dropped",
			zap.String("phase", string(c.machine.Phase())),
			zap.String("for_id", forID),
			zap.String("active_id", c.activeID))
		return
	}
	c.logger.Info("motion complete", zap.String("id", c.activeID))
	c.activeID = ""
	if c.opts.AutoDefaultOnComplete {
		if err := c.commander.Send(protocol.CommandDefault{}); err != nil {
			c.opts.Notify(fmt.Sprintf("executor unreachable: %v", err))
		}
	}
	c.machine.OnIdle()
	c.publish()
}

func (c *Controller) handleUprightSuccess() {
	if !c.upMode {
		c.logger.Debug("unexpected upright success dropped")
		return
	}
	c.logger.Info("robot upright, returning to default")
	c.upMode = false
	if err := c.commander.Send(protocol.CommandDefault{}); err != nil {
		c.opts.Notify(fmt.Sprintf("executor unreachable: %v", err))
	}
	c.machine.OnIdle()
	c.publish()
}

// invalidateGeneration cancels the outstanding Generate call, if any, and
// bumps the sequence so its eventual outcome is dropped as stale.
func (c *Controller) invalidateGeneration() {
	if c.cancelGen != nil {
		c.cancelGen()
		c.cancelGen = nil
	}
	c.seq++
}

// pruneStore enforces the retention budget after each save, never touching
// the active or last record.
func (c *Controller) pruneStore() {
	if c.opts.RetainCount <= 0 {
		return
	}
	removed, err := c.motions.Retain(c.opts.RetainCount, c.activeID, c.lastID)
	if err != nil {
		c.logger.Warn("retention cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		c.logger.Info("retention cleanup", zap.Int("removed", removed))
	}
}

func (c *Controller) reportGenerationError(err error) {
	var rejected *mogen.RejectedError
	switch {
	case errors.Is(err, context.Canceled):
		// Superseded by newer input or shutdown; nothing to report.
		c.logger.Debug("generation cancelled")
	case errors.As(err, &rejected):
		c.opts.Notify(fmt.Sprintf("generation rejected [%s]: %s", rejected.Code, rejected.Message))
		c.logger.Warn("generation rejected",
			zap.String("code", rejected.Code), zap.String("message", rejected.Message))
	case errors.Is(err, mogen.ErrChannelUnavailable):
		c.opts.Notify("generation backend unreachable; check the backend process and tunnel")
		c.logger.Error("generation backend unreachable", zap.Error(err))
	case errors.Is(err, mogen.ErrProtocol):
		c.opts.Notify("generation backend sent a malformed response")
		c.logger.Error("generation protocol error", zap.Error(err))
	default:
		c.opts.Notify(fmt.Sprintf("generation failed: %v", err))
		c.logger.Error("generation failed", zap.Error(err))
	}
}

// publish refreshes the observer snapshot. Called only from the Run loop
// (and once before it starts).
func (c *Controller) publish() {
	s := State{
		Phase:       c.machine.Phase(),
		ActiveID:    c.activeID,
		LastID:      c.lastID,
		UprightMode: c.upMode,
	}
	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}
