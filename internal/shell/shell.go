// Package shell assembles the card runtime: it wires the registrar services,
// owns the frame loop and its pacing, routes keystrokes to the focused card,
// and holds the process-wide resources (background pool, blob cache,
// notification queue).
package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rouen/internal/blobcache"
	"rouen/internal/card"
	"rouen/internal/cards/cmdcard"
	"rouen/internal/cards/dircard"
	"rouen/internal/cards/pomodoro"
	"rouen/internal/cards/rss"
	"rouen/internal/cards/scan"
	"rouen/internal/deck"
	"rouen/internal/registry"
	"rouen/internal/task"
	"rouen/internal/ui"
)

const (
	poolWorkers    = 8
	sleepSlice     = 100 * time.Millisecond
	maxFrameBudget = time.Second
)

// FrameToolkit is the toolkit surface the shell drives: the per-card
// Toolkit plus the per-frame bracketing the shell owns.
type FrameToolkit interface {
	ui.Toolkit
	BeginFrame()
	EndFrame()
}

// Shell is the application core outside the cards.
type Shell struct {
	cfg  Config
	env  map[string]string
	tk   FrameToolkit
	reg  *registry.Registry
	deck *deck.Deck

	notifier *Notifier
	keys     keystrokeBuffer
	pool     *task.Pool
	blobs    *blobcache.Cache

	quitting atomic.Bool

	workerMu   sync.Mutex
	cmdWorkers []*task.Worker

	// OnFrame, when set, observes each rendered frame and freshly drained
	// notices. The console mode uses it; nil drops frames and logs notices.
	OnFrame func(frames []ui.WindowFrame, notices []Notice)
}

// New builds a shell: opens the blob cache, registers every card scheme,
// installs and verifies the seven services, and freezes the registrar.
// After New returns, the registrar is read-only and the first frame may run.
func New(cfg Config, env map[string]string, tk FrameToolkit) (*Shell, error) {
	if tk == nil {
		return nil, fmt.Errorf("new shell: toolkit is nil")
	}

	err := os.MkdirAll(cfg.DataDir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("new shell: create data dir: %w", err)
	}

	blobs, err := blobcache.Open(cfg.CacheDir, blobcache.Options{})
	if err != nil {
		return nil, fmt.Errorf("new shell: %w", err)
	}

	s := &Shell{
		cfg:      cfg,
		env:      env,
		tk:       tk,
		reg:      registry.New(),
		notifier: NewNotifier(),
		pool:     task.NewPool(poolWorkers),
		blobs:    blobs,
	}

	factory := deck.NewFactory()

	err = s.registerSchemes(factory)
	if err != nil {
		_ = blobs.Close()

		return nil, fmt.Errorf("new shell: %w", err)
	}

	s.deck = deck.New(factory, s.reg)

	err = s.installServices()
	if err != nil {
		_ = blobs.Close()

		return nil, fmt.Errorf("new shell: %w", err)
	}

	s.reg.Freeze()

	err = s.reg.Verify(map[string]registry.Kind{
		registry.SvcCreateCard: registry.KindProc,
		registry.SvcNotify:     registry.KindProc,
		registry.SvcQuitting:   registry.KindPred,
		registry.SvcKeystrokes: registry.KindSource,
		registry.SvcEdit:       registry.KindProc,
		registry.SvcRunCommand: registry.KindRunner,
		registry.SvcExit:       registry.KindPred,
	})
	if err != nil {
		_ = blobs.Close()

		return nil, fmt.Errorf("new shell: %w", err)
	}

	return s, nil
}

func (s *Shell) registerSchemes(factory *deck.Factory) error {
	rssHost := rss.NewHostRef(filepath.Join(s.cfg.DataDir, "rss.sqlite"), s.blobs)

	register := []struct {
		scheme string
		ctor   deck.Constructor
	}{
		{"dir", func(locator string) (card.Card, error) {
			return dircard.New(locator, s.env, s.reg)
		}},
		{"cmd", func(locator string) (card.Card, error) {
			return cmdcard.New(locator, s.reg)
		}},
		// terminal: is an alias of cmd:; the card's URI canonicalizes to
		// the cmd scheme.
		{"terminal", func(locator string) (card.Card, error) {
			return cmdcard.New(locator, s.reg)
		}},
		{"scan", func(locator string) (card.Card, error) {
			return scan.New(locator, s.pool, s.reg)
		}},
		// rss:<url> consumes the locator as an immediate submission; the
		// transient card's URI canonicalizes to the bare `rss:` form.
		{"rss", func(locator string) (card.Card, error) {
			return rss.NewAddCard(locator, rssHost, s.reg)
		}},
		{"rss-feed", func(locator string) (card.Card, error) {
			return rss.NewFeedCard(locator, rssHost, s.reg)
		}},
		{"pomodoro", func(locator string) (card.Card, error) {
			return pomodoro.New(locator, s.reg)
		}},
	}

	for _, entry := range register {
		err := factory.RegisterScheme(entry.scheme, entry.ctor)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Shell) installServices() error {
	services := []struct {
		name string
		fn   any
	}{
		{registry.SvcCreateCard, registry.Proc(s.deck.Create)},
		{registry.SvcNotify, registry.Proc(s.notifier.Push)},
		{registry.SvcQuitting, registry.Pred(s.quitting.Load)},
		{registry.SvcExit, registry.Pred(func() bool {
			s.quitting.Store(true)

			return true
		})},
		{registry.SvcKeystrokes, registry.Source(s.keys.Take)},
		{registry.SvcEdit, registry.Proc(s.editService)},
		{registry.SvcRunCommand, registry.Runner(s.runCommandService)},
	}

	for _, svc := range services {
		err := s.reg.Register(svc.name, svc.fn)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Shell) editService(path string) {
	editor, err := resolveEditor(s.cfg, s.env)
	if err != nil {
		s.notifier.Push(fmt.Sprintf("edit %s: %v", path, err))

		return
	}

	err = openInEditor(editor, path)
	if err != nil {
		s.notifier.Push(fmt.Sprintf("edit %s: %v", path, err))
	}
}

// runCommandService backs the run_command registrar entry. Workers spawned
// here outlive the requesting frame; the shell stops them at shutdown, and
// each one also observes the global quitting flag through its stop token.
func (s *Shell) runCommandService(command string, sink func(chunk string)) {
	worker := task.StartWorker(func(stop <-chan struct{}) {
		err := task.RunShell(command, sink, stop)
		if err != nil {
			logrus.WithError(err).WithField("command", command).Warn("run_command failed")
		}
	})

	s.workerMu.Lock()
	s.cmdWorkers = append(s.cmdWorkers, worker)
	s.workerMu.Unlock()
}

// Registry exposes the frozen service table.
func (s *Shell) Registry() *registry.Registry {
	return s.reg
}

// Deck exposes the card collection.
func (s *Shell) Deck() *deck.Deck {
	return s.deck
}

// Notifier exposes the notification queue.
func (s *Shell) Notifier() *Notifier {
	return s.notifier
}

// PushKeys appends keystrokes for the focused card to consume this frame.
func (s *Shell) PushKeys(keys string) {
	s.keys.Push(keys)
}

// Quit flips the quitting flag; the frame loop exits at the next check.
func (s *Shell) Quit() {
	s.quitting.Store(true)
}

// Quitting reports whether shutdown has been initiated.
func (s *Shell) Quitting() bool {
	return s.quitting.Load()
}

// Run drives the frame loop until quitting: pump input, tick the deck,
// present, sleep to meet the frame budget computed from the cards'
// aggregated repaint rate. sig, when non-nil, initiates shutdown.
func (s *Shell) Run(sig <-chan os.Signal) {
	if sig != nil {
		go func() {
			<-sig
			s.quitting.Store(true)
		}()
	}

	for _, uri := range s.cfg.StartCards {
		s.deck.Create(uri)
	}

	for !s.quitting.Load() {
		start := time.Now()

		s.Frame()

		budget := maxFrameBudget / time.Duration(s.deck.MaxFPS())
		s.sleepRemainder(budget - time.Since(start))
	}

	s.Shutdown()
}

// Frame runs exactly one frame. Exposed so the console and tests can step
// the loop deterministically.
func (s *Shell) Frame() {
	s.tk.BeginFrame()
	s.deck.Tick(s.tk)

	frames := frameSnapshot(s.tk)
	s.tk.EndFrame()

	notices := s.notifier.Drain()

	if s.OnFrame != nil {
		s.OnFrame(frames, notices)

		return
	}

	for _, notice := range notices {
		logrus.WithField("at", notice.At.Format(time.Kitchen)).Info(notice.Message)
	}
}

// sleepRemainder sleeps in short slices so shutdown is observed promptly
// even at 1 fps.
func (s *Shell) sleepRemainder(remaining time.Duration) {
	for remaining > 0 && !s.quitting.Load() {
		slice := remaining
		if slice > sleepSlice {
			slice = sleepSlice
		}

		time.Sleep(slice)
		remaining -= slice
	}
}

// Shutdown finalizes cards, stops command workers, and releases the pool
// and blob cache. Idempotent.
func (s *Shell) Shutdown() {
	s.quitting.Store(true)

	s.deck.Close()

	s.workerMu.Lock()
	workers := s.cmdWorkers
	s.cmdWorkers = nil
	s.workerMu.Unlock()

	for _, worker := range workers {
		worker.Stop()
	}

	s.pool.Close()

	err := s.blobs.Close()
	if err != nil {
		logrus.WithError(err).Warn("blob cache close failed")
	}
}

// frameSnapshot pulls rendered frames from toolkits that can report them.
func frameSnapshot(tk FrameToolkit) []ui.WindowFrame {
	if h, ok := tk.(*ui.Headless); ok {
		return h.Frames()
	}

	return nil
}

// keystrokeBuffer accumulates keystrokes between frames. Consumed once per
// frame by the focused card through the keystrokes service.
type keystrokeBuffer struct {
	mu  sync.Mutex
	buf string
}

func (k *keystrokeBuffer) Push(keys string) {
	if keys == "" {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.buf += keys
}

func (k *keystrokeBuffer) Take() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := k.buf
	k.buf = ""

	return out
}
