package shell

import (
	"errors"
	"os/exec"

	"github.com/sirupsen/logrus"

	"rouen/internal/envx"
)

// ErrNoEditorFound reports that no usable editor could be resolved.
var ErrNoEditorFound = errors.New("no editor found")

// resolveEditor picks the editor binary for the edit service.
// Priority: config.Editor -> $EDITOR -> vi -> nano -> error.
func resolveEditor(cfg Config, env map[string]string) (string, error) {
	if cfg.Editor != "" {
		_, lookErr := exec.LookPath(cfg.Editor)
		if lookErr == nil {
			return cfg.Editor, nil
		}
	}

	if editor := envx.Get(env, "EDITOR"); editor != "" {
		_, lookErr := exec.LookPath(editor)
		if lookErr == nil {
			return editor, nil
		}
	}

	_, viErr := exec.LookPath("vi")
	if viErr == nil {
		return "vi", nil
	}

	_, nanoErr := exec.LookPath("nano")
	if nanoErr == nil {
		return "nano", nil
	}

	return "", ErrNoEditorFound
}

// openInEditor spawns the editor detached from the render thread. The
// editor owns its own window or terminal; the shell does not wait.
func openInEditor(editor, path string) error {
	cmd := exec.Command(editor, path)

	err := cmd.Start()
	if err != nil {
		return err
	}

	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil {
			logrus.WithError(waitErr).WithField("path", path).Warn("editor exited with error")
		}
	}()

	return nil
}
