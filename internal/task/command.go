package task

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ExitSentinelPrefix starts the final chunk the runner appends after the
// process exits. Callers match on it to flip their running state.
const ExitSentinelPrefix = "[process exited with status "

// ExitSentinel formats the completion chunk for an exit code.
func ExitSentinel(code int) string {
	return fmt.Sprintf("%s%d]", ExitSentinelPrefix, code)
}

const termGrace = 2 * time.Second

// RunShell executes command through `sh -c` with stderr merged into stdout,
// streaming output line by line to sink. After EOF it appends the exit
// sentinel so the caller can distinguish "still running" from "done".
//
// The child runs in its own process group. When stop closes, the whole
// group receives SIGTERM, then SIGKILL after a short grace period.
// RunShell blocks until the process is reaped; callers wanting it in the
// background wrap it in StartWorker.
func RunShell(command string, sink func(chunk string), stop <-chan struct{}) error {
	return RunShellPID(command, sink, nil, stop)
}

// RunShellPID is RunShell with a started hook that receives the child's
// pid (also its process group id) right after spawn.
func RunShellPID(command string, sink func(chunk string), started func(pid int), stop <-chan struct{}) error {
	if command == "" {
		return errors.New("run shell: command is empty")
	}

	if sink == nil {
		return errors.New("run shell: sink is nil")
	}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("run shell: pipe: %w", err)
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = writeEnd
	cmd.Stderr = writeEnd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	if err != nil {
		_ = readEnd.Close()
		_ = writeEnd.Close()

		return fmt.Errorf("run shell: start: %w", err)
	}

	// The parent's copy of the write end must close so the reader sees EOF
	// when the child exits.
	_ = writeEnd.Close()

	pgid := cmd.Process.Pid

	if started != nil {
		started(pgid)
	}

	procDone := make(chan struct{})

	go func() {
		select {
		case <-stop:
		case <-procDone:
			return
		}

		_ = unix.Kill(-pgid, unix.SIGTERM)

		select {
		case <-time.After(termGrace):
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-procDone:
		}
	}()

	scanner := bufio.NewScanner(readEnd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		sink(scanner.Text())
	}

	scanErr := scanner.Err()

	_ = readEnd.Close()

	waitErr := cmd.Wait()
	close(procDone)

	code := exitCode(waitErr)

	sink(ExitSentinel(code))

	if scanErr != nil {
		logrus.WithError(scanErr).Warn("command output truncated")
	}

	if waitErr != nil && code == -1 {
		return fmt.Errorf("run shell: wait: %w", waitErr)
	}

	return nil
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
