package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/peterh/liner"

	"rouen/internal/registry"
	"rouen/internal/shell"
	"rouen/internal/ui"
)

var (
	noticeColor = color.New(color.FgYellow)
	titleColor  = color.New(color.FgCyan, color.Bold)
	errColor    = color.New(color.FgRed)
)

// console drives the deck interactively while the frame loop runs in the
// background. Frames and notices arrive through the shell's OnFrame hook;
// the console shows them on demand so output never fights the prompt.
type console struct {
	sh *shell.Shell
	tk *ui.Headless

	mu      sync.Mutex
	frames  []ui.WindowFrame
	notices []shell.Notice
}

func runConsole(sh *shell.Shell, tk *ui.Headless, sig chan os.Signal) int {
	con := &console{sh: sh, tk: tk}

	sh.OnFrame = func(frames []ui.WindowFrame, notices []shell.Notice) {
		con.mu.Lock()
		defer con.mu.Unlock()

		con.frames = frames
		con.notices = append(con.notices, notices...)

		if len(con.notices) > 50 {
			con.notices = con.notices[len(con.notices)-50:]
		}
	}

	loopDone := make(chan struct{})

	go func() {
		defer close(loopDone)

		sh.Run(sig)
	}()

	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)

	fmt.Println("rouen console — try: open dir:$HOME | ls | show 0 | quit")

	for !sh.Quitting() {
		input, err := line.Prompt("rouen> ")
		if err != nil {
			// Ctrl+C / Ctrl+D end the session like `quit`.
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				sh.Quit()

				break
			}

			errColor.Fprintln(os.Stderr, "error:", err)

			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if !con.dispatch(input) {
			break
		}
	}

	sh.Quit()
	<-loopDone

	return 0
}

// dispatch handles one console command; false ends the session.
func (con *console) dispatch(input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "exit":
		return false
	case "open":
		con.sh.Registry().Proc(registry.SvcCreateCard, arg)
	case "ls":
		con.listCards()
	case "show":
		con.showCard(arg)
	case "focus":
		con.withCardTitle(arg, con.tk.Focus)
	case "close":
		con.withCardTitle(arg, con.tk.RequestClose)
	case "keys":
		con.sh.PushKeys(arg + "\n")
	case "run":
		con.sh.Registry().Runner(registry.SvcRunCommand, arg, func(chunk string) {
			fmt.Println(chunk)
		})
	case "notices":
		con.printNotices()
	case "help":
		fmt.Println("commands: open <uri> | ls | show <n> | focus <n> | close <n> | keys <text> | run <cmd> | notices | quit")
	default:
		errColor.Fprintln(os.Stderr, "error: unknown command:", cmd)
	}

	return true
}

func (con *console) listCards() {
	for i, c := range con.sh.Deck().Cards() {
		fmt.Printf("%2d  %-24s %s\n", i, c.URI(), c.Title())
	}
}

func (con *console) showCard(arg string) {
	title, ok := con.cardTitle(arg)
	if !ok {
		return
	}

	con.mu.Lock()
	frames := con.frames
	con.mu.Unlock()

	for _, frame := range frames {
		if frame.Title != title {
			continue
		}

		titleColor.Println("── " + frame.Title)

		for _, l := range frame.Lines {
			fmt.Println(l)
		}

		return
	}

	errColor.Fprintln(os.Stderr, "error: no frame recorded for", title)
}

func (con *console) printNotices() {
	con.mu.Lock()
	notices := con.notices
	con.notices = nil
	con.mu.Unlock()

	for _, n := range notices {
		noticeColor.Printf("%s  %s\n", humanize.Time(n.At), n.Message)
	}
}

func (con *console) withCardTitle(arg string, fn func(title string)) {
	title, ok := con.cardTitle(arg)
	if ok {
		fn(title)
	}
}

func (con *console) cardTitle(arg string) (string, bool) {
	idx, err := strconv.Atoi(arg)
	if err != nil {
		errColor.Fprintln(os.Stderr, "error: expected a card index (see ls)")

		return "", false
	}

	cards := con.sh.Deck().Cards()
	if idx < 0 || idx >= len(cards) {
		errColor.Fprintln(os.Stderr, "error: no card", idx)

		return "", false
	}

	return cards[idx].Title(), true
}
