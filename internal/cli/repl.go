// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/morganforge/hackchat/internal/chat"
	"github.com/morganforge/hackchat/internal/completions"
	"github.com/morganforge/hackchat/internal/config"
	"github.com/morganforge/hackchat/internal/index"
	"github.com/morganforge/hackchat/internal/model"
	"github.com/morganforge/hackchat/internal/netcheck"
	"github.com/morganforge/hackchat/internal/store"
)

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive shell over one store and one endpoint.
type REPL struct {
	cfg     *config.Config
	store   *store.Store
	idx     *index.MessageIndex
	client  *completions.Client
	monitor *netcheck.Monitor
	input   *Input
	out     io.Writer

	session *chat.Session

	// printer state for streaming output
	printMu   sync.Mutex
	printMsg  string
	printRune int
}

// New wires a REPL from its parts. idx and monitor may be nil.
func New(cfg *config.Config, st *store.Store, idx *index.MessageIndex, client *completions.Client, monitor *netcheck.Monitor) *REPL {
	r := &REPL{
		cfg:     cfg,
		store:   st,
		idx:     idx,
		client:  client,
		monitor: monitor,
		out:     os.Stdout,
	}

	st.Subscribe(r.onStoreChange)

	if monitor != nil {
		monitor.OnChange(func(connected bool) {
			if connected {
				fmt.Fprintln(r.out, infoStyle.Render("[back online]"))
			} else {
				fmt.Fprintln(r.out, warningStyle.Render("[connection lost]"))
			}
		})
	}

	return r
}

// onStoreChange streams assistant output as it lands in the store and
// keeps the search index current when the session is idle.
func (r *REPL) onStoreChange(chatID string) {
	c, err := r.store.Chat(chatID)
	if err != nil {
		// Chat deleted; the delete handler prunes the index.
		return
	}

	// Read the responding flag off the chat itself: callbacks run on
	// the mutating goroutine, which may be inside the session.
	if r.session != nil && chatID == r.session.ChatID() && c.IsResponding {
		r.printStreamDelta(c)
		return
	}

	if r.idx != nil {
		_ = r.idx.IndexChat(c)
	}
}

// printStreamDelta prints the unseen tail of the in-flight assistant
// message.
func (r *REPL) printStreamDelta(c *model.Chat) {
	last := c.LastMessage()
	if last == nil || last.Role != model.RoleAssistant {
		return
	}

	r.printMu.Lock()
	defer r.printMu.Unlock()

	if last.ID != r.printMsg {
		r.printMsg = last.ID
		r.printRune = 0
		fmt.Fprintf(r.out, "\n%s ", assistantLabelStyle.Render("Assistant:"))
	}
	runes := []rune(last.Content)
	if len(runes) > r.printRune {
		fmt.Fprint(r.out, string(runes[r.printRune:]))
		r.printRune = len(runes)
	}
}

// resetPrinter forgets streaming state between exchanges.
func (r *REPL) resetPrinter() {
	r.printMu.Lock()
	r.printMsg = ""
	r.printRune = 0
	r.printMu.Unlock()
}

// =============================================================================
// RUN LOOP
// =============================================================================

// Run starts the interactive loop and blocks until the user quits.
func (r *REPL) Run(ctx context.Context) error {
	r.input = NewInput()
	defer r.input.Close()

	// Ctrl+C during a response cancels it; at the prompt it exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if r.session != nil && r.session.IsResponding() {
				r.session.CancelMessage()
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[cancelled]"))
			}
		}
	}()

	if err := r.openStartupChat(); err != nil {
		return err
	}

	fmt.Fprintln(r.out, welcomeStyle.Render("hackchat")+infoStyle.Render("  /help for commands, /quit to exit"))
	r.showCurrentChat()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		input, err := r.input.Read(promptStyle.Render("> "))
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.dispatch(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.send(input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
		}
	}
}

// openStartupChat opens the most recently active chat, or creates one.
func (r *REPL) openStartupChat() error {
	for _, c := range r.store.Chats() {
		if !c.Archived {
			return r.openChat(c.ID)
		}
	}
	c, err := r.store.CreateChat()
	if err != nil {
		return err
	}
	return r.openChat(c.ID)
}

// openChat binds the session to a chat.
func (r *REPL) openChat(chatID string) error {
	sess, err := chat.NewSession(r.store, r.client, r.monitor, chatID)
	if err != nil {
		return err
	}
	r.session = sess
	r.resetPrinter()
	return nil
}

// send submits user text and blocks until the response settles.
func (r *REPL) send(text string) error {
	if err := r.session.SendMessage(text); err != nil {
		return err
	}
	r.waitForResponse()
	return nil
}

// waitForResponse blocks until streaming ends, then reports any
// surfaced error.
func (r *REPL) waitForResponse() {
	for r.session.IsResponding() {
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprintln(r.out)
	r.resetPrinter()

	if c, err := r.store.Chat(r.session.ChatID()); err == nil && c.LastError != "" {
		fmt.Fprintln(os.Stderr, errorStyle.Render("[error]")+" "+c.LastError+dimStyle.Render("  (/dismiss to clear)"))
	}
}

// showCurrentChat prints the active chat header and its transcript.
func (r *REPL) showCurrentChat() {
	c, err := r.store.Chat(r.session.ChatID())
	if err != nil {
		return
	}
	fmt.Fprintln(r.out, titleStyle.Render(c.Name))
	if c.Draft != "" {
		fmt.Fprintln(r.out, dimStyle.Render("draft: "+c.Draft))
	}
	if c.LastError != "" {
		fmt.Fprintln(r.out, errorStyle.Render("[error]")+" "+c.LastError)
	}
	for _, m := range c.SortedMessages() {
		label := m.Role.DisplayName() + ":"
		if m.Role == model.RoleAssistant {
			label = assistantLabelStyle.Render(label)
		} else {
			label = promptStyle.Render(label)
		}
		fmt.Fprintf(r.out, "%s %s\n", label, m.Content)
	}
}

