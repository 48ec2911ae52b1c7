// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/morganforge/hackchat/internal/export"
	"github.com/morganforge/hackchat/internal/index"
	"github.com/morganforge/hackchat/internal/model"
)

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// dispatch runs a slash command. The second return is true when the
// REPL should exit.
func (r *REPL) dispatch(input string) (bool, error) {
	parts := strings.SplitN(input, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.printHelp()
		return false, nil
	case "/new":
		return false, r.cmdNew()
	case "/open":
		return false, r.cmdOpen(arg)
	case "/list":
		return false, r.cmdList()
	case "/history":
		return false, r.cmdHistory()
	case "/rename":
		return false, r.cmdRename(arg)
	case "/archive":
		return false, r.cmdArchive(true)
	case "/unarchive":
		return false, r.cmdArchive(false)
	case "/delchat":
		return false, r.cmdDeleteChat()
	case "/edit":
		return false, r.cmdEdit(arg)
	case "/regen":
		return false, r.cmdRegen(arg)
	case "/delmsg":
		return false, r.cmdDeleteMessage(arg)
	case "/instructions":
		return false, r.cmdInstructions(arg)
	case "/draft":
		return false, r.session.SetDraft(arg)
	case "/search":
		return false, r.cmdSearch(arg)
	case "/export":
		return false, r.cmdExport(arg)
	case "/dismiss":
		return false, r.session.DismissError()
	case "/cancel":
		r.session.CancelMessage()
		return false, nil
	case "/status":
		return false, r.cmdStatus()
	default:
		return false, fmt.Errorf("unknown command %q, try /help", cmd)
	}
}

func (r *REPL) printHelp() {
	lines := []string{
		"/new                 start a new chat",
		"/open <n|name>       open a chat by /list number or name",
		"/list                list chats grouped by last activity",
		"/history             show the current transcript with message numbers",
		"/rename <name>       rename the current chat",
		"/archive /unarchive  toggle archive on the current chat",
		"/delchat             delete the current chat",
		"/edit <n> <text>     edit user message n and regenerate",
		"/regen [n]           regenerate the response (optionally from message n)",
		"/delmsg <n>          delete message n",
		"/instructions [text] show or set custom instructions",
		"/draft [text]        save unsent input on the chat",
		"/search <query>      full-text search across chats",
		"/export [md|json]    export the current chat",
		"/dismiss             clear the surfaced error",
		"/cancel              stop the in-flight response",
		"/status              connection, model, and chat status",
		"/quit                exit",
	}
	for _, l := range lines {
		fmt.Fprintln(r.out, infoStyle.Render("  "+l))
	}
}

// =============================================================================
// CHAT COMMANDS
// =============================================================================

func (r *REPL) cmdNew() error {
	c, err := r.store.CreateChat()
	if err != nil {
		return err
	}
	if err := r.openChat(c.ID); err != nil {
		return err
	}
	fmt.Fprintln(r.out, titleStyle.Render(c.Name))
	return nil
}

// cmdOpen accepts either a /list ordinal or a chat name.
func (r *REPL) cmdOpen(arg string) error {
	if arg == "" {
		return fmt.Errorf("usage: /open <n|name>")
	}

	chats := r.store.Chats()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(chats) {
			return fmt.Errorf("no chat %d, see /list", n)
		}
		if err := r.openChat(chats[n-1].ID); err != nil {
			return err
		}
		r.showCurrentChat()
		return nil
	}

	for _, c := range chats {
		if strings.EqualFold(c.Name, arg) {
			if err := r.openChat(c.ID); err != nil {
				return err
			}
			r.showCurrentChat()
			return nil
		}
	}
	return fmt.Errorf("no chat named %q", arg)
}

// cmdList prints chats bucketed by recency, most recent first. The
// printed ordinals match the store's active-first ordering and feed
// /open <n>.
func (r *REPL) cmdList() error {
	chats := r.store.Chats()
	if len(chats) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("no chats"))
		return nil
	}

	now := time.Now()
	byGroup := make(map[model.DateGroup][]int)
	for i, c := range chats {
		g := model.GroupForTime(c.SortKey(), now)
		byGroup[g] = append(byGroup[g], i)
	}

	for _, g := range model.DateGroups {
		ordinals := byGroup[g]
		if len(ordinals) == 0 {
			continue
		}
		fmt.Fprintln(r.out, groupStyle.Render(string(g)))
		for _, i := range ordinals {
			c := chats[i]
			marker := " "
			if c.ID == r.session.ChatID() {
				marker = "*"
			}
			name := c.Name
			if c.Archived {
				name += dimStyle.Render(" (archived)")
			}
			fmt.Fprintf(r.out, "%s %2d. %s\n", marker, i+1, name)
		}
	}
	return nil
}

func (r *REPL) cmdRename(arg string) error {
	if arg == "" {
		return fmt.Errorf("usage: /rename <name>")
	}
	return r.store.RenameChat(r.session.ChatID(), arg)
}

func (r *REPL) cmdArchive(archived bool) error {
	return r.store.SetArchived(r.session.ChatID(), archived)
}

func (r *REPL) cmdDeleteChat() error {
	id := r.session.ChatID()
	confirm, err := r.input.Read(warningStyle.Render("delete this chat? [y/N] "))
	if err != nil || !strings.EqualFold(strings.TrimSpace(confirm), "y") {
		fmt.Fprintln(r.out, infoStyle.Render("not deleted"))
		return nil
	}
	if err := r.store.DeleteChat(id); err != nil {
		return err
	}
	if r.idx != nil {
		_ = r.idx.RemoveChat(id)
	}
	return r.openStartupChat()
}

// =============================================================================
// MESSAGE COMMANDS
// =============================================================================

// cmdHistory numbers messages for /edit, /regen, and /delmsg.
func (r *REPL) cmdHistory() error {
	c, err := r.store.Chat(r.session.ChatID())
	if err != nil {
		return err
	}
	msgs := c.SortedMessages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("no messages"))
		return nil
	}
	for i, m := range msgs {
		label := m.Role.DisplayName()
		if m.Role == model.RoleAssistant {
			label = assistantLabelStyle.Render(label)
		} else {
			label = promptStyle.Render(label)
		}
		fmt.Fprintf(r.out, "%2d. %s %s %s\n", i+1, label, m.Preview(80), dimStyle.Render(m.Timestamp.Format("Jan 2 15:04")))
	}
	return nil
}

// messageByOrdinal resolves a 1-based /history number.
func (r *REPL) messageByOrdinal(arg string) (*model.Message, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("expected a message number, see /history")
	}
	c, err := r.store.Chat(r.session.ChatID())
	if err != nil {
		return nil, err
	}
	msgs := c.SortedMessages()
	if n < 1 || n > len(msgs) {
		return nil, fmt.Errorf("no message %d, see /history", n)
	}
	return msgs[n-1], nil
}

func (r *REPL) cmdEdit(arg string) error {
	parts := strings.SplitN(arg, " ", 2)
	if len(parts) < 2 {
		return fmt.Errorf("usage: /edit <n> <new text>")
	}
	msg, err := r.messageByOrdinal(parts[0])
	if err != nil {
		return err
	}
	if err := r.session.EditMessage(msg.ID, parts[1]); err != nil {
		return err
	}
	r.waitForResponse()
	return nil
}

func (r *REPL) cmdRegen(arg string) error {
	var msg *model.Message
	if arg == "" {
		c, err := r.store.Chat(r.session.ChatID())
		if err != nil {
			return err
		}
		msg = c.LastMessage()
		if msg == nil {
			return fmt.Errorf("nothing to regenerate")
		}
	} else {
		var err error
		msg, err = r.messageByOrdinal(arg)
		if err != nil {
			return err
		}
	}
	if err := r.session.RegenerateResponse(msg.ID); err != nil {
		return err
	}
	r.waitForResponse()
	return nil
}

func (r *REPL) cmdDeleteMessage(arg string) error {
	if arg == "" {
		return fmt.Errorf("usage: /delmsg <n>")
	}
	msg, err := r.messageByOrdinal(arg)
	if err != nil {
		return err
	}
	return r.session.DeleteMessage(msg.ID)
}

func (r *REPL) cmdInstructions(arg string) error {
	if arg == "" {
		c, err := r.store.Chat(r.session.ChatID())
		if err != nil {
			return err
		}
		if c.TrimmedInstructions() == "" {
			fmt.Fprintln(r.out, infoStyle.Render("no custom instructions"))
		} else {
			fmt.Fprintln(r.out, c.CustomInstructions)
		}
		return nil
	}
	return r.store.SetInstructions(r.session.ChatID(), arg)
}

// =============================================================================
// SEARCH AND EXPORT
// =============================================================================

func (r *REPL) cmdSearch(arg string) error {
	if arg == "" {
		return fmt.Errorf("usage: /search <query>")
	}
	if r.idx == nil {
		return fmt.Errorf("search index unavailable")
	}
	results, err := r.idx.Search(arg, index.DefaultSearchOptions())
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("no matches"))
		return nil
	}
	for _, res := range results {
		fmt.Fprintf(r.out, "%s %s %s\n",
			titleStyle.Render(res.ChatName),
			dimStyle.Render("["+res.Role+"]"),
			res.Snippet)
	}
	return nil
}

func (r *REPL) cmdExport(arg string) error {
	c, err := r.store.Chat(r.session.ChatID())
	if err != nil {
		return err
	}

	opts := export.DefaultOptions()
	opts.OutputDir = r.cfg.Storage.ExportDir

	var exporter export.Exporter
	switch strings.ToLower(arg) {
	case "", "md", "markdown":
		exporter = export.NewMarkdownExporter(opts)
	case "json":
		exporter = export.NewJSONExporter(opts)
	default:
		return fmt.Errorf("unknown export format %q (md, json)", arg)
	}

	path, err := export.ExportToFile(c, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, infoStyle.Render("exported to "+path))
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

func (r *REPL) cmdStatus() error {
	c, err := r.store.Chat(r.session.ChatID())
	if err != nil {
		return err
	}

	conn := "online"
	if r.monitor != nil && !r.monitor.IsConnected() {
		conn = errorStyle.Render("offline")
	}
	fmt.Fprintf(r.out, "endpoint:   %s\n", r.cfg.Endpoint.URL)
	fmt.Fprintf(r.out, "model:      %s\n", modelLabel(r.cfg.Endpoint.Model))
	fmt.Fprintf(r.out, "connection: %s\n", conn)
	fmt.Fprintf(r.out, "chat:       %s (%d messages)\n", c.Name, len(c.SortedMessages()))
	if c.IsResponding {
		fmt.Fprintln(r.out, warningStyle.Render("a response is streaming"))
	}
	if c.LastError != "" {
		fmt.Fprintln(r.out, errorStyle.Render("error: ")+c.LastError)
	}
	if _, err := os.Stat(r.cfg.Storage.DataDir); err == nil {
		fmt.Fprintf(r.out, "data dir:   %s\n", r.cfg.Storage.DataDir)
	}
	return nil
}

func modelLabel(m string) string {
	if m == "" {
		return "(endpoint default)"
	}
	return m
}
