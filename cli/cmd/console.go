package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"hearth/cli/style"
)

// Close codes the panel uses when it cannot reach or authenticate with the
// node.
const (
	closeAuthFailed      = 4401
	closeNodeUnavailable = 4503
)

// consoleScrollback caps the lines kept in the viewport.
const consoleScrollback = 2000

var consolePlain bool

var consoleCmd = &cobra.Command{
	Use:   "console <server-id>",
	Short: "Attach to a server's live console",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsole,
}

func init() {
	consoleCmd.Flags().BoolVar(&consolePlain, "plain", false, "print frames line by line and read commands from stdin")
	rootCmd.AddCommand(consoleCmd)
}

type frame struct {
	Event string   `json:"event"`
	Args  []string `json:"args,omitempty"`
}

func sendFrame(conn *websocket.Conn, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// pump reads frames until the connection ends, then sends the terminal
// error and closes the channel.
func pump(conn *websocket.Conn) (<-chan frame, <-chan error) {
	frames := make(chan frame, 64)
	done := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			var f frame
			if json.Unmarshal(msg, &f) != nil {
				continue
			}
			frames <- f
		}
	}()
	return frames, done
}

func runConsole(cmd *cobra.Command, args []string) error {
	conn, err := client.DialConsole(args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sendFrame(conn, frame{Event: "send logs"}); err != nil {
		return err
	}
	frames, done := pump(conn)

	if consolePlain {
		return plainConsole(conn, frames, done)
	}

	m := newConsoleModel(args[0], conn, frames, done)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if fm, ok := final.(consoleModel); ok && fm.err != nil {
		return consoleClosed(fm.err)
	}
	return nil
}

func plainConsole(conn *websocket.Conn, frames <-chan frame, done <-chan error) error {
	var mu sync.Mutex // stdin and the interrupt both write
	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			mu.Lock()
			err := sendFrame(conn, frame{Event: "send command", Args: []string{in.Text()}})
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return consoleClosed(<-done)
			}
			for _, line := range renderFrame(f) {
				fmt.Println(line)
			}
		case <-interrupt:
			mu.Lock()
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			mu.Unlock()
			return nil
		}
	}
}

// renderFrame turns a daemon frame into styled output lines. Frames with
// nothing to show render to nil.
func renderFrame(f frame) []string {
	var st lipgloss.Style
	switch f.Event {
	case "console output", "install output":
		st = style.ConsoleLine
	case "daemon message":
		st = style.ConsoleDaemon
	case "daemon error":
		st = style.ConsoleError
	case "status":
		if len(f.Args) == 0 {
			return nil
		}
		return []string{style.DimText.Render("-- server is " + f.Args[0])}
	default:
		return nil
	}
	out := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		for _, line := range strings.Split(strings.TrimRight(arg, "\r\n"), "\n") {
			out = append(out, st.Render(line))
		}
	}
	return out
}

func consoleClosed(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return fmt.Errorf("console: %w", err)
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		fmt.Println(style.DimText.Render("--- console closed ---"))
		return nil
	case closeAuthFailed:
		return fmt.Errorf("the node rejected the panel's credentials: %s", ce.Text)
	case closeNodeUnavailable:
		return fmt.Errorf("the node is unavailable: %s", ce.Text)
	default:
		return fmt.Errorf("console closed (%d): %s", ce.Code, ce.Text)
	}
}

// --- Messages ---

type consoleFrame struct{ f frame }

type consoleEnded struct{ err error }

// --- Model ---

type consoleModel struct {
	serverID string
	conn     *websocket.Conn
	frames   <-chan frame
	done     <-chan error

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	ready    bool
	ended    bool
	err      error
}

func newConsoleModel(serverID string, conn *websocket.Conn, frames <-chan frame, done <-chan error) consoleModel {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "command"
	in.Focus()
	return consoleModel{
		serverID: serverID,
		conn:     conn,
		frames:   frames,
		done:     done,
		input:    in,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.next())
}

// next waits for one frame, or for the stream to end.
func (m consoleModel) next() tea.Cmd {
	return func() tea.Msg {
		f, ok := <-m.frames
		if !ok {
			return consoleEnded{err: <-m.done}
		}
		return consoleFrame{f: f}
	}
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" || m.ended {
				return m, nil
			}
			if err := sendFrame(m.conn, frame{Event: "send command", Args: []string{line}}); err != nil {
				m.err = err
				return m, tea.Quit
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		headerHeight, footerHeight := 2, 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.ready = true
		return m, nil

	case consoleFrame:
		m.appendLines(renderFrame(msg.f)...)
		return m, m.next()

	case consoleEnded:
		m.ended = true
		var ce *websocket.CloseError
		if errors.As(msg.err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
			m.appendLines(style.DimText.Render("--- console closed ---"))
			return m, nil
		}
		m.err = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) appendLines(lines ...string) {
	if len(lines) == 0 {
		return
	}
	m.lines = append(m.lines, lines...)
	if over := len(m.lines) - consoleScrollback; over > 0 {
		m.lines = m.lines[over:]
	}
	if m.ready {
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

func (m consoleModel) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		style.Banner.Render("CONSOLE"),
		"  ",
		style.Bold.Render(m.serverID),
		"  ",
		style.DimText.Render("enter to send • pgup/pgdn to scroll • esc to detach"),
	)

	if !m.ready {
		return header + "\n\n" + style.DimText.Render("Connecting...")
	}

	return header + "\n" + m.viewport.View() + "\n\n" + m.input.View()
}
