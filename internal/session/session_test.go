package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/steveyegge/muxsh/internal/command"
	"github.com/steveyegge/muxsh/internal/config"
	"github.com/steveyegge/muxsh/internal/escape"
	"github.com/steveyegge/muxsh/internal/eventbus"
)

const testDir = "/tmp/muxsh-test"

func newTestSession(t *testing.T, opts ...Option) (*Session, *Double) {
	t.Helper()
	d := NewDouble("test")
	s, err := New(d, d, d, append([]Option{WithTransportDir(testDir)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, d
}

// startReady activates the surface, starts the session and delivers the
// first output so the session is ready.
func startReady(t *testing.T, s *Session, d *Double) {
	t.Helper()
	d.SetActive(true)
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	d.Feed("$ ")
	d.Tick()
	if !s.Ready() {
		t.Fatal("session not ready after first output")
	}
}

func wantExit(t *testing.T, cmd *command.Command, want int) {
	t.Helper()
	code, ok := cmd.ExitCode()
	if !ok {
		t.Fatalf("command %s has not completed", cmd)
	}
	if code != want {
		t.Errorf("command %d exit code = %d, want %d", cmd.ID(), code, want)
	}
}

func wantRunning(t *testing.T, cmd *command.Command) {
	t.Helper()
	if code, ok := cmd.ExitCode(); ok {
		t.Fatalf("command %d completed with %d, want still running", cmd.ID(), code)
	}
}

func TestNew_Defaults(t *testing.T) {
	s, _ := newTestSession(t)

	if s.Identity() != "muxsh_test" {
		t.Errorf("Identity() = %q, want %q", s.Identity(), "muxsh_test")
	}
	if s.TransportPath() != testDir+"/muxsh_test.log" {
		t.Errorf("TransportPath() = %q", s.TransportPath())
	}
	if s.State() != Unstarted {
		t.Errorf("State() = %v, want unstarted", s.State())
	}
	if !s.RestoreOnClose() || s.ReadInterval() != 100*time.Millisecond || s.ReadLength() != 4096 {
		t.Errorf("defaults = %v %v %d", s.RestoreOnClose(), s.ReadInterval(), s.ReadLength())
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	d := NewDouble("test")

	cfg := config.Default()
	cfg.ReadLength = 100
	if _, err := New(d, d, d, WithConfig(cfg)); !errors.Is(err, config.ErrReadLengthTooSmall) {
		t.Errorf("short read length err = %v", err)
	}

	cfg = config.Default()
	cfg.ReadIntervalMs = 0
	if _, err := New(d, d, d, WithConfig(cfg)); !errors.Is(err, config.ErrInvalidReadInterval) {
		t.Errorf("zero interval err = %v", err)
	}

	cfg = config.Default()
	cfg.MaxBufferBytes = -1
	if _, err := New(d, d, d, WithConfig(cfg)); !errors.Is(err, config.ErrNegativeBufferCap) {
		t.Errorf("negative cap err = %v", err)
	}
}

func TestSetters_RejectWithoutClamping(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.SetReadLength(1023); !errors.Is(err, config.ErrReadLengthTooSmall) {
		t.Errorf("SetReadLength(1023) err = %v", err)
	}
	if s.ReadLength() != 4096 {
		t.Errorf("rejected SetReadLength changed value to %d", s.ReadLength())
	}
	if err := s.SetReadLength(1024); err != nil || s.ReadLength() != 1024 {
		t.Errorf("SetReadLength(1024) = %v, value %d", err, s.ReadLength())
	}

	if err := s.SetReadInterval(-time.Second); !errors.Is(err, config.ErrInvalidReadInterval) {
		t.Errorf("SetReadInterval(-1s) err = %v", err)
	}
	if err := s.SetReadInterval(20 * time.Millisecond); err != nil || s.ReadInterval() != 20*time.Millisecond {
		t.Errorf("SetReadInterval(20ms) = %v, value %v", err, s.ReadInterval())
	}

	s.SetRestoreOnClose(false)
	if s.RestoreOnClose() {
		t.Error("SetRestoreOnClose(false) ignored")
	}
}

func TestRestart_WaitsForActivation(t *testing.T) {
	s, d := newTestSession(t)

	for i := 0; i < 3; i++ {
		if err := s.Restart(); err != nil {
			t.Fatalf("Restart: %v", err)
		}
	}
	if s.State() != Starting {
		t.Errorf("State() = %v, want starting", s.State())
	}
	if n := d.Activations(); n != 1 {
		t.Errorf("pending activations = %d, want 1", n)
	}
	if len(d.Spawned()) != 0 {
		t.Error("spawned before the surface became active")
	}

	d.SetActive(true)

	if s.State() != Active {
		t.Errorf("State() after activation = %v, want active", s.State())
	}
	if n := d.Activations(); n != 0 {
		t.Errorf("pending activations after start = %d, want 0", n)
	}
	if got := d.Spawned(); len(got) != 1 || got[0] != "spawn muxsh_test log="+testDir+"/muxsh_test.log window=" {
		t.Errorf("Spawned() = %q", got)
	}
	if !d.HasFifo(s.TransportPath()) {
		t.Error("fifo not created")
	}
	if !d.Locked(LockPath(testDir, "muxsh_test")) {
		t.Error("identity lock not held")
	}
	if d.ExitHooks() != 1 || d.OpenPipes() != 1 || d.Scheduled() != 1 {
		t.Errorf("hooks=%d pipes=%d scheduled=%d, want 1 each", d.ExitHooks(), d.OpenPipes(), d.Scheduled())
	}
}

func TestRestart_IdempotentWhenHealthy(t *testing.T) {
	s, d := newTestSession(t)
	d.SetActive(true)
	d.SetWindow("4242")

	for i := 0; i < 3; i++ {
		if err := s.Restart(); err != nil {
			t.Fatalf("Restart #%d: %v", i, err)
		}
	}

	if n := len(d.Spawned()); n != 1 {
		t.Errorf("spawned %d times, want 1", n)
	}
	if !strings.HasSuffix(d.Spawned()[0], "window=4242") {
		t.Errorf("spawn did not receive the window: %q", d.Spawned()[0])
	}
	if d.ExitHooks() != 1 || d.OpenPipes() != 1 || d.Scheduled() != 1 {
		t.Errorf("hooks=%d pipes=%d scheduled=%d, want 1 each", d.ExitHooks(), d.OpenPipes(), d.Scheduled())
	}
}

func TestRestart_SpawnFailure(t *testing.T) {
	s, d := newTestSession(t)
	d.SetActive(true)
	d.SpawnErr = errors.New("no screen binary")

	err := s.Restart()
	if err == nil || !strings.Contains(err.Error(), "no screen binary") {
		t.Fatalf("Restart err = %v, want spawn failure", err)
	}
	if s.State() == Active {
		t.Error("session active after failed spawn")
	}

	d.SpawnErr = nil
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart after fixing spawn: %v", err)
	}
	if s.State() != Active {
		t.Errorf("State() = %v, want active", s.State())
	}
}

func TestRestart_IdentityInUse(t *testing.T) {
	d := NewDouble("shared")
	d.SetActive(true)

	first, err := New(d, d, d, WithTransportDir(testDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(d, d, d, WithTransportDir(testDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := first.Restart(); err != nil {
		t.Fatalf("first Restart: %v", err)
	}
	if err := second.Restart(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Restart err = %v, want ErrLocked", err)
	}
	if n := len(d.Spawned()); n != 1 {
		t.Errorf("spawned %d times, want 1", n)
	}
}

func TestReadiness_RequiresOutput(t *testing.T) {
	s, d := newTestSession(t)
	d.SetActive(true)
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	// Writer attached, nothing written: would-block is not an error and
	// not output.
	for i := 0; i < 3; i++ {
		d.Tick()
	}
	if s.Ready() {
		t.Fatal("ready without any output")
	}
	if d.Scheduled() != 1 {
		t.Errorf("poll not re-armed: scheduled = %d", d.Scheduled())
	}

	d.Feed("Welcome\r\n$ ")
	d.Tick()

	if !s.Ready() {
		t.Fatal("not ready after output")
	}
	if d.ReadyCalls() != 1 {
		t.Errorf("ready hook ran %d times, want 1", d.ReadyCalls())
	}
	if n := len(d.Events(eventbus.EventReady)); n != 1 {
		t.Errorf("ready events = %d, want 1", n)
	}

	d.Feed("more")
	d.Tick()
	if d.ReadyCalls() != 1 || len(d.Events(eventbus.EventReady)) != 1 {
		t.Error("ready transition repeated on later output")
	}
}

func TestSend_QueuedUntilReadyFIFO(t *testing.T) {
	s, d := newTestSession(t)
	d.SetActive(true)
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	inputs := []string{"one\n", "two $HOME\n", "it's three\n", "four\n"}
	for _, in := range inputs {
		s.Send(in)
	}
	if s.Queued() != len(inputs) {
		t.Fatalf("Queued() = %d, want %d", s.Queued(), len(inputs))
	}
	if len(d.Stuffed()) != 0 {
		t.Fatal("input stuffed before ready")
	}

	d.Feed("$ ")
	d.Tick()

	got := d.Stuffed()
	if len(got) != len(inputs) {
		t.Fatalf("stuffed %d strings, want %d", len(got), len(inputs))
	}
	for i, in := range inputs {
		if got[i] != escape.Send(in) {
			t.Errorf("stuffed[%d] = %q, want %q", i, got[i], escape.Send(in))
		}
	}
	if s.Queued() != 0 {
		t.Errorf("Queued() after ready = %d", s.Queued())
	}

	sent := d.Events(eventbus.EventStringSent)
	if len(sent) != len(inputs) {
		t.Fatalf("string-sent events = %d, want %d", len(sent), len(inputs))
	}
	for i, in := range inputs {
		if sent[i].Data != escape.Send(in) {
			t.Errorf("string-sent[%d] payload = %v, want %q", i, sent[i].Data, escape.Send(in))
		}
		if sent[i].Session != "muxsh_test" {
			t.Errorf("string-sent[%d] session = %q", i, sent[i].Session)
		}
	}
}

func TestSend_FailureIsNotRaised(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)
	d.StuffErr = errors.New("No screen session found.")

	s.Send("echo lost\n")

	if n := len(d.Events(eventbus.EventStringSent)); n != 0 {
		t.Errorf("string-sent emitted for a failed delivery")
	}
}

func TestDispatch_WrapsAndRegisters(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	cmd := s.Dispatch("  echo hi \n", false, nil)

	if cmd.ID() != 0 || cmd.Text() != "echo hi" {
		t.Errorf("command = %s, want id 0 text %q", cmd, "echo hi")
	}
	want := escape.Send(`(echo hi); printf "\nID:0;ExitCode:$?\n"` + "\n")
	if got := d.Stuffed(); len(got) != 1 || got[0] != want {
		t.Errorf("Stuffed() = %q, want [%q]", got, want)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		text       string
		background bool
		want       string
	}{
		{"ls", false, `(ls); printf "LIT"`},
		{"sleep 5", true, `((sleep 5); printf "LIT") &`},
		{"a; b", false, `(a; b); printf "LIT"`},
	}
	for _, tt := range tests {
		if got := Wrap(tt.text, "LIT", tt.background); got != tt.want {
			t.Errorf("Wrap(%q, %v) = %q, want %q", tt.text, tt.background, got, tt.want)
		}
	}
}

func TestDispatchValue_Coerces(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	cmd := s.DispatchValue(42, false, nil)
	if cmd.Text() != "42" {
		t.Errorf("Text() = %q, want %q", cmd.Text(), "42")
	}
	cmd = s.DispatchValue(fmt.Stringer(time.Second), false, nil)
	if cmd.Text() != "1s" {
		t.Errorf("Text() = %q, want %q", cmd.Text(), "1s")
	}
}

func TestDetector_EchoHi(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	var ended []*command.Command
	cmd := s.Dispatch("echo hi", false, func(c *command.Command) { ended = append(ended, c) })

	d.Feed("(echo hi); printf \"\\nID:0;ExitCode:$?\\n\"\r\nhi\r\n" + SentinelOutput(0, 0) + "$ ")
	d.Tick()

	wantExit(t, cmd, 0)
	if len(ended) != 1 || ended[0] != cmd {
		t.Errorf("callback calls = %d, want 1 with the command", len(ended))
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
	events := d.Events(eventbus.EventCommandEnded)
	if len(events) != 1 || events[0].Data != cmd {
		t.Errorf("command-ended events = %+v", events)
	}
}

func TestDetector_SplitAtEveryOffset(t *testing.T) {
	marker := SentinelOutput(1, 7)

	for cut := 0; cut <= len(marker); cut++ {
		t.Run(fmt.Sprintf("cut=%d", cut), func(t *testing.T) {
			s, d := newTestSession(t)
			startReady(t, s, d)

			s.Dispatch("true", false, nil)
			cmd := s.Dispatch("exit_7", false, nil)

			d.Feed("noise"+marker[:cut], marker[cut:]+"tail")
			d.Tick()
			d.Tick()

			wantExit(t, cmd, 7)
			if n := len(d.Events(eventbus.EventCommandEnded)); n != 1 {
				t.Errorf("command-ended events = %d, want 1", n)
			}
			if got := string(s.readBuf); got != "tail" {
				t.Errorf("carried buffer = %q, want %q", got, "tail")
			}
		})
	}
}

func TestDetector_SplitScenario(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	s.Dispatch("true", false, nil)
	cmd := s.Dispatch("sh -c 'exit 7'", false, nil)

	d.Feed("out\r\n\r\nID:1;Exit")
	d.Tick()
	wantRunning(t, cmd)

	d.Feed("Code:7\r\nrest")
	d.Tick()
	wantExit(t, cmd, 7)
}

func TestDetector_Base36Rollover(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	var cmds []*command.Command
	for i := 0; i < 37; i++ {
		cmds = append(cmds, s.Dispatch(fmt.Sprintf("cmd%d", i), false, nil))
	}
	if !strings.Contains(d.Stuffed()[36], "ID:10;") {
		t.Errorf("command 36 sentinel not encoded as 10: %q", d.Stuffed()[36])
	}

	d.Feed("\r\nID:10;ExitCode:3\r\n")
	d.Tick()

	wantExit(t, cmds[36], 3)
	wantRunning(t, cmds[10])
}

func TestDetector_OutOfOrderBackground(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	a := s.Dispatch("sleep 2; exit 4", true, nil)
	b := s.Dispatch("sleep 1; exit 5", true, nil)

	d.Complete(b.ID(), 5)
	d.Tick()
	wantRunning(t, a)
	wantExit(t, b, 5)

	d.Complete(a.ID(), 4)
	d.Tick()
	wantExit(t, a, 4)

	events := d.Events(eventbus.EventCommandEnded)
	if len(events) != 2 || events[0].Data != b || events[1].Data != a {
		t.Errorf("completion order = %v, want b then a", events)
	}
}

func TestDetector_SeveralInOneRead(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	c0 := s.Dispatch("a", false, nil)
	c1 := s.Dispatch("b", false, nil)
	c2 := s.Dispatch("c", false, nil)

	d.Feed(SentinelOutput(1, 1) + "x" + SentinelOutput(0, 0) + "y" + SentinelOutput(2, 255) + "z")
	d.Tick()

	wantExit(t, c0, 0)
	wantExit(t, c1, 1)
	wantExit(t, c2, 255)

	events := d.Events(eventbus.EventCommandEnded)
	if len(events) != 3 || events[0].Data != c1 || events[1].Data != c0 || events[2].Data != c2 {
		t.Errorf("completion order does not follow the stream: %v", events)
	}
	if string(s.readBuf) != "z" {
		t.Errorf("carried buffer = %q, want %q", s.readBuf, "z")
	}
}

func TestDetector_UnknownIDIgnored(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	cmd := s.Dispatch("true", false, nil)

	d.Complete(99, 1) // stale output from a previous shell
	d.Complete(cmd.ID(), 0)
	d.Complete(cmd.ID(), 1) // duplicate
	d.Tick()
	d.Tick()
	d.Tick()

	wantExit(t, cmd, 0)
	if n := len(d.Events(eventbus.EventCommandEnded)); n != 1 {
		t.Errorf("command-ended events = %d, want 1", n)
	}
}

func TestDetector_StaleSentinelDoesNotResolveLaterCommand(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	first := s.Dispatch("true", false, nil)

	// A recovered session replays a marker for an id not dispatched yet.
	d.Complete(first.ID()+1, 9)
	d.Tick()
	if len(s.readBuf) != 0 {
		t.Errorf("carried buffer = %q, want the stale marker consumed", s.readBuf)
	}

	second := s.Dispatch("sleep 100", false, nil)
	if second.ID() != first.ID()+1 {
		t.Fatalf("second id = %d, want %d", second.ID(), first.ID()+1)
	}

	d.Complete(first.ID(), 0)
	d.Tick()

	wantExit(t, first, 0)
	if code, ok := second.ExitCode(); ok {
		t.Errorf("second command resolved by a stale marker with exit %d", code)
	}
	if s.Pending() != 1 {
		t.Errorf("pending = %d, want 1", s.Pending())
	}
}

func TestDetector_BufferCap(t *testing.T) {
	cfg := config.Default()
	cfg.MaxBufferBytes = 1
	s, d := newTestSession(t, WithConfig(cfg), WithTransportDir(testDir))
	startReady(t, s, d)

	cmd := s.Dispatch("true", false, nil)
	marker := SentinelOutput(cmd.ID(), 0)

	d.Feed(strings.Repeat("x", 3000) + marker[:5])
	d.Tick()
	if len(s.readBuf) > s.codec.MaxLen() {
		t.Errorf("carried buffer = %d bytes, cap is %d", len(s.readBuf), s.codec.MaxLen())
	}

	d.Feed(marker[5:])
	d.Tick()
	wantExit(t, cmd, 0)
}

func TestDetector_ReadLengthBoundsChunks(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)
	if err := s.SetReadLength(1024); err != nil {
		t.Fatal(err)
	}

	cmd := s.Dispatch("yes | head -c 4000", false, nil)
	d.Feed(strings.Repeat("y", 4000) + SentinelOutput(cmd.ID(), 0))

	for i := 0; i < 3; i++ {
		d.Tick()
		wantRunning(t, cmd)
	}
	d.Tick()
	wantExit(t, cmd, 0)
}

func TestClosure_RestoresSession(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	pending := s.Dispatch("sleep 100", false, nil)
	d.ExitShell()
	d.Tick()

	if s.Ready() {
		t.Error("still ready after the shell exited")
	}
	if n := len(d.Events(eventbus.EventClosed)); n != 1 {
		t.Errorf("closed events = %d, want 1", n)
	}
	if n := len(d.Spawned()); n != 2 {
		t.Errorf("spawned %d times, want a respawn", n)
	}
	if s.State() != Active {
		t.Errorf("State() = %v, want active", s.State())
	}
	if d.Scheduled() != 1 {
		t.Errorf("scheduled polls = %d, want 1", d.Scheduled())
	}
	wantRunning(t, pending)
	if s.Pending() != 1 {
		t.Errorf("unresolved command dropped from the registry")
	}

	d.Feed("$ ")
	d.Tick()
	if !s.Ready() {
		t.Error("restored session never became ready")
	}
}

func TestClosure_WithoutRestore(t *testing.T) {
	s, d := newTestSession(t)
	s.SetRestoreOnClose(false)
	startReady(t, s, d)

	d.ExitShell()
	d.Tick()
	d.Tick()

	if n := len(d.Events(eventbus.EventClosed)); n != 1 {
		t.Errorf("closed events = %d, want 1", n)
	}
	if n := len(d.Spawned()); n != 1 {
		t.Errorf("spawned %d times, want no respawn", n)
	}

	// Sends while closed are queued for the next ready transition.
	s.Send("echo later\n")
	if s.Queued() != 1 {
		t.Errorf("Queued() = %d, want 1", s.Queued())
	}
}

func TestClosure_NotReadyDisconnectIgnored(t *testing.T) {
	s, d := newTestSession(t)
	d.SetActive(true)
	if err := s.Restart(); err != nil {
		t.Fatal(err)
	}

	d.ExitShell()
	d.Tick()

	if len(d.Events(eventbus.EventClosed)) != 0 {
		t.Error("closed emitted for a session that was never ready")
	}
}

func TestCleanup_ReleasesEverything(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	for i := 0; i < 2; i++ {
		s.Cleanup()

		if d.Running() != 0 || d.OpenPipes() != 0 || d.Scheduled() != 0 || d.ExitHooks() != 0 {
			t.Errorf("pass %d: running=%d pipes=%d scheduled=%d hooks=%d", i,
				d.Running(), d.OpenPipes(), d.Scheduled(), d.ExitHooks())
		}
		if d.HasFifo(s.TransportPath()) || d.Locked(LockPath(testDir, s.Identity())) {
			t.Errorf("pass %d: fifo or lock left behind", i)
		}
		if s.Ready() || s.State() != Unstarted {
			t.Errorf("pass %d: ready=%v state=%v", i, s.Ready(), s.State())
		}
	}
	if d.Quits() != 2 {
		t.Errorf("Quits() = %d, want one per Cleanup", d.Quits())
	}

	if err := s.Restart(); err != nil {
		t.Fatalf("Restart after Cleanup: %v", err)
	}
	if s.State() != Active {
		t.Errorf("State() = %v, want active", s.State())
	}
}

func TestCleanup_CancelsPendingActivation(t *testing.T) {
	s, d := newTestSession(t)
	if err := s.Restart(); err != nil {
		t.Fatal(err)
	}
	if d.Activations() != 1 {
		t.Fatalf("Activations() = %d, want 1", d.Activations())
	}

	s.Cleanup()
	d.SetActive(true)

	if d.Activations() != 0 || len(d.Spawned()) != 0 {
		t.Error("cancelled activation still started the session")
	}
}

func TestClose_IsTerminal(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)
	before := s.Dispatch("sleep 1", false, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != Destroyed {
		t.Fatalf("State() = %v, want destroyed", s.State())
	}

	stuffed := len(d.Stuffed())
	after := s.Dispatch("echo no", false, nil)
	s.Send("echo no\n")
	if err := s.Restart(); err != nil {
		t.Errorf("Restart after Close: %v", err)
	}

	if len(d.Stuffed()) != stuffed || s.Queued() != 0 {
		t.Error("input delivered or queued after Close")
	}
	if after.ID() <= before.ID() {
		t.Errorf("id after Close = %d, want > %d", after.ID(), before.ID())
	}
	if s.State() != Destroyed || len(d.Spawned()) != 1 {
		t.Error("Close was not terminal")
	}
	wantRunning(t, after)
}

func TestIDs_MonotonicAcrossRestarts(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	var last int64 = -1
	check := func(cmd *command.Command) {
		t.Helper()
		if int64(cmd.ID()) <= last {
			t.Fatalf("id %d after %d", cmd.ID(), last)
		}
		last = int64(cmd.ID())
	}

	for round := 0; round < 3; round++ {
		for i := 0; i < 5; i++ {
			check(s.Dispatch("true", i%2 == 0, nil))
		}
		s.Cleanup()
		if err := s.Restart(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExitHook_CleansUp(t *testing.T) {
	s, d := newTestSession(t)
	startReady(t, s, d)

	d.mu.Lock()
	var hooks []func()
	for _, fn := range d.exitHooks {
		hooks = append(hooks, fn)
	}
	d.mu.Unlock()

	if len(hooks) != 1 {
		t.Fatalf("exit hooks = %d, want 1", len(hooks))
	}
	hooks[0]()

	if d.Running() != 0 || d.ExitHooks() != 0 || d.HasFifo(s.TransportPath()) {
		t.Error("exit hook did not clean up")
	}
}

func TestIdentity_Sanitizes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123", "muxsh_123"},
		{"build-box_2", "muxsh_build-box_2"},
		{"a.b:c d/e", "muxsh_a_b_c_d_e"},
		{"$(rm -rf)", "muxsh___rm_-rf_"},
	}
	for _, tt := range tests {
		if got := Identity(tt.in); got != tt.want {
			t.Errorf("Identity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	for st, want := range map[State]string{
		Unstarted: "unstarted",
		Starting:  "starting",
		Active:    "active",
		Destroyed: "destroyed",
		State(9):  "State(9)",
	} {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(st), st.String(), want)
		}
	}
}

func TestRestart_LogsFailedClient(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s, d := newTestSession(t, WithLogger(zap.New(core)))
	startReady(t, s, d)

	d.CrashShell(errors.New("exit status 1"), "Must be connected to a terminal.\n")
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	entries := logs.FilterMessage("multiplexer client failed").All()
	if len(entries) != 1 {
		t.Fatalf("failure logged %d times, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["stderr"]; got != "Must be connected to a terminal." {
		t.Errorf("stderr field = %q", got)
	}
	if n := len(d.Spawned()); n != 2 {
		t.Errorf("spawned = %d, want a respawn", n)
	}
}
