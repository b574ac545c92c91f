package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goodtune/icerotate/internal/accounting"
	"github.com/goodtune/icerotate/internal/netctl"
	"github.com/goodtune/icerotate/internal/storage"
	"github.com/rs/zerolog"
)

const testQuota = 180

// fakeAccounting returns scripted samples and cancels the run once they are
// exhausted.
type fakeAccounting struct {
	samples  []int64
	errAt    map[int]error
	cancel   context.CancelFunc
	calls    int
	onSample func(call int)
}

func (f *fakeAccounting) CurrentUsageMB(ctx context.Context) (int64, error) {
	call := f.calls
	f.calls++

	if f.onSample != nil {
		f.onSample(call)
	}
	if err, ok := f.errAt[call]; ok {
		return 0, err
	}
	if call >= len(f.samples) {
		f.cancel()
		return 0, ctx.Err()
	}
	return f.samples[call], nil
}

// fakeNetwork tracks the host name and scripted reconnect outcomes
type fakeNetwork struct {
	hostName    string
	hostNameErr error
	baselines   []int64
	failAt      map[int]error
	reconnects  int
	attempts    int
	restored    []string
}

func (f *fakeNetwork) HostName(ctx context.Context) (string, error) {
	return f.hostName, f.hostNameErr
}

func (f *fakeNetwork) Reconnect(ctx context.Context) (netctl.Rotation, error) {
	attempt := f.attempts
	f.attempts++

	if err, ok := f.failAt[attempt]; ok {
		return netctl.Rotation{}, err
	}

	f.hostName = fmt.Sprintf("ROTATED%03d", f.reconnects)
	baseline := f.baselines[f.reconnects]
	f.reconnects++

	return netctl.Rotation{
		Baseline:        baseline,
		HostName:        f.hostName,
		HardwareAddress: "00:16:3e:00:00:01",
	}, nil
}

func (f *fakeNetwork) RestoreIdentity(ctx context.Context, original string) {
	f.restored = append(f.restored, original)
	f.hostName = original
}

type fakeHistory struct {
	records []storage.EpochRecord
	err     error
}

func (f *fakeHistory) Record(ctx context.Context, epoch *storage.EpochRecord) error {
	if f.err != nil {
		return f.err
	}
	epoch.ID = int64(len(f.records) + 1)
	f.records = append(f.records, *epoch)
	return nil
}

type countingNotifier struct {
	count int
}

func (n *countingNotifier) Notify() error {
	n.count++
	return nil
}

type harness struct {
	monitor *Monitor
	acct    *fakeAccounting
	network *fakeNetwork
	clock   *TestClock
	ctx     context.Context
}

func newHarness(t *testing.T, samples []int64, network *fakeNetwork, config Config) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &TestClock{CurrentTime: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	acct := &fakeAccounting{samples: samples, cancel: cancel}

	if network.hostName == "" {
		network.hostName = "MYLAPTOP"
	}
	if config.QuotaMB == 0 {
		config.QuotaMB = testQuota
	}
	config.Clock = clock

	m, err := New(acct, network, config, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &harness{monitor: m, acct: acct, network: network, clock: clock, ctx: ctx}
}

func TestRun_EndToEndScenario(t *testing.T) {
	network := &fakeNetwork{baselines: []int64{235}}
	h := newHarness(t, []int64{50, 120, 235, 235}, network, Config{})

	baselines := make(map[int]int64)
	waits := make(map[int]int)
	h.acct.onSample = func(call int) {
		baselines[call] = h.monitor.Epoch().Baseline
		waits[call] = h.clock.Waits
	}

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if network.reconnects != 1 {
		t.Fatalf("expected 1 reconnect, got %d", network.reconnects)
	}
	// Poll 1 (120) and poll 2 (235) measure against the start-up baseline
	if baselines[1] != 50 || baselines[2] != 50 {
		t.Errorf("expected baseline 50 for polls 1 and 2, got %d and %d", baselines[1], baselines[2])
	}
	// Poll 3 uses the value returned by Reconnect
	if baselines[3] != 235 {
		t.Errorf("expected baseline 235 after reconnect, got %d", baselines[3])
	}
	// No wait between the reconnect and the next sample
	if waits[3] != waits[2] {
		t.Errorf("expected no wait after reconnect, waits went %d -> %d", waits[2], waits[3])
	}
	if got := h.monitor.Epoch(); got.Baseline != 235 || got.Reason != storage.ReasonQuota {
		t.Errorf("unexpected final epoch: %+v", got)
	}
}

func TestRun_QuotaBoundary(t *testing.T) {
	tests := []struct {
		name       string
		usage      int64
		reconnects int
	}{
		{"below quota", 179, 0},
		{"exactly quota", 180, 1},
		{"above quota", 181, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := &fakeNetwork{baselines: []int64{tt.usage}}
			h := newHarness(t, []int64{0, tt.usage}, network, Config{})

			if err := h.monitor.Run(h.ctx); err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if network.reconnects != tt.reconnects {
				t.Errorf("expected %d reconnects at usage %d, got %d", tt.reconnects, tt.usage, network.reconnects)
			}
		})
	}
}

func TestRun_StartupCorrection(t *testing.T) {
	tests := []struct {
		name    string
		initial int64
		want    int
	}{
		{"under quota", 179, 0},
		{"at quota", 180, 1},
		{"over quota", 900, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := &fakeNetwork{baselines: []int64{tt.initial + 1}}
			h := newHarness(t, []int64{tt.initial, tt.initial + 5}, network, Config{})

			var reconnectsBeforeSteady int
			var steadyBaseline int64
			h.acct.onSample = func(call int) {
				if call == 1 {
					reconnectsBeforeSteady = network.reconnects
					steadyBaseline = h.monitor.Epoch().Baseline
				}
			}

			if err := h.monitor.Run(h.ctx); err != nil {
				t.Fatalf("Run returned error: %v", err)
			}

			if reconnectsBeforeSteady != tt.want {
				t.Errorf("expected %d start-up reconnects, got %d", tt.want, reconnectsBeforeSteady)
			}
			if network.reconnects != tt.want {
				t.Errorf("expected %d reconnects in total, got %d", tt.want, network.reconnects)
			}

			wantBaseline := tt.initial
			if tt.want == 1 {
				wantBaseline = tt.initial + 1
			}
			if steadyBaseline != wantBaseline {
				t.Errorf("first steady delta used baseline %d, want %d", steadyBaseline, wantBaseline)
			}
		})
	}
}

func TestRun_StepFailureKeepsBaseline(t *testing.T) {
	network := &fakeNetwork{
		baselines: []int64{200},
		failAt: map[int]error{
			0: &netctl.StepError{Step: netctl.StepSetHardwareAddress, Err: errors.New("ifconfig: ioctl failed")},
		},
	}
	h := newHarness(t, []int64{0, 200, 200, 200}, network, Config{})

	baselines := make(map[int]int64)
	waits := make(map[int]int)
	h.acct.onSample = func(call int) {
		baselines[call] = h.monitor.Epoch().Baseline
		waits[call] = h.clock.Waits
	}

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if network.attempts != 2 || network.reconnects != 1 {
		t.Fatalf("expected 2 attempts and 1 success, got %d and %d", network.attempts, network.reconnects)
	}
	if baselines[2] != 0 {
		t.Errorf("baseline advanced after failed reconnect: %d", baselines[2])
	}
	// The retry happens on the next poll after a full interval
	if waits[2] != waits[1]+1 {
		t.Errorf("expected one wait before retry, waits went %d -> %d", waits[1], waits[2])
	}
	if baselines[3] != 200 {
		t.Errorf("expected baseline 200 after successful retry, got %d", baselines[3])
	}
}

func TestRun_StartupReconnectFailureRetried(t *testing.T) {
	network := &fakeNetwork{
		baselines: []int64{201},
		failAt: map[int]error{
			0: &netctl.StepError{Step: netctl.StepJoinNetwork, Err: errors.New("timeout")},
		},
	}
	// Raw usage is over quota at start-up, then barely moves
	h := newHarness(t, []int64{200, 201, 201}, network, Config{})

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if network.attempts != 2 || network.reconnects != 1 {
		t.Fatalf("expected start-up failure to be retried, got %d attempts, %d successes", network.attempts, network.reconnects)
	}
	if got := h.monitor.Epoch().Baseline; got != 201 {
		t.Errorf("expected baseline 201, got %d", got)
	}
}

func TestRun_AccountingFailureIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		failAt int
	}{
		{"initial sample", 0},
		{"steady sample", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := &fakeNetwork{}
			h := newHarness(t, []int64{10, 20, 30, 40}, network, Config{})
			h.acct.errAt = map[int]error{
				tt.failAt: fmt.Errorf("%w: en0 missing", accounting.ErrCountersUnavailable),
			}

			err := h.monitor.Run(h.ctx)
			if !errors.Is(err, accounting.ErrCountersUnavailable) {
				t.Fatalf("expected ErrCountersUnavailable, got %v", err)
			}
			if len(network.restored) != 1 || network.restored[0] != "MYLAPTOP" {
				t.Errorf("expected host name restored once, got %v", network.restored)
			}
		})
	}
}

func TestRun_AccountingFailureDuringReconnect(t *testing.T) {
	network := &fakeNetwork{
		failAt: map[int]error{
			0: fmt.Errorf("failed to sample usage after reconnect: %w", accounting.ErrCountersUnavailable),
		},
	}
	h := newHarness(t, []int64{0, 500}, network, Config{})

	err := h.monitor.Run(h.ctx)
	if !errors.Is(err, accounting.ErrCountersUnavailable) {
		t.Fatalf("expected ErrCountersUnavailable, got %v", err)
	}
	if len(network.restored) != 1 {
		t.Errorf("expected restore on fatal exit, got %v", network.restored)
	}
}

func TestRun_HostNameUnreadable(t *testing.T) {
	network := &fakeNetwork{hostNameErr: errors.New("scutil: no such key")}
	h := newHarness(t, []int64{0}, network, Config{})
	network.hostName = ""

	if err := h.monitor.Run(h.ctx); err == nil {
		t.Fatal("expected error")
	}
	if h.acct.calls != 0 {
		t.Errorf("expected no usage samples, got %d", h.acct.calls)
	}
	if len(network.restored) != 0 {
		t.Errorf("expected no restore without a captured host name, got %v", network.restored)
	}
}

func TestRun_ShutdownRestoresOriginalHostName(t *testing.T) {
	network := &fakeNetwork{baselines: []int64{180, 360, 540}}
	h := newHarness(t, []int64{0, 180, 360, 540, 600}, network, Config{})

	var rotatedNames []string
	h.acct.onSample = func(call int) {
		rotatedNames = append(rotatedNames, network.hostName)
	}

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if network.reconnects != 3 {
		t.Fatalf("expected 3 reconnects, got %d", network.reconnects)
	}
	if rotatedNames[len(rotatedNames)-1] == "MYLAPTOP" {
		t.Errorf("expected rotated host name before shutdown, got %v", rotatedNames)
	}
	if h.monitor.OriginalHostName() != "MYLAPTOP" {
		t.Errorf("OriginalHostName() = %s, want MYLAPTOP", h.monitor.OriginalHostName())
	}
	if len(network.restored) != 1 {
		t.Fatalf("expected exactly one restore, got %v", network.restored)
	}
	if network.hostName != "MYLAPTOP" {
		t.Errorf("final host name = %s, want MYLAPTOP", network.hostName)
	}
	if h.monitor.State() != StateShuttingDown {
		t.Errorf("State() = %s, want %s", h.monitor.State(), StateShuttingDown)
	}
}

func TestRun_CounterDecreaseResetsBaseline(t *testing.T) {
	network := &fakeNetwork{}
	h := newHarness(t, []int64{150, 160, 20, 150}, network, Config{})

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// 150 -> 20 rebases to 20; 150 is then a delta of 130, under quota
	if network.reconnects != 0 {
		t.Errorf("expected no reconnect, got %d", network.reconnects)
	}
	if got := h.monitor.Epoch().Baseline; got != 20 {
		t.Errorf("expected baseline 20, got %d", got)
	}
}

func TestRun_RecordsHistoryAndNotifies(t *testing.T) {
	history := &fakeHistory{}
	notifier := &countingNotifier{}
	network := &fakeNetwork{baselines: []int64{300}}

	h := newHarness(t, []int64{100, 300, 300}, network, Config{History: history, Notifier: notifier})

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(history.records) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(history.records))
	}

	startup := history.records[0]
	if startup.Reason != storage.ReasonStartup || startup.BaselineMB != 100 || startup.HostName != "MYLAPTOP" {
		t.Errorf("unexpected start-up record: %+v", startup)
	}

	rotated := history.records[1]
	if rotated.Reason != storage.ReasonQuota || rotated.BaselineMB != 300 || rotated.HostName != "ROTATED000" {
		t.Errorf("unexpected rotation record: %+v", rotated)
	}
	if rotated.QuotaMB != testQuota {
		t.Errorf("expected quota %d in record, got %d", testQuota, rotated.QuotaMB)
	}

	if notifier.count != 2 {
		t.Errorf("expected 2 notifications (one per poll), got %d", notifier.count)
	}
}

func TestRun_HistoryFailureIgnored(t *testing.T) {
	history := &fakeHistory{err: errors.New("redis down")}
	network := &fakeNetwork{baselines: []int64{300}}
	h := newHarness(t, []int64{0, 300, 300}, network, Config{History: history})

	if err := h.monitor.Run(h.ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if network.reconnects != 1 {
		t.Errorf("expected 1 reconnect, got %d", network.reconnects)
	}
}

func TestRun_CancelInterruptsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acct := &fakeAccounting{samples: []int64{0, 10, 10}, cancel: cancel}
	acct.onSample = func(call int) {
		if call == 1 {
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
		}
	}
	network := &fakeNetwork{hostName: "MYLAPTOP"}

	m, err := New(acct, network, Config{QuotaMB: testQuota, PollInterval: time.Hour}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if len(network.restored) != 1 {
		t.Errorf("expected one restore, got %v", network.restored)
	}
}

func TestNew_InvalidQuota(t *testing.T) {
	if _, err := New(&fakeAccounting{}, &fakeNetwork{}, Config{QuotaMB: 0}, zerolog.Nop()); err == nil {
		t.Error("expected error for zero quota")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateInitializing: "initializing",
		StateSteady:       "steady",
		StateShuttingDown: "shutting-down",
		State(9):          "state(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", int(state), got, want)
		}
	}
}
