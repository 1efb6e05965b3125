package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldmesh/fieldcore/internal/device"
)

// fakePublisher records published messages.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishCall
	fail      bool
}

type publishCall struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, publishCall{topic, payload, qos, retained})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) last() publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

// fakePolicies returns a fixed policy per device.
type fakePolicies struct {
	policies map[string]device.CommandPolicy
}

func (f *fakePolicies) Policy(id string) device.CommandPolicy {
	if p, ok := f.policies[id]; ok {
		return p
	}
	return device.CommandPolicy{RetryAttempts: -1}
}

func newTestDispatcher(pub *fakePublisher, ackTimeout time.Duration, retries int) *Dispatcher {
	return NewDispatcher(pub, &fakePolicies{}, ackTimeout, retries)
}

func TestSendPublishesQoS2(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, time.Second, 0)
	defer d.Close()

	pc, err := d.Send(context.Background(), "GREENHOUSE-A1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if pc.ID == "" {
		t.Error("Send should assign a command ID")
	}

	if pub.count() != 1 {
		t.Fatalf("published %d messages, want 1", pub.count())
	}
	call := pub.last()
	if call.topic != "devices/GREENHOUSE-A1/commands" {
		t.Errorf("topic = %q", call.topic)
	}
	if call.qos != 2 || call.retained {
		t.Errorf("qos = %d retained = %v, want QoS 2 non-retained", call.qos, call.retained)
	}
}

func TestAckResolvesBeforeTimeout(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, 100*time.Millisecond, 3)
	defer d.Close()

	pc, err := d.Send(context.Background(), "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	response := map[string]any{"status": "ok"}
	if !d.OnResponse("dev-1", "restart", response) {
		t.Fatal("OnResponse should match the pending command")
	}

	select {
	case result := <-pc.Done:
		if result.State != StateAcked {
			t.Errorf("State = %v, want StateAcked", result.State)
		}
		if result.Response["status"] != "ok" {
			t.Errorf("Response = %v", result.Response)
		}
		if result.Err != nil {
			t.Errorf("Err = %v, want nil", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("command did not resolve")
	}

	if d.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", d.PendingCount())
	}
}

func TestRetriesThenTimeout(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, 20*time.Millisecond, 2)
	defer d.Close()

	pc, err := d.Send(context.Background(), "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case result := <-pc.Done:
		if result.State != StateTimedOut {
			t.Errorf("State = %v, want StateTimedOut", result.State)
		}
		if !errors.Is(result.Err, ErrAckTimeout) {
			t.Errorf("Err = %v, want ErrAckTimeout", result.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command did not time out")
	}

	// Initial send plus two retries.
	if pub.count() != 3 {
		t.Errorf("published %d messages, want 3 (send + 2 retries)", pub.count())
	}
	if d.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", d.PendingCount())
	}
}

func TestLateResponseIgnored(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, 20*time.Millisecond, 0)
	defer d.Close()

	pc, err := d.Send(context.Background(), "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	<-pc.Done // times out

	if d.OnResponse("dev-1", "restart", map[string]any{"status": "ok"}) {
		t.Error("late response should not match anything")
	}
}

func TestCancelDevice(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, time.Minute, 3)
	defer d.Close()

	ctx := context.Background()
	pc1, err := d.Send(ctx, "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	pc2, err := d.Send(ctx, "dev-1", "update_firmware", map[string]any{"url": "http://fw/2.1.0.bin"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	pcOther, err := d.Send(ctx, "dev-2", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n := d.CancelDevice("dev-1"); n != 2 {
		t.Errorf("CancelDevice = %d, want 2", n)
	}

	for _, pc := range []*PendingCommand{pc1, pc2} {
		select {
		case result := <-pc.Done:
			if result.State != StateCancelled || !errors.Is(result.Err, ErrCancelled) {
				t.Errorf("result = %+v, want cancelled", result)
			}
		case <-time.After(time.Second):
			t.Fatal("cancelled command did not resolve")
		}
	}

	// The other device's command is untouched.
	select {
	case <-pcOther.Done:
		t.Error("dev-2 command should still be pending")
	default:
	}
	if d.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", d.PendingCount())
	}
}

func TestNewCommandSupersedesPending(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, time.Minute, 3)
	defer d.Close()

	ctx := context.Background()
	first, err := d.Send(ctx, "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	second, err := d.Send(ctx, "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case result := <-first.Done:
		if result.State != StateCancelled {
			t.Errorf("superseded command state = %v, want StateCancelled", result.State)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded command did not resolve")
	}

	// The response goes to the newer command.
	if !d.OnResponse("dev-1", "restart", map[string]any{"status": "ok"}) {
		t.Fatal("OnResponse should match the superseding command")
	}
	result := <-second.Done
	if result.State != StateAcked {
		t.Errorf("second command state = %v, want StateAcked", result.State)
	}
}

func TestPerDevicePolicyOverride(t *testing.T) {
	pub := &fakePublisher{}
	policies := &fakePolicies{policies: map[string]device.CommandPolicy{
		"fast-dev": {AckTimeout: 20 * time.Millisecond, RetryAttempts: 0},
	}}
	d := NewDispatcher(pub, policies, time.Minute, 5)
	defer d.Close()

	pc, err := d.Send(context.Background(), "fast-dev", "restart", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// With the default minute-long timeout this would hang; the override
	// makes it fail fast with zero retries.
	select {
	case result := <-pc.Done:
		if result.State != StateTimedOut {
			t.Errorf("State = %v, want StateTimedOut", result.State)
		}
	case <-time.After(time.Second):
		t.Fatal("override timeout not applied")
	}
	if pub.count() != 1 {
		t.Errorf("published %d messages, want 1 (no retries)", pub.count())
	}
}

func TestSendAndWait(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, time.Minute, 3)
	defer d.Close()

	go func() {
		// Simulate the device acknowledging shortly after the send.
		time.Sleep(10 * time.Millisecond)
		for !d.OnResponse("dev-1", "restart", map[string]any{"status": "ok"}) {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result, err := d.SendAndWait(context.Background(), "dev-1", "restart", nil)
	if err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
	if result.State != StateAcked {
		t.Errorf("State = %v, want StateAcked", result.State)
	}
}

func TestSendAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDispatcher(pub, time.Minute, 3)
	d.Close()

	if _, err := d.Send(context.Background(), "dev-1", "restart", nil); !errors.Is(err, ErrCancelled) {
		t.Errorf("Send after Close = %v, want ErrCancelled", err)
	}
}
