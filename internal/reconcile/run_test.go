package reconcile_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"wgsync/internal/adapter/fake"
	"wgsync/internal/reconcile"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func testKey(t *testing.T) wgtypes.Key {
	t.Helper()
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	return key.PublicKey()
}

func entry(dn string, key wgtypes.Key, attrs ...string) reconcile.Entry {
	e := reconcile.NewEntry(dn)
	e.Add(reconcile.AttrPublicKey, key[:])
	for i := 0; i+1 < len(attrs); i += 2 {
		e.AddString(attrs[i], attrs[i+1])
	}
	return e
}

func device(self wgtypes.Key, port int, peers ...wgtypes.Key) *fake.Device {
	snap := reconcile.DeviceSnapshot{Name: "wg0", Ifindex: 4, PublicKey: &self, ListenPort: port}
	for _, k := range peers {
		snap.Peers = append(snap.Peers, reconcile.DevicePeer{PublicKey: k})
	}
	return fake.NewDevice(snap)
}

func newSyncer(dir *fake.Directory, dev *fake.Device, opts reconcile.Options) *reconcile.Syncer {
	return &reconcile.Syncer{
		Directory:  dir,
		Device:     dev,
		Parser:     reconcile.NewParser(fake.NewResolver()),
		DeviceName: "wg0",
		Options:    opts,
	}
}

func peerKeys(snap reconcile.DeviceSnapshot) map[wgtypes.Key]bool {
	out := make(map[wgtypes.Key]bool, len(snap.Peers))
	for _, p := range snap.Peers {
		out[p.PublicKey] = true
	}
	return out
}

func TestRunAddsAndRemovesPeers(t *testing.T) {
	self, k1, k2, k3 := testKey(t), testKey(t), testKey(t), testKey(t)
	dir := fake.NewDirectory(
		entry("cn=k1", k1, reconcile.AttrAllowedIP, "10.0.0.1/32"),
		entry("cn=k3", k3, reconcile.AttrAllowedIP, "10.0.0.3/32", reconcile.AttrEndpoint, "192.0.2.3:51820"),
	)
	dev := device(self, 51820, k1, k2)

	res, err := newSyncer(dir, dev, reconcile.Options{RemoveExtraPeers: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.NeedsUpdate || !res.Applied {
		t.Fatalf("NeedsUpdate = %v, Applied = %v, want both true", res.NeedsUpdate, res.Applied)
	}

	got := peerKeys(dev.Snapshot())
	if len(got) != 2 || !got[k1] || !got[k3] {
		t.Fatalf("device peers = %v, want k1 and k3", got)
	}
	if n := dev.Count("Apply"); n != 1 {
		t.Fatalf("Apply calls = %d, want 1", n)
	}
}

func TestRunAbortsBeforeDeviceOnUnresolvableEndpoint(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	dir := fake.NewDirectory(entry("cn=k1", k1, reconcile.AttrEndpoint, "gone.example.invalid:51820"))
	dev := device(self, 51820)

	_, err := newSyncer(dir, dev, reconcile.Options{RemoveExtraPeers: true}).Run(context.Background())
	if !errors.Is(err, reconcile.ErrEndpointDoesNotResolve) {
		t.Fatalf("Run() error = %v, want ErrEndpointDoesNotResolve", err)
	}
	if kind := reconcile.KindOf(err); kind != reconcile.KindParse {
		t.Fatalf("KindOf() = %v, want parse", kind)
	}
	if calls := dev.Calls(""); len(calls) != 0 {
		t.Fatalf("device calls = %v, want none", calls)
	}
}

func TestRunNoOpWhenUpToDate(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	dir := fake.NewDirectory(entry("cn=k1", k1), entry("cn=self", self))
	dev := device(self, 51820, k1)
	port := 51820

	res, err := newSyncer(dir, dev, reconcile.Options{ListenPort: &port}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.NeedsUpdate || res.Applied {
		t.Fatalf("NeedsUpdate = %v, Applied = %v, want both false", res.NeedsUpdate, res.Applied)
	}
	if n := dev.Count("Apply"); n != 0 {
		t.Fatalf("Apply calls = %d, want 0", n)
	}
}

func TestRunListenPortFromSelfEndpoint(t *testing.T) {
	self := testKey(t)
	dir := fake.NewDirectory(entry("cn=self", self, reconcile.AttrEndpoint, "203.0.113.1:55123"))
	dev := device(self, 51820)
	port := 51820

	res, err := newSyncer(dir, dev, reconcile.Options{ListenPort: &port, MatchListenPortToLocalEndpoint: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Update.ListenPort == nil || *res.Update.ListenPort != 55123 {
		t.Fatalf("planned ListenPort = %v, want 55123", res.Update.ListenPort)
	}
	if got := dev.Snapshot().ListenPort; got != 55123 {
		t.Fatalf("device ListenPort = %d, want 55123", got)
	}
}

func TestRunDryRunDoesNotApply(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	dir := fake.NewDirectory(entry("cn=k1", k1))
	dev := device(self, 51820)

	s := newSyncer(dir, dev, reconcile.Options{})
	s.DryRun = true
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.NeedsUpdate || res.Applied {
		t.Fatalf("NeedsUpdate = %v, Applied = %v, want true/false", res.NeedsUpdate, res.Applied)
	}
	if n := dev.Count("Apply"); n != 0 {
		t.Fatalf("Apply calls = %d, want 0", n)
	}
}

func TestRunErrorKinds(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	boom := errors.New("boom")

	t.Run("directory", func(t *testing.T) {
		dir := fake.NewDirectory()
		dir.SearchErr = boom
		dev := device(self, 51820)
		_, err := newSyncer(dir, dev, reconcile.Options{}).Run(context.Background())
		if reconcile.KindOf(err) != reconcile.KindDirectory || !errors.Is(err, boom) {
			t.Fatalf("Run() error = %v, want directory error wrapping boom", err)
		}
		if len(dev.Calls("")) != 0 {
			t.Fatal("device contacted after directory failure")
		}
	})

	t.Run("device read", func(t *testing.T) {
		dev := device(self, 51820)
		dev.DeviceErr = boom
		_, err := newSyncer(fake.NewDirectory(entry("cn=k1", k1)), dev, reconcile.Options{}).Run(context.Background())
		if reconcile.KindOf(err) != reconcile.KindDevice || !errors.Is(err, boom) {
			t.Fatalf("Run() error = %v, want device error wrapping boom", err)
		}
	})

	t.Run("device write", func(t *testing.T) {
		dev := device(self, 51820)
		dev.ApplyErr = boom
		res, err := newSyncer(fake.NewDirectory(entry("cn=k1", k1)), dev, reconcile.Options{}).Run(context.Background())
		if reconcile.KindOf(err) != reconcile.KindDevice || !errors.Is(err, boom) {
			t.Fatalf("Run() error = %v, want device error wrapping boom", err)
		}
		if res.Applied {
			t.Fatal("Applied = true after failed write")
		}
	})

	t.Run("parse", func(t *testing.T) {
		e := reconcile.NewEntry("cn=broken")
		_, err := newSyncer(fake.NewDirectory(e), device(self, 51820), reconcile.Options{}).Run(context.Background())
		var re *reconcile.Error
		if !errors.As(err, &re) || re.Kind != reconcile.KindParse {
			t.Fatalf("Run() error = %v, want *reconcile.Error of kind parse", err)
		}
		if !errors.Is(err, reconcile.ErrMissingPublicKey) {
			t.Fatalf("Run() error = %v, want ErrMissingPublicKey", err)
		}
	})
}

type recordingReporter struct {
	classified []reconcile.Classification
	planned    []bool
}

func (r *recordingReporter) Classified(_ reconcile.DeviceSnapshot, c reconcile.Classification) {
	r.classified = append(r.classified, c)
}

func (r *recordingReporter) Planned(needs bool, _ reconcile.DeviceUpdate) {
	r.planned = append(r.planned, needs)
}

func TestRunReportsBeforeApplying(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	dev := device(self, 51820)
	dev.ApplyErr = errors.New("netlink: permission denied")
	rep := &recordingReporter{}

	s := newSyncer(fake.NewDirectory(entry("cn=k1", k1)), dev, reconcile.Options{})
	s.Reporter = rep
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("Run() expected error")
	}
	if len(rep.classified) != 1 || len(rep.planned) != 1 || !rep.planned[0] {
		t.Fatalf("reporter saw classified=%d planned=%v", len(rep.classified), rep.planned)
	}
}

// Two runs that read the device before either writes are not coordinated:
// the second write is computed from a stale snapshot and undoes the first.
func TestRunOverlappingRunsRace(t *testing.T) {
	self, k0, k1, k2 := testKey(t), testKey(t), testKey(t), testKey(t)
	dev := device(self, 51820, k0)
	opts := reconcile.Options{RemoveExtraPeers: true}

	stale, err := dev.Device(context.Background(), "wg0")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}

	first := newSyncer(fake.NewDirectory(entry("cn=k1", k1)), dev, opts)
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if got := peerKeys(dev.Snapshot()); !got[k1] || got[k0] {
		t.Fatalf("device peers after first run = %v, want only k1", got)
	}

	// The second run planned against the snapshot taken before the first
	// write, so it never saw k1 and its replace-peers write drops it.
	c := reconcile.Classify([]reconcile.PeerRecord{{PublicKey: k2}}, stale)
	needs, upd := reconcile.Plan(c, stale, opts)
	if !needs || !upd.ReplacePeers {
		t.Fatalf("stale plan needs = %v, ReplacePeers = %v", needs, upd.ReplacePeers)
	}
	if err := dev.Apply(context.Background(), upd); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	got := peerKeys(dev.Snapshot())
	if got[k1] || !got[k2] {
		t.Fatalf("device peers = %v, want only k2 after the racing write", got)
	}
}

func TestRunTelemetrySteps(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	dir := fake.NewDirectory(entry("cn=k1", k1, reconcile.AttrEndpoint, "nowhere.invalid:1"))
	s := newSyncer(dir, device(self, 51820), reconcile.Options{})
	s.Tracer = tp.Tracer("test")
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("Run() expected error")
	}

	var names []string
	var parseStatus codes.Code
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() == reconcile.StepParse {
			parseStatus = span.Status().Code
		}
	}
	want := []string{reconcile.StepSearch, reconcile.StepParse, "wgsync.sync"}
	if len(names) != len(want) {
		t.Fatalf("ended spans = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ended spans = %v, want %v", names, want)
		}
	}
	if parseStatus != codes.Error {
		t.Fatalf("parse span status = %v, want error", parseStatus)
	}
}

func TestRunTelemetryStepsOnSuccess(t *testing.T) {
	self, k1 := testKey(t), testKey(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	dev := device(self, 51820)
	s := newSyncer(fake.NewDirectory(entry("cn=k1", k1)), dev, reconcile.Options{})
	s.Tracer = tp.Tracer("test")
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Applied || dev.Count("Apply") != 1 {
		t.Fatalf("Applied = %v, Apply calls = %d", res.Applied, dev.Count("Apply"))
	}

	want := []string{
		reconcile.StepSearch, reconcile.StepParse, reconcile.StepRead,
		reconcile.StepClassify, reconcile.StepPlan, reconcile.StepApply, "wgsync.sync",
	}
	spans := recorder.Ended()
	if len(spans) != len(want) {
		t.Fatalf("ended %d spans, want %d", len(spans), len(want))
	}
	for i, span := range spans {
		if span.Name() != want[i] {
			t.Errorf("span %d = %q, want %q", i, span.Name(), want[i])
		}
		if span.Status().Code == codes.Error {
			t.Errorf("span %q has error status", span.Name())
		}
	}
}

func TestRunSelfEndpointReported(t *testing.T) {
	self := testKey(t)
	dir := fake.NewDirectory(entry("cn=self", self, reconcile.AttrEndpoint, "198.51.100.4:4444"))
	res, err := newSyncer(dir, device(self, 51820), reconcile.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := netip.MustParseAddrPort("198.51.100.4:4444")
	if res.Classification.Self == nil || *res.Classification.Self.Endpoint != want {
		t.Fatalf("Self = %+v, want endpoint %s", res.Classification.Self, want)
	}
}
