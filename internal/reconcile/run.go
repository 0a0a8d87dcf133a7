package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"wgsync/internal/check"
	"wgsync/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
)

// Step IDs of a run, in execution order.
const (
	StepSearch   = "directory.search"
	StepParse    = "peers.parse"
	StepRead     = "device.read"
	StepClassify = "peers.classify"
	StepPlan     = "device.plan"
	StepApply    = "device.apply"
)

var runSteps = []telemetry.Step{
	{ID: StepSearch, Title: "searching directory"},
	{ID: StepParse, Title: "validating peer entries"},
	{ID: StepRead, Title: "reading interface"},
	{ID: StepClassify, Title: "classifying peers"},
	{ID: StepPlan, Title: "planning update"},
	{ID: StepApply, Title: "applying update"},
}

// Directory returns the raw wgPeer entries for this interface.
type Directory interface {
	Search(ctx context.Context) ([]Entry, error)
}

// Device reads and writes the WireGuard interface.
type Device interface {
	Device(ctx context.Context, name string) (DeviceSnapshot, error)
	Apply(ctx context.Context, upd DeviceUpdate) error
}

// Reporter receives the intermediate results of a run, before the device is
// written.
type Reporter interface {
	Classified(dev DeviceSnapshot, c Classification)
	Planned(needsUpdate bool, upd DeviceUpdate)
}

// Syncer performs one reconciliation pass.
type Syncer struct {
	Directory  Directory
	Device     Device
	Parser     *Parser
	DeviceName string
	Options    Options
	DryRun     bool
	Tracer     trace.Tracer
	Reporter   Reporter
}

// Result summarizes a finished run.
type Result struct {
	Device         DeviceSnapshot
	Classification Classification
	NeedsUpdate    bool
	Update         DeviceUpdate
	Applied        bool
}

// Run fetches, parses, classifies, plans and applies, in that order. The
// first failure aborts the run; the device is written at most once and only
// after every earlier stage succeeded.
//
// The device is read after the directory entries are validated, so an
// invalid entry never touches the kernel. Concurrent runs are not
// coordinated: a run applies a plan computed from its own snapshot.
func (s *Syncer) Run(ctx context.Context) (res Result, err error) {
	check.Assert(s.Directory != nil, "Syncer.Run: Directory must not be nil")
	check.Assert(s.Device != nil, "Syncer.Run: Device must not be nil")
	check.Assert(s.Parser != nil, "Syncer.Run: Parser must not be nil")

	op, err := telemetry.Start(ctx, s.Tracer, "wgsync.sync", runSteps)
	if err != nil {
		return Result{}, err
	}
	defer func() { op.End(err) }()

	var entries []Entry
	err = op.Step(StepSearch, func(ctx context.Context) error {
		var serr error
		entries, serr = s.Directory.Search(ctx)
		if serr != nil {
			return &Error{Kind: KindDirectory, Err: fmt.Errorf("search peers: %w", serr)}
		}
		slog.Debug("Fetched directory entries.", "count", len(entries))
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var peers []PeerRecord
	err = op.Step(StepParse, func(ctx context.Context) error {
		var perr error
		peers, perr = s.Parser.ParseAll(ctx, entries)
		return wrap(KindParse, perr)
	})
	if err != nil {
		return Result{}, err
	}

	err = op.Step(StepRead, func(ctx context.Context) error {
		dev, derr := s.Device.Device(ctx, s.DeviceName)
		if derr != nil {
			return &Error{Kind: KindDevice, Err: fmt.Errorf("read device %q: %w", s.DeviceName, derr)}
		}
		res.Device = dev
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	err = op.Step(StepClassify, func(context.Context) error {
		res.Classification = Classify(peers, res.Device)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if s.Reporter != nil {
		s.Reporter.Classified(res.Device, res.Classification)
	}

	err = op.Step(StepPlan, func(context.Context) error {
		res.NeedsUpdate, res.Update = Plan(res.Classification, res.Device, s.Options)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if s.Reporter != nil {
		s.Reporter.Planned(res.NeedsUpdate, res.Update)
	}

	switch {
	case !res.NeedsUpdate:
		op.Skip(StepApply, "up to date")
		return res, nil
	case s.DryRun:
		op.Skip(StepApply, "dry run")
		return res, nil
	}

	err = op.Step(StepApply, func(ctx context.Context) error {
		if aerr := s.Device.Apply(ctx, res.Update); aerr != nil {
			return &Error{Kind: KindDevice, Err: fmt.Errorf("apply update to ifindex %d: %w", res.Update.Ifindex, aerr)}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Applied = true
	return res, nil
}
