package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"net/mail"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/scan"
)

var nowFunc = time.Now // mockable

// Submitter is the entry into the real scan pipeline; synthetic traffic
// takes the exact same path as physical scanners.
type Submitter interface {
	Submit(ctx context.Context, sub scan.SubmitScan) (scan.Result, error)
}

type Service struct {
	scenarios ScenarioStore
	results   ResultStore
	devices   DeviceStore
	submit    Submitter
	codes     CodeSource
	logger    core.Logger

	// optional summary reports
	mailSvc  core.EmailService
	reportTo string

	mu   sync.Mutex
	runs map[string]*run
}

func NewService(
	scenarios ScenarioStore,
	results ResultStore,
	devices DeviceStore,
	submit Submitter,
	codes CodeSource,
	logger core.Logger,
) *Service {
	return &Service{
		scenarios: scenarios,
		results:   results,
		devices:   devices,
		submit:    submit,
		codes:     codes,
		logger:    logger,
		runs:      make(map[string]*run),
	}
}

// EnableReports emails a summary to addr whenever a run finishes.
func (svc *Service) EnableReports(mailSvc core.EmailService, addr string) {
	svc.mailSvc = mailSvc
	svc.reportTo = addr
}

// Scenarios

func (svc *Service) CreateScenario(ctx context.Context, ns NewScenario) (Scenario, error) {
	sc := Scenario{
		ID:        uuid.New().String(),
		Name:      ns.Name,
		Type:      ns.Type,
		Config:    ns.Config,
		CreatedAt: nowFunc().UTC(),
	}
	return svc.scenarios.CreateScenario(ctx, sc)
}

func (svc *Service) QueryScenarios(ctx context.Context) ([]Scenario, error) {
	return svc.scenarios.QueryScenarios(ctx)
}

func (svc *Service) DeleteScenario(ctx context.Context, id string) error {
	return svc.scenarios.DeleteScenario(ctx, id)
}

// Runs

// Run starts a scenario, splitting its ScanCount across ConcurrentDevices
// independent generators. It fails hard only on an invalid scenario
// reference; per-event failures inside the run are counts.
func (svc *Service) Run(ctx context.Context, scenarioID string) (string, error) {
	sc, err := svc.scenarios.GetScenario(ctx, scenarioID)
	if err != nil {
		return "", err
	}
	if sc.Config.ConcurrentDevices < 1 {
		sc.Config.ConcurrentDevices = 1
	}
	if len(sc.Config.DataTypes) == 0 {
		sc.Config.DataTypes = []string{DataTypeStudent}
	}

	testID := uuid.New().String()
	started := nowFunc().UTC()

	// the run outlives the originating request
	runCtx, cancel := context.WithCancel(context.Background())
	r := newRun(testID, sc.ID, started, cancel)

	if err = svc.results.SaveResult(ctx, r.snapshot()); err != nil {
		cancel()
		return "", errors.Wrap(err, "saving initial test result")
	}

	svc.mu.Lock()
	svc.runs[testID] = r
	svc.mu.Unlock()

	deviceIDs := svc.deviceIDs(ctx, sc.Config.ConcurrentDevices)
	seed := started.UnixNano()

	var wg sync.WaitGroup
	for i := 0; i < sc.Config.ConcurrentDevices; i++ {
		share := sc.Config.ScanCount / sc.Config.ConcurrentDevices
		if i < sc.Config.ScanCount%sc.Config.ConcurrentDevices {
			share++
		}
		wg.Add(1)
		go func(devID string, n int, rng *rand.Rand) {
			defer wg.Done()
			svc.runDevice(runCtx, r, sc.Config, devID, n, rng)
		}(deviceIDs[i%len(deviceIDs)], share, rand.New(rand.NewSource(seed+int64(i))))
	}

	go svc.supervise(r, &wg)

	svc.logger.Info(fmt.Sprintf("test %s started: scenario %q, %d scans over %d devices",
		testID, sc.Name, sc.Config.ScanCount, sc.Config.ConcurrentDevices))
	return testID, nil
}

// supervise waits the generators out and finalizes the result exactly once.
func (svc *Service) supervise(r *run, wg *sync.WaitGroup) {
	wg.Wait()

	status := "completed"
	r.mu.Lock()
	if r.frozen {
		status = "stopped"
	}
	r.mu.Unlock()

	res := r.finalize(status, nowFunc().UTC())
	r.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.results.SaveResult(ctx, res); err != nil {
		svc.logger.Error(fmt.Sprintf("saving test result %s: %v", r.testID, err), err)
	}

	svc.mu.Lock()
	delete(svc.runs, r.testID)
	svc.mu.Unlock()
	close(r.done)

	svc.report(res)
}

// runDevice is one synthetic generator on its own jittered interval.
func (svc *Service) runDevice(ctx context.Context, r *run, cfg ScenarioConfig, deviceID string, n int, rng *rand.Rand) {
	interval := cfg.Interval()
	var last string

	for i := 0; i < n; i++ {
		if !sleepJittered(ctx, interval, rng) {
			return
		}

		code, kind := svc.nextCode(cfg, rng, &last)

		start := time.Now()
		res, err := svc.submit.Submit(ctx, scan.SubmitScan{
			Code:     code,
			Source:   scan.SourceSimulated,
			DeviceID: deviceID,
		})
		latency := time.Since(start)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// system failure on one event; count it, keep going
			svc.logger.Warn(fmt.Sprintf("synthetic scan failed: %v", err), err)
			r.record(kind, false, latency)
			continue
		}
		r.record(kind, res.Accepted, latency)
	}
}

// nextCode picks the next synthetic payload: deliberately malformed with
// probability ErrorRate, a repeat of the previous code with probability
// DuplicateRate, otherwise a fresh registered code.
func (svc *Service) nextCode(cfg ScenarioConfig, rng *rand.Rand, last *string) (string, eventKind) {
	roll := rng.Float64()
	switch {
	case roll < cfg.ErrorRate:
		return "x", kindMalformed // below any sane MinLength
	case roll < cfg.ErrorRate+cfg.DuplicateRate && *last != "":
		return *last, kindDuplicate
	default:
		dt := cfg.DataTypes[rng.Intn(len(cfg.DataTypes))]
		code := svc.codes.Code(dt)
		*last = code
		return code, kindNormal
	}
}

// Stop cancels all generators of a running test and freezes its counts.
// It reports whether an active run was actually stopped; stopping an
// already-finished test is a no-op, not an error.
func (svc *Service) Stop(ctx context.Context, testID string) (bool, error) {
	svc.mu.Lock()
	r, active := svc.runs[testID]
	svc.mu.Unlock()

	if !active {
		if _, err := svc.results.GetResult(ctx, testID); err != nil {
			return false, err
		}
		return false, nil
	}

	// freeze before cancel: nothing records after Stop returns
	r.freeze()
	r.cancel()
	<-r.done
	return true, nil
}

func (svc *Service) ActiveTestIDs() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ids := make([]string, 0, len(svc.runs))
	for id := range svc.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (svc *Service) Results(ctx context.Context, testID string) (TestResult, error) {
	svc.mu.Lock()
	r, active := svc.runs[testID]
	svc.mu.Unlock()

	if active {
		return r.snapshot(), nil
	}
	return svc.results.GetResult(ctx, testID)
}

func (svc *Service) DeleteResults(ctx context.Context, testID string) error {
	svc.mu.Lock()
	_, active := svc.runs[testID]
	svc.mu.Unlock()

	if active {
		return ErrTestRunning
	}
	return svc.results.DeleteResult(ctx, testID)
}

// Devices

func (svc *Service) QueryDevices(ctx context.Context) ([]Device, error) {
	return svc.devices.QueryDevices(ctx)
}

func (svc *Service) PatchDevice(ctx context.Context, id string, ud UpdateDevice) (Device, error) {
	dev, err := svc.devices.GetDevice(ctx, id)
	if err != nil {
		return Device{}, err
	}
	if ud.Name != "" {
		dev.Name = ud.Name
	}
	if ud.Location != "" {
		dev.Location = ud.Location
	}
	if ud.Status != "" {
		dev.Status = ud.Status
	}
	return svc.devices.SaveDevice(ctx, dev)
}

// deviceIDs returns identities for n generators, preferring online
// registered devices and falling back to ad hoc ids.
func (svc *Service) deviceIDs(ctx context.Context, n int) []string {
	var ids []string
	if devs, err := svc.devices.QueryDevices(ctx); err == nil {
		for _, d := range devs {
			if d.Status == "online" {
				ids = append(ids, d.ID)
			}
		}
	}
	for i := len(ids); i < n; i++ {
		ids = append(ids, fmt.Sprintf("sim-device-%02d", i+1))
	}
	return ids[:n]
}

// report emails a completion summary when reports are enabled.
func (svc *Service) report(res TestResult) {
	if svc.mailSvc == nil || svc.reportTo == "" {
		return
	}
	body := fmt.Sprintf(
		"Test %s (%s) finished.\n\n"+
			"Generated: %d\nSuccess: %d\nError: %d\nDuplicate: %d\n\n"+
			"Latency avg/p95/max: %.1f / %.1f / %.1f ms\n",
		res.TestID, res.Status,
		res.TotalGenerated, res.Success, res.Failed, res.Duplicate,
		res.AvgLatencyMs, res.P95LatencyMs, res.MaxLatencyMs,
	)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: svc.reportTo}},
		Subject: "Load test " + res.TestID + " " + res.Status,
		Body:    body,
	})
}
