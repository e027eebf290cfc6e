package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/scan"
	"github.com/maktabahq/maktaba/core/simulation"
	inmemdb "github.com/maktabahq/maktaba/storage/database/inmem"
)

type simulateOptions struct {
	addr          string
	count         int
	intervalMs    int
	devices       int
	errorRate     float64
	duplicateRate float64
	codes         string
}

// simulate drives the load harness against a live API over HTTP; scenario
// and result state stays in this process.
func (cli *commandLine) simulate(opts simulateOptions) error {
	memDB, err := inmemdb.Open()
	if err != nil {
		return errors.Wrap(err, "opening in-mem database")
	}

	reg := inmemdb.NewRegistryRepository(memDB)
	for i, code := range strings.Split(opts.codes, ",") {
		reg.SeedStudent(fmt.Sprintf("cli-student-%03d", i+1), strings.TrimSpace(code))
	}

	deviceRepo := inmemdb.NewDeviceRepository(memDB)
	deviceRepo.SeedDefaultDevices()

	svc := simulation.NewService(
		inmemdb.NewScenarioRepository(memDB),
		inmemdb.NewResultRepository(memDB),
		deviceRepo,
		&httpSubmitter{
			base:   strings.TrimRight(opts.addr, "/"),
			client: &http.Client{Timeout: 10 * time.Second},
		},
		reg,
		core.NopLogger(),
	)

	ctx := context.Background()
	sc, err := svc.CreateScenario(ctx, simulation.NewScenario{
		Name: "cli batch",
		Type: simulation.ScenarioDeviceSimulation,
		Config: simulation.ScenarioConfig{
			ScanCount:         opts.count,
			ScanIntervalMs:    opts.intervalMs,
			DataTypes:         []string{simulation.DataTypeStudent},
			ErrorRate:         opts.errorRate,
			DuplicateRate:     opts.duplicateRate,
			ConcurrentDevices: opts.devices,
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating scenario")
	}

	testID, err := svc.Run(ctx, sc.ID)
	if err != nil {
		return errors.Wrap(err, "starting run")
	}
	log.Printf("test %s running...", testID)

	for {
		time.Sleep(500 * time.Millisecond)
		res, err := svc.Results(ctx, testID)
		if err != nil {
			return errors.Wrap(err, "fetching results")
		}
		if res.Status == "running" {
			continue
		}
		fmt.Printf(
			"status: %s\ngenerated: %d\nsuccess: %d\nerror: %d\nduplicate: %d\nlatency avg/p95/max: %.1f / %.1f / %.1f ms\n",
			res.Status, res.TotalGenerated, res.Success, res.Failed, res.Duplicate,
			res.AvgLatencyMs, res.P95LatencyMs, res.MaxLatencyMs,
		)
		return nil
	}
}

// httpSubmitter feeds synthetic scans into a remote API instead of an
// in-process pipeline.
type httpSubmitter struct {
	base   string
	client *http.Client
}

var _ simulation.Submitter = (*httpSubmitter)(nil)

func (s *httpSubmitter) Submit(ctx context.Context, sub scan.SubmitScan) (scan.Result, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return scan.Result{}, errors.Wrap(err, "marshaling scan")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/scans", bytes.NewReader(body))
	if err != nil {
		return scan.Result{}, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return scan.Result{}, errors.Wrap(err, "posting scan")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return scan.Result{}, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	var res scan.Result
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return scan.Result{}, errors.Wrap(err, "decoding result")
	}
	return res, nil
}
