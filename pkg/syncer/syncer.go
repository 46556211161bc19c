// Package syncer drives a one-directional copy run: stream records from
// Production, map each one, create it in Integration, and record the id
// mapping in the crosswalk.
//
// The run is a single pass per entity kind. A record's failure is counted
// and logged, never fatal; only configuration and authentication problems
// abort a run.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/natserract/stsync/pkg/auth"
	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/crosswalk"
	"github.com/natserract/stsync/pkg/entities"
	"github.com/natserract/stsync/pkg/httpclient"
	"github.com/natserract/stsync/pkg/mapper"
	"github.com/natserract/stsync/pkg/record"
	"github.com/natserract/stsync/pkg/resolve"
)

const (
	poCreatePath = "/inventory/v2/tenant/{tenant}/purchase-orders"
	poByIDPath   = "/inventory/v2/tenant/{tenant}/purchase-orders/%s"

	// Fixed pause between processed records. Coarse self-imposed rate
	// limiting on top of the 429 retry layer.
	defaultDelay = 100 * time.Millisecond
)

// Options tune a single run.
type Options struct {
	// Since filters the Production list to records modified on or after
	// this ISO date, when the entity's endpoint supports it.
	Since string
	// Limit stops the run after this many processed records (skips and
	// errors count as processed). Zero means unlimited.
	Limit int
	// DryRun logs would-be payloads without creating anything.
	DryRun bool
	// Delay overrides the inter-record pause.
	Delay time.Duration
}

// Summary tallies one run. It is the required user-visible output of a
// sync, printed by the CLI when the run ends.
type Summary struct {
	RunID     string
	Kind      string
	Processed int
	Created   int
	Skipped   int
	Errors    int
	DryRun    bool
	Duration  time.Duration
}

// Syncer orchestrates copy runs.
type Syncer struct {
	settings *config.Settings
	entities *entities.Config
	client   *httpclient.Client
	auth     *auth.Provider
	store    *crosswalk.Store
	mapper   *mapper.Mapper
	logger   *zap.Logger
}

// New creates a syncer.
func New(settings *config.Settings, ents *entities.Config, client *httpclient.Client, provider *auth.Provider, store *crosswalk.Store, logger *zap.Logger) *Syncer {
	return &Syncer{
		settings: settings,
		entities: ents,
		client:   client,
		auth:     provider,
		store:    store,
		mapper:   mapper.New(settings, logger),
		logger:   logger,
	}
}

// Run copies all records of one entity kind from Production to
// Integration. It returns the summary even when the stream fails partway.
func (s *Syncer) Run(ctx context.Context, kind string, opts Options) (*Summary, error) {
	summary := &Summary{
		RunID:  uuid.NewString(),
		Kind:   kind,
		DryRun: opts.DryRun,
	}
	start := time.Now()
	defer func() { summary.Duration = time.Since(start) }()

	ent, err := s.entities.Entity(kind)
	if err != nil {
		return summary, err
	}

	s.logger.Info("Starting sync",
		zap.String("run_id", summary.RunID),
		zap.String("kind", kind),
		zap.String("since", opts.Since),
		zap.Int("limit", opts.Limit),
		zap.Bool("dry_run", opts.DryRun))

	prodToken, err := s.auth.Token(ctx, config.Production)
	if err != nil {
		return summary, err
	}
	intToken, err := s.auth.Token(ctx, config.Integration)
	if err != nil {
		return summary, err
	}

	resolver := resolve.New(s.client, s.store, s.settings, s.logger, prodToken, intToken, opts.DryRun)

	delay := opts.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	stream := s.client.Stream(ctx, config.Production, httpclient.ListConfig{
		Path:        ent.ProdListPath,
		Params:      stringParams(ent.ListParams),
		DataKey:     ent.ListDataKey,
		NextPageKey: ent.NextPageKey,
		SinceParam:  ent.SinceParam,
	}, prodToken, opts.Since)

	ck := crosswalk.Kind(kind)
	for stream.Next() {
		src := stream.Record()
		prodID := src.ID()
		if prodID == "" {
			s.logger.Warn("Skipping record with no id", zap.Any("source_data", src))
			continue
		}

		exists, err := s.store.Exists(ck, prodID)
		if err != nil {
			return summary, fmt.Errorf("crosswalk lookup for %s %s: %w", kind, prodID, err)
		}
		if exists {
			summary.Skipped++
		} else if err := s.processRecord(ctx, kind, ent, src, prodID, intToken, resolver, opts.DryRun); err != nil {
			summary.Errors++
			s.logger.Error("Failed to process record",
				zap.String("kind", kind),
				zap.String("prod_id", prodID),
				zap.Error(err))
		} else if !opts.DryRun {
			summary.Created++
		}

		summary.Processed++
		if opts.Limit > 0 && summary.Processed >= opts.Limit {
			s.logger.Info("Record limit reached", zap.Int("limit", opts.Limit))
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			return summary, err
		}
	}
	if err := stream.Err(); err != nil {
		s.logSummary(summary)
		return summary, fmt.Errorf("source stream failed: %w", err)
	}

	s.logSummary(summary)
	return summary, nil
}

// processRecord maps and creates one record. Any returned error is
// per-record: the caller counts it and moves on.
func (s *Syncer) processRecord(ctx context.Context, kind string, ent entities.EntityConfig, src record.Record, prodID, intToken string, resolver *resolve.Resolver, dryRun bool) error {
	var (
		payload    any
		createPath = ent.IntCreatePath
		// Purchase order creates send the plain body; the wrapper shim is
		// for the entity endpoints that want an envelope.
		wrapperRetry = true
	)

	switch kind {
	case "pos":
		po, err := s.mapper.PurchaseOrder(ctx, src, resolver)
		if err != nil {
			return err
		}
		payload = po
		createPath = poCreatePath
		wrapperRetry = false
	case "items":
		item, err := s.mapper.Item(src)
		if err != nil {
			return err
		}
		payload = item
	case "jobs":
		job, err := s.mapper.Job(src, s.translate)
		if err != nil {
			return err
		}
		payload = job
	default:
		return fmt.Errorf("unsupported kind: %s", kind)
	}

	if dryRun {
		s.logDryRun(kind, payload)
		return nil
	}

	created, err := s.client.Post(ctx, config.Integration, createPath, intToken, payload, wrapperRetry)
	if err != nil {
		return err
	}
	intID := created.ID()
	if intID == "" {
		return fmt.Errorf("create succeeded but no id returned for Prod %s", prodID)
	}
	if err := s.store.Put(crosswalk.Kind(kind), prodID, intID); err != nil {
		return err
	}
	s.logger.Info("Created record",
		zap.String("kind", kind),
		zap.String("prod_id", prodID),
		zap.String("int_id", intID))
	return nil
}

// CopyPurchaseOrder copies a single purchase order by Production id,
// ensuring its vendor, warehouse, and materials exist first.
// defaultWarehouseID, when positive, takes precedence over the configured
// fallback warehouse.
func (s *Syncer) CopyPurchaseOrder(ctx context.Context, poID string, defaultWarehouseID int64, opts Options) error {
	prodToken, err := s.auth.Token(ctx, config.Production)
	if err != nil {
		return err
	}
	intToken, err := s.auth.Token(ctx, config.Integration)
	if err != nil {
		return err
	}

	src, err := s.client.Get(ctx, config.Production, fmt.Sprintf(poByIDPath, poID), prodToken, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch Production PO %s: %w", poID, err)
	}

	resolver := resolve.New(s.client, s.store, s.settings, s.logger, prodToken, intToken, opts.DryRun)
	var deps mapper.Dependencies = resolver
	if defaultWarehouseID > 0 {
		deps = &warehouseOverride{Dependencies: resolver, id: defaultWarehouseID}
	}

	po, err := s.mapper.PurchaseOrder(ctx, src, deps)
	if err != nil {
		return err
	}

	if opts.DryRun {
		s.logDryRun("pos", po)
		return nil
	}

	created, err := s.client.Post(ctx, config.Integration, poCreatePath, intToken, po, false)
	if err != nil {
		return fmt.Errorf("create Integration PO failed: %w", err)
	}
	intID := created.ID()
	if intID == "" {
		if n, ok := created.Int64("purchaseOrderId"); ok {
			intID = strconv.FormatInt(n, 10)
		}
	}
	if intID == "" {
		s.logger.Warn("Create PO succeeded but no id returned", zap.String("prod_id", poID))
		return nil
	}
	prodID := firstNonEmpty(src.ID(), poID)
	if err := s.store.Put(crosswalk.KindPOs, prodID, intID); err != nil {
		return err
	}
	s.logger.Info("Created Integration PO",
		zap.String("int_id", intID),
		zap.String("prod_id", poID))
	return nil
}

// Verify authenticates against both environments and probes the Production
// items endpoint with a one-record page. Both authentications run
// concurrently; the run itself never issues concurrent requests.
func (s *Syncer) Verify(ctx context.Context) error {
	ent, err := s.entities.Entity("items")
	if err != nil {
		return err
	}

	p := pool.New().WithErrors()
	for _, env := range []config.Env{config.Production, config.Integration} {
		env := env
		p.Go(func() error {
			if _, err := s.auth.Token(ctx, env); err != nil {
				return fmt.Errorf("%s auth failed: %w", env, err)
			}
			s.logger.Info("Authentication OK", zap.String("environment", string(env)))
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	prodToken, err := s.auth.Token(ctx, config.Production)
	if err != nil {
		return err
	}
	if _, err := s.client.Get(ctx, config.Production, ent.ProdListPath, prodToken, map[string]string{
		"page":     "1",
		"pageSize": "1",
	}); err != nil {
		return fmt.Errorf("Production API test failed: %w", err)
	}
	s.logger.Info("Production API connection OK")
	return nil
}

// translate adapts the crosswalk to the job mapper's lookup callback. A
// store failure reads as no mapping.
func (s *Syncer) translate(kind, prodID string) (string, bool) {
	intID, ok, err := s.store.Get(crosswalk.Kind(kind), prodID)
	if err != nil {
		s.logger.Warn("Crosswalk lookup failed",
			zap.String("kind", kind),
			zap.String("prod_id", prodID),
			zap.Error(err))
		return "", false
	}
	return intID, ok
}

func (s *Syncer) logDryRun(kind string, payload any) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", payload))
	}
	s.logger.Info("DRY RUN - would create record",
		zap.String("kind", kind),
		zap.String("payload", string(raw)))
}

func (s *Syncer) logSummary(sum *Summary) {
	s.logger.Info("Sync summary",
		zap.String("run_id", sum.RunID),
		zap.String("kind", sum.Kind),
		zap.Int("processed", sum.Processed),
		zap.Int("created", sum.Created),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
		zap.Bool("dry_run", sum.DryRun),
		zap.Duration("duration", sum.Duration))
}

// warehouseOverride substitutes the fallback warehouse id for one copy.
type warehouseOverride struct {
	mapper.Dependencies
	id int64
}

func (w *warehouseOverride) DefaultWarehouseID() int64 { return w.id }

func stringParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
