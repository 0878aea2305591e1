package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hdv-bca/decision/damages"
	"hdv-bca/decision/delta"
	"hdv-bca/decision/discount"
	"hdv-bca/decision/fleet"
	"hdv-bca/decision/inputs"
	"hdv-bca/decision/learning"
	"hdv-bca/decision/markup"
	"hdv-bca/decision/operating"
	"hdv-bca/decision/repair"
	"hdv-bca/decision/summary"
	"hdv-bca/decision/weighted"
	bcaerrors "hdv-bca/pkg/errors"
	"hdv-bca/pkg/weighting"
)

// RunContext bundles everything one run reads. Nothing in a run is shared
// with another run.
type RunContext struct {
	ID        uuid.UUID
	Config    RunConfig
	Reference *inputs.Reference
	Fleet     *fleet.Store
	Logger    zerolog.Logger
}

// NewRunContext validates cfg and assigns a run ID.
func NewRunContext(cfg RunConfig, ref *inputs.Reference, fs *fleet.Store, logger zerolog.Logger) (*RunContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, bcaerrors.NewInputError("reference data", "not loaded")
	}
	if fs == nil {
		return nil, bcaerrors.NewInputError("fleet activity", "not loaded")
	}
	id := uuid.New()
	return &RunContext{
		ID:        id,
		Config:    cfg,
		Reference: ref,
		Fleet:     fs,
		Logger:    logger.With().Str("run_id", id.String()).Str("run_name", cfg.RunName).Logger(),
	}, nil
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// AuditTrail records when and how a run was produced.
type AuditTrail struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageTiming `json:"stages"`
}

// Result holds the stores produced by a run.
type Result struct {
	RunID    uuid.UUID
	RunName  string
	Config   RunConfig
	Fleet    *fleet.Store
	Learning *learning.Table
	Summary  *summary.Store
	Weighted *weighted.Store
	Audit    AuditTrail
}

// ages are the estimated provision ages of one vehicle, option and model year.
type ages struct {
	warranty   float64
	usefulLife float64
}

type runner struct {
	rc     *RunContext
	cfg    RunConfig
	ref    *inputs.Reference
	fs     *fleet.Store
	logger zerolog.Logger

	learning *learning.Table
	ages     map[repair.VMTKey]ages
	scalers  map[repair.VMTKey]float64
	oem      map[repair.VMTKey]float64
	summary  *summary.Store
	weighted *weighted.Store
}

type stage struct {
	name string
	run  func() error
}

// Run executes every stage in order. A run either completes or returns the
// first error; there are no partial results.
func Run(ctx context.Context, rc *RunContext) (*Result, error) {
	r := &runner{
		rc:     rc,
		cfg:    rc.Config,
		ref:    rc.Reference,
		fs:     rc.Fleet,
		logger: rc.Logger,
	}
	audit := AuditTrail{StartedAt: time.Now()}

	stages := []stage{
		{"validate", r.validate},
		{"activity", r.activity},
		{"learning", r.learn},
		{"direct_cost", r.directCost},
		{"estimated_ages", r.estimateAges},
		{"emission_repair", r.emissionRepair},
		{"indirect_cost", r.indirectCost},
		{"fuel", r.fuel},
		{"def", r.def},
		{"damages", r.damages},
		{"rollups", r.rollups},
		{"weighted_cpm", r.weightedCPM},
		{"discounting", r.discount},
		{"summary", r.summarize},
		{"deltas", r.deltas},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled before %s: %w", s.name, err)
		}
		start := time.Now()
		if err := s.run(); err != nil {
			r.logger.Error().Err(err).Str("stage", s.name).Msg("stage failed")
			return nil, fmt.Errorf("stage %s failed: %w", s.name, err)
		}
		audit.Stages = append(audit.Stages, StageTiming{Name: s.name, Duration: time.Since(start)})
	}
	audit.FinishedAt = time.Now()

	r.logger.Info().
		Int("fleet_records", r.fs.Len()).
		Int("summary_records", r.summary.Len()).
		Dur("elapsed", audit.FinishedAt.Sub(audit.StartedAt)).
		Msg("run complete")

	return &Result{
		RunID:    rc.ID,
		RunName:  r.cfg.RunName,
		Config:   r.cfg,
		Fleet:    r.fs,
		Learning: r.learning,
		Summary:  r.summary,
		Weighted: r.weighted,
		Audit:    audit,
	}, nil
}

func (r *runner) validate() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	for _, id := range r.fs.Options() {
		if _, ok := r.cfg.Options[id]; !ok {
			return bcaerrors.NewInputError("fleet activity", fmt.Sprintf("option %d is not configured", id))
		}
	}
	for id, name := range r.cfg.Options {
		r.fs.SetOptionName(id, name)
	}
	return nil
}

// vehicleKey reduces a fleet key to its vehicle, option and model year.
func vehicleKey(k fleet.Key) (repair.VMTKey, bool) {
	v, ok := k.Segment.(fleet.Vehicle)
	if !ok {
		return repair.VMTKey{}, false
	}
	return repair.VMTKey{Vehicle: v, OptionID: k.OptionID, ModelYear: k.ModelYear}, true
}

func (r *runner) activity() error {
	for _, rec := range r.fs.NominalRecords() {
		rec.Set(fleet.FieldVMTPerVeh, weighting.PerUnit(rec.Get(fleet.FieldVMT), rec.Get(fleet.FieldVPOP)))
	}
	return nil
}

func (r *runner) learn() error {
	m := &learning.Model{
		SeedVolumeFactor: r.cfg.Learning.SeedVolumeFactor,
		LearningRate:     r.cfg.Learning.LearningRate,
		NoActionOptionID: r.cfg.NoActionOptionID,
		Logger:           r.logger,
	}
	t, err := m.Build(r.fs, r.ref.PackageList())
	if err != nil {
		return err
	}
	r.learning = t
	return nil
}

// directCost prices each vehicle at sale. The per-vehicle cost is carried at
// every age; the total is charged at age 0 only.
func (r *runner) directCost() error {
	for _, rec := range r.fs.NominalRecords() {
		k := rec.Key
		perVeh, err := r.learning.UnitCost(k.Segment, k.OptionID, k.ModelYear)
		if err != nil {
			return err
		}
		rec.Set(fleet.FieldDirectCostPerVeh, perVeh)
		rec.Set(fleet.FieldDirectCost, atSale(k, perVeh*rec.Get(fleet.FieldVPOP)))
	}
	r.logger.Info().Int("records", r.fs.Len()).Msg("computed direct costs")
	return nil
}

func atSale(k fleet.Key, v float64) float64 {
	if k.Age != 0 {
		return 0
	}
	return v
}

func (r *runner) referenceEngine() fleet.Engine {
	return fleet.Engine{RegClassID: r.cfg.Repair.ReferenceRegClassID, FuelTypeID: r.cfg.Repair.ReferenceFuelTypeID}
}

// estimateAges computes the typical VMT, the estimated warranty and
// useful-life ages and the direct-cost ratio to the reference engine of
// every vehicle, option and model year.
func (r *runner) estimateAges() error {
	typical, err := repair.TypicalVMT{
		Horizon: r.cfg.Repair.TypicalVMTHorizon,
		Strict:  r.cfg.Repair.StrictVMTBoundary,
	}.Compute(r.fs)
	if err != nil {
		return err
	}

	refEngine := r.referenceEngine()
	r.ages = make(map[repair.VMTKey]ages, len(typical))
	r.scalers = make(map[repair.VMTKey]float64, len(typical))
	for k, vmt := range typical {
		e := k.Vehicle.Engine()
		w, err := r.ref.Requirement(e, k.OptionID, k.ModelYear, inputs.ProvisionWarranty)
		if err != nil {
			return err
		}
		ul, err := r.ref.Requirement(e, k.OptionID, k.ModelYear, inputs.ProvisionUsefulLife)
		if err != nil {
			return err
		}
		r.ages[k] = ages{
			warranty:   repair.EstimatedAge(w.Age, w.Miles, vmt),
			usefulLife: repair.EstimatedAge(ul.Age, ul.Miles, vmt),
		}

		segCost, err := r.learning.UnitCost(k.Vehicle, k.OptionID, k.ModelYear)
		if err != nil {
			return err
		}
		refCost, err := r.learning.UnitCost(refEngine, r.cfg.NoActionOptionID, k.ModelYear)
		if err != nil {
			return fmt.Errorf("failed to price reference engine: %w", err)
		}
		if refCost == 0 {
			return bcaerrors.NewDivideByZeroError("repair cost scaling",
				fmt.Sprintf("%s/opt=%d/my=%d", refEngine, r.cfg.NoActionOptionID, k.ModelYear))
		}
		r.scalers[k] = segCost / refCost
	}
	r.logger.Info().Int("segments", len(r.ages)).Msg("estimated warranty and useful-life ages")
	return nil
}

// activityPerVeh is the per-vehicle activity the repair curve is rated on.
func (r *runner) activityPerVeh(rec *fleet.Record) float64 {
	if r.cfg.Repair.Basis == RepairPerHour {
		return weighting.PerUnit(rec.Get(fleet.FieldSourceHours), rec.Get(fleet.FieldVPOP))
	}
	return rec.Get(fleet.FieldVMTPerVeh)
}

func (r *runner) emissionRepair() error {
	split := r.cfg.WarrantyApproach == WarrantyRepairSplit
	r.oem = make(map[repair.VMTKey]float64)

	for _, rec := range r.fs.NominalRecords() {
		vk, ok := vehicleKey(rec.Key)
		if !ok {
			continue
		}
		a, ok := r.ages[vk]
		if !ok {
			return bcaerrors.NewMissingKeyError("estimated ages", vk)
		}
		curve := repair.NewCurve(r.ref.RepairCurve, r.cfg.Repair.EmissionRepairShare, r.scalers[vk], a.warranty, a.usefulLife)
		activity := r.activityPerVeh(rec)

		var perVeh float64
		if split {
			s := curve.SplitCostPerMile(rec.Key.Age)
			perVeh = s.Owner * activity
			r.oem[vk] += s.OEM * activity
		} else {
			perVeh = curve.CostPerMile(rec.Key.Age) * activity
		}
		total := perVeh * rec.Get(fleet.FieldVPOP)
		rec.Set(fleet.FieldEmissionRepairCostPerVeh, perVeh)
		rec.Set(fleet.FieldEmissionRepairCost, total)
		rec.Set(fleet.FieldEmissionRepairCostPerMile, weighting.PerUnit(total, rec.Get(fleet.FieldVMT)))
	}
	r.logger.Info().Bool("split", split).Str("basis", string(r.cfg.Repair.Basis)).Msg("computed emission repair costs")
	return nil
}

// indirectCost applies the markup factors. The warranty component is replaced
// according to the configured warranty approach.
func (r *runner) indirectCost() error {
	m := &markup.Model{
		Config:       r.cfg.Markups,
		Factors:      r.ref.MarkupFactors,
		Requirements: r.ref,
		Logger:       r.logger,
	}
	for _, rec := range r.fs.NominalRecords() {
		k := rec.Key
		b, err := m.Indirect(k.Segment, k.OptionID, k.ModelYear, rec.Get(fleet.FieldDirectCostPerVeh))
		if err != nil {
			return err
		}
		if vk, ok := vehicleKey(k); ok {
			switch r.cfg.WarrantyApproach {
			case WarrantyDollarsPerYear:
				b.Warranty = markup.WarrantyDollars(r.ref.WarrantyBase.CostPerYear, r.scalers[vk], r.ages[vk].warranty)
			case WarrantyRepairSplit:
				b.Warranty = r.oem[vk]
			}
		}

		vpop := rec.Get(fleet.FieldVPOP)
		for field, v := range b.Fields() {
			rec.Set(field, v)
		}
		rec.Set(fleet.FieldWarrantyCost, atSale(k, b.Warranty*vpop))
		rec.Set(fleet.FieldRnDCost, atSale(k, b.RnD*vpop))
		rec.Set(fleet.FieldOtherCost, atSale(k, b.Other*vpop))
		rec.Set(fleet.FieldProfitCost, atSale(k, b.Profit*vpop))
		rec.Set(fleet.FieldIndirectCost, atSale(k, b.Total()*vpop))
	}
	r.logger.Info().Str("warranty_approach", string(r.cfg.WarrantyApproach)).Msg("computed indirect costs")
	return nil
}

func (r *runner) operatingCalculator() *operating.Calculator {
	return &operating.Calculator{Prices: r.ref, NoActionOptionID: r.cfg.NoActionOptionID, Logger: r.logger}
}

func (r *runner) fuel() error { return r.operatingCalculator().Fuel(r.fs) }

func (r *runner) def() error { return r.operatingCalculator().DEF(r.fs) }

func (r *runner) damages() error {
	if !r.cfg.CalcPollution {
		return nil
	}
	c := &damages.Calculator{Costs: r.ref, Rates: r.cfg.DamageRates, Logger: r.logger}
	return c.Apply(r.fs)
}

func (r *runner) rollups() error {
	for _, rec := range r.fs.NominalRecords() {
		vpop := rec.Get(fleet.FieldVPOP)
		tech := rec.Get(fleet.FieldDirectCost) + rec.Get(fleet.FieldIndirectCost)
		op := rec.Get(fleet.FieldFuelCostPretax) + rec.Get(fleet.FieldDEFCost) + rec.Get(fleet.FieldEmissionRepairCost)

		rec.Set(fleet.FieldTechCost, tech)
		rec.Set(fleet.FieldTechCostPerVeh, rec.Get(fleet.FieldDirectCostPerVeh)+rec.Get(fleet.FieldIndirectCostPerVeh))
		rec.Set(fleet.FieldOperatingCost, op)
		rec.Set(fleet.FieldOperatingCostPerVeh, weighting.PerUnit(op, vpop))
		rec.Set(fleet.FieldOperatingCostPerMile, weighting.PerUnit(op, rec.Get(fleet.FieldVMT)))
		rec.Set(fleet.FieldTechAndOperatingCost, tech+op)
	}
	return nil
}

func (r *runner) weightedCPM() error {
	c := &weighted.Calculator{MaxAge: r.cfg.WeightedMaxAge, Logger: r.logger}
	ws, err := c.Build(r.fs)
	if err != nil {
		return err
	}
	r.weighted = ws
	return nil
}

func (r *runner) socialRates() []float64 {
	if !r.cfg.Discounting.Enabled {
		return nil
	}
	return r.cfg.Discounting.SocialRates
}

func (r *runner) discount() error {
	rates := r.socialRates()
	if len(rates) == 0 {
		r.logger.Info().Msg("discounting disabled")
		return nil
	}
	e := &discount.Engine{
		Rates:    rates,
		BaseYear: r.cfg.Discounting.BaseYear,
		Timing:   r.cfg.Timing(),
		Logger:   r.logger,
	}
	_, err := e.Apply(r.fs)
	return err
}

func (r *runner) summarize() error {
	rates := r.socialRates()
	if len(rates) == 0 {
		rates = []float64{0}
	}
	e := &summary.Engine{
		Rates:    rates,
		BaseYear: r.cfg.Discounting.BaseYear,
		Timing:   r.cfg.Timing(),
		Logger:   r.logger,
	}
	ss, err := e.Build(r.fs)
	if err != nil {
		return err
	}
	r.summary = ss
	return nil
}

func (r *runner) deltas() error {
	if !r.cfg.CalcDeltas {
		return nil
	}
	e := &delta.Engine{NoActionOptionID: r.cfg.NoActionOptionID, Logger: r.logger}
	if _, err := e.Fleet(r.fs); err != nil {
		return err
	}
	if _, err := e.Summary(r.summary); err != nil {
		return err
	}
	_, err := e.Weighted(r.weighted)
	return err
}
