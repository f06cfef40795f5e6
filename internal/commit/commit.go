// Package commit moves a staged chapter into the committed tree.
//
// A commit runs in three phases. Planning reads staging artifacts without the
// lock and produces the ordered action plan a dry run prints. Execution takes
// the project lock, opens a transaction, checks every gate and the state
// version, and only then mutates files; any failure rolls the transaction
// back and returns the original error. Post-commit audits run after the lock
// is released and can only add warnings.
package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/roach88/novel/internal/audit"
	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/journal"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/pipeline"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/report"
	"github.com/roach88/novel/internal/state"
	"github.com/roach88/novel/internal/txn"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultPeriodicEvery     = 5
	DefaultForeshadowWindow  = 10
	DefaultPrecomputeWorkers = 4
)

// Recorder persists a commit attempt. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options tunes an Engine.
type Options struct {
	Cadence           audit.Cadence
	PrecomputeWorkers int
	IDs               txn.IDGenerator
	Now               func() time.Time
	// Recorder is optional; nil disables the journal.
	Recorder Recorder
}

// Engine commits chapters of one project.
type Engine struct {
	proj   project.Project
	locker *lock.Locker
	store  *checkpoint.Store
	opts   Options

	// afterMoves runs once the staged files are in place. Tests use it to
	// inject a failure in the middle of the transaction.
	afterMoves func() error
}

// New wires an Engine.
func New(proj project.Project, locker *lock.Locker, store *checkpoint.Store, opts Options) *Engine {
	if opts.Cadence.PeriodicEvery <= 0 {
		opts.Cadence.PeriodicEvery = DefaultPeriodicEvery
	}
	if opts.Cadence.ForeshadowWindow <= 0 {
		opts.Cadence.ForeshadowWindow = DefaultForeshadowWindow
	}
	if opts.PrecomputeWorkers <= 0 {
		opts.PrecomputeWorkers = DefaultPrecomputeWorkers
	}
	if opts.IDs == nil {
		opts.IDs = txn.UUIDv7{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{proj: proj, locker: locker, store: store, opts: opts}
}

// Result describes a commit or dry run.
type Result struct {
	Chapter      int      `json:"chapter"`
	DryRun       bool     `json:"dry_run"`
	TxID         string   `json:"tx_id,omitempty"`
	Plan         []string `json:"plan"`
	Warnings     []string `json:"warnings"`
	Steps        []string `json:"steps,omitempty"`
	AuditWritten []string `json:"audit_written,omitempty"`
}

// plan is everything the planning phase learned.
type plan struct {
	chapter   int
	volume    int
	staging   project.ArtifactSet
	final     project.ArtifactSet
	delta     *state.Delta
	memory    string
	memoryDst string
	profile   *policy.Profile
	producers []report.Producer
	schedule  audit.Schedule
	lines     []string
	warnings  []string
}

// Commit commits chapter, or with dryRun only returns the plan.
func (e *Engine) Commit(ctx context.Context, chapter int, dryRun bool) (Result, error) {
	started := e.opts.Now()
	p, err := e.plan(chapter)
	if err != nil {
		return Result{Chapter: chapter, DryRun: dryRun}, err
	}
	res := Result{Chapter: chapter, DryRun: dryRun, Plan: p.lines, Warnings: p.warnings}
	if dryRun {
		res.TxID = e.opts.IDs.Generate()
		e.record(ctx, &res, journal.DryRun, nil, started)
		return res, nil
	}

	pc, warnings := report.Precompute(ctx, e.proj.Abs(p.staging.Chapter), p.producers, report.Input{
		Proj:    e.proj,
		Chapter: chapter,
		Profile: p.profile,
		Now:     started,
	}, e.opts.PrecomputeWorkers)
	res.Warnings = append(res.Warnings, warnings...)

	err = e.locker.WithLock(lock.Meta{Chapter: &chapter}, func(h *lock.Held) error {
		tx := txn.Begin(h, e.opts.IDs)
		res.TxID = tx.ID()
		if err := e.execute(h, tx, p, pc, &res); err != nil {
			res.Steps = tx.Steps()
			for _, rerr := range tx.Rollback() {
				res.Warnings = append(res.Warnings, "Rollback step failed: "+rerr.Error())
			}
			return err
		}
		res.Steps = tx.Steps()
		tx.Commit()
		return nil
	})
	if err != nil {
		if res.TxID != "" {
			e.record(ctx, &res, journal.RolledBack, err, started)
		}
		return res, err
	}

	var platform string
	if p.profile != nil {
		platform = p.profile.Platform
	}
	ar := audit.Run(e.proj, audit.Options{
		Chapter:  chapter,
		Schedule: p.schedule,
		Platform: platform,
		Now:      e.opts.Now,
	})
	res.AuditWritten = ar.Written
	res.Warnings = append(res.Warnings, ar.Warnings...)

	e.record(ctx, &res, journal.Committed, nil, started)
	return res, nil
}

func (e *Engine) record(ctx context.Context, res *Result, outcome journal.Outcome, cause error, started time.Time) {
	if e.opts.Recorder == nil {
		return
	}
	entry := journal.Entry{
		TxID:       res.TxID,
		Chapter:    res.Chapter,
		Outcome:    outcome,
		Plan:       res.Plan,
		Warnings:   res.Warnings,
		StartedAt:  started,
		FinishedAt: e.opts.Now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := e.opts.Recorder.Record(ctx, entry); err != nil {
		slog.Warn("failed to record commit in journal", "tx", res.TxID, "error", err)
		res.Warnings = append(res.Warnings, "Failed to record commit in journal: "+err.Error())
	}
}

func (e *Engine) plan(chapter int) (*plan, error) {
	if chapter < 1 {
		return nil, errs.Validation("invalid --chapter %d: must be an int >= 1", chapter)
	}
	cp, err := e.store.Read()
	if err != nil {
		return nil, err
	}
	p := &plan{
		chapter: chapter,
		volume:  cp.CurrentVolume,
		staging: project.Staging(chapter),
		final:   project.Final(chapter),
	}

	p.profile, err = policy.LoadProfile(e.proj)
	if err != nil {
		return nil, err
	}
	if p.profile == nil {
		p.warnings = append(p.warnings, "Missing "+project.ProfileFile+"; platform constraints will be skipped.")
	}
	cliche, err := report.LoadCliche(e.proj)
	if err != nil {
		return nil, err
	}
	if cliche == nil {
		p.warnings = append(p.warnings, "Missing "+project.ClicheFile+"; cliché lint will be skipped.")
	}
	p.producers = report.Producers(p.profile, cliche)
	p.schedule = audit.Plan(e.proj, p.volume, chapter, e.opts.Cadence)

	for _, rel := range []string{p.staging.Chapter, p.staging.Summary, p.staging.Delta, p.staging.Crossref, p.staging.Eval} {
		if err := e.requireFile(rel); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(e.proj.Abs(p.staging.Delta))
	if err != nil {
		return nil, err
	}
	if p.delta, err = state.ParseDelta(data, p.staging.Delta); err != nil {
		return nil, err
	}
	if p.delta.Chapter != chapter {
		p.warnings = append(p.warnings, fmt.Sprintf("Delta.chapter is %d, expected %d.", p.delta.Chapter, chapter))
	}
	p.memory = project.StagingMemory(p.delta.StorylineID)
	p.memoryDst = project.FinalMemory(p.delta.StorylineID)
	if err := e.requireFile(p.memory); err != nil {
		return nil, err
	}

	for _, mv := range p.moves() {
		p.lines = append(p.lines, "MOVE "+mv[0]+" -> "+mv[1])
	}
	p.lines = append(p.lines,
		"MERGE "+p.staging.Delta+" -> "+project.StateFile+" (+ append "+project.ChangelogFile+")",
		"UPDATE "+project.ForeshadowFile+" (from foreshadow ops)",
		"REMOVE "+p.staging.Delta,
	)
	for _, pr := range p.producers {
		p.lines = append(p.lines, report.PlanLines(pr.Spec(), chapter, p.final.Eval)...)
	}
	p.lines = append(p.lines, p.schedule.PlanLines()...)
	p.lines = append(p.lines, fmt.Sprintf("UPDATE %s (commit chapter %d)", project.CheckpointFile, chapter))
	return p, nil
}

// moves lists the staged files and their destinations, in move order.
func (p *plan) moves() [][2]string {
	return [][2]string{
		{p.staging.Chapter, p.final.Chapter},
		{p.staging.Summary, p.final.Summary},
		{p.staging.Eval, p.final.Eval},
		{p.staging.Crossref, p.final.Crossref},
		{p.memory, p.memoryDst},
	}
}

func (e *Engine) requireFile(rel string) error {
	info, err := os.Stat(e.proj.Abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return errs.Precondition("missing required file: %s", rel).With("path", rel)
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errs.Precondition("not a regular file: %s", rel).With("path", rel)
	}
	return nil
}

// execute performs every mutation through tx. Checks that can fail without
// touching disk all run before the first move.
func (e *Engine) execute(h *lock.Held, tx *txn.Tx, p *plan, pc *report.Precomputed, res *Result) error {
	warn := func(msg string) { res.Warnings = append(res.Warnings, msg) }

	cp, err := e.store.Read()
	if err != nil {
		return err
	}

	if err := e.checkHook(p, warn); err != nil {
		return err
	}

	st, err := state.Load(e.proj.Abs(project.StateFile))
	if err != nil {
		return err
	}
	if st.StateVersion != p.delta.BaseStateVersion {
		return errs.Precondition("State version mismatch: state.state_version=%d delta.base_state_version=%d",
			st.StateVersion, p.delta.BaseStateVersion).
			With("expected", strconv.Itoa(st.StateVersion)).
			With("actual", strconv.Itoa(p.delta.BaseStateVersion))
	}
	ops, dropped := state.DecodeOps(p.delta.Ops)
	for _, w := range dropped {
		warn(w)
	}
	applied, foreshadow, applyWarnings := st.Apply(ops)
	for _, w := range applyWarnings {
		warn(w)
	}
	st.StateVersion++
	st.LastUpdatedChapter = p.chapter

	reports, err := e.produce(p, pc, st)
	if err != nil {
		return err
	}

	for i, mv := range p.moves() {
		if i == len(p.moves())-1 {
			// The storyline note is replaced on every commit of that storyline.
			if err := tx.Remove(mv[1]); err != nil {
				return err
			}
		}
		if err := tx.Move(mv[0], mv[1]); err != nil {
			return err
		}
	}
	if e.afterMoves != nil {
		if err := e.afterMoves(); err != nil {
			return err
		}
	}

	stateData, err := st.Encode()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tx.WriteFile(project.StateFile, stateData); err != nil {
		return err
	}
	if err := tx.Append(project.ChangelogFile, p.delta.Line); err != nil {
		return err
	}
	warn(fmt.Sprintf("Applied %d state ops.", applied))

	if len(foreshadow) > 0 {
		if err := e.mergeForeshadow(tx, p, foreshadow, warn); err != nil {
			return err
		}
	}

	if err := tx.Remove(p.staging.Delta); err != nil {
		return err
	}

	for i, pr := range p.producers {
		if err := report.Write(tx, pr.Spec(), reports[i], p.final.Eval); err != nil {
			return err
		}
	}

	if err := tx.Protect(project.CheckpointFile); err != nil {
		return err
	}
	updated := cp.Clone()
	if updated.LastCompletedChapter >= p.chapter {
		warn(fmt.Sprintf("Checkpoint last_completed_chapter is already %d; leaving as-is.", updated.LastCompletedChapter))
	} else {
		updated.LastCompletedChapter = p.chapter
	}
	updated.PipelineStage = checkpoint.StageCommitted
	updated.SetInflight(0, false)
	updated.RevisionCount = 0
	updated.HookFixCount = 0
	updated.TitleFixCount = 0
	updated.LastCheckpointTime = e.opts.Now().UTC().Format(pipeline.TimeLayout)
	return e.store.Write(h, updated)
}

func (e *Engine) checkHook(p *plan, warn func(string)) error {
	hp := p.profile.Hook()
	if hp == nil || !hp.Required {
		return nil
	}
	var evalRaw any
	if err := project.ReadJSON(e.proj.Abs(p.staging.Eval), &evalRaw); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid %s", p.staging.Eval)
	}
	if obj, ok := evalRaw.(map[string]any); ok {
		if n, ok := intOf(obj["chapter"]); ok && n != p.chapter {
			warn(fmt.Sprintf("Eval.chapter is %d, expected %d.", n, p.chapter))
		}
	}
	hook := policy.CheckHook(hp, evalRaw)
	switch hook.Status {
	case policy.HookInvalidEval:
		return errs.Validation("Hook policy enabled but eval is missing required hook fields: %s", hook.Reason)
	case policy.HookFail:
		return errs.Policy("Hook policy violation: %s", hook.Reason).With("chapter", project.Pad3(p.chapter))
	}
	return nil
}

// produce resolves every report against the staged chapter. An enforced
// report with blocking issues aborts the commit before anything moves.
func (e *Engine) produce(p *plan, pc *report.Precomputed, st *state.State) ([]*report.Report, error) {
	if len(p.producers) == 0 {
		return nil, nil
	}
	text, err := os.ReadFile(e.proj.Abs(p.staging.Chapter))
	if err != nil {
		return nil, err
	}
	in := report.Input{
		Proj:    e.proj,
		Chapter: p.chapter,
		Text:    string(text),
		Profile: p.profile,
		State:   st,
		Now:     e.opts.Now(),
	}
	out := make([]*report.Report, 0, len(p.producers))
	for _, pr := range p.producers {
		r, err := pc.Resolve(pr, in)
		if err != nil {
			return nil, fmt.Errorf("%s report: %w", pr.Spec().Kind, err)
		}
		if pr.Spec().Enforced && r.HasBlockingIssues {
			return nil, report.BlockingError(r)
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) mergeForeshadow(tx *txn.Tx, p *plan, ops []state.ForeshadowOp, warn func(string)) error {
	reg := state.NewRegistry()
	data, err := os.ReadFile(e.proj.Abs(project.ForeshadowFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		parsed, perr := state.ParseRegistry(data, project.ForeshadowFile)
		if perr != nil {
			warn(fmt.Sprintf("Skipped foreshadowing update: %v", perr))
			return nil
		}
		reg = parsed
	}

	var seeds *state.Registry
	seedRel := project.VolumeForeshadowSeed(p.volume)
	if raw, err := os.ReadFile(e.proj.Abs(seedRel)); err == nil {
		if seeds, err = state.ParseRegistry(raw, seedRel); err != nil {
			warn(fmt.Sprintf("Ignoring invalid %s: %v", seedRel, err))
			seeds = nil
		}
	}

	reg.Merge(ops, p.chapter, p.delta.StorylineID, seeds)
	out, err := reg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", project.ForeshadowFile, err)
	}
	return tx.WriteFile(project.ForeshadowFile, out)
}

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case int:
		return n, true
	}
	return 0, false
}
