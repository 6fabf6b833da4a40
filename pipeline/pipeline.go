// Package pipeline sequences the per-subject stages: similarity scanning,
// group membership, chain-building registration, geodesic shooting
// interpolation and evaluation, for the variant template and optionally the
// unified template. Stages run in catalog order over a shared artifact
// store, so any completed work survives a crash and is skipped on the next
// invocation.
package pipeline

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe"
	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/engine"
	"github.com/hippocamp/thickpipe/overlap"
	"github.com/hippocamp/thickpipe/selector"
	"github.com/hippocamp/thickpipe/template"
)

// Stage numbers. The catalog is 1-based and ordered; a stage may consume
// only artifacts produced by lower-numbered stages.
const (
	StageAtlasReg = iota + 1
	StageMembership
	StageMultiReg
	StageMultiShoot
	StageMultiEval
	StageUniReg
	StageUniShoot
	StageUniEval

	FirstStage = StageAtlasReg
	LastStage  = StageUniEval

	// The default range stops after the variant-template evaluation; the
	// unified-template stages are opt-in.
	DefaultLastStage = StageMultiEval
)

// A Subject identifies one run: an anatomical ID and one side. A single
// invocation processes exactly one side; bilateral processing is two
// independent runs.
type Subject struct {
	ID   string
	Side string
}

// Config is the immutable per-run configuration, resolved once before any
// stage executes.
type Config struct {
	Subject Subject

	InputDir    string
	TemplateDir string
	OutputDir   string

	Threads int

	// Classifier overrides the built-in nearest-neighbor membership vote;
	// nil selects selector.Nearest.
	Classifier selector.Classifier

	// Overlap compares two segmentation volumes; nil selects the in-process
	// NIfTI reader.
	Overlap func(a, b string) (overlap.Result, error)
}

// A Run holds everything the stage functions close over: the resolved
// configuration, the loaded template, the artifact store rooted at the
// subject's working directory, and the tool adapters.
type Run struct {
	cfg   Config
	tpl   template.Config
	store *artifact.Store
	eng   engine.Engines

	classifier selector.Classifier
	overlap    func(a, b string) (overlap.Result, error)
	subjectSeg string
}

// New resolves and validates the run's inputs: side, subject segmentation,
// template directory. Any defect is reported here, before a stage is
// attempted.
func New(cfg Config, eng engine.Engines) (*Run, error) {
	if cfg.Subject.Side != "left" && cfg.Subject.Side != "right" {
		return nil, pfx.Err(fmt.Errorf("side must be left or right, got %q", cfg.Subject.Side))
	}

	seg, err := thickpipe.FindSegmentation(cfg.InputDir, cfg.Subject.ID, cfg.Subject.Side)
	if err != nil {
		return nil, err
	}

	tpl, err := template.Load(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}

	store, err := artifact.NewStore(filepath.Join(cfg.OutputDir, "work", cfg.Subject.ID+"_"+cfg.Subject.Side))
	if err != nil {
		return nil, err
	}

	cl := cfg.Classifier
	if cl == nil {
		cl = selector.Nearest{}
	}

	ov := cfg.Overlap
	if ov == nil {
		ov = func(a, b string) (overlap.Result, error) {
			return overlap.DoPair(a, b, tpl.RegionGroups)
		}
	}

	return &Run{
		cfg:        cfg,
		tpl:        tpl,
		store:      store,
		eng:        eng,
		classifier: cl,
		overlap:    ov,
		subjectSeg: seg,
	}, nil
}

// ReportPath is where the terminal thickness CSV lands, outside the working
// directory so it survives Tidy.
func (r *Run) ReportPath() string {
	return filepath.Join(r.cfg.OutputDir, fmt.Sprintf("%s_%s_thickness.csv", r.cfg.Subject.ID, r.cfg.Subject.Side))
}

// Tidy removes the subject's working directory. Terminal outputs have
// already been copied next to the report by the evaluation stages.
func (r *Run) Tidy() error {
	return r.store.Tidy()
}

type stage struct {
	num  int
	name string
	run  func(*Run) error

	// prereqs are artifacts this stage consumes that only lower-numbered
	// stages produce.
	prereqs func(*Run) []string

	// outputs are the artifacts later stages may name as prereqs.
	outputs func(*Run) []string
}

func none(*Run) []string { return nil }

func (r *Run) stages() []stage {
	return []stage{
		{
			num: StageAtlasReg, name: "atlasreg",
			run:     (*Run).stageAtlasReg,
			prereqs: none,
			outputs: func(r *Run) []string { return []string{r.simRowPath()} },
		},
		{
			num: StageMembership, name: "membership",
			run:     (*Run).stageMembership,
			prereqs: func(r *Run) []string { return []string{r.simRowPath()} },
			outputs: func(r *Run) []string { return []string{r.membershipPath()} },
		},
		{
			num: StageMultiReg, name: "multireg",
			run:     (*Run).stageMultiReg,
			prereqs: func(r *Run) []string { return []string{r.membershipPath()} },
			outputs: func(r *Run) []string { return []string{r.chainPath("multireg")} },
		},
		{
			num: StageMultiShoot, name: "multishoot",
			run:     (*Run).stageMultiShoot,
			prereqs: func(r *Run) []string { return []string{r.membershipPath(), r.chainPath("multireg")} },
			outputs: func(r *Run) []string { return r.shootOutputs("multishoot") },
		},
		{
			num: StageMultiEval, name: "multieval",
			run:     (*Run).stageMultiEval,
			prereqs: func(r *Run) []string { return append(r.shootOutputs("multishoot"), r.membershipPath()) },
			outputs: func(r *Run) []string { return r.evalOutputs("multieval") },
		},
		{
			num: StageUniReg, name: "unireg",
			run:     (*Run).stageUniReg,
			prereqs: func(r *Run) []string { return []string{r.membershipPath(), r.chainPath("multireg")} },
			outputs: func(r *Run) []string { return []string{r.chainPath("unireg")} },
		},
		{
			num: StageUniShoot, name: "unishoot",
			run:     (*Run).stageUniShoot,
			prereqs: func(r *Run) []string { return []string{r.membershipPath(), r.chainPath("unireg")} },
			outputs: func(r *Run) []string { return r.shootOutputs("unishoot") },
		},
		{
			num: StageUniEval, name: "unieval",
			run:     (*Run).stageUniEval,
			prereqs: func(r *Run) []string { return append(r.shootOutputs("unishoot"), r.membershipPath()) },
			outputs: func(r *Run) []string { return r.evalOutputs("unieval") },
		},
	}
}

// Execute runs stages [start, end] in order, fail-fast. Prerequisites of
// every stage in the range are validated up front: each must either already
// exist on disk or be produced by an earlier stage within the range, so a
// doomed range is rejected before any work starts.
func (r *Run) Execute(start, end int) error {
	if start < FirstStage || end > LastStage || end < start {
		return pfx.Err(fmt.Errorf("stage range [%d, %d] outside catalog [%d, %d]", start, end, FirstStage, LastStage))
	}

	stages := r.stages()

	if err := r.validate(stages, start, end); err != nil {
		return err
	}

	for _, st := range stages[start-1 : end] {
		began := time.Now()
		log.Printf("stage %d (%s) starting for %s/%s", st.num, st.name, r.cfg.Subject.ID, r.cfg.Subject.Side)

		if err := st.run(r); err != nil {
			// %w so the caller can recover a RunError's exit status
			return fmt.Errorf("stage %d (%s): %w", st.num, st.name, err)
		}

		log.Printf("stage %d (%s) completed in %s", st.num, st.name, time.Since(began))
	}

	return nil
}

func (r *Run) validate(stages []stage, start, end int) error {
	produced := make(map[string]bool)

	for _, st := range stages[start-1 : end] {
		var missing []string
		for _, p := range st.prereqs(r) {
			if produced[p] || r.store.Has(p) {
				continue
			}

			missing = append(missing, p)
		}

		if len(missing) > 0 {
			return &artifact.MissingPrereq{Stage: st.name, Paths: missing}
		}

		for _, p := range st.outputs(r) {
			produced[p] = true
		}
	}

	return nil
}

// ParseStages parses a stage range: empty selects the default range, "N" a
// single stage, "A-B" an inclusive range. Numeric endpoints outside the
// catalog are clamped to it.
func ParseStages(s string) (start, end int, err error) {
	if s == "" {
		return FirstStage, DefaultLastStage, nil
	}

	parts := strings.SplitN(s, "-", 2)

	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, pfx.Err(fmt.Errorf("invalid stage range %q: %w", s, err))
	}

	end = start
	if len(parts) == 2 {
		end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, pfx.Err(fmt.Errorf("invalid stage range %q: %w", s, err))
		}
	}

	start = clampStage(start)
	end = clampStage(end)

	if end < start {
		return 0, 0, pfx.Err(fmt.Errorf("invalid stage range %q: end before start", s))
	}

	return start, end, nil
}

func clampStage(n int) int {
	if n < FirstStage {
		return FirstStage
	}
	if n > LastStage {
		return LastStage
	}

	return n
}
